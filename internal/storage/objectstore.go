package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-data-service/internal/models"
)

// ObjectStore keeps one JSON object per cached record under a key prefix in a
// bucket. Works against AWS S3 and MinIO.
type ObjectStore struct {
	client *minio.Client
	bucket string
	prefix string
	logger *zap.Logger
	now    func() time.Time
}

// ObjectStoreConfig carries connection settings for NewObjectStore.
type ObjectStoreConfig struct {
	Endpoint  string
	Region    string
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

func NewObjectStore(cfg ObjectStoreConfig, logger *zap.Logger) (*ObjectStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object storage %s: %w", cfg.Endpoint, err)
	}
	return &ObjectStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		logger: logger,
		now:    time.Now,
	}, nil
}

func (s *ObjectStore) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return s.prefix + "/" + name
}

func (s *ObjectStore) location(key string) string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, key)
}

func (s *ObjectStore) Write(ctx context.Context, record models.WeatherRecord) (string, error) {
	now := s.now().UTC()
	doc := envelope{Place: record.Place, Timestamp: now, Record: record}
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("%w: encode record for %q: %v", ErrPersistenceFailed, record.Place, err)
	}
	key := s.key(entryName(record.Place, now))
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return "", fmt.Errorf("%w: put %s: %v", ErrPersistenceFailed, s.location(key), err)
	}
	s.logger.Debug("cache object written",
		zap.String("place", record.Place),
		zap.String("key", key))
	return s.location(key), nil
}

func (s *ObjectStore) ReadFresh(ctx context.Context, place string, maxAge time.Duration) (Entry, bool, error) {
	prefix := s.key(placeKey(place) + "_")
	var keys []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return Entry{}, false, fmt.Errorf("list objects under %s: %w", prefix, obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))

	now := s.now().UTC()
	for _, key := range keys {
		ts, ok := entryTimestamp(path.Base(key))
		if !ok || now.Sub(ts) > maxAge {
			continue
		}
		doc, err := s.fetch(ctx, key)
		if err != nil {
			s.logger.Warn("cache object unreadable, skipping",
				zap.String("key", key), zap.Error(err))
			continue
		}
		return Entry{Record: doc.Record, Location: s.location(key), Timestamp: doc.Timestamp}, true, nil
	}
	return Entry{}, false, nil
}

func (s *ObjectStore) fetch(ctx context.Context, key string) (envelope, error) {
	var doc envelope
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return doc, err
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return doc, err
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, err
	}
	return doc, nil
}

func (s *ObjectStore) PurgeExpired(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := s.now().UTC().Add(-maxAge)
	listPrefix := ""
	if s.prefix != "" {
		listPrefix = s.prefix + "/"
	}

	var expired []minio.ObjectInfo
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: listPrefix, Recursive: true}) {
		if obj.Err != nil {
			return 0, fmt.Errorf("list objects for purge: %w", obj.Err)
		}
		ts, ok := entryTimestamp(path.Base(obj.Key))
		if !ok {
			ts = obj.LastModified.UTC()
		}
		if ts.Before(cutoff) {
			expired = append(expired, obj)
		}
	}
	if len(expired) == 0 {
		return 0, nil
	}

	objectsCh := make(chan minio.ObjectInfo, len(expired))
	for _, obj := range expired {
		objectsCh <- obj
	}
	close(objectsCh)

	removed := len(expired)
	for rerr := range s.client.RemoveObjects(ctx, s.bucket, objectsCh, minio.RemoveObjectsOptions{}) {
		s.logger.Warn("purge: remove failed",
			zap.String("key", rerr.ObjectName), zap.Error(rerr.Err))
		removed--
	}
	return removed, nil
}

// IsHealthy checks the bucket is reachable and exists.
func (s *ObjectStore) IsHealthy(ctx context.Context) bool {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	return err == nil && exists
}
