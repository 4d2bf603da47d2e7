package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-data-service/internal/models"
)

// FileStore keeps one JSON file per cached record under a base directory.
type FileStore struct {
	baseDir string
	logger  *zap.Logger
	now     func() time.Time
}

// NewFileStore creates the base directory if needed.
func NewFileStore(baseDir string, logger *zap.Logger) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory %s: %w", baseDir, err)
	}
	return &FileStore{baseDir: baseDir, logger: logger, now: time.Now}, nil
}

func (s *FileStore) Write(ctx context.Context, record models.WeatherRecord) (string, error) {
	now := s.now().UTC()
	doc := envelope{Place: record.Place, Timestamp: now, Record: record}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("%w: encode record for %q: %v", ErrPersistenceFailed, record.Place, err)
	}
	path := filepath.Join(s.baseDir, entryName(record.Place, now))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("%w: write %s: %v", ErrPersistenceFailed, path, err)
	}
	s.logger.Debug("cache entry written",
		zap.String("place", record.Place),
		zap.String("path", path))
	return path, nil
}

func (s *FileStore) ReadFresh(ctx context.Context, place string, maxAge time.Duration) (Entry, bool, error) {
	dirEntries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return Entry{}, false, fmt.Errorf("list storage directory: %w", err)
	}

	prefix := placeKey(place) + "_"
	var candidates []string
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasPrefix(de.Name(), prefix) {
			continue
		}
		candidates = append(candidates, de.Name())
	}
	sort.Sort(sort.Reverse(sort.StringSlice(candidates)))

	now := s.now().UTC()
	for _, name := range candidates {
		ts, ok := entryTimestamp(name)
		if !ok || now.Sub(ts) > maxAge {
			continue
		}
		path := filepath.Join(s.baseDir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn("cache entry unreadable, skipping",
				zap.String("path", path), zap.Error(err))
			continue
		}
		var doc envelope
		if err := json.Unmarshal(data, &doc); err != nil {
			s.logger.Warn("cache entry corrupt, skipping",
				zap.String("path", path), zap.Error(err))
			continue
		}
		return Entry{Record: doc.Record, Location: path, Timestamp: doc.Timestamp}, true, nil
	}
	return Entry{}, false, nil
}

func (s *FileStore) PurgeExpired(ctx context.Context, maxAge time.Duration) (int, error) {
	dirEntries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return 0, fmt.Errorf("list storage directory: %w", err)
	}

	cutoff := s.now().UTC().Add(-maxAge)
	removed := 0
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".json") {
			continue
		}
		ts, ok := entryTimestamp(de.Name())
		if !ok {
			// Unparsable name: fall back to the modification time.
			info, err := de.Info()
			if err != nil {
				continue
			}
			ts = info.ModTime().UTC()
		}
		if !ts.Before(cutoff) {
			continue
		}
		path := filepath.Join(s.baseDir, de.Name())
		if err := os.Remove(path); err != nil {
			if !os.IsNotExist(err) {
				s.logger.Warn("purge: remove failed",
					zap.String("path", path), zap.Error(err))
			}
			continue
		}
		removed++
	}
	return removed, nil
}

// IsHealthy verifies the directory is writable by round-tripping a probe file.
func (s *FileStore) IsHealthy(ctx context.Context) bool {
	probe := filepath.Join(s.baseDir, ".health_probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return false
	}
	_ = os.Remove(probe)
	return true
}
