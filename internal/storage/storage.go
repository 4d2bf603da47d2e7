package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kjstillabower/weather-data-service/internal/models"
)

// ErrPersistenceFailed marks cache write failures. A failed write aborts the
// request that produced the record; read failures never do.
var ErrPersistenceFailed = errors.New("persistence failed")

// Entry is a cached weather record together with its storage coordinates.
type Entry struct {
	Record    models.WeatherRecord
	Location  string
	Timestamp time.Time
}

// Age reports how long ago the entry was written.
func (e Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.Timestamp)
}

// Store persists weather records keyed by place and write time.
type Store interface {
	// Write persists record and returns its storage location.
	Write(ctx context.Context, record models.WeatherRecord) (string, error)

	// ReadFresh returns the newest entry for place no older than maxAge.
	// ok is false on a miss. err is non-nil only when the backend itself
	// failed; callers treat that as a miss as well.
	ReadFresh(ctx context.Context, place string, maxAge time.Duration) (entry Entry, ok bool, err error)

	// PurgeExpired removes entries older than maxAge and reports how many
	// were removed. Safe to call repeatedly.
	PurgeExpired(ctx context.Context, maxAge time.Duration) (int, error)

	// IsHealthy probes the backend with a cheap round trip.
	IsHealthy(ctx context.Context) bool
}

const tsLayout = "20060102_150405"

// placeKey derives the storage key prefix for a place: the first 12 hex chars
// of the MD5 of the trimmed, lowercased name. Keys stay uniform and free of
// characters unsafe in file paths and object keys.
func placeKey(place string) string {
	normalized := strings.ToLower(strings.TrimSpace(place))
	sum := md5.Sum([]byte(normalized))
	return hex.EncodeToString(sum[:])[:12]
}

// entryName builds "<placeKey>_<YYYYMMDD_HHMMSS>.json". Lexicographic order of
// names for one place matches chronological order.
func entryName(place string, ts time.Time) string {
	return fmt.Sprintf("%s_%s.json", placeKey(place), ts.UTC().Format(tsLayout))
}

// entryTimestamp parses the UTC timestamp embedded in an entry name.
func entryTimestamp(name string) (time.Time, bool) {
	base := strings.TrimSuffix(name, ".json")
	if base == name {
		return time.Time{}, false
	}
	// The place key never contains an underscore, so the first one separates
	// key from timestamp.
	i := strings.IndexByte(base, '_')
	if i < 0 {
		return time.Time{}, false
	}
	ts, err := time.ParseInLocation(tsLayout, base[i+1:], time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// envelope is the stored JSON document.
type envelope struct {
	Place     string               `json:"place"`
	Timestamp time.Time            `json:"timestamp"`
	Record    models.WeatherRecord `json:"record"`
}
