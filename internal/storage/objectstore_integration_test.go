//go:build integration

package storage

// Integration tests against a live MinIO or S3 endpoint. Run with:
//
//	S3_TEST_ENDPOINT=localhost:9000 S3_TEST_BUCKET=weather-cache \
//	S3_TEST_ACCESS_KEY=minioadmin S3_TEST_SECRET_KEY=minioadmin \
//	go test -tags=integration ./internal/storage/

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func newIntegrationStore(t *testing.T) *ObjectStore {
	t.Helper()
	endpoint := os.Getenv("S3_TEST_ENDPOINT")
	if endpoint == "" {
		t.Skip("S3_TEST_ENDPOINT not set; skipping object storage integration tests")
	}
	bucket := os.Getenv("S3_TEST_BUCKET")
	if bucket == "" {
		t.Skip("S3_TEST_BUCKET not set; skipping object storage integration tests")
	}

	store, err := NewObjectStore(ObjectStoreConfig{
		Endpoint:  endpoint,
		Bucket:    bucket,
		Prefix:    "it-" + uuid.NewString(),
		AccessKey: os.Getenv("S3_TEST_ACCESS_KEY"),
		SecretKey: os.Getenv("S3_TEST_SECRET_KEY"),
		UseSSL:    false,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewObjectStore: %v", err)
	}
	return store
}

func TestObjectStore_RoundTrip(t *testing.T) {
	store := newIntegrationStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if !store.IsHealthy(ctx) {
		t.Fatal("IsHealthy = false against live endpoint")
	}

	rec := testRecord("london")
	loc, err := store.Write(ctx, rec)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	t.Logf("wrote %s", loc)

	entry, ok, err := store.ReadFresh(ctx, "london", 5*time.Minute)
	if err != nil {
		t.Fatalf("ReadFresh: %v", err)
	}
	if !ok {
		t.Fatal("ReadFresh: expected a hit for just-written object")
	}
	if entry.Record.Temperature != rec.Temperature {
		t.Errorf("Temperature = %v, want %v", entry.Record.Temperature, rec.Temperature)
	}
	if entry.Location != loc {
		t.Errorf("Location = %q, want %q", entry.Location, loc)
	}

	// Entry names carry second granularity, so age past a 1s maxAge before
	// purging.
	time.Sleep(1500 * time.Millisecond)
	removed, err := store.PurgeExpired(ctx, time.Second)
	if err != nil {
		t.Fatalf("PurgeExpired: %v", err)
	}
	if removed < 1 {
		t.Errorf("PurgeExpired removed = %d, want at least 1", removed)
	}

	_, ok, err = store.ReadFresh(ctx, "london", time.Second)
	if err != nil {
		t.Fatalf("ReadFresh after purge: %v", err)
	}
	if ok {
		t.Error("ReadFresh: expected miss after purge")
	}
}
