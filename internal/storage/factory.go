package storage

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-data-service/internal/config"
)

// New builds the Store selected by cfg.ProviderMode. Config validation has
// already run, so an unknown mode indicates a wiring bug upstream.
func New(cfg *config.Config, logger *zap.Logger) (Store, error) {
	switch cfg.ProviderMode {
	case "local":
		return NewFileStore(cfg.LocalStoragePath, logger)
	case "aws":
		return NewObjectStore(ObjectStoreConfig{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.AWSRegion,
			Bucket:    cfg.S3Bucket,
			Prefix:    cfg.S3Prefix,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			UseSSL:    cfg.S3UseSSL,
		}, logger)
	default:
		return nil, fmt.Errorf("unsupported provider mode %q", cfg.ProviderMode)
	}
}
