package audit

import (
	"context"
	"fmt"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-data-service/internal/config"
)

// New builds the Log selected by cfg.ProviderMode. In aws mode the events
// table is created when missing, mirroring how the sqlite backend applies its
// schema on open.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Log, error) {
	switch cfg.ProviderMode {
	case "local":
		return NewSQLiteLog(cfg.LocalDBPath, logger)
	case "aws":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		log := NewDynamoLog(
			dynamodb.NewFromConfig(awsCfg),
			cfg.DynamoTable,
			time.Duration(cfg.AuditRetentionDays)*24*time.Hour,
			logger,
		)
		if err := log.EnsureTable(ctx); err != nil {
			return nil, err
		}
		return log, nil
	default:
		return nil, fmt.Errorf("unsupported provider mode %q", cfg.ProviderMode)
	}
}
