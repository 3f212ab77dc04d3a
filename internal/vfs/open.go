package vfs

import (
	"context"
	"fmt"

	"github.com/GriffinCanCode/webterm/internal/infrastructure/config"
	"github.com/GriffinCanCode/webterm/internal/infrastructure/logging"
	"github.com/GriffinCanCode/webterm/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/webterm/internal/shared/utils"
	"go.uber.org/zap"
)

// Open builds a Store for the configured driver
func Open(ctx context.Context, cfg config.StoreConfig, logger *logging.Logger, metrics *monitoring.Metrics) (*Store, error) {
	algorithm, err := utils.ParseHashAlgorithm(cfg.Checksum)
	if err != nil {
		return nil, err
	}

	var backend Backend
	switch cfg.Driver {
	case "memory":
		backend = NewMemoryBackend()
	case "sqlite", "":
		backend, err = OpenSQLite(cfg.SQLitePath, 0)
	case "postgres":
		backend, err = OpenPostgres(ctx, cfg.PostgresURL)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("virtual filesystem opened",
			zap.String("driver", cfg.Driver),
			zap.String("checksum", string(algorithm)))
	}
	return NewStore(backend, utils.NewHasher(algorithm), logger, metrics), nil
}
