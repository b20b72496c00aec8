package bootstrap

import (
	"os"
	"time"

	"github.com/rs/zerolog"

	"helios_server/adapter/in/worker"
	"helios_server/config"
	"helios_server/pkg/logger"
)

// NewIngestWorker builds the periodic sweep worker.
func NewIngestWorker(cfg *config.Config) (*worker.SweepWorker, func(), error) {
	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize worker dependencies")
		return nil, nil, err
	}

	zlog := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()

	sweepWorker := worker.NewSweepWorker(deps.Sweeper, deps.Guard, &worker.SweepConfig{
		Interval: time.Duration(cfg.SweepIntervalMin) * time.Minute,
		Timeout:  cfg.SweepTimeout,
	}, zlog)

	return sweepWorker, cleanup, nil
}
