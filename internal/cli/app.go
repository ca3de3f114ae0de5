package cli

import (
	"context"
	"database/sql"
	"os"

	"github.com/cloudpilot-labs/cloudpilot/internal/config"
	"github.com/cloudpilot-labs/cloudpilot/internal/detector"
	"github.com/cloudpilot-labs/cloudpilot/internal/evidence"
	"github.com/cloudpilot-labs/cloudpilot/internal/pkg/logger"
	"github.com/cloudpilot-labs/cloudpilot/internal/providers"
	"github.com/cloudpilot-labs/cloudpilot/internal/repository/sqlite"
	"github.com/cloudpilot-labs/cloudpilot/internal/services"
)

// app holds the wired pipeline a CLI command needs. Close releases the
// incident database.
type app struct {
	cfg       *config.Config
	logger    *logger.Logger
	db        *sql.DB
	store     *sqlite.IncidentStore
	collector *evidence.Collector
	scanner   *services.ScanService
}

func (a *app) Close() {
	if a.db != nil {
		_ = a.db.Close()
	}
}

// newCLILogger keeps log lines on stderr so table and JSON output stay
// parseable.
func newCLILogger(cfg *config.Config) *logger.Logger {
	return logger.NewWithWriter(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}, os.Stderr)
}

// newApp loads configuration and wires the full scan pipeline against live
// AWS credentials.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	log := newCLILogger(cfg)

	awsCfg, err := providers.NewAWSConfig(ctx, cfg.Settings, providers.Credentials{})
	if err != nil {
		return nil, err
	}

	metricsSource := providers.NewCloudWatchSource(awsCfg, log)
	eventsSource := providers.NewCloudTrailSource(awsCfg, log)
	policySource := providers.NewS3PolicySource(awsCfg, log)

	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	store := sqlite.NewIncidentStore(db)

	collector := evidence.NewCollector(metricsSource, eventsSource, policySource, cfg.Settings, log)

	var notifier services.Notifier
	if cfg.Settings.EnableAlerting {
		notifier = services.NewAlertService(awsCfg, cfg.Settings.SNSTopicARN, log)
	}

	engine := detector.NewEngine(metricsSource, eventsSource, cfg.Settings, log)
	scanner := services.NewScanService(engine, metricsSource, store, collector, notifier, cfg.Settings, log)

	return &app{
		cfg:       cfg,
		logger:    log,
		db:        db,
		store:     store,
		collector: collector,
		scanner:   scanner,
	}, nil
}

// newLocalApp wires only the pieces that work without AWS credentials:
// configuration, the incident store, and the evidence collector's
// filesystem side.
func newLocalApp() (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	log := newCLILogger(cfg)

	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:       cfg,
		logger:    log,
		db:        db,
		store:     sqlite.NewIncidentStore(db),
		collector: evidence.NewCollector(nil, nil, nil, cfg.Settings, log),
	}, nil
}
