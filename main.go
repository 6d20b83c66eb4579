package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"gorm.io/gorm"

	"github.com/customeros/mailpulse/config"
	"github.com/customeros/mailpulse/internal/database"
	"github.com/customeros/mailpulse/internal/logger"
	"github.com/customeros/mailpulse/internal/repository"
	"github.com/customeros/mailpulse/internal/tracing"
	"github.com/customeros/mailpulse/internal/utils"
	"github.com/customeros/mailpulse/server"
	"github.com/customeros/mailpulse/services"
	"github.com/customeros/mailpulse/services/ingestion"
)

func main() {
	app := &cli.App{
		Name:  "mailpulse",
		Usage: "PMTA delivery-log ingestion, aggregation and incident detection",
		Commands: []*cli.Command{
			{
				Name:   "migrate",
				Usage:  "Run database migrations",
				Action: runMigrate,
			},
			{
				Name:   "server",
				Usage:  "Start the application server",
				Action: runServer,
			},
			{
				Name:  "ingest",
				Usage: "Ingest a local log file synchronously",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "file", Usage: "path to the log file", Required: true},
					&cli.StringFlag{Name: "name", Usage: "file name to record, defaults to the base name"},
				},
				Action: runIngest,
			},
			{
				Name:  "submit",
				Usage: "Upload a log file to object storage and queue it for ingestion",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "file", Usage: "path to the log file", Required: true},
					&cli.StringFlag{Name: "name", Usage: "file name to record, defaults to the base name"},
				},
				Action: runSubmit,
			},
			{
				Name:  "reaggregate",
				Usage: "Rebuild aggregates for one file, or repair every unaggregated file",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "file", Usage: "file id"},
					&cli.IntFlag{Name: "limit", Value: 100, Usage: "maximum files to repair"},
				},
				Action: runReaggregate,
			},
			{
				Name:  "detect",
				Usage: "Run incident detection once",
				Flags: []cli.Flag{
					&cli.TimestampFlag{Name: "at", Layout: time.RFC3339, Usage: "evaluation time, defaults to now"},
				},
				Action: runDetect,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("mailpulse: %v", err)
	}
}

type commandEnv struct {
	cfg      *config.Config
	log      logger.Logger
	repos    *repository.Repositories
	services *services.Services
	closer   func()
}

func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	if err := config.ValidateDatabase(cfg); err != nil {
		return nil, err
	}
	db, err := database.InitMailpulseDatabase(cfg.DatabaseConfig)
	if err != nil {
		return nil, errors.Wrap(err, "mailpulse database initialization failed")
	}
	return db, nil
}

// newRuntime wires the services for one-shot commands.
func newRuntime(ctx context.Context) (*commandEnv, error) {
	cfg, err := config.InitConfig()
	if err != nil {
		return nil, err
	}
	db, err := openDatabase(cfg)
	if err != nil {
		return nil, err
	}

	appLogger := logger.NewAppLogger(cfg.Logger)
	appLogger.InitLogger()

	tracer, tracerCloser, err := tracing.NewJaegerTracer(cfg.Tracing, appLogger)
	if err != nil {
		return nil, errors.Wrap(err, "could not initialize jaeger tracer")
	}
	opentracing.SetGlobalTracer(tracer)

	repos := repository.InitRepositories(db)
	svcs, err := services.InitServices(ctx, cfg, appLogger, repos)
	if err != nil {
		_ = tracerCloser.Close()
		return nil, err
	}

	return &commandEnv{
		cfg:      cfg,
		log:      appLogger,
		repos:    repos,
		services: svcs,
		closer: func() {
			if err := svcs.EventsService.Close(); err != nil {
				appLogger.Warnf("Events service close failed: %v", err)
			}
			_ = tracerCloser.Close()
			_ = appLogger.Sync()
		},
	}, nil
}

func runMigrate(c *cli.Context) error {
	cfg, err := config.InitConfig()
	if err != nil {
		return err
	}
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	if err := repository.Migrate(db); err != nil {
		return errors.Wrap(err, "database migration failed")
	}
	log.Println("Database migration completed successfully")
	return nil
}

func runServer(c *cli.Context) error {
	cfg, err := config.InitConfig()
	if err != nil {
		return err
	}
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}

	srv, err := server.NewServer(cfg, db)
	if err != nil {
		return errors.Wrap(err, "server setup failed")
	}
	if err := srv.Run(); err != nil {
		return errors.Wrap(err, "server startup failed")
	}
	log.Println("Shutdown complete")
	return nil
}

func fileName(c *cli.Context) string {
	if name := c.String("name"); name != "" {
		return name
	}
	return filepath.Base(c.String("file"))
}

func runIngest(c *cli.Context) error {
	rt, err := newRuntime(c.Context)
	if err != nil {
		return err
	}
	defer rt.closer()

	f, err := os.Open(c.String("file"))
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	hash, err := ingestion.HashReader(f)
	if err != nil {
		return err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}

	registered, err := rt.services.Registrar.Register(c.Context, fileName(c), info.Size(), "", hash)
	if err != nil {
		return err
	}
	if registered.Duplicate {
		fmt.Printf("duplicate of file %s, skipped\n", registered.ExistingID)
		return nil
	}

	if err := rt.services.Pipeline.Process(c.Context, registered.File.ID, f); err != nil {
		return err
	}

	file, err := rt.repos.FileRepository.GetByID(c.Context, registered.File.ID)
	if err != nil {
		return err
	}
	fmt.Printf("file %s: status=%s type=%s rows=%d\n", file.ID, file.Status, file.DetectedType, file.RowCount)
	if file.ErrorDetail != "" {
		fmt.Printf("error: %s\n", file.ErrorDetail)
	}
	return nil
}

func runSubmit(c *cli.Context) error {
	rt, err := newRuntime(c.Context)
	if err != nil {
		return err
	}
	defer rt.closer()

	storage := rt.services.StorageService
	broker := rt.services.EventsService.Broker()
	if storage == nil || broker == nil {
		return errors.New("submit requires object storage credentials and RABBITMQ_URL")
	}

	data, err := os.ReadFile(c.String("file"))
	if err != nil {
		return err
	}

	uploader := ingestion.NewUploader(rt.log, rt.services.Registrar, rt.repos.FileRepository, storage, broker)
	registered, err := uploader.Upload(c.Context, fileName(c), data)
	if err != nil {
		return err
	}
	if registered.Duplicate {
		fmt.Printf("duplicate of file %s, skipped\n", registered.ExistingID)
		return nil
	}
	fmt.Printf("file %s queued from %s\n", registered.File.ID, registered.File.ObjectKey)
	return nil
}

func runReaggregate(c *cli.Context) error {
	rt, err := newRuntime(c.Context)
	if err != nil {
		return err
	}
	defer rt.closer()

	if fileID := c.String("file"); fileID != "" {
		if err := rt.services.Aggregator.Reaggregate(c.Context, fileID); err != nil {
			return err
		}
		fmt.Printf("file %s re-aggregated\n", fileID)
		return nil
	}

	completedBefore := utils.Now().Add(-rt.cfg.CronConfig.ReaggregationGrace)
	repaired, err := rt.services.Aggregator.RepairUnaggregated(c.Context, completedBefore, c.Int("limit"))
	if err != nil {
		return err
	}
	fmt.Printf("%d files re-aggregated\n", repaired)
	return nil
}

func runDetect(c *cli.Context) error {
	rt, err := newRuntime(c.Context)
	if err != nil {
		return err
	}
	defer rt.closer()

	at := utils.Now()
	if ts := c.Timestamp("at"); ts != nil {
		at = ts.UTC()
	}

	alerts, err := rt.services.Detector.Detect(c.Context, at)
	for _, alert := range alerts {
		fmt.Printf("%s %s %s=%s: %s\n", alert.Severity, alert.AlertType, alert.EntityType, alert.EntityValue, alert.Summary)
	}
	if err != nil {
		return err
	}
	fmt.Printf("%d alerts raised at %s\n", len(alerts), at.Format(time.RFC3339))
	return nil
}
