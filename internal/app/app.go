package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/paulexconde/fieldsurvey/internal/config"
	"github.com/paulexconde/fieldsurvey/internal/models"
	"github.com/paulexconde/fieldsurvey/internal/pkg/paginator"
	"github.com/paulexconde/fieldsurvey/internal/pkg/store"
	"github.com/paulexconde/fieldsurvey/internal/services"
)

// App holds the wired services of one process.
type App struct {
	DB     *sqlx.DB
	Logger *zap.Logger
	Scope  services.Scope

	Ingestor  *services.ResponseIngestor
	Responses *services.ResponseService
	FormTree  *services.FormTreeService
	Importer  *services.FormImporter
	Places    *services.PlaceResolver
	Users     *services.UserService
}

// Open connects to the configured database and wires the services.
func Open(cfg *config.Config, logger *zap.Logger) (*App, error) {
	db, err := store.Open(cfg.Database.Driver, cfg.Database.DSN, store.Options{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.GetConnMaxLifetime(),
	})
	if err != nil {
		return nil, err
	}

	loc, err := cfg.Location()
	if err != nil {
		db.Close()
		return nil, err
	}

	a := New(db, loc, logger)
	a.Scope = services.Scope{MissionID: cfg.MissionID}
	return a, nil
}

// New wires the services over db. Timestamps without an offset are read in loc.
func New(db *sqlx.DB, loc *time.Location, logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}

	forms := store.NewFormStore(db)
	responses := store.NewResponseStore(db)
	conditions := services.NewConditionEvaluator()

	// Places are resolved inside the response transaction.
	placeLogger := logger.Named("places")
	responses.OnSave(func(ctx context.Context, tx *sqlx.Tx, resp *models.Response) error {
		return services.NewPlaceResolver(store.NewPlaceStore(tx), placeLogger).Resolve(ctx, resp)
	})

	pager := paginator.NewPaginator(store.NewDataStore[models.Response](db, "responses"), services.ResponsesPerPage)

	return &App{
		DB:        db,
		Logger:    logger,
		Ingestor:  services.NewResponseIngestor(forms, responses, conditions, loc, logger.Named("ingest")),
		Responses: services.NewResponseService(forms, responses, pager, conditions, loc, logger.Named("responses")),
		FormTree:  services.NewFormTreeService(forms, logger.Named("formtree")),
		Importer:  services.NewFormImporter(forms, conditions, logger.Named("import")),
		Places:    services.NewPlaceResolver(store.NewPlaceStore(db), placeLogger),
		Users:     services.NewUserService(store.NewUserStore(db), logger.Named("users")),
	}
}

// Migrate applies the schema.
func (a *App) Migrate(ctx context.Context) error {
	if err := store.RunMigrations(ctx, a.DB); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	a.Logger.Info("schema up to date", zap.String("driver", a.DB.DriverName()))
	return nil
}

func (a *App) Close() error {
	return a.DB.Close()
}
