package disposition

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/matcontt/tindercam/internal/blobstore"
	"github.com/matcontt/tindercam/internal/logging"
	"github.com/matcontt/tindercam/internal/repository"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

// MemoryStorage keeps the database or the photos in memory when used as
// storage.database or storage.photos_dir.
const MemoryStorage = ":memory:"

const shutdownTimeout = 5 * time.Second

// App wires the engine to its storage, metrics and HTTP surface.
type App struct {
	Config       *Config
	Database     *sql.DB
	Blobs        *blobstore.Store
	Store        *Store
	Orchestrator *Orchestrator
	Ingestor     *Ingestor
	Registry     *prometheus.Registry
	Metrics      *Metrics
	Logger       *zap.Logger
}

// OpenApp opens the database, applies pending migrations and loads both
// collections.
func OpenApp(ctx context.Context, cfg *Config, logger *zap.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}

	if cfg.Storage.PhotosDir == MemoryStorage {
		a.Blobs = blobstore.NewMemory()
	} else {
		blobs, err := blobstore.NewOS(cfg.Storage.PhotosDir)
		if err != nil {
			return nil, err
		}
		a.Blobs = blobs
	}

	db, err := repository.Open(cfg.Storage.Database)
	if err != nil {
		return nil, err
	}
	a.Database = db
	if err := repository.Migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	a.Store, err = OpenStore(ctx, repository.NewPhotoRepository(db), a.Blobs, cfg.Capacity.Trash, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	classifier, err := NewClassifier(cfg.Gesture.SurfaceWidth, cfg.Gesture.ThresholdRatio)
	if err != nil {
		db.Close()
		return nil, err
	}
	a.Orchestrator = NewOrchestrator(a.Store, classifier, a.Blobs, OrchestratorOptions{
		RequireGallerySpace: cfg.Capture.RequireGallerySpace,
	}, logger)

	clock := NewClock(nil)
	clock.Observe(a.Store.Newest())
	a.Ingestor = NewIngestor(a.Blobs, clock)

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = NewMetrics(a.Registry)
	a.Metrics.SetCounts(a.Store.Counts())
	a.Orchestrator.Subscribe(a.Metrics.Observe)

	logger.Info("app: ready",
		zap.String("database", cfg.Storage.Database),
		zap.String("photos_dir", cfg.Storage.PhotosDir),
		zap.Int("gallery", a.Store.GalleryCount()),
		zap.Int("trash", a.Store.TrashCount()),
		zap.Float64("threshold", classifier.Threshold()))
	return a, nil
}

// Server builds the HTTP surface of the app.
func (a *App) Server() *Server {
	return NewServer(a.Orchestrator, a.Ingestor, a.Config.Server.Language, a.Registry, a.Logger)
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (a *App) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("while listening on %s: %w", addr, err)
	}
	return a.ServeListener(ctx, ln)
}

func (a *App) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.Server().Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("http: listening", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	a.Logger.Info("http: shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("while shutting down http server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close releases the database and flushes the logger.
func (a *App) Close() error {
	var result *multierror.Error
	if a.Database != nil {
		if err := a.Database.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("while closing database: %w", err))
		}
	}
	if err := logging.Sync(a.Logger); err != nil {
		result = multierror.Append(result, fmt.Errorf("while flushing logs: %w", err))
	}
	return result.ErrorOrNil()
}
