// Package app wires all facetrial subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the HTTP surfaces until the context is cancelled,
// and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithPersister,
// WithHealth). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/visagelab/facetrial/internal/capturestore"
	"github.com/visagelab/facetrial/internal/config"
	"github.com/visagelab/facetrial/internal/control"
	"github.com/visagelab/facetrial/internal/gateway"
	"github.com/visagelab/facetrial/internal/health"
	"github.com/visagelab/facetrial/internal/observe"
	"github.com/visagelab/facetrial/internal/persistence"
	"github.com/visagelab/facetrial/internal/session"
	"github.com/visagelab/facetrial/pkg/capture"
	"github.com/visagelab/facetrial/pkg/stimulus"
)

// shutdownTimeout bounds the graceful drain of each HTTP server.
const shutdownTimeout = 10 * time.Second

// App owns all subsystem lifetimes and serves the runner's HTTP surfaces.
type App struct {
	cfg      *config.Config
	registry *config.Registry

	metrics   *observe.Metrics
	store     *capturestore.Store
	persister session.Persister
	healthH   *health.Handler
	control   *control.Server

	controlLis net.Listener
	persistLis net.Listener
	controlSrv *http.Server
	persistSrv *http.Server

	// closers are called in reverse order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithPersister injects a persister instead of building a gateway client
// from the config.
func WithPersister(p session.Persister) Option {
	return func(a *App) { a.persister = p }
}

// WithHealth injects a health handler instead of assembling checkers from
// the config.
func WithHealth(h *health.Handler) Option {
	return func(a *App) { a.healthH = h }
}

// New creates an App by wiring all subsystems together. The registry supplies
// the classifier, capture platform, and player factories; main registers the
// built-in implementations before calling New.
func New(ctx context.Context, cfg *config.Config, reg *config.Registry, opts ...Option) (*App, error) {
	a := &App{
		cfg:      cfg,
		registry: reg,
		metrics:  observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(a)
	}

	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "facetrial"})
	if err != nil {
		return nil, fmt.Errorf("app: init metrics provider: %w", err)
	}
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return shutdownMetrics(ctx)
	})

	if err := a.initPersistence(); err != nil {
		return nil, err
	}
	a.initHealth()
	if err := a.initControl(); err != nil {
		return nil, err
	}

	return a, nil
}

// initPersistence sets up result storage: the embedded persistence service
// when configured, and the gateway client the session controller uploads
// through.
func (a *App) initPersistence() error {
	baseURL := a.cfg.Persistence.BaseURL

	if a.cfg.Persistence.Embedded {
		store, err := capturestore.Open(a.cfg.Persistence.DBPath, a.cfg.Persistence.DataDir)
		if err != nil {
			return fmt.Errorf("app: open capture store: %w", err)
		}
		a.store = store
		a.closers = append(a.closers, store.Close)

		lis, err := net.Listen("tcp", a.cfg.Persistence.ListenAddr)
		if err != nil {
			return fmt.Errorf("app: listen persistence %q: %w", a.cfg.Persistence.ListenAddr, err)
		}
		a.persistLis = lis
		a.persistSrv = &http.Server{
			Handler:           persistence.NewService(store, slog.Default()).Routes(a.metrics),
			ReadHeaderTimeout: 10 * time.Second,
		}
		if baseURL == "" {
			baseURL = "http://" + lis.Addr().String()
		}
		slog.Info("embedded persistence service", "addr", lis.Addr().String(), "db", a.cfg.Persistence.DBPath)
	}

	if a.persister == nil && baseURL != "" {
		a.persister = gateway.New(baseURL)
	}
	if a.persister == nil {
		slog.Warn("no persistence configured; session results stay in memory")
	}
	return nil
}

// initHealth assembles the readiness checkers for the configured components.
func (a *App) initHealth() {
	if a.healthH != nil {
		return
	}
	var checkers []health.Checker
	if a.cfg.Classifier.Name == "remote" && a.cfg.Classifier.BaseURL != "" {
		checkers = append(checkers, health.HTTP("classifier", a.cfg.Classifier.BaseURL+"/model"))
	}
	if a.store != nil {
		checkers = append(checkers, health.Ping("capturestore", a.store))
	}
	a.healthH = health.New(checkers...)
}

// initControl builds the session controller factory and the control API
// server around it.
func (a *App) initControl() error {
	factory := func(onComplete session.CompletionFunc, onFailure session.FailureFunc) (*session.Controller, error) {
		clf, err := a.registry.CreateClassifier(a.cfg.Classifier)
		if err != nil {
			return nil, fmt.Errorf("create classifier: %w", err)
		}
		platform, err := a.registry.CreateCapture(a.cfg.Capture)
		if err != nil {
			return nil, fmt.Errorf("create capture platform: %w", err)
		}
		player, err := a.registry.CreatePlayer("clock", a.cfg.Stimulus)
		if err != nil {
			return nil, fmt.Errorf("create player: %w", err)
		}

		return session.New(session.Config{
			Classifier: clf,
			Camera:     platform,
			Player:     player,
			Persister:  a.persister,
			Media: stimulus.Media{
				Ref:      a.cfg.Stimulus.Ref,
				Duration: a.cfg.Stimulus.Duration,
			},
			Device: capture.DeviceConfig{
				Device:    a.cfg.Capture.Device,
				MimeType:  a.cfg.Capture.MimeType,
				FrameRate: a.cfg.Capture.FrameRate,
				VideoSize: a.cfg.Capture.VideoSize,
			},
			UserID:         a.cfg.Participant.UserID,
			ExperimentID:   a.cfg.Participant.ExperimentID,
			SampleInterval: a.cfg.Sampling.Interval,
			BufferCapacity: a.cfg.Sampling.BufferCapacity,
			Metrics:        a.metrics,
			OnComplete:     onComplete,
			OnFailure:      onFailure,
		})
	}

	a.control = control.NewServer(factory, a.healthH, a.metrics, slog.Default())

	lis, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen control %q: %w", a.cfg.Server.ListenAddr, err)
	}
	a.controlLis = lis
	a.controlSrv = &http.Server{
		Handler:           a.control.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

// ControlAddr returns the bound address of the control API.
func (a *App) ControlAddr() string {
	return a.controlLis.Addr().String()
}

// Run serves the control API and, when configured, the embedded persistence
// service until ctx is cancelled. It returns after both servers have drained.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("control API listening", "addr", a.controlLis.Addr().String())
		if err := a.controlSrv.Serve(a.controlLis); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("control server: %w", err)
		}
		return nil
	})
	if a.persistSrv != nil {
		g.Go(func() error {
			if err := a.persistSrv.Serve(a.persistLis); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("persistence server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		drain, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.controlSrv.Shutdown(drain); err != nil {
			slog.Warn("control server drain", "err", err)
		}
		if a.persistSrv != nil {
			if err := a.persistSrv.Shutdown(drain); err != nil {
				slog.Warn("persistence server drain", "err", err)
			}
		}
		return ctx.Err()
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Shutdown tears the application down: the active session first (so its
// snapshot is taken and persisted), then storage and telemetry.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		if err := a.control.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close session: %w", err))
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := a.closers[i](); err != nil {
				errs = append(errs, err)
			}
		}

		select {
		case <-ctx.Done():
			errs = append(errs, ctx.Err())
		default:
		}
	})
	return errors.Join(errs...)
}
