// Package app builds the long-lived client services from configuration and
// owns their shutdown. It is the dependency injection container behind the
// CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	gcsclient "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/marketmaster/internal/backend"
	"github.com/JakeFAU/marketmaster/internal/clock/system"
	"github.com/JakeFAU/marketmaster/internal/config"
	"github.com/JakeFAU/marketmaster/internal/events"
	"github.com/JakeFAU/marketmaster/internal/events/sinks"
	"github.com/JakeFAU/marketmaster/internal/id/uuid"
	"github.com/JakeFAU/marketmaster/internal/market"
	"github.com/JakeFAU/marketmaster/internal/metrics"
	"github.com/JakeFAU/marketmaster/internal/nav"
	"github.com/JakeFAU/marketmaster/internal/notify"
	"github.com/JakeFAU/marketmaster/internal/policy/ratelimit"
	"github.com/JakeFAU/marketmaster/internal/policy/reconnect"
	"github.com/JakeFAU/marketmaster/internal/profile"
	"github.com/JakeFAU/marketmaster/internal/savedlist"
	"github.com/JakeFAU/marketmaster/internal/search"
	"github.com/JakeFAU/marketmaster/internal/status"
	"github.com/JakeFAU/marketmaster/internal/storage/gcs"
	"github.com/JakeFAU/marketmaster/internal/storage/local"
	"github.com/JakeFAU/marketmaster/internal/storage/memory"
	"github.com/JakeFAU/marketmaster/internal/storage/postgres"
	"github.com/JakeFAU/marketmaster/internal/telemetry"
)

// Closer releases a resource at shutdown.
type Closer interface {
	Close() error
}

// Options override collaborators that are normally built from config.
type Options struct {
	Logger *zap.Logger
	// Output receives toast lines; nil disables terminal output.
	Output io.Writer
	// Registerer receives the UI event collectors; nil skips them.
	Registerer prometheus.Registerer
	// Storage replaces the configured storage provider.
	Storage market.Storage
	Dialer  notify.Dialer
	Clock   market.Clock
}

// App holds the shared client services.
type App struct {
	Config   config.Config
	Logger   *zap.Logger
	Storage  market.Storage
	Profile  *profile.Profile
	Client   *backend.Client
	Channel  *notify.Channel
	Hub      *events.Hub
	Search   *search.Coordinator
	Saved    *savedlist.Store
	Location *nav.Location

	closers []Closer
}

// New wires every service described by cfg.
func New(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = system.New()
	}
	metrics.Init()

	a := &App{Config: cfg, Logger: logger}

	if cfg.Tracing.Enabled {
		tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
			ServiceName: cfg.Tracing.ServiceName,
			SampleRatio: cfg.Tracing.SampleRatio,
		})
		if err != nil {
			return nil, fmt.Errorf("init tracing: %w", err)
		}
		a.closers = append(a.closers, closeFunc(func() error {
			return tp.Shutdown(context.Background())
		}))
	}

	store := opts.Storage
	if store == nil {
		var closer Closer
		var err error
		store, closer, err = openStorage(ctx, cfg.Storage, logger)
		if err != nil {
			return nil, err
		}
		if closer != nil {
			a.closers = append(a.closers, closer)
		}
	}
	a.Storage = store
	a.Profile = profile.New(store, uuid.New(), clock, logger.Named("profile"))

	loc, err := nav.Parse(cfg.App.SearchURL)
	if err != nil {
		a.closeResources()
		return nil, err
	}
	a.Location = loc

	eventSinks := []events.Sink{sinks.NewLogSink(logger.Named("events"))}
	if opts.Registerer != nil {
		promSink, err := sinks.NewPrometheusSink(opts.Registerer)
		if err != nil {
			a.closeResources()
			return nil, fmt.Errorf("event metrics: %w", err)
		}
		eventSinks = append(eventSinks, promSink)
	}
	if opts.Output != nil {
		eventSinks = append(eventSinks, sinks.NewWriterSink(opts.Output))
	}
	a.Hub = events.NewHub(events.Config{Logger: logger.Named("events")}, eventSinks...)

	a.Client, err = backend.New(backend.Config{
		BaseURL: cfg.API.BaseURL,
		Timeout: cfg.APITimeout(),
		Limiter: ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.API.RateLimitRPS,
			DefaultBurst: cfg.API.RateLimitBurst,
		}),
		Logger: logger.Named("backend"),
	}, a.Profile)
	if err != nil {
		a.closeResources()
		return nil, fmt.Errorf("backend client: %w", err)
	}

	a.Channel, err = notify.New(notify.Config{
		URL:    cfg.Notify.URL,
		Dialer: opts.Dialer,
		Clock:  clock,
		Policy: reconnect.Policy{
			Delay:       cfg.ReconnectDelay(),
			MaxAttempts: cfg.Notify.MaxAttempts,
		},
		Emitter: a.Hub,
		Logger:  logger.Named("notify"),
	})
	if err != nil {
		a.closeResources()
		return nil, fmt.Errorf("notification channel: %w", err)
	}

	a.Search, err = search.New(search.Config{
		Backend:         a.Client,
		Session:         a.Profile,
		Notifier:        a.Channel,
		Navigator:       a.Location,
		Clock:           clock,
		Emitter:         a.Hub,
		Logger:          logger.Named("search"),
		Debounce:        cfg.Debounce(),
		WorkingLanguage: cfg.Search.WorkingLanguage,
		DisplayLanguage: cfg.Search.DisplayLanguage,
		AutoResume:      cfg.Search.AutoResume,
	})
	if err != nil {
		a.closeResources()
		return nil, err
	}
	a.Channel.OnNotification(func(n market.Notification) {
		a.Search.HandleNotification(context.Background(), n)
	})

	a.Saved = savedlist.New(a.Client, a.Profile,
		savedlist.WithEmitter(a.Hub),
		savedlist.WithLogger(logger.Named("saved")),
		savedlist.WithClock(clock),
	)

	logger.Debug("client services initialized",
		zap.String("storage", cfg.Storage.Provider),
		zap.String("api", cfg.API.BaseURL),
	)
	return a, nil
}

// StatusServer builds the local inspection server over the app's services.
func (a *App) StatusServer() *status.Server {
	return status.NewServer(status.Deps{
		Search:  a.Search,
		Channel: a.Channel,
		Saved:   a.Saved,
		Pending: a.Profile,
	}, a.Logger.Named("status"))
}

// Close stops the coordinator and channel, drains events and releases
// storage. It returns every failure joined.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Search != nil {
		a.Search.Close()
	}
	if a.Channel != nil {
		if err := a.Channel.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close channel: %w", err))
		}
	}
	if a.Hub != nil {
		if err := a.Hub.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.closeResources(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) closeResources() error {
	var errs []error
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.Logger.Warn("error closing resource", zap.Error(err))
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

type closeFunc func() error

func (f closeFunc) Close() error { return f() }

// openStorage selects the durable store named by cfg.Provider.
func openStorage(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (market.Storage, Closer, error) {
	switch cfg.Provider {
	case config.StorageMemory:
		logger.Info("using in-memory client state; nothing will persist")
		return memory.NewStore(), nil, nil
	case config.StorageFile:
		s, err := local.New(local.Config{BaseDir: cfg.BaseDir, Profile: cfg.Profile})
		if err != nil {
			return nil, nil, fmt.Errorf("open file storage: %w", err)
		}
		logger.Debug("using file client state", zap.String("dir", s.Dir()))
		return s, nil, nil
	case config.StoragePostgres:
		s, err := postgres.New(ctx, postgres.Config{
			DSN:      cfg.Postgres.DSN,
			Table:    cfg.Postgres.Table,
			Profile:  cfg.Profile,
			MaxConns: cfg.Postgres.MaxConns,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres storage: %w", err)
		}
		if err := s.EnsureSchema(ctx); err != nil {
			s.Close()
			return nil, nil, fmt.Errorf("prepare postgres storage: %w", err)
		}
		return s, closeFunc(func() error { s.Close(); return nil }), nil
	case config.StorageGCS:
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("create gcs client: %w", err)
		}
		s, err := gcs.New(client, gcs.Config{
			Bucket:  cfg.GCS.Bucket,
			Prefix:  cfg.GCS.Prefix,
			Profile: cfg.Profile,
		})
		if err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("open gcs storage: %w", err)
		}
		logger.Info("using gcs client state", zap.String("bucket", cfg.GCS.Bucket))
		return s, client, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage provider: %s", cfg.Provider)
	}
}
