package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgellow/orgctl/internal/auth"
	"github.com/dgellow/orgctl/internal/config"
	"github.com/dgellow/orgctl/internal/dispatcher"
	"github.com/dgellow/orgctl/internal/log"
	"github.com/dgellow/orgctl/internal/metrics"
	"github.com/dgellow/orgctl/internal/organization"
	"github.com/dgellow/orgctl/internal/orgtools"
	"github.com/dgellow/orgctl/internal/server"
	"github.com/dgellow/orgctl/internal/session"
	"github.com/dgellow/orgctl/internal/storage"
	"github.com/dgellow/orgctl/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
)

const shutdownTimeout = 30 * time.Second

// App holds every long-lived component of orgctl, built once from a Config.
type App struct {
	config  config.Config
	version string

	persistence storage.SessionStore
	authClient  *auth.Client
	store       *session.Store
	registry    *prometheus.Registry
	metrics     *metrics.Metrics
	orgs        *organization.Client
	shutdown    telemetry.ShutdownFunc
}

// NewApp wires storage, the auth client, the session store and the
// dispatcher. Nothing talks to the network until Initialize.
func NewApp(ctx context.Context, cfg config.Config, version string) (*App, error) {
	log.LogDebugWithFields("orgctl", "Building application", map[string]any{
		"api":         cfg.API.BaseURL,
		"auth":        cfg.Auth.URL,
		"persistence": cfg.Persistence.Kind,
		"profile":     cfg.Persistence.Profile,
	})

	shutdown, err := telemetry.Init(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to setup telemetry: %w", err)
	}

	persistence, err := storage.New(ctx, cfg.Persistence)
	if err != nil {
		_ = shutdown(ctx)
		return nil, fmt.Errorf("failed to setup storage: %w", err)
	}

	authClient, err := auth.NewClient(auth.Options{
		URL:            cfg.Auth.URL,
		ClientID:       cfg.Auth.ClientID,
		APIKey:         string(cfg.Auth.APIKey),
		RedirectURI:    cfg.Auth.RedirectURI,
		Scopes:         cfg.Auth.Scopes,
		OAuthProviders: cfg.Auth.OAuthProviders,
		RefreshMargin:  cfg.Auth.RefreshMargin,
		RefreshRetry:   cfg.Auth.RefreshRetry,
		StateKey:       []byte(cfg.Auth.StateKey),
		Store:          persistence,
		Profile:        cfg.Persistence.Profile,
	})
	if err != nil {
		closeStorage(persistence)
		_ = shutdown(ctx)
		return nil, fmt.Errorf("failed to setup auth client: %w", err)
	}

	registry, m := metrics.NewRegistry()
	store := session.New(authClient, session.WithTransitionHook(func(from, to session.State, cause string) {
		m.SessionTransition(to.Phase().String())
		log.LogTraceWithFields("orgctl", "Session transition", map[string]any{
			"from":       from.Phase().String(),
			"to":         to.Phase().String(),
			"cause":      cause,
			"generation": to.Generation,
		})
	}))

	d := dispatcher.New(cfg.API.BaseURL, store,
		dispatcher.WithTimeout(cfg.API.Timeout),
		dispatcher.WithRecorder(m),
	)

	return &App{
		config:      cfg,
		version:     version,
		persistence: persistence,
		authClient:  authClient,
		store:       store,
		registry:    registry,
		metrics:     m,
		orgs:        organization.NewClient(d),
		shutdown:    shutdown,
	}, nil
}

// Initialize runs the bootstrap query. Safe to call more than once.
func (a *App) Initialize(ctx context.Context) {
	a.store.Initialize(ctx)
}

func (a *App) Store() *session.Store {
	return a.store
}

func (a *App) Organizations() *organization.Client {
	return a.orgs
}

// Console builds the browser console over the app's session store.
func (a *App) Console() (*server.Console, error) {
	providers := a.config.Auth.OAuthProviders
	if len(providers) == 0 {
		providers = []string{"github"}
	}
	return server.NewConsole(a.store, a.orgs, server.ConsoleOptions{
		SignInPath:        a.config.Console.SignInPath,
		DefaultReturnPath: a.config.Console.DefaultReturnPath,
		OAuthProviders:    providers,
		AllowedOrigins:    a.config.Console.AllowedOrigins,
		CSRFKey:           []byte(a.config.Auth.StateKey),
		Gatherer:          a.registry,
	})
}

// RunConsole serves the browser console until ctx is cancelled or the
// process receives SIGINT/SIGTERM. The bootstrap query runs in the
// background so the gate can answer with its interstitial meanwhile.
func (a *App) RunConsole(ctx context.Context, banner io.Writer) error {
	console, err := a.Console()
	if err != nil {
		return err
	}
	httpServer := server.NewHTTPServer(console.Handler(), a.config.Console.Addr)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go a.store.Initialize(ctx)

	errChan := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()
	if banner != nil {
		fmt.Fprint(banner, server.Banner(a.config.Console.Addr))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var runErr error
	select {
	case sig := <-sigChan:
		log.LogInfoWithFields("orgctl", "Received shutdown signal", map[string]any{
			"signal": sig.String(),
		})
	case runErr = <-errChan:
		log.LogErrorWithFields("orgctl", "Shutting down due to error", map[string]any{
			"error": runErr.Error(),
		})
	case <-ctx.Done():
		log.LogInfoWithFields("orgctl", "Context cancelled, shutting down", nil)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Stop(shutdownCtx); err != nil {
		log.LogErrorWithFields("orgctl", "HTTP server shutdown error", map[string]any{
			"error": err.Error(),
		})
		return errors.Join(runErr, err)
	}
	return runErr
}

// RunMCP serves the organization tools over stdio.
func (a *App) RunMCP(ctx context.Context, in io.Reader, out io.Writer) error {
	a.store.Initialize(ctx)
	tools := orgtools.New(a.store, a.orgs, a.version)
	log.LogInfoWithFields("orgctl", "Serving MCP tools on stdio", map[string]any{
		"phase": a.store.Phase().String(),
	})
	return tools.ServeStdio(ctx, in, out)
}

// Close stops background refresh, flushes traces and releases remote
// storage clients.
func (a *App) Close() error {
	a.store.Close()
	var errs []error
	if err := a.authClient.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing auth client: %w", err))
	}
	if c, ok := a.persistence.(storage.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing storage: %w", err))
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("flushing telemetry: %w", err))
	}
	return errors.Join(errs...)
}

func closeStorage(s storage.SessionStore) {
	if c, ok := s.(storage.Closer); ok {
		_ = c.Close()
	}
}
