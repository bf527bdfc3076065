// Package bootstrap wires configuration, session persistence, the HTTP
// client and the resource stores into one runtime.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"areahood/internal/apiclient"
	"areahood/internal/config"
	"areahood/internal/models"
	"areahood/internal/observability"
	"areahood/internal/realtime"
	"areahood/internal/session"
	"areahood/internal/store"
)

// Version is reported in traces.
const Version = "1.0.0"

// Runtime is a fully wired client data layer.
type Runtime struct {
	Config  *config.Config
	Session session.Store
	Client  *apiclient.Client
	Auth    *store.AuthStore
	Posts   *store.PostStore
	Users   *store.UserStore
	Groups  *store.GroupStore
	// Feed is nil when no realtime URL could be derived.
	Feed *realtime.Listener

	shutdownTracing func(context.Context) error
	stopFeed        context.CancelFunc
	feedDone        chan struct{}
}

// New builds the runtime and restores the persisted session.
func New(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	observability.SetupLogging(os.Stdout, cfg.LogLevel, cfg.Env)

	shutdown, err := observability.InitTracing(observability.TracingConfig{
		ServiceName:    "areahood-client",
		ServiceVersion: Version,
		Environment:    cfg.Env,
		Enabled:        cfg.TracingEnabled,
		Exporter:       cfg.TracingExporter,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SamplerRatio:   cfg.TracingSampler,
	})
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}

	persist, err := session.Open(ctx, cfg)
	if err != nil {
		_ = shutdown(ctx)
		return nil, fmt.Errorf("session store: %w", err)
	}

	auth := store.NewAuthStore(persist)
	client, err := apiclient.New(apiclient.Options{BaseURL: cfg.APIBaseURL, Timeout: cfg.RequestTimeout}, auth)
	if err != nil {
		_ = persist.Close()
		_ = shutdown(ctx)
		return nil, err
	}
	auth.SetAPI(client)

	rt := &Runtime{
		Config:          cfg,
		Session:         persist,
		Client:          client,
		Auth:            auth,
		Posts:           store.NewPostStore(client, cfg.PageSize),
		Users:           store.NewUserStore(client, cfg.PageSize),
		Groups:          store.NewGroupStore(client, cfg.PageSize),
		shutdownTracing: shutdown,
	}

	feedURL := cfg.RealtimeURL
	if feedURL == "" {
		feedURL, _ = realtime.FeedURL(cfg.APIBaseURL)
	}
	if feedURL != "" {
		if rt.Feed, err = realtime.NewListener(feedURL, auth, rt.Posts); err != nil {
			observability.GlobalLogger.Warn("realtime disabled", slog.String("error", err.Error()))
		}
	}

	// Cached entities belong to the session that loaded them.
	var signedIn atomic.Bool
	auth.Subscribe(func(s models.Session) {
		if signedIn.Swap(s.Authenticated) && !s.Authenticated {
			rt.Posts.Reset()
			rt.Users.Reset()
			rt.Groups.Reset()
		}
	})

	if err := auth.Restore(ctx); err != nil {
		observability.GlobalLogger.Warn("stored session discarded", slog.String("error", err.Error()))
	}

	observability.GlobalLogger.Info("client runtime ready",
		slog.String("api", client.BaseURL()),
		slog.String("session_backend", cfg.SessionBackend),
		slog.Bool("authenticated", auth.Snapshot().Authenticated))
	return rt, nil
}

// StartFeed runs the realtime listener in the background until Close.
func (r *Runtime) StartFeed(ctx context.Context) {
	if r.Feed == nil || r.stopFeed != nil {
		return
	}
	ctx, r.stopFeed = context.WithCancel(ctx)
	r.feedDone = make(chan struct{})
	go func() {
		defer close(r.feedDone)
		_ = r.Feed.Run(ctx)
	}()
}

// Close stops the feed and releases the session store and tracer.
func (r *Runtime) Close(ctx context.Context) error {
	if r.stopFeed != nil {
		r.stopFeed()
		<-r.feedDone
	}
	return errors.Join(r.Session.Close(), r.shutdownTracing(ctx))
}
