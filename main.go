// Command streamclips is the clip discovery service. It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs versioned migrations.
//   - Loads the channel registry and starts the poll cycle engine, which
//     watches each registered channel for new clips and live transitions.
//   - Exposes the admin HTTP surface with channel management, /healthz,
//     /status, /metrics, and a websocket notification feed.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/gilibot/streamclips/config"
	"github.com/gilibot/streamclips/db"
	"github.com/gilibot/streamclips/hitboxapi"
	"github.com/gilibot/streamclips/mixerapi"
	"github.com/gilibot/streamclips/notify"
	"github.com/gilibot/streamclips/picartoapi"
	"github.com/gilibot/streamclips/poller"
	"github.com/gilibot/streamclips/registry"
	"github.com/gilibot/streamclips/server"
	"github.com/gilibot/streamclips/stream"
	"github.com/gilibot/streamclips/telemetry"
	"github.com/gilibot/streamclips/twitchapi"
	"github.com/gilibot/streamclips/youtubeapi"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()
	shutdownTracing, err := telemetry.InitTracing("streamclips", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdownTracing()

	database, err := db.Connect()
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Error("failed to migrate db", slog.Any("err", err))
		os.Exit(1)
	}

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	creds := &db.CredentialStore{DB: database}
	seedCredentials(ctx, creds, cfg)

	reg := registry.New(&db.ChannelStore{DB: database})
	if err := reg.Load(ctx); err != nil {
		slog.Error("failed to load channel registry", slog.Any("err", err))
		os.Exit(1)
	}
	slog.Info("channel registry loaded", slog.Int("channels", len(reg.List())))

	clients := map[stream.Platform]stream.Client{
		stream.Twitch:  &twitchapi.Client{Creds: creds},
		stream.YouTube: &youtubeapi.Client{Creds: creds},
		stream.Mixer:   &mixerapi.Client{AcceptWindow: cfg.MixerAcceptWindow},
		stream.Hitbox:  &hitboxapi.Client{},
		stream.Picarto: &picartoapi.Client{},
	}

	dispatcher := notify.NewDispatcher()
	if err := dispatcher.Subscribe(notify.LogSink); err != nil {
		slog.Error("failed to attach log sink", slog.Any("err", err))
		os.Exit(1)
	}

	engine := poller.New(reg, clients, dispatcher)
	engine.ClipLookback = cfg.TwitchClipLookback
	engine.Interval = func(ictx context.Context) (time.Duration, error) {
		d, err := db.GetPollInterval(ictx, database)
		if err == nil && d == 0 {
			d = cfg.PollInterval
		}
		return d, err
	}
	go engine.Run(ctx)

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	admin := &server.Server{
		Registry: reg,
		Clients:  clients,
		Creds:    creds,
		GetInterval: func(ictx context.Context) (time.Duration, error) {
			return db.GetPollInterval(ictx, database)
		},
		SetInterval: func(ictx context.Context, d time.Duration) error {
			return db.SetPollInterval(ictx, database, d)
		},
		ClearCredentialAlert: engine.ClearCredentialAlert,
		Dispatcher:           dispatcher,
		StartedAt:            time.Now(),
	}
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           admin.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		slog.Info("http server listening", slog.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown failed", slog.Any("err", err))
	}
	dispatcher.Wait()
}

// seedCredentials copies bootstrap credentials from the environment into the
// store when the store has none for that platform. Rotation afterwards goes
// through the admin API.
func seedCredentials(ctx context.Context, creds *db.CredentialStore, cfg *config.Config) {
	if cfg.TwitchClientID != "" && cfg.TwitchClientSecret != "" {
		if existing, err := creds.Credentials(ctx, stream.Twitch); err == nil && existing.ClientID == "" {
			if err := creds.SetCredentials(ctx, stream.Twitch, stream.Credentials{
				ClientID:     cfg.TwitchClientID,
				ClientSecret: cfg.TwitchClientSecret,
			}); err != nil {
				slog.Warn("seeding twitch credentials failed", slog.Any("err", err))
			}
		}
	}
	if cfg.YouTubeAPIKey != "" {
		if existing, err := creds.Credentials(ctx, stream.YouTube); err == nil && existing.APIKey == "" {
			if err := creds.SetCredentials(ctx, stream.YouTube, stream.Credentials{APIKey: cfg.YouTubeAPIKey}); err != nil {
				slog.Warn("seeding youtube credentials failed", slog.Any("err", err))
			}
		}
	}
}
