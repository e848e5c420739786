// Package main provides the pomobox daemon entry point.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	apiconnect "github.com/osa030/pomobox/internal/api/connect"
	"github.com/osa030/pomobox/internal/app/playback"
	"github.com/osa030/pomobox/internal/app/session"
	"github.com/osa030/pomobox/internal/infra/config"
	"github.com/osa030/pomobox/internal/infra/logger"
	"github.com/osa030/pomobox/internal/infra/mpv"
	"github.com/osa030/pomobox/internal/infra/store"
	"github.com/osa030/pomobox/internal/infra/ytdlp"
)

const shutdownTimeout = 10 * time.Second

var (
	app        = kingpin.New("pomobox-server", "pomobox pomodoro timer daemon")
	configPath = app.Flag("config", "Path to config file").Default(config.DefaultPath()).String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (overrides log.output)").String()
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	kingpin.MustParse(app.Parse(os.Args[1:]))

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	loggerConfig := logger.Config{
		Output: cfg.Log.Output,
		Level:  cfg.Log.Level,
	}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = *logfile
	}
	closeLog, err := logger.Init(loggerConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = closeLog() }()

	zlog.Info().Msgf("Config loaded: path=%s", *configPath)

	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Server error: %v", err)
		_ = closeLog()
		os.Exit(1)
	}
}

// run executes the daemon until a signal arrives or a component fails.
func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sessionStore := store.NewFileStore(cfg.Session.StatePath)
	rec, err := sessionStore.Load()
	if err != nil {
		zlog.Warn().Err(err).Msgf("Session record unusable, starting from defaults: path=%s", sessionStore.Path())
	}
	zlog.Info().Msgf("Session restored: work_items=%d break_items=%d volume=%d",
		len(rec.WorkPlaylist), len(rec.BreakPlaylist), rec.Volume)

	player := newPlayer(ctx, cfg)
	defer func() {
		if err := player.Close(); err != nil {
			zlog.Warn().Err(err).Msg("Failed to close player")
		}
	}()

	downloader := ytdlp.New(ytdlp.Config{
		AudioDir:         cfg.Media.AudioDir,
		VideoDir:         cfg.Media.VideoDir,
		Binary:           cfg.Downloader.Binary,
		FFmpeg:           cfg.Downloader.FFmpeg,
		ProgressInterval: cfg.ProgressInterval(),
	})
	if _, _, err := downloader.CheckTools(); err != nil {
		zlog.Warn().Msgf("Downloads will fail until the tool is installed: %v", err)
	}

	sessionMgr, err := session.NewManager(session.Config{
		TickInterval: cfg.TickInterval(),
		EventBuffer:  cfg.Session.EventBuffer,
		SendTimeout:  cfg.SendTimeout(),
	}, rec, player, downloader, sessionStore)
	if err != nil {
		return errors.Wrap(err, "failed to create session manager")
	}

	mux := http.NewServeMux()
	controlPath, controlHandler := apiconnect.NewControlServiceHandler(
		apiconnect.NewControlService(sessionMgr),
		connect.WithInterceptors(apiconnect.NewAuthInterceptor(cfg.Server.Token)),
	)
	mux.Handle(controlPath, controlHandler)
	if cfg.Server.Token == "" {
		zlog.Warn().Msg("No control token configured, every local client is trusted")
	}

	// Create server with h2c (HTTP/2 cleartext) support
	server := &http.Server{
		Handler:           h2c.NewHandler(mux, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	listener, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", cfg.Server.Addr)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sessionMgr.Run(gctx)
	})

	g.Go(func() error {
		zlog.Info().Msgf("Starting server: addr=%s", listener.Addr())
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server error")
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		zlog.Info().Msg("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// Watch streams end once the session loop is done.
		select {
		case <-sessionMgr.Done():
		case <-shutdownCtx.Done():
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			zlog.Error().Msgf("Failed to shutdown server: %v", err)
		}
		return nil
	})

	executeHooks(cfg.Server.Hooks.OnStarted, "on_started")

	err = g.Wait()
	zlog.Info().Msg("Server stopped")
	executeHooks(cfg.Server.Hooks.OnStopped, "on_stopped")
	return err
}

// newPlayer starts the configured backend. A backend that cannot start is
// replaced by a silent player so the timer keeps working.
func newPlayer(ctx context.Context, cfg *config.Config) playback.Player {
	if cfg.Player.Backend != "mpv" {
		zlog.Info().Msgf("Player disabled: backend=%s", cfg.Player.Backend)
		return playback.NopPlayer{}
	}
	p, err := mpv.Start(ctx, mpv.Config{
		Binary:     cfg.Player.Binary,
		SocketPath: cfg.Player.SocketPath,
		ExtraArgs:  cfg.Player.ExtraArgs,
	})
	if err != nil {
		zlog.Error().Err(err).Msg("Failed to start mpv, continuing without playback")
		return playback.NopPlayer{}
	}
	return p
}

// executeHooks runs a list of shell commands.
func executeHooks(hooks []string, stage string) {
	if len(hooks) == 0 {
		return
	}

	zlog.Info().Msgf("Executing %s hooks (%d commands)", stage, len(hooks))

	for _, hook := range hooks {
		zlog.Info().Msgf("Executing hook: %s", hook)
		// Use sh -c to allow shell features like redirection or pipes
		cmd := exec.Command("sh", "-c", hook)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			zlog.Error().Err(err).Msgf("Failed to execute hook: %s", hook)
		}
	}
}
