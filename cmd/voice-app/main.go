// voice-app hosts the media-facing side of the call engine: the websocket
// listener the media server forks call audio into, and the rendered speech
// files it plays back. The SIP edge builds a call.Service from the same
// pieces and hands it each ringing or answered call.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ClareAI/astra-sip-bridge/internal/audiofork"
	"github.com/ClareAI/astra-sip-bridge/internal/bridge"
	"github.com/ClareAI/astra-sip-bridge/internal/config"
	"github.com/ClareAI/astra-sip-bridge/internal/services/call"
	"github.com/ClareAI/astra-sip-bridge/internal/speech"
	"github.com/ClareAI/astra-sip-bridge/pkg/logger"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

// App owns the media listeners and the call service they feed.
type App struct {
	Calls *call.Service
	fork  *audiofork.Server
	media *http.Server
	forks *http.Server
}

// NewApp wires the call service, fork server and audio file server.
func NewApp(cfg *config.VoiceConfig, devices *config.DeviceRegistry) (*App, error) {
	br, err := bridge.Load(bridge.LoadOptions{
		Type:          cfg.BridgeType,
		AgentAPIURL:   cfg.AgentAPIURL,
		WebhookURL:    cfg.WebhookURL,
		WebhookAPIKey: cfg.WebhookAPIKey,
	})
	if err != nil {
		return nil, err
	}
	stt, synth, err := speech.New(cfg)
	if err != nil {
		return nil, err
	}
	fork := audiofork.NewServer(audiofork.ConfigFromVoice(cfg))

	router := mux.NewRouter()
	router.PathPrefix("/audio/").Handler(http.StripPrefix("/audio", synth.Handler())).Methods(http.MethodGet)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"ok":true,"forks":%d}`, fork.SessionCount())
	}).Methods(http.MethodGet)

	return &App{
		Calls: call.NewService(cfg, devices, br, fork, stt, synth),
		fork:  fork,
		media: &http.Server{
			Addr:         fmt.Sprintf(":%s", cfg.HTTPPort),
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		// Fork connections live as long as the call, so no read/write deadlines.
		forks: &http.Server{Addr: cfg.ForkListenAddr, Handler: fork},
	}, nil
}

// Run serves both listeners until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 2)
	for _, srv := range []*http.Server{a.media, a.forks} {
		go func(srv *http.Server) {
			logger.Base().Info("Starting listener", zap.String("addr", srv.Addr))
			errCh <- srv.ListenAndServe()
		}(srv)
	}

	var runErr error
	select {
	case runErr = <-errCh:
	case <-ctx.Done():
	}

	logger.Base().Info("shutting down",
		zap.Int("active_calls", a.Calls.ActiveCallCount()),
		zap.Int("open_forks", a.fork.SessionCount()))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, srv := range []*http.Server{a.media, a.forks} {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Base().Warn("listener shutdown failed", zap.String("addr", srv.Addr), zap.Error(err))
		}
	}
	if runErr != nil && !errors.Is(runErr, http.ErrServerClosed) {
		return runErr
	}
	return nil
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("Info: .env file not found or skipped (expected in production): %v", err)
	}
	if _, err := logger.Init(logger.OptionsFromEnv()); err != nil {
		log.Printf("failed to initialize zap logger: %v", err)
	}
	defer func() { _ = logger.Base().Sync() }()

	cfg := config.LoadVoiceConfig()
	var devices map[string]config.Device
	if path := os.Getenv("PLUGIN_CONFIG_FILE"); path != "" {
		plugin, err := config.LoadPluginConfig(path)
		if err != nil {
			logger.Base().Fatal("failed to load plugin config", zap.Error(err))
		}
		devices = plugin.Devices
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := NewApp(cfg, config.NewDeviceRegistry(devices))
	if err != nil {
		logger.Base().Fatal("failed to create voice app", zap.Error(err))
	}
	if err := app.Run(ctx); err != nil {
		logger.Base().Fatal("voice app stopped with error", zap.Error(err))
	}
	logger.Base().Info("voice app stopped")
}
