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

	"github.com/ClareAI/astra-sip-bridge/internal/agent"
	"github.com/ClareAI/astra-sip-bridge/internal/config"
	"github.com/ClareAI/astra-sip-bridge/internal/handler"
	"github.com/ClareAI/astra-sip-bridge/internal/identity"
	"github.com/ClareAI/astra-sip-bridge/internal/outbound"
	"github.com/ClareAI/astra-sip-bridge/internal/session"
	"github.com/ClareAI/astra-sip-bridge/internal/tools"
	"github.com/ClareAI/astra-sip-bridge/pkg/logger"
	"github.com/ClareAI/astra-sip-bridge/pkg/redis"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

// Server is the voice webhook control plane.
type Server struct {
	config    *config.ServerConfig
	http      *http.Server
	registry  *session.Registry
	directory *identity.Directory
}

// NewServer wires the webhook server from configuration.
func NewServer(ctx context.Context, cfg *config.ServerConfig) (*Server, error) {
	plugin, err := config.LoadPluginConfig(cfg.PluginConfigFile)
	if err != nil {
		return nil, err
	}

	static, err := plugin.StaticLinks()
	if err != nil {
		return nil, err
	}
	store, err := newIdentityStore(cfg)
	if err != nil {
		return nil, err
	}
	directory, err := identity.Load(ctx, static, store)
	if err != nil {
		return nil, err
	}
	logger.Base().Info("identity links loaded",
		zap.Int("static", directory.StaticCount()),
		zap.Int("dynamic", len(directory.Dynamic())),
		zap.String("store", cfg.IdentityStore))

	// Nothing from a previous process lifetime is a live call.
	registry := session.NewRegistry()
	registry.Clear()

	placer := newPlacer(cfg, plugin)
	linkTool := tools.NewLinkIdentity(directory)
	placeTool := tools.NewPlaceCall(placer, directory)

	runtime := agent.NewOpenAIRuntime(agent.OpenAIConfig{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.OpenAIChatModel,
	}, directory, linkTool, placeTool)

	devices := config.NewDeviceRegistry(plugin.Devices)
	voice := handler.NewVoiceHandler(runtime, registry, directory, plugin.BindingMap(), plugin.AccountExtensions(), devices)

	router := handler.NewRouter(handler.RouterOptions{
		APIKey:    cfg.APIKey,
		RateLimit: cfg.RateLimit,
		RateBurst: cfg.RateBurst,
		Voice:     voice,
		Tools:     handler.NewToolHandler(linkTool, placeTool),
	})

	return &Server{
		config:    cfg,
		registry:  registry,
		directory: directory,
		http: &http.Server{
			Addr:         fmt.Sprintf(":%s", cfg.Port),
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}, nil
}

func newIdentityStore(cfg *config.ServerConfig) (identity.Store, error) {
	switch cfg.IdentityStore {
	case config.IdentityStoreRedis:
		svc, err := redis.NewRedisService(&redis.RedisConfig{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, err
		}
		return identity.NewRedisStore(svc), nil
	case config.IdentityStoreMemory:
		logger.Base().Warn("identity links are kept in memory only and will be lost on restart")
		return identity.NewMemoryStore(nil), nil
	default:
		return &identity.FileStore{Path: cfg.IdentityFile}, nil
	}
}

func newPlacer(cfg *config.ServerConfig, plugin *config.PluginConfig) outbound.Placer {
	if cfg.OutboundProvider == config.OutboundProviderTwilio {
		return outbound.NewTwilioPlacer(outbound.TwilioConfig{
			AccountSID:      cfg.TwilioAccountSID,
			AuthToken:       cfg.TwilioAuthToken,
			FromNumber:      cfg.TwilioFromNumber,
			ConversationURL: cfg.TwilioConversationURL,
		})
	}
	baseURL := cfg.VoiceAppURL
	if plugin.VoiceAppURL != "" {
		baseURL = plugin.VoiceAppURL
	}
	return outbound.NewClient(baseURL)
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Base().Info("Starting server", zap.String("addr", s.http.Addr))
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.directory.Close()
		return err
	case <-ctx.Done():
	}

	logger.Base().Info("shutting down", zap.Int("live_sessions", s.registry.Size()))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := s.http.Shutdown(shutdownCtx)
	s.directory.Close()
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return err
}

func main() {
	// Load .env file for local development if it exists.
	// This will not override environment variables already set.
	if err := godotenv.Load(); err != nil {
		log.Printf("Info: .env file not found or skipped (expected in production): %v", err)
	}

	if _, err := logger.Init(logger.OptionsFromEnv()); err != nil {
		log.Printf("failed to initialize zap logger: %v", err)
	}
	defer func() { _ = logger.Base().Sync() }()

	cfg := config.LoadServerConfig()
	if err := cfg.Validate(); err != nil {
		logger.Base().Fatal("invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server, err := NewServer(ctx, cfg)
	if err != nil {
		logger.Base().Fatal("failed to create server", zap.Error(err))
	}
	logger.Base().Info("server initialized", zap.String("port", cfg.Port))

	if err := server.Run(ctx); err != nil {
		logger.Base().Fatal("server stopped with error", zap.Error(err))
	}
	logger.Base().Info("server stopped")
}
