// Package app wires configuration into a running voice checkout service.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ent0n29/voicecart/internal/config"
	"github.com/ent0n29/voicecart/internal/echo"
	"github.com/ent0n29/voicecart/internal/extract"
	"github.com/ent0n29/voicecart/internal/handlers"
	"github.com/ent0n29/voicecart/internal/httpapi"
	"github.com/ent0n29/voicecart/internal/intent"
	"github.com/ent0n29/voicecart/internal/observability"
	"github.com/ent0n29/voicecart/internal/oracle"
	"github.com/ent0n29/voicecart/internal/profile"
	"github.com/ent0n29/voicecart/internal/session"
	"github.com/ent0n29/voicecart/internal/voice"
)

type BuildResult struct {
	Config       config.Config
	Phrases      config.Phrases
	API          *httpapi.Server
	Sessions     *session.Manager
	Orchestrator *voice.Orchestrator
	Profiles     profile.Store
	Metrics      *observability.Metrics
	Logger       *slog.Logger
	// OracleDetail names the classification backend, e.g. "anthropic+mock".
	OracleDetail string
	// CommandsVia is "webhook" or "relay".
	CommandsVia string

	// Cleanup releases external resources (database pools) on shutdown.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	phrases, err := config.LoadPhrases(cfg.PhrasesFile)
	if err != nil {
		return nil, err
	}

	baseOracle, err := oracle.New(oracle.Config{
		Mode:    cfg.OracleMode,
		APIKey:  cfg.OracleAPIKey,
		Model:   cfg.OracleModel,
		BaseURL: cfg.OracleBaseURL,
		HTTPURL: cfg.OracleHTTPURL,
		Timeout: cfg.OracleTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("oracle init failed: %w", err)
	}
	timed := timedOracle{next: baseOracle, metrics: metrics}

	classifier, err := intent.NewClassifier(intent.ClassifierOptions{
		Oracle:    timed,
		Overrides: phrases.Overrides,
		Timeout:   cfg.OracleTimeout,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("intent classifier init failed: %w", err)
	}
	parser := extract.NewParser(extract.OptionsFromPhrases(phrases))

	profiles, err := profile.NewStore(ctx, profile.StoreConfig{
		Kind:        cfg.ProfileStore,
		Path:        cfg.ProfilePath,
		DatabaseURL: cfg.DatabaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("profile store init failed: %w", err)
	}

	var orders voice.OrderSubmitter = handlers.NewLogOrders(logger)
	if cfg.OrderWebhookURL != "" {
		orders = handlers.NewOrderWebhook(cfg.OrderWebhookURL)
	}

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	router := intent.NewRouter(logger)

	orchestrator := voice.NewOrchestrator(voice.Options{
		Sessions:      sessions,
		Speech:        speechFactory(cfg),
		Classifier:    classifier,
		Router:        router,
		Extractor:     intent.NewExtractor(timed, parser, cfg.OracleTimeout, logger),
		Profiles:      profiles,
		Orders:        orders,
		Metrics:       metrics,
		Logger:        logger,
		Phrases:       phrases,
		Echo:          echo.Windows{Ambient: cfg.EchoAmbientWindow, Echo: cfg.EchoCompareWindow},
		GracePeriod:   cfg.CheckoutGracePeriod,
		ActionLogSize: cfg.ActionLogSize,
		Reconnect: voice.ReconnectPolicy{
			EndBackoff:   cfg.ReconnectEndBackoff,
			ErrorBackoff: cfg.ReconnectErrorBackoff,
			MaxAttempts:  cfg.ReconnectMaxAttempts,
		},
	})
	sessions.SetExpireHook(func(s *session.Session) {
		logger.Info("session expired", "session_id", s.ID)
		orchestrator.Close(s.ID)
	})

	api := httpapi.New(httpapi.Options{
		Config:        cfg,
		Sessions:      sessions,
		Conversations: orchestrator,
		Profiles:      profiles,
		Parser:        parser,
		Metrics:       metrics,
		Logger:        logger,
	})

	commandsVia := registerHandlers(router, cfg, api, sessions)

	cleanup := func() error {
		orchestrator.CloseAll()
		var errs []string
		if err := profiles.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:       cfg,
		Phrases:      phrases,
		API:          api,
		Sessions:     sessions,
		Orchestrator: orchestrator,
		Profiles:     profiles,
		Metrics:      metrics,
		Logger:       logger,
		OracleDetail: oracle.Describe(baseOracle),
		CommandsVia:  commandsVia,
		Cleanup:      cleanup,
	}, nil
}

// registerHandlers binds every storefront label. Commands go to the storefront
// webhook when one is configured and to the connected page otherwise.
func registerHandlers(router *intent.Router, cfg config.Config, sender handlers.CommandSender, sessions *session.Manager) string {
	via := "relay"
	var forLabel func(intent.Label) intent.Handler
	if cfg.StorefrontWebhookURL != "" {
		via = "webhook"
		forLabel = handlers.NewWebhook(cfg.StorefrontWebhookURL).For
	} else {
		forLabel = handlers.NewRelay(sender).For
	}

	for _, label := range intent.Labels {
		switch label {
		case intent.LabelOrderCompletion, intent.LabelUserInfo:
			// Handled inside the conversation.
		case intent.LabelLocaleSwitch:
			router.Register(label, handlers.NewLocaleSwitch(sessions))
		default:
			router.Register(label, forLabel(label))
		}
	}
	return via
}
