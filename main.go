package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"paybot/pkg/chat"
	"paybot/pkg/config"
	"paybot/pkg/dispatch"
	"paybot/pkg/flow"
	"paybot/pkg/gateway"
	"paybot/pkg/httpserver"
	"paybot/pkg/intake"
	"paybot/pkg/limiter"
	"paybot/pkg/logx"
	"paybot/pkg/metrics"
	"paybot/pkg/notify"
	"paybot/pkg/store"
)

// Bot wires the conversation engine, its admission layer, and the HTTP
// surface around one configuration.
type Bot struct {
	cfg    config.Config
	store  store.Store
	server *httpserver.Server
	logger *logx.Logger
}

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to YAML config file")
	flag.Parse()

	if configPath == "" {
		configPath = os.Getenv("CONFIG_PATH")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logx.SetLevel(logx.ParseLevel(cfg.LogLevel))

	bot, err := NewBot(cfg)
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}
	bot.Run()
}

// NewBot builds the full component graph.
func NewBot(cfg config.Config) (*Bot, error) {
	logger := logx.NewLogger("main")
	rec := metrics.NewRecorder()

	st, err := store.Open(&cfg)
	if err != nil {
		return nil, err
	}

	api := gateway.New(cfg.APIBaseURL, cfg.APITimeout)
	api.SetObserver(rec.BackendCall)

	// The backend's upload policy wins over the static defaults when it is
	// reachable; a cold start without it still works.
	policy := intake.DefaultPolicy(cfg.MaxUploadBytes)
	ucCtx, ucCancel := context.WithTimeout(context.Background(), cfg.APITimeout)
	if uc, err := api.FetchUploadConfig(ucCtx); err != nil {
		logger.Warn("upload config unavailable, using defaults: %v", err)
	} else {
		policy = intake.PolicyFrom(uc, policy)
	}
	ucCancel()

	in, err := intake.New(cfg.StagingDir, policy)
	if err != nil {
		return nil, err
	}

	engine := flow.New(&cfg, st, api, in)
	engine.SetObserver(rec.FlowEvent)

	lim := limiter.New(cfg.ThrottleWindow)
	d := dispatch.New(engine, lim)
	d.SetObserver(rec.Throttled)

	var sender chat.Sender
	if cfg.ChatWebhookURL != "" {
		sender = chat.NewWebhookSender(cfg.ChatWebhookURL, cfg.APITimeout)
	} else {
		logger.Warn("no chat webhook configured, outbound notifications are logged only")
		sender = chat.NewLogSender()
	}

	nh := notify.New(cfg.NotifySecret, st, sender)
	nh.SetObserver(rec.Notification)

	return &Bot{
		cfg:    cfg,
		store:  st,
		server: httpserver.New(cfg.ListenAddr, nh, d, cfg.MaxUploadBytes),
		logger: logger,
	}, nil
}

// Run serves until SIGINT/SIGTERM, then drains and closes the store.
func (b *Bot) Run() {
	errCh := make(chan error, 1)
	go func() { errCh <- b.server.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		b.logger.Info("received %v, shutting down", sig)
	case err := <-errCh:
		if err != nil {
			b.logger.Error("server failed: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := b.server.Shutdown(ctx); err != nil {
		b.logger.Error("shutdown: %v", err)
	}
	if err := b.store.Close(); err != nil {
		b.logger.Error("close store: %v", err)
	}
	b.logger.Info("bye")
}
