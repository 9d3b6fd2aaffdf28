package app

import (
	"context"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dealerpilot/internal/abtest"
	"dealerpilot/internal/config"
	"dealerpilot/internal/engage"
	"dealerpilot/internal/handover"
	"dealerpilot/internal/httpapi"
	"dealerpilot/internal/integrations/email"
	"dealerpilot/internal/integrations/llm"
	slackalert "dealerpilot/internal/integrations/slack"
	"dealerpilot/internal/respond"
	"dealerpilot/internal/scheduler"
	"dealerpilot/internal/storage/sqlite"
)

func Main() {
	cfg := config.LoadConfig()
	log.Printf("Config loaded. Listen=%s Model=%s Temperature=%.2f CacheTTL=%ds DB=%s",
		cfg.ListenAddr, cfg.LLMModel, cfg.LLMTemperature, cfg.SelectorCacheTTLSecs, cfg.DBPath)

	db, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to init database: %v", err)
	}
	log.Printf("Database initialized at %s", cfg.DBPath)
	defer db.Close()

	provider := llm.NewAnthropicClient(
		cfg.AnthropicAPIKey,
		cfg.LLMModel,
		time.Duration(cfg.LLMTimeoutSecs)*time.Second,
		cfg.LLMRatePerSec,
		cfg.LLMRateBurst,
	)

	mailer := email.NewMailer(&email.SMTPSender{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
	})

	var alerter handover.Alerter
	if cfg.SlackBotToken != "" && cfg.SlackAlertsChan != "" {
		alerter = slackalert.NewNotifier(cfg.SlackBotToken, cfg.SlackAlertsChan)
		log.Printf("Slack handover alerts enabled channel=%s", cfg.SlackAlertsChan)
	}

	var dossierMailer handover.Deliverer
	if cfg.SMTPHost != "" {
		dossierMailer = mailer
	} else {
		log.Println("No smtp_host configured, dossier email delivery disabled")
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	selector := abtest.NewSelector(db, rng, time.Duration(cfg.SelectorCacheTTLSecs)*time.Second)
	metrics := abtest.NewMetrics(db)
	generator := &respond.Generator{
		Provider:    provider,
		MaxTokens:   cfg.LLMMaxTokens,
		Temperature: cfg.LLMTemperature,
	}
	builder := handover.NewBuilder(db, provider, dossierMailer, alerter)
	service := engage.NewService(db, selector, metrics, generator, builder)

	sched := scheduler.New(db, mailer, cfg.DigestCronSpec, cfg.EmailRetryCronSpec)
	if cfg.SMTPHost != "" {
		if err := sched.Start(); err != nil {
			log.Fatalf("Failed to start scheduler: %v", err)
		}
		defer sched.Stop()
	} else {
		log.Println("No smtp_host configured, scheduler disabled")
	}

	api := httpapi.NewServer(db, service, selector, metrics)
	server := &http.Server{Addr: cfg.ListenAddr, Handler: api.Handler()}

	go func() {
		log.Printf("Starting dealerpilot on %s...", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Println("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("HTTP shutdown err=%v", err)
	}
}
