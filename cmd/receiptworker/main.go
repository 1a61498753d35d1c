package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	appconfig "github.com/AnthonyGillesRudolfo/paypal-checkout-redirect/internal/config"
	"github.com/AnthonyGillesRudolfo/paypal-checkout-redirect/internal/email"
	"github.com/AnthonyGillesRudolfo/paypal-checkout-redirect/internal/events"
	"github.com/AnthonyGillesRudolfo/paypal-checkout-redirect/internal/secrets"
	"github.com/AnthonyGillesRudolfo/paypal-checkout-redirect/internal/telemetry"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := secrets.Bootstrap(ctx, secrets.ConfigFromEnv(), os.Setenv); err != nil {
		slog.Error("load secrets", "error", err)
		os.Exit(1)
	}
	cfg, err := appconfig.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	logger := telemetry.NewLogger(os.Stdout, cfg.LogLevel, "receipt-worker")

	if !cfg.Kafka.Enabled() {
		logger.Error("KAFKA_BROKERS is required")
		os.Exit(1)
	}

	reader := events.NewReceiptReader(cfg.Kafka.Brokers, cfg.Kafka.AuditTopic, cfg.Kafka.ReceiptGroup)
	defer reader.Close()

	worker := &events.ReceiptWorker{
		Sender:   pickSender(cfg.Email, logger),
		Fallback: cfg.Email.DemoRecipient,
		Logger:   logger,
	}
	logger.Info("consuming", "topic", cfg.Kafka.AuditTopic, "group", cfg.Kafka.ReceiptGroup)
	if err := worker.Run(ctx, reader); err != nil {
		logger.Error("receipt worker stopped", "error", err)
		os.Exit(1)
	}
}

// pickSender uses SMTP when a host or port is configured, else the log.
func pickSender(cfg appconfig.EmailConfig, logger *slog.Logger) email.Sender {
	if cfg.SMTPHost != "" || cfg.SMTPPort != "" {
		return email.NewSMTPSender(email.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			From:     cfg.SMTPFrom,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPassword,
		})
	}
	return email.LogSender{Logger: logger}
}
