package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"crm-automation/internal/config"
	"crm-automation/internal/jobs"
	"crm-automation/internal/secrets"
	"crm-automation/internal/services/bitrix"
	"crm-automation/internal/services/gemini"
	"crm-automation/internal/services/google"
	"crm-automation/internal/services/telegram"
	"crm-automation/internal/storage"
)

func main() {
	listJobs := flag.Bool("list", false, "print registered job names and exit")
	configPath := flag.String("config", "", "explicit config file path")
	flag.Parse()

	if *listJobs {
		for _, name := range jobs.Names() {
			fmt.Println(name)
		}
		return
	}

	jobName := flag.Arg(0)
	if jobName == "" {
		fmt.Fprintln(os.Stderr, "usage: crm-automation [-config path] <job>")
		os.Exit(1)
	}

	logger, _ := zap.NewProduction()
	defer func(logger *zap.Logger) {
		_ = logger.Sync()
	}(logger)

	if err := run(jobName, *configPath, logger); err != nil {
		logger.Error("Job failed", zap.String("job", jobName), zap.Error(err))
		os.Exit(1)
	}
}

func run(jobName, configPath string, logger *zap.Logger) error {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFrom(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Postgres, logger)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	notifier, err := telegram.NewNotifier(cfg.Telegram, logger)
	if err != nil {
		return fmt.Errorf("init telegram: %w", err)
	}

	googleSvc, err := google.NewService(ctx, cfg.Google, logger)
	if err != nil {
		return fmt.Errorf("init google: %w", err)
	}

	deps := &jobs.Deps{
		Config:   cfg,
		Store:    store,
		Vault:    secrets.NewVault(store, googleSvc, cfg.Google.PassphraseDocID, logger),
		Google:   googleSvc,
		Notifier: notifier,
		Logger:   logger,
	}

	// Heavier clients are wired only for the jobs that use them.
	switch jobName {
	case "bitrixsync":
		deps.Bitrix = bitrix.NewClient(cfg.Bitrix, logger)
		deps.Entities = bitrix.NewEntities(deps.Bitrix)
	case "closedeals":
		geminiClient, err := gemini.NewClient(ctx, cfg.Gemini, logger)
		if err != nil {
			return fmt.Errorf("init gemini: %w", err)
		}
		defer func() { _ = geminiClient.Close() }()
		deps.Gemini = geminiClient
	}

	job, err := jobs.New(jobName, deps)
	if err != nil {
		return err
	}

	logger.Info("Starting job", zap.String("job", job.Name()))
	if err := job.Run(ctx); err != nil {
		return err
	}
	logger.Info("Job finished", zap.String("job", job.Name()))
	return nil
}
