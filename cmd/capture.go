package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"packrat/pkg/assetcache"
	"packrat/pkg/channel"
	"packrat/pkg/channel/telegram"
	"packrat/pkg/config"
	"packrat/pkg/logger"
	"packrat/pkg/transport"
	"packrat/pkg/vault"

	"github.com/spf13/cobra"
)

const telegramChannelName = "telegram"

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Run the capture bot",
	Long:  "Runs packrat as a long-lived bot that archives every inbound message into the vault, with health and readiness endpoints.",
	Run: func(cmd *cobra.Command, args []string) {
		_ = args

		cfg, err := config.LoadConfig()
		if err != nil {
			fmt.Printf("failed to load config: %v\n", err)
			return
		}

		appLogger, err := logger.New(cfg.Logging)
		if err != nil {
			fmt.Printf("failed to initialize logger: %v\n", err)
			return
		}
		slog.SetDefault(appLogger)
		log := slog.Default().With("component", "cmd.capture")

		adapters, err := enabledAdapters(cfg, log)
		if err != nil {
			log.Error("Capture configuration invalid", "error", err)
			return
		}

		tg, err := transport.NewTelegram(cfg.Channels.Telegram.Token, cfg.Channels.Telegram.UploadChat, log)
		if err != nil {
			log.Error("Failed to initialize telegram transport", "error", err)
			return
		}

		store, err := vault.Open(cfg.Vault.Root, log)
		if err != nil {
			log.Error("Failed to open vault", "error", err)
			return
		}

		cache := assetcache.New(tg, log)

		runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svc, err := vault.NewService(cfg, tg, store, cache, adapters, log)
		if err != nil {
			log.Error("Failed to initialize capture service", "error", err)
			return
		}

		log.Info("Capture started", "channels", enabledChannelNames(adapters), "vault", store.Root())
		if err := svc.Run(runCtx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Error("Capture runtime failed", "error", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(captureCmd)
}

func enabledAdapters(cfg *config.Config, log *slog.Logger) ([]channel.Adapter, error) {
	adapters := make([]channel.Adapter, 0, 1)

	if cfg.Channels.Telegram.Enabled {
		adapter, err := telegram.NewAdapter(cfg.Channels.Telegram, log)
		if err != nil {
			return nil, fmt.Errorf("configure %s channel: %w", telegramChannelName, err)
		}
		adapters = append(adapters, adapter)
	}

	if len(adapters) == 0 {
		return nil, errors.New("no channels are enabled")
	}

	return adapters, nil
}

func enabledChannelNames(adapters []channel.Adapter) string {
	names := make([]string, 0, len(adapters))
	for _, adapter := range adapters {
		names = append(names, adapter.Name())
	}

	return strings.Join(names, ",")
}
