package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"packrat/pkg/config"
	"packrat/pkg/logger"
	"packrat/pkg/transport"
	"packrat/pkg/ui/browser"
	"packrat/pkg/vault"

	"github.com/spf13/cobra"
)

var browseTo string

var browseCmd = &cobra.Command{
	Use:   "browse",
	Short: "Browse the vault interactively",
	Long:  "Opens a terminal browser over the stored records: scroll, filter, inspect, delete, and replay them without leaving the keyboard.",
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
		log := slog.Default().With("component", "cmd.browse")

		store, err := vault.Open(cfg.Vault.Root, log)
		if err != nil {
			fmt.Printf("failed to open vault: %v\n", err)
			return
		}

		replayFn, err := browseReplayFunc(cfg, store, log)
		if err != nil {
			fmt.Printf("replay disabled: %v\n", err)
		}

		if err := browser.Run(context.Background(), store, replayFn); err != nil {
			fmt.Printf("browser failed: %v\n", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(browseCmd)
	browseCmd.Flags().StringVarP(&browseTo, "to", "t", "", "destination chat id or @username for replays")
}

// browseReplayFunc wires replay into the browser when a transport and
// destination are available. Browsing works without either; replay is just
// disabled.
func browseReplayFunc(cfg *config.Config, store *vault.Store, log *slog.Logger) (browser.ReplayFunc, error) {
	target, err := resolveTarget(cfg, browseTo)
	if err != nil {
		return nil, err
	}

	tg, err := transport.NewTelegram(cfg.Channels.Telegram.Token, cfg.Channels.Telegram.UploadChat, log)
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context, record vault.Record) (int, error) {
		return vault.Replay(ctx, tg, store, record, target)
	}, nil
}
