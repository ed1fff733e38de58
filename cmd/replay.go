package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"packrat/pkg/config"
	"packrat/pkg/logger"
	"packrat/pkg/packer"
	"packrat/pkg/transport"
	"packrat/pkg/vault"

	"github.com/spf13/cobra"
)

var replayTo string

var replayCmd = &cobra.Command{
	Use:   "replay <record-id>",
	Short: "Re-send a stored record",
	Long:  "Looks up a record by id (or unique id prefix) and re-sends it to a chat. A record that belongs to an album replays the whole album.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
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
		log := slog.Default().With("component", "cmd.replay")

		target, err := resolveTarget(cfg, replayTo)
		if err != nil {
			fmt.Printf("%v\n", err)
			return
		}

		store, err := vault.Open(cfg.Vault.Root, log)
		if err != nil {
			fmt.Printf("failed to open vault: %v\n", err)
			return
		}

		record, err := store.Find(args[0])
		if err != nil {
			fmt.Printf("%v\n", err)
			return
		}

		tg, err := transport.NewTelegram(cfg.Channels.Telegram.Token, cfg.Channels.Telegram.UploadChat, log)
		if err != nil {
			fmt.Printf("failed to initialize telegram transport: %v\n", err)
			return
		}

		sent, err := vault.Replay(context.Background(), tg, store, record, target)
		if err != nil {
			fmt.Printf("replay failed: %v\n", err)
			return
		}

		fmt.Printf("replayed %s (%d items) to %s\n", record.ShortID(), sent, target.String())
	},
}

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().StringVarP(&replayTo, "to", "t", "", "destination chat id or @username")
}

// resolveTarget picks the destination chat: the --to flag when given,
// otherwise the configured default chat.
func resolveTarget(cfg *config.Config, flagValue string) (packer.Target, error) {
	if flagValue != "" {
		return transport.ParseTarget(flagValue)
	}

	if cfg.Channels.Telegram.DefaultChat != 0 {
		return packer.Target{ChatID: cfg.Channels.Telegram.DefaultChat}, nil
	}

	return packer.Target{}, fmt.Errorf("no destination: pass --to or set channels.telegram.default_chat")
}
