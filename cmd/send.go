package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"packrat/pkg/assetcache"
	"packrat/pkg/config"
	"packrat/pkg/logger"
	"packrat/pkg/media"
	"packrat/pkg/packer"
	"packrat/pkg/transport"
	"packrat/pkg/vault"

	"github.com/spf13/cobra"
)

var (
	sendTo      string
	sendAs      string
	sendCaption string
)

var sendCmd = &cobra.Command{
	Use:   "send <file>",
	Short: "Upload a local file and send it",
	Long:  "Uploads a local file through the asset cache (re-using the stored remote id when the same bytes were uploaded before), sends it to a chat, and archives the result as a replayable record.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		path := args[0]

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
		log := slog.Default().With("component", "cmd.send")

		target, err := resolveTarget(cfg, sendTo)
		if err != nil {
			fmt.Printf("%v\n", err)
			return
		}

		category, err := resolveCategory(path, sendAs)
		if err != nil {
			fmt.Printf("%v\n", err)
			return
		}

		store, err := vault.Open(cfg.Vault.Root, log)
		if err != nil {
			fmt.Printf("failed to open vault: %v\n", err)
			return
		}

		// Without a configured staging chat, uploads stage in the numeric
		// destination chat itself.
		uploadChat := cfg.Channels.Telegram.UploadChat
		if uploadChat == 0 {
			uploadChat = target.ChatID
		}

		tg, err := transport.NewTelegram(cfg.Channels.Telegram.Token, uploadChat, log)
		if err != nil {
			fmt.Printf("failed to initialize telegram transport: %v\n", err)
			return
		}

		cache := assetcache.New(tg, log)
		if assets, err := store.LoadAssets(); err != nil {
			fmt.Printf("failed to load asset snapshot: %v\n", err)
			return
		} else if len(assets) > 0 {
			cache.Restore(assets)
		}

		ctx := context.Background()

		hash, _, err := assetcache.HashFile(path)
		if err != nil {
			fmt.Printf("failed to hash file: %v\n", err)
			return
		}
		if cached, ok := cache.Lookup(hash); ok {
			fmt.Printf("cache hit: re-using upload from %s\n", cached.UploadedAt.Format("2006-01-02 15:04"))
		} else {
			fmt.Printf("cache miss: uploading %s as %s\n", filepath.Base(path), category)
		}

		asset, err := cache.Resolve(ctx, category, path)
		if err != nil {
			fmt.Printf("upload failed: %v\n", err)
			return
		}

		packed := packer.PackedMessage{
			Category: category,
			Content:  &packer.ContentRef{Kind: packer.RefRemote, RemoteID: asset.RemoteID},
			Caption:  sendCaption,
		}
		if err := packed.Validate(); err != nil {
			fmt.Printf("cannot send %s: %v\n", category, err)
			return
		}

		if err := packer.Unpack(ctx, tg, target, packed); err != nil {
			fmt.Printf("send failed: %v\n", err)
			return
		}

		if err := store.SaveAssets(cache.Snapshot()); err != nil {
			fmt.Printf("warning: asset snapshot not saved: %v\n", err)
		}

		record := vault.NewRecord("cli", target.String(), "", packed)
		if err := store.Save(record); err != nil {
			fmt.Printf("warning: record not archived: %v\n", err)
			return
		}

		fmt.Printf("sent %s to %s, archived as %s\n", category, target.String(), record.ShortID())
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVarP(&sendTo, "to", "t", "", "destination chat id or @username")
	sendCmd.Flags().StringVarP(&sendAs, "as", "a", "", "media category override (photo, video, audio, voice, animation, document, sticker)")
	sendCmd.Flags().StringVarP(&sendCaption, "caption", "c", "", "caption for the sent media")
}

// resolveCategory classifies the file by extension unless an explicit
// category override is given.
func resolveCategory(path string, override string) (media.Category, error) {
	if override == "" {
		return media.Classify(filepath.Base(path), ""), nil
	}

	category, err := media.ParseCategory(override)
	if err != nil {
		return "", err
	}
	if category == media.Text {
		return "", fmt.Errorf("cannot send a file as %s", media.Text)
	}

	return category, nil
}
