package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"packrat/pkg/bus"
	"packrat/pkg/channel"
	"packrat/pkg/config"
	"packrat/pkg/packer"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

const channelName = "telegram"
const messagePreviewLimit = 240
const typingRefreshInterval = 4 * time.Second

// Adapter captures Telegram updates into packrat inbound messages. Every
// archivable message is packed on arrival; slash commands are routed as
// control commands instead.
type Adapter struct {
	cfg       config.TelegramConfig
	allowFrom map[string]struct{}
	log       *slog.Logger
}

// NewAdapter validates Telegram configuration and constructs an adapter instance.
func NewAdapter(cfg config.TelegramConfig, log *slog.Logger) (*Adapter, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("channels.telegram.token is required")
	}

	if log == nil {
		log = slog.Default()
	}

	return &Adapter{
		cfg:       cfg,
		allowFrom: allowFromSet(cfg.AllowFrom),
		log:       log.With("component", "channel.telegram"),
	}, nil
}

// Name returns the channel identifier used in records, events, and logs.
func (a *Adapter) Name() string {
	return channelName
}

// Run starts Telegram long polling and forwards updates through the shared channel handler.
func (a *Adapter) Run(ctx context.Context, handler channel.Handler) error {
	if handler == nil {
		return errors.New("handler is required")
	}

	bot, err := telego.NewBot(strings.TrimSpace(a.cfg.Token))
	if err != nil {
		return fmt.Errorf("initialize telegram bot: %w", err)
	}

	updates, err := bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("start long polling: %w", err)
	}

	a.log.Info("Telegram channel started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				if err := ctx.Err(); err != nil {
					return nil
				}
				return errors.New("telegram updates channel closed")
			}

			message := update.Message
			if message == nil {
				continue
			}
			if message.From == nil {
				a.log.Debug("Ignoring message without sender")
				continue
			}

			senderID := strconv.FormatInt(message.From.ID, 10)
			if !a.senderAllowed(senderID) {
				a.log.Debug("Ignoring message from unauthorized sender", "sender_id", senderID)
				continue
			}

			chatID := strconv.FormatInt(message.Chat.ID, 10)
			metadata := map[string]string{
				"update_id": strconv.Itoa(update.UpdateID),
			}

			if command, args, ok := parseCommand(message.Text); ok {
				inbound := bus.InboundMessage{
					Channel:     channelName,
					SenderID:    senderID,
					ChatID:      chatID,
					Command:     command,
					CommandArgs: args,
					Metadata:    metadata,
				}
				a.log.Info("Received command", "chat_id", chatID, "sender_id", senderID, "command", command)

				stopTyping := a.startTypingIndicator(ctx, bot, message.Chat.ID)
				outbound, err := handler(ctx, inbound)
				stopTyping()
				if err != nil {
					a.log.Error("Failed to process command", "command", command, "error", err)
					outbound = bus.OutboundMessage{Error: err.Error()}
				}

				a.reply(ctx, bot, message.Chat.ID, outbound)
				continue
			}

			packed, err := packer.Pack(message)
			if err != nil {
				a.log.Debug("Ignoring unpackable update", "chat_id", chatID, "error", err)
				continue
			}

			inbound := bus.InboundMessage{
				Channel:  channelName,
				SenderID: senderID,
				ChatID:   chatID,
				Packed:   &packed,
				Metadata: metadata,
			}
			a.log.Info("Captured message", "chat_id", chatID, "sender_id", senderID, "category", string(packed.Category), "preview", previewText(packedPreview(packed)))

			outbound, err := handler(ctx, inbound)
			if err != nil {
				a.log.Error("Failed to archive message", "error", err)
				outbound = bus.OutboundMessage{Error: err.Error()}
			}

			a.reply(ctx, bot, message.Chat.ID, outbound)
		}
	}
}

// reply sends the handler's response text back to the chat. Empty responses
// are dropped, which is how grouped captures stay silent until their album
// settles.
func (a *Adapter) reply(ctx context.Context, bot *telego.Bot, chatID int64, outbound bus.OutboundMessage) {
	responseText := strings.TrimSpace(outbound.Content)
	if responseText == "" {
		responseText = strings.TrimSpace(outbound.Error)
	}
	if responseText == "" {
		return
	}

	if _, err := bot.SendMessage(ctx, tu.Message(tu.ID(chatID), responseText)); err != nil {
		a.log.Error("Failed to send telegram message", "error", err)
	}
}

// parseCommand recognizes slash commands like "/replay 1f2e3d4c" and
// "/list@packrat_bot". The command name is lowercased with any @botname
// suffix stripped; the remainder is returned as args.
func parseCommand(text string) (string, string, bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "/") || len(trimmed) == 1 {
		return "", "", false
	}

	name, args, _ := strings.Cut(trimmed[1:], " ")
	name, _, _ = strings.Cut(name, "@")
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return "", "", false
	}

	return name, strings.TrimSpace(args), true
}

// packedPreview picks the log-preview text for a packed message.
func packedPreview(packed packer.PackedMessage) string {
	if packed.Text != "" {
		return packed.Text
	}

	return packed.Caption
}

// senderAllowed checks whether a sender is permitted by allow_from config.
//
// When no allow list is configured, all senders are accepted.
func (a *Adapter) senderAllowed(senderID string) bool {
	if len(a.allowFrom) == 0 {
		return true
	}

	_, ok := a.allowFrom[strings.TrimSpace(senderID)]
	return ok
}

// allowFromSet normalizes allow_from values into a lookup set.
func allowFromSet(allowFrom []string) map[string]struct{} {
	if len(allowFrom) == 0 {
		return nil
	}

	allowed := make(map[string]struct{}, len(allowFrom))
	for _, value := range allowFrom {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		allowed[trimmed] = struct{}{}
	}

	if len(allowed) == 0 {
		return nil
	}

	return allowed
}

// previewText returns a bounded log-safe preview of message text.
func previewText(text string) string {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) <= messagePreviewLimit {
		return trimmed
	}

	return trimmed[:messagePreviewLimit] + "..."
}

// startTypingIndicator sends an initial typing action and refreshes it periodically
// until the returned cancel function is called.
func (a *Adapter) startTypingIndicator(ctx context.Context, bot *telego.Bot, chatID int64) context.CancelFunc {
	typingCtx, cancel := context.WithCancel(ctx)

	sendTyping := func() {
		if err := bot.SendChatAction(typingCtx, tu.ChatAction(tu.ID(chatID), telego.ChatActionTyping)); err != nil && typingCtx.Err() == nil {
			a.log.Debug("Failed to send typing indicator", "chat_id", chatID, "error", err)
		}
	}

	sendTyping()

	go func() {
		ticker := time.NewTicker(typingRefreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-typingCtx.Done():
				return
			case <-ticker.C:
				sendTyping()
			}
		}
	}()

	return cancel
}
