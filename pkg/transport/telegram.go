package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"packrat/pkg/media"
	"packrat/pkg/packer"
)

const (
	minGroupSize = 2
	maxGroupSize = 10
)

// Telegram delivers packed messages through the Telegram Bot API. It covers
// both directions of the asset lifecycle: sending stored content by remote
// id and uploading local files to a staging chat to obtain one.
type Telegram struct {
	bot        *telego.Bot
	uploadChat int64
	log        *slog.Logger
}

// NewTelegram validates the bot token and constructs the transport.
// uploadChat is the chat new assets are staged in; it may be zero when the
// process never uploads.
func NewTelegram(token string, uploadChat int64, log *slog.Logger) (*Telegram, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return nil, errors.New("channels.telegram.token is required")
	}

	if log == nil {
		log = slog.Default()
	}

	bot, err := telego.NewBot(trimmed)
	if err != nil {
		return nil, fmt.Errorf("initialize telegram bot: %w", err)
	}

	return &Telegram{
		bot:        bot,
		uploadChat: uploadChat,
		log:        log.With("component", "transport.telegram"),
	}, nil
}

// Health verifies the bot credentials against the live API.
func (t *Telegram) Health(ctx context.Context) error {
	if _, err := t.bot.GetMe(ctx); err != nil {
		return fmt.Errorf("telegram api unreachable: %w", err)
	}

	return nil
}

// SendText delivers one text message with its formatting entities and reply
// markup restored verbatim.
func (t *Telegram) SendText(ctx context.Context, target packer.Target, text string, spans []packer.FormatSpan, rawMarkup json.RawMessage) error {
	markup, err := inlineMarkup(rawMarkup)
	if err != nil {
		return err
	}

	params := tu.Message(chatID(target), text)
	if entities := messageEntities(spans); len(entities) > 0 {
		params = params.WithEntities(entities...)
	}
	if markup != nil {
		params = params.WithReplyMarkup(markup)
	}

	t.log.Debug("Sending text", "target", target.String())
	if _, err := t.bot.SendMessage(ctx, params); err != nil {
		return fmt.Errorf("send text: %w", err)
	}

	return nil
}

// SendMedia delivers one stored media message by remote id. The platform
// call is selected by category; stickers go out without a caption because
// the platform has none for them.
func (t *Telegram) SendMedia(ctx context.Context, target packer.Target, category media.Category, remoteID, caption string, spans []packer.FormatSpan, rawMarkup json.RawMessage) error {
	markup, err := inlineMarkup(rawMarkup)
	if err != nil {
		return err
	}

	chat := chatID(target)
	file := tu.FileFromID(remoteID)
	entities := messageEntities(spans)

	t.log.Debug("Sending media", "target", target.String(), "category", category)

	switch category {
	case media.Photo:
		params := tu.Photo(chat, file)
		if caption != "" {
			params = params.WithCaption(caption)
		}
		if len(entities) > 0 {
			params = params.WithCaptionEntities(entities...)
		}
		if markup != nil {
			params = params.WithReplyMarkup(markup)
		}
		_, err = t.bot.SendPhoto(ctx, params)
	case media.Video:
		params := tu.Video(chat, file)
		if caption != "" {
			params = params.WithCaption(caption)
		}
		if len(entities) > 0 {
			params = params.WithCaptionEntities(entities...)
		}
		if markup != nil {
			params = params.WithReplyMarkup(markup)
		}
		_, err = t.bot.SendVideo(ctx, params)
	case media.Audio:
		params := tu.Audio(chat, file)
		if caption != "" {
			params = params.WithCaption(caption)
		}
		if len(entities) > 0 {
			params = params.WithCaptionEntities(entities...)
		}
		if markup != nil {
			params = params.WithReplyMarkup(markup)
		}
		_, err = t.bot.SendAudio(ctx, params)
	case media.Voice:
		params := tu.Voice(chat, file)
		if caption != "" {
			params = params.WithCaption(caption)
		}
		if len(entities) > 0 {
			params = params.WithCaptionEntities(entities...)
		}
		if markup != nil {
			params = params.WithReplyMarkup(markup)
		}
		_, err = t.bot.SendVoice(ctx, params)
	case media.Animation:
		params := tu.Animation(chat, file)
		if caption != "" {
			params = params.WithCaption(caption)
		}
		if len(entities) > 0 {
			params = params.WithCaptionEntities(entities...)
		}
		if markup != nil {
			params = params.WithReplyMarkup(markup)
		}
		_, err = t.bot.SendAnimation(ctx, params)
	case media.Document:
		params := tu.Document(chat, file)
		if caption != "" {
			params = params.WithCaption(caption)
		}
		if len(entities) > 0 {
			params = params.WithCaptionEntities(entities...)
		}
		if markup != nil {
			params = params.WithReplyMarkup(markup)
		}
		_, err = t.bot.SendDocument(ctx, params)
	case media.Sticker:
		params := tu.Sticker(chat, file)
		if markup != nil {
			params = params.WithReplyMarkup(markup)
		}
		_, err = t.bot.SendSticker(ctx, params)
	default:
		return fmt.Errorf("%w: %s", packer.ErrUnsupportedCategory, category)
	}

	if err != nil {
		return fmt.Errorf("send %s: %w", category, err)
	}

	return nil
}

// SendGroup delivers an album in one atomic platform call.
func (t *Telegram) SendGroup(ctx context.Context, target packer.Target, items []packer.GroupItem) error {
	inputs, err := buildInputMedia(items)
	if err != nil {
		return err
	}

	t.log.Debug("Sending media group", "target", target.String(), "items", len(items))
	if _, err := t.bot.SendMediaGroup(ctx, tu.MediaGroup(chatID(target), inputs...)); err != nil {
		return fmt.Errorf("send media group: %w", err)
	}

	return nil
}

// Upload stages one local file in the upload chat and returns the remote id
// the platform assigned. The send method follows the asset's category so
// the returned id replays through the same category later.
func (t *Telegram) Upload(ctx context.Context, category media.Category, path string) (string, error) {
	if t.uploadChat == 0 {
		return "", errors.New("channels.telegram.upload_chat is required for uploads")
	}

	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	chat := tu.ID(t.uploadChat)
	input := tu.File(file)

	var message *telego.Message
	switch category {
	case media.Photo:
		message, err = t.bot.SendPhoto(ctx, tu.Photo(chat, input))
	case media.Video:
		message, err = t.bot.SendVideo(ctx, tu.Video(chat, input))
	case media.Audio:
		message, err = t.bot.SendAudio(ctx, tu.Audio(chat, input))
	case media.Voice:
		message, err = t.bot.SendVoice(ctx, tu.Voice(chat, input))
	case media.Animation:
		message, err = t.bot.SendAnimation(ctx, tu.Animation(chat, input))
	case media.Document:
		message, err = t.bot.SendDocument(ctx, tu.Document(chat, input))
	case media.Sticker:
		message, err = t.bot.SendSticker(ctx, tu.Sticker(chat, input))
	default:
		return "", fmt.Errorf("%w: %s", packer.ErrUnsupportedCategory, category)
	}
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", category, err)
	}

	remoteID, err := harvestRemoteID(message, category)
	if err != nil {
		return "", err
	}

	t.log.Info("Uploaded asset to staging chat", "category", category, "remote_id", remoteID)

	return remoteID, nil
}

// ParseTarget turns CLI input into a destination: a numeric chat id or a
// public @username.
func ParseTarget(raw string) (packer.Target, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return packer.Target{}, errors.New("target is required")
	}

	if strings.HasPrefix(trimmed, "@") {
		if len(trimmed) == 1 {
			return packer.Target{}, fmt.Errorf("invalid target %q", raw)
		}
		return packer.Target{Username: trimmed}, nil
	}

	id, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return packer.Target{}, fmt.Errorf("invalid target %q: expected a chat id or @username", raw)
	}

	return packer.Target{ChatID: id}, nil
}

// buildInputMedia validates group composition against platform rules and
// builds the wire items. Audio and document albums must be homogeneous;
// photos and videos may mix.
func buildInputMedia(items []packer.GroupItem) ([]telego.InputMedia, error) {
	if len(items) < minGroupSize || len(items) > maxGroupSize {
		return nil, fmt.Errorf("%w: media group needs %d to %d items, got %d", packer.ErrMalformedMessage, minGroupSize, maxGroupSize, len(items))
	}

	var hasVisual, hasAudio, hasDocument bool
	inputs := make([]telego.InputMedia, 0, len(items))

	for _, item := range items {
		file := tu.FileFromID(item.RemoteID)
		entities := messageEntities(item.Spans)

		switch item.Category {
		case media.Photo:
			hasVisual = true
			input := tu.MediaPhoto(file)
			if item.Caption != "" {
				input = input.WithCaption(item.Caption)
			}
			if len(entities) > 0 {
				input = input.WithCaptionEntities(entities...)
			}
			inputs = append(inputs, input)
		case media.Video:
			hasVisual = true
			input := tu.MediaVideo(file)
			if item.Caption != "" {
				input = input.WithCaption(item.Caption)
			}
			if len(entities) > 0 {
				input = input.WithCaptionEntities(entities...)
			}
			inputs = append(inputs, input)
		case media.Audio:
			hasAudio = true
			input := tu.MediaAudio(file)
			if item.Caption != "" {
				input = input.WithCaption(item.Caption)
			}
			if len(entities) > 0 {
				input = input.WithCaptionEntities(entities...)
			}
			inputs = append(inputs, input)
		case media.Document:
			hasDocument = true
			input := tu.MediaDocument(file)
			if item.Caption != "" {
				input = input.WithCaption(item.Caption)
			}
			if len(entities) > 0 {
				input = input.WithCaptionEntities(entities...)
			}
			inputs = append(inputs, input)
		default:
			return nil, fmt.Errorf("%w: %s cannot be part of a media group", packer.ErrUnsupportedCategory, item.Category)
		}
	}

	if (hasAudio && (hasVisual || hasDocument)) || (hasDocument && hasVisual) {
		return nil, fmt.Errorf("%w: audio and document albums cannot mix with other categories", packer.ErrMalformedMessage)
	}

	return inputs, nil
}

// harvestRemoteID extracts the platform-assigned file id from an upload
// response. Animations arrive with both animation and document payloads, the
// animation id wins.
func harvestRemoteID(message *telego.Message, category media.Category) (string, error) {
	if message == nil {
		return "", fmt.Errorf("empty platform response for %s upload", category)
	}

	switch category {
	case media.Photo:
		if len(message.Photo) > 0 {
			return packer.LargestPhoto(message.Photo).FileID, nil
		}
	case media.Video:
		if message.Video != nil {
			return message.Video.FileID, nil
		}
	case media.Audio:
		if message.Audio != nil {
			return message.Audio.FileID, nil
		}
		if message.Voice != nil {
			return message.Voice.FileID, nil
		}
	case media.Voice:
		if message.Voice != nil {
			return message.Voice.FileID, nil
		}
		if message.Audio != nil {
			return message.Audio.FileID, nil
		}
	case media.Animation:
		if message.Animation != nil {
			return message.Animation.FileID, nil
		}
		if message.Document != nil {
			return message.Document.FileID, nil
		}
	case media.Document:
		if message.Document != nil {
			return message.Document.FileID, nil
		}
	case media.Sticker:
		if message.Sticker != nil {
			return message.Sticker.FileID, nil
		}
	}

	return "", fmt.Errorf("no %s payload in platform response", category)
}

// chatID converts a target into the platform's chat reference.
func chatID(target packer.Target) telego.ChatID {
	if target.Username != "" {
		return tu.Username(target.Username)
	}

	return tu.ID(target.ChatID)
}

// messageEntities maps stored spans back into wire entities without touching
// offsets or lengths.
func messageEntities(spans []packer.FormatSpan) []telego.MessageEntity {
	if len(spans) == 0 {
		return nil
	}

	entities := make([]telego.MessageEntity, 0, len(spans))
	for _, span := range spans {
		entity := telego.MessageEntity{
			Type:          span.Style,
			Offset:        span.Offset,
			Length:        span.Length,
			URL:           span.URL,
			Language:      span.Language,
			CustomEmojiID: span.CustomEmojiID,
		}
		if span.UserID != 0 {
			entity.User = &telego.User{ID: span.UserID}
		}
		entities = append(entities, entity)
	}

	return entities
}

// inlineMarkup decodes captured reply markup. Markup was stored verbatim
// from the platform, so a decode failure means the record is corrupt.
func inlineMarkup(raw json.RawMessage) (*telego.InlineKeyboardMarkup, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var markup telego.InlineKeyboardMarkup
	if err := json.Unmarshal(raw, &markup); err != nil {
		return nil, fmt.Errorf("decode reply markup: %w", err)
	}

	return &markup, nil
}
