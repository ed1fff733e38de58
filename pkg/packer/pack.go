package packer

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mymmrac/telego"

	"packrat/pkg/media"
)

// Pack converts one live inbound message into its durable packed form.
//
// A message has exactly one primary content field plus optional caption,
// formatting, markup, and grouping. The platform guarantees this shape, but
// Pack still counts populated fields and rejects zero or several with
// ErrMalformedMessage rather than guessing. Animated GIFs arrive with both
// the animation and a companion document field set; that pair counts as one
// field and the animation wins.
func Pack(message *telego.Message) (PackedMessage, error) {
	if message == nil {
		return PackedMessage{}, fmt.Errorf("%w: message is nil", ErrMalformedMessage)
	}

	populated := 0
	var packed PackedMessage

	if strings.TrimSpace(message.Text) != "" {
		populated++
		packed.Category = media.Text
		packed.Text = message.Text
	}
	if len(message.Photo) > 0 {
		populated++
		packed.Category = media.Photo
		packed.Content = RemoteRef(LargestPhoto(message.Photo).FileID)
	}
	if message.Video != nil {
		populated++
		packed.Category = media.Video
		packed.Content = RemoteRef(message.Video.FileID)
	}
	if message.Audio != nil {
		populated++
		packed.Category = media.Audio
		packed.Content = RemoteRef(message.Audio.FileID)
	}
	if message.Voice != nil {
		populated++
		packed.Category = media.Voice
		packed.Content = RemoteRef(message.Voice.FileID)
	}
	if message.Animation != nil {
		populated++
		packed.Category = media.Animation
		packed.Content = RemoteRef(message.Animation.FileID)
	}
	if message.Document != nil && message.Animation == nil {
		populated++
		packed.Category = media.Document
		packed.Content = RemoteRef(message.Document.FileID)
	}
	if message.Sticker != nil {
		populated++
		packed.Category = media.Sticker
		packed.Content = RemoteRef(message.Sticker.FileID)
	}

	if populated == 0 {
		return PackedMessage{}, fmt.Errorf("%w: no recognized primary content field", ErrMalformedMessage)
	}
	if populated > 1 {
		return PackedMessage{}, fmt.Errorf("%w: %d primary content fields populated", ErrMalformedMessage, populated)
	}

	if packed.Category == media.Text {
		packed.Spans = spansFromEntities(message.Entities)
	} else {
		packed.Caption = message.Caption
		packed.Spans = spansFromEntities(message.CaptionEntities)
	}

	if message.ReplyMarkup != nil {
		raw, err := json.Marshal(message.ReplyMarkup)
		if err != nil {
			return PackedMessage{}, fmt.Errorf("%w: encode reply markup: %v", ErrMalformedMessage, err)
		}
		packed.ReplyMarkup = raw
	}

	packed.GroupID = message.MediaGroupID

	return packed, nil
}

// spansFromEntities copies platform entities into storable spans verbatim.
func spansFromEntities(entities []telego.MessageEntity) []FormatSpan {
	if len(entities) == 0 {
		return nil
	}

	spans := make([]FormatSpan, 0, len(entities))
	for _, entity := range entities {
		span := FormatSpan{
			Offset:        entity.Offset,
			Length:        entity.Length,
			Style:         entity.Type,
			URL:           entity.URL,
			Language:      entity.Language,
			CustomEmojiID: entity.CustomEmojiID,
		}
		if entity.User != nil {
			span.UserID = entity.User.ID
		}
		spans = append(spans, span)
	}

	return spans
}

// LargestPhoto picks the biggest rendition from a photo size set.
func LargestPhoto(sizes []telego.PhotoSize) telego.PhotoSize {
	best := sizes[0]
	for _, candidate := range sizes[1:] {
		if candidate.Width*candidate.Height >= best.Width*best.Height {
			best = candidate
		}
	}

	return best
}
