package packer

import (
	"encoding/json"
	"fmt"
	"strconv"

	"packrat/pkg/media"
)

// RefKind tags where packed content lives.
type RefKind string

const (
	// RefRemote marks content the platform already hosts under an opaque id.
	RefRemote RefKind = "remote"
	// RefLocal marks content that still lives on disk and awaits upload.
	RefLocal RefKind = "local"
)

// ContentRef points at the media payload of a packed message. Exactly one
// arm is populated, selected by Kind.
type ContentRef struct {
	Kind        RefKind `json:"kind"`
	RemoteID    string  `json:"remote_id,omitempty"`
	LocalPath   string  `json:"local_path,omitempty"`
	ContentHash string  `json:"content_hash,omitempty"`
}

// RemoteRef builds a content ref for platform-hosted media.
func RemoteRef(remoteID string) *ContentRef {
	return &ContentRef{Kind: RefRemote, RemoteID: remoteID}
}

// LocalRef builds a content ref for an on-disk file awaiting upload.
func LocalRef(path string, contentHash string) *ContentRef {
	return &ContentRef{Kind: RefLocal, LocalPath: path, ContentHash: contentHash}
}

// FormatSpan is one verbatim formatting entity. Offset and Length are the
// platform's UTF-16 code unit values and are never recomputed, so replays
// reproduce the original styling exactly.
type FormatSpan struct {
	Offset        int    `json:"offset"`
	Length        int    `json:"length"`
	Style         string `json:"style"`
	URL           string `json:"url,omitempty"`
	UserID        int64  `json:"user_id,omitempty"`
	Language      string `json:"language,omitempty"`
	CustomEmojiID string `json:"custom_emoji_id,omitempty"`
}

// PackedMessage is the durable, platform-independent form of one captured
// message. It is immutable once packed and safe to persist as plain JSON.
type PackedMessage struct {
	Category    media.Category  `json:"category"`
	Text        string          `json:"text,omitempty"`
	Content     *ContentRef     `json:"content,omitempty"`
	Caption     string          `json:"caption,omitempty"`
	Spans       []FormatSpan    `json:"spans,omitempty"`
	ReplyMarkup json.RawMessage `json:"reply_markup,omitempty"`
	GroupID     string          `json:"group_id,omitempty"`
	Ordinal     int             `json:"ordinal,omitempty"`
}

// Validate checks the category/content pairing invariant: text messages
// carry inline text and no content ref, media messages carry exactly one
// populated content arm.
func (m PackedMessage) Validate() error {
	if !m.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrMalformedMessage, string(m.Category))
	}

	if m.Category == media.Text {
		if m.Content != nil {
			return fmt.Errorf("%w: text message carries a content ref", ErrMalformedMessage)
		}
		if m.Text == "" {
			return fmt.Errorf("%w: text message carries no text", ErrMalformedMessage)
		}
		return nil
	}

	if m.Text != "" {
		return fmt.Errorf("%w: %s message carries inline text", ErrMalformedMessage, m.Category)
	}
	if m.Content == nil {
		return fmt.Errorf("%w: %s message carries no content ref", ErrMalformedMessage, m.Category)
	}

	switch m.Content.Kind {
	case RefRemote:
		if m.Content.RemoteID == "" {
			return fmt.Errorf("%w: remote ref carries no id", ErrMalformedMessage)
		}
	case RefLocal:
		if m.Content.LocalPath == "" {
			return fmt.Errorf("%w: local ref carries no path", ErrMalformedMessage)
		}
	default:
		return fmt.Errorf("%w: unknown content ref kind %q", ErrMalformedMessage, string(m.Content.Kind))
	}

	return nil
}

// Target identifies an outbound chat destination, either by numeric chat id
// or by public @username.
type Target struct {
	ChatID   int64  `json:"chat_id,omitempty"`
	Username string `json:"username,omitempty"`
}

// IsZero reports whether no destination has been set.
func (t Target) IsZero() bool {
	return t.ChatID == 0 && t.Username == ""
}

func (t Target) String() string {
	if t.Username != "" {
		return t.Username
	}

	return strconv.FormatInt(t.ChatID, 10)
}

// GroupItem is one member of an atomic multi-item send.
type GroupItem struct {
	Category media.Category
	RemoteID string
	Caption  string
	Spans    []FormatSpan
}
