package packer

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/mymmrac/telego"

	"packrat/pkg/media"
)

func TestPackText(t *testing.T) {
	message := &telego.Message{
		Text: "hello *world*",
		Entities: []telego.MessageEntity{
			{Type: "italic", Offset: 6, Length: 7},
		},
	}

	packed, err := Pack(message)
	if err != nil {
		t.Fatalf("Pack error: %v", err)
	}

	if packed.Category != media.Text {
		t.Fatalf("category = %q, want %q", packed.Category, media.Text)
	}
	if packed.Text != "hello *world*" {
		t.Fatalf("text = %q", packed.Text)
	}
	if packed.Content != nil {
		t.Fatal("text message should carry no content ref")
	}
	if len(packed.Spans) != 1 || packed.Spans[0].Style != "italic" || packed.Spans[0].Offset != 6 || packed.Spans[0].Length != 7 {
		t.Fatalf("spans = %+v", packed.Spans)
	}
}

func TestPackVideoWithCaptionAndBoldSpan(t *testing.T) {
	message := &telego.Message{
		Video:   &telego.Video{FileID: "abc123"},
		Caption: "demo",
		CaptionEntities: []telego.MessageEntity{
			{Type: "bold", Offset: 0, Length: 4},
		},
	}

	packed, err := Pack(message)
	if err != nil {
		t.Fatalf("Pack error: %v", err)
	}

	if packed.Category != media.Video {
		t.Fatalf("category = %q, want %q", packed.Category, media.Video)
	}
	if packed.Content == nil || packed.Content.Kind != RefRemote || packed.Content.RemoteID != "abc123" {
		t.Fatalf("content = %+v, want remote abc123", packed.Content)
	}
	if packed.Caption != "demo" {
		t.Fatalf("caption = %q, want %q", packed.Caption, "demo")
	}
	if len(packed.Spans) != 1 || packed.Spans[0] != (FormatSpan{Offset: 0, Length: 4, Style: "bold"}) {
		t.Fatalf("spans = %+v, want one bold span (0,4)", packed.Spans)
	}
}

func TestPackEveryMediaField(t *testing.T) {
	cases := []struct {
		name     string
		message  *telego.Message
		category media.Category
		remoteID string
	}{
		{
			name:     "photo",
			message:  &telego.Message{Photo: []telego.PhotoSize{{FileID: "p1", Width: 90, Height: 60}}},
			category: media.Photo,
			remoteID: "p1",
		},
		{
			name:     "video",
			message:  &telego.Message{Video: &telego.Video{FileID: "v1"}},
			category: media.Video,
			remoteID: "v1",
		},
		{
			name:     "audio",
			message:  &telego.Message{Audio: &telego.Audio{FileID: "a1"}},
			category: media.Audio,
			remoteID: "a1",
		},
		{
			name:     "voice",
			message:  &telego.Message{Voice: &telego.Voice{FileID: "vc1"}},
			category: media.Voice,
			remoteID: "vc1",
		},
		{
			name:     "animation",
			message:  &telego.Message{Animation: &telego.Animation{FileID: "an1"}},
			category: media.Animation,
			remoteID: "an1",
		},
		{
			name:     "document",
			message:  &telego.Message{Document: &telego.Document{FileID: "d1"}},
			category: media.Document,
			remoteID: "d1",
		},
		{
			name:     "sticker",
			message:  &telego.Message{Sticker: &telego.Sticker{FileID: "s1"}},
			category: media.Sticker,
			remoteID: "s1",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			packed, err := Pack(tc.message)
			if err != nil {
				t.Fatalf("Pack error: %v", err)
			}
			if packed.Category != tc.category {
				t.Fatalf("category = %q, want %q", packed.Category, tc.category)
			}
			if packed.Content == nil || packed.Content.RemoteID != tc.remoteID {
				t.Fatalf("content = %+v, want remote %q", packed.Content, tc.remoteID)
			}
			if err := packed.Validate(); err != nil {
				t.Fatalf("Validate error: %v", err)
			}
		})
	}
}

func TestPackAnimationDocumentPairCountsAsOne(t *testing.T) {
	message := &telego.Message{
		Animation: &telego.Animation{FileID: "gif1"},
		Document:  &telego.Document{FileID: "gif1-doc"},
	}

	packed, err := Pack(message)
	if err != nil {
		t.Fatalf("Pack error: %v", err)
	}
	if packed.Category != media.Animation {
		t.Fatalf("category = %q, want %q", packed.Category, media.Animation)
	}
	if packed.Content.RemoteID != "gif1" {
		t.Fatalf("remote id = %q, want animation id", packed.Content.RemoteID)
	}
}

func TestPackRejectsEmptyMessage(t *testing.T) {
	_, err := Pack(&telego.Message{})
	if !errors.Is(err, ErrMalformedMessage) {
		t.Fatalf("error = %v, want ErrMalformedMessage", err)
	}

	_, err = Pack(nil)
	if !errors.Is(err, ErrMalformedMessage) {
		t.Fatalf("error for nil = %v, want ErrMalformedMessage", err)
	}
}

func TestPackRejectsAmbiguousContent(t *testing.T) {
	message := &telego.Message{
		Photo: []telego.PhotoSize{{FileID: "p1"}},
		Video: &telego.Video{FileID: "v1"},
	}

	if _, err := Pack(message); !errors.Is(err, ErrMalformedMessage) {
		t.Fatalf("error = %v, want ErrMalformedMessage", err)
	}
}

func TestPackPicksLargestPhotoSize(t *testing.T) {
	message := &telego.Message{
		Photo: []telego.PhotoSize{
			{FileID: "small", Width: 90, Height: 60},
			{FileID: "large", Width: 1280, Height: 960},
			{FileID: "medium", Width: 320, Height: 240},
		},
	}

	packed, err := Pack(message)
	if err != nil {
		t.Fatalf("Pack error: %v", err)
	}
	if packed.Content.RemoteID != "large" {
		t.Fatalf("remote id = %q, want %q", packed.Content.RemoteID, "large")
	}
}

func TestPackKeepsMarkupAndGroupVerbatim(t *testing.T) {
	markup := &telego.InlineKeyboardMarkup{
		InlineKeyboard: [][]telego.InlineKeyboardButton{
			{{Text: "открыть", URL: "https://example.com"}},
		},
	}
	message := &telego.Message{
		Photo:        []telego.PhotoSize{{FileID: "p1", Width: 1, Height: 1}},
		Caption:      "альбом",
		ReplyMarkup:  markup,
		MediaGroupID: "group-77",
	}

	packed, err := Pack(message)
	if err != nil {
		t.Fatalf("Pack error: %v", err)
	}
	if packed.GroupID != "group-77" {
		t.Fatalf("group id = %q, want %q", packed.GroupID, "group-77")
	}
	if len(packed.ReplyMarkup) == 0 {
		t.Fatal("expected reply markup to be captured")
	}

	var decoded telego.InlineKeyboardMarkup
	if err := json.Unmarshal(packed.ReplyMarkup, &decoded); err != nil {
		t.Fatalf("decode markup: %v", err)
	}
	if decoded.InlineKeyboard[0][0].Text != "открыть" {
		t.Fatalf("markup button text = %q", decoded.InlineKeyboard[0][0].Text)
	}
}

func TestPackCopiesEntityExtras(t *testing.T) {
	message := &telego.Message{
		Text: "see docs and ping",
		Entities: []telego.MessageEntity{
			{Type: "text_link", Offset: 4, Length: 4, URL: "https://docs.example.com"},
			{Type: "text_mention", Offset: 13, Length: 4, User: &telego.User{ID: 4242}},
		},
	}

	packed, err := Pack(message)
	if err != nil {
		t.Fatalf("Pack error: %v", err)
	}
	if packed.Spans[0].URL != "https://docs.example.com" {
		t.Fatalf("span url = %q", packed.Spans[0].URL)
	}
	if packed.Spans[1].UserID != 4242 {
		t.Fatalf("span user id = %d, want 4242", packed.Spans[1].UserID)
	}
}

func TestValidateCatchesBrokenPairings(t *testing.T) {
	cases := []struct {
		name   string
		packed PackedMessage
	}{
		{"unknown category", PackedMessage{Category: "hologram"}},
		{"text with content", PackedMessage{Category: media.Text, Text: "x", Content: RemoteRef("r")}},
		{"text without text", PackedMessage{Category: media.Text}},
		{"media without content", PackedMessage{Category: media.Photo}},
		{"media with inline text", PackedMessage{Category: media.Photo, Text: "x", Content: RemoteRef("r")}},
		{"remote without id", PackedMessage{Category: media.Photo, Content: &ContentRef{Kind: RefRemote}}},
		{"local without path", PackedMessage{Category: media.Photo, Content: &ContentRef{Kind: RefLocal}}},
		{"unknown ref kind", PackedMessage{Category: media.Photo, Content: &ContentRef{Kind: "teleport"}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.packed.Validate(); !errors.Is(err, ErrMalformedMessage) {
				t.Fatalf("Validate = %v, want ErrMalformedMessage", err)
			}
		})
	}

	valid := PackedMessage{Category: media.Voice, Content: RemoteRef("vc")}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate on valid message: %v", err)
	}
}
