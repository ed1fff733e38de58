package vault

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"packrat/pkg/packer"
)

// Record is one archived message at rest: the packed form plus enough
// capture context to replay it or show it in a listing. Records are
// immutable once written.
type Record struct {
	ID         string               `json:"id"`
	Channel    string               `json:"channel"`
	ChatID     string               `json:"chat_id"`
	SenderID   string               `json:"sender_id"`
	CapturedAt time.Time            `json:"captured_at"`
	Packed     packer.PackedMessage `json:"packed"`
}

// NewRecord stamps a packed message with a fresh id and capture context.
func NewRecord(channel, chatID, senderID string, packed packer.PackedMessage) Record {
	return Record{
		ID:         uuid.NewString(),
		Channel:    channel,
		ChatID:     chatID,
		SenderID:   senderID,
		CapturedAt: time.Now().UTC(),
		Packed:     packed,
	}
}

// ShortID returns the leading segment of the record id, enough to name the
// record in chat replies and logs.
func (r Record) ShortID() string {
	return ShortID(r.ID)
}

// Preview returns the text a listing shows for this record: the message
// body for text records, the caption for everything else.
func (r Record) Preview() string {
	if r.Packed.Text != "" {
		return strings.TrimSpace(r.Packed.Text)
	}

	return strings.TrimSpace(r.Packed.Caption)
}

// ShortID trims a record id down to its first segment. Record ids are
// UUIDs, so the leading eight characters are what /replay accepts back.
func ShortID(id string) string {
	if idx := strings.IndexByte(id, '-'); idx > 0 {
		return id[:idx]
	}
	if len(id) > 8 {
		return id[:8]
	}

	return id
}
