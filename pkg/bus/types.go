package bus

import "packrat/pkg/packer"

// InboundMessage is one captured channel update on its way to the vault.
// Either Packed carries an archivable message, or Command names a control
// command the sender issued; never both.
type InboundMessage struct {
	Channel     string                `json:"channel"`
	SenderID    string                `json:"sender_id"`
	ChatID      string                `json:"chat_id"`
	Command     string                `json:"command,omitempty"`
	CommandArgs string                `json:"command_args,omitempty"`
	Packed      *packer.PackedMessage `json:"packed,omitempty"`
	Metadata    map[string]string     `json:"metadata,omitempty"`
}

// OutboundMessage is the reply a channel adapter delivers back to the chat
// after the vault processed an inbound message.
type OutboundMessage struct {
	Channel  string            `json:"channel"`
	ChatID   string            `json:"chat_id"`
	Content  string            `json:"content"`
	Error    string            `json:"error,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}
