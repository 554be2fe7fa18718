package bus

// OutboundMessage is one unit of work for the Telegram sender. Either a text
// reply or an anonymous relay of an existing message (copy), never both.
type OutboundMessage struct {
	ChatID   int64  `json:"chat_id"`
	Text     string `json:"text,omitempty"`
	Markdown bool   `json:"markdown,omitempty"`

	// Reply keyboard to attach: rows of button labels. RemoveKeyboard wins
	// over Buttons when both are set.
	Buttons        [][]string `json:"buttons,omitempty"`
	RemoveKeyboard bool       `json:"remove_keyboard,omitempty"`

	// Relay fields: copy CopyMessageID from CopyFromChatID into ChatID.
	CopyFromChatID int64 `json:"copy_from_chat_id,omitempty"`
	CopyMessageID  int   `json:"copy_message_id,omitempty"`

	// Best-effort notice sent back to FailureNoticeChatID when a relay
	// cannot be delivered (partner blocked the bot, left, etc).
	FailureNoticeChatID int64  `json:"failure_notice_chat_id,omitempty"`
	FailureNotice       string `json:"failure_notice,omitempty"`
}

// IsCopy reports whether the message is a relay rather than a text reply.
func (m OutboundMessage) IsCopy() bool {
	return m.CopyMessageID != 0
}
