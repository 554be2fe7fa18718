package telegram

import (
	"context"
	"time"

	"github.com/anonchat-bot/anonchat/pkg/bus"
	"github.com/anonchat-bot/anonchat/pkg/logger"
)

const sendTimeout = 30 * time.Second

// Sender drains the outbound queue into the Bot API. It runs until the
// queue is closed, so messages published by draining handlers still go out
// during shutdown. Delivery is at-least-once; failures are logged, and a
// failed relay triggers the best-effort notice carried on the message.
type Sender struct {
	client *Client
	queue  *bus.Queue
}

func NewSender(client *Client, queue *bus.Queue) *Sender {
	return &Sender{client: client, queue: queue}
}

func (s *Sender) Run() {
	for {
		msg, ok := s.queue.Consume(context.Background())
		if !ok {
			logger.InfoC("sender", "outbound queue closed, stopping")
			return
		}
		s.deliver(msg)
	}
}

func (s *Sender) deliver(msg bus.OutboundMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	if msg.IsCopy() {
		if err := s.client.Copy(ctx, msg); err != nil {
			logger.WarnCF("sender", "relay failed", map[string]interface{}{
				"chat_id": msg.ChatID,
				"from":    msg.CopyFromChatID,
				"error":   err.Error(),
			})
			if msg.FailureNotice != "" && msg.FailureNoticeChatID != 0 {
				s.notifyFailure(ctx, msg)
			}
		}
		return
	}

	if err := s.client.SendText(ctx, msg); err != nil {
		logger.ErrorCF("sender", "send failed", map[string]interface{}{
			"chat_id": msg.ChatID,
			"error":   err.Error(),
		})
	}
}

func (s *Sender) notifyFailure(ctx context.Context, msg bus.OutboundMessage) {
	notice := bus.OutboundMessage{
		ChatID: msg.FailureNoticeChatID,
		Text:   msg.FailureNotice,
	}
	if err := s.client.SendText(ctx, notice); err != nil {
		logger.DebugCF("sender", "failure notice not delivered", map[string]interface{}{
			"chat_id": notice.ChatID,
			"error":   err.Error(),
		})
	}
}
