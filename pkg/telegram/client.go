package telegram

import (
	"context"
	"fmt"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/anonchat-bot/anonchat/pkg/bus"
	"github.com/anonchat-bot/anonchat/pkg/logger"
)

// Client wraps the Bot API for the two directions this bot needs: fetching
// update batches with an explicit offset, and delivering outbound messages.
type Client struct {
	bot   *telego.Bot
	limit int
}

func NewClient(token string, batchLimit int) (*Client, error) {
	bot, err := telego.NewBot(token, telego.WithDiscardLogger())
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	if batchLimit <= 0 || batchLimit > 100 {
		batchLimit = 100
	}
	return &Client{bot: bot, limit: batchLimit}, nil
}

// Hello verifies the token and logs the bot identity.
func (c *Client) Hello(ctx context.Context) error {
	me, err := c.bot.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("getMe failed: %w", err)
	}
	logger.InfoCF("telegram", "connected", map[string]interface{}{
		"username": me.Username,
		"bot_id":   me.ID,
	})
	return nil
}

// DeleteWebhook removes any configured webhook; getUpdates conflicts with
// an active webhook otherwise.
func (c *Client) DeleteWebhook(ctx context.Context) error {
	return c.bot.DeleteWebhook(ctx, &telego.DeleteWebhookParams{})
}

// FetchUpdates long-polls getUpdates starting at offset. It blocks for up
// to timeoutSeconds server-side; errors come back classified as
// *TransportError.
func (c *Client) FetchUpdates(ctx context.Context, offset, timeoutSeconds int) ([]telego.Update, error) {
	updates, err := c.bot.GetUpdates(ctx, &telego.GetUpdatesParams{
		Offset:  offset,
		Limit:   c.limit,
		Timeout: timeoutSeconds,
		AllowedUpdates: []string{
			telego.MessageUpdates,
			telego.EditedMessageUpdates,
			telego.CallbackQueryUpdates,
		},
	})
	if err != nil {
		return nil, classify(err)
	}
	return updates, nil
}

// SendText delivers a text reply, attaching the requested reply keyboard.
// Markdown failures fall back to plain text rather than dropping the reply.
func (c *Client) SendText(ctx context.Context, msg bus.OutboundMessage) error {
	params := &telego.SendMessageParams{
		ChatID:      tu.ID(msg.ChatID),
		Text:        msg.Text,
		ReplyMarkup: replyMarkup(msg),
	}
	if msg.Markdown {
		params.ParseMode = telego.ModeMarkdown
	}

	_, err := c.bot.SendMessage(ctx, params)
	if err != nil && msg.Markdown {
		logger.DebugCF("telegram", "markdown send failed, retrying plain", map[string]interface{}{
			"chat_id": msg.ChatID,
			"error":   err.Error(),
		})
		params.ParseMode = ""
		_, err = c.bot.SendMessage(ctx, params)
	}
	if err != nil {
		return classify(err)
	}
	return nil
}

// Copy relays a message into another chat without the forwarded-from
// header, which is what keeps partners anonymous to each other.
func (c *Client) Copy(ctx context.Context, msg bus.OutboundMessage) error {
	_, err := c.bot.CopyMessage(ctx, &telego.CopyMessageParams{
		ChatID:     tu.ID(msg.ChatID),
		FromChatID: tu.ID(msg.CopyFromChatID),
		MessageID:  msg.CopyMessageID,
	})
	if err != nil {
		return classify(err)
	}
	return nil
}

func replyMarkup(msg bus.OutboundMessage) telego.ReplyMarkup {
	if msg.RemoveKeyboard {
		return &telego.ReplyKeyboardRemove{RemoveKeyboard: true}
	}
	if len(msg.Buttons) == 0 {
		return nil
	}
	rows := make([][]telego.KeyboardButton, 0, len(msg.Buttons))
	for _, labels := range msg.Buttons {
		row := make([]telego.KeyboardButton, 0, len(labels))
		for _, label := range labels {
			row = append(row, tu.KeyboardButton(label))
		}
		rows = append(rows, row)
	}
	return tu.Keyboard(rows...).WithResizeKeyboard()
}
