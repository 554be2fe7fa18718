// Package chat implements the bot's conversational behavior: matchmaking,
// anonymous relay, reports and the admin surface.
package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/mymmrac/telego"

	"github.com/anonchat-bot/anonchat/pkg/bus"
	"github.com/anonchat-bot/anonchat/pkg/config"
	"github.com/anonchat-bot/anonchat/pkg/dispatch"
	"github.com/anonchat-bot/anonchat/pkg/logger"
	"github.com/anonchat-bot/anonchat/pkg/spam"
	"github.com/anonchat-bot/anonchat/pkg/store"
)

type Bot struct {
	store   *store.Store
	out     *bus.Queue
	limiter *spam.Limiter
	cfg     *config.Config

	// NextInQueue + CreateChat is not atomic; matchmaking serializes here
	// so two concurrent searchers cannot claim the same waiting user.
	matchMu sync.Mutex
}

func NewBot(st *store.Store, out *bus.Queue, limiter *spam.Limiter, cfg *config.Config) *Bot {
	return &Bot{store: st, out: out, limiter: limiter, cfg: cfg}
}

// Register wires every route. Unregistered kinds (edits, callbacks) fall
// through to the dispatcher's counted default.
func (b *Bot) Register(d *dispatch.Dispatcher) {
	d.Handle(dispatch.KindCommand, "start", b.handleStart)
	d.Handle(dispatch.KindCommand, "search", b.handleSearch)
	d.Handle(dispatch.KindCommand, "end", b.handleEnd)
	d.Handle(dispatch.KindCommand, "help", b.handleHelp)
	d.Handle(dispatch.KindCommand, "report", b.handleReport)

	d.Handle(dispatch.KindCommand, "admin_stats", b.handleAdminStats)
	d.Handle(dispatch.KindCommand, "admin_block", b.handleAdminBlock)
	d.Handle(dispatch.KindCommand, "admin_unblock", b.handleAdminUnblock)
	d.Handle(dispatch.KindCommand, "admin_broadcast", b.handleAdminBroadcast)
	d.Handle(dispatch.KindCommand, "admin_reports", b.handleAdminReports)
	d.Handle(dispatch.KindCommand, "admin_chats", b.handleAdminChats)

	d.Handle(dispatch.KindMessage, "", b.handleText)
}

func (b *Bot) reply(chatID int64, text string, buttons [][]string) {
	b.out.Publish(bus.OutboundMessage{
		ChatID:   chatID,
		Text:     text,
		Markdown: true,
		Buttons:  buttons,
	})
}

func (b *Bot) handleStart(ctx context.Context, u telego.Update) error {
	msg := u.Message
	if msg == nil || msg.From == nil {
		return nil
	}
	userID := msg.From.ID

	created, err := b.store.EnsureUser(ctx, userID)
	if err != nil {
		return err
	}
	if created {
		logger.InfoCF("chat", "new user", map[string]interface{}{"user_id": userID})
	}

	if blocked, err := b.store.IsBlocked(ctx, userID); err != nil {
		return err
	} else if blocked {
		b.reply(msg.Chat.ID, textBlocked, nil)
		return nil
	}

	b.reply(msg.Chat.ID, textWelcome, mainKeyboard())
	return nil
}

func (b *Bot) handleSearch(ctx context.Context, u telego.Update) error {
	msg := u.Message
	if msg == nil || msg.From == nil {
		return nil
	}
	userID := msg.From.ID
	chatID := msg.Chat.ID

	if blocked, err := b.store.IsBlocked(ctx, userID); err != nil {
		return err
	} else if blocked {
		b.reply(chatID, textBlocked, nil)
		return nil
	}

	if !b.limiter.AllowCommand(userID) {
		b.reply(chatID, fmt.Sprintf("⏳ Wait %.0f seconds before using a command again.",
			b.cfg.CommandCooldown.Seconds()), nil)
		return nil
	}

	if partner, err := b.store.PartnerOf(ctx, userID); err != nil {
		return err
	} else if partner != 0 {
		b.reply(chatID, textAlreadyInChat, chatKeyboard())
		return nil
	}

	if queued, err := b.store.InQueue(ctx, userID); err != nil {
		return err
	} else if queued {
		b.reply(chatID, textAlreadySearching, nil)
		return nil
	}

	b.matchMu.Lock()
	defer b.matchMu.Unlock()

	partner, found, err := b.store.NextInQueue(ctx)
	if err != nil {
		return err
	}

	if found && partner != userID {
		if err := b.store.Dequeue(ctx, partner); err != nil {
			return err
		}
		if _, err := b.store.CreateChat(ctx, userID, partner); err != nil {
			return err
		}

		b.reply(chatID, textMatched, chatKeyboard())
		b.reply(partner, textMatched, chatKeyboard())
		logger.InfoCF("chat", "matched", map[string]interface{}{
			"user":    userID,
			"partner": partner,
		})
		return nil
	}

	if err := b.store.Enqueue(ctx, userID); err != nil {
		return err
	}
	b.reply(chatID, textSearching, nil)
	logger.InfoCF("chat", "queued", map[string]interface{}{"user_id": userID})
	return nil
}

func (b *Bot) handleEnd(ctx context.Context, u telego.Update) error {
	msg := u.Message
	if msg == nil || msg.From == nil {
		return nil
	}
	userID := msg.From.ID
	chatID := msg.Chat.ID

	partner, err := b.store.PartnerOf(ctx, userID)
	if err != nil {
		return err
	}

	if partner == 0 {
		if queued, err := b.store.InQueue(ctx, userID); err != nil {
			return err
		} else if queued {
			if err := b.store.Dequeue(ctx, userID); err != nil {
				return err
			}
			b.reply(chatID, textSearchCancelled, mainKeyboard())
			return nil
		}
		b.reply(chatID, textNotInChat, mainKeyboard())
		return nil
	}

	if _, err := b.store.EndChat(ctx, userID); err != nil {
		return err
	}

	b.reply(chatID, textYouDisconnected, mainKeyboard())
	b.reply(partner, textPartnerLeft, mainKeyboard())
	logger.InfoCF("chat", "chat ended", map[string]interface{}{
		"user":    userID,
		"partner": partner,
	})
	return nil
}

func (b *Bot) handleHelp(ctx context.Context, u telego.Update) error {
	if u.Message == nil {
		return nil
	}
	b.reply(u.Message.Chat.ID, textHelp, nil)
	return nil
}

func (b *Bot) handleReport(ctx context.Context, u telego.Update) error {
	msg := u.Message
	if msg == nil || msg.From == nil {
		return nil
	}
	userID := msg.From.ID
	chatID := msg.Chat.ID

	partner, err := b.store.PartnerOf(ctx, userID)
	if err != nil {
		return err
	}
	if partner == 0 {
		b.reply(chatID, textReportNoChat, nil)
		return nil
	}

	_, args := dispatch.Command(msg.Text)
	if len(args) == 0 {
		b.reply(chatID, textReportInstruction, nil)
		return nil
	}
	reason := strings.Join(args, " ")

	id, err := b.store.CreateReport(ctx, userID, partner, reason)
	if err != nil {
		return err
	}
	b.reply(chatID, textReportSubmitted, nil)
	logger.InfoCF("chat", "report filed", map[string]interface{}{
		"report_id": id,
		"reporter":  userID,
		"reported":  partner,
	})
	return nil
}

// handleText relays plain messages to the chat partner and routes keyboard
// button presses to their command handlers.
func (b *Bot) handleText(ctx context.Context, u telego.Update) error {
	msg := u.Message
	if msg == nil || msg.From == nil {
		return nil
	}
	userID := msg.From.ID
	chatID := msg.Chat.ID

	switch msg.Text {
	case BtnFindPartner:
		return b.handleSearch(ctx, u)
	case BtnEndChat:
		return b.handleEnd(ctx, u)
	case BtnHelp:
		return b.handleHelp(ctx, u)
	}

	if blocked, err := b.store.IsBlocked(ctx, userID); err != nil {
		return err
	} else if blocked {
		b.reply(chatID, textBlocked, nil)
		return nil
	}

	partner, err := b.store.PartnerOf(ctx, userID)
	if err != nil {
		return err
	}
	if partner == 0 {
		b.reply(chatID, textNotInChat, mainKeyboard())
		return nil
	}

	if !b.limiter.AllowMessage(userID) {
		b.reply(chatID, textSpamWarning, nil)
		return nil
	}

	b.out.Publish(bus.OutboundMessage{
		ChatID:              partner,
		CopyFromChatID:      chatID,
		CopyMessageID:       msg.MessageID,
		FailureNoticeChatID: chatID,
		FailureNotice:       textRelayFailed,
	})
	return nil
}
