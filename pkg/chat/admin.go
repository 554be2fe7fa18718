package chat

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"

	"github.com/anonchat-bot/anonchat/pkg/bus"
	"github.com/anonchat-bot/anonchat/pkg/dispatch"
	"github.com/anonchat-bot/anonchat/pkg/logger"
)

// requireAdmin replies and returns false for non-admin senders.
func (b *Bot) requireAdmin(msg *telego.Message) bool {
	if msg.From == nil || !b.cfg.IsAdmin(msg.From.ID) {
		b.reply(msg.Chat.ID, textNotAdmin, nil)
		return false
	}
	return true
}

func (b *Bot) handleAdminStats(ctx context.Context, u telego.Update) error {
	msg := u.Message
	if msg == nil || !b.requireAdmin(msg) {
		return nil
	}

	st, err := b.store.GetStats(ctx)
	if err != nil {
		return err
	}

	b.reply(msg.Chat.ID, fmt.Sprintf(
		"📊 *Bot statistics*\n\n"+
			"👥 Users: %d\n"+
			"💬 Active chats: %d\n"+
			"⏳ Waiting: %d\n"+
			"🚫 Blocked: %d\n"+
			"📝 Pending reports: %d",
		st.TotalUsers, st.ActiveChats, st.WaitingUsers, st.BlockedUsers, st.PendingReports), nil)
	return nil
}

// targetUser parses the single user-ID argument of admin_block/unblock.
func (b *Bot) targetUser(msg *telego.Message, usage string) (int64, bool) {
	_, args := dispatch.Command(msg.Text)
	if len(args) == 0 {
		b.reply(msg.Chat.ID, "Usage: "+usage, nil)
		return 0, false
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		b.reply(msg.Chat.ID, "The user ID must be a number.", nil)
		return 0, false
	}
	return id, true
}

func (b *Bot) handleAdminBlock(ctx context.Context, u telego.Update) error {
	msg := u.Message
	if msg == nil || !b.requireAdmin(msg) {
		return nil
	}
	target, ok := b.targetUser(msg, "/admin_block <user_id>")
	if !ok {
		return nil
	}

	if exists, err := b.store.UserExists(ctx, target); err != nil {
		return err
	} else if !exists {
		b.reply(msg.Chat.ID, fmt.Sprintf("User %d is not in the database.", target), nil)
		return nil
	}

	if err := b.store.SetBlocked(ctx, target, true); err != nil {
		return err
	}
	// Kick them out of any chat or queue they occupy.
	if _, err := b.store.EndChat(ctx, target); err != nil {
		return err
	}
	if err := b.store.Dequeue(ctx, target); err != nil {
		return err
	}

	b.reply(msg.Chat.ID, fmt.Sprintf("🚫 User %d blocked.", target), nil)
	logger.InfoCF("admin", "user blocked", map[string]interface{}{
		"admin":  msg.From.ID,
		"target": target,
	})
	return nil
}

func (b *Bot) handleAdminUnblock(ctx context.Context, u telego.Update) error {
	msg := u.Message
	if msg == nil || !b.requireAdmin(msg) {
		return nil
	}
	target, ok := b.targetUser(msg, "/admin_unblock <user_id>")
	if !ok {
		return nil
	}

	if exists, err := b.store.UserExists(ctx, target); err != nil {
		return err
	} else if !exists {
		b.reply(msg.Chat.ID, fmt.Sprintf("User %d is not in the database.", target), nil)
		return nil
	}

	if err := b.store.SetBlocked(ctx, target, false); err != nil {
		return err
	}
	b.reply(msg.Chat.ID, fmt.Sprintf("✅ User %d unblocked.", target), nil)
	logger.InfoCF("admin", "user unblocked", map[string]interface{}{
		"admin":  msg.From.ID,
		"target": target,
	})
	return nil
}

func (b *Bot) handleAdminBroadcast(ctx context.Context, u telego.Update) error {
	msg := u.Message
	if msg == nil || !b.requireAdmin(msg) {
		return nil
	}

	_, args := dispatch.Command(msg.Text)
	if len(args) == 0 {
		b.reply(msg.Chat.ID, "Usage: /admin_broadcast <message>", nil)
		return nil
	}
	text := "📢 *Message from the admins:*\n\n" + strings.Join(args, " ")

	ids, err := b.store.AllUserIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		b.out.Publish(bus.OutboundMessage{ChatID: id, Text: text, Markdown: true})
	}

	b.reply(msg.Chat.ID, fmt.Sprintf("📢 Broadcast queued to %d users.", len(ids)), nil)
	logger.InfoCF("admin", "broadcast queued", map[string]interface{}{
		"admin":      msg.From.ID,
		"recipients": len(ids),
	})
	return nil
}

func (b *Bot) handleAdminReports(ctx context.Context, u telego.Update) error {
	msg := u.Message
	if msg == nil || !b.requireAdmin(msg) {
		return nil
	}

	reports, err := b.store.OpenReports(ctx, 10)
	if err != nil {
		return err
	}
	if len(reports) == 0 {
		b.reply(msg.Chat.ID, "✅ No pending reports.", nil)
		return nil
	}

	var sb strings.Builder
	sb.WriteString("📝 *Pending reports:*\n\n")
	for i, r := range reports {
		fmt.Fprintf(&sb, "%d. Reporter: `%d`\n   Reported: `%d`\n   Reason: %s\n   At: %s\n\n",
			i+1, r.Reporter, r.Reported, r.Reason, r.CreatedAt.Format("2006-01-02 15:04"))
	}
	b.reply(msg.Chat.ID, sb.String(), nil)
	return nil
}

func (b *Bot) handleAdminChats(ctx context.Context, u telego.Update) error {
	msg := u.Message
	if msg == nil || !b.requireAdmin(msg) {
		return nil
	}

	st, err := b.store.GetStats(ctx)
	if err != nil {
		return err
	}
	b.reply(msg.Chat.ID, fmt.Sprintf("💬 *Active chats:* %d\n⏳ *Waiting:* %d",
		st.ActiveChats, st.WaitingUsers), nil)
	return nil
}
