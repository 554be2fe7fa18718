package chat

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mymmrac/telego"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anonchat-bot/anonchat/pkg/bus"
	"github.com/anonchat-bot/anonchat/pkg/config"
	"github.com/anonchat-bot/anonchat/pkg/spam"
	"github.com/anonchat-bot/anonchat/pkg/store"
)

const adminID int64 = 900

func testBot(t *testing.T) (*Bot, *bus.Queue, *store.Store) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "bot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	out := bus.NewQueue(64)
	limiter := spam.NewLimiter(100, 0) // permissive unless a test says otherwise
	cfg := &config.Config{AdminIDs: []int64{adminID}, CommandCooldown: 0}
	return NewBot(st, out, limiter, cfg), out, st
}

func msgUpdate(userID int64, text string) telego.Update {
	return telego.Update{
		UpdateID: 1,
		Message: &telego.Message{
			MessageID: 1,
			From:      &telego.User{ID: userID},
			Chat:      telego.Chat{ID: userID, Type: "private"},
			Text:      text,
		},
	}
}

// drainOut empties the outbound queue into a slice.
func drainOut(t *testing.T, q *bus.Queue) []bus.OutboundMessage {
	t.Helper()
	var msgs []bus.OutboundMessage
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		msg, ok := q.Consume(ctx)
		cancel()
		if !ok {
			return msgs
		}
		msgs = append(msgs, msg)
	}
}

func register(t *testing.T, b *Bot, q *bus.Queue, userID int64) {
	t.Helper()
	require.NoError(t, b.handleStart(context.Background(), msgUpdate(userID, "/start")))
	drainOut(t, q)
}

func TestStartRegistersAndGreets(t *testing.T) {
	b, out, st := testBot(t)
	ctx := context.Background()

	require.NoError(t, b.handleStart(ctx, msgUpdate(1, "/start")))

	exists, err := st.UserExists(ctx, 1)
	require.NoError(t, err)
	assert.True(t, exists)

	msgs := drainOut(t, out)
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(1), msgs[0].ChatID)
	assert.Contains(t, msgs[0].Text, "Welcome")
	assert.NotEmpty(t, msgs[0].Buttons)
}

func TestSearchQueuesThenMatches(t *testing.T) {
	b, out, st := testBot(t)
	ctx := context.Background()
	register(t, b, out, 1)
	register(t, b, out, 2)

	// First searcher waits.
	require.NoError(t, b.handleSearch(ctx, msgUpdate(1, "/search")))
	msgs := drainOut(t, out)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Text, "Searching")

	queued, err := st.InQueue(ctx, 1)
	require.NoError(t, err)
	assert.True(t, queued)

	// Second searcher gets matched with the first.
	require.NoError(t, b.handleSearch(ctx, msgUpdate(2, "/search")))
	msgs = drainOut(t, out)
	require.Len(t, msgs, 2, "both sides must be notified")
	for _, m := range msgs {
		assert.Contains(t, m.Text, "Partner found")
	}

	p1, _ := st.PartnerOf(ctx, 1)
	p2, _ := st.PartnerOf(ctx, 2)
	assert.Equal(t, int64(2), p1)
	assert.Equal(t, int64(1), p2)

	queued, _ = st.InQueue(ctx, 1)
	assert.False(t, queued, "matched user must leave the queue")
}

func TestSearchWhileInChatRefused(t *testing.T) {
	b, out, st := testBot(t)
	ctx := context.Background()
	register(t, b, out, 1)
	register(t, b, out, 2)
	_, err := st.CreateChat(ctx, 1, 2)
	require.NoError(t, err)

	require.NoError(t, b.handleSearch(ctx, msgUpdate(1, "/search")))
	msgs := drainOut(t, out)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Text, "already in a chat")
}

func TestTextIsRelayedToPartner(t *testing.T) {
	b, out, st := testBot(t)
	ctx := context.Background()
	register(t, b, out, 1)
	register(t, b, out, 2)
	_, err := st.CreateChat(ctx, 1, 2)
	require.NoError(t, err)

	require.NoError(t, b.handleText(ctx, msgUpdate(1, "hello stranger")))

	msgs := drainOut(t, out)
	require.Len(t, msgs, 1)
	relay := msgs[0]
	assert.True(t, relay.IsCopy())
	assert.Equal(t, int64(2), relay.ChatID)
	assert.Equal(t, int64(1), relay.CopyFromChatID)
	assert.Equal(t, int64(1), relay.FailureNoticeChatID)
	assert.NotEmpty(t, relay.FailureNotice)
}

func TestTextWithoutChatPromptsSearch(t *testing.T) {
	b, out, _ := testBot(t)
	ctx := context.Background()
	register(t, b, out, 1)

	require.NoError(t, b.handleText(ctx, msgUpdate(1, "anyone there?")))
	msgs := drainOut(t, out)
	require.Len(t, msgs, 1)
	assert.False(t, msgs[0].IsCopy())
	assert.Contains(t, msgs[0].Text, "not in a chat")
}

func TestKeyboardButtonsActAsCommands(t *testing.T) {
	b, out, st := testBot(t)
	ctx := context.Background()
	register(t, b, out, 1)

	require.NoError(t, b.handleText(ctx, msgUpdate(1, BtnFindPartner)))
	msgs := drainOut(t, out)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Text, "Searching")

	queued, _ := st.InQueue(ctx, 1)
	assert.True(t, queued)
}

func TestEndNotifiesPartner(t *testing.T) {
	b, out, st := testBot(t)
	ctx := context.Background()
	register(t, b, out, 1)
	register(t, b, out, 2)
	_, err := st.CreateChat(ctx, 1, 2)
	require.NoError(t, err)

	require.NoError(t, b.handleEnd(ctx, msgUpdate(1, "/end")))

	msgs := drainOut(t, out)
	require.Len(t, msgs, 2)
	assert.Equal(t, int64(1), msgs[0].ChatID)
	assert.Contains(t, msgs[0].Text, "You left")
	assert.Equal(t, int64(2), msgs[1].ChatID)
	assert.Contains(t, msgs[1].Text, "partner left")

	p1, _ := st.PartnerOf(ctx, 1)
	assert.Zero(t, p1)
}

func TestEndCancelsPendingSearch(t *testing.T) {
	b, out, st := testBot(t)
	ctx := context.Background()
	register(t, b, out, 1)
	require.NoError(t, st.Enqueue(ctx, 1))

	require.NoError(t, b.handleEnd(ctx, msgUpdate(1, "/end")))
	msgs := drainOut(t, out)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Text, "cancelled")

	queued, _ := st.InQueue(ctx, 1)
	assert.False(t, queued)
}

func TestReportRequiresChatAndReason(t *testing.T) {
	b, out, st := testBot(t)
	ctx := context.Background()
	register(t, b, out, 1)
	register(t, b, out, 2)

	require.NoError(t, b.handleReport(ctx, msgUpdate(1, "/report spam")))
	msgs := drainOut(t, out)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Text, "only report")

	_, err := st.CreateChat(ctx, 1, 2)
	require.NoError(t, err)

	require.NoError(t, b.handleReport(ctx, msgUpdate(1, "/report")))
	msgs = drainOut(t, out)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Text, "reason")

	require.NoError(t, b.handleReport(ctx, msgUpdate(1, "/report very rude")))
	drainOut(t, out)

	reports, err := st.OpenReports(ctx, 10)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, int64(1), reports[0].Reporter)
	assert.Equal(t, int64(2), reports[0].Reported)
	assert.Equal(t, "very rude", reports[0].Reason)
}

func TestBlockedUserIsRefused(t *testing.T) {
	b, out, st := testBot(t)
	ctx := context.Background()
	register(t, b, out, 1)
	require.NoError(t, st.SetBlocked(ctx, 1, true))

	require.NoError(t, b.handleSearch(ctx, msgUpdate(1, "/search")))
	msgs := drainOut(t, out)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Text, "blocked")
}

func TestSpamLimiterBlocksRelay(t *testing.T) {
	b, out, st := testBot(t)
	b.limiter = spam.NewLimiter(1, 0)
	ctx := context.Background()
	register(t, b, out, 1)
	register(t, b, out, 2)
	_, err := st.CreateChat(ctx, 1, 2)
	require.NoError(t, err)

	require.NoError(t, b.handleText(ctx, msgUpdate(1, "one")))
	require.NoError(t, b.handleText(ctx, msgUpdate(1, "two")))

	msgs := drainOut(t, out)
	require.Len(t, msgs, 2)
	assert.True(t, msgs[0].IsCopy())
	assert.False(t, msgs[1].IsCopy())
	assert.Contains(t, msgs[1].Text, "Slow down")
}

func TestCommandCooldownApplies(t *testing.T) {
	b, out, _ := testBot(t)
	b.limiter = spam.NewLimiter(100, time.Minute)
	b.cfg.CommandCooldown = time.Minute
	ctx := context.Background()
	register(t, b, out, 1)

	require.NoError(t, b.handleSearch(ctx, msgUpdate(1, "/search")))
	drainOut(t, out)

	require.NoError(t, b.handleSearch(ctx, msgUpdate(1, "/search")))
	msgs := drainOut(t, out)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Text, "Wait")
}

func TestAdminGate(t *testing.T) {
	b, out, _ := testBot(t)
	ctx := context.Background()

	require.NoError(t, b.handleAdminStats(ctx, msgUpdate(1, "/admin_stats")))
	msgs := drainOut(t, out)
	require.Len(t, msgs, 1)
	assert.Equal(t, textNotAdmin, msgs[0].Text)

	require.NoError(t, b.handleAdminStats(ctx, msgUpdate(adminID, "/admin_stats")))
	msgs = drainOut(t, out)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Text, "statistics")
}

func TestAdminBlockKicksUser(t *testing.T) {
	b, out, st := testBot(t)
	ctx := context.Background()
	register(t, b, out, 1)
	register(t, b, out, 2)
	_, err := st.CreateChat(ctx, 1, 2)
	require.NoError(t, err)

	require.NoError(t, b.handleAdminBlock(ctx, msgUpdate(adminID, "/admin_block 1")))
	msgs := drainOut(t, out)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Text, "blocked")

	blocked, _ := st.IsBlocked(ctx, 1)
	assert.True(t, blocked)
	p2, _ := st.PartnerOf(ctx, 2)
	assert.Zero(t, p2, "blocked user's chat must be ended")

	require.NoError(t, b.handleAdminUnblock(ctx, msgUpdate(adminID, "/admin_unblock 1")))
	drainOut(t, out)
	blocked, _ = st.IsBlocked(ctx, 1)
	assert.False(t, blocked)
}

func TestAdminBlockValidatesInput(t *testing.T) {
	b, out, _ := testBot(t)
	ctx := context.Background()

	require.NoError(t, b.handleAdminBlock(ctx, msgUpdate(adminID, "/admin_block")))
	msgs := drainOut(t, out)
	require.Len(t, msgs, 1)
	assert.True(t, strings.HasPrefix(msgs[0].Text, "Usage:"))

	require.NoError(t, b.handleAdminBlock(ctx, msgUpdate(adminID, "/admin_block abc")))
	msgs = drainOut(t, out)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Text, "number")

	require.NoError(t, b.handleAdminBlock(ctx, msgUpdate(adminID, "/admin_block 777")))
	msgs = drainOut(t, out)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Text, "not in the database")
}

func TestAdminBroadcastQueuesToAllUnblocked(t *testing.T) {
	b, out, st := testBot(t)
	ctx := context.Background()
	register(t, b, out, 1)
	register(t, b, out, 2)
	register(t, b, out, 3)
	require.NoError(t, st.SetBlocked(ctx, 3, true))

	require.NoError(t, b.handleAdminBroadcast(ctx, msgUpdate(adminID, "/admin_broadcast server maintenance tonight")))

	msgs := drainOut(t, out)
	// Two recipients plus the confirmation to the admin.
	require.Len(t, msgs, 3)
	for _, m := range msgs[:2] {
		assert.Contains(t, m.Text, "server maintenance tonight")
	}
	assert.Contains(t, msgs[2].Text, "queued to 2 users")
}

func TestAdminReportsListing(t *testing.T) {
	b, out, st := testBot(t)
	ctx := context.Background()
	register(t, b, out, 1)
	register(t, b, out, 2)

	require.NoError(t, b.handleAdminReports(ctx, msgUpdate(adminID, "/admin_reports")))
	msgs := drainOut(t, out)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Text, "No pending reports")

	_, err := st.CreateReport(ctx, 1, 2, "offensive")
	require.NoError(t, err)

	require.NoError(t, b.handleAdminReports(ctx, msgUpdate(adminID, "/admin_reports")))
	msgs = drainOut(t, out)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Text, "offensive")
}
