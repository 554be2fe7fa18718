package dispatch

import (
	"context"
	"errors"
	"strings"

	"github.com/mymmrac/telego"
)

// HandlerFunc processes one update. Returning nil means success; wrap an
// error with ErrRecoverable to mark it retryable, anything else is fatal
// for that update only.
type HandlerFunc func(ctx context.Context, upd telego.Update) error

// ErrRecoverable marks a handler error as transient. The update is not
// retried automatically, but the failure is accounted separately from
// fatal ones.
var ErrRecoverable = errors.New("recoverable handler failure")

type Kind int

const (
	KindMessage Kind = iota
	KindCommand
	KindEdited
	KindCallback
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindCommand:
		return "command"
	case KindEdited:
		return "edited"
	case KindCallback:
		return "callback"
	default:
		return "other"
	}
}

// Route is the dispatch key: update kind plus the command token for
// KindCommand ("" otherwise).
type Route struct {
	Kind    Kind
	Command string
}

// RouteOf classifies an update.
func RouteOf(u telego.Update) Route {
	switch {
	case u.Message != nil:
		if cmd, _ := Command(u.Message.Text); cmd != "" {
			return Route{Kind: KindCommand, Command: cmd}
		}
		return Route{Kind: KindMessage}
	case u.EditedMessage != nil:
		return Route{Kind: KindEdited}
	case u.CallbackQuery != nil:
		return Route{Kind: KindCallback}
	default:
		return Route{Kind: KindOther}
	}
}

// Command splits "/cmd@bot arg1 arg2" into the bare lowercase command name
// and its arguments. Returns "" when text is not a command.
func Command(text string) (string, []string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil
	}
	fields := strings.Fields(text)
	cmd := strings.TrimPrefix(fields[0], "/")
	if at := strings.IndexByte(cmd, '@'); at >= 0 {
		cmd = cmd[:at]
	}
	if cmd == "" {
		return "", nil
	}
	return strings.ToLower(cmd), fields[1:]
}

// LaneKey returns the per-chat serialization key for an update. Updates
// without a chat (callbacks, unknown kinds) serialize on the sender, or on
// a shared lane as a last resort.
func LaneKey(u telego.Update) int64 {
	switch {
	case u.Message != nil:
		return u.Message.Chat.ID
	case u.EditedMessage != nil:
		return u.EditedMessage.Chat.ID
	case u.CallbackQuery != nil:
		return u.CallbackQuery.From.ID
	default:
		return 0
	}
}
