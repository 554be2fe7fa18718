package chat

// Reply keyboard button labels. The text handler matches on these, so they
// must stay in sync with the keyboards below.
const (
	BtnFindPartner = "🔍 Find a partner"
	BtnEndChat     = "❌ End chat"
	BtnHelp        = "ℹ️ Help"
)

const (
	textWelcome = `*Welcome to Anonchat!* 👋

I pair you with a random stranger for an anonymous one-on-one chat.

Press *🔍 Find a partner* or send /search to start.`

	textHelp = `*How it works*

/search — find a random partner
/end — leave the current chat
/report <reason> — report your current partner
/help — this message

Messages you send while paired are relayed anonymously. Be kind.`

	textSearching         = "🔎 *Searching for a partner...*\nI'll let you know the moment someone shows up."
	textMatched           = "✨ *Partner found!*\nSay hi — everything you send is relayed anonymously."
	textAlreadyInChat     = "You're already in a chat. Send /end first to leave it."
	textAlreadySearching  = "You're already in the queue. Hang tight."
	textSearchCancelled   = "✅ Search cancelled."
	textNotInChat         = "You're not in a chat right now. Send /search to find a partner."
	textYouDisconnected   = "👋 *You left the chat.*\nSend /search whenever you want a new partner."
	textPartnerLeft       = "💔 *Your partner left the chat.*\nSend /search to find a new one."
	textBlocked           = "🚫 You have been blocked from using this bot."
	textReportNoChat      = "You can only report someone while you're in a chat with them."
	textReportInstruction = "Please add a reason: /report <reason>"
	textReportSubmitted   = "✅ Report submitted. Thank you."
	textSpamWarning       = "⚠️ *Slow down!*\nYou're sending messages too fast. Wait a moment."
	textRelayFailed       = "⚠️ Couldn't deliver your message. Your partner may have blocked the bot."
	textNotAdmin          = "This command is for admins only."
)

func mainKeyboard() [][]string {
	return [][]string{
		{BtnFindPartner},
		{BtnHelp},
	}
}

func chatKeyboard() [][]string {
	return [][]string{
		{BtnEndChat},
		{BtnHelp},
	}
}
