package ifunny

// Backend-specific WAMP identifiers. These are opaque constants dictated by
// the chat backend; the rest of the package treats them as a lookup table.

// DefaultEndpoint is the chat gateway WebSocket URL.
const DefaultEndpoint = "wss://chat.ifunny.co/chat"

// DefaultRealm is the WAMP realm the gateway serves.
const DefaultRealm = "co.fun.chat.ifunny"

// RPC procedure URIs.
const (
	procGetChat           = "co.fun.chat.get_chat"
	procListMessages      = "co.fun.chat.list_messages"
	procListMembers       = "co.fun.chat.list_members"
	procListOperators     = "co.fun.chat.list_operators"
	procKickMember        = "co.fun.chat.kick_member"
	procHideChat          = "co.fun.chat.hide_chat"
	procMuteChat          = "co.fun.chat.mute_chat"
	procUnmuteChat        = "co.fun.chat.unmute_chat"
	procAcceptInvite      = "co.fun.chat.accept_invite"
	procRegisterOperators = "co.fun.chat.register_operators"
)

// invitesTopic is the account-scoped invite push topic.
func invitesTopic(userID string) string {
	return "co.fun.chat.user." + userID + ".invites"
}

// chatsTopic is the account-scoped channel update push topic.
func chatsTopic(userID string) string {
	return "co.fun.chat.user." + userID + ".chats"
}

// chatTopic is the per-channel topic messages are published to.
func chatTopic(channelName string) string {
	return "co.fun.chat.chat." + channelName
}
