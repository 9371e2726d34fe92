package ifunny

import (
	"context"
	"encoding/json"
	"time"
)

// Chat role codes.
const (
	RoleAdmin    = 0
	RoleOperator = 1
	RoleMember   = 2
)

// ChatUser is a member of a channel: the generic user identity plus the
// chat-scoped fields (role, last seen, membership flag).
type ChatUser struct {
	context *Context
	p       userPayload
	raw     json.RawMessage
}

func newChatUser(ctx *Context, raw json.RawMessage) *ChatUser {
	u := &ChatUser{context: ctx, raw: raw}
	json.Unmarshal(raw, &u.p)
	return u
}

// ID is the user's account id.
func (u *ChatUser) ID() string { return u.p.ID }

// Nick is the user's nickname.
func (u *ChatUser) Nick() string { return u.p.Nick }

// Role is the raw role code (admin=0, operator=1, member=2).
func (u *ChatUser) Role() int { return u.p.Role }

// IsAdmin reports whether the user is an admin of the chat.
func (u *ChatUser) IsAdmin() bool { return u.p.Role == RoleAdmin }

// IsOperator reports whether the user is an operator of the chat.
func (u *ChatUser) IsOperator() bool { return u.p.Role == RoleOperator }

// IsMember reports whether the user is a plain member of the chat.
func (u *ChatUser) IsMember() bool { return u.p.Role == RoleMember }

// InChat reports whether the user is currently in the chat.
func (u *ChatUser) InChat() bool { return u.p.InChat }

// IsMe reports whether the user is the authenticated account.
func (u *ChatUser) IsMe() bool {
	if u.p.IsMe {
		return true
	}
	return u.context != nil && u.context.chats != nil && u.p.ID == u.context.chats.cfg.UserID
}

// LastSeenAt is when the user was last seen online, or the zero time when
// the backend sent none.
func (u *ChatUser) LastSeenAt() time.Time {
	if u.p.LastSeenAt == 0 {
		return time.Time{}
	}
	return time.UnixMilli(u.p.LastSeenAt)
}

// Channel fetches the DM channel between the authenticated account and this
// user. DM channel names are "{clientID}_{userID}".
func (u *ChatUser) Channel(ctx context.Context) (*Channel, error) {
	return u.context.chats.GetChat(ctx, u.context.chats.cfg.UserID+"_"+u.p.ID)
}

// Kick removes the user from the context's channel.
func (u *ChatUser) Kick(ctx context.Context) error {
	return u.context.Channel().Kick(ctx, u.p.ID)
}
