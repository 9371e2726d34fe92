package ifunny

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrMustBeAdmin is returned when an operation that requires chat admin
// rights is attempted without them. Validated locally before the RPC to
// avoid a wasted round trip.
var ErrMustBeAdmin = errors.New("ifunny: must be an admin of the chat to add an operator")

// Default page sizes for the channel's paginated sequences.
const (
	defaultMemberLimit   = 200
	defaultOperatorLimit = 120
	defaultMessageLimit  = 50
)

// Channel is one chat channel. It carries a cached payload of channel
// fields; Refresh marks the cache stale so the next accessor re-fetches the
// channel before answering. Instances belong to the context that built them
// and are never shared across contexts.
type Channel struct {
	context *Context
	payload *payload
	events  emitter
}

func newChannel(ctx *Context, raw json.RawMessage) *Channel {
	ch := &Channel{context: ctx}
	ch.payload = newPayload(raw, ch.fetchPayload)

	// A pushed chat payload can inline its member roster; surface it on
	// the context if nothing populated users yet.
	if users := ch.payload.data["users"]; len(users) > 0 && len(ctx.users) == 0 {
		var raws []json.RawMessage
		if err := json.Unmarshal(users, &raws); err == nil {
			ctx.SetUsers(raws)
		}
	}
	return ch
}

func (ch *Channel) fetchPayload(ctx context.Context) (map[string]json.RawMessage, error) {
	return ch.context.chats.fetchChatRaw(ctx, ch.Name())
}

// Name is the server-assigned unique channel name. Read from the cached
// payload without triggering a refresh.
func (ch *Channel) Name() string {
	return ch.payload.peekString("name")
}

// Refresh marks the cached payload stale. The next accessor re-fetches the
// channel from the backend before answering.
func (ch *Channel) Refresh() {
	ch.payload.Refresh()
}

// Get returns a raw payload field, re-fetching first when the cache is
// stale.
func (ch *Channel) Get(ctx context.Context, key string) (json.RawMessage, error) {
	return ch.payload.get(ctx, key)
}

// Title is the channel title.
func (ch *Channel) Title(ctx context.Context) (string, error) {
	return ch.payload.getString(ctx, "title", "")
}

// Cover is the channel cover image URL.
func (ch *Channel) Cover(ctx context.Context) (string, error) {
	return ch.payload.getString(ctx, "cover", "")
}

// UnreadMessages is the number of unread messages.
func (ch *Channel) UnreadMessages(ctx context.Context) (int64, error) {
	return ch.payload.getInt(ctx, "messages_unread", 0)
}

// MembersTotal is the total member count.
func (ch *Channel) MembersTotal(ctx context.Context) (int64, error) {
	return ch.payload.getInt(ctx, "members_total", 0)
}

// MembersOnline is the online member count.
func (ch *Channel) MembersOnline(ctx context.Context) (int64, error) {
	return ch.payload.getInt(ctx, "members_online", 0)
}

// Joined reports whether the account has joined the channel.
func (ch *Channel) Joined(ctx context.Context) (bool, error) {
	state, err := ch.payload.getInt(ctx, "join_state", 0)
	return state == joinStateMember, err
}

// IsDM reports whether the channel is a direct message.
func (ch *Channel) IsDM(ctx context.Context) (bool, error) {
	t, err := ch.payload.getInt(ctx, "type", 0)
	return t == chatTypeDM, err
}

// IsPrivate reports whether the channel is a private group chat.
func (ch *Channel) IsPrivate(ctx context.Context) (bool, error) {
	t, err := ch.payload.getInt(ctx, "type", 0)
	return t == chatTypePrivate, err
}

// IsPublic reports whether the channel is a public group chat.
func (ch *Channel) IsPublic(ctx context.Context) (bool, error) {
	t, err := ch.payload.getInt(ctx, "type", 0)
	return t == chatTypePublic, err
}

// MemberSeq lazily iterates members of a channel.
type MemberSeq struct {
	context *Context
	p       *Paginator
}

// Next returns the next member; false once exhausted.
func (s *MemberSeq) Next(ctx context.Context) (*ChatUser, bool, error) {
	if s.p == nil {
		return nil, false, nil
	}
	raw, ok, err := s.p.Next(ctx)
	if err != nil || !ok {
		return nil, ok, err
	}
	return newChatUser(s.context, raw), true, nil
}

// MessageSeq lazily iterates a channel's message history, newest first.
type MessageSeq struct {
	context *Context
	p       *Paginator
}

// Next returns the next message; false once exhausted.
func (s *MessageSeq) Next(ctx context.Context) (*Message, bool, error) {
	raw, ok, err := s.p.Next(ctx)
	if err != nil || !ok {
		return nil, ok, err
	}
	return newMessage(s.context, raw), true, nil
}

// Members returns a paginated sequence of the channel's members. limit <= 0
// uses the default page size.
func (ch *Channel) Members(limit int) *MemberSeq {
	if limit <= 0 {
		limit = defaultMemberLimit
	}
	p := NewPaginator(ch.context.chats.session, procListMembers, "members", map[string]any{
		"chat_name": ch.Name(),
		"limit":     limit,
		"query":     nil,
	})
	return &MemberSeq{context: ch.context, p: p}
}

// Operators returns a paginated sequence of the channel's operators. Only
// public channels enumerate operators; for any other type the sequence is
// empty.
func (ch *Channel) Operators(ctx context.Context, limit int) (*MemberSeq, error) {
	public, err := ch.IsPublic(ctx)
	if err != nil {
		return nil, err
	}
	if !public {
		return &MemberSeq{context: ch.context}, nil
	}
	if limit <= 0 {
		limit = defaultOperatorLimit
	}
	p := NewPaginator(ch.context.chats.session, procListOperators, "operators", map[string]any{
		"chat_name": ch.Name(),
		"limit":     limit,
	})
	return &MemberSeq{context: ch.context, p: p}, nil
}

// Messages returns a paginated sequence over the channel's history.
func (ch *Channel) Messages(limit int) *MessageSeq {
	if limit <= 0 {
		limit = defaultMessageLimit
	}
	p := NewPaginator(ch.context.chats.session, procListMessages, "messages", map[string]any{
		"chat_name": ch.Name(),
		"limit":     limit,
	})
	return &MessageSeq{context: ch.context, p: p}
}

// FetchByNick scans the member roster for the first user with the nickname.
// Returns nil when no member matches.
func (ch *Channel) FetchByNick(ctx context.Context, nick string) (*ChatUser, error) {
	seq := ch.Members(0)
	for {
		user, ok, err := seq.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		if user.Nick() == nick {
			return user, nil
		}
	}
}

// FetchByID scans the member roster for the user with the id. Returns nil
// when no member matches.
func (ch *Channel) FetchByID(ctx context.Context, id string) (*ChatUser, error) {
	seq := ch.Members(0)
	for {
		user, ok, err := seq.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		if user.ID() == id {
			return user, nil
		}
	}
}

// Me returns the authenticated account's member entry, or nil when the
// account is not in the roster.
func (ch *Channel) Me(ctx context.Context) (*ChatUser, error) {
	seq := ch.Members(0)
	for {
		user, ok, err := seq.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		if user.IsMe() {
			return user, nil
		}
	}
}

// Kick removes a user from the channel. The server is authoritative on
// whether the acting account may do this.
func (ch *Channel) Kick(ctx context.Context, userID string) error {
	_, err := ch.context.chats.session.Call(ctx, procKickMember, []any{ch.Name(), userID}, nil)
	if err != nil {
		return err
	}
	ch.Refresh()
	return nil
}

// Hide hides the channel client side.
func (ch *Channel) Hide(ctx context.Context) error {
	_, err := ch.context.chats.session.Call(ctx, procHideChat, []any{ch.Name()}, nil)
	if err != nil {
		return err
	}
	ch.Refresh()
	return nil
}

// Mute silences the channel until the given time.
func (ch *Channel) Mute(ctx context.Context, until time.Time) error {
	_, err := ch.context.chats.session.Call(ctx, procMuteChat, []any{ch.Name(), until.UnixMilli()}, nil)
	if err != nil {
		return err
	}
	ch.Refresh()
	return nil
}

// Unmute lifts a mute.
func (ch *Channel) Unmute(ctx context.Context) error {
	_, err := ch.context.chats.session.Call(ctx, procUnmuteChat, []any{ch.Name()}, nil)
	if err != nil {
		return err
	}
	ch.Refresh()
	return nil
}

// AcceptInvite accepts a pending invite to the channel.
func (ch *Channel) AcceptInvite(ctx context.Context) error {
	_, err := ch.context.chats.session.Call(ctx, procAcceptInvite, []any{ch.Name()}, nil)
	if err != nil {
		return err
	}
	ch.Refresh()
	return nil
}

// AddOperator promotes a user to operator of a public channel. The acting
// account must be an admin; this is validated locally first so the failure
// is precise and costs no round trip.
func (ch *Channel) AddOperator(ctx context.Context, userID string) error {
	me, err := ch.Me(ctx)
	if err != nil {
		return err
	}
	if me == nil || !me.IsAdmin() {
		return ErrMustBeAdmin
	}
	_, err = ch.context.chats.session.Call(ctx, procRegisterOperators, []any{ch.Name(), []string{userID}}, nil)
	if err != nil {
		return err
	}
	ch.Refresh()
	return nil
}

// SendOptions adjusts one Send.
type SendOptions struct {
	// Nick attributes the content inside a coalesced batch. Empty uses
	// the authenticated account's id.
	Nick string
	// Priority promotes the entry past normal queued sends.
	Priority bool
}

// Send enqueues content into the outbound message queue and blocks until
// the batch containing it is acknowledged. Entries coalesced together share
// one SendResult; callers get a "sent" acknowledgement, not per-entry
// metadata.
func (ch *Channel) Send(ctx context.Context, content string, opts SendOptions) (SendResult, error) {
	nick := opts.Nick
	if nick == "" {
		nick = ch.context.chats.cfg.UserID
	}

	type outcome struct {
		result SendResult
		err    error
	}
	done := make(chan outcome, 1)
	ch.context.chats.queue.AddToQueue(QueueEntry{
		ChannelName: ch.Name(),
		Nick:        nick,
		Content:     content,
		Priority:    opts.Priority,
		Callback: func(result SendResult, err error) {
			done <- outcome{result, err}
		},
	})

	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		return SendResult{}, ctx.Err()
	}
}

// On registers a handler for this channel's locally re-emitted events.
// Only EventMessage is emitted, and only while the channel is listening.
func (ch *Channel) On(event string, handler ContextHandler) {
	ch.events.On(event, handler)
}

// Listen subscribes this channel instance to live message events: matching
// pushes on the chats topic are re-emitted locally through On. Idempotent.
func (ch *Channel) Listen() {
	ch.context.chats.addChannelListener(ch)
}

// StopListening removes this channel's live subscription.
func (ch *Channel) StopListening() {
	ch.context.chats.removeChannelListener(ch)
}
