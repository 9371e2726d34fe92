// Package ifunny is a client for the iFunny chat backend. It maintains an
// authenticated WAMP session over WebSocket, demultiplexes server-pushed
// channel and invite updates into typed events, and serializes outbound
// sends through a rate-limit-aware coalescing queue.
package ifunny

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ifunny-community/ifunny-go/wamp"
)

// Config holds connection parameters for the chat client. UserID and Bearer
// come from the account's identity provider and are treated as opaque.
type Config struct {
	Endpoint string // WebSocket URL; DefaultEndpoint if empty
	Realm    string // WAMP realm; DefaultRealm if empty
	UserID   string // account id
	Bearer   string // bearer token answered to the ticket challenge

	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// transport is the session surface the client uses, satisfied by
// *wamp.Session.
type transport interface {
	Call(ctx context.Context, procedure string, args []any, kwargs map[string]any) (*wamp.Result, error)
	Publish(ctx context.Context, topic string, args []any, kwargs map[string]any) (uint64, error)
	Subscribe(ctx context.Context, topic string, handler wamp.EventHandler) error
	Unsubscribe(ctx context.Context, topic string) error
	Close() error
}

// Chats is the chat client: it owns the WAMP session, the account-scoped
// subscriptions, and the outbound message queue. Events are delivered
// through On in the order the socket delivers them.
type Chats struct {
	cfg     Config
	log     *slog.Logger
	session transport
	queue   *MessageQueue
	dedup   *dedupWindow
	events  emitter

	// startedAt filters stale pushes: chat summaries whose last message
	// predates the connection are history, not news. Set once in Connect
	// before any subscription exists.
	startedAt int64

	listenerMu       sync.Mutex
	channelListeners []*Channel
}

// addChannelListener registers a channel for live message fan-out. At most
// one registration per channel name.
func (c *Chats) addChannelListener(ch *Channel) {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()
	for _, existing := range c.channelListeners {
		if existing.Name() == ch.Name() {
			return
		}
	}
	c.channelListeners = append(c.channelListeners, ch)
}

// removeChannelListener drops every registration for the channel's name.
func (c *Chats) removeChannelListener(ch *Channel) {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()
	kept := c.channelListeners[:0:0]
	for _, existing := range c.channelListeners {
		if existing.Name() != ch.Name() {
			kept = append(kept, existing)
		}
	}
	c.channelListeners = kept
}

func (c *Chats) snapshotListeners() []*Channel {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()
	out := make([]*Channel, len(c.channelListeners))
	copy(out, c.channelListeners)
	return out
}

// NewChats creates a chat client. Call Connect to go live.
func NewChats(cfg Config) *Chats {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Realm == "" {
		cfg.Realm = DefaultRealm
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Chats{
		cfg:   cfg,
		log:   logger,
		dedup: newDedupWindow(),
	}
	c.queue = newMessageQueue(c.sendMessage, logger)
	return c
}

// On registers a handler for a client event (EventConnected, EventMessage,
// EventInvites, ...).
func (c *Chats) On(event string, handler ContextHandler) {
	c.events.On(event, handler)
}

// Connect opens the transport, subscribes to the account-scoped invite and
// chat topics, and starts the outbound queue. A session that later fails is
// terminal: the client emits EventError once and must be rebuilt to
// reconnect.
func (c *Chats) Connect(ctx context.Context) error {
	session, err := wamp.Connect(ctx, wamp.Config{
		Endpoint: c.cfg.Endpoint,
		Realm:    c.cfg.Realm,
		AuthID:   c.cfg.UserID,
		Ticket:   c.cfg.Bearer,
		Logger:   c.log,
		OnError: func(cause error) {
			errCtx := NewContext(c)
			raw, _ := json.Marshal(cause.Error())
			errCtx.SetRaw(raw)
			c.events.emit(EventError, errCtx)
		},
	})
	if err != nil {
		return fmt.Errorf("ifunny: connect: %w", err)
	}
	c.session = session
	c.startedAt = time.Now().UnixMilli()

	if err := session.Subscribe(ctx, invitesTopic(c.cfg.UserID), c.handleInvitesPush); err != nil {
		session.Close()
		return fmt.Errorf("ifunny: connect: %w", err)
	}
	if err := session.Subscribe(ctx, chatsTopic(c.cfg.UserID), c.handleChatsPush); err != nil {
		session.Close()
		return fmt.Errorf("ifunny: connect: %w", err)
	}

	c.queue.start()

	connCtx := NewContext(c)
	connCtx.SetRaw(session.Welcome().Details)
	c.events.emit(EventConnected, connCtx)
	return nil
}

// Close stops the queue and tears the session down.
func (c *Chats) Close() error {
	c.queue.stop()
	if c.session != nil {
		return c.session.Close()
	}
	return nil
}

func (c *Chats) handleInvitesPush(ev wamp.Event) {
	var push chatsPush
	if raw, ok := ev.ArgsDict["chats"]; ok {
		if err := json.Unmarshal(raw, &push.Chats); err != nil {
			c.log.Debug("ifunny: bad invites push", "error", err)
			return
		}
	}
	ctx := NewContext(c)
	ctx.SetChannels(push.Chats)
	c.events.emit(EventInvites, ctx)
}

// handleChatsPush demultiplexes one chats-topic event: each pushed chat
// summary with a last message dispatches by its numeric type code.
// Unrecognized codes are logged, never fatal.
func (c *Chats) handleChatsPush(ev wamp.Event) {
	var chats []json.RawMessage
	if raw, ok := ev.ArgsDict["chats"]; ok {
		if err := json.Unmarshal(raw, &chats); err != nil {
			c.log.Debug("ifunny: bad chats push", "error", err)
			return
		}
	}

	for _, rawChat := range chats {
		var summary chatSummary
		if err := json.Unmarshal(rawChat, &summary); err != nil {
			c.log.Debug("ifunny: bad chat summary", "error", err)
			continue
		}
		if len(summary.LastMsg) == 0 {
			continue
		}

		var last lastMessage
		if err := json.Unmarshal(summary.LastMsg, &last); err != nil {
			c.log.Debug("ifunny: bad last_msg", "error", err)
			continue
		}

		// History replayed on (re)subscribe is not news.
		if last.PubAt != 0 && last.PubAt < c.startedAt {
			continue
		}
		if c.isDuplicateDelivery(last) {
			continue
		}

		ctx := NewContext(c)
		ctx.SetChannel(rawChat)
		if len(summary.User) > 0 {
			ctx.SetUser(summary.User)
		}

		switch last.Type {
		case msgTypeText:
			ctx.SetMessage(summary.LastMsg)
			c.events.emit(EventMessage, ctx)
			for _, listener := range c.snapshotListeners() {
				if listener.Name() == summary.Name {
					listener.events.emit(EventMessage, ctx)
				}
			}
		case msgTypeFile:
			ctx.SetFile(summary.LastMsg)
			c.events.emit(EventFile, ctx)
		case msgTypeUserJoined:
			ctx.SetRaw(summary.LastMsg)
			c.events.emit(EventUserJoined, ctx)
		case msgTypeUserLeft:
			ctx.SetRaw(summary.LastMsg)
			c.events.emit(EventUserLeft, ctx)
		case msgTypeChannelEdited:
			ctx.SetRaw(summary.LastMsg)
			c.events.emit(EventChannelEdited, ctx)
		case msgTypeUserKicked:
			ctx.SetRaw(summary.LastMsg)
			c.events.emit(EventUserKick, ctx)
		default:
			c.log.Warn("ifunny: unknown message type", "type", last.Type, "chat", summary.Name)
		}
	}
}

// isDuplicateDelivery drops repeated pushes of the same message and echoes
// of our own sends, recognized by the local id we attached on publish.
func (c *Chats) isDuplicateDelivery(last lastMessage) bool {
	if c.dedup.isDuplicate(last.ID) {
		return true
	}
	if last.Payload != nil {
		localID := last.Payload.LocalID
		if localID == "" {
			localID = last.Payload.LocalIDAlias
		}
		if localID != "" && c.dedup.isDuplicate("local:"+localID) {
			return true
		}
	}
	return false
}

// sendMessage is the queue's publish path: one acknowledged publish to the
// channel's topic, tagged with a client-assigned local id.
func (c *Chats) sendMessage(ctx context.Context, channelName, content string) (SendResult, error) {
	localID := uuid.NewString()
	c.dedup.remember("local:" + localID)

	publication, err := c.session.Publish(ctx, chatTopic(channelName),
		[]any{200, 1, content},
		map[string]any{"local_id": localID},
	)
	if err != nil {
		return SendResult{}, err
	}
	return SendResult{Timestamp: time.Now(), Publication: publication}, nil
}

// GetChat fetches a channel by name.
func (c *Chats) GetChat(ctx context.Context, name string) (*Channel, error) {
	raw, err := c.getChatRaw(ctx, name)
	if err != nil {
		return nil, err
	}
	chatCtx := NewContext(c)
	chatCtx.SetChannel(raw)
	return chatCtx.Channel(), nil
}

func (c *Chats) getChatRaw(ctx context.Context, name string) (json.RawMessage, error) {
	result, err := c.session.Call(ctx, procGetChat, nil, map[string]any{"chat_name": name})
	if err != nil {
		return nil, err
	}
	raw, ok := result.ArgsDict["chat"]
	if !ok {
		return nil, fmt.Errorf("ifunny: get chat %s: no chat in result", name)
	}
	return raw, nil
}

// fetchChatRaw backs channel refreshes with a real network fetch.
func (c *Chats) fetchChatRaw(ctx context.Context, name string) (map[string]json.RawMessage, error) {
	raw, err := c.getChatRaw(ctx, name)
	if err != nil {
		return nil, err
	}
	data := make(map[string]json.RawMessage)
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("ifunny: get chat %s: %w", name, err)
	}
	return data, nil
}
