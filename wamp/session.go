package wamp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Subprotocol negotiated with the chat backend.
const Subprotocol = "wamp.2.json"

const handshakeTimeout = 10 * time.Second

// State is the session connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticated
	StateErrored
)

// Config holds session parameters.
type Config struct {
	Endpoint string // WebSocket URL (e.g. "wss://chat.ifunny.co/chat")
	Realm    string // WAMP realm
	AuthID   string // account id presented as authid
	Ticket   string // bearer token answered to the ticket challenge

	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger

	// OnError is invoked once if the session dies from a transport failure.
	// It is not invoked on an explicit Close. May be nil.
	OnError func(error)
}

// Welcome carries the router's WELCOME response.
type Welcome struct {
	SessionID uint64
	Details   json.RawMessage
}

type reply struct {
	op    uint8
	elems []json.RawMessage // elements after the request id
	err   error
}

// Session is one authenticated WAMP connection. A session that fails is
// terminal: callers construct a new one to reconnect.
type Session struct {
	cfg  Config
	log  *slog.Logger
	conn net.Conn

	done      chan struct{}
	closeOnce sync.Once
	sendCh    chan []byte

	state   atomic.Int32
	welcome Welcome
	reqID   atomic.Uint64

	mu          sync.Mutex
	pending     map[uint64]chan reply
	pendingSubs map[uint64]EventHandler
	subByURI    map[string]uint64
	handlers    map[uint64]EventHandler

	// Decoded events queued for the dispatch goroutine. The read loop only
	// appends, so a handler blocking on a Call cannot stall frame routing.
	evMu   sync.Mutex
	evBuf  []Event
	evWake chan struct{}
}

// Connect dials the endpoint, performs the ticket challenge/response
// handshake, and starts the session's read and write loops. The returned
// session is authenticated and ready for Call/Publish/Subscribe.
func Connect(ctx context.Context, cfg Config) (*Session, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Session{
		cfg:         cfg,
		log:         logger,
		done:        make(chan struct{}),
		sendCh:      make(chan []byte, 256),
		pending:     make(map[uint64]chan reply),
		pendingSubs: make(map[uint64]EventHandler),
		subByURI:    make(map[string]uint64),
		handlers:    make(map[uint64]EventHandler),
		evWake:      make(chan struct{}, 1),
	}
	s.state.Store(int32(StateConnecting))

	if err := s.handshake(ctx); err != nil {
		s.state.Store(int32(StateErrored))
		return nil, err
	}
	s.state.Store(int32(StateAuthenticated))

	go s.readLoop()
	go s.writeLoop()
	go s.eventLoop()

	return s, nil
}

func (s *Session) handshake(ctx context.Context) error {
	dialer := ws.Dialer{Protocols: []string{Subprotocol}}
	conn, _, _, err := dialer.Dial(ctx, s.cfg.Endpoint)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	s.conn = conn

	hello, _ := Encode(OpHello, s.cfg.Realm, map[string]any{
		"authid":      s.cfg.AuthID,
		"authmethods": []string{"ticket"},
		"roles": map[string]any{
			"caller":     struct{}{},
			"publisher":  struct{}{},
			"subscriber": struct{}{},
		},
	})
	if err := wsutil.WriteClientText(conn, hello); err != nil {
		conn.Close()
		return fmt.Errorf("send hello: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	defer conn.SetReadDeadline(time.Time{})

	op, elems, err := s.readHandshakeFrame()
	if err != nil {
		conn.Close()
		return fmt.Errorf("read challenge: %w", err)
	}
	if op == OpAbort {
		conn.Close()
		return s.abortError(elems)
	}
	if op != OpChallenge {
		conn.Close()
		return fmt.Errorf("wamp: unexpected opcode %d during handshake", op)
	}

	// CHALLENGE: [4, authmethod, extra]. The ticket answer is the bearer
	// credential itself.
	auth, _ := Encode(OpAuthenticate, s.cfg.Ticket, struct{}{})
	if err := wsutil.WriteClientText(conn, auth); err != nil {
		conn.Close()
		return fmt.Errorf("send authenticate: %w", err)
	}

	op, elems, err = s.readHandshakeFrame()
	if err != nil {
		conn.Close()
		return fmt.Errorf("read welcome: %w", err)
	}
	switch op {
	case OpWelcome:
		if len(elems) >= 1 {
			s.welcome.SessionID, _ = decodeUint64(elems[0])
		}
		if len(elems) >= 2 {
			s.welcome.Details = elems[1]
		}
	case OpAbort:
		conn.Close()
		return s.abortError(elems)
	default:
		conn.Close()
		return fmt.Errorf("wamp: unexpected opcode %d during handshake", op)
	}

	s.log.Info("wamp session authenticated",
		"endpoint", s.cfg.Endpoint, "realm", s.cfg.Realm, "session", s.welcome.SessionID)
	return nil
}

func (s *Session) readHandshakeFrame() (uint8, []json.RawMessage, error) {
	data, err := wsutil.ReadServerText(s.conn)
	if err != nil {
		return 0, nil, err
	}
	return Decode(data)
}

// abortError turns an ABORT [3, details, reason] into an *Error.
func (s *Session) abortError(elems []json.RawMessage) error {
	e := &Error{URI: "wamp.error.abort"}
	if len(elems) >= 1 {
		e.Details = elems[0]
	}
	if len(elems) >= 2 {
		if uri, err := decodeString(elems[1]); err == nil {
			e.URI = uri
		}
	}
	return fmt.Errorf("wamp: handshake aborted: %w", e)
}

// State returns the current connection state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Welcome returns the router's WELCOME details.
func (s *Session) Welcome() Welcome {
	return s.welcome
}

// Close shuts the session down. Safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateDisconnected))
		close(s.done)
		err = s.conn.Close()
		s.failPending(ErrSessionClosed)
	})
	return err
}

// fail marks the session errored after a transport failure and notifies
// the owner once.
func (s *Session) fail(cause error) {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateErrored))
		close(s.done)
		s.conn.Close()
		s.failPending(fmt.Errorf("%w: %v", ErrSessionClosed, cause))
		if s.cfg.OnError != nil {
			s.cfg.OnError(cause)
		}
	})
}

func (s *Session) failPending(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.pending {
		select {
		case ch <- reply{err: err}:
		default:
		}
		delete(s.pending, id)
	}
	for id := range s.pendingSubs {
		delete(s.pendingSubs, id)
	}
}

// Call issues an RPC and waits for its RESULT. The session must be
// authenticated.
func (s *Session) Call(ctx context.Context, procedure string, args []any, kwargs map[string]any) (*Result, error) {
	rep, err := s.request(ctx, func(id uint64) ([]byte, error) {
		return Encode(OpCall, id, struct{}{}, procedure, normalizeArgs(args), normalizeKwargs(kwargs))
	})
	if err != nil {
		return nil, fmt.Errorf("wamp: call %s: %w", procedure, err)
	}
	details, resArgs, resKwargs, err := parseTail(rep.elems)
	if err != nil {
		return nil, fmt.Errorf("wamp: call %s: %w", procedure, err)
	}
	return &Result{Details: details, Args: resArgs, ArgsDict: resKwargs}, nil
}

// Publish broadcasts to a topic with acknowledgement and returns the
// publication id.
func (s *Session) Publish(ctx context.Context, topic string, args []any, kwargs map[string]any) (uint64, error) {
	rep, err := s.request(ctx, func(id uint64) ([]byte, error) {
		return Encode(OpPublish, id, map[string]any{"acknowledge": true}, topic, normalizeArgs(args), normalizeKwargs(kwargs))
	})
	if err != nil {
		return 0, fmt.Errorf("wamp: publish %s: %w", topic, err)
	}
	if len(rep.elems) < 1 {
		return 0, fmt.Errorf("wamp: publish %s: %w", topic, ErrBadEnvelope)
	}
	pubID, err := decodeUint64(rep.elems[0])
	if err != nil {
		return 0, fmt.Errorf("wamp: publish %s: %w", topic, err)
	}
	return pubID, nil
}

// Subscribe registers handler for a topic. Events are delivered in socket
// order from the session's dispatch goroutine, so a handler may issue
// further session operations. The handler is installed by the read loop
// when SUBSCRIBED arrives, so an event pushed immediately after the
// confirmation cannot be missed.
func (s *Session) Subscribe(ctx context.Context, topic string, handler EventHandler) error {
	var reqID uint64
	rep, err := s.request(ctx, func(id uint64) ([]byte, error) {
		reqID = id
		s.mu.Lock()
		s.pendingSubs[id] = handler
		s.mu.Unlock()
		return Encode(OpSubscribe, id, struct{}{}, topic)
	})
	if err != nil {
		s.mu.Lock()
		delete(s.pendingSubs, reqID)
		s.mu.Unlock()
		return fmt.Errorf("wamp: subscribe %s: %w", topic, err)
	}
	if len(rep.elems) < 1 {
		return fmt.Errorf("wamp: subscribe %s: %w", topic, ErrBadEnvelope)
	}
	subID, err := decodeUint64(rep.elems[0])
	if err != nil {
		return fmt.Errorf("wamp: subscribe %s: %w", topic, err)
	}

	s.mu.Lock()
	s.subByURI[topic] = subID
	s.mu.Unlock()
	return nil
}

// Unsubscribe removes the topic's handler and tells the router.
func (s *Session) Unsubscribe(ctx context.Context, topic string) error {
	s.mu.Lock()
	subID, ok := s.subByURI[topic]
	if ok {
		delete(s.subByURI, topic)
		delete(s.handlers, subID)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("wamp: unsubscribe %s: %w", topic, &Error{URI: ErrURINoSuchSubscription})
	}

	_, err := s.request(ctx, func(id uint64) ([]byte, error) {
		return Encode(OpUnsubscribe, id, subID)
	})
	if err != nil {
		return fmt.Errorf("wamp: unsubscribe %s: %w", topic, err)
	}
	return nil
}

// request sends one frame carrying a fresh request id and waits for the
// matching reply or error.
func (s *Session) request(ctx context.Context, build func(id uint64) ([]byte, error)) (reply, error) {
	if s.State() != StateAuthenticated {
		return reply{}, ErrNotAuthenticated
	}

	id := s.reqID.Add(1)
	ch := make(chan reply, 1)
	s.mu.Lock()
	s.pending[id] = ch
	s.mu.Unlock()

	cleanup := func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	}

	data, err := build(id)
	if err != nil {
		cleanup()
		return reply{}, err
	}

	select {
	case s.sendCh <- data:
	case <-s.done:
		cleanup()
		return reply{}, ErrSessionClosed
	case <-ctx.Done():
		cleanup()
		return reply{}, ctx.Err()
	}

	select {
	case rep := <-ch:
		if rep.err != nil {
			return reply{}, rep.err
		}
		return rep, nil
	case <-s.done:
		cleanup()
		return reply{}, ErrSessionClosed
	case <-ctx.Done():
		cleanup()
		return reply{}, ctx.Err()
	}
}

func (s *Session) readLoop() {
	for {
		data, err := wsutil.ReadServerText(s.conn)
		if err != nil {
			select {
			case <-s.done:
			default:
				s.log.Warn("wamp read error, closing session", "error", err)
				s.fail(err)
			}
			return
		}

		op, elems, err := Decode(data)
		if err != nil {
			s.log.Debug("wamp: dropping malformed frame", "error", err)
			continue
		}

		switch op {
		case OpResult, OpUnsubscribed, OpPublished:
			s.routeReply(op, elems)
		case OpSubscribed:
			s.routeSubscribed(elems)
		case OpError:
			s.routeError(elems)
		case OpEvent:
			s.dispatchEvent(elems)
		case OpGoodbye:
			s.log.Info("wamp: router said goodbye")
			s.fail(ErrSessionClosed)
			return
		default:
			s.log.Debug("wamp: unhandled opcode", "opcode", op)
		}
	}
}

// routeReply handles [op, reqID, ...rest].
func (s *Session) routeReply(op uint8, elems []json.RawMessage) {
	if len(elems) < 1 {
		return
	}
	id, err := decodeUint64(elems[0])
	if err != nil {
		return
	}
	s.mu.Lock()
	ch, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	s.mu.Unlock()
	if ok {
		ch <- reply{op: op, elems: elems[1:]}
	}
}

// routeSubscribed handles [SUBSCRIBED, reqID, subID]. The handler for the
// new subscription is installed before the reply is delivered so an event
// on the very next frame already has a target.
func (s *Session) routeSubscribed(elems []json.RawMessage) {
	if len(elems) < 2 {
		return
	}
	id, err := decodeUint64(elems[0])
	if err != nil {
		return
	}
	subID, err := decodeUint64(elems[1])
	if err != nil {
		return
	}
	s.mu.Lock()
	if handler, ok := s.pendingSubs[id]; ok {
		delete(s.pendingSubs, id)
		s.handlers[subID] = handler
	}
	ch, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	s.mu.Unlock()
	if ok {
		ch <- reply{op: OpSubscribed, elems: elems[1:]}
	}
}

// routeError handles [ERROR, reqType, reqID, details, errorURI, args?].
func (s *Session) routeError(elems []json.RawMessage) {
	if len(elems) < 4 {
		return
	}
	id, err := decodeUint64(elems[1])
	if err != nil {
		return
	}
	uri, err := decodeString(elems[3])
	if err != nil {
		return
	}
	wampErr := &Error{URI: uri, Details: elems[2]}
	if len(elems) >= 5 {
		json.Unmarshal(elems[4], &wampErr.Args)
	}

	s.mu.Lock()
	delete(s.pendingSubs, id)
	ch, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	s.mu.Unlock()
	if ok {
		ch <- reply{err: wampErr}
	}
}

// dispatchEvent handles [EVENT, subID, pubID, details, args?, kwargs?].
// The decoded event is queued for the dispatch goroutine; the read loop
// stays free to route the reply of any call a handler issues.
func (s *Session) dispatchEvent(elems []json.RawMessage) {
	if len(elems) < 3 {
		return
	}
	subID, err := decodeUint64(elems[0])
	if err != nil {
		return
	}
	pubID, _ := decodeUint64(elems[1])
	details, args, kwargs, err := parseTail(elems[2:])
	if err != nil {
		s.log.Debug("wamp: dropping malformed event", "error", err)
		return
	}

	s.evMu.Lock()
	s.evBuf = append(s.evBuf, Event{
		Subscription: subID,
		Publication:  pubID,
		Details:      details,
		Args:         args,
		ArgsDict:     kwargs,
	})
	s.evMu.Unlock()

	select {
	case s.evWake <- struct{}{}:
	default:
	}
}

// eventLoop delivers queued events to their handlers, one at a time, in the
// order the socket delivered them. Events for subscriptions that no longer
// have a handler are dropped.
func (s *Session) eventLoop() {
	for {
		select {
		case <-s.evWake:
		case <-s.done:
			return
		}

		for {
			s.evMu.Lock()
			if len(s.evBuf) == 0 {
				s.evMu.Unlock()
				break
			}
			ev := s.evBuf[0]
			s.evBuf = s.evBuf[1:]
			s.evMu.Unlock()

			s.mu.Lock()
			handler := s.handlers[ev.Subscription]
			s.mu.Unlock()
			if handler != nil {
				handler(ev)
			}
		}
	}
}

func (s *Session) writeLoop() {
	for {
		select {
		case data := <-s.sendCh:
			if err := wsutil.WriteClientText(s.conn, data); err != nil {
				s.log.Warn("wamp write error, closing session", "error", err)
				s.fail(err)
				return
			}
		case <-s.done:
			return
		}
	}
}

// normalizeArgs keeps args encoding as an array, never null: WAMP requires
// list|omitted, and kwargs force its presence.
func normalizeArgs(args []any) []any {
	if args == nil {
		return []any{}
	}
	return args
}

func normalizeKwargs(kwargs map[string]any) map[string]any {
	if kwargs == nil {
		return map[string]any{}
	}
	return kwargs
}
