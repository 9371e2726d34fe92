package wamp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// router is one scripted server-side WAMP peer over a real loopback socket.
type router struct {
	t    *testing.T
	conn net.Conn
}

// startRouter listens on loopback and runs script against the first
// connection after upgrading it to WebSocket.
func startRouter(t *testing.T, script func(r *router)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		if _, err := ws.Upgrade(conn); err != nil {
			return
		}
		script(&router{t: t, conn: conn})
	}()

	return "ws://" + ln.Addr().String()
}

// expect reads one client frame and fails the test on any other opcode.
// Returns the elements after the opcode.
func (r *router) expect(op uint8) []json.RawMessage {
	data, err := wsutil.ReadClientText(r.conn)
	if err != nil {
		r.t.Errorf("router read: %v", err)
		return nil
	}
	got, elems, err := Decode(data)
	if err != nil {
		r.t.Errorf("router decode: %v", err)
		return nil
	}
	if got != op {
		r.t.Errorf("router: got opcode %d, want %d", got, op)
	}
	return elems
}

func (r *router) send(format string, args ...any) {
	frame := fmt.Sprintf(format, args...)
	if err := wsutil.WriteServerText(r.conn, []byte(frame)); err != nil {
		r.t.Errorf("router write: %v", err)
	}
}

// requestID extracts the request id from the first element.
func (r *router) requestID(elems []json.RawMessage) uint64 {
	if len(elems) == 0 {
		r.t.Error("router: missing request id")
		return 0
	}
	id, err := decodeUint64(elems[0])
	if err != nil {
		r.t.Errorf("router: bad request id: %v", err)
	}
	return id
}

// handshake performs the server side of the ticket handshake.
func (r *router) handshake() {
	r.expect(OpHello)
	r.send(`[%d,"ticket",{}]`, OpChallenge)
	elems := r.expect(OpAuthenticate)
	if len(elems) > 0 {
		ticket, _ := decodeString(elems[0])
		if ticket != "bearer-token" {
			r.t.Errorf("router: ticket answer %q, want %q", ticket, "bearer-token")
		}
	}
	r.send(`[%d,123,{"authid":"user-1"}]`, OpWelcome)
}

func testConfig(endpoint string) Config {
	return Config{
		Endpoint: endpoint,
		Realm:    "co.fun.chat.ifunny",
		AuthID:   "user-1",
		Ticket:   "bearer-token",
	}
}

func connectTest(t *testing.T, script func(r *router)) *Session {
	t.Helper()
	endpoint := startRouter(t, script)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := Connect(ctx, testConfig(endpoint))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestConnectHandshake(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	s := connectTest(t, func(r *router) {
		r.handshake()
		<-block
	})

	if s.State() != StateAuthenticated {
		t.Errorf("state: got %d, want authenticated", s.State())
	}
	if s.Welcome().SessionID != 123 {
		t.Errorf("session id: got %d, want 123", s.Welcome().SessionID)
	}
}

func TestConnectAborted(t *testing.T) {
	endpoint := startRouter(t, func(r *router) {
		r.expect(OpHello)
		r.send(`[%d,{"message":"no such user"},"wamp.error.not_authorized"]`, OpAbort)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := Connect(ctx, testConfig(endpoint))
	if err == nil {
		t.Fatal("expected handshake abort error")
	}
	var wampErr *Error
	if !errors.As(err, &wampErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if wampErr.URI != ErrURINotAuthorized {
		t.Errorf("abort uri: got %q", wampErr.URI)
	}
}

func TestCallResult(t *testing.T) {
	s := connectTest(t, func(r *router) {
		r.handshake()
		elems := r.expect(OpCall)
		id := r.requestID(elems)
		r.send(`[%d,%d,{},[],{"messages":[{"id":"m1"}],"next":"cur-1"}]`, OpResult, id)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := s.Call(ctx, "co.fun.chat.list_messages", nil, map[string]any{"limit": 50})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if result.Next() != "cur-1" {
		t.Errorf("cursor: got %q, want %q", result.Next(), "cur-1")
	}
	if string(result.ArgsDict["messages"]) != `[{"id":"m1"}]` {
		t.Errorf("messages: got %s", result.ArgsDict["messages"])
	}
}

func TestCallError(t *testing.T) {
	s := connectTest(t, func(r *router) {
		r.handshake()
		elems := r.expect(OpCall)
		id := r.requestID(elems)
		r.send(`[%d,%d,%d,{},"wamp.error.authorization_failed"]`, OpError, OpCall, id)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := s.Call(ctx, "co.fun.chat.kick_member", []any{"5_7", "u9"}, nil)
	if err == nil {
		t.Fatal("expected call error")
	}
	if !IsAuthorizationFailed(err) {
		t.Errorf("expected authorization failure, got %v", err)
	}
}

func TestPublishAcknowledged(t *testing.T) {
	s := connectTest(t, func(r *router) {
		r.handshake()
		elems := r.expect(OpPublish)
		id := r.requestID(elems)
		r.send(`[%d,%d,777]`, OpPublished, id)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pubID, err := s.Publish(ctx, "co.fun.chat.chat.5_7", []any{200, 1, "hi"}, nil)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if pubID != 777 {
		t.Errorf("publication id: got %d, want 777", pubID)
	}
}

func TestSubscribeEventUnsubscribe(t *testing.T) {
	proceed := make(chan struct{})
	s := connectTest(t, func(r *router) {
		r.handshake()
		elems := r.expect(OpSubscribe)
		id := r.requestID(elems)
		r.send(`[%d,%d,5]`, OpSubscribed, id)
		r.send(`[%d,5,99,{},[],{"chats":[]}]`, OpEvent)
		<-proceed
		elems = r.expect(OpUnsubscribe)
		id = r.requestID(elems)
		r.send(`[%d,%d]`, OpUnsubscribed, id)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events := make(chan Event, 1)
	err := s.Subscribe(ctx, "co.fun.chat.user.user-1.chats", func(ev Event) {
		events <- ev
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	select {
	case ev := <-events:
		if ev.Publication != 99 {
			t.Errorf("publication: got %d, want 99", ev.Publication)
		}
		if string(ev.ArgsDict["chats"]) != `[]` {
			t.Errorf("chats kwarg: got %s", ev.ArgsDict["chats"])
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for event")
	}

	close(proceed)
	if err := s.Unsubscribe(ctx, "co.fun.chat.user.user-1.chats"); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}

	// A second unsubscribe has nothing registered.
	if err := s.Unsubscribe(ctx, "co.fun.chat.user.user-1.chats"); err == nil {
		t.Error("expected error for unknown subscription")
	}
}

func TestEventHandlerCanIssueCalls(t *testing.T) {
	proceed := make(chan struct{})
	defer close(proceed)
	s := connectTest(t, func(r *router) {
		r.handshake()
		elems := r.expect(OpSubscribe)
		id := r.requestID(elems)
		r.send(`[%d,%d,5]`, OpSubscribed, id)
		r.send(`[%d,5,99,{},[],{"chats":[]}]`, OpEvent)
		elems = r.expect(OpCall)
		id = r.requestID(elems)
		r.send(`[%d,%d,{},[],{"chat":{"name":"5_7"}}]`, OpResult, id)
		<-proceed
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// The "reply on message" pattern: the handler itself performs an RPC.
	// This only works if the read loop keeps routing while the handler
	// blocks on the reply.
	outcome := make(chan error, 1)
	err := s.Subscribe(ctx, "co.fun.chat.user.user-1.chats", func(Event) {
		_, callErr := s.Call(ctx, "co.fun.chat.get_chat", nil, map[string]any{"chat_name": "5_7"})
		outcome <- callErr
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	select {
	case err := <-outcome:
		if err != nil {
			t.Fatalf("call from event handler: %v", err)
		}
	case <-ctx.Done():
		t.Fatal("call from event handler never completed")
	}
}

func TestCallRequiresAuthenticated(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	s := connectTest(t, func(r *router) {
		r.handshake()
		<-block
	})
	s.Close()

	_, err := s.Call(context.Background(), "co.fun.chat.get_chat", nil, nil)
	if !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("got %v, want ErrNotAuthenticated", err)
	}
}
