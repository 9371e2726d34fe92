// Package wamp implements the client side of the WAMP v2 basic profile as
// spoken by the iFunny chat backend: JSON array envelopes over WebSocket
// text frames, ticket authentication, RPC calls and broker pub/sub.
//
// Envelope layout (JSON array):
//
//	[opcode, ...elements]
//
// Only the message types the chat backend uses are modeled. The session
// owns its own handshake state machine rather than delegating framing to a
// WAMP library.
package wamp

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Message opcodes. WAMP v2 basic profile.
const (
	OpHello        uint8 = 1
	OpWelcome      uint8 = 2
	OpAbort        uint8 = 3
	OpChallenge    uint8 = 4
	OpAuthenticate uint8 = 5
	OpGoodbye      uint8 = 6
	OpError        uint8 = 8
	OpPublish      uint8 = 16
	OpPublished    uint8 = 17
	OpSubscribe    uint8 = 32
	OpSubscribed   uint8 = 33
	OpUnsubscribe  uint8 = 34
	OpUnsubscribed uint8 = 35
	OpEvent        uint8 = 36
	OpCall         uint8 = 48
	OpResult       uint8 = 50
)

var (
	ErrEmptyMessage = errors.New("wamp: empty message")
	ErrBadEnvelope  = errors.New("wamp: malformed message envelope")
)

// Encode serialises an opcode and its elements into one JSON array frame.
func Encode(op uint8, elems ...any) ([]byte, error) {
	arr := make([]any, 0, len(elems)+1)
	arr = append(arr, op)
	arr = append(arr, elems...)
	data, err := json.Marshal(arr)
	if err != nil {
		return nil, fmt.Errorf("wamp: encode opcode %d: %w", op, err)
	}
	return data, nil
}

// Decode parses a frame into its opcode and raw elements. Elements stay
// undecoded so each message type can pick its own shapes.
func Decode(data []byte) (uint8, []json.RawMessage, error) {
	var arr []json.RawMessage
	if err := json.Unmarshal(data, &arr); err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}
	if len(arr) == 0 {
		return 0, nil, ErrEmptyMessage
	}
	var op uint8
	if err := json.Unmarshal(arr[0], &op); err != nil {
		return 0, nil, fmt.Errorf("%w: bad opcode: %v", ErrBadEnvelope, err)
	}
	return op, arr[1:], nil
}

// Result is the outcome of a CALL: [RESULT, reqID, details, args, kwargs].
// ArgsDict carries the RPC-specific fields, notably the "next" pagination
// cursor.
type Result struct {
	Details  json.RawMessage
	Args     []json.RawMessage
	ArgsDict map[string]json.RawMessage
}

// Next returns the pagination cursor from ArgsDict, or "" when the server
// signalled completion (absent or null cursor).
func (r *Result) Next() string {
	raw, ok := r.ArgsDict["next"]
	if !ok {
		return ""
	}
	var cursor string
	if err := json.Unmarshal(raw, &cursor); err != nil {
		return ""
	}
	return cursor
}

// Event is one broker push: [EVENT, subID, pubID, details, args, kwargs].
type Event struct {
	Subscription uint64
	Publication  uint64
	Details      json.RawMessage
	Args         []json.RawMessage
	ArgsDict     map[string]json.RawMessage
}

// EventHandler receives decoded events in socket delivery order.
type EventHandler func(Event)

// parseTail decodes the trailing [details, args?, kwargs?] elements shared
// by RESULT and EVENT envelopes.
func parseTail(elems []json.RawMessage) (details json.RawMessage, args []json.RawMessage, kwargs map[string]json.RawMessage, err error) {
	if len(elems) >= 1 {
		details = elems[0]
	}
	if len(elems) >= 2 {
		if err = json.Unmarshal(elems[1], &args); err != nil {
			return nil, nil, nil, fmt.Errorf("%w: bad args: %v", ErrBadEnvelope, err)
		}
	}
	if len(elems) >= 3 {
		if err = json.Unmarshal(elems[2], &kwargs); err != nil {
			return nil, nil, nil, fmt.Errorf("%w: bad kwargs: %v", ErrBadEnvelope, err)
		}
	}
	return details, args, kwargs, nil
}

func decodeUint64(raw json.RawMessage) (uint64, error) {
	var v uint64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, fmt.Errorf("%w: bad id: %v", ErrBadEnvelope, err)
	}
	return v, nil
}

func decodeString(raw json.RawMessage) (string, error) {
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", fmt.Errorf("%w: bad string: %v", ErrBadEnvelope, err)
	}
	return v, nil
}
