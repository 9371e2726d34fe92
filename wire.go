package ifunny

import "encoding/json"

// JSON shapes pushed by the chat backend. The channel payload itself stays a
// raw field map (see payload.go); these are the typed views the demultiplexer
// and entities decode.

// Channel privacy type codes.
const (
	chatTypeDM      = 1
	chatTypePrivate = 2
	chatTypePublic  = 3
)

// joinStateMember is the join_state code meaning the account is a member.
const joinStateMember = 2

// Last-message type codes pushed on the chats topic.
const (
	msgTypeText          = 1
	msgTypeFile          = 2
	msgTypeUserJoined    = 3
	msgTypeUserLeft      = 4
	msgTypeChannelEdited = 5
	msgTypeUserKicked    = 6
)

// chatsPush is the kwargs payload of one chats/invites topic event.
type chatsPush struct {
	Chats []json.RawMessage `json:"chats"`
}

// chatSummary is the typed peek at one pushed chat used for demultiplexing.
// The full raw payload still seeds the Channel entity.
type chatSummary struct {
	Name    string          `json:"name"`
	User    json.RawMessage `json:"user"`
	LastMsg json.RawMessage `json:"last_msg"`
}

// lastMessage is the inline newest-message object on a pushed chat.
type lastMessage struct {
	ID      string       `json:"id"`
	Type    int          `json:"type"`
	PubAt   int64        `json:"pub_at"`
	Payload *messageMeta `json:"payload"`
}

// userPayload is the chat-scoped member shape.
type userPayload struct {
	ID         string `json:"id"`
	Nick       string `json:"nick"`
	Role       int    `json:"role"`
	LastSeenAt int64  `json:"last_seen_at"`
	InChat     bool   `json:"in_chat"`
	IsMe       bool   `json:"is_me"`
}

// messagePayload is one message from a push or from history pagination.
type messagePayload struct {
	ID      string          `json:"id"`
	Text    string          `json:"text"`
	PubAt   int64           `json:"pub_at"`
	User    json.RawMessage `json:"user"`
	Payload *messageMeta    `json:"payload"`
}

// messageMeta carries the client-assigned local id; both historical
// spellings occur on the wire.
type messageMeta struct {
	LocalID      string `json:"local_id"`
	LocalIDAlias string `json:"localId"`
}

// filePayload is one file attachment message.
type filePayload struct {
	ID     string          `json:"id"`
	PubAt  int64           `json:"pub_at"`
	Status int             `json:"status"`
	User   json.RawMessage `json:"user"`
	Files  []fileInfo      `json:"files"`
}

// fileInfo describes one uploaded blob inside a file message.
type fileInfo struct {
	Hash        string `json:"hash"`
	URL         string `json:"url"`
	ThumbURL    string `json:"thumb_url"`
	ThumbWidth  int    `json:"thumb_width"`
	ThumbHeight int    `json:"thumb_height"`
}
