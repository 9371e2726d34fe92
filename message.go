package ifunny

import (
	"encoding/json"
	"time"
)

// Message is an immutable text message from a push or from history
// pagination.
type Message struct {
	author *ChatUser
	p      messagePayload
}

func newMessage(ctx *Context, raw json.RawMessage) *Message {
	m := &Message{}
	json.Unmarshal(raw, &m.p)
	if len(m.p.User) > 0 {
		m.author = newChatUser(ctx, m.p.User)
	}
	return m
}

// ID is the server-assigned message id.
func (m *Message) ID() string { return m.p.ID }

// Author is the sending user, or nil when the payload carried none.
func (m *Message) Author() *ChatUser { return m.author }

// Content is the message text.
func (m *Message) Content() string { return m.p.Text }

// Timestamp is when the message was published, or the zero time.
func (m *Message) Timestamp() time.Time {
	if m.p.PubAt == 0 {
		return time.Time{}
	}
	return time.UnixMilli(m.p.PubAt)
}

// LocalID is the client-assigned id attached by the sending client, used to
// recognize duplicate and self-originated echoes. Both wire spellings are
// accepted.
func (m *Message) LocalID() string {
	if m.p.Payload == nil {
		return ""
	}
	if m.p.Payload.LocalID != "" {
		return m.p.Payload.LocalID
	}
	return m.p.Payload.LocalIDAlias
}

// Thumbnail describes a file attachment preview.
type Thumbnail struct {
	URL    string
	Width  int
	Height int
}

// ChatFile is an immutable file attachment message.
type ChatFile struct {
	author *ChatUser
	p      filePayload
}

func newChatFile(ctx *Context, raw json.RawMessage) *ChatFile {
	f := &ChatFile{}
	json.Unmarshal(raw, &f.p)
	if len(f.p.User) > 0 {
		f.author = newChatUser(ctx, f.p.User)
	}
	return f
}

// ID is the file message id.
func (f *ChatFile) ID() string { return f.p.ID }

// Author is the sending user, or nil.
func (f *ChatFile) Author() *ChatUser { return f.author }

// Status is the upload status code.
func (f *ChatFile) Status() int { return f.p.Status }

// PubAt is when the file was published, or the zero time.
func (f *ChatFile) PubAt() time.Time {
	if f.p.PubAt == 0 {
		return time.Time{}
	}
	return time.UnixMilli(f.p.PubAt)
}

// Hash is the content hash of the first blob.
func (f *ChatFile) Hash() string {
	if len(f.p.Files) == 0 {
		return ""
	}
	return f.p.Files[0].Hash
}

// URL is the download URL of the first blob.
func (f *ChatFile) URL() string {
	if len(f.p.Files) == 0 {
		return ""
	}
	return f.p.Files[0].URL
}

// Thumbnail is the preview of the first blob.
func (f *ChatFile) Thumbnail() Thumbnail {
	if len(f.p.Files) == 0 {
		return Thumbnail{}
	}
	return Thumbnail{
		URL:    f.p.Files[0].ThumbURL,
		Width:  f.p.Files[0].ThumbWidth,
		Height: f.p.Files[0].ThumbHeight,
	}
}
