package ifunny

import "encoding/json"

// Context wraps one decoded server event or RPC result. It is ephemeral:
// constructed per event, never persisted, and mutated only through its
// setters, each of which eagerly builds the corresponding entity from the
// raw payload. Entities built from a context are never shared across
// contexts.
type Context struct {
	chats *Chats
	raw   json.RawMessage

	channel  *Channel
	channels []*Channel
	user     *ChatUser
	users    []*ChatUser
	message  *Message
	file     *ChatFile
	files    []*ChatFile
}

// NewContext creates an empty context bound to the chat client.
func NewContext(chats *Chats) *Context {
	return &Context{chats: chats}
}

// Chats returns the chat client the context belongs to.
func (c *Context) Chats() *Chats { return c.chats }

// SetRaw attaches the raw event payload for events that carry no typed
// entity (user_joined, user_left, channel_edited, user_kick).
func (c *Context) SetRaw(raw json.RawMessage) { c.raw = raw }

// Raw returns the raw event payload, if any.
func (c *Context) Raw() json.RawMessage { return c.raw }

// SetChannel builds the context's channel from a raw chat payload.
func (c *Context) SetChannel(raw json.RawMessage) {
	c.channel = newChannel(c, raw)
}

// Channel returns the channel of the context, or nil.
func (c *Context) Channel() *Channel { return c.channel }

// SetChannels builds the context's channel list from raw chat payloads.
func (c *Context) SetChannels(raws []json.RawMessage) {
	c.channels = make([]*Channel, 0, len(raws))
	for _, raw := range raws {
		c.channels = append(c.channels, newChannel(c, raw))
	}
}

// Channels returns the channels of the context.
func (c *Context) Channels() []*Channel { return c.channels }

// SetUser builds the context's user from a raw member payload.
func (c *Context) SetUser(raw json.RawMessage) {
	c.user = newChatUser(c, raw)
}

// User returns the user of the context, or nil.
func (c *Context) User() *ChatUser { return c.user }

// SetUsers builds the context's user list from raw member payloads.
func (c *Context) SetUsers(raws []json.RawMessage) {
	c.users = make([]*ChatUser, 0, len(raws))
	for _, raw := range raws {
		c.users = append(c.users, newChatUser(c, raw))
	}
}

// Users returns the users of the context.
func (c *Context) Users() []*ChatUser { return c.users }

// SetMessage builds the context's message from a raw message payload.
func (c *Context) SetMessage(raw json.RawMessage) {
	c.message = newMessage(c, raw)
}

// Message returns the message of the context, or nil.
func (c *Context) Message() *Message { return c.message }

// SetFile builds the context's file from a raw file payload.
func (c *Context) SetFile(raw json.RawMessage) {
	c.file = newChatFile(c, raw)
}

// File returns the file of the context, or nil.
func (c *Context) File() *ChatFile { return c.file }

// SetFiles builds the context's file list from raw file payloads.
func (c *Context) SetFiles(raws []json.RawMessage) {
	c.files = make([]*ChatFile, 0, len(raws))
	for _, raw := range raws {
		c.files = append(c.files, newChatFile(c, raw))
	}
}

// Files returns the files attached to the context.
func (c *Context) Files() []*ChatFile { return c.files }
