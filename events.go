package ifunny

import "sync"

// Event names emitted by the chat client.
const (
	EventConnected     = "connected"
	EventError         = "error"
	EventInvites       = "invites"
	EventMessage       = "message"
	EventFile          = "file"
	EventUserJoined    = "user_joined"
	EventUserLeft      = "user_left"
	EventChannelEdited = "channel_edited"
	EventUserKick      = "user_kick"
)

// ContextHandler receives the context of one inbound event.
type ContextHandler func(*Context)

// emitter is a named-event handler registry. Entities own one instead of
// inheriting emitter behavior.
type emitter struct {
	mu       sync.RWMutex
	handlers map[string][]ContextHandler
}

// On registers a handler for the named event.
func (e *emitter) On(event string, handler ContextHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handlers == nil {
		e.handlers = make(map[string][]ContextHandler)
	}
	e.handlers[event] = append(e.handlers[event], handler)
}

// emit invokes every handler registered for the event, synchronously, in
// registration order.
func (e *emitter) emit(event string, ctx *Context) {
	e.mu.RLock()
	handlers := e.handlers[event]
	e.mu.RUnlock()
	for _, handler := range handlers {
		handler(ctx)
	}
}
