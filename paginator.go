package ifunny

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ifunny-community/ifunny-go/wamp"
)

// caller is the RPC surface the paginator and entities need from the
// session.
type caller interface {
	Call(ctx context.Context, procedure string, args []any, kwargs map[string]any) (*wamp.Result, error)
}

// Paginator drives a cursor-based RPC as a lazy sequence of raw items. Each
// fetch passes the current cursor as the "next" kwarg (null on the first
// call) and reads the item list at the configured result key. Termination is
// cursor-absence-driven: an empty batch with a cursor present keeps going.
//
// A paginator is not restartable. Once exhausted it never re-issues the RPC;
// construct a fresh one to iterate again.
type Paginator struct {
	caller    caller
	procedure string
	key       string
	opts      map[string]any

	next   string
	noMore bool
	batch  []json.RawMessage
}

// NewPaginator builds a paginator for procedure, yielding the items found
// under key in each result's kwargs. opts are passed through on every call.
func NewPaginator(c caller, procedure, key string, opts map[string]any) *Paginator {
	return &Paginator{caller: c, procedure: procedure, key: key, opts: opts}
}

// Next returns the next item. The boolean is false once the sequence is
// exhausted. Errors from the underlying call propagate unchanged.
func (p *Paginator) Next(ctx context.Context) (json.RawMessage, bool, error) {
	for len(p.batch) == 0 {
		if p.noMore {
			return nil, false, nil
		}
		if err := p.fetch(ctx); err != nil {
			return nil, false, err
		}
	}
	item := p.batch[0]
	p.batch = p.batch[1:]
	return item, true, nil
}

func (p *Paginator) fetch(ctx context.Context) error {
	kwargs := make(map[string]any, len(p.opts)+1)
	for k, v := range p.opts {
		kwargs[k] = v
	}
	if p.next == "" {
		kwargs["next"] = nil
	} else {
		kwargs["next"] = p.next
	}

	result, err := p.caller.Call(ctx, p.procedure, nil, kwargs)
	if err != nil {
		return err
	}

	if raw, ok := result.ArgsDict[p.key]; ok && len(raw) > 0 {
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return fmt.Errorf("ifunny: paginate %s: bad %q batch: %w", p.procedure, p.key, err)
		}
		p.batch = items
	} else {
		p.batch = nil
	}

	p.next = result.Next()
	if p.next == "" {
		p.noMore = true
	}
	return nil
}
