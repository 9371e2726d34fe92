package ifunny

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func TestPayloadReadsWithFallback(t *testing.T) {
	p := newPayload(json.RawMessage(`{"name": "room", "members_total": 4}`), nil)
	ctx := context.Background()

	if v, _ := p.getString(ctx, "name", "?"); v != "room" {
		t.Errorf("name = %q", v)
	}
	if v, _ := p.getString(ctx, "missing", "fallback"); v != "fallback" {
		t.Errorf("missing string = %q", v)
	}
	if v, _ := p.getInt(ctx, "members_total", 0); v != 4 {
		t.Errorf("members_total = %d", v)
	}
	if v, _ := p.getInt(ctx, "missing", 9); v != 9 {
		t.Errorf("missing int = %d", v)
	}
	if v := p.peekString("name"); v != "room" {
		t.Errorf("peek = %q", v)
	}
}

func TestPayloadRefreshWithoutFetchIsNoOp(t *testing.T) {
	p := newPayload(json.RawMessage(`{"name": "room"}`), nil)
	p.Refresh()
	if v, err := p.getString(context.Background(), "name", ""); err != nil || v != "room" {
		t.Errorf("get after no-op refresh = (%q, %v)", v, err)
	}
}

func TestPayloadRefreshTriggersSingleFetch(t *testing.T) {
	fetches := 0
	p := newPayload(json.RawMessage(`{"name": "old"}`), func(context.Context) (map[string]json.RawMessage, error) {
		fetches++
		return map[string]json.RawMessage{"name": json.RawMessage(`"new"`)}, nil
	})
	ctx := context.Background()

	if v, _ := p.getString(ctx, "name", ""); v != "old" {
		t.Fatalf("pre-refresh = %q", v)
	}
	if fetches != 0 {
		t.Fatalf("non-stale read fetched %d times", fetches)
	}

	p.Refresh()
	if v, _ := p.getString(ctx, "name", ""); v != "new" {
		t.Fatalf("post-refresh = %q, want new", v)
	}
	p.getString(ctx, "name", "")
	if fetches != 1 {
		t.Errorf("fetched %d times, want 1", fetches)
	}
}

func TestPayloadRefreshFetchError(t *testing.T) {
	fetchErr := errors.New("backend down")
	p := newPayload(json.RawMessage(`{"name": "room"}`), func(context.Context) (map[string]json.RawMessage, error) {
		return nil, fetchErr
	})
	p.Refresh()
	if _, err := p.get(context.Background(), "name"); !errors.Is(err, fetchErr) {
		t.Errorf("get = %v, want fetch error", err)
	}
}

func TestPayloadReplace(t *testing.T) {
	fetches := 0
	p := newPayload(nil, func(context.Context) (map[string]json.RawMessage, error) {
		fetches++
		return nil, nil
	})
	p.Refresh()
	p.replace(map[string]json.RawMessage{"name": json.RawMessage(`"fresh"`)})

	if v, _ := p.getString(context.Background(), "name", ""); v != "fresh" {
		t.Errorf("name = %q, want fresh", v)
	}
	if fetches != 0 {
		t.Errorf("replace did not clear staleness, fetched %d times", fetches)
	}
}
