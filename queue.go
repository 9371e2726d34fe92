package ifunny

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ifunny-community/ifunny-go/wamp"
)

const (
	// maxBatchUnits is the serialized-size ceiling for one coalesced send.
	maxBatchUnits = 5000
	// tickSpacing keeps steady-state throughput under the platform's
	// send-rate ceiling (under 20 sends per minute).
	tickSpacing = 3050 * time.Millisecond
	// authRetryDelay is how long to hold a batch after the session
	// credential is rejected, giving the owner a chance to refresh it.
	authRetryDelay = 1000 * time.Millisecond
)

// waitForWork tells the run loop to block until the next enqueue.
const waitForWork = time.Duration(-1)

// SendResult is the acknowledgement of one batched send. Every entry
// coalesced into the batch receives the same result.
type SendResult struct {
	Timestamp   time.Time
	Publication uint64
}

// SendCallback is a per-entry completion callback.
type SendCallback func(SendResult, error)

// QueueEntry is one pending outbound message.
type QueueEntry struct {
	ChannelName string
	Nick        string
	Content     string
	Callback    SendCallback
	Priority    bool
}

type sendFunc func(ctx context.Context, channelName, content string) (SendResult, error)

// MessageQueue serializes all outbound chat sends through one rate-limited
// pipeline, coalescing same-channel entries queued at the same tick into a
// single publish. Entries marked priority are promoted to the front of the
// normal queue before each tick, so they dispatch at the next available tick
// and are never starved by unrelated channel batching.
//
// Authorization failures hold the batch and retry after authRetryDelay; any
// other send failure is surfaced to every captured callback.
type MessageQueue struct {
	send sendFunc
	log  *slog.Logger

	mu       sync.Mutex
	queued   []*QueueEntry
	priority []*QueueEntry

	wake      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

func newMessageQueue(send sendFunc, log *slog.Logger) *MessageQueue {
	return &MessageQueue{
		send: send,
		log:  log,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// AddToQueue enqueues one entry. Safe to call while a tick is in flight: it
// only ever appends, so the indices a tick captured stay valid.
func (q *MessageQueue) AddToQueue(entry QueueEntry) {
	e := entry
	q.mu.Lock()
	if e.Priority {
		q.priority = append(q.priority, &e)
	} else {
		q.queued = append(q.queued, &e)
	}
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// start launches the processing loop. Idempotent.
func (q *MessageQueue) start() {
	q.startOnce.Do(func() {
		go q.run()
	})
}

// stop terminates the processing loop. Queued entries are abandoned; the
// queue's owner is being destroyed.
func (q *MessageQueue) stop() {
	q.stopOnce.Do(func() {
		close(q.done)
	})
}

func (q *MessageQueue) run() {
	delay := time.Duration(0)
	for {
		switch {
		case delay == waitForWork:
			select {
			case <-q.wake:
			case <-q.done:
				return
			}
		case delay > 0:
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-q.done:
				timer.Stop()
				return
			}
		}

		select {
		case <-q.done:
			return
		default:
		}

		delay = q.tick(context.Background())
	}
}

// bucket accumulates one nickname's content within a tick's batch.
type bucket struct {
	nick    string
	content string
}

// tick runs one processing pass and returns the delay before the next one.
func (q *MessageQueue) tick(ctx context.Context) time.Duration {
	q.mu.Lock()
	q.promotePriority()

	if len(q.queued) == 0 {
		q.mu.Unlock()
		return waitForWork
	}

	head := q.queued[0]

	var buckets []*bucket
	byNick := make(map[string]*bucket)
	folded := make(map[int]bool)
	var callbacks []SendCallback

	for i, entry := range q.queued {
		if entry.ChannelName != head.ChannelName {
			continue
		}

		// Running total of the serialized batch: each nickname
		// contributes its name, the ": " separator, and its content
		// with the two-newline suffix.
		total := 0
		for _, b := range buckets {
			total += len(b.nick) + 2 + len(b.content) + 2
		}

		if b, ok := byNick[entry.Nick]; ok {
			if total+len(entry.Content)+2 < maxBatchUnits {
				b.content += entry.Content
				folded[i] = true
				callbacks = append(callbacks, entry.Callback)
			}
			continue
		}

		// The head entry always opens the batch: without it the tick
		// would render an empty body and never make progress. The
		// ceiling gates every further fold.
		contribution := len(entry.Nick) + 2 + len(entry.Content)
		if len(buckets) == 0 || total+contribution < maxBatchUnits {
			b := &bucket{nick: entry.Nick, content: entry.Content}
			buckets = append(buckets, b)
			byNick[entry.Nick] = b
			folded[i] = true
			callbacks = append(callbacks, entry.Callback)
		}
	}

	body := renderBatch(buckets)
	channelName := head.ChannelName
	q.mu.Unlock()

	result, err := q.send(ctx, channelName, body)
	if err != nil {
		if wamp.IsAuthorizationFailed(err) {
			// Token rejected mid-session: keep the whole batch queued
			// and retry once the owner had a chance to refresh.
			q.log.Warn("send not authorized, holding batch", "channel", channelName)
			return authRetryDelay
		}
		q.removeFolded(folded)
		for _, cb := range callbacks {
			if cb != nil {
				cb(SendResult{}, err)
			}
		}
		return tickSpacing
	}

	q.removeFolded(folded)
	for _, cb := range callbacks {
		if cb != nil {
			cb(result, nil)
		}
	}
	return tickSpacing
}

// promotePriority splices all priority entries, in order, to the front of
// the normal queue. Caller holds q.mu.
func (q *MessageQueue) promotePriority() {
	if len(q.priority) == 0 {
		return
	}
	merged := make([]*QueueEntry, 0, len(q.priority)+len(q.queued))
	merged = append(merged, q.priority...)
	merged = append(merged, q.queued...)
	q.queued = merged
	q.priority = nil
}

// removeFolded drops the entries consumed by a tick and promotes any
// priority entries that arrived meanwhile. The captured indices are still
// valid because AddToQueue only appends.
func (q *MessageQueue) removeFolded(folded map[int]bool) {
	q.mu.Lock()
	kept := q.queued[:0:0]
	for i, entry := range q.queued {
		if !folded[i] {
			kept = append(kept, entry)
		}
	}
	q.queued = kept
	q.promotePriority()
	q.mu.Unlock()
}

// renderBatch joins the per-nickname contents into one message body:
// "{nick}: {content}" blocks separated by a three-newline artifact, with
// the final artifact trimmed.
func renderBatch(buckets []*bucket) string {
	var sb strings.Builder
	for _, b := range buckets {
		sb.WriteString(b.nick)
		sb.WriteString(": ")
		sb.WriteString(b.content)
		sb.WriteString("\n\n\n")
	}
	body := sb.String()
	if len(body) >= 3 {
		body = body[:len(body)-3]
	}
	return body
}
