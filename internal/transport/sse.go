package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/scholarmcp/scholarmcp/internal/session"
)

// lockedWriteFlusher serializes writes and flushes on a streaming
// response and refuses to write after the request context is canceled.
type lockedWriteFlusher struct {
	io.Writer
	http.Flusher
	mu  sync.Mutex
	ctx context.Context
}

func (l *lockedWriteFlusher) Write(p []byte) (int, error) {
	if l.ctx != nil && l.ctx.Err() != nil {
		return 0, l.ctx.Err()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	// Re-check after acquiring the lock to minimize races with cancellation
	if l.ctx != nil && l.ctx.Err() != nil {
		return 0, l.ctx.Err()
	}
	return l.Writer.Write(p)
}

func (l *lockedWriteFlusher) Flush() {
	if l.ctx != nil && l.ctx.Err() != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx != nil && l.ctx.Err() != nil {
		return
	}
	l.Flusher.Flush()
}

// setSSEHeaders commits the response to a server-sent event stream.
// X-Accel-Buffering disables proxy buffering so events reach the
// client as they are written.
func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// writeSSEEvent frames a single event. A zero id omits the id field; a
// "message" event type is the SSE default and is omitted too.
func writeSSEEvent(wf *lockedWriteFlusher, id uint64, eventType, data string) error {
	if id != 0 {
		if _, err := fmt.Fprintf(wf, "id: %s\n", strconv.FormatUint(id, 10)); err != nil {
			return fmt.Errorf("failed to write SSE event id: %w", err)
		}
	}
	if eventType != "" && eventType != "message" {
		if _, err := fmt.Fprintf(wf, "event: %s\n", eventType); err != nil {
			return fmt.Errorf("failed to write SSE event type: %w", err)
		}
	}
	if _, err := fmt.Fprintf(wf, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("failed to write SSE payload: %w", err)
	}
	wf.Flush()
	return nil
}

func writeSSEComment(wf *lockedWriteFlusher, text string) error {
	if _, err := fmt.Fprintf(wf, ": %s\n\n", text); err != nil {
		return err
	}
	wf.Flush()
	return nil
}

// parseLastEventID reads the Last-Event-ID header, treating absent or
// malformed values as 0 (replay everything).
func parseLastEventID(r *http.Request) uint64 {
	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		return 0
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// streamEvents replays history after lastEventID and then relays live
// events until the client disconnects. Events are deduplicated by id
// across the replay/live boundary: a live event already covered by the
// replay is skipped. Replay gaps from ring eviction are served
// silently with whatever history remains.
func streamEvents(ctx context.Context, wf *lockedWriteFlusher, sess *session.Session, lastEventID uint64, keepAliveInterval time.Duration) error {
	// A Last-Event-ID ahead of the session (a reconnect that landed on
	// a fresh session after its old one was swept) must not filter the
	// new session's live events, whose ids restart at 1.
	lastSent := lastEventID
	if cur := sess.CurrentEventID(); lastSent > cur {
		lastSent = cur
	}

	sub := sess.Subscribe()
	defer sub.Close()

	for _, ev := range sess.EventsAfter(lastSent) {
		if err := writeSSEEvent(wf, ev.ID, ev.Type, ev.Data); err != nil {
			return err
		}
		lastSent = ev.ID
	}

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := writeSSEComment(wf, "ping"); err != nil {
				return err
			}
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if ev.ID <= lastSent {
				continue
			}
			if err := writeSSEEvent(wf, ev.ID, ev.Type, ev.Data); err != nil {
				return err
			}
			lastSent = ev.ID
		}
	}
}
