package netlog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/raysh454/pagewatch/internal/browser"
	"github.com/raysh454/pagewatch/internal/logging"
	"github.com/tidwall/gjson"
)

// Options tune a Recorder.
type Options struct {
	// DecodeBodies fetches response bodies and attaches JSON ones as Data.
	DecodeBodies bool
	// BodyTimeout bounds a single body fetch. Zero means 10s.
	BodyTimeout time.Duration
	// Now overrides the clock; tests use it for stable timestamps.
	Now func() time.Time
}

// Recorder is the ordered, session-owned accumulator of NetworkEvents.
//
// Events are appended in the order Observe* is called. A response's slot is
// reserved when it is observed, so a slow body decode never reorders the log.
type Recorder struct {
	filter URLFilter
	opts   Options
	logger logging.Logger

	mu     sync.Mutex
	events []NetworkEvent
	subs   map[int]chan NetworkEvent
	nextID int

	pending sync.WaitGroup
}

func NewRecorder(filter URLFilter, opts Options, logger logging.Logger) *Recorder {
	if filter == nil {
		filter = AcceptAll
	}
	if opts.BodyTimeout <= 0 {
		opts.BodyTimeout = 10 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &Recorder{
		filter: filter,
		opts:   opts,
		logger: logger,
		subs:   make(map[int]chan NetworkEvent),
	}
}

// Matches reports whether url passes the recorder's filter.
func (r *Recorder) Matches(url string) bool {
	return r.filter(url)
}

// ObserveRequest records req if it passes the filter and reports whether it did.
func (r *Recorder) ObserveRequest(req browser.Request) bool {
	if !r.filter(req.URL) {
		return false
	}
	r.append(NetworkEvent{
		Type:      EventRequest,
		Method:    req.Method,
		URL:       req.URL,
		Timestamp: r.opts.Now(),
	})
	return true
}

// ObserveResponse records resp if it passes the filter and reports whether it
// did. With DecodeBodies set the body is fetched on its own goroutine.
func (r *Recorder) ObserveResponse(resp browser.Response) bool {
	if !r.filter(resp.URL) {
		return false
	}
	idx := r.append(NetworkEvent{
		Type:      EventResponse,
		Status:    resp.Status,
		URL:       resp.URL,
		Timestamp: r.opts.Now(),
	})

	if r.opts.DecodeBodies && resp.Body != nil {
		r.pending.Add(1)
		go r.decodeBody(idx, resp)
	}
	return true
}

func (r *Recorder) decodeBody(idx int, resp browser.Response) {
	defer r.pending.Done()

	ctx, cancel := context.WithTimeout(context.Background(), r.opts.BodyTimeout)
	defer cancel()

	var compact bytes.Buffer
	body, err := resp.Body(ctx)
	if err == nil && !gjson.ValidBytes(body) {
		err = ErrNotJSON
	}
	if err == nil {
		// the log is re-encoded with encoding/json, which is stricter than
		// gjson (nesting depth, for one)
		err = json.Compact(&compact, body)
	}
	if err != nil {
		derr := &DecodeError{URL: resp.URL, Err: err}
		r.logger.Info("could not parse response as JSON",
			logging.F("url", resp.URL),
			logging.F("status", resp.Status),
			logging.F("error", derr))
		return
	}

	data := json.RawMessage(compact.Bytes())

	r.mu.Lock()
	r.events[idx].Data = data
	r.mu.Unlock()
}

func (r *Recorder) append(ev NetworkEvent) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	for id, ch := range r.subs {
		select {
		case ch <- ev:
		default:
			r.logger.Warn("dropping event for slow subscriber", logging.F("subscriber", id), logging.F("url", ev.URL))
		}
	}
	return len(r.events) - 1
}

// Wait blocks until every in-flight body decode has finished or ctx ends.
func (r *Recorder) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for response bodies: %w", ctx.Err())
	}
}

// Events returns a copy of everything recorded so far, in order.
func (r *Recorder) Events() []NetworkEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]NetworkEvent(nil), r.events...)
}

// Len returns the number of recorded events.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// Subscribe returns everything recorded so far plus a channel carrying each
// later event as it is observed (before any body is attached). Events are
// dropped for a subscriber whose buffer is full. cancel closes the channel.
func (r *Recorder) Subscribe(buffer int) (backlog []NetworkEvent, events <-chan NetworkEvent, cancel func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan NetworkEvent, buffer)

	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.subs[id] = ch
	backlog = append([]NetworkEvent(nil), r.events...)
	r.mu.Unlock()

	var once sync.Once
	cancel = func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, id)
			r.mu.Unlock()
			close(ch)
		})
	}
	return backlog, ch, cancel
}

// MarshalEvents renders events as an indented JSON array; nil encodes as [].
func MarshalEvents(events []NetworkEvent) ([]byte, error) {
	if events == nil {
		events = []NetworkEvent{}
	}
	data, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode events: %w", err)
	}
	return data, nil
}
