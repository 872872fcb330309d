package browser

import (
	"context"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// idleWatcher closes done once the page has loaded and no request has been
// in flight for idleAfter. The listener is dropped when ctx ends.
type idleWatcher struct {
	idleAfter time.Duration
	done      chan struct{}

	mu       sync.Mutex
	inflight map[network.RequestID]struct{}
	loaded   bool
	timer    *time.Timer
	// gen invalidates timer callbacks that already started when Stop was called
	gen  uint64
	once sync.Once
}

func watchNetworkIdle(ctx context.Context, idleAfter time.Duration) *idleWatcher {
	w := newIdleWatcher(idleAfter)
	chromedp.ListenTarget(ctx, func(ev any) {
		switch e := ev.(type) {
		case *network.EventRequestWillBeSent:
			w.started(e.RequestID)
		case *network.EventLoadingFinished:
			w.finished(e.RequestID)
		case *network.EventLoadingFailed:
			w.finished(e.RequestID)
		}
	})
	return w
}

func newIdleWatcher(idleAfter time.Duration) *idleWatcher {
	return &idleWatcher{
		idleAfter: idleAfter,
		done:      make(chan struct{}),
		inflight:  make(map[network.RequestID]struct{}),
	}
}

func (w *idleWatcher) started(id network.RequestID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.inflight[id] = struct{}{}
	w.gen++
	if w.timer != nil {
		w.timer.Stop()
	}
}

func (w *idleWatcher) finished(id network.RequestID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.inflight, id)
	w.arm()
}

func (w *idleWatcher) markLoaded() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.loaded = true
	w.arm()
}

// arm must be called with mu held.
func (w *idleWatcher) arm() {
	if !w.loaded || len(w.inflight) > 0 {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.gen++
	gen := w.gen
	w.timer = time.AfterFunc(w.idleAfter, func() { w.fire(gen) })
}

// fire closes done if nothing has started or re-armed since gen was taken.
func (w *idleWatcher) fire(gen uint64) {
	w.mu.Lock()
	quiet := gen == w.gen && len(w.inflight) == 0
	w.mu.Unlock()
	if quiet {
		w.once.Do(func() { close(w.done) })
	}
}
