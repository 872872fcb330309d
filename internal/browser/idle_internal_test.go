package browser

import (
	"testing"
	"time"

	"github.com/chromedp/cdproto/runtime"
)

func isClosed(ch <-chan struct{}, wait time.Duration) bool {
	select {
	case <-ch:
		return true
	case <-time.After(wait):
		return false
	}
}

func TestIdleWatcher_WaitsForLoadBeforeFiring(t *testing.T) {
	t.Parallel()
	w := newIdleWatcher(10 * time.Millisecond)
	w.started("1")
	w.finished("1")

	if isClosed(w.done, 50*time.Millisecond) {
		t.Fatal("idle fired before the page finished loading")
	}

	w.markLoaded()
	if !isClosed(w.done, time.Second) {
		t.Fatal("idle never fired after load with nothing in flight")
	}
}

func TestIdleWatcher_InflightRequestBlocksIdle(t *testing.T) {
	t.Parallel()
	w := newIdleWatcher(10 * time.Millisecond)
	w.started("a")
	w.markLoaded()

	if isClosed(w.done, 50*time.Millisecond) {
		t.Fatal("idle fired while a request was still in flight")
	}

	w.finished("a")
	if !isClosed(w.done, time.Second) {
		t.Fatal("idle never fired after the last request finished")
	}
}

func TestIdleWatcher_UnknownFinishIsHarmless(t *testing.T) {
	t.Parallel()
	w := newIdleWatcher(10 * time.Millisecond)
	w.started("a")
	w.finished("never-started")
	w.markLoaded()

	if isClosed(w.done, 50*time.Millisecond) {
		t.Fatal("finishing an unknown request must not clear a real one")
	}
}

func TestIdleWatcher_StaleTimerCallbackIgnored(t *testing.T) {
	t.Parallel()
	w := newIdleWatcher(time.Hour)
	w.markLoaded()

	w.mu.Lock()
	stale := w.gen
	w.mu.Unlock()

	// a request comes and goes; the quiet period starts over
	w.started("late")
	w.finished("late")

	w.fire(stale)
	if isClosed(w.done, 20*time.Millisecond) {
		t.Fatal("a callback from before the last request closed done")
	}

	w.mu.Lock()
	current := w.gen
	w.mu.Unlock()
	w.fire(current)
	if !isClosed(w.done, time.Second) {
		t.Fatal("the current callback did not close done")
	}
}

func TestRemoteObjectText(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		obj  *runtime.RemoteObject
		want string
	}{
		{"nil", nil, ""},
		{"string value", &runtime.RemoteObject{Type: runtime.TypeString, Value: []byte(`"hello"`)}, "hello"},
		{"number value", &runtime.RemoteObject{Type: runtime.TypeNumber, Value: []byte(`42`)}, "42"},
		{"unserializable", &runtime.RemoteObject{Type: runtime.TypeNumber, UnserializableValue: "NaN"}, "NaN"},
		{"object description", &runtime.RemoteObject{Type: runtime.TypeObject, Description: "Object"}, "Object"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := remoteObjectText(tt.obj); got != tt.want {
				t.Errorf("remoteObjectText() = %q, want %q", got, tt.want)
			}
		})
	}
}
