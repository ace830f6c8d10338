package watch

import (
	"log/slog"
	"sync"

	"github.com/yndnr/authpersist/internal/storage"
)

// Hooks start and stop the change source of a backend. Start runs when
// the first listener is registered and Stop when the last is removed.
// Neither may call back into the Notifier.
type Hooks struct {
	Start func()
	Stop  func()
}

// Notifier combines the listener index, the shadow cache and the
// dispatcher into the per-backend notification state.
type Notifier struct {
	listeners  *Listeners
	shadow     *Shadow
	dispatcher *Dispatcher
	hooks      Hooks

	lifeMu sync.Mutex
}

// NewNotifier creates a notifier with its own dispatcher goroutine.
func NewNotifier(logger *slog.Logger, hooks Hooks) *Notifier {
	return &Notifier{
		listeners:  NewListeners(),
		shadow:     NewShadow(),
		dispatcher: NewDispatcher(logger),
		hooks:      hooks,
	}
}

// Subscribe registers fn for key. When key had no listeners yet, seed is
// called to record the currently stored value in the shadow; seed may
// report ok=false when the read failed.
func (n *Notifier) Subscribe(key string, fn storage.Listener, seed func() (storage.Value, bool)) storage.Unsubscribe {
	n.lifeMu.Lock()
	fresh := !n.listeners.Has(key)
	id, first := n.listeners.Add(key, fn)
	if fresh && seed != nil {
		if v, ok := seed(); ok {
			n.shadow.Put(key, v)
		}
	}
	if first && n.hooks.Start != nil {
		n.hooks.Start()
	}
	n.lifeMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.lifeMu.Lock()
			defer n.lifeMu.Unlock()
			if removed, last := n.listeners.Remove(key, id); removed && last && n.hooks.Stop != nil {
				n.hooks.Stop()
			}
		})
	}
}

// Publish records v as the latest value of key and queues delivery to the
// current listeners of key.
func (n *Notifier) Publish(key string, v storage.Value) {
	n.shadow.Put(key, v)
	n.deliver(key, v)
}

// PublishIfChanged publishes v only when it differs from the shadow and
// reports whether it did.
func (n *Notifier) PublishIfChanged(key string, v storage.Value) bool {
	if !n.shadow.Swap(key, v) {
		return false
	}
	n.deliver(key, v)
	return true
}

func (n *Notifier) deliver(key string, v storage.Value) {
	snapshot := n.listeners.Snapshot(key)
	if len(snapshot) == 0 {
		return
	}
	fns := make([]func(), len(snapshot))
	for i, fn := range snapshot {
		fn := fn
		fns[i] = func() { fn(clone(v)) }
	}
	n.dispatcher.Dispatch(fns...)
}

// Shadow returns the shadow cache.
func (n *Notifier) Shadow() *Shadow {
	return n.shadow
}

// Watched returns the keys that currently have listeners.
func (n *Notifier) Watched() []string {
	return n.listeners.Keys()
}

// IsWatched reports whether key has listeners.
func (n *Notifier) IsWatched(key string) bool {
	return n.listeners.Has(key)
}

// Active reports whether any listener is registered.
func (n *Notifier) Active() bool {
	return n.listeners.Len() > 0
}

// Close stops the dispatcher after delivering what is queued.
func (n *Notifier) Close() {
	n.dispatcher.Close()
}
