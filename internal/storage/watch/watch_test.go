package watch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/yndnr/authpersist/internal/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestListeners_OrderAndSnapshot(t *testing.T) {
	l := NewListeners()
	var calls []string
	mk := func(name string) storage.Listener {
		return func(storage.Value) { calls = append(calls, name) }
	}

	idA, first := l.Add("k", mk("a"))
	if !first {
		t.Error("first Add should report first")
	}
	_, first = l.Add("k", mk("b"))
	if first {
		t.Error("second Add should not report first")
	}
	l.Add("other", mk("c"))

	snap := l.Snapshot("k")
	l.Remove("k", idA)
	for _, fn := range snap {
		fn(nil)
	}
	if len(calls) != 2 || calls[0] != "a" || calls[1] != "b" {
		t.Errorf("snapshot calls = %v, want [a b]", calls)
	}
	if got := len(l.Snapshot("k")); got != 1 {
		t.Errorf("listeners after remove = %d, want 1", got)
	}
	if keys := l.Keys(); len(keys) != 2 || keys[0] != "k" || keys[1] != "other" {
		t.Errorf("Keys() = %v", keys)
	}
}

func TestListeners_RemoveReportsLast(t *testing.T) {
	l := NewListeners()
	id1, _ := l.Add("a", func(storage.Value) {})
	id2, _ := l.Add("b", func(storage.Value) {})

	if removed, last := l.Remove("a", id1); !removed || last {
		t.Errorf("Remove(a) = (%v, %v), want (true, false)", removed, last)
	}
	if removed, _ := l.Remove("a", id1); removed {
		t.Error("second Remove should report not removed")
	}
	if removed, last := l.Remove("b", id2); !removed || !last {
		t.Errorf("Remove(b) = (%v, %v), want (true, true)", removed, last)
	}
	if l.Has("a") || l.Len() != 0 {
		t.Error("index should be empty")
	}
}

func TestShadow(t *testing.T) {
	s := NewShadow()

	if !s.Swap("k", nil) {
		t.Error("unseen key should count as changed, even when absent")
	}
	if s.Swap("k", nil) {
		t.Error("absent after absent should be unchanged")
	}
	if !s.Swap("k", storage.Value(`"a"`)) {
		t.Error("absent to present should change")
	}
	if s.Swap("k", storage.Value(`"a"`)) {
		t.Error("same bytes should be unchanged")
	}

	prev, existed := s.Put("k", storage.Value(`"b"`))
	if !existed || string(prev) != `"a"` {
		t.Errorf("Put() prev = (%s, %v)", prev, existed)
	}
	s.Restore("k", prev, existed)
	if v, _ := s.Get("k"); string(v) != `"a"` {
		t.Errorf("after Restore = %s", v)
	}

	prev, existed = s.Put("new", storage.Value(`1`))
	s.Restore("new", prev, existed)
	if _, ok := s.Get("new"); ok {
		t.Error("Restore of a fresh key should forget it")
	}
}

func TestDispatcher_RunsOffCallerGoroutine(t *testing.T) {
	d := NewDispatcher(nil)
	defer d.Close()

	var mu sync.Mutex
	var order []int
	done := make(chan struct{})

	mu.Lock()
	d.Dispatch(func() {
		mu.Lock()
		order = append(order, 1)
		mu.Unlock()
	}, func() {
		mu.Lock()
		order = append(order, 2)
		mu.Unlock()
		close(done)
	})
	// Still holding mu: a synchronous call would have deadlocked above.
	order = append(order, 0)
	mu.Unlock()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("callbacks not delivered")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 || order[0] != 0 || order[1] != 1 || order[2] != 2 {
		t.Errorf("order = %v, want [0 1 2]", order)
	}
}

func TestDispatcher_PanicDoesNotStopQueue(t *testing.T) {
	d := NewDispatcher(nil)
	done := make(chan struct{})
	d.Dispatch(func() { panic("listener bug") }, func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("queue stalled after panic")
	}
	d.Close()
	d.Close()
	d.Dispatch(func() { t.Error("dispatch after close should be dropped") })
}

func TestDispatcher_CloseDrains(t *testing.T) {
	d := NewDispatcher(nil)
	var n atomic.Int32
	for i := 0; i < 100; i++ {
		d.Dispatch(func() { n.Add(1) })
	}
	d.Close()
	if n.Load() != 100 {
		t.Errorf("ran %d callbacks before close returned, want 100", n.Load())
	}
}

func TestPoller_StartStopRestart(t *testing.T) {
	var ticks atomic.Int32
	p := NewPoller(5*time.Millisecond, func(context.Context) { ticks.Add(1) })

	p.Start()
	p.Start()
	if !p.Running() {
		t.Fatal("poller should be running")
	}
	deadline := time.Now().Add(2 * time.Second)
	for ticks.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if ticks.Load() < 2 {
		t.Fatal("poller did not tick")
	}

	p.Stop()
	p.Wait()
	if p.Running() {
		t.Error("poller should be stopped")
	}
	stopped := ticks.Load()
	time.Sleep(20 * time.Millisecond)
	if ticks.Load() != stopped {
		t.Error("poller ticked after Stop")
	}

	p.Start()
	p.Stop()
	p.Wait()
}

func TestNotifier_HooksAndSuppression(t *testing.T) {
	var starts, stops atomic.Int32
	n := NewNotifier(nil, Hooks{
		Start: func() { starts.Add(1) },
		Stop:  func() { stops.Add(1) },
	})
	defer n.Close()

	got := make(chan string, 10)
	seeded := 0
	seed := func() (storage.Value, bool) {
		seeded++
		return storage.Value(`"v0"`), true
	}

	unsub1 := n.Subscribe("k", func(v storage.Value) { got <- "1:" + v.String() }, seed)
	unsub2 := n.Subscribe("k", func(v storage.Value) { got <- "2:" + v.String() }, seed)
	if starts.Load() != 1 || seeded != 1 {
		t.Fatalf("starts = %d, seeded = %d, want 1, 1", starts.Load(), seeded)
	}

	if n.PublishIfChanged("k", storage.Value(`"v0"`)) {
		t.Error("value equal to the seeded shadow should be suppressed")
	}
	if !n.PublishIfChanged("k", storage.Value(`"v1"`)) {
		t.Fatal("new value should publish")
	}
	for _, want := range []string{`1:"v1"`, `2:"v1"`} {
		select {
		case g := <-got:
			if g != want {
				t.Errorf("delivery = %s, want %s", g, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("delivery timed out")
		}
	}

	unsub1()
	unsub1()
	if stops.Load() != 0 {
		t.Error("Stop should wait for the last listener")
	}
	unsub2()
	if stops.Load() != 1 {
		t.Errorf("stops = %d, want 1", stops.Load())
	}
	if n.Active() {
		t.Error("notifier should be inactive")
	}
}
