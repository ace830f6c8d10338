package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"

	"github.com/yndnr/authpersist/internal/core/domain"
	"github.com/yndnr/authpersist/internal/storage"
	"github.com/yndnr/authpersist/internal/storage/watch"
	"github.com/yndnr/authpersist/internal/telemetry/metric"
	"github.com/yndnr/authpersist/pkg/cmap"
)

const (
	// DefaultPollInterval is the polling period when events are not used.
	DefaultPollInterval = time.Second

	// DefaultSettleDelay is how long an event handler waits before
	// re-reading a file that looked half written.
	DefaultSettleDelay = 10 * time.Millisecond

	// ForcePollingEnv forces polling when set to a true value.
	ForcePollingEnv = "AUTHPERSIST_FORCE_POLLING"

	fileSuffix = ".json"
	filePerm   = 0o600
)

// Options configures a Backend.
type Options struct {
	// ID overrides the identity. Default: "local:" + absolute directory.
	ID string

	// ForcePolling disables filesystem events.
	ForcePolling bool

	// CachedReads serves Get from an in-process mirror that only this
	// process and the change notifier update.
	CachedReads bool

	PollInterval time.Duration
	SettleDelay  time.Duration

	Logger  *slog.Logger
	Metrics *metric.Registry
}

type mode int

const (
	modeIdle mode = iota
	modeProbing
	modeEvents
	modePolling
)

func (m mode) String() string {
	switch m {
	case modeProbing:
		return "probing"
	case modeEvents:
		return "events"
	case modePolling:
		return "polling"
	default:
		return "idle"
	}
}

// Backend stores one file per key in a directory.
//
// Changes made by other processes are detected with fsnotify. While the
// first listeners wait for a change, a poller runs alongside the watcher;
// whichever source first reports a change for a watched key wins and the
// other is torn down. If fsnotify cannot be used at all, the backend polls
// for its whole life.
type Backend struct {
	dir     string
	id      string
	opts    Options
	logger  *slog.Logger
	metrics *metric.Registry

	notifier *watch.Notifier
	poller   *watch.Poller
	mirror   *cmap.Map[string, storage.Value]
	keyLocks *cmap.Map[string, *sync.Mutex]
	pollWarn rate.Sometimes

	mu       sync.Mutex
	decided  bool
	fallback bool
	mode     mode
	watcher  *fsnotify.Watcher
	closed   bool
	tasks    sync.WaitGroup
}

// New creates a backend rooted at dir. The directory is created on the
// first write.
func New(dir string, opts Options) (*Backend, error) {
	if dir == "" {
		return nil, domain.ErrMissingArgument.WithDetails("local backend directory")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("local: resolve %s: %w", dir, err)
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = DefaultSettleDelay
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	id := opts.ID
	if id == "" {
		id = "local:" + abs
	}

	b := &Backend{
		dir:      abs,
		id:       id,
		opts:     opts,
		logger:   opts.Logger.With("backend", id),
		metrics:  opts.Metrics,
		keyLocks: cmap.New[string, *sync.Mutex](),
		pollWarn: rate.Sometimes{Interval: 30 * time.Second},
	}
	if opts.CachedReads {
		b.mirror = cmap.New[string, storage.Value]()
	}
	b.poller = watch.NewPoller(opts.PollInterval, b.poll)
	b.notifier = watch.NewNotifier(b.logger, watch.Hooks{
		Start: b.startWatching,
		Stop:  b.stopWatching,
	})
	return b, nil
}

// Persistence implements storage.Backend.
func (b *Backend) Persistence() domain.Persistence {
	return domain.Persistence{Kind: domain.KindLocal, ID: b.id}
}

// Dir returns the absolute storage directory.
func (b *Backend) Dir() string {
	return b.dir
}

// IsAvailable probes the directory with a write and a remove.
func (b *Backend) IsAvailable(ctx context.Context) bool {
	return storage.Probe(ctx, b)
}

// Get returns the stored value of key, or nil when absent.
func (b *Backend) Get(ctx context.Context, key string) (v storage.Value, err error) {
	start := time.Now()
	defer func() { b.metrics.ObserveStorage(domain.KindLocal, "get", start, err) }()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.mirror != nil {
		if cached, ok := b.mirror.Get(key); ok {
			return append(storage.Value(nil), cached...), nil
		}
	}

	v, err = b.read(key)
	if err != nil {
		return nil, domain.ErrStorageError.WithDetailsf("read %q", key).WithCause(err)
	}
	if v != nil && !json.Valid(v) {
		return nil, domain.ErrMalformedValue.WithDetailsf("key %q", key)
	}
	if b.mirror != nil {
		b.mirror.Set(key, v)
	}
	return v, nil
}

// Set writes value under key atomically.
func (b *Backend) Set(ctx context.Context, key string, value any) (err error) {
	start := time.Now()
	defer func() { b.metrics.ObserveStorage(domain.KindLocal, "set", start, err) }()

	if err := ctx.Err(); err != nil {
		return err
	}
	v, err := storage.Encode(value)
	if err != nil {
		return err
	}

	// The shadow is updated before the file so that the event caused by
	// this write already compares equal. The key lock keeps event and poll
	// reads from comparing a file older than the shadow.
	defer b.lockKey(key)()
	shadow := b.notifier.Shadow()
	prev, existed := shadow.Put(key, v)
	if err := writeFileAtomic(b.path(key), v, filePerm); err != nil {
		shadow.Restore(key, prev, existed)
		return domain.ErrStorageError.WithDetailsf("write %q", key).WithCause(err)
	}
	if b.mirror != nil {
		b.mirror.Set(key, v)
	}
	return nil
}

// Remove deletes key. Removing a missing key succeeds.
func (b *Backend) Remove(ctx context.Context, key string) (err error) {
	start := time.Now()
	defer func() { b.metrics.ObserveStorage(domain.KindLocal, "remove", start, err) }()

	if err := ctx.Err(); err != nil {
		return err
	}

	defer b.lockKey(key)()
	shadow := b.notifier.Shadow()
	prev, existed := shadow.Put(key, nil)
	if err := os.Remove(b.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		shadow.Restore(key, prev, existed)
		return domain.ErrStorageError.WithDetailsf("remove %q", key).WithCause(err)
	}
	if b.mirror != nil {
		b.mirror.Set(key, nil)
	}
	return nil
}

// AddListener watches key for changes made by other processes.
func (b *Backend) AddListener(key string, fn storage.Listener) storage.Unsubscribe {
	return b.notifier.Subscribe(key, fn, func() (storage.Value, bool) {
		defer b.lockKey(key)()
		v, err := b.read(key)
		return v, err == nil
	})
}

// WatchedKeys returns the number of keys with listeners.
func (b *Backend) WatchedKeys() int {
	return len(b.notifier.Watched())
}

// Mode describes the current change source: idle, probing, events or
// polling.
func (b *Backend) Mode() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mode.String()
}

// Close stops change detection and waits for background work.
func (b *Backend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.teardownLocked()
	b.mu.Unlock()

	b.poller.Wait()
	b.tasks.Wait()
	b.notifier.Close()
	return nil
}

// lockKey locks key against writes of this backend and returns the
// unlock function.
func (b *Backend) lockKey(key string) func() {
	mu, _ := b.keyLocks.GetOrSet(key, new(sync.Mutex))
	mu.Lock()
	return mu.Unlock
}

func (b *Backend) path(key string) string {
	return filepath.Join(b.dir, url.PathEscape(key)+fileSuffix)
}

func keyFromFile(name string) (string, bool) {
	if strings.HasPrefix(name, ".") {
		return "", false
	}
	escaped, ok := strings.CutSuffix(name, fileSuffix)
	if !ok {
		return "", false
	}
	key, err := url.PathUnescape(escaped)
	if err != nil {
		return "", false
	}
	return key, true
}

// read returns the raw file content, nil when the file does not exist.
func (b *Backend) read(key string) (storage.Value, error) {
	data, err := os.ReadFile(b.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

func forcePollingFromEnv() bool {
	v, err := strconv.ParseBool(os.Getenv(ForcePollingEnv))
	return err == nil && v
}

// startWatching runs when the first listener is registered.
func (b *Backend) startWatching() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	if !b.decided {
		b.decided = true
		b.fallback = b.opts.ForcePolling || forcePollingFromEnv()
		if b.fallback {
			b.logger.Debug("change detection uses polling", "reason", "forced")
		}
	}

	if !b.fallback {
		if err := b.attachWatcherLocked(); err != nil {
			if b.watcher == nil && errors.Is(err, errWatcherCreate) {
				b.fallback = true
			}
			b.logger.Warn("filesystem events unavailable, polling instead", "error", err)
		} else {
			b.mode = modeProbing
			b.poller.Start()
			return
		}
	}

	b.mode = modePolling
	b.poller.Start()
}

// stopWatching runs when the last listener is removed.
func (b *Backend) stopWatching() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.teardownLocked()
}

func (b *Backend) teardownLocked() {
	b.poller.Stop()
	b.closeWatcherLocked()
	b.mode = modeIdle
}

var errWatcherCreate = errors.New("create fsnotify watcher")

func (b *Backend) attachWatcherLocked() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("%w: %w", errWatcherCreate, err)
	}
	if err := os.MkdirAll(b.dir, 0o700); err != nil {
		w.Close()
		return fmt.Errorf("create directory: %w", err)
	}
	if err := w.Add(b.dir); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", b.dir, err)
	}
	b.watcher = w
	b.tasks.Add(1)
	go b.runWatcher(w)
	return nil
}

func (b *Backend) closeWatcherLocked() {
	if b.watcher == nil {
		return
	}
	if err := b.watcher.Close(); err != nil {
		b.logger.Debug("close watcher", "error", err)
	}
	b.watcher = nil
}

func (b *Backend) runWatcher(w *fsnotify.Watcher) {
	defer b.tasks.Done()
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			b.handleEvent(ev)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				b.rescan("rescan")
				continue
			}
			b.logger.Warn("watcher error", "error", err)
		}
	}
}

func (b *Backend) handleEvent(ev fsnotify.Event) {
	if ev.Name == b.dir {
		// The directory itself went away: every key is gone and the watch
		// with it.
		if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
			b.rescan("rescan")
			b.switchToPolling()
		}
		return
	}
	if filepath.Dir(ev.Name) != b.dir || ev.Op == fsnotify.Chmod {
		return
	}
	key, ok := keyFromFile(filepath.Base(ev.Name))
	if !ok {
		return
	}
	if !b.notifier.IsWatched(key) {
		if b.mirror != nil {
			b.mirror.Delete(key)
		}
		return
	}

	b.eventDelivered()
	b.deliverFromEvent(key, true)
}

// deliverFromEvent reads key after an event. A file that is empty or not
// valid JSON may still be in the middle of a non-atomic write, so it is
// read once more after the settle delay.
func (b *Backend) deliverFromEvent(key string, mayRetry bool) {
	if b.readAndPublish(key, "event") {
		return
	}
	if !mayRetry {
		b.logger.Debug("ignoring unreadable value after settle delay", "storage_key", key)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.tasks.Add(1)
	time.AfterFunc(b.opts.SettleDelay, func() {
		defer b.tasks.Done()
		b.deliverFromEvent(key, false)
	})
}

// eventDelivered tears the poller down the first time an event proves
// the watcher works.
func (b *Backend) eventDelivered() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.mode == modeProbing {
		b.poller.Stop()
		b.mode = modeEvents
		b.logger.Debug("change detection settled on filesystem events")
	}
}

// pollDelivered detaches the watcher when polling saw a change first.
func (b *Backend) pollDelivered() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.mode == modeProbing {
		b.closeWatcherLocked()
		b.mode = modePolling
		b.logger.Debug("change detection settled on polling")
	}
}

func (b *Backend) switchToPolling() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || b.mode == modeIdle {
		return
	}
	b.closeWatcherLocked()
	b.mode = modePolling
	b.poller.Start()
}

// poll compares every watched key against the shadow.
func (b *Backend) poll(ctx context.Context) {
	shadow := b.notifier.Shadow()
	for _, key := range b.notifier.Watched() {
		if ctx.Err() != nil {
			return
		}
		b.pollKey(shadow, key)
	}
}

func (b *Backend) pollKey(shadow *watch.Shadow, key string) {
	defer b.lockKey(key)()
	v, err := b.read(key)
	if err != nil || (v != nil && !json.Valid(v)) {
		b.pollWarn.Do(func() {
			b.logger.Warn("poll read failed", "storage_key", key, "error", err)
		})
		return
	}
	if old, seen := shadow.Get(key); seen && watch.Equal(old, v) {
		return
	}
	b.pollDelivered()
	b.publish(key, v, "poll")
}

// rescan re-reads every watched key, used when events no longer identify
// which key changed.
func (b *Backend) rescan(source string) {
	for _, key := range b.notifier.Watched() {
		b.readAndPublish(key, source)
	}
}

// readAndPublish reads key under its lock and publishes the value when it
// is complete JSON or the file is gone. It reports false for a file that
// could not be read or looked half written.
func (b *Backend) readAndPublish(key, source string) bool {
	defer b.lockKey(key)()
	v, err := b.read(key)
	if err != nil || (v != nil && !json.Valid(v)) {
		return false
	}
	b.publish(key, v, source)
	return true
}

func (b *Backend) publish(key string, v storage.Value, source string) {
	if b.mirror != nil {
		b.mirror.Set(key, v)
	}
	if b.notifier.PublishIfChanged(key, v) {
		b.metrics.ObserveNotification(domain.KindLocal, source)
	}
}

var (
	_ storage.Backend    = (*Backend)(nil)
	_ metric.WatchSource = (*Backend)(nil)
)
