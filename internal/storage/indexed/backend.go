package indexed

import (
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/yndnr/authpersist/internal/core/domain"
	"github.com/yndnr/authpersist/internal/messaging"
	"github.com/yndnr/authpersist/internal/storage"
	"github.com/yndnr/authpersist/internal/storage/watch"
	"github.com/yndnr/authpersist/internal/telemetry/metric"
	"github.com/yndnr/authpersist/pkg/cmap"
)

// DefaultPollInterval is the period of the change poller.
const DefaultPollInterval = 800 * time.Millisecond

// Mode selects which side of the page/worker split a backend plays.
type Mode int

const (
	// ModePage notifies a worker over Options.Port after each write.
	ModePage Mode = iota
	// ModeWorker answers keyChanged and ping requests arriving on
	// Options.Port.
	ModeWorker
)

func (m Mode) String() string {
	if m == ModeWorker {
		return "worker"
	}
	return "page"
}

// Options configures a Backend.
type Options struct {
	// Dir is the database directory. Ignored when DB is set.
	Dir string
	// Badger overrides storage.DefaultBadgerConfig.
	Badger *storage.BadgerConfig
	// DB shares an already open database. The backend does not close it.
	DB *DB

	// ID overrides the identity. Default: "indexed:" + absolute directory.
	ID string

	Mode Mode
	// Port is the worker's port in page mode, and the port the worker
	// listens on in worker mode.
	Port messaging.Port

	PollInterval time.Duration
	Logger       *slog.Logger
	Metrics      *metric.Registry
}

// Backend stores records in a Badger database and detects changes by
// polling the whole store.
//
// Keys with a write in flight in this backend are skipped by the poller,
// so a poll that overlaps a local write cannot report the old value.
type Backend struct {
	id      string
	opts    Options
	logger  *slog.Logger
	metrics *metric.Registry

	db      *DB
	ownsDB  bool
	dbReady chan struct{}
	ready   chan struct{}
	initErr error

	notifier *watch.Notifier
	poller   *watch.Poller
	pending  *cmap.Map[string, int]
	pollWarn rate.Sometimes

	sender       *messaging.Sender
	workerAcks   atomic.Bool
	mu           sync.Mutex
	detachWorker []func()
	closed       bool
}

// New creates a backend and starts initializing it in the background.
// Operations wait for the database; Ready also waits for the worker
// handshake.
func New(opts Options) (*Backend, error) {
	dir := opts.Dir
	if opts.DB != nil {
		dir = opts.DB.Dir()
	}
	if dir == "" {
		return nil, domain.ErrMissingArgument.WithDetails("indexed backend directory")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, domain.ErrInvalidArgument.WithDetails(dir).WithCause(err)
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	id := opts.ID
	if id == "" {
		id = "indexed:" + abs
	}

	b := &Backend{
		id:       id,
		opts:     opts,
		logger:   opts.Logger.With("backend", id, "mode", opts.Mode.String()),
		metrics:  opts.Metrics,
		db:       opts.DB,
		dbReady:  make(chan struct{}),
		ready:    make(chan struct{}),
		pending:  cmap.New[string, int](),
		pollWarn: rate.Sometimes{Interval: 30 * time.Second},
	}
	b.poller = watch.NewPoller(opts.PollInterval, func(context.Context) { b.poll() })
	b.notifier = watch.NewNotifier(b.logger, watch.Hooks{
		Start: b.poller.Start,
		Stop:  b.poller.Stop,
	})

	go b.initialize(abs)
	return b, nil
}

func (b *Backend) initialize(dir string) {
	defer close(b.ready)

	if b.db == nil {
		cfg := storage.DefaultKVConfig(dir)
		if b.opts.Badger != nil {
			cfg.Badger = *b.opts.Badger
		}
		db, err := OpenDB(cfg, b.logger)
		if err != nil {
			b.initErr = domain.ErrBackendUnavailable.WithDetails(b.id).WithCause(err)
			b.logger.Warn("indexed backend unavailable", "error", err)
			close(b.dbReady)
			return
		}
		b.db = db
		b.ownsDB = true
	}
	close(b.dbReady)

	if b.opts.Port == nil {
		return
	}
	switch b.opts.Mode {
	case ModeWorker:
		b.AttachWorker(b.opts.Port)
	default:
		b.sender = messaging.NewSender(b.opts.Port,
			messaging.WithSenderLogger(b.logger),
			messaging.WithSenderMetrics(b.metrics))
		b.pingWorker()
	}
}

// Ready waits until initialization finished and returns its error.
func (b *Backend) Ready(ctx context.Context) error {
	select {
	case <-b.ready:
		return b.initErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Backend) awaitDB(ctx context.Context) error {
	select {
	case <-b.dbReady:
		return b.initErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Backend) dbOpen() bool {
	select {
	case <-b.dbReady:
		return b.initErr == nil
	default:
		return false
	}
}

// Persistence implements storage.Backend.
func (b *Backend) Persistence() domain.Persistence {
	return domain.Persistence{Kind: domain.KindLocal, ID: b.id}
}

// IsAvailable reports whether the database opened and accepts writes.
func (b *Backend) IsAvailable(ctx context.Context) bool {
	if err := b.awaitDB(ctx); err != nil {
		return false
	}
	return storage.Probe(ctx, b)
}

// Get returns the stored value of key, or nil when absent.
func (b *Backend) Get(ctx context.Context, key string) (v storage.Value, err error) {
	start := time.Now()
	defer func() { b.metrics.ObserveStorage(domain.KindLocal, "get", start, err) }()

	if err := b.awaitDB(ctx); err != nil {
		return nil, err
	}
	v, err = b.db.Get(key)
	if err != nil {
		return nil, domain.ErrStorageError.WithDetailsf("read %q", key).WithCause(err)
	}
	return v, nil
}

// Set stores value under key and tells the worker about it.
func (b *Backend) Set(ctx context.Context, key string, value any) (err error) {
	start := time.Now()
	defer func() { b.metrics.ObserveStorage(domain.KindLocal, "set", start, err) }()

	v, err := storage.Encode(value)
	if err != nil {
		return err
	}
	if err := b.awaitDB(ctx); err != nil {
		return err
	}

	b.beginWrite(key)
	defer b.endWrite(key)

	if err := b.db.Put(key, v); err != nil {
		return domain.ErrStorageError.WithDetailsf("write %q", key).WithCause(err)
	}
	b.notifier.Shadow().Put(key, v)
	b.notifyWorker(ctx, key)
	return nil
}

// Remove deletes key and tells the worker about it.
func (b *Backend) Remove(ctx context.Context, key string) (err error) {
	start := time.Now()
	defer func() { b.metrics.ObserveStorage(domain.KindLocal, "remove", start, err) }()

	if err := b.awaitDB(ctx); err != nil {
		return err
	}

	b.beginWrite(key)
	defer b.endWrite(key)

	if err := b.db.Delete(key); err != nil {
		return domain.ErrStorageError.WithDetailsf("remove %q", key).WithCause(err)
	}
	b.notifier.Shadow().Put(key, nil)
	b.notifyWorker(ctx, key)
	return nil
}

// AddListener watches key. Polling runs while at least one key is watched.
func (b *Backend) AddListener(key string, fn storage.Listener) storage.Unsubscribe {
	return b.notifier.Subscribe(key, fn, func() (storage.Value, bool) {
		if !b.dbOpen() {
			return nil, false
		}
		v, err := b.db.Get(key)
		return v, err == nil
	})
}

// WatchedKeys returns the number of keys with listeners.
func (b *Backend) WatchedKeys() int {
	return len(b.notifier.Watched())
}

// Stats returns database statistics.
func (b *Backend) Stats(ctx context.Context) (storage.KVStats, error) {
	if err := b.awaitDB(ctx); err != nil {
		return storage.KVStats{}, err
	}
	return b.db.Stats()
}

// AttachWorker answers keyChanged and ping requests arriving on port. A
// worker process calls it once per connected page.
func (b *Backend) AttachWorker(port messaging.Port) (detach func()) {
	recv := messaging.ReceiverFor(port)
	offKeyChanged := recv.Subscribe(messaging.EventKeyChanged, func(ctx context.Context, data json.RawMessage) (any, error) {
		var req messaging.KeyChanged
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, domain.ErrInvalidArgument.WithDetails("keyChanged payload").WithCause(err)
		}
		if err := b.awaitDB(ctx); err != nil {
			return nil, err
		}
		changed := b.poll()
		return messaging.KeyProcessed{KeyProcessed: slices.Contains(changed, req.Key)}, nil
	})
	offPing := recv.Subscribe(messaging.EventPing, func(context.Context, json.RawMessage) (any, error) {
		return []string{messaging.EventKeyChanged}, nil
	})

	var once sync.Once
	detach = func() {
		once.Do(func() {
			offKeyChanged()
			offPing()
		})
	}
	b.mu.Lock()
	b.detachWorker = append(b.detachWorker, detach)
	b.mu.Unlock()
	return detach
}

// pingWorker checks whether the worker handles keyChanged, which allows the
// longer ack timeout for later notifications.
func (b *Backend) pingWorker() {
	ctx, cancel := context.WithTimeout(context.Background(), messaging.LongAckTimeout+messaging.CompletionTimeout)
	defer cancel()

	outcomes, err := b.sender.Send(ctx, messaging.EventPing, struct{}{}, messaging.LongAckTimeout)
	if err != nil {
		b.logger.Debug("worker ping failed", "error", err)
		return
	}
	if len(outcomes) == 0 || !outcomes[0].Fulfilled {
		return
	}
	var events []string
	if err := outcomes[0].Decode(&events); err == nil && slices.Contains(events, messaging.EventKeyChanged) {
		b.workerAcks.Store(true)
	}
}

// WorkerConfirmed reports whether the worker answered the startup ping.
func (b *Backend) WorkerConfirmed() bool {
	return b.workerAcks.Load()
}

func (b *Backend) notifyWorker(ctx context.Context, key string) {
	if b.sender == nil {
		return
	}
	timeout := messaging.AckTimeout
	if b.workerAcks.Load() {
		timeout = messaging.LongAckTimeout
	}
	if _, err := b.sender.Send(ctx, messaging.EventKeyChanged, messaging.KeyChanged{Key: key}, timeout); err != nil {
		b.logger.Debug("worker notification failed", "storage_key", key, "error", err)
	}
}

func (b *Backend) beginWrite(key string) {
	b.pending.Compute(key, func(n int, _ bool) (int, bool) { return n + 1, true })
}

func (b *Backend) endWrite(key string) {
	b.pending.Compute(key, func(n int, _ bool) (int, bool) { return n - 1, n > 1 })
}

func (b *Backend) hasPending(key string) bool {
	return b.pending.Has(key)
}

// poll compares the whole store with the shadow, publishes what changed
// and returns the changed keys.
func (b *Backend) poll() []string {
	if !b.dbOpen() {
		return nil
	}
	entries, err := b.db.All()
	if err != nil {
		b.pollWarn.Do(func() { b.logger.Warn("poll failed", "error", err) })
		return nil
	}

	var changed []string
	publish := func(key string, v storage.Value) {
		if b.hasPending(key) {
			return
		}
		if b.notifier.PublishIfChanged(key, v) {
			changed = append(changed, key)
			b.metrics.ObserveNotification(domain.KindLocal, "poll")
		}
	}

	for key, v := range entries {
		publish(key, v)
	}
	for _, key := range b.notifier.Shadow().Keys() {
		if _, ok := entries[key]; !ok {
			publish(key, nil)
		}
	}
	return changed
}

// Close stops polling, detaches worker handlers and closes the database
// when this backend opened it.
func (b *Backend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	<-b.ready
	b.mu.Lock()
	detach := b.detachWorker
	b.detachWorker = nil
	b.mu.Unlock()

	b.poller.Stop()
	b.poller.Wait()
	for _, fn := range detach {
		fn()
	}
	if b.sender != nil {
		b.sender.Teardown()
	}
	b.notifier.Close()

	if b.ownsDB && b.db != nil {
		return b.db.Close()
	}
	return nil
}

var (
	_ storage.Backend    = (*Backend)(nil)
	_ metric.WatchSource = (*Backend)(nil)
)
