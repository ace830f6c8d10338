package indexed

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v3"

	"github.com/yndnr/authpersist/internal/storage"
)

// keyPrefix namespaces backend entries inside the Badger keyspace.
const keyPrefix = "kv/"

// ErrDBClosed is returned by operations on a closed DB.
var ErrDBClosed = errors.New("indexed: database closed")

// DB is the Badger database behind one or more indexed backends.
type DB struct {
	cfg    storage.KVConfig
	logger *slog.Logger

	mu     sync.RWMutex
	db     *badger.DB
	closed bool

	lastGCTime atomic.Int64 // Unix milliseconds

	stopCh chan struct{}
	doneCh chan struct{}
}

// OpenDB opens the database in cfg.Dir. When an existing database fails to
// open because its files are corrupt, the directory is removed and opened
// once more. Lock, permission and option errors are returned as they are.
func OpenDB(cfg storage.KVConfig, logger *slog.Logger) (*DB, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("indexed: dir is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := openBadger(cfg, logger)
	if err != nil {
		if !isCorruption(err) || !hasManifest(cfg.Dir) {
			return nil, fmt.Errorf("indexed: open db: %w", err)
		}
		logger.Warn("database open failed, recreating", "dir", cfg.Dir, "error", err)
		if rmErr := os.RemoveAll(cfg.Dir); rmErr != nil {
			return nil, fmt.Errorf("indexed: remove broken db: %w", rmErr)
		}
		if db, err = openBadger(cfg, logger); err != nil {
			return nil, fmt.Errorf("indexed: reopen db: %w", err)
		}
	}

	d := &DB{
		cfg:    cfg,
		logger: logger,
		db:     db,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go d.gcLoop()

	logger.Debug("indexed database opened",
		"dir", cfg.Dir,
		"cache_size", cfg.Badger.CacheSize,
		"gc_interval", cfg.Badger.GCInterval)
	return d, nil
}

func openBadger(cfg storage.KVConfig, logger *slog.Logger) (*badger.DB, error) {
	bc := cfg.Badger
	opts := badger.DefaultOptions(cfg.Dir)
	opts.Logger = &badgerLogger{logger: logger}
	opts.BlockCacheSize = bc.CacheSize
	opts.ValueLogFileSize = bc.ValueLogFileSize
	opts.MemTableSize = bc.MemTableSize
	if bc.ValueThreshold > 0 {
		opts.ValueThreshold = bc.ValueThreshold
	}
	opts.NumMemtables = bc.NumMemtables
	opts.SyncWrites = bc.SyncWrites
	opts.BypassLockGuard = bc.BypassLockGuard
	return badger.Open(opts)
}

// corruptionMarkers are fragments of the errors Badger returns for damaged
// manifest, table and value log files. Badger does not export them.
var corruptionMarkers = []string{
	"manifest",
	"checksum",
	"corrupt",
	"bad magic",
	"truncate",
	"unexpected eof",
}

// isCorruption reports whether err came from damaged database files.
func isCorruption(err error) bool {
	if errors.Is(err, fs.ErrPermission) || errors.Is(err, fs.ErrNotExist) {
		return false
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "directory lock") {
		return false
	}
	for _, m := range corruptionMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// hasManifest reports whether dir holds a Badger database.
func hasManifest(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, "MANIFEST"))
	return err == nil && info.Mode().IsRegular()
}

func dbKey(key string) []byte {
	return []byte(keyPrefix + key)
}

// run calls op with the open badger handle. The handle cannot be closed
// or replaced while op runs. It returns the handle op ran on, nil when the
// database is closed.
func (d *DB) run(op func(db *badger.DB) error) (*badger.DB, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, ErrDBClosed
	}
	return d.db, op(d.db)
}

// withRetry runs op, and after a failure reopens the database and runs op
// once more.
func (d *DB) withRetry(op func(db *badger.DB) error) error {
	db, err := d.run(op)
	if err == nil || db == nil {
		return err
	}
	if reopenErr := d.reopen(db); reopenErr != nil {
		return errors.Join(err, reopenErr)
	}
	_, err = d.run(op)
	return err
}

// reopen replaces the handle that failed. A concurrent caller that already
// replaced it wins. It waits for operations still using the old handle.
func (d *DB) reopen(failed *badger.DB) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDBClosed
	}
	if d.db != failed {
		return nil
	}
	d.logger.Warn("reopening indexed database", "dir", d.cfg.Dir)
	if err := d.db.Close(); err != nil {
		d.logger.Debug("close failed handle", "error", err)
	}
	db, err := openBadger(d.cfg, d.logger)
	if err != nil {
		return fmt.Errorf("indexed: reopen: %w", err)
	}
	d.db = db
	return nil
}

// Get returns the stored value of key, or nil when absent.
func (d *DB) Get(key string) (storage.Value, error) {
	var value storage.Value
	err := d.withRetry(func(db *badger.DB) error {
		return db.View(func(txn *badger.Txn) error {
			item, err := txn.Get(dbKey(key))
			if err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					value = nil
					return nil
				}
				return err
			}
			value, err = item.ValueCopy(nil)
			return err
		})
	})
	return value, err
}

// Put stores value under key.
func (d *DB) Put(key string, value storage.Value) error {
	return d.withRetry(func(db *badger.DB) error {
		return db.Update(func(txn *badger.Txn) error {
			return txn.Set(dbKey(key), value)
		})
	})
}

// Delete removes key.
func (d *DB) Delete(key string) error {
	return d.withRetry(func(db *badger.DB) error {
		return db.Update(func(txn *badger.Txn) error {
			return txn.Delete(dbKey(key))
		})
	})
}

// All returns every stored entry.
func (d *DB) All() (map[string]storage.Value, error) {
	var entries map[string]storage.Value
	err := d.withRetry(func(db *badger.DB) error {
		entries = make(map[string]storage.Value)
		return db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = []byte(keyPrefix)
			it := txn.NewIterator(opts)
			defer it.Close()

			for it.Rewind(); it.Valid(); it.Next() {
				item := it.Item()
				value, err := item.ValueCopy(nil)
				if err != nil {
					return err
				}
				entries[strings.TrimPrefix(string(item.Key()), keyPrefix)] = value
			}
			return nil
		})
	})
	return entries, err
}

// GC runs value log GC until nothing more can be rewritten.
func (d *DB) GC() error {
	start := time.Now()
	runs := 0
	_, err := d.run(func(db *badger.DB) error {
		for {
			err := db.RunValueLogGC(d.cfg.Badger.GCThreshold)
			if err != nil {
				if errors.Is(err, badger.ErrNoRewrite) {
					return nil
				}
				return fmt.Errorf("indexed: gc: %w", err)
			}
			runs++
		}
	})
	if err != nil {
		return err
	}
	d.lastGCTime.Store(time.Now().UnixMilli())
	d.logger.Debug("gc completed", "rewrites", runs, "elapsed", time.Since(start))
	return nil
}

// Stats returns database statistics.
func (d *DB) Stats() (storage.KVStats, error) {
	entries, err := d.All()
	if err != nil {
		return storage.KVStats{}, err
	}
	var lsm, vlog int64
	if _, err := d.run(func(db *badger.DB) error {
		lsm, vlog = db.Size()
		return nil
	}); err != nil {
		return storage.KVStats{}, err
	}
	return storage.KVStats{
		Keys:         len(entries),
		LSMSize:      lsm,
		ValueLogSize: vlog,
		LastGCTime:   d.lastGCTime.Load(),
	}, nil
}

// Dir returns the database directory.
func (d *DB) Dir() string {
	return d.cfg.Dir
}

// Close stops the GC loop and closes the database.
func (d *DB) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	close(d.stopCh)
	<-d.doneCh

	if err := d.db.Close(); err != nil {
		return fmt.Errorf("indexed: close db: %w", err)
	}
	return nil
}

func (d *DB) gcLoop() {
	defer close(d.doneCh)

	interval := d.cfg.Badger.GCInterval
	if interval <= 0 {
		<-d.stopCh
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := d.GC(); err != nil && !errors.Is(err, ErrDBClosed) {
				d.logger.Warn("auto gc failed", "error", err)
			}
		case <-d.stopCh:
			return
		}
	}
}

// badgerLogger adapts slog.Logger to Badger's Logger interface. Badger's
// info chatter is demoted to debug.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}
