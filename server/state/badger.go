package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

const badgerKeyPrefix = "state:"

// BadgerBackend stores JSON encoded entries. Badger's own TTL reclaims
// space; the entry's ExpiresAt stays authoritative for reads.
type BadgerBackend struct {
	db  *badger.DB
	now func() time.Time
}

func NewBadgerBackend(db *badger.DB) *BadgerBackend {
	return &BadgerBackend{db: db, now: time.Now}
}

// OpenBadger opens a badger database at dir, or an in-memory one when dir
// is empty.
func OpenBadger(dir string) (*badger.DB, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return db, nil
}

func (b *BadgerBackend) Name() string {
	return "badger"
}

func (b *BadgerBackend) Get(ctx context.Context, key string) (Entry, error) {
	var e Entry
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(badgerKeyPrefix + key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get state: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &e)
		})
	})
	if err != nil {
		return Entry{}, err
	}
	return e, nil
}

func (b *BadgerBackend) Put(ctx context.Context, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	entry := badger.NewEntry([]byte(badgerKeyPrefix+e.Key), data)
	if e.ExpiresAt != nil {
		if ttl := e.ExpiresAt.Sub(b.now()); ttl > 0 {
			entry = entry.WithTTL(ttl + time.Second)
		}
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(entry)
	})
}

func (b *BadgerBackend) Delete(ctx context.Context, key string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(badgerKeyPrefix + key))
		if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("delete state: %w", err)
		}
		return nil
	})
}

// scan visits every entry whose key starts with prefix.
func (b *BadgerBackend) scan(prefix string, fn func(Entry)) error {
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		p := []byte(badgerKeyPrefix + prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			var e Entry
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			})
			if err != nil {
				continue
			}
			fn(e)
		}
		return nil
	})
}

func (b *BadgerBackend) Keys(ctx context.Context, prefix string, now time.Time) ([]string, error) {
	keys := make([]string, 0)
	err := b.scan(prefix, func(e Entry) {
		if !e.Expired(now) {
			keys = append(keys, e.Key)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("list state keys: %w", err)
	}
	return keys, nil
}

func (b *BadgerBackend) deleteKeys(keys []string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete([]byte(badgerKeyPrefix + k)); err != nil {
			return 0, fmt.Errorf("delete state: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("flush state deletes: %w", err)
	}
	return len(keys), nil
}

func (b *BadgerBackend) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	var keys []string
	if err := b.scan(prefix, func(e Entry) { keys = append(keys, e.Key) }); err != nil {
		return 0, fmt.Errorf("list state keys: %w", err)
	}
	return b.deleteKeys(keys)
}

func (b *BadgerBackend) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	var keys []string
	err := b.scan("", func(e Entry) {
		if e.Expired(now) {
			keys = append(keys, e.Key)
		}
	})
	if err != nil {
		return 0, fmt.Errorf("list state keys: %w", err)
	}
	return b.deleteKeys(keys)
}
