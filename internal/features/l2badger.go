package features

import (
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/ruleflow/engine/pkg/value"
)

// BadgerL2 is the external L2 cache tier from spec.md §4.7's cache config
// (backend = "external"), an embedded KV store so a second cache tier
// survives process restarts without standing up a network service. Values
// round-trip through value.Value's own JSON marshaler; expiry is enforced
// by badger's native per-entry TTL rather than application code.
type BadgerL2 struct {
	db *badger.DB
}

// OpenBadgerL2 opens (creating if absent) a badger database at dir.
func OpenBadgerL2(dir string) (*BadgerL2, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerL2{db: db}, nil
}

func (c *BadgerL2) Close() error { return c.db.Close() }

func (c *BadgerL2) Get(key string) (value.Value, bool) {
	var v value.Value
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(raw []byte) error {
			return v.UnmarshalJSON(raw)
		})
	})
	if err != nil {
		return value.Null, false
	}
	return v, true
}

func (c *BadgerL2) Set(key string, v value.Value, ttl time.Duration) error {
	raw, err := v.MarshalJSON()
	if err != nil {
		return err
	}
	return c.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), raw)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
}
