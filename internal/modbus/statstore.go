// SPDX-License-Identifier: MIT

package modbus

import (
	"encoding/json"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/lockerfleet/fleet/internal/log"
)

// statRecord is the durable form of a channelStat, keyed by "slave:channel".
type statRecord struct {
	TotalOperations int64     `json:"total_operations"`
	FailureCount    int64     `json:"failure_count"`
	LastOperationAt time.Time `json:"last_operation_at"`
}

// StatStore persists per-channel diagnostics across restarts so a kiosk
// reboot doesn't lose failure-rate history for a relay channel.
type StatStore interface {
	Load() (map[string]statRecord, error)
	Save(stats map[string]statRecord) error
	Close() error
}

const statStoreKeyPrefix = "channelstat:"

// BadgerStatStore is a StatStore backed by an embedded badger.DB, kept
// entirely separate from the fleet's SQLite tables: this is host-local
// diagnostics data, not anything the gateway needs to query.
type BadgerStatStore struct {
	db *badger.DB
}

// OpenBadgerStatStore opens (creating if absent) a badger database rooted
// at dir for per-channel diagnostics persistence.
func OpenBadgerStatStore(dir string) (*BadgerStatStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("modbus: open stat store: %w", err)
	}
	return &BadgerStatStore{db: db}, nil
}

// Load returns every previously persisted channel record, keyed as
// Controller.channels is ("slave:channel").
func (b *BadgerStatStore) Load() (map[string]statRecord, error) {
	out := make(map[string]statRecord)
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(statStoreKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := string(item.Key()[len(statStoreKeyPrefix):])
			var rec statRecord
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			out[key] = rec
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("modbus: load channel stats: %w", err)
	}
	return out, nil
}

// Save checkpoints the given records, overwriting any prior value per key.
func (b *BadgerStatStore) Save(stats map[string]statRecord) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		for key, rec := range stats {
			data, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			if err := txn.Set([]byte(statStoreKeyPrefix+key), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("modbus: save channel stats: %w", err)
	}
	return nil
}

// Close releases the underlying badger database.
func (b *BadgerStatStore) Close() error {
	return b.db.Close()
}

// WithStatStore attaches a StatStore, loading any previously persisted
// channel diagnostics and starting a background writer that checkpoints
// them every health-check interval. Returns the same Controller for
// chaining, matching lockerstore.Store.WithAudit.
func (c *Controller) WithStatStore(s StatStore) *Controller {
	recs, err := s.Load()
	if err != nil {
		log.WithComponent("modbus").Warn().Err(err).Msg("failed to load persisted channel stats")
	} else {
		c.mu.Lock()
		for key, rec := range recs {
			c.channels[key] = &channelStat{
				TotalOperations: rec.TotalOperations,
				FailureCount:    rec.FailureCount,
				LastOperationAt: rec.LastOperationAt,
			}
		}
		c.mu.Unlock()
	}

	c.statStore = s
	c.wg.Add(1)
	go c.statPersistLoop()
	return c
}

func (c *Controller) statPersistLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(time.Duration(c.cfg.HealthCheckIntervalMS) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			c.persistStats()
			return
		case <-ticker.C:
			c.persistStats()
		}
	}
}

func (c *Controller) persistStats() {
	c.mu.RLock()
	recs := make(map[string]statRecord, len(c.channels))
	for key, st := range c.channels {
		recs[key] = statRecord{
			TotalOperations: st.TotalOperations,
			FailureCount:    st.FailureCount,
			LastOperationAt: st.LastOperationAt,
		}
	}
	c.mu.RUnlock()
	if len(recs) == 0 {
		return
	}
	if err := c.statStore.Save(recs); err != nil {
		log.WithComponent("modbus").Warn().Err(err).Msg("failed to persist channel stats")
	}
}
