// SPDX-License-Identifier: MIT

package config

// Snapshot is the immutable configuration view handed to each subsystem
// at wiring time. Epoch lets a hot-reload consumer (internal/config's
// fsnotify watcher) detect that a fresher snapshot has been swapped in
// without comparing the whole struct.
type Snapshot struct {
	Epoch  uint64
	Config Config
}

// NewSnapshot wraps a loaded Config as epoch 0. Holder.Reload increments
// Epoch (via Next) on each successful reload.
func NewSnapshot(cfg Config) Snapshot {
	return Snapshot{Epoch: 0, Config: cfg}
}

// Next returns a new Snapshot with Epoch incremented, for use after a
// successful config-file reload.
func (s Snapshot) Next(cfg Config) Snapshot {
	return Snapshot{Epoch: s.Epoch + 1, Config: cfg}
}
