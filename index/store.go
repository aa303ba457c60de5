package index

import (
	"sync/atomic"
)

// Store publishes index snapshots. Readers grab the current snapshot once per
// request and keep using it for the request's lifetime, so a concurrent swap
// never exposes a half-updated index.
type Store struct {
	current atomic.Pointer[Snapshot]
	version atomic.Int64
}

func NewStore() *Store {
	return &Store{}
}

// Current returns the latest published snapshot, or false when no snapshot
// has been published yet (index still loading).
func (s *Store) Current() (*Snapshot, bool) {
	snap := s.current.Load()
	return snap, snap != nil
}

// Publish atomically swaps in a new snapshot.
func (s *Store) Publish(snap *Snapshot) {
	s.current.Store(snap)
}

// NextVersion reserves a monotonically increasing version for a rebuild.
func (s *Store) NextVersion() int64 {
	return s.version.Add(1)
}

// Version reports the version of the current snapshot, 0 when none.
func (s *Store) Version() int64 {
	if snap := s.current.Load(); snap != nil {
		return snap.Version
	}
	return 0
}
