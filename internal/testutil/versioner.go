package testutil

import (
	"fmt"
	"sync"
	"time"

	"dotkeep/internal/keep"
)

// StubVersioner records commits in memory and can serve back stored
// manifests for historical restores.
type StubVersioner struct {
	mu      sync.Mutex
	clock   *StubClock
	commits []keep.HistoryEntry
	// Manifests maps a commit ID to the index bytes returned by ShowIndex.
	Manifests map[string][]byte
}

func NewStubVersioner(clock *StubClock) *StubVersioner {
	return &StubVersioner{clock: clock, Manifests: make(map[string][]byte)}
}

func (v *StubVersioner) EnsureRepo() error { return nil }

func (v *StubVersioner) Commit(changed []string, message string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	id := fmt.Sprintf("commit-%d", len(v.commits)+1)
	var when time.Time
	if v.clock != nil {
		when = v.clock.Now()
	}
	v.commits = append(v.commits, keep.HistoryEntry{ID: id, Time: when, Message: message})
	return id, nil
}

func (v *StubVersioner) History(limit int) ([]keep.HistoryEntry, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	entries := make([]keep.HistoryEntry, 0, len(v.commits))
	for i := len(v.commits) - 1; i >= 0; i-- {
		entries = append(entries, v.commits[i])
		if limit > 0 && len(entries) == limit {
			break
		}
	}
	return entries, nil
}

func (v *StubVersioner) ShowIndex(id string) ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	raw, ok := v.Manifests[id]
	if !ok {
		return nil, fmt.Errorf("no manifest recorded at %s", id)
	}
	return raw, nil
}
