package core

import "sync"

// serverLeases is the per-server exclusive section guarding provisioning and
// connection retries. Holding a server's lease means an install or probe is
// in flight; the health monitor skips leased servers.
type serverLeases struct {
	mu   sync.Mutex
	held map[string]bool
}

func newServerLeases() *serverLeases {
	return &serverLeases{held: make(map[string]bool)}
}

// TryAcquire takes the lease for a server if it is free.
func (l *serverLeases) TryAcquire(serverID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[serverID] {
		return false
	}
	l.held[serverID] = true
	return true
}

func (l *serverLeases) Release(serverID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, serverID)
}

// Held reports whether a server's lease is currently taken.
func (l *serverLeases) Held(serverID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[serverID]
}
