package broker

import (
	"slices"
	"sync"
)

// Subscription command prefixes.
const (
	CmdSubscribe   = "subscribe"
	CmdUnsubscribe = "unsubscribe"
)

// Subscribers maps connection ids to the commands they subscribed to.
type Subscribers struct {
	mu sync.RWMutex
	m  map[string][]string
}

// NewSubscribers creates an empty subscriber table.
func NewSubscribers() *Subscribers {
	return &Subscribers{m: make(map[string][]string)}
}

// Check reports whether conn subscribed to command.
func (s *Subscribers) Check(conn, command string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Contains(s.m[conn], command)
}

// Add subscribes conn to command. Adding twice is a no-op.
func (s *Subscribers) Add(conn, command string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slices.Contains(s.m[conn], command) {
		return
	}
	s.m[conn] = append(s.m[conn], command)
}

// DelCmd removes one subscription of conn.
func (s *Subscribers) DelCmd(conn, command string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := slices.Index(s.m[conn], command); i >= 0 {
		s.m[conn] = slices.Delete(s.m[conn], i, i+1)
	}
}

// Del removes conn with all its subscriptions.
func (s *Subscribers) Del(conn string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, conn)
}

// Commands returns a copy of conn's subscriptions.
func (s *Subscribers) Commands(conn string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.m[conn])
}

// Len returns the number of connections with a subscription entry.
func (s *Subscribers) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}
