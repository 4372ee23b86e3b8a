package station

import (
	"errors"
	"net"
	"time"
)

var ErrUnregistered = errors.New("station: client not registered")

// clientSession is one registered operator client.
type clientSession struct {
	id            string
	addr          *net.UDPAddr
	lastHeartbeat time.Time
}

// sessionTable tracks live operator sessions keyed by client id. It has
// no lock of its own: the owning Server serializes all access.
type sessionTable struct {
	sessions map[string]*clientSession
}

func newSessionTable() sessionTable {
	return sessionTable{sessions: make(map[string]*clientSession)}
}

func (t *sessionTable) len() int { return len(t.sessions) }

func (t *sessionTable) has(id string) bool {
	_, ok := t.sessions[id]
	return ok
}

// registerOrRefresh creates the session or refreshes its address and
// heartbeat. Address changes are expected (client restart, NAT rebind)
// and never rejected.
func (t *sessionTable) registerOrRefresh(id string, addr *net.UDPAddr, now time.Time) (created bool) {
	if sess, ok := t.sessions[id]; ok {
		sess.addr = addr
		sess.lastHeartbeat = now
		return false
	}
	t.sessions[id] = &clientSession{id: id, addr: addr, lastHeartbeat: now}
	return true
}

// touch refreshes liveness for a heartbeat. Under the requireHello
// policy an unknown client fails with ErrUnregistered and no session is
// created; with the policy relaxed it is silently registered.
func (t *sessionTable) touch(id string, addr *net.UDPAddr, now time.Time, requireHello bool) error {
	sess, ok := t.sessions[id]
	if !ok {
		if requireHello {
			return ErrUnregistered
		}
		t.sessions[id] = &clientSession{id: id, addr: addr, lastHeartbeat: now}
		return nil
	}
	sess.addr = addr
	sess.lastHeartbeat = now
	return nil
}

// evictStale removes and returns every session silent for longer than
// timeout. The only place sessions die for liveness reasons.
func (t *sessionTable) evictStale(now time.Time, timeout time.Duration) []string {
	var evicted []string
	for id, sess := range t.sessions {
		if now.Sub(sess.lastHeartbeat) > timeout {
			evicted = append(evicted, id)
			delete(t.sessions, id)
		}
	}
	return evicted
}

func (t *sessionTable) all() []*clientSession {
	out := make([]*clientSession, 0, len(t.sessions))
	for _, sess := range t.sessions {
		out = append(out, sess)
	}
	return out
}
