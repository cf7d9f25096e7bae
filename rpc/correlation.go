package rpc

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
)

// correlationIDSize is fixed by the wire protocol: 24 random bytes,
// base64-encoded.
const correlationIDSize = 24

// newCorrelationID generates a fresh correlation id for one call.
func newCorrelationID() (string, error) {
	buf := make([]byte, correlationIDSize)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("rpc: generate correlation id: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

// pendingCalls is the correlation registry: a concurrent-safe map from
// correlation id to the single-use channel its call is blocked on. Entries
// are added before publish and removed when the call returns, so an id is
// never reused while its wait is pending.
type pendingCalls struct {
	mu      sync.Mutex
	waiting map[string]chan []byte
}

func newPendingCalls() *pendingCalls {
	return &pendingCalls{waiting: make(map[string]chan []byte)}
}

// add registers a wait for id and returns the channel its reply will be
// delivered on.
func (p *pendingCalls) add(id string) chan []byte {
	ch := make(chan []byte, 1)
	p.mu.Lock()
	p.waiting[id] = ch
	p.mu.Unlock()
	return ch
}

// remove drops the wait for id, if still registered.
func (p *pendingCalls) remove(id string) {
	p.mu.Lock()
	delete(p.waiting, id)
	p.mu.Unlock()
}

// resolve delivers a reply to the call waiting on id. It reports false when
// no call is waiting, in which case the payload is dropped.
func (p *pendingCalls) resolve(id string, payload []byte) bool {
	p.mu.Lock()
	ch, ok := p.waiting[id]
	if ok {
		delete(p.waiting, id)
	}
	p.mu.Unlock()

	if !ok {
		return false
	}
	ch <- payload
	return true
}

// size returns the number of in-flight waits.
func (p *pendingCalls) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.waiting)
}
