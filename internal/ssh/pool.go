package ssh

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Pool deduplicates SessionFacades by credential equality: two calls to
// GetOrCreate with Credentials that AreSame share one facade, regardless
// of how many times they're requested or by how many goroutines at once.
// A facade that tears itself down after a failed operation removes
// itself from the pool automatically, so the next GetOrCreate for the
// same credentials reconnects from scratch rather than handing back a
// dead session.
type Pool struct {
	mu      sync.RWMutex
	facades []*SessionFacade
	log     *logrus.Entry
}

// NewPool returns an empty pool, ready for concurrent use.
func NewPool() *Pool {
	return &Pool{log: logrus.WithField("component", "pool")}
}

// GetOrCreate returns the facade already pooled for creds, or creates and
// pools one. Mirrors a double-checked read-then-write-lock scan: the
// common case (facade already exists) never takes the write lock. Only a
// facade whose credentials AreSame and whose IsConnected() is still true
// is returned — a stale (torn-down) entry encountered during the scan is
// skipped, not removed, and a fresh facade is created in its place.
func (p *Pool) GetOrCreate(creds Credentials) *SessionFacade {
	if f := p.findLive(creds); f != nil {
		return f
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Re-scan under the write lock in case another goroutine created one
	// between our read-unlock and this lock.
	for _, f := range p.facades {
		if f.Credentials().AreSame(creds) && f.IsConnected() {
			return f
		}
	}

	f := newSessionFacade(creds, p.evict)
	p.facades = append(p.facades, f)
	p.log.WithField("target", creds.String()).Debug("created new pooled session")
	return f
}

func (p *Pool) findLive(creds Credentials) *SessionFacade {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, f := range p.facades {
		if f.Credentials().AreSame(creds) && f.IsConnected() {
			return f
		}
	}
	return nil
}

// Get returns the pooled facade for creds without creating one, or nil.
// Unlike GetOrCreate this ignores liveness — it is a diagnostic lookup
// that returns the first credential match regardless of whether it has
// since torn down.
func (p *Pool) Get(creds Credentials) *SessionFacade {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, f := range p.facades {
		if f.Credentials().AreSame(creds) {
			return f
		}
	}
	return nil
}

// Insert adds an already-constructed facade to the pool, wiring it to be
// evicted on failure. Used by callers that built a facade outside the
// pool (e.g. with custom options) but still want pool-managed lifetime.
func (p *Pool) Insert(f *SessionFacade) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f.evict = p.evict
	p.facades = append(p.facades, f)
}

// Remove evicts f from the pool without disconnecting it. Safe to call
// even if f isn't currently pooled.
func (p *Pool) Remove(f *SessionFacade) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removeLocked(f)
}

func (p *Pool) removeLocked(f *SessionFacade) {
	for i, candidate := range p.facades {
		if candidate == f {
			p.facades = append(p.facades[:i], p.facades[i+1:]...)
			return
		}
	}
}

// evict is installed as every pooled facade's evictionFunc.
func (p *Pool) evict(f *SessionFacade) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removeLocked(f)
	p.log.WithField("target", f.Credentials().String()).Debug("evicted failed session")
}

// Len reports how many facades are currently pooled.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.facades)
}

// Close disconnects and drops every pooled facade.
func (p *Pool) Close() {
	p.mu.Lock()
	facades := p.facades
	p.facades = nil
	p.mu.Unlock()

	for _, f := range facades {
		_ = f.Disconnect()
	}
	p.log.Debug("pool closed")
}
