package engine

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xcryptodev/cryptodev"
)

// Session is a handle of a crypto session.
// The zero value is not a valid session.
type Session struct {
	idx int
	gen uint32
}

func (s Session) String() string {
	return fmt.Sprintf("session(%d.%d)", s.idx, s.gen)
}

// PoolStats provides statistics of the session pool
type PoolStats struct {
	Capacity int
	Free     int
	Live     int
}

// slot holds the state of a session.
// The generation is odd while the session is live.
type slot struct {
	idx int
	gen atomic.Uint32

	params SessionParams
	chain  chain
	dev    *device
	native cryptodev.Session

	cipherIV    [cryptodev.MaxIVLength]byte
	authIV      [cryptodev.MaxIVLength]byte
	hasCipherIV bool
	hasAuthIV   bool
}

func (sl *slot) handle() Session {
	return Session{idx: sl.idx, gen: sl.gen.Load()}
}

// reset wipes the key material and clears the slot
func (sl *slot) reset() {
	clear(sl.params.CipherKey)
	clear(sl.params.AuthKey)
	clear(sl.params.CipherIV.Data)
	clear(sl.params.AuthIV.Data)
	clear(sl.cipherIV[:])
	clear(sl.authIV[:])

	sl.params = SessionParams{}
	sl.chain = chain{}
	sl.dev = nil
	sl.native = nil
	sl.hasCipherIV = false
	sl.hasAuthIV = false
}

// sessionPool is a fixed arena of session slots with a free index stack
type sessionPool struct {
	slots []slot

	lock sync.Mutex
	free []int
}

func newSessionPool(capacity int) *sessionPool {
	p := &sessionPool{
		slots: make([]slot, capacity),
		free:  make([]int, capacity),
	}
	for i := range p.slots {
		p.slots[i].idx = i
		// lowest index is allocated first
		p.free[capacity-1-i] = i
	}
	return p
}

func (p *sessionPool) capacity() int {
	return len(p.slots)
}

// alloc returns a free slot, the slot is not live until commit
func (p *sessionPool) alloc() (*slot, error) {
	p.lock.Lock()
	defer p.lock.Unlock()

	n := len(p.free)
	if n == 0 {
		return nil, errors.Wrapf(ErrResourceExhausted, "session pool is full, capacity=%d", len(p.slots))
	}
	idx := p.free[n-1]
	p.free = p.free[:n-1]
	return &p.slots[idx], nil
}

// commit marks the slot live and returns its handle
func (p *sessionPool) commit(sl *slot) Session {
	sl.gen.Add(1)
	return sl.handle()
}

// lookup returns the live slot of the handle
func (p *sessionPool) lookup(s Session) (*slot, error) {
	if s.idx < 0 || s.idx >= len(p.slots) || s.gen&1 == 0 {
		return nil, errors.Wrapf(ErrInvalidSession, "%s", s)
	}
	sl := &p.slots[s.idx]
	if sl.gen.Load() != s.gen {
		return nil, errors.Wrapf(ErrInvalidSession, "%s", s)
	}
	return sl, nil
}

// claim invalidates the handle and returns its slot,
// only one of concurrent claims of the same handle succeeds
func (p *sessionPool) claim(s Session) (*slot, error) {
	sl, err := p.lookup(s)
	if err != nil {
		return nil, err
	}
	if !sl.gen.CompareAndSwap(s.gen, s.gen+1) {
		return nil, errors.Wrapf(ErrInvalidSession, "%s", s)
	}
	return sl, nil
}

// release resets the slot and returns it to the free stack
func (p *sessionPool) release(sl *slot) {
	sl.reset()

	p.lock.Lock()
	p.free = append(p.free, sl.idx)
	p.lock.Unlock()
}

// stats returns the pool statistics, slots being created count as live
func (p *sessionPool) stats() PoolStats {
	p.lock.Lock()
	free := len(p.free)
	p.lock.Unlock()

	return PoolStats{
		Capacity: len(p.slots),
		Free:     free,
		Live:     len(p.slots) - free,
	}
}
