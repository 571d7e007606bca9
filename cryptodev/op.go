package cryptodev

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xcryptodev/packet"
)

// OpStatus indicates crypto operation status
type OpStatus uint8

// OpStatus values
const (
	OpStatusNotProcessed OpStatus = iota
	OpStatusSuccess
	OpStatusAuthFailed
	OpStatusInvalidSession
	OpStatusInvalidArgs
	OpStatusError
)

func (s OpStatus) String() string {
	switch s {
	case OpStatusNotProcessed:
		return "new"
	case OpStatusSuccess:
		return "success"
	case OpStatusAuthFailed:
		return "authfail"
	case OpStatusInvalidSession:
		return "badsession"
	case OpStatusInvalidArgs:
		return "badarg"
	case OpStatusError:
		return "error"
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// DataRange is a byte range of the packet
type DataRange struct {
	Offset int
	Length int
}

// op ownership states
const (
	opFree uint32 = iota
	opPending
	opCompleted
	opAbandoned
)

// Op represents a symmetric crypto operation
type Op struct {
	Status  OpStatus
	Session Session
	Src     *packet.Packet

	Cipher DataRange
	Auth   DataRange

	// Digest is the digest buffer the device reads for verify,
	// or writes for generate
	Digest []byte
	// AAD is the buffer of additional authenticated data,
	// for AES-CCM the data starts at CCMAADOffset
	AAD []byte
	// IV holds the cipher IV at CipherIVOffset and the auth IV at AuthIVOffset
	IV [2 * MaxIVLength]byte

	// UserData is opaque to the device
	UserData any

	pool  *OpPool
	state atomic.Uint32
}

// CipherIV returns the cipher IV area of n bytes
func (op *Op) CipherIV(n int) []byte {
	return op.IV[CipherIVOffset : CipherIVOffset+n]
}

// AuthIV returns the auth IV area of n bytes
func (op *Op) AuthIV(n int) []byte {
	return op.IV[AuthIVOffset : AuthIVOffset+n]
}

// Error returns an error if this operation has failed, otherwise returns nil
func (op *Op) Error() error {
	switch op.Status {
	case OpStatusNotProcessed, OpStatusSuccess:
		return nil
	}
	return errors.Errorf("crypto op status %s", op.Status)
}

// Submit marks the op as pending completion
func (op *Op) Submit() {
	op.state.Store(opPending)
}

// Complete marks a dequeued op as completed.
// It returns false when the submitter abandoned the op,
// in which case the caller owns the op and must free it.
func (op *Op) Complete() bool {
	return op.state.CompareAndSwap(opPending, opCompleted)
}

// Completed returns true when the op was dequeued
func (op *Op) Completed() bool {
	return op.state.Load() == opCompleted
}

// Abandon gives up waiting for the op.
// It returns false when the op was already completed,
// in which case the submitter still owns the op.
func (op *Op) Abandon() bool {
	return op.state.CompareAndSwap(opPending, opAbandoned)
}

// Free returns the op to its pool
func (op *Op) Free() {
	if op.pool != nil {
		op.pool.put(op)
	}
}

func (op *Op) reset() {
	op.Status = OpStatusNotProcessed
	op.Session = nil
	op.Src = nil
	op.Cipher = DataRange{}
	op.Auth = DataRange{}
	op.Digest = nil
	op.AAD = nil
	clear(op.IV[:])
	op.UserData = nil
	op.state.Store(opFree)
}

// OpVector represents a vector of crypto operations
type OpVector []*Op

// OpPoolConfig contains configuration for NewOpPool
type OpPoolConfig struct {
	Capacity int
}

func (cfg *OpPoolConfig) applyDefaults() {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultOpPoolCapacity
	}
}

// DefaultOpPoolCapacity is the default number of ops in a pool
const DefaultOpPoolCapacity = 8192

// ErrOpPoolExhausted is returned when no op can be allocated
var ErrOpPoolExhausted = errors.New("crypto op pool exhausted")

// OpPool is a fixed capacity pool of crypto operations
type OpPool struct {
	name string

	lock sync.Mutex
	free []*Op
	cap  int
}

// NewOpPool creates an OpPool
func NewOpPool(name string, cfg OpPoolConfig) *OpPool {
	cfg.applyDefaults()
	mp := &OpPool{
		name: name,
		free: make([]*Op, cfg.Capacity),
		cap:  cfg.Capacity,
	}
	for i := range mp.free {
		mp.free[i] = &Op{pool: mp}
	}
	return mp
}

// Alloc allocates an op
func (mp *OpPool) Alloc() (*Op, error) {
	mp.lock.Lock()
	n := len(mp.free)
	if n == 0 {
		mp.lock.Unlock()
		return nil, errors.Wrapf(ErrOpPoolExhausted, "pool=%s", mp.name)
	}
	op := mp.free[n-1]
	mp.free = mp.free[:n-1]
	mp.lock.Unlock()
	return op, nil
}

// Capacity returns the pool capacity
func (mp *OpPool) Capacity() int {
	return mp.cap
}

// Available returns the number of free ops
func (mp *OpPool) Available() int {
	mp.lock.Lock()
	defer mp.lock.Unlock()
	return len(mp.free)
}

func (mp *OpPool) put(op *Op) {
	op.reset()
	mp.lock.Lock()
	mp.free = append(mp.free, op)
	mp.lock.Unlock()
}
