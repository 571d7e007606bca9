// Package packet provides reference counted packet buffers used as the
// source and destination of crypto operations.
//
// Each packet carries the scratch areas a crypto device reads the digest and
// additional authenticated data from, and the crypto error flag set after an
// operation completes.
package packet

import (
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
)

const (
	// DigestMax is the size of the per-packet digest scratch area
	DigestMax = 64
	// AADMax is the size of the per-packet AAD scratch area
	AADMax = 32
)

var (
	// ErrPoolExhausted is returned when a pool has no packets left
	ErrPoolExhausted = errors.New("packet pool exhausted")
	// ErrOutOfRange is returned when an offset or length exceeds the packet
	ErrOutOfRange = errors.New("offset+length exceeds packet boundary")
)

// Metadata is carried across packets when the output of an operation
// is a different packet than its input
type Metadata struct {
	UserPtr  any
	FlowHash uint32
	Input    int
}

// Packet is a reference counted buffer
type Packet struct {
	pool *Pool
	data []byte
	refs atomic.Int32

	md        Metadata
	digest    [DigestMax]byte
	aad       [AADMax]byte
	cryptoErr bool
	result    any
}

// New returns a packet wrapping data, not backed by any pool
func New(data []byte) *Packet {
	p := &Packet{data: data}
	p.refs.Store(1)
	return p
}

// Len returns the length of the packet data
func (p *Packet) Len() int {
	return len(p.data)
}

// Data returns the packet data
func (p *Packet) Data() []byte {
	return p.data
}

// Pool returns the pool the packet was allocated from, or nil
func (p *Packet) Pool() *Pool {
	return p.pool
}

// Ref increments the reference count
func (p *Packet) Ref() *Packet {
	p.refs.Add(1)
	return p
}

// Free decrements the reference count, and returns the packet to its pool
// when the last reference is released
func (p *Packet) Free() {
	refs := p.refs.Add(-1)
	if refs < 0 {
		panic("packet: double free")
	}
	if refs == 0 && p.pool != nil {
		p.pool.release()
	}
}

func (p *Packet) check(offset, length int) error {
	if offset < 0 || length < 0 || offset+length > len(p.data) {
		return errors.Wrapf(ErrOutOfRange, "offset=%d, length=%d, len=%d", offset, length, len(p.data))
	}
	return nil
}

// Range returns the slice of packet data at offset
func (p *Packet) Range(offset, length int) ([]byte, error) {
	if err := p.check(offset, length); err != nil {
		return nil, err
	}
	return p.data[offset : offset+length], nil
}

// CopyFromPacket copies length bytes from src at srcOffset into p at dstOffset
func (p *Packet) CopyFromPacket(dstOffset int, src *Packet, srcOffset, length int) error {
	if err := p.check(dstOffset, length); err != nil {
		return err
	}
	if err := src.check(srcOffset, length); err != nil {
		return err
	}
	copy(p.data[dstOffset:dstOffset+length], src.data[srcOffset:srcOffset+length])
	return nil
}

// CopyToMem copies len(dst) bytes at offset to dst
func (p *Packet) CopyToMem(offset int, dst []byte) error {
	if err := p.check(offset, len(dst)); err != nil {
		return err
	}
	copy(dst, p.data[offset:])
	return nil
}

// CopyFromMem copies src into the packet at offset
func (p *Packet) CopyFromMem(offset int, src []byte) error {
	if err := p.check(offset, len(src)); err != nil {
		return err
	}
	copy(p.data[offset:], src)
	return nil
}

// Memset sets length bytes at offset to c
func (p *Packet) Memset(offset int, c byte, length int) error {
	if err := p.check(offset, length); err != nil {
		return err
	}
	region := p.data[offset : offset+length]
	for i := range region {
		region[i] = c
	}
	return nil
}

// Byte returns the byte at offset
func (p *Packet) Byte(offset int) (byte, error) {
	if err := p.check(offset, 1); err != nil {
		return 0, err
	}
	return p.data[offset], nil
}

// SetByte sets the byte at offset
func (p *Packet) SetByte(offset int, b byte) error {
	if err := p.check(offset, 1); err != nil {
		return err
	}
	p.data[offset] = b
	return nil
}

// Metadata returns the packet metadata
func (p *Packet) Metadata() *Metadata {
	return &p.md
}

// CopyMetadataTo copies metadata to dst
func (p *Packet) CopyMetadataTo(dst *Packet) {
	dst.md = p.md
}

// DigestBuf returns the digest scratch area
func (p *Packet) DigestBuf() []byte {
	return p.digest[:]
}

// AADBuf returns the AAD scratch area
func (p *Packet) AADBuf() []byte {
	return p.aad[:]
}

// CryptoErr returns true if the last crypto operation on the packet failed
func (p *Packet) CryptoErr() bool {
	return p.cryptoErr
}

// SetCryptoErr sets the crypto error flag
func (p *Packet) SetCryptoErr(failed bool) {
	p.cryptoErr = failed
}

// CryptoResult returns the result of the last crypto operation on the packet
func (p *Packet) CryptoResult() any {
	return p.result
}

// SetCryptoResult stores the result of a crypto operation with the packet
func (p *Packet) SetCryptoResult(result any) {
	p.result = result
}

// Pool is a fixed capacity packet pool
type Pool struct {
	name     string
	capacity int

	lock  sync.Mutex
	inUse int
}

// NewPool returns a pool of capacity packets
func NewPool(name string, capacity int) *Pool {
	return &Pool{
		name:     name,
		capacity: capacity,
	}
}

// Name returns the pool name
func (p *Pool) Name() string {
	return p.name
}

// Alloc allocates a zeroed packet of length bytes
func (p *Pool) Alloc(length int) (*Packet, error) {
	p.lock.Lock()
	if p.inUse >= p.capacity {
		p.lock.Unlock()
		return nil, errors.Wrapf(ErrPoolExhausted, "pool=%s, capacity=%d", p.name, p.capacity)
	}
	p.inUse++
	p.lock.Unlock()

	pkt := &Packet{
		pool: p,
		data: make([]byte, length),
	}
	pkt.refs.Store(1)
	return pkt, nil
}

// Available returns the number of packets that can be allocated
func (p *Pool) Available() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.capacity - p.inUse
}

func (p *Pool) release() {
	p.lock.Lock()
	p.inUse--
	p.lock.Unlock()
}
