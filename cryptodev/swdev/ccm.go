package swdev

import (
	"crypto/cipher"
	"crypto/subtle"
	"encoding/binary"

	"github.com/cockroachdb/errors"
)

// ccm implements AES-CCM (NIST 800-38C, RFC 3610) as cipher.AEAD,
// with nonce of 7 to 13 bytes and tag of 4 to 16 even bytes
type ccm struct {
	block     cipher.Block
	nonceSize int
	tagSize   int
}

var errCCMAuth = errors.New("ccm: message authentication failed")

func newCCM(block cipher.Block, nonceSize, tagSize int) (cipher.AEAD, error) {
	if block.BlockSize() != 16 {
		return nil, errors.New("ccm: requires 128-bit block cipher")
	}
	if nonceSize < 7 || nonceSize > 13 {
		return nil, errors.Errorf("ccm: invalid nonce size: %d", nonceSize)
	}
	if tagSize < 4 || tagSize > 16 || tagSize%2 != 0 {
		return nil, errors.Errorf("ccm: invalid tag size: %d", tagSize)
	}
	return &ccm{block: block, nonceSize: nonceSize, tagSize: tagSize}, nil
}

func (c *ccm) NonceSize() int { return c.nonceSize }
func (c *ccm) Overhead() int  { return c.tagSize }

// lenSize is L, the size of the message length field
func (c *ccm) lenSize() int { return 15 - c.nonceSize }

func (c *ccm) maxLen() uint64 {
	if c.lenSize() >= 8 {
		return ^uint64(0)
	}
	return 1<<(8*c.lenSize()) - 1
}

// counter returns block A_i
func (c *ccm) counter(nonce []byte, i uint64) [16]byte {
	var a [16]byte
	a[0] = byte(c.lenSize() - 1)
	copy(a[1:], nonce)
	var ctr [8]byte
	binary.BigEndian.PutUint64(ctr[:], i)
	copy(a[16-c.lenSize():], ctr[8-c.lenSize():])
	return a
}

func (c *ccm) xorKeyStream(nonce, dst, src []byte) {
	var ks [16]byte
	for i, n := 0, uint64(1); i < len(src); i, n = i+16, n+1 {
		a := c.counter(nonce, n)
		c.block.Encrypt(ks[:], a[:])
		subtle.XORBytes(dst[i:], src[i:min(i+16, len(src))], ks[:])
	}
}

// mac computes CBC-MAC over B_0, the encoded AAD and the payload
func (c *ccm) mac(nonce, plaintext, aad []byte) [16]byte {
	var b0 [16]byte
	b0[0] = byte((c.tagSize-2)/2)<<3 | byte(c.lenSize()-1)
	if len(aad) > 0 {
		b0[0] |= 1 << 6
	}
	copy(b0[1:], nonce)
	var plen [8]byte
	binary.BigEndian.PutUint64(plen[:], uint64(len(plaintext)))
	copy(b0[16-c.lenSize():], plen[8-c.lenSize():])

	var x [16]byte
	c.block.Encrypt(x[:], b0[:])

	absorb := func(data []byte) {
		for len(data) > 0 {
			var blk [16]byte
			n := copy(blk[:], data)
			data = data[n:]
			subtle.XORBytes(x[:], x[:], blk[:])
			c.block.Encrypt(x[:], x[:])
		}
	}

	if len(aad) > 0 {
		var hdr []byte
		switch {
		case uint64(len(aad)) < 1<<16-1<<8:
			hdr = binary.BigEndian.AppendUint16(nil, uint16(len(aad)))
		case uint64(len(aad)) <= 0xffffffff:
			hdr = binary.BigEndian.AppendUint32([]byte{0xff, 0xfe}, uint32(len(aad)))
		default:
			hdr = binary.BigEndian.AppendUint64([]byte{0xff, 0xff}, uint64(len(aad)))
		}
		absorb(append(hdr, aad...))
	}
	absorb(plaintext)
	return x
}

func (c *ccm) Seal(dst, nonce, plaintext, aad []byte) []byte {
	if len(nonce) != c.nonceSize {
		panic("ccm: incorrect nonce length given to CCM")
	}
	if uint64(len(plaintext)) > c.maxLen() {
		panic("ccm: message too large for CCM")
	}

	tag := c.mac(nonce, plaintext, aad)
	a0 := c.counter(nonce, 0)
	var s0 [16]byte
	c.block.Encrypt(s0[:], a0[:])

	ret, out := sliceForAppend(dst, len(plaintext)+c.tagSize)
	c.xorKeyStream(nonce, out, plaintext)
	subtle.XORBytes(out[len(plaintext):], tag[:c.tagSize], s0[:])
	return ret
}

func (c *ccm) Open(dst, nonce, ciphertext, aad []byte) ([]byte, error) {
	if len(nonce) != c.nonceSize {
		panic("ccm: incorrect nonce length given to CCM")
	}
	if len(ciphertext) < c.tagSize {
		return nil, errCCMAuth
	}
	ct := ciphertext[:len(ciphertext)-c.tagSize]
	if uint64(len(ct)) > c.maxLen() {
		return nil, errCCMAuth
	}

	ret, out := sliceForAppend(dst, len(ct))
	c.xorKeyStream(nonce, out, ct)

	a0 := c.counter(nonce, 0)
	var s0 [16]byte
	c.block.Encrypt(s0[:], a0[:])
	expected := c.mac(nonce, out, aad)
	subtle.XORBytes(expected[:], expected[:], s0[:])

	if subtle.ConstantTimeCompare(expected[:c.tagSize], ciphertext[len(ct):]) != 1 {
		clear(out)
		return nil, errCCMAuth
	}
	return ret, nil
}

// sliceForAppend extends in by n bytes, and returns the whole slice
// and the appended tail
func sliceForAppend(in []byte, n int) (head, tail []byte) {
	if total := len(in) + n; cap(in) >= total {
		head = in[:total]
	} else {
		head = make([]byte, total)
		copy(head, in)
	}
	tail = head[len(in):]
	return
}
