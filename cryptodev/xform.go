package cryptodev

import (
	"iter"
)

const (
	// MaxIVLength is the largest IV length accepted for a single stage
	MaxIVLength = 16
	// CipherIVOffset is the offset of the cipher IV in the op IV area
	CipherIVOffset = 0
	// AuthIVOffset is the offset of the auth IV in the op IV area
	AuthIVOffset = MaxIVLength
	// CCMAADOffset is the offset of the AAD in the AAD scratch area
	// for AES-CCM, the device reserves the leading bytes for B0 and the AAD length
	CCMAADOffset = 18
)

// CipherOp is the direction of a cipher stage
type CipherOp int

// Cipher directions
const (
	CipherOpEncrypt CipherOp = iota
	CipherOpDecrypt
)

// AuthOp is the direction of an auth stage
type AuthOp int

// Auth directions
const (
	AuthOpGenerate AuthOp = iota
	AuthOpVerify
)

// AEADOp is the direction of an AEAD stage
type AEADOp int

// AEAD directions
const (
	AEADOpEncrypt AEADOp = iota
	AEADOpDecrypt
)

// CipherXform is a native cipher stage
type CipherXform struct {
	Algo     CipherAlgo
	Op       CipherOp
	Key      []byte
	IVLength int
}

// AuthXform is a native auth stage
type AuthXform struct {
	Algo         AuthAlgo
	Op           AuthOp
	Key          []byte
	IVLength     int
	DigestLength int
}

// AEADXform is a native AEAD stage
type AEADXform struct {
	Algo         AEADAlgo
	Op           AEADOp
	Key          []byte
	IVLength     int
	DigestLength int
	AADLength    int
}

// Xform is a stage of a native transform chain.
// Only the descriptor matching Type is meaningful.
type Xform struct {
	Type   XformType
	Cipher CipherXform
	Auth   AuthXform
	AEAD   AEADXform
	Next   *Xform
}

// Stages enumerates the chain starting at x
func (x *Xform) Stages() iter.Seq[*Xform] {
	return func(yield func(*Xform) bool) {
		for s := x; s != nil; s = s.Next {
			if !yield(s) {
				return
			}
		}
	}
}

// Len returns the number of stages in the chain
func (x *Xform) Len() int {
	n := 0
	for range x.Stages() {
		n++
	}
	return n
}

// Find returns the first stage of the given type
func (x *Xform) Find(t XformType) *Xform {
	for s := range x.Stages() {
		if s.Type == t {
			return s
		}
	}
	return nil
}
