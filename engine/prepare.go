package engine

import (
	"github.com/cockroachdb/errors"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xcryptodev/cryptodev"
	"github.com/effective-security/xcryptodev/packet"
)

// resolveOutput returns the output packet of the request,
// and true if it was allocated from the session output pool.
// When the output is a different packet, the input is copied to the output
// and freed.
func resolveOutput(sl *slot, req *OpRequest) (*packet.Packet, bool, error) {
	in := req.Packet
	out := req.Out
	allocated := false

	if out == nil {
		pool := sl.params.OutputPool
		if pool == nil {
			return nil, false, errors.Wrap(ErrResourceExhausted, "no output packet and no output pool")
		}
		var err error
		out, err = pool.Alloc(in.Len())
		if err != nil {
			return nil, false, errors.Mark(err, ErrResourceExhausted)
		}
		allocated = true
	}

	if out != in {
		if err := out.CopyFromPacket(0, in, 0, in.Len()); err != nil {
			if allocated {
				out.Free()
			}
			return nil, false, errors.Mark(errors.WithMessage(err, "unable to copy input packet"), ErrInvalidRequest)
		}
		in.CopyMetadataTo(out)
		in.Free()
	}
	return out, allocated, nil
}

// prepare places the digest, AAD and IVs of the request into the op,
// and returns soft outcomes of the stages
func prepare(sl *slot, op *cryptodev.Op, out *packet.Packet, req *OpRequest) (Outcome, Outcome, error) {
	cipher, auth := OutcomeOK, OutcomeOK

	if sl.chain.aead {
		x := &sl.chain.head.AEAD
		err := prepareDigest(op, out, req.HashResultOffset, x.DigestLength, x.Op == cryptodev.AEADOpDecrypt)
		if err != nil {
			return cipher, auth, err
		}

		if x.AADLength > 0 {
			if len(req.AAD) < x.AADLength {
				return cipher, auth, errors.Wrapf(ErrInvalidRequest, "AAD is shorter than %d bytes", x.AADLength)
			}
			offset := values.Select(sl.chain.ccm, cryptodev.CCMAADOffset, 0)
			copy(out.AADBuf()[offset:], req.AAD[:x.AADLength])
		}
		op.AAD = out.AADBuf()

		iv := op.IV[cryptodev.CipherIVOffset:]
		if sl.chain.ccm {
			// nonce length prefix
			iv[0] = byte(x.IVLength)
			iv = iv[1:]
		}
		ok, err := setIV(iv[:x.IVLength], req.CipherIV, sl.cipherIV[:], sl.hasCipherIV)
		if err != nil {
			return cipher, auth, err
		}
		if !ok {
			cipher = OutcomeIVInvalid
		}
		op.Cipher = req.CipherRange
		return cipher, auth, nil
	}

	if ax := sl.chain.authStage(); ax != nil && ax.Auth.DigestLength != 0 {
		err := prepareDigest(op, out, req.HashResultOffset, ax.Auth.DigestLength, ax.Auth.Op == cryptodev.AuthOpVerify)
		if err != nil {
			return cipher, auth, err
		}
	}

	ok, err := setIV(op.CipherIV(sl.params.CipherIV.Length), req.CipherIV, sl.cipherIV[:], sl.hasCipherIV)
	if err != nil {
		return cipher, auth, err
	}
	if !ok {
		cipher = OutcomeIVInvalid
	}

	ok, err = setIV(op.AuthIV(sl.params.AuthIV.Length), req.AuthIV, sl.authIV[:], sl.hasAuthIV)
	if err != nil {
		return cipher, auth, err
	}
	if !ok {
		auth = OutcomeIVInvalid
	}

	op.Cipher = req.CipherRange
	op.Auth = req.AuthRange
	return cipher, auth, nil
}

// prepareDigest points the op digest to the packet scratch area,
// and zeroes the digest region of the packet.
// For verify the received digest is saved to the scratch first.
func prepareDigest(op *cryptodev.Op, out *packet.Packet, offset, length int, verify bool) error {
	scratch := out.DigestBuf()[:length]
	if verify {
		if err := out.CopyToMem(offset, scratch); err != nil {
			return errors.Mark(errors.WithMessage(err, "invalid hash result offset"), ErrInvalidRequest)
		}
	}
	if err := out.Memset(offset, 0, length); err != nil {
		return errors.Mark(errors.WithMessage(err, "invalid hash result offset"), ErrInvalidRequest)
	}
	op.Digest = scratch
	return nil
}

// setIV fills dst from the request override, or the session default.
// It returns false when the IV is required but not provided.
func setIV(dst, override, def []byte, hasDef bool) (bool, error) {
	switch {
	case override != nil:
		if len(override) < len(dst) {
			return false, errors.Wrapf(ErrInvalidRequest, "IV is shorter than %d bytes", len(dst))
		}
		copy(dst, override)
	case hasDef:
		copy(dst, def)
	case len(dst) != 0:
		return false, nil
	}
	return true, nil
}
