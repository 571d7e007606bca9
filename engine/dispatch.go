package engine

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xcryptodev/cryptodev"
	"github.com/effective-security/xcryptodev/event"
	"github.com/effective-security/xcryptodev/metricskey"
	"github.com/effective-security/xcryptodev/packet"
	"github.com/effective-security/xlog"
)

// Outcome is the outcome of a stage of a crypto operation
type Outcome int

// Outcomes
const (
	OutcomeOK Outcome = iota
	// OutcomeIVInvalid is reported when the stage requires an IV,
	// and neither the request nor the session provides it
	OutcomeIVInvalid
	// OutcomeIntegrityCheckFailed is reported when the digest does not match
	OutcomeIntegrityCheckFailed
	// OutcomeHardwareError is reported when the device fails the operation
	OutcomeHardwareError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeIVInvalid:
		return "iv_invalid"
	case OutcomeIntegrityCheckFailed:
		return "icv_check"
	case OutcomeHardwareError:
		return "hw_error"
	}
	return "unknown"
}

// OpRequest is a crypto operation request
type OpRequest struct {
	// Packet is the input packet.
	// It's freed when the output is a different packet.
	Packet *packet.Packet
	// Out is the output packet: the input packet for in-place processing,
	// another packet to copy the input to, or nil to allocate it from the
	// session output pool
	Out *packet.Packet

	CipherRange cryptodev.DataRange
	AuthRange   cryptodev.DataRange

	// CipherIV and AuthIV override the session default IV
	CipherIV []byte
	AuthIV   []byte
	// AAD is the additional authenticated data of AEAD sessions
	AAD []byte
	// HashResultOffset is the offset of the digest in the output packet.
	// The region is zeroed while the op is processed; on decode the received
	// digest is restored whatever the outcome, on encode it's written only
	// on success.
	HashResultOffset int

	// Ctx is returned with the result
	Ctx any
}

// OpResult is the result of a crypto operation
type OpResult struct {
	Cipher Outcome
	Auth   Outcome
	// OK is true when both stages succeeded
	OK bool
	// Packet is the output packet, owned by the caller
	Packet *packet.Packet
	// Ctx is the request context value
	Ctx any
}

// PacketResult returns the result of the last crypto operation on the packet
func PacketResult(pkt *packet.Packet) (OpResult, bool) {
	res, ok := pkt.CryptoResult().(OpResult)
	return res, ok
}

type callerIDKey struct{}

// WithCallerID returns a context with the caller ID, which selects the queue
// pair for the operations submitted with the context
func WithCallerID(ctx context.Context, id uint64) context.Context {
	return context.WithValue(ctx, callerIDKey{}, id)
}

// CallerID returns the caller ID of the context
func CallerID(ctx context.Context) (uint64, bool) {
	id, ok := ctx.Value(callerIDKey{}).(uint64)
	return id, ok
}

const dequeueBurst = 32

// Operate processes a single request on a session of any mode,
// and returns the result directly.
//
// The queue pair is chosen by the caller id of ctx, see WithCallerID.
// Without it every call draws a random queue pair, so requests of one
// caller are not ordered on the device.
//
// On ErrDeviceTimeout the output packet may still be written by the device,
// an output packet allocated from the session pool is released once the
// device returns the operation.
func (e *Engine) Operate(ctx context.Context, s Session, req *OpRequest) (OpResult, error) {
	sl, err := e.liveSlot(s)
	if err != nil {
		return OpResult{}, err
	}
	return e.operate(ctx, sl, req)
}

// OperateSync processes requests on a sync session in order.
// It stops at the first failure, and returns results of the completed
// requests.
// Each request picks its queue pair as Operate does, use WithCallerID
// to keep the requests on one queue pair.
func (e *Engine) OperateSync(ctx context.Context, s Session, reqs []OpRequest) ([]OpResult, error) {
	sl, err := e.liveSlot(s)
	if err != nil {
		return nil, err
	}
	if sl.params.OpMode != OpModeSync {
		return nil, errors.Wrapf(ErrInvalidRequest, "%s is %s", s, sl.params.OpMode)
	}

	results := make([]OpResult, 0, len(reqs))
	for i := range reqs {
		res, err := e.operate(ctx, sl, &reqs[i])
		if err != nil {
			return results, errors.WithMessagef(err, "request %d", i)
		}
		results = append(results, res)
	}
	return results, nil
}

// OperateAsync processes requests on an async session in order, and posts
// the completions to the session completion queue.
// It stops at the first failure, and returns the number of posted
// completions.
func (e *Engine) OperateAsync(ctx context.Context, s Session, reqs []OpRequest) (int, error) {
	sl, err := e.liveSlot(s)
	if err != nil {
		return 0, err
	}
	if sl.params.OpMode != OpModeAsync {
		return 0, errors.Wrapf(ErrInvalidRequest, "%s is %s", s, sl.params.OpMode)
	}
	q := sl.params.ComplQueue
	if q == nil {
		return 0, errors.Wrapf(ErrInvalidRequest, "%s has no completion queue", s)
	}

	for i := range reqs {
		res, err := e.operate(ctx, sl, &reqs[i])
		if err != nil {
			return i, errors.WithMessagef(err, "request %d", i)
		}
		if err = q.Enqueue(&event.Completion{Packet: res.Packet, Result: res}); err != nil {
			res.Packet.Free()
			return i, err
		}
	}
	return len(reqs), nil
}

func (e *Engine) liveSlot(s Session) (*slot, error) {
	if e.closed.Load() {
		return nil, errors.WithStack(ErrNotInitialized)
	}
	return e.pool.lookup(s)
}

func (e *Engine) operate(ctx context.Context, sl *slot, req *OpRequest) (OpResult, error) {
	if req == nil || req.Packet == nil {
		return OpResult{}, errors.Wrap(ErrInvalidRequest, "no input packet")
	}

	devName := sl.dev.dev.Name()
	defer metricskey.PerfCryptoOperation.MeasureSince(time.Now(), devName, sl.params.Op.String())

	out, allocated, err := resolveOutput(sl, req)
	if err != nil {
		return OpResult{}, err
	}
	release := func(op *cryptodev.Op) {
		if op != nil {
			op.Free()
		}
		if allocated {
			out.Free()
		}
	}

	op, err := e.ops.Alloc()
	if err != nil && e.sweep() > 0 {
		op, err = e.ops.Alloc()
	}
	if err != nil {
		release(nil)
		return OpResult{}, errors.Mark(err, ErrResourceExhausted)
	}

	cipher, auth, err := prepare(sl, op, out, req)
	if err != nil {
		release(op)
		return OpResult{}, err
	}

	status := cryptodev.OpStatusNotProcessed
	if cipher == OutcomeOK && auth == OutcomeOK {
		status, err = e.submit(ctx, sl, op, out, allocated)
		if err != nil {
			if !errors.Is(err, ErrDeviceTimeout) {
				release(op)
			}
			return OpResult{}, err
		}
		cipher, auth = outcomes(status)
		if cipher == OutcomeHardwareError {
			logger.KV(xlog.WARNING,
				"reason", "status",
				"device", devName,
				"status", status)
		}
	}

	if len(op.Digest) != 0 && (status == cryptodev.OpStatusSuccess || sl.params.Op == OpDecode) {
		// region is validated by prepare
		_ = out.CopyFromMem(req.HashResultOffset, op.Digest)
	}
	op.Free()

	res := OpResult{
		Cipher: cipher,
		Auth:   auth,
		OK:     cipher == OutcomeOK && auth == OutcomeOK,
		Packet: out,
		Ctx:    req.Ctx,
	}
	out.SetCryptoErr(!res.OK)
	out.SetCryptoResult(res)
	return res, nil
}

// submit enqueues the op to the queue pair of the caller, and polls for
// its completion
func (e *Engine) submit(ctx context.Context, sl *slot, op *cryptodev.Op, out *packet.Packet, allocated bool) (cryptodev.OpStatus, error) {
	d := sl.dev
	id, ok := CallerID(ctx)
	if !ok {
		id = rand.Uint64()
	}
	qp := d.dev.QueuePair(int(id % uint64(d.qps)))
	if qp == nil {
		return 0, errors.Wrapf(ErrDeviceError, "no queue pair on %s", d.dev.Name())
	}

	op.Session = sl.native
	op.Src = out
	op.Submit()
	if qp.EnqueueBurst(cryptodev.OpVector{op}) != 1 {
		return 0, errors.Wrapf(ErrDeviceError, "enqueue rejected by %s, qp=%d", d.dev.Name(), qp.ID())
	}

	if !e.poll(qp, op, d.dev.Name()) {
		if allocated {
			// released with the op by the caller that dequeues it
			op.UserData = out
		}
		if op.Abandon() {
			logger.KV(xlog.WARNING,
				"reason", "timeout",
				"device", d.dev.Name(),
				"qp", qp.ID(),
				"retries", e.cfg.DequeueRetries)
			return 0, errors.Wrapf(ErrDeviceTimeout, "device %s, qp=%d", d.dev.Name(), qp.ID())
		}
		op.UserData = nil
	}
	return op.Status, nil
}

// poll dequeues completed ops from the queue pair until op is completed,
// or the retry budget is exhausted.
// Ops of other callers are marked completed for their owners,
// abandoned ops are reclaimed.
func (e *Engine) poll(qp cryptodev.QueuePair, op *cryptodev.Op, devName string) bool {
	defer metricskey.PerfDequeueWait.MeasureSince(time.Now(), devName)

	var burst [dequeueBurst]*cryptodev.Op
	retries := 0
	for !op.Completed() {
		n := qp.DequeueBurst(burst[:])
		for _, done := range burst[:n] {
			if !done.Complete() {
				reclaim(done)
			}
		}
		clear(burst[:n])

		if n == 0 {
			if retries >= e.cfg.DequeueRetries {
				return false
			}
			retries++
			time.Sleep(e.cfg.RetryInterval)
		}
	}
	return true
}

// sweep drains the queue pairs of all devices,
// and returns the number of reclaimed ops
func (e *Engine) sweep() int {
	var burst [dequeueBurst]*cryptodev.Op
	reclaimed := 0
	for _, d := range e.devices {
		for i := range d.qps {
			qp := d.dev.QueuePair(i)
			if qp == nil {
				continue
			}
			for {
				n := qp.DequeueBurst(burst[:])
				if n == 0 {
					break
				}
				for _, done := range burst[:n] {
					if !done.Complete() {
						reclaim(done)
						reclaimed++
					}
				}
				clear(burst[:n])
			}
		}
	}
	if reclaimed > 0 {
		logger.KV(xlog.DEBUG, "reason", "sweep", "reclaimed", reclaimed)
	}
	return reclaimed
}

// reclaim releases an op abandoned by its submitter
func reclaim(op *cryptodev.Op) {
	logger.KV(xlog.DEBUG, "reason", "reclaim", "status", op.Status)
	if pkt, ok := op.UserData.(*packet.Packet); ok {
		pkt.Free()
	}
	op.Free()
}

// outcomes maps the device status to the stage outcomes,
// any status other than success or auth failure fails both stages
func outcomes(status cryptodev.OpStatus) (Outcome, Outcome) {
	switch status {
	case cryptodev.OpStatusSuccess:
		return OutcomeOK, OutcomeOK
	case cryptodev.OpStatusAuthFailed:
		return OutcomeOK, OutcomeIntegrityCheckFailed
	}
	return OutcomeHardwareError, OutcomeHardwareError
}
