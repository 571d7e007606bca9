package cli

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/x/slices"
	"github.com/effective-security/xcryptodev/cryptodev"
	"github.com/effective-security/xcryptodev/engine"
	"github.com/effective-security/xcryptodev/event"
	"github.com/effective-security/xcryptodev/packet"
	"github.com/effective-security/xlog"
	"golang.org/x/crypto/hkdf"
)

// selftestCase describes a known answer round trip
type selftestCase struct {
	name      string
	cipher    engine.CipherAlg
	cipherKey int
	cipherIV  int
	auth      engine.AuthAlg
	authKey   int
	authIV    int
	digest    int
	aad       int
	size      int
}

var selftestCases = []selftestCase{
	{name: "null", size: 33},
	{name: "aes-cbc/sha256-hmac", cipher: engine.CipherAESCBC, cipherKey: 16, cipherIV: 16, auth: engine.AuthSHA256HMAC, authKey: 32, digest: 16, size: 64},
	{name: "aes-ctr/sha1-hmac", cipher: engine.CipherAESCTR, cipherKey: 32, cipherIV: 16, auth: engine.AuthSHA1HMAC, authKey: 20, digest: 12, size: 50},
	{name: "3des-cbc/md5-hmac", cipher: engine.Cipher3DESCBC, cipherKey: 24, cipherIV: 8, auth: engine.AuthMD5HMAC, authKey: 16, digest: 12, size: 64},
	{name: "aes-gcm", cipher: engine.CipherAESGCM, cipherKey: 16, cipherIV: 12, auth: engine.AuthAESGCM, digest: 16, aad: 8, size: 100},
	{name: "aes-ccm", cipher: engine.CipherAESCCM, cipherKey: 16, cipherIV: 11, auth: engine.AuthAESCCM, digest: 8, aad: 8, size: 100},
	{name: "chacha20-poly1305", cipher: engine.CipherChaCha20Poly1305, cipherKey: 32, cipherIV: 12, auth: engine.AuthChaCha20Poly1305, digest: 16, aad: 12, size: 100},
	{name: "aes-gmac", auth: engine.AuthAESGMAC, authKey: 16, authIV: 12, digest: 16, size: 70},
	{name: "aes-cmac", auth: engine.AuthAESCMAC, authKey: 16, digest: 12, size: 70},
	{name: "snow3g-uea2", cipher: engine.CipherSnow3GUEA2, cipherKey: 16, cipherIV: 16, size: 40},
}

// material is the key material of a test case
type material struct {
	cipherKey []byte
	cipherIV  []byte
	authKey   []byte
	authIV    []byte
	aad       []byte
	plain     []byte
}

// derive expands the secret into the key material of the case
func (tc *selftestCase) derive(secret []byte) (*material, error) {
	r := hkdf.New(sha256.New, secret, nil, []byte(tc.name))
	m := &material{
		cipherKey: make([]byte, tc.cipherKey),
		cipherIV:  make([]byte, tc.cipherIV),
		authKey:   make([]byte, tc.authKey),
		authIV:    make([]byte, tc.authIV),
		aad:       make([]byte, tc.aad),
		plain:     make([]byte, tc.size),
	}
	for _, b := range [][]byte{m.cipherKey, m.cipherIV, m.authKey, m.authIV, m.aad, m.plain} {
		if _, err := io.ReadFull(r, b); err != nil {
			return nil, errors.WithMessage(err, "unable to derive key material")
		}
	}
	return m, nil
}

func (tc *selftestCase) params(op engine.SessionOp, m *material) *engine.SessionParams {
	return &engine.SessionParams{
		Op:             op,
		AuthCipherText: true,
		CipherAlg:      tc.cipher,
		CipherKey:      m.cipherKey,
		CipherIV:       engine.IV{Length: tc.cipherIV, Data: m.cipherIV},
		AuthAlg:        tc.auth,
		AuthKey:        m.authKey,
		AuthIV:         engine.IV{Length: tc.authIV, Data: m.authIV},
		AuthDigestLen:  tc.digest,
		AuthAADLen:     tc.aad,
	}
}

// SelftestCmd runs round trips of the supported algorithms
type SelftestCmd struct {
	Case   []string `help:"names of the tests to run, all by default"`
	Secret string   `help:"secret to derive the key material from" default:"cryptodev-tool selftest"`
	Async  bool     `help:"use async sessions with a completion queue"`
}

// Run the command
func (a *SelftestCmd) Run(ctx *Cli) error {
	e, err := ctx.Engine()
	if err != nil {
		return err
	}

	out := ctx.Writer()
	failed, total := 0, 0
	for i := range selftestCases {
		tc := &selftestCases[i]
		if len(a.Case) > 0 && !slices.ContainsString(a.Case, tc.name) {
			continue
		}
		total++

		device, err := a.runCase(ctx.Context(), e, tc)
		switch {
		case err == nil:
			fmt.Fprintf(out, "%-22s passed   %s\n", tc.name, device)
		case errors.Is(err, errUnsupported):
			fmt.Fprintf(out, "%-22s skipped  not supported\n", tc.name)
		default:
			failed++
			logger.KV(xlog.ERROR, "test", tc.name, "err", err)
			fmt.Fprintf(out, "%-22s FAILED   %s\n", tc.name, err.Error())
		}
	}

	if total == 0 {
		return errors.Errorf("no tests found: %v", a.Case)
	}
	if failed > 0 {
		return errors.Errorf("selftest failed: %d of %d", failed, total)
	}
	return nil
}

var errUnsupported = errors.New("not supported")

// runCase seals, opens and tampers with a payload,
// and returns the name of the device the sessions were created on
func (a *SelftestCmd) runCase(ctx context.Context, e *engine.Engine, tc *selftestCase) (string, error) {
	m, err := tc.derive([]byte(a.Secret))
	if err != nil {
		return "", err
	}

	var q *event.Queue
	if a.Async {
		q = event.NewQueue(tc.name, 4)
		defer q.Close()
	}

	enc, err := a.createSession(e, tc.params(engine.OpEncode, m), q)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = e.DestroySession(enc)
	}()

	dec, err := a.createSession(e, tc.params(engine.OpDecode, m), q)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = e.DestroySession(dec)
	}()

	si, err := e.SessionInfo(enc)
	if err != nil {
		return "", err
	}

	data := append(append([]byte{}, m.plain...), make([]byte, tc.digest)...)
	sealed, err := a.operate(ctx, e, enc, q, tc, data, m.aad, engine.OutcomeOK)
	if err != nil {
		return "", errors.WithMessage(err, "encode")
	}
	if tc.cipher != engine.CipherNull && bytes.Equal(sealed[:tc.size], m.plain) {
		return "", errors.New("cipher text equals plain text")
	}

	opened, err := a.operate(ctx, e, dec, q, tc, sealed, m.aad, engine.OutcomeOK)
	if err != nil {
		return "", errors.WithMessage(err, "decode")
	}
	if !bytes.Equal(opened[:tc.size], m.plain) {
		return "", errors.New("decoded text does not match")
	}

	if tc.digest > 0 {
		sealed[tc.size] ^= 0x01
		_, err = a.operate(ctx, e, dec, q, tc, sealed, m.aad, engine.OutcomeIntegrityCheckFailed)
		if err != nil {
			return "", errors.WithMessage(err, "tamper")
		}
	}
	return si.Device, nil
}

func (a *SelftestCmd) createSession(e *engine.Engine, p *engine.SessionParams, q *event.Queue) (engine.Session, error) {
	if q != nil {
		p.OpMode = engine.OpModeAsync
		p.ComplQueue = q
		p.OutputPool = packet.NewPool(q.Name(), q.Cap())
	}
	s, err := e.CreateSession(p)
	if err != nil {
		if errors.Is(err, engine.ErrResourceExhausted) {
			return s, errors.Mark(err, errUnsupported)
		}
		return s, err
	}
	return s, nil
}

// operate processes data on the session, checks the auth outcome,
// and returns the output
func (a *SelftestCmd) operate(ctx context.Context, e *engine.Engine, s engine.Session, q *event.Queue,
	tc *selftestCase, data, aad []byte, expected engine.Outcome) ([]byte, error) {
	in := packet.New(append([]byte{}, data...))
	req := engine.OpRequest{
		Packet:           in,
		CipherRange:      cryptodev.DataRange{Length: tc.size},
		AuthRange:        cryptodev.DataRange{Length: tc.size},
		HashResultOffset: tc.size,
		AAD:              aad,
	}

	var res engine.OpResult
	if q == nil {
		req.Out = in
		results, err := e.OperateSync(ctx, s, []engine.OpRequest{req})
		if err != nil {
			return nil, err
		}
		res = results[0]
	} else {
		if _, err := e.OperateAsync(ctx, s, []engine.OpRequest{req}); err != nil {
			return nil, err
		}
		ev, err := q.Wait(ctx)
		if err != nil {
			return nil, err
		}
		r, ok := ev.Result.(engine.OpResult)
		if !ok {
			ev.Free()
			return nil, errors.Errorf("unexpected completion: %T", ev.Result)
		}
		res = r
	}
	defer res.Packet.Free()

	if res.Cipher != engine.OutcomeOK || res.Auth != expected {
		return nil, errors.Errorf("unexpected result: cipher=%s, auth=%s", res.Cipher, res.Auth)
	}
	return append([]byte{}, res.Packet.Data()...), nil
}
