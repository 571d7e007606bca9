package engine

import (
	"math/rand/v2"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xcryptodev/cryptodev"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionPool(t *testing.T) {
	p := newSessionPool(2)
	assert.Equal(t, 2, p.capacity())

	_, err := p.lookup(Session{})
	assert.True(t, errors.Is(err, ErrInvalidSession))
	_, err = p.lookup(Session{idx: 5, gen: 1})
	assert.True(t, errors.Is(err, ErrInvalidSession))

	sl0, err := p.alloc()
	require.NoError(t, err)
	assert.Equal(t, 0, sl0.idx)
	sl1, err := p.alloc()
	require.NoError(t, err)
	assert.Equal(t, 1, sl1.idx)
	_, err = p.alloc()
	assert.True(t, errors.Is(err, ErrResourceExhausted))
	assert.Equal(t, PoolStats{Capacity: 2, Free: 0, Live: 2}, p.stats())

	// not live until commit
	_, err = p.lookup(sl0.handle())
	assert.True(t, errors.Is(err, ErrInvalidSession))

	s0 := p.commit(sl0)
	assert.Equal(t, Session{idx: 0, gen: 1}, s0)
	found, err := p.lookup(s0)
	require.NoError(t, err)
	assert.Same(t, sl0, found)

	sl0.params.CipherKey = []byte{1, 2, 3}
	key := sl0.params.CipherKey
	claimed, err := p.claim(s0)
	require.NoError(t, err)
	_, err = p.claim(s0)
	assert.True(t, errors.Is(err, ErrInvalidSession))
	p.release(claimed)
	assert.Equal(t, []byte{0, 0, 0}, key)
	assert.Nil(t, sl0.params.CipherKey)

	_, err = p.lookup(s0)
	assert.True(t, errors.Is(err, ErrInvalidSession))
	assert.Equal(t, PoolStats{Capacity: 2, Free: 1, Live: 1}, p.stats())

	// reused slot gets a new generation
	sl, err := p.alloc()
	require.NoError(t, err)
	assert.Same(t, sl0, sl)
	s := p.commit(sl)
	assert.Equal(t, Session{idx: 0, gen: 3}, s)
	_, err = p.lookup(s0)
	assert.True(t, errors.Is(err, ErrInvalidSession))
}

func TestSessionPoolRandom(t *testing.T) {
	const capacity = 16
	p := newSessionPool(capacity)
	rnd := rand.New(rand.NewPCG(1, 2))

	var live []Session
	for range 2000 {
		if rnd.IntN(2) == 0 {
			sl, err := p.alloc()
			if len(live) == capacity {
				require.True(t, errors.Is(err, ErrResourceExhausted))
				continue
			}
			require.NoError(t, err)
			live = append(live, p.commit(sl))
		} else if len(live) > 0 {
			i := rnd.IntN(len(live))
			sl, err := p.claim(live[i])
			require.NoError(t, err)
			p.release(sl)
			_, err = p.lookup(live[i])
			require.True(t, errors.Is(err, ErrInvalidSession))
			live = append(live[:i], live[i+1:]...)
		}

		stats := p.stats()
		require.Equal(t, capacity, stats.Free+stats.Live)
		require.Equal(t, len(live), stats.Live)

		seen := map[int]bool{}
		for _, s := range live {
			require.False(t, seen[s.idx], "slot %d is referenced twice", s.idx)
			seen[s.idx] = true
			_, err := p.lookup(s)
			require.NoError(t, err)
		}
	}
}

func TestSessionLifecycle(t *testing.T) {
	e, dev := fakeEngine(t)

	params := &SessionParams{
		CipherAlg:     CipherAESCBC,
		CipherKey:     []byte("0123456789abcdef"),
		CipherIV:      IV{Length: 16, Data: []byte("fedcba9876543210")},
		AuthAlg:       AuthSHA256128,
		AuthKey:       make([]byte, 32),
		AuthDigestLen: 8,
	}

	var handles []Session
	for range 4 {
		s, err := e.CreateSession(params)
		require.NoError(t, err)
		handles = append(handles, s)
	}
	assert.Equal(t, PoolStats{Capacity: 4, Free: 0, Live: 4}, e.Stats())

	_, err := e.CreateSession(params)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrResourceExhausted))
	assert.Equal(t, CreateErrResource, CreateErrorCode(err))

	require.NoError(t, e.DestroySession(handles[1]))
	assert.True(t, errors.Is(e.DestroySession(handles[1]), ErrInvalidSession))
	_, err = e.SessionInfo(handles[1])
	assert.True(t, errors.Is(err, ErrInvalidSession))

	s, err := e.CreateSession(params)
	require.NoError(t, err)
	assert.NotEqual(t, handles[1], s)
	handles[1] = s

	// params are copied into the session
	sl, err := e.pool.lookup(s)
	require.NoError(t, err)
	assert.Equal(t, params.CipherKey, sl.params.CipherKey)
	params.CipherKey[0] = 'x'
	assert.Equal(t, byte('0'), sl.params.CipherKey[0])
	assert.True(t, sl.hasCipherIV)
	assert.False(t, sl.hasAuthIV)
	assert.Equal(t, []byte("fedcba9876543210"), sl.cipherIV[:])
	// alias fixes the digest length
	assert.Equal(t, AuthSHA256HMAC, sl.params.AuthAlg)
	assert.Equal(t, 16, sl.params.AuthDigestLen)

	sessions := dev.Sessions()
	require.Len(t, sessions, 5)
	native := sessions[4]
	assert.Equal(t, 16, native.Xform.Find(cryptodev.XformAuth).Auth.DigestLength)

	key := sl.params.CipherKey
	require.NoError(t, e.DestroySession(s))
	assert.True(t, native.Cleared)
	assert.True(t, native.Freed)
	assert.Equal(t, make([]byte, 16), key)

	for _, h := range handles {
		if h != s {
			require.NoError(t, e.DestroySession(h))
		}
	}
	assert.Equal(t, 0, dev.LiveSessions())
	assert.Equal(t, PoolStats{Capacity: 4, Free: 4}, e.Stats())
}

func TestSessionCreateErrors(t *testing.T) {
	e, dev := fakeEngine(t)

	_, err := e.CreateSession(&SessionParams{CipherAlg: CipherAESCBC, CipherKey: make([]byte, 16), CipherIV: IV{Length: 16, Data: []byte{1}}})
	assert.True(t, errors.Is(err, ErrInvalidCipherSpec))
	assert.Equal(t, CreateErrInvCipher, CreateErrorCode(err))

	_, err = e.CreateSession(&SessionParams{AuthAlg: AuthAESGMAC, AuthIV: IV{Length: -1}})
	assert.True(t, errors.Is(err, ErrInvalidAuthSpec))

	_, err = e.CreateSession(&SessionParams{AuthAlg: AuthSHA1HMAC, AuthDigestLen: 100})
	assert.True(t, errors.Is(err, ErrInvalidAuthSpec))
	assert.Equal(t, CreateErrInvAuth, CreateErrorCode(err))

	dev.CreateErr = errors.New("no space")
	_, err = e.CreateSession(DefaultSessionParams())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrResourceExhausted))
	assert.Contains(t, err.Error(), "no space")
	dev.CreateErr = nil

	assert.Equal(t, PoolStats{Capacity: 4, Free: 4}, e.Stats())

	s, err := e.CreateSession(DefaultSessionParams())
	require.NoError(t, err)
	dev.FreeErr = errors.New("busy")
	err = e.DestroySession(s)
	assert.True(t, errors.Is(err, ErrDeviceError))
	// the handle is released regardless
	assert.True(t, errors.Is(e.DestroySession(s), ErrInvalidSession))
	assert.Equal(t, PoolStats{Capacity: 4, Free: 4}, e.Stats())
	dev.FreeErr = nil

	// failed clear still frees the native session
	s, err = e.CreateSession(DefaultSessionParams())
	require.NoError(t, err)
	live := dev.LiveSessions()
	dev.ClearErr = errors.New("stuck")
	err = e.DestroySession(s)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDeviceError))
	assert.Contains(t, err.Error(), "unable to clear")
	assert.Equal(t, live-1, dev.LiveSessions())
	assert.Equal(t, PoolStats{Capacity: 4, Free: 4}, e.Stats())

	// both failures are reported
	s, err = e.CreateSession(DefaultSessionParams())
	require.NoError(t, err)
	dev.FreeErr = errors.New("busy")
	err = e.DestroySession(s)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDeviceError))
	assert.Contains(t, err.Error(), "unable to clear")
	assert.Contains(t, err.Error(), "unable to free")
	assert.Equal(t, PoolStats{Capacity: 4, Free: 4}, e.Stats())
}
