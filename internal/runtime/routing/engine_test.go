package routing

import (
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	rterrors "github.com/orizon-lang/bitactor/internal/errors"
	"github.com/orizon-lang/bitactor/internal/runtime/clock"
)

func newEngine(t *testing.T, cfg Config) (*Engine, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(1)
	clk.Advance(time.Millisecond)
	return NewEngine(cfg, clk, zaptest.NewLogger(t)), clk
}

func send(t *testing.T, e *Engine, target MailboxID, prio uint8, payload ...byte) error {
	t.Helper()
	m, err := NewMessage(0, target, MsgData, prio, payload)
	require.NoError(t, err)
	return e.Route(&m)
}

func TestMailbox_Registry(t *testing.T) {
	e, _ := newEngine(t, Config{MaxMailboxes: 2})
	a, err := e.CreateMailbox("a")
	require.NoError(t, err)
	_, err = e.CreateMailbox("a")
	assert.True(t, stderrors.Is(err, rterrors.ErrDuplicateName))
	b, err := e.CreateMailbox("b")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	_, err = e.CreateMailbox("c")
	assert.True(t, stderrors.Is(err, rterrors.ErrCapacity))

	id, ok := e.Lookup("b")
	assert.True(t, ok)
	assert.Equal(t, b, id)
	_, ok = e.Lookup("zz")
	assert.False(t, ok)

	assert.True(t, stderrors.Is(send(t, e, 99, 0), rterrors.ErrInvalidHandle))
}

func TestRoute_PriorityOrder(t *testing.T) {
	e, _ := newEngine(t, Config{})
	mb, _ := e.CreateMailbox("mb")

	require.NoError(t, send(t, e, mb, 3, 'c'))
	require.NoError(t, send(t, e, mb, 7, 'z'))
	require.NoError(t, send(t, e, mb, 0, 'a'))
	require.NoError(t, send(t, e, mb, 3, 'd'))

	var got []byte
	for {
		m, ok := e.Dequeue(mb)
		if !ok {
			break
		}
		assert.Equal(t, uint8(1), m.Attempts)
		got = append(got, m.Bytes()[0])
	}
	assert.Equal(t, []byte("acdz"), got)
	assert.Equal(t, uint64(4), e.Stats().Delivered)
}

func TestRoute_BackpressureAndDeadLetters(t *testing.T) {
	e, _ := newEngine(t, Config{RingCapacity: 16, DeadLetterCapacity: 2})
	mb, _ := e.CreateMailbox("mb")

	// 96 of 128 slots: priorities 3..7 and 0 filled.
	for _, p := range []uint8{3, 4, 5, 6, 7, 0} {
		for i := 0; i < 16; i++ {
			require.NoError(t, send(t, e, mb, p))
		}
	}
	assert.Equal(t, 96, e.Depth(mb))

	err := send(t, e, mb, 7)
	assert.True(t, stderrors.Is(err, rterrors.ErrBackpressure))
	cat, ok := rterrors.CategoryOf(err)
	assert.True(t, ok)
	assert.Equal(t, rterrors.CategoryCapacity, cat)

	// High priorities are never shed.
	for i := 0; i < 16; i++ {
		require.NoError(t, send(t, e, mb, 1))
	}
	assert.Equal(t, rterrors.ErrDeadLettered, send(t, e, mb, 1))
	assert.Equal(t, rterrors.ErrDeadLettered, send(t, e, mb, 0))
	assert.Equal(t, rterrors.ErrDeadLetterFull, send(t, e, mb, 0))

	st := e.Stats()
	assert.Equal(t, uint64(1), st.Backpressured)
	assert.Equal(t, uint64(2), st.DeadLettered)
	assert.Equal(t, uint64(1), st.DeadLetterDropped)
	assert.Len(t, e.DeadLetters(mb), 2)
	assert.Empty(t, e.DeadLetters(mb))
}

func TestRoute_QueueDepthStamped(t *testing.T) {
	e, _ := newEngine(t, Config{})
	mb, _ := e.CreateMailbox("mb")
	for i := 0; i < 3; i++ {
		require.NoError(t, send(t, e, mb, 4))
	}
	for i := uint32(0); i < 3; i++ {
		m, ok := e.Dequeue(mb)
		require.True(t, ok)
		assert.Equal(t, i, m.QueueDepth)
		assert.True(t, m.Valid())
		assert.NotZero(t, m.ID)
	}
}

func TestDequeue_ExpiredAndCorrupted(t *testing.T) {
	e, clk := newEngine(t, Config{DefaultTTL: 10 * time.Millisecond})
	mb, _ := e.CreateMailbox("mb")

	require.NoError(t, send(t, e, mb, 2, 1))
	clk.Advance(20 * time.Millisecond)
	_, ok := e.Dequeue(mb)
	assert.False(t, ok)
	assert.Equal(t, uint64(1), e.Stats().Expired)

	require.NoError(t, send(t, e, mb, 3, 7))
	box, err := e.Mailbox(mb)
	require.NoError(t, err)
	m, ok := box.rings[3].Pop()
	require.True(t, ok)
	m.Payload[0] ^= 0x01
	require.True(t, box.rings[3].Push(m))

	_, ok = e.Dequeue(mb)
	assert.False(t, ok)
	assert.Equal(t, uint64(1), e.Stats().Corrupted)
	assert.Len(t, e.DeadLetters(mb), 2)
}

func TestRoute_CircuitBreaker(t *testing.T) {
	e, clk := newEngine(t, Config{BreakerThreshold: 2, BreakerResetTimeout: time.Second})
	mb, _ := e.CreateMailbox("flaky")

	assert.Equal(t, BreakerClosed, e.RecordFailure(mb))
	assert.Equal(t, BreakerOpen, e.RecordFailure(mb))
	st, failures := e.Breaker(mb)
	assert.Equal(t, BreakerOpen, st)
	assert.Equal(t, uint32(2), failures)

	err := send(t, e, mb, 0)
	assert.True(t, stderrors.Is(err, rterrors.ErrCircuitOpen))

	clk.Advance(time.Second)
	require.NoError(t, send(t, e, mb, 0), "trial allowed")
	st, _ = e.Breaker(mb)
	assert.Equal(t, BreakerHalfOpen, st)
	assert.True(t, stderrors.Is(send(t, e, mb, 0), rterrors.ErrCircuitOpen), "one trial at a time")

	assert.Equal(t, BreakerOpen, e.RecordFailure(mb))
	clk.Advance(time.Second)
	require.NoError(t, send(t, e, mb, 0))
	e.RecordSuccess(mb)
	st, failures = e.Breaker(mb)
	assert.Equal(t, BreakerClosed, st)
	assert.Zero(t, failures)
	require.NoError(t, send(t, e, mb, 0))
	assert.Equal(t, uint64(2), e.Stats().CircuitRejected)
}

func TestRoute_HalfOpenTrialRecovery(t *testing.T) {
	e, clk := newEngine(t, Config{RingCapacity: 2, BreakerThreshold: 1, BreakerResetTimeout: time.Second})
	mb, _ := e.CreateMailbox("slow")
	require.NoError(t, send(t, e, mb, 0))
	require.NoError(t, send(t, e, mb, 0))
	assert.Equal(t, BreakerOpen, e.RecordFailure(mb))

	// A trial that never reaches the ring frees the slot.
	clk.Advance(time.Second)
	assert.Equal(t, rterrors.ErrDeadLettered, send(t, e, mb, 0))
	assert.Equal(t, rterrors.ErrDeadLettered, send(t, e, mb, 0))
	st, _ := e.Breaker(mb)
	assert.Equal(t, BreakerHalfOpen, st)

	_, ok := e.Dequeue(mb)
	require.True(t, ok)
	_, ok = e.Dequeue(mb)
	require.True(t, ok)

	// A delivered trial with no reported outcome expires after a reset period.
	require.NoError(t, send(t, e, mb, 0))
	assert.True(t, stderrors.Is(send(t, e, mb, 0), rterrors.ErrCircuitOpen))
	clk.Advance(time.Second)
	require.NoError(t, send(t, e, mb, 0))
	e.RecordSuccess(mb)
	st, _ = e.Breaker(mb)
	assert.Equal(t, BreakerClosed, st)
	assert.Equal(t, uint64(1), e.Stats().CircuitRejected)
}

func TestMessage_PayloadLimit(t *testing.T) {
	_, err := NewMessage(1, 2, MsgCast, 0, make([]byte, MaxPayload+1))
	assert.True(t, stderrors.Is(err, rterrors.ErrCapacity))
	m, err := NewMessage(1, 2, MsgCast, 0, []byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), m.Bytes())
	assert.Equal(t, "cast", m.Type.String())
	assert.Equal(t, "unknown", MessageType(200).String())
}
