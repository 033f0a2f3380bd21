package runtime

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	rterrors "github.com/orizon-lang/bitactor/internal/errors"
	"github.com/orizon-lang/bitactor/internal/runtime/actor"
	"github.com/orizon-lang/bitactor/internal/runtime/clock"
	"github.com/orizon-lang/bitactor/internal/runtime/entangle"
)

func manifest(t *testing.T, code ...byte) *actor.Manifest {
	t.Helper()
	m, err := actor.NewManifest(0, code, "")
	require.NoError(t, err)
	return m
}

func newMatrix(t *testing.T, clk clock.Clock, domains, actors int, learningAfter uint32) *Matrix {
	t.Helper()
	m := NewMatrix(clk)
	for i := 0; i < domains; i++ {
		d, err := m.AddDomain(entangle.New(entangle.Config{}, clk, nil), learningAfter)
		require.NoError(t, err)
		for j := 0; j < actors; j++ {
			_, err := d.Spawn(manifest(t, 0x01, 0x02, 0x04))
			require.NoError(t, err)
		}
	}
	return m
}

func TestFeed_Update(t *testing.T) {
	f := newFeed()
	_, err := f.AddPattern(0b011)
	require.NoError(t, err)
	_, err = f.AddPattern(0b100)
	require.NoError(t, err)

	assert.Equal(t, 0, f.Update([]uint64{0b001}, 1))
	assert.False(t, f.Matched())
	idx, _ := f.LastMatch()
	assert.Equal(t, -1, idx)

	assert.Equal(t, 2, f.Update([]uint64{0b111}, 2))
	assert.True(t, f.Matched())
	idx, tick := f.LastMatch()
	assert.Equal(t, 1, idx)
	assert.Equal(t, uint64(2), tick)
	assert.Equal(t, uint64(2), f.Matches())

	_, err = f.AddPattern(0)
	assert.True(t, stderrors.Is(err, rterrors.ErrInvalidArgument))
	for i := 2; i < MaxPatterns; i++ {
		_, err = f.AddPattern(uint64(1) << uint(i+8))
		require.NoError(t, err)
	}
	_, err = f.AddPattern(1 << 40)
	assert.True(t, stderrors.Is(err, rterrors.ErrCapacity))
}

func TestMatrix_TickCounters(t *testing.T) {
	m := newMatrix(t, clock.NewManual(1), 1, 3, 0)
	for i := 0; i < 10; i++ {
		assert.Equal(t, 3, m.Tick(nil))
	}
	assert.Equal(t, uint64(10), m.GlobalTick())

	d, _ := m.Domain(0)
	for id := actor.ID(0); id < 3; id++ {
		a, ok := d.Actor(id)
		require.True(t, ok)
		assert.Equal(t, uint64(10), a.Ticks())
		assert.NotZero(t, a.Causal())
	}
	p := m.Perf()
	assert.Equal(t, uint64(30), p.Executions)
	assert.Equal(t, uint64(30), p.SubBudget)
	assert.Equal(t, 1.0, p.ComplianceRatio())
}

func TestMatrix_SignalsMarkPending(t *testing.T) {
	m := newMatrix(t, clock.NewManual(1), 1, 1, 0)
	d, _ := m.Domain(0)
	a, _ := d.Actor(0)

	m.Tick(nil)
	assert.False(t, a.Pending())
	m.Tick([]uint64{0xFF})
	assert.True(t, a.Pending())
}

func TestMatrix_InactiveDomainSkipped(t *testing.T) {
	m := newMatrix(t, clock.NewManual(1), 2, 2, 0)
	require.NoError(t, m.SetActive(1, false))
	assert.Equal(t, uint8(0b01), m.ActiveMask())
	assert.Equal(t, 2, m.Tick(nil))
	assert.Equal(t, uint64(1), m.GlobalTick())
}

func TestMatrix_TickParallel(t *testing.T) {
	defer goleak.VerifyNone(t)
	m := newMatrix(t, clock.NewMonotonic(), 4, 2, 0)

	n, err := m.TickParallel(context.Background(), []uint64{1})
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.Equal(t, uint64(1), m.GlobalTick())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.TickParallel(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMatrix_Limits(t *testing.T) {
	clk := clock.NewManual(1)
	m := newMatrix(t, clk, MaxDomains, 0, 0)
	_, err := m.AddDomain(nil, 0)
	assert.True(t, stderrors.Is(err, rterrors.ErrCapacity))
	_, err = m.Domain(MaxDomains)
	assert.True(t, stderrors.Is(err, rterrors.ErrInvalidHandle))

	d, _ := m.Domain(0)
	for i := 0; i < MaxActors; i++ {
		_, err := d.Spawn(nil)
		require.NoError(t, err)
	}
	_, err = d.Spawn(nil)
	assert.True(t, stderrors.Is(err, rterrors.ErrCapacity))
	assert.Equal(t, MaxActors, d.Len())

	d.Deactivate(200)
	assert.Equal(t, MaxActors-1, d.Len())
	_, err = m.Actor(Handle{Domain: 0, Index: 200})
	assert.True(t, stderrors.Is(err, rterrors.ErrInvalidHandle))
	require.NoError(t, d.Reset(200, nil))
	_, err = m.Actor(Handle{Domain: 0, Index: 200})
	assert.NoError(t, err)
}

func TestDomain_ViolationsDisableAdaptation(t *testing.T) {
	clk := clock.NewManual(actor.BudgetCycles + 1)
	m := newMatrix(t, clk, 1, 1, 2)
	d, _ := m.Domain(0)

	m.Tick(nil)
	assert.True(t, d.AdaptationEnabled(0))
	m.Tick(nil)
	assert.False(t, d.AdaptationEnabled(0))
	assert.Equal(t, uint64(2), d.Violations())

	_, err := d.Bus().RegisterDarkTriple(0, 0x01, 1)
	require.NoError(t, err)
	assert.Zero(t, d.Bus().ActivateDarkTriples(d, 0x01))

	d.EnableAdaptation(0)
	assert.Equal(t, 1, d.Bus().ActivateDarkTriples(d, 0x01))
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("a", Handle{0, 1}))
	require.NoError(t, r.Register("A", Handle{1, 1}), "names are case-sensitive")
	assert.True(t, stderrors.Is(r.Register("a", Handle{0, 2}), rterrors.ErrDuplicateName))
	assert.True(t, stderrors.Is(r.Register("", Handle{}), rterrors.ErrInvalidArgument))

	h, ok := r.Lookup("A")
	assert.True(t, ok)
	assert.Equal(t, Handle{1, 1}, h)
	name, ok := r.Name(Handle{0, 1})
	assert.True(t, ok)
	assert.Equal(t, "a", name)

	assert.True(t, r.Unregister("a"))
	assert.False(t, r.Unregister("a"))
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, "1/1", h.String())
}

func TestTrinityHash_Deterministic(t *testing.T) {
	a := newMatrix(t, clock.NewManual(1), 2, 3, 0)
	b := newMatrix(t, clock.NewManual(1), 2, 3, 0)
	for i := 0; i < 5; i++ {
		a.Tick([]uint64{uint64(i)})
		b.Tick([]uint64{uint64(i)})
	}
	assert.Equal(t, TrinityHash(a), TrinityHash(b))

	d, _ := b.Domain(1)
	x, _ := d.Actor(2)
	x.Apply(0x80)
	assert.NotEqual(t, TrinityHash(a), TrinityHash(b))
}

func TestDomain_Broadcast(t *testing.T) {
	m := newMatrix(t, clock.NewManual(1), 1, 20, 0)
	d, _ := m.Domain(0)
	d.Deactivate(3)
	a, _ := d.Actor(0)
	a.Apply(0x0F)

	assert.Equal(t, 19, d.Broadcast(0xF0))
	assert.Equal(t, uint8(0xFF), a.Meaning())
	b, _ := d.Actor(19)
	assert.Equal(t, uint8(0xF0), b.Meaning())
	assert.Equal(t, uint64(0xF0), b.Causal())
	assert.Zero(t, d.actors[3].Meaning())
}
