package runtime

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/orizon-lang/bitactor/internal/config"
	rterrors "github.com/orizon-lang/bitactor/internal/errors"
	"github.com/orizon-lang/bitactor/internal/runtime/actor"
	"github.com/orizon-lang/bitactor/internal/runtime/bidi"
	"github.com/orizon-lang/bitactor/internal/runtime/clock"
	"github.com/orizon-lang/bitactor/internal/runtime/routing"
	"github.com/orizon-lang/bitactor/internal/runtime/supervision"
)

func newTestSystem(t *testing.T, step uint64, mutate func(*config.Config)) *System {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	s, err := NewSystem(cfg, clock.NewManual(step), zaptest.NewLogger(t))
	require.NoError(t, err)
	return s
}

func spawn(t *testing.T, s *System, name string, domain int) Handle {
	t.Helper()
	h, err := s.Spawn(ActorSpec{Name: name, Domain: domain, Policy: supervision.Permanent})
	require.NoError(t, err)
	return h
}

func step(t *testing.T, s *System, signals ...uint64) StepResult {
	t.Helper()
	res, err := s.Step(context.Background(), signals)
	require.NoError(t, err)
	return res
}

func TestSystem_SpawnErrors(t *testing.T) {
	s := newTestSystem(t, 1, func(c *config.Config) { c.Runtime.Domains = 2 })
	spawn(t, s, "a", 0)
	spawn(t, s, "b", 1)

	_, err := s.Spawn(ActorSpec{Name: "a"})
	assert.True(t, stderrors.Is(err, rterrors.ErrDuplicateName))
	_, err = s.Spawn(ActorSpec{Name: "x", Domain: 5})
	assert.True(t, stderrors.Is(err, rterrors.ErrInvalidHandle))

	err = s.Connect("a", "missing", 0xFF, 0)
	assert.True(t, stderrors.Is(err, rterrors.ErrNotFound))
	_, err = s.Actor("missing")
	assert.True(t, stderrors.Is(err, rterrors.ErrNotFound))
}

func TestSystem_CastAndPropagation(t *testing.T) {
	s := newTestSystem(t, 1, nil)
	spawn(t, s, "a", 0)
	spawn(t, s, "b", 0)
	spawn(t, s, "c", 0)
	require.NoError(t, s.Connect("a", "b", 0xFF, 0))
	require.NoError(t, s.Connect("b", "c", 0xFF, 0))

	require.NoError(t, s.Cast("a", 1, []byte{0x01}))
	res := step(t, s)
	assert.Equal(t, 3, res.Executed)
	assert.Equal(t, 1, res.Dispatched)
	assert.Zero(t, res.Propagated)

	// a's causal vector now has odd parity, so action-bind forwards its
	// state down the chain.
	res = step(t, s)
	assert.Equal(t, uint64(2), res.Tick)
	assert.Equal(t, 1, res.Propagated)
	assert.Equal(t, 2, res.Delivered)

	c, err := s.Actor("c")
	require.NoError(t, err)
	assert.Equal(t, uint8(0x01), c.Meaning)
	assert.True(t, c.Pending)

	bs := s.Matrix().domains[0].Bus().Stats()
	assert.Equal(t, uint64(2), bs.Propagations)
	assert.Equal(t, uint64(2), bs.Delivered)
}

func TestSystem_CrossDomainPropagation(t *testing.T) {
	s := newTestSystem(t, 1, func(c *config.Config) { c.Runtime.Domains = 2 })
	spawn(t, s, "a", 0)
	hb := spawn(t, s, "b", 1)
	hc := spawn(t, s, "c", 1)
	require.NoError(t, s.Connect("a", "b", 0xFF, 0))
	require.NoError(t, s.Connect("b", "c", 0xFF, 0))

	d0, _ := s.Matrix().Domain(0)
	conns := d0.Bus().Connections()
	require.Len(t, conns, 1)
	assert.Equal(t, hb.Domain, conns[0].TargetDomain)
	assert.Equal(t, hb.Index, conns[0].Target)

	require.NoError(t, s.Cast("a", 1, []byte{0x01}))
	step(t, s)
	res := step(t, s)
	assert.Equal(t, 1, res.Propagated)
	assert.Equal(t, 2, res.Delivered)

	c, err := s.Actor("c")
	require.NoError(t, err)
	assert.Equal(t, hc.Index, c.ID)
	assert.Equal(t, uint8(0x01), c.Meaning)
	assert.True(t, c.Pending)

	// The hop budget spans domains: one hop spent reaching b.
	hops := uint8(s.cfg.Runtime.MaxHops)
	assert.Equal(t, hops-1, d0.Bus().Connections()[0].HopCount)
	d1, _ := s.Matrix().Domain(1)
	assert.Equal(t, hops-2, d1.Bus().Connections()[0].HopCount)
	assert.Equal(t, uint64(2), d1.Bus().Stats().Delivered)
	assert.Zero(t, d0.Bus().Stats().Delivered)

	edges := s.Graph()
	require.Len(t, edges, 2)
	assert.Equal(t, 0, edges[0].Domain)
	assert.Equal(t, 1, edges[0].TargetDomain)
	assert.Equal(t, "b", edges[0].Target)
}

func TestSystem_InjectHopBudget(t *testing.T) {
	s := newTestSystem(t, 1, nil)
	spawn(t, s, "a", 0)
	spawn(t, s, "b", 0)
	require.NoError(t, s.Connect("a", "b", 0x0F, 0))

	_, err := s.Inject("a", 0x01, 0)
	assert.True(t, stderrors.Is(err, rterrors.ErrHopsExhausted))
	cat, ok := rterrors.CategoryOf(err)
	require.True(t, ok)
	assert.Equal(t, rterrors.CategoryPropagation, cat)

	_, err = s.Inject("a", 0x01, 9)
	assert.True(t, stderrors.Is(err, rterrors.ErrInvalidArgument))
	_, err = s.Inject("zz", 0x01, 1)
	assert.True(t, stderrors.Is(err, rterrors.ErrNotFound))

	n, err := s.Inject("a", 0xF0, 0)
	require.NoError(t, err, "no matching edge is not a rejection")
	assert.Zero(t, n)

	n, err = s.Inject("a", 0x02, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	res := step(t, s)
	assert.GreaterOrEqual(t, res.Delivered, 1)
	b, err := s.Actor("b")
	require.NoError(t, err)
	assert.Equal(t, uint8(0x02), b.Meaning&0x02)
}

func TestSystem_DarkTriggerFoldsWideSignals(t *testing.T) {
	s := newTestSystem(t, 1, nil)
	spawn(t, s, "a", 0)
	_, err := s.RegisterDarkTriple("a", 0x01, 1)
	require.NoError(t, err)

	assert.Equal(t, uint8(0x01), foldSignal(0x0100))
	assert.Equal(t, uint8(0x00), foldSignal(0x0101))
	res := step(t, s, 0x0100)
	assert.Equal(t, 1, res.Activated)
}

func TestSystem_CallReturnsMeaning(t *testing.T) {
	s := newTestSystem(t, 1, nil)
	spawn(t, s, "a", 0)
	require.NoError(t, s.Cast("a", 1, []byte{0x01}))
	step(t, s)

	gid, err := s.GenActor("a")
	require.NoError(t, err)
	ga, err := s.Supervision().Actor(gid)
	require.NoError(t, err)
	caller, err := s.Router().CreateMailbox("caller")
	require.NoError(t, err)

	msg, err := routing.NewMessage(caller, ga.Mailbox, routing.MsgCall, 1, nil)
	require.NoError(t, err)
	msg.CorrelationID = 42
	require.NoError(t, s.Router().Route(&msg))
	res := step(t, s)
	assert.Equal(t, 1, res.Dispatched)

	reply, ok := s.Router().Dequeue(caller)
	require.True(t, ok)
	assert.Equal(t, uint64(42), reply.CorrelationID)
	require.Len(t, reply.Bytes(), 1)
	assert.Equal(t, uint8(0x01), reply.Bytes()[0])
}

func TestSystem_FailureRoundTrip(t *testing.T) {
	s := newTestSystem(t, 1, nil)
	spawn(t, s, "w", 0)
	step(t, s)
	before, _ := s.Actor("w")
	require.Equal(t, uint64(1), before.Ticks)

	require.NoError(t, s.ReportFailure("w", supervision.ReasonCrash))
	res := step(t, s)
	require.Len(t, res.Decisions, 1)
	assert.Equal(t, supervision.ActionRestart, res.Decisions[0].Action)
	assert.Equal(t, supervision.ReasonCrash, res.Decisions[0].Reason)

	// restart reloads the actor after this step's tick
	after, err := s.Actor("w")
	require.NoError(t, err)
	assert.Zero(t, after.Ticks)

	cs := s.Channel().Stats()
	assert.Equal(t, uint64(1), cs.Sent[bidi.ToSupervision])
	assert.Equal(t, uint64(1), cs.Requests)
	assert.Equal(t, uint64(1), cs.Responses)

	gid, _ := s.GenActor("w")
	ga, _ := s.Supervision().Actor(gid)
	state, failures := s.Router().Breaker(ga.Mailbox)
	assert.Equal(t, routing.BreakerClosed, state)
	assert.Zero(t, failures)
	assert.Equal(t, uint64(1), s.Supervision().Stats().Restarts)
}

func TestSystem_FailuresDecidedWithSmallChannel(t *testing.T) {
	s := newTestSystem(t, 1, func(c *config.Config) { c.Bidi.RingCapacity = 2 })
	names := []string{"w1", "w2", "w3"}
	for _, n := range names {
		spawn(t, s, n, 0)
	}
	for _, n := range names {
		require.NoError(t, s.ReportFailure(n, supervision.ReasonCrash))
	}

	res := step(t, s)
	require.Len(t, res.Decisions, 3)
	for _, d := range res.Decisions {
		assert.Equal(t, supervision.ReasonCrash, d.Reason)
	}
	cs := s.Channel().Stats()
	assert.Zero(t, cs.LostMessages)
	assert.Equal(t, uint64(3), cs.Requests)
	assert.Equal(t, uint64(3), cs.Responses)
	assert.Zero(t, s.Requeued())
	assert.Zero(t, s.Channel().Len(bidi.ToSupervision))
	assert.Zero(t, s.Channel().Len(bidi.ToRouting))
}

func TestSystem_RootTerminationOpensBreaker(t *testing.T) {
	s := newTestSystem(t, 1, func(c *config.Config) {
		c.Supervision.MaxRestarts = 1
		c.Routing.BreakerThreshold = 1
	})
	spawn(t, s, "w", 0)
	require.NoError(t, s.ReportFailure("w", supervision.ReasonCrash))
	require.NoError(t, s.ReportFailure("w", supervision.ReasonCrash))

	res := step(t, s)
	require.Len(t, res.Decisions, 2)
	assert.Equal(t, supervision.ActionRestart, res.Decisions[0].Action)
	assert.Equal(t, supervision.ActionTerminate, res.Decisions[1].Action)

	d, _ := s.Matrix().Domain(0)
	assert.Zero(t, d.Len())
	_, err := s.Actor("w")
	assert.True(t, stderrors.Is(err, rterrors.ErrInvalidHandle))

	err = s.Cast("w", 1, []byte{1})
	assert.True(t, stderrors.Is(err, rterrors.ErrCircuitOpen))
	assert.Zero(t, step(t, s).Executed)
}

func TestSystem_LearningDisabledAfterViolations(t *testing.T) {
	for _, tc := range []struct {
		name      string
		after     int
		activated int
	}{
		{"disabled after two violations", 2, 0},
		{"never disabled", 0, 1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestSystem(t, actor.BudgetCycles+1, func(c *config.Config) {
				c.Runtime.LearningDisableAfter = tc.after
			})
			spawn(t, s, "a", 0)
			_, err := s.RegisterDarkTriple("a", 0x01, 1)
			require.NoError(t, err)

			step(t, s)
			step(t, s)
			res := step(t, s, 0x01)
			assert.Equal(t, tc.activated, res.Activated)
			assert.Equal(t, uint64(3), s.Matrix().Perf().Executions-s.Matrix().Perf().SubBudget)
		})
	}
}

func TestSystem_FeedPatternDrivesTriggerStage(t *testing.T) {
	s := newTestSystem(t, 1, nil)
	spawn(t, s, "a", 0)
	_, err := s.AddPattern(0, 0b1010)
	require.NoError(t, err)
	_, err = s.AddPattern(3, 1)
	assert.True(t, stderrors.Is(err, rterrors.ErrInvalidHandle))

	step(t, s, 0b1110)
	d, _ := s.Matrix().Domain(0)
	assert.True(t, d.Feed().Matched())
	step(t, s, 0b0100)
	assert.False(t, d.Feed().Matched())
	assert.Equal(t, uint64(1), d.Feed().Matches())
}

func TestSystem_ParallelStep(t *testing.T) {
	defer goleak.VerifyNone(t)
	s := newTestSystem(t, 1, func(c *config.Config) {
		c.Runtime.Domains = 4
		c.Runtime.Parallel = true
	})
	for i, name := range []string{"d0", "d1", "d2", "d3"} {
		spawn(t, s, name, i)
	}
	res := step(t, s, 1)
	assert.Equal(t, 4, res.Executed)
	assert.Equal(t, uint64(1), res.Tick)
}

func TestSystem_Collectors(t *testing.T) {
	s := newTestSystem(t, 1, nil)
	spawn(t, s, "a", 0)
	step(t, s)
	step(t, s)

	reg, err := NewMetricsRegistry(s.Collectors())
	require.NoError(t, err)
	families, err := reg.Gather()
	require.NoError(t, err)
	values := make(map[string]float64)
	for _, mf := range families {
		m := mf.GetMetric()[0]
		if g := m.GetGauge(); g != nil {
			values[mf.GetName()] = g.GetValue()
		}
		if c := m.GetCounter(); c != nil {
			values[mf.GetName()] = c.GetValue()
		}
	}
	assert.Equal(t, 2.0, values["bitactor_matrix_global_tick"])
	assert.Equal(t, 1.0, values["bitactor_supervision_actors"])
	assert.Contains(t, values, "bitactor_bidi_requeued_total")
}

func TestSystem_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Runtime.Domains = 0
	_, err := NewSystem(cfg, nil, nil)
	assert.Error(t, err)
}
