package runtime

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orizon-lang/bitactor/internal/config"
	rterrors "github.com/orizon-lang/bitactor/internal/errors"
	"github.com/orizon-lang/bitactor/internal/logging"
	"github.com/orizon-lang/bitactor/internal/runtime/actor"
	"github.com/orizon-lang/bitactor/internal/runtime/bidi"
	"github.com/orizon-lang/bitactor/internal/runtime/clock"
	"github.com/orizon-lang/bitactor/internal/runtime/entangle"
	"github.com/orizon-lang/bitactor/internal/runtime/routing"
	"github.com/orizon-lang/bitactor/internal/runtime/supervision"
)

// ActorSpec describes an actor spawned through a System.
type ActorSpec struct {
	Name       string
	Domain     int
	Manifest   *actor.Manifest
	Policy     supervision.RestartPolicy
	Supervisor supervision.SupervisorID // 0 means root
}

// StepResult summarises one Step.
type StepResult struct {
	Tick       uint64
	Executed   int // actor ticks
	Propagated int // signals enqueued by action-bind
	Delivered  int // signals applied, forwarded hops included
	Activated  int // dark triples activated
	Expired    int // dark triples returned to dormant
	Dispatched int // mailbox messages handled by actors
	Decisions  []supervision.Decision
}

// System wires the matrix, the per-domain buses, the L2 router, the L3
// supervision tree and the channel between them. Its methods serialise on
// one lock; Step is the only place actors execute.
type System struct {
	RunID uuid.UUID

	cfg      *config.Config
	clk      clock.Clock
	log      *zap.Logger
	matrix   *Matrix
	registry *Registry
	router   *routing.Engine
	super    *supervision.System
	channel  *bidi.Channel
	vlog     *zap.Logger // sampled, for per-cycle budget violations

	mu             sync.Mutex
	gen            map[Handle]supervision.ActorID
	order          []Handle // spawn order
	seenViolations uint64
	requeued       atomic.Uint64
}

// NewSystem builds a System from cfg (nil means config.Default()).
func NewSystem(cfg *config.Config, clk clock.Clock, log *zap.Logger) (*System, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if clk == nil {
		clk = clock.NewMonotonic()
	}
	if log == nil {
		log = zap.NewNop()
	}
	runID := uuid.New()
	log = log.With(zap.String("run_id", runID.String()))

	m := NewMatrix(clk)
	for i := 0; i < cfg.Runtime.Domains; i++ {
		bus := entangle.New(entangle.Config{
			SignalBufferSize: uint64(cfg.Entanglement.SignalBufferSize),
			ExpiryCycles:     cfg.Entanglement.DarkExpiryCycles,
		}, clk, log.Named("bus").With(zap.Int("domain", i)))
		if _, err := m.AddDomain(bus, uint32(cfg.Runtime.LearningDisableAfter)); err != nil {
			return nil, err
		}
	}

	router := routing.NewEngine(routing.Config{
		RingCapacity:          uint64(cfg.Routing.RingCapacity),
		DeadLetterCapacity:    uint64(cfg.Routing.DeadLetterCapacity),
		BackpressureThreshold: cfg.Routing.BackpressureThreshold,
		BreakerThreshold:      uint32(cfg.Routing.BreakerThreshold),
		BreakerResetTimeout:   cfg.BreakerResetTimeout(),
		DefaultTTL:            cfg.DefaultTTL(),
		MaxMailboxes:          cfg.Routing.MaxMailboxes,
	}, clk, log.Named("routing"))

	strategy, err := supervision.ParseStrategy(cfg.Supervision.Strategy)
	if err != nil {
		return nil, err
	}
	super, err := supervision.New(supervision.Config{
		RootStrategy: strategy,
		RootIsolation: supervision.Isolation{
			MaxRestarts: uint32(cfg.Supervision.MaxRestarts),
			Window:      cfg.RestartWindow(),
		},
		MaxActors:     cfg.Supervision.MaxActors,
		MaxSupervisor: cfg.Supervision.MaxSupervisors,
	}, router, clk, log.Named("supervision"))
	if err != nil {
		return nil, err
	}

	s := &System{
		RunID:    runID,
		cfg:      cfg,
		clk:      clk,
		log:      log,
		matrix:   m,
		registry: NewRegistry(),
		router:   router,
		super:    super,
		channel:  bidi.New(bidi.Config{RingCapacity: uint64(cfg.Bidi.RingCapacity), TableSize: cfg.Bidi.TableSize}, clk),
		vlog:     logging.Sampled(log.Named("budget"), cfg.Runtime.ViolationLogSample),
		gen:      make(map[Handle]supervision.ActorID),
	}
	log.Info("system started", zap.Int("domains", cfg.Runtime.Domains), zap.Stringer("root_strategy", strategy))
	return s, nil
}

// Matrix returns the tick driver.
func (s *System) Matrix() *Matrix { return s.matrix }

// Router returns the L2 engine.
func (s *System) Router() *routing.Engine { return s.router }

// Supervision returns the L3 system.
func (s *System) Supervision() *supervision.System { return s.super }

// Channel returns the routing/supervision channel.
func (s *System) Channel() *bidi.Channel { return s.channel }

// Registry returns the name registry.
func (s *System) Registry() *Registry { return s.registry }

// Spawn places an actor in a domain, names it and puts it under supervision.
func (s *System) Spawn(spec ActorSpec) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.matrix.Domain(spec.Domain)
	if err != nil {
		return Handle{}, err
	}
	if _, taken := s.registry.Lookup(spec.Name); taken {
		return Handle{}, rterrors.DuplicateName(spec.Name)
	}
	id, err := d.Spawn(spec.Manifest)
	if err != nil {
		return Handle{}, err
	}
	h := Handle{Domain: uint8(spec.Domain), Index: id}
	if err := s.registry.Register(spec.Name, h); err != nil {
		d.Deactivate(id)
		return Handle{}, err
	}
	gid, err := s.super.Spawn(supervision.Spec{
		Name:       spec.Name,
		Supervisor: spec.Supervisor,
		Policy:     spec.Policy,
		Behavior:   &actorBehavior{domain: d, id: id, manifest: spec.Manifest},
	})
	if err != nil {
		d.Deactivate(id)
		s.registry.Unregister(spec.Name)
		return Handle{}, fmt.Errorf("supervise %q: %w", spec.Name, err)
	}
	s.gen[h] = gid
	s.order = append(s.order, h)
	return h, nil
}

// Lookup resolves an actor name.
func (s *System) Lookup(name string) (Handle, bool) { return s.registry.Lookup(name) }

// Actor returns a snapshot of the named actor.
func (s *System) Actor(name string) (actor.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.registry.Lookup(name)
	if !ok {
		return actor.State{}, rterrors.NotFound("actor", name)
	}
	a, err := s.matrix.Actor(h)
	if err != nil {
		return actor.State{}, err
	}
	return a.Snapshot(), nil
}

// GenActor returns the supervision id of a named actor.
func (s *System) GenActor(name string) (supervision.ActorID, error) {
	h, ok := s.registry.Lookup(name)
	if !ok {
		return 0, rterrors.NotFound("actor", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen[h], nil
}

// Connect entangles two actors. A non-zero response replaces the payload
// forwarded to the target. Across domains the edge is owned by the source's
// bus; signals from a lower domain index are delivered in the same Step,
// signals to a lower index in the next one.
func (s *System) Connect(from, to string, trigger, response uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.registry.Lookup(from)
	if !ok {
		return rterrors.NotFound("actor", from)
	}
	dst, ok := s.registry.Lookup(to)
	if !ok {
		return rterrors.NotFound("actor", to)
	}
	d, _ := s.matrix.Domain(int(src.Domain))
	if !d.bus.CreateCross(src.Index, dst.Domain, dst.Index, trigger, response) {
		return rterrors.CapacityExhausted("entanglement connections", entangle.MaxConnections)
	}
	return nil
}

// AddPattern adds a trigger pattern to a domain feed.
func (s *System) AddPattern(domain int, mask uint64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.matrix.Domain(domain)
	if err != nil {
		return -1, err
	}
	return d.feed.AddPattern(mask)
}

// RegisterDarkTriple binds dormant logic to the named actor.
func (s *System) RegisterDarkTriple(name string, pattern, threshold uint8) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.registry.Lookup(name)
	if !ok {
		return -1, rterrors.NotFound("actor", name)
	}
	d, _ := s.matrix.Domain(int(h.Domain))
	return d.bus.RegisterDarkTriple(h.Index, pattern, threshold)
}

// Broadcast XORs key into every live actor of a domain.
func (s *System) Broadcast(domain int, key uint8) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.matrix.Domain(domain)
	if err != nil {
		return 0, err
	}
	return d.Broadcast(key), nil
}

// Inject propagates payload from the named actor over its matching
// connections with an explicit hop budget. Delivery happens in the next
// Step. A budget of zero rejects every matching edge and returns
// ErrHopsExhausted.
func (s *System) Inject(name string, payload uint8, maxHops int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.registry.Lookup(name)
	if !ok {
		return 0, rterrors.NotFound("actor", name)
	}
	if maxHops < 0 || maxHops > actor.MaxHops {
		return 0, rterrors.InvalidArgument("hop budget", maxHops)
	}
	d, _ := s.matrix.Domain(int(h.Domain))
	before := d.bus.Stats().BoundedRejections
	n := d.bus.Propagate(h.Index, payload, uint8(maxHops))
	if n == 0 && d.bus.Stats().BoundedRejections > before {
		return 0, rterrors.HopsExhausted(uint8(h.Index), maxHops)
	}
	return n, nil
}

// Cast routes payload to the named actor's mailbox. Each byte is ORed into
// the actor's meaning when the next Step dispatches it.
func (s *System) Cast(name string, priority uint8, payload []byte) error {
	gid, err := s.GenActor(name)
	if err != nil {
		return err
	}
	ga, err := s.super.Actor(gid)
	if err != nil {
		return err
	}
	msg, err := routing.NewMessage(0, ga.Mailbox, routing.MsgCast, priority, payload)
	if err != nil {
		return err
	}
	return s.router.Route(&msg)
}

// ReportFailure routes a failure of the named actor to its supervisor. The
// decision is taken during the next Step.
func (s *System) ReportFailure(name string, reason supervision.Reason) error {
	gid, err := s.GenActor(name)
	if err != nil {
		return err
	}
	return s.super.ReportFailure(gid, reason)
}

// Step runs one global tick: actor ticks, cognitive cycles with bus
// propagation, signal delivery, dark-triple activation and expiry, mailbox
// dispatch, and one supervision round trip.
func (s *System) Step(ctx context.Context, signals []uint64) (StepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res StepResult
	if s.cfg.Runtime.Parallel {
		n, err := s.matrix.TickParallel(ctx, signals)
		if err != nil {
			return res, err
		}
		res.Executed = n
	} else {
		res.Executed = s.matrix.Tick(signals)
	}
	res.Tick = s.matrix.GlobalTick()

	hops := uint8(s.cfg.Runtime.MaxHops)
	for _, d := range s.matrix.Domains() {
		cc := actor.Context{ConstraintThreshold: s.cfg.Runtime.ConstraintThreshold}
		matched := d.feed.Matched()
		d.each(func(a *actor.Actor) {
			cc.PendingMatch = matched
			a.CognitiveCycle(&cc)
			a.ClearPending()
			if cc.PropagateRequested {
				res.Propagated += d.bus.Propagate(a.ID(), cc.Payload, hops)
			}
		})
		res.Delivered += d.bus.ProcessSignals(d)
		for _, sig := range signals {
			res.Activated += d.bus.ActivateDarkTriples(d, foldSignal(sig))
		}
		res.Expired += d.bus.ExpireDarkTriples(s.clk.NowCycles())
		if err := d.bus.CheckDarkMasks(); err != nil {
			return res, err
		}
	}
	s.reportViolations()

	res.Dispatched = s.pumpActors()
	res.Decisions = s.superviseRoundTrip()
	return res, nil
}

// foldSignal XORs the eight bytes of a feed signal into a dark-triple
// trigger.
func foldSignal(sig uint64) uint8 {
	sig ^= sig >> 32
	sig ^= sig >> 16
	sig ^= sig >> 8
	return uint8(sig)
}

func (s *System) reportViolations() {
	var total uint64
	for _, d := range s.matrix.Domains() {
		total += d.violations
	}
	if total == s.seenViolations {
		return
	}
	delta := total - s.seenViolations
	s.seenViolations = total
	s.vlog.Debug("cycle budget exceeded",
		zap.Uint64("new", delta), zap.Uint64("total", total),
		zap.Uint64("tick", s.matrix.GlobalTick()))
}

func (s *System) pumpActors() int {
	n := 0
	for _, h := range s.order {
		k, err := s.super.Pump(s.gen[h])
		if err != nil {
			s.log.Warn("mailbox pump failed", zap.Stringer("actor", h), zap.Error(err))
		}
		n += k
	}
	return n
}

// superviseRoundTrip moves failures from supervisor mailboxes across the
// channel, lets supervision decide, and returns each outcome to the mailbox
// layer where it feeds the circuit breaker of the reporting mailbox. A full
// ring is drained before the next send; a failure the channel still refuses
// goes back to its mailbox for the next Step.
func (s *System) superviseRoundTrip() []supervision.Decision {
	var decisions []supervision.Decision
	nsup := s.super.Stats().Supervisors
	for id := 1; id <= nsup; id++ {
		sv, err := s.super.Supervisor(supervision.SupervisorID(id))
		if err != nil {
			continue
		}
		for n := s.router.Depth(sv.Mailbox); n > 0; n-- {
			msg, ok := s.router.Dequeue(sv.Mailbox)
			if !ok {
				break
			}
			if msg.Type != routing.MsgFailure && msg.Type != routing.MsgEscalation {
				continue
			}
			if s.channelFull(bidi.ToSupervision) {
				decisions = append(decisions, s.decide()...)
			}
			msg.CorrelationID = msg.ID
			if s.channel.Send(bidi.ToSupervision, &msg) {
				continue
			}
			s.requeued.Add(1)
			if err := s.router.Route(&msg); err != nil {
				s.log.Warn("supervision channel full, failure lost",
					zap.Uint64("message", msg.ID), zap.Error(err))
			}
		}
	}
	decisions = append(decisions, s.decide()...)
	s.applyOutcomes()
	return decisions
}

func (s *System) channelFull(dir bidi.Direction) bool {
	return s.channel.Len(dir) >= s.channel.Cap(dir)
}

// decide drains ToSupervision and sends every decision back ToRouting.
func (s *System) decide() []supervision.Decision {
	var decisions []supervision.Decision
	for {
		msg, ok := s.channel.Receive(bidi.ToSupervision)
		if !ok {
			return decisions
		}
		d, ok := s.super.HandleMessage(&msg)
		if !ok {
			continue
		}
		decisions = append(decisions, d)
		resp, err := routing.NewMessage(msg.Target, msg.Source, routing.MsgDecision, 0, supervision.EncodeDecision(d))
		if err != nil {
			continue
		}
		resp.CorrelationID = msg.CorrelationID
		if s.channelFull(bidi.ToRouting) {
			s.applyOutcomes()
		}
		if !s.channel.Send(bidi.ToRouting, &resp) {
			s.log.Warn("routing channel full, outcome lost", zap.Uint64("correlation", resp.CorrelationID))
		}
	}
}

// applyOutcomes drains ToRouting into the circuit breakers.
func (s *System) applyOutcomes() {
	for {
		resp, ok := s.channel.Receive(bidi.ToRouting)
		if !ok {
			return
		}
		d, err := supervision.DecodeDecision(resp.Bytes())
		if err != nil {
			continue
		}
		switch d.Action {
		case supervision.ActionRestart:
			s.router.RecordSuccess(resp.Target)
		case supervision.ActionEscalate, supervision.ActionTerminate:
			s.router.RecordFailure(resp.Target)
		}
	}
}

// Requeued returns the number of failures returned to their mailbox because
// the supervision channel refused them.
func (s *System) Requeued() uint64 { return s.requeued.Load() }

// TrinityHash returns the matrix signature.
func (s *System) TrinityHash() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return TrinityHash(s.matrix)
}

// actorBehavior exposes a domain actor to supervision. Casts OR their bytes
// into the meaning, calls return it, restarts reload the manifest.
type actorBehavior struct {
	domain   *Domain
	id       actor.ID
	manifest *actor.Manifest
}

func (b *actorBehavior) HandleCall([]byte) ([]byte, error) {
	a, ok := b.domain.Actor(b.id)
	if !ok {
		return nil, rterrors.InvalidHandle("actor", b.id)
	}
	return []byte{a.Meaning()}, nil
}

func (b *actorBehavior) HandleCast(p []byte) error {
	a, ok := b.domain.Actor(b.id)
	if !ok {
		return rterrors.InvalidHandle("actor", b.id)
	}
	for _, v := range p {
		a.Apply(v)
	}
	return nil
}

func (b *actorBehavior) HandleInfo([]byte) error { return nil }

func (b *actorBehavior) Init() error { return b.domain.Reset(b.id, b.manifest) }

func (b *actorBehavior) Terminate(supervision.Reason) { b.domain.Deactivate(b.id) }
