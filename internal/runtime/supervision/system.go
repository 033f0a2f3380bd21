// Package supervision is the L3 fault-tolerance layer: a tree of supervisors
// owning GenActors, restart policies with sliding-window intensity limits,
// and escalation carried as L2 messages.
package supervision

import (
	"fmt"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"go.uber.org/zap"

	rterrors "github.com/orizon-lang/bitactor/internal/errors"
	"github.com/orizon-lang/bitactor/internal/runtime/clock"
	"github.com/orizon-lang/bitactor/internal/runtime/routing"
)

// Config for a supervision System.
type Config struct {
	RootStrategy  Strategy  // strategy of the root supervisor
	RootIsolation Isolation // intensity of the root supervisor
	MaxActors     int       // GenActor limit
	MaxSupervisor int       // supervisor limit, root included
}

// DefaultConfig holds the runtime defaults.
var DefaultConfig = Config{
	RootStrategy:  OneForOne,
	RootIsolation: DefaultIsolation,
	MaxActors:     1024,
	MaxSupervisor: 64,
}

// Spec describes a GenActor to spawn.
type Spec struct {
	Name          string
	Supervisor    SupervisorID // 0 means root
	Policy        RestartPolicy
	MaxRestarts   uint32        // 0 inherits the supervisor's isolation
	RestartWindow time.Duration // 0 inherits the supervisor's isolation
	Behavior      Behavior
	Version       string // semantic version of the behavior code, default 1.0.0
}

// GenActor is a supervised actor.
type GenActor struct {
	ID         ActorID
	Name       string
	Supervisor SupervisorID
	Mailbox    routing.MailboxID
	Policy     RestartPolicy
	State      State
	Previous   State
	Restarts   uint64 // lifetime restart count
	Version    string

	maxRestarts uint32
	window      time.Duration
	recent      []int64 // restart timestamps inside the window
	behavior    Behavior
}

// Supervisor is a node of the supervision tree.
type Supervisor struct {
	ID        SupervisorID
	Name      string
	Parent    SupervisorID // 0 for the root
	Strategy  Strategy
	Isolation Isolation
	Mailbox   routing.MailboxID

	actors   []ActorID      // registration order
	children []SupervisorID // child supervisors, registration order
	recent   []int64        // child-supervisor restarts inside the window
}

// Actors returns the managed actor ids in registration order.
func (s *Supervisor) Actors() []ActorID { return append([]ActorID(nil), s.actors...) }

// Children returns the child supervisor ids.
func (s *Supervisor) Children() []SupervisorID { return append([]SupervisorID(nil), s.children...) }

// Stats of the supervision layer.
type Stats struct {
	Actors               int
	Supervisors          int
	Decisions            uint64
	Restarts             uint64
	Escalations          uint64
	Terminations         uint64
	SuccessfulRecoveries uint64
	FailedRecoveries     uint64
	NotificationsDropped uint64 // restart/escalation messages L2 refused
	MessagesHandled      uint64
	AvgDecisionNanos     float64
	AvgRecoveryNanos     float64
}

// System owns the supervision tree. All methods are safe for concurrent use;
// behavior callbacks other than HandleCall/HandleCast/HandleInfo run with the
// system lock held.
type System struct {
	cfg    Config
	clk    clock.Clock
	log    *zap.Logger
	router *routing.Engine

	mu          sync.Mutex
	actors      []*GenActor   // index id-1
	supervisors []*Supervisor // index id-1
	hist        history
	stats       Stats

	decisionNanos int64
	recoveryNanos int64
}

// New creates a System with its root supervisor. Mailboxes are created on
// router.
func New(cfg Config, router *routing.Engine, clk clock.Clock, log *zap.Logger) (*System, error) {
	if router == nil {
		return nil, rterrors.InvalidArgument("router", nil)
	}
	if cfg.MaxActors <= 0 {
		cfg.MaxActors = DefaultConfig.MaxActors
	}
	if cfg.MaxSupervisor <= 0 {
		cfg.MaxSupervisor = DefaultConfig.MaxSupervisor
	}
	if cfg.RootIsolation == (Isolation{}) {
		cfg.RootIsolation = DefaultIsolation
	}
	if clk == nil {
		clk = clock.NewMonotonic()
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &System{cfg: cfg, clk: clk, log: log, router: router}
	if _, err := s.NewSupervisor("root", 0, cfg.RootStrategy, cfg.RootIsolation); err != nil {
		return nil, fmt.Errorf("create root supervisor: %w", err)
	}
	return s, nil
}

// Router returns the routing engine the system sends through.
func (s *System) Router() *routing.Engine { return s.router }

// NewSupervisor adds a supervisor under parent. Only the first supervisor may
// have parent 0.
func (s *System) NewSupervisor(name string, parent SupervisorID, strategy Strategy, iso Isolation) (SupervisorID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.supervisors) > 0 {
		if parent == 0 {
			parent = RootID
		}
		if _, err := s.supervisor(parent); err != nil {
			return 0, err
		}
	}
	if len(s.supervisors) >= s.cfg.MaxSupervisor {
		return 0, rterrors.CapacityExhausted("supervisor table", s.cfg.MaxSupervisor)
	}
	if strategy > SimpleOneForOne {
		return 0, rterrors.InvalidArgument("strategy", strategy)
	}
	if iso == (Isolation{}) {
		iso = DefaultIsolation
	}
	mbox, err := s.router.CreateMailbox("sup:" + name)
	if err != nil {
		return 0, fmt.Errorf("supervisor %q: %w", name, err)
	}
	sup := &Supervisor{
		ID:        SupervisorID(len(s.supervisors) + 1),
		Name:      name,
		Parent:    parent,
		Strategy:  strategy,
		Isolation: iso,
		Mailbox:   mbox,
	}
	s.supervisors = append(s.supervisors, sup)
	if parent != 0 {
		p := s.supervisors[parent-1]
		p.children = append(p.children, sup.ID)
	}
	return sup.ID, nil
}

// Spawn creates a GenActor under spec.Supervisor and starts it.
func (s *System) Spawn(spec Spec) (ActorID, error) {
	if spec.Behavior == nil {
		return 0, rterrors.InvalidArgument("behavior", nil)
	}
	if spec.Version == "" {
		spec.Version = "1.0.0"
	}
	if _, err := semver.NewVersion(spec.Version); err != nil {
		return 0, rterrors.InvalidArgument("version", spec.Version)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if spec.Supervisor == 0 {
		spec.Supervisor = RootID
	}
	sup, err := s.supervisor(spec.Supervisor)
	if err != nil {
		return 0, err
	}
	if len(s.actors) >= s.cfg.MaxActors {
		return 0, rterrors.CapacityExhausted("actor table", s.cfg.MaxActors)
	}
	mbox, err := s.router.CreateMailbox("actor:" + spec.Name)
	if err != nil {
		return 0, fmt.Errorf("actor %q: %w", spec.Name, err)
	}
	ga := &GenActor{
		ID:          ActorID(len(s.actors) + 1),
		Name:        spec.Name,
		Supervisor:  sup.ID,
		Mailbox:     mbox,
		Policy:      spec.Policy,
		State:       StateInitializing,
		Version:     spec.Version,
		maxRestarts: spec.MaxRestarts,
		window:      spec.RestartWindow,
		behavior:    spec.Behavior,
	}
	if ga.maxRestarts == 0 {
		ga.maxRestarts = sup.Isolation.MaxRestarts
	}
	if ga.window == 0 {
		ga.window = sup.Isolation.Window
	}
	s.actors = append(s.actors, ga)
	sup.actors = append(sup.actors, ga.ID)
	if err := s.initialize(ga); err != nil {
		s.transition(ga, StateError)
		return ga.ID, fmt.Errorf("init %q: %w", spec.Name, err)
	}
	s.transition(ga, StateRunning)
	return ga.ID, nil
}

// Actor returns a copy of the actor's public fields.
func (s *System) Actor(id ActorID) (GenActor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ga, err := s.actor(id)
	if err != nil {
		return GenActor{}, err
	}
	return *ga, nil
}

// Supervisor returns a copy of a supervisor.
func (s *System) Supervisor(id SupervisorID) (Supervisor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sup, err := s.supervisor(id)
	if err != nil {
		return Supervisor{}, err
	}
	cp := *sup
	cp.actors = sup.Actors()
	cp.children = sup.Children()
	cp.recent = nil
	return cp, nil
}

// Lookup finds an actor by name.
func (s *System) Lookup(name string) (ActorID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ga := range s.actors {
		if ga.Name == name {
			return ga.ID, true
		}
	}
	return 0, false
}

// History returns recorded transitions, oldest first.
func (s *System) History() []Transition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hist.snapshot()
}

// Stats returns a snapshot of the counters and running averages.
func (s *System) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.Actors = len(s.actors)
	st.Supervisors = len(s.supervisors)
	return st
}

// Suspend stops message dispatch to a running actor.
func (s *System) Suspend(id ActorID) error {
	return s.toggle(id, StateRunning, StateSuspended)
}

// Resume reverses Suspend.
func (s *System) Resume(id ActorID) error {
	return s.toggle(id, StateSuspended, StateRunning)
}

func (s *System) toggle(id ActorID, from, to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ga, err := s.actor(id)
	if err != nil {
		return err
	}
	if ga.State != from {
		return rterrors.InvalidArgument("actor state", ga.State)
	}
	s.transition(ga, to)
	return nil
}

// UpgradeCode moves an actor to a newer behavior version. Behaviors
// implementing CodeChanger migrate their state; a failed migration leaves the
// version unchanged.
func (s *System) UpgradeCode(id ActorID, version string) error {
	next, err := semver.NewVersion(version)
	if err != nil {
		return rterrors.InvalidArgument("version", version)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ga, err := s.actor(id)
	if err != nil {
		return err
	}
	cur, err := semver.NewVersion(ga.Version)
	if err == nil && !next.GreaterThan(cur) {
		return rterrors.InvalidArgument("version", fmt.Sprintf("%s is not newer than %s", version, ga.Version))
	}
	if cc, ok := ga.behavior.(CodeChanger); ok {
		if err := cc.CodeChange(ga.Version, version); err != nil {
			return fmt.Errorf("code change %s -> %s: %w", ga.Version, version, err)
		}
	}
	s.log.Info("actor upgraded", zap.String("actor", ga.Name),
		zap.String("from", ga.Version), zap.String("to", version))
	ga.Version = version
	return nil
}

// Terminate stops an actor for good. It is not restarted regardless of policy.
func (s *System) Terminate(id ActorID, reason Reason) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ga, err := s.actor(id)
	if err != nil {
		return err
	}
	s.stop(ga, reason)
	return nil
}

func (s *System) actor(id ActorID) (*GenActor, error) {
	if id == 0 || int(id) > len(s.actors) {
		return nil, rterrors.InvalidHandle("actor", id)
	}
	return s.actors[id-1], nil
}

func (s *System) supervisor(id SupervisorID) (*Supervisor, error) {
	if id == 0 || int(id) > len(s.supervisors) {
		return nil, rterrors.InvalidHandle("supervisor", id)
	}
	return s.supervisors[id-1], nil
}

func (s *System) transition(ga *GenActor, to State) {
	if ga.State == to {
		return
	}
	s.hist.add(Transition{Actor: ga.ID, From: ga.State, To: to, Nanos: s.clk.NowNanos()})
	ga.Previous, ga.State = ga.State, to
}

func (s *System) initialize(ga *GenActor) error {
	if in, ok := ga.behavior.(Initializer); ok {
		return in.Init()
	}
	return nil
}

func (s *System) stop(ga *GenActor, reason Reason) {
	if ga.State == StateTerminated {
		return
	}
	s.transition(ga, StateTerminating)
	if t, ok := ga.behavior.(Terminator); ok {
		t.Terminate(reason)
	}
	s.transition(ga, StateTerminated)
	s.stats.Terminations++
}
