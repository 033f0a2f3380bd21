package supervision

import (
	"fmt"
	"time"
)

// Identifiers. Zero is never assigned and means "none".
type (
	ActorID      uint32
	SupervisorID uint32
)

// RootID is the supervisor created by New.
const RootID SupervisorID = 1

// State is a GenActor lifecycle state.
type State uint8

const (
	StateInitializing State = iota
	StateRunning
	StateSuspended
	StateRestarting
	StateTerminating
	StateTerminated
	StateError
	StateTimeout
)

var stateNames = [...]string{"initializing", "running", "suspended", "restarting", "terminating", "terminated", "error", "timeout"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// RestartPolicy decides whether a terminated actor is restarted.
type RestartPolicy uint8

const (
	Permanent RestartPolicy = iota // always
	Temporary                      // never
	Transient                      // only after abnormal termination
)

// Strategy selects which siblings are restarted with a failed actor.
type Strategy uint8

const (
	OneForOne       Strategy = iota // the failed actor only
	OneForAll                       // every live child of the supervisor
	RestForOne                      // the failed actor and those registered after it
	SimpleOneForOne                 // the failed actor only, children added dynamically
)

func (s Strategy) String() string {
	switch s {
	case OneForOne:
		return "one_for_one"
	case OneForAll:
		return "one_for_all"
	case RestForOne:
		return "rest_for_one"
	case SimpleOneForOne:
		return "simple_one_for_one"
	default:
		return "unknown"
	}
}

// ParseStrategy maps a configuration name to a Strategy.
func ParseStrategy(name string) (Strategy, error) {
	for s := OneForOne; s <= SimpleOneForOne; s++ {
		if s.String() == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown supervision strategy %q", name)
}

// Reason describes why an actor stopped.
type Reason uint8

const (
	ReasonNormal   Reason = iota // orderly exit
	ReasonShutdown               // stopped by its supervisor
	ReasonCrash                  // behavior returned an error
	ReasonTimeout                // missed a deadline
	ReasonBudget                 // repeated cycle budget violations
)

var reasonNames = [...]string{"normal", "shutdown", "crash", "timeout", "budget"}

func (r Reason) String() string {
	if int(r) < len(reasonNames) {
		return reasonNames[r]
	}
	return fmt.Sprintf("reason(%d)", uint8(r))
}

// Abnormal reports whether r counts as a failure for Transient actors.
func (r Reason) Abnormal() bool { return r != ReasonNormal && r != ReasonShutdown }

// Isolation bounds how often a supervisor tolerates restarts before it
// escalates. It also supplies defaults for children spawned without limits.
type Isolation struct {
	MaxRestarts uint32        // restarts tolerated inside Window
	Window      time.Duration // sliding window length
}

// DefaultIsolation is used when a supervisor is created with a zero Isolation.
var DefaultIsolation = Isolation{MaxRestarts: 3, Window: 5 * time.Second}

// Action is the outcome of a supervision decision.
type Action uint8

const (
	ActionNone      Action = iota // nothing to do (actor already gone)
	ActionRestart                 // targets restarted
	ActionEscalate                // failure forwarded to the parent supervisor
	ActionTerminate               // actor or subtree stopped for good
)

var actionNames = [...]string{"none", "restart", "escalate", "terminate"}

func (a Action) String() string {
	if int(a) < len(actionNames) {
		return actionNames[a]
	}
	return "unknown"
}

// Decision records what a supervisor did about one failure.
type Decision struct {
	Action     Action
	Actor      ActorID      // failed actor, 0 for supervisor-level decisions
	Supervisor SupervisorID // supervisor that decided
	Subject    SupervisorID // child supervisor restarted or stopped on escalation
	Reason     Reason
	Restarted  []ActorID // in registration order
	Failed     []ActorID // restarts whose recovery failed
}
