package supervision

import (
	"time"

	"go.uber.org/zap"

	rterrors "github.com/orizon-lang/bitactor/internal/errors"
	"github.com/orizon-lang/bitactor/internal/runtime/routing"
)

// Decide applies the supervision procedure to a failed actor:
//
//  1. the restart policy decides whether a restart is wanted at all;
//  2. the actor's restart intensity (MaxRestarts within RestartWindow) is
//     checked; when exceeded the failure is escalated to the parent
//     supervisor as a priority-0 L2 message, or the actor is terminated if
//     its supervisor is the root;
//  3. otherwise the supervisor's strategy selects which actors restart.
//
// Decide never blocks and never recurses up the tree; escalations are
// handled by the parent on its next HandleMailbox call.
func (s *System) Decide(id ActorID, reason Reason) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := s.clk.NowNanos()
	d, err := s.decide(id, reason)
	if err != nil {
		return d, err
	}
	s.recordDecision(s.clk.NowNanos() - start)
	return d, nil
}

// Restart restarts one actor outside any failure decision.
func (s *System) Restart(id ActorID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ga, err := s.actor(id)
	if err != nil {
		return err
	}
	if ga.State == StateTerminated {
		return rterrors.NotRunning(uint32(id), ga.State)
	}
	return s.restart(ga, ReasonShutdown)
}

func shouldRestart(p RestartPolicy, r Reason) bool {
	switch p {
	case Permanent:
		return true
	case Transient:
		return r.Abnormal()
	default:
		return false
	}
}

// allowRestart prunes timestamps older than window and records now when
// another restart fits. max 0 means unlimited.
func allowRestart(recent *[]int64, max uint32, window time.Duration, now int64) bool {
	if max == 0 || window <= 0 {
		return true
	}
	cutoff := now - int64(window)
	kept := (*recent)[:0]
	for _, t := range *recent {
		if t > cutoff {
			kept = append(kept, t)
		}
	}
	if uint32(len(kept)) >= max {
		*recent = kept
		return false
	}
	*recent = append(kept, now)
	return true
}

func (s *System) decide(id ActorID, reason Reason) (Decision, error) {
	ga, err := s.actor(id)
	if err != nil {
		return Decision{}, err
	}
	sup := s.supervisors[ga.Supervisor-1]
	d := Decision{Actor: id, Supervisor: sup.ID, Reason: reason}
	if ga.State == StateTerminated {
		return d, nil
	}
	switch {
	case reason == ReasonTimeout:
		s.transition(ga, StateTimeout)
	case reason.Abnormal():
		s.transition(ga, StateError)
	}

	if !shouldRestart(ga.Policy, reason) {
		s.stop(ga, reason)
		d.Action = ActionTerminate
		return d, nil
	}

	if !allowRestart(&ga.recent, ga.maxRestarts, ga.window, s.clk.NowNanos()) {
		d.Action = s.escalate(sup, ga.ID, reason)
		if d.Action == ActionTerminate {
			s.stop(ga, reason)
		}
		return d, nil
	}

	d.Action = ActionRestart
	for _, target := range s.targets(sup, ga.ID) {
		t := s.actors[target-1]
		r := ReasonShutdown
		if target == id {
			r = reason
		}
		if err := s.restart(t, r); err != nil {
			d.Failed = append(d.Failed, target)
			continue
		}
		d.Restarted = append(d.Restarted, target)
	}
	return d, nil
}

// targets lists the actors a strategy restarts, in registration order.
func (s *System) targets(sup *Supervisor, failed ActorID) []ActorID {
	switch sup.Strategy {
	case OneForAll:
		out := make([]ActorID, 0, len(sup.actors))
		for _, id := range sup.actors {
			if id == failed || s.actors[id-1].State != StateTerminated {
				out = append(out, id)
			}
		}
		return out
	case RestForOne:
		for i, id := range sup.actors {
			if id != failed {
				continue
			}
			out := []ActorID{failed}
			for _, next := range sup.actors[i+1:] {
				if s.actors[next-1].State != StateTerminated {
					out = append(out, next)
				}
			}
			return out
		}
	}
	return []ActorID{failed}
}

// escalate forwards a failure from sup to its parent. At the root, or when
// the message cannot be routed, the chain stops and ActionTerminate is
// returned.
func (s *System) escalate(sup *Supervisor, actor ActorID, reason Reason) Action {
	if sup.Parent == 0 {
		s.log.Warn("restart intensity exceeded at root, terminating",
			zap.Uint32("actor", uint32(actor)), zap.Stringer("reason", reason))
		return ActionTerminate
	}
	parent := s.supervisors[sup.Parent-1]
	if err := s.notify(sup.Mailbox, parent.Mailbox, routing.MsgEscalation, 0, EncodeFailure(actor, sup.ID, reason)); err != nil {
		s.log.Error("escalation not delivered, terminating",
			zap.String("supervisor", sup.Name), zap.Error(err))
		return ActionTerminate
	}
	s.stats.Escalations++
	s.log.Info("failure escalated",
		zap.String("from", sup.Name), zap.String("to", parent.Name),
		zap.Uint32("actor", uint32(actor)), zap.Stringer("reason", reason))
	return ActionEscalate
}

// restart runs Terminate, Init and the Restarting -> Running transition, then
// notifies the supervisor mailbox.
func (s *System) restart(ga *GenActor, reason Reason) error {
	start := s.clk.NowNanos()
	s.transition(ga, StateRestarting)
	if t, ok := ga.behavior.(Terminator); ok {
		t.Terminate(reason)
	}
	if err := s.initialize(ga); err != nil {
		s.transition(ga, StateError)
		s.stats.FailedRecoveries++
		s.recordRecovery(s.clk.NowNanos() - start)
		s.log.Warn("restart failed", zap.String("actor", ga.Name), zap.Error(err))
		return rterrors.RecoveryFailed(uint32(ga.ID), err)
	}
	s.transition(ga, StateRunning)
	ga.Restarts++
	s.stats.Restarts++
	s.stats.SuccessfulRecoveries++
	s.recordRecovery(s.clk.NowNanos() - start)

	sup := s.supervisors[ga.Supervisor-1]
	_ = s.notify(ga.Mailbox, sup.Mailbox, routing.MsgRestart, 1, EncodeFailure(ga.ID, sup.ID, reason))
	return nil
}

// handleEscalation is run by parent when child reports an exceeded intensity.
// The child subtree is restarted as a unit, counted against the parent's own
// isolation window.
func (s *System) handleEscalation(parent *Supervisor, child SupervisorID, actor ActorID, reason Reason) Decision {
	d := Decision{Actor: actor, Supervisor: parent.ID, Subject: child, Reason: reason}
	sub, err := s.supervisor(child)
	if err != nil || sub.Parent != parent.ID {
		s.log.Warn("escalation from unknown child ignored",
			zap.String("supervisor", parent.Name), zap.Uint32("child", uint32(child)))
		return d
	}
	if !allowRestart(&parent.recent, parent.Isolation.MaxRestarts, parent.Isolation.Window, s.clk.NowNanos()) {
		d.Action = s.escalate(parent, actor, reason)
		if d.Action == ActionTerminate {
			s.walk(sub, func(ga *GenActor) { s.stop(ga, ReasonShutdown) })
		}
		return d
	}
	d.Action = ActionRestart
	s.walk(sub, func(ga *GenActor) {
		if ga.State == StateTerminated {
			return
		}
		ga.recent = ga.recent[:0]
		if err := s.restart(ga, ReasonShutdown); err != nil {
			d.Failed = append(d.Failed, ga.ID)
			return
		}
		d.Restarted = append(d.Restarted, ga.ID)
	})
	return d
}

// walk visits every actor in the subtree rooted at sup, breadth first.
func (s *System) walk(sup *Supervisor, fn func(*GenActor)) {
	queue := []*Supervisor{sup}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		cur.recent = cur.recent[:0]
		for _, id := range cur.actors {
			fn(s.actors[id-1])
		}
		for _, c := range cur.children {
			queue = append(queue, s.supervisors[c-1])
		}
	}
}

func (s *System) notify(src, dst routing.MailboxID, typ routing.MessageType, prio uint8, payload []byte) error {
	msg, err := routing.NewMessage(src, dst, typ, prio, payload)
	if err == nil {
		err = s.router.Route(&msg)
	}
	if err != nil {
		s.stats.NotificationsDropped++
	}
	return err
}

func (s *System) recordDecision(nanos int64) {
	s.stats.Decisions++
	s.decisionNanos += nanos
	s.stats.AvgDecisionNanos = float64(s.decisionNanos) / float64(s.stats.Decisions)
}

func (s *System) recordRecovery(nanos int64) {
	s.recoveryNanos += nanos
	if n := s.stats.SuccessfulRecoveries + s.stats.FailedRecoveries; n > 0 {
		s.stats.AvgRecoveryNanos = float64(s.recoveryNanos) / float64(n)
	}
}
