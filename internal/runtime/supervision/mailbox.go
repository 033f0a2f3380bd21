package supervision

import (
	"encoding/binary"
	"fmt"

	"go.uber.org/zap"

	rterrors "github.com/orizon-lang/bitactor/internal/errors"
	"github.com/orizon-lang/bitactor/internal/runtime/routing"
)

const failurePayloadLen = 9

// EncodeFailure packs a failure or escalation payload.
func EncodeFailure(actor ActorID, from SupervisorID, reason Reason) []byte {
	b := make([]byte, failurePayloadLen)
	binary.LittleEndian.PutUint32(b[0:], uint32(actor))
	binary.LittleEndian.PutUint32(b[4:], uint32(from))
	b[8] = byte(reason)
	return b
}

// DecodeFailure reverses EncodeFailure.
func DecodeFailure(p []byte) (ActorID, SupervisorID, Reason, error) {
	if len(p) != failurePayloadLen {
		return 0, 0, 0, rterrors.InvalidArgument("failure payload length", len(p))
	}
	return ActorID(binary.LittleEndian.Uint32(p[0:])),
		SupervisorID(binary.LittleEndian.Uint32(p[4:])),
		Reason(p[8]), nil
}

// FailureMessage builds the priority-0 L2 message that reports a failure of
// id to its supervisor. The caller routes it.
func (s *System) FailureMessage(id ActorID, reason Reason) (routing.ProductionMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ga, err := s.actor(id)
	if err != nil {
		return routing.ProductionMessage{}, err
	}
	sup := s.supervisors[ga.Supervisor-1]
	return routing.NewMessage(ga.Mailbox, sup.Mailbox, routing.MsgFailure, 0, EncodeFailure(id, sup.ID, reason))
}

// ReportFailure routes a failure of id to its supervisor's mailbox. The
// decision is taken by the next HandleMailbox call.
func (s *System) ReportFailure(id ActorID, reason Reason) error {
	msg, err := s.FailureMessage(id, reason)
	if err != nil {
		return err
	}
	if err := s.router.Route(&msg); err != nil {
		return fmt.Errorf("report failure of actor %d: %w", id, err)
	}
	return nil
}

// HandleMailbox drains every supervisor mailbox once and applies the
// failures and escalations found there. Messages produced while handling
// (restart notices, further escalations) wait for the next call.
func (s *System) HandleMailbox() []Decision {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Decision
	for _, sup := range s.supervisors {
		for n := s.router.Depth(sup.Mailbox); n > 0; n-- {
			msg, ok := s.router.Dequeue(sup.Mailbox)
			if !ok {
				break
			}
			s.stats.MessagesHandled++
			if d, ok := s.handle(sup, &msg); ok {
				out = append(out, d)
			}
		}
	}
	return out
}

// HandleMessage applies one supervision message addressed to a supervisor
// mailbox, as delivered by a channel rather than the router.
func (s *System) HandleMessage(msg *routing.ProductionMessage) (Decision, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sup := range s.supervisors {
		if sup.Mailbox == msg.Target {
			s.stats.MessagesHandled++
			return s.handle(sup, msg)
		}
	}
	return Decision{}, false
}

func (s *System) handle(sup *Supervisor, msg *routing.ProductionMessage) (Decision, bool) {
	if msg.Type != routing.MsgFailure && msg.Type != routing.MsgEscalation {
		return Decision{}, false
	}
	actor, from, reason, err := DecodeFailure(msg.Bytes())
	if err != nil {
		s.log.Warn("malformed supervision message", zap.Uint64("message", msg.ID), zap.Error(err))
		return Decision{}, false
	}
	start := s.clk.NowNanos()
	var d Decision
	if msg.Type == routing.MsgEscalation {
		d = s.handleEscalation(sup, from, actor, reason)
	} else {
		if d, err = s.decide(actor, reason); err != nil {
			s.log.Warn("failure for unknown actor", zap.Uint32("actor", uint32(actor)), zap.Error(err))
			return Decision{}, false
		}
	}
	s.recordDecision(s.clk.NowNanos() - start)
	return d, true
}

// Dispatch delivers one message to a running actor's behavior. A behavior
// error is treated as a crash and decided on immediately.
func (s *System) Dispatch(id ActorID, typ routing.MessageType, payload []byte) ([]byte, error) {
	s.mu.Lock()
	ga, err := s.actor(id)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if ga.State != StateRunning {
		st := ga.State
		s.mu.Unlock()
		return nil, rterrors.NotRunning(uint32(id), st)
	}
	b := ga.behavior
	s.mu.Unlock()

	var reply []byte
	switch typ {
	case routing.MsgCall:
		reply, err = b.HandleCall(payload)
	case routing.MsgCast, routing.MsgData:
		err = b.HandleCast(payload)
	case routing.MsgInfo:
		err = b.HandleInfo(payload)
	default:
		return nil, rterrors.InvalidArgument("message type", typ)
	}
	if err != nil {
		if _, derr := s.Decide(id, ReasonCrash); derr != nil {
			return nil, derr
		}
		return nil, fmt.Errorf("actor %d %s: %w", id, typ, err)
	}
	return reply, nil
}

// Pump drains an actor's mailbox into its behavior while it is running.
// Replies to calls are routed back to the sender carrying the request id as
// correlation id. It returns the number of messages dispatched.
func (s *System) Pump(id ActorID) (int, error) {
	ga, err := s.Actor(id)
	if err != nil {
		return 0, err
	}
	n := 0
	for {
		if cur, _ := s.Actor(id); cur.State != StateRunning {
			return n, nil
		}
		msg, ok := s.router.Dequeue(ga.Mailbox)
		if !ok {
			return n, nil
		}
		n++
		reply, err := s.Dispatch(id, msg.Type, msg.Bytes())
		if err != nil {
			s.log.Debug("dispatch failed", zap.String("actor", ga.Name), zap.Error(err))
			continue
		}
		if msg.Type != routing.MsgCall || msg.Source == 0 {
			continue
		}
		resp, err := routing.NewMessage(ga.Mailbox, msg.Source, routing.MsgData, msg.Priority, reply)
		if err != nil {
			return n, err
		}
		resp.CorrelationID = msg.CorrelationID
		if resp.CorrelationID == 0 {
			resp.CorrelationID = msg.ID
		}
		if err := s.router.Route(&resp); err != nil {
			s.log.Debug("reply not routed", zap.String("actor", ga.Name), zap.Error(err))
		}
	}
}

const decisionPayloadLen = 10

// EncodeDecision packs the outcome returned to the mailbox layer.
func EncodeDecision(d Decision) []byte {
	b := make([]byte, decisionPayloadLen)
	b[0] = byte(d.Action)
	binary.LittleEndian.PutUint32(b[1:], uint32(d.Actor))
	binary.LittleEndian.PutUint32(b[5:], uint32(d.Supervisor))
	b[9] = byte(d.Reason)
	return b
}

// DecodeDecision reverses EncodeDecision. Restart lists are not carried.
func DecodeDecision(p []byte) (Decision, error) {
	if len(p) != decisionPayloadLen {
		return Decision{}, rterrors.InvalidArgument("decision payload length", len(p))
	}
	return Decision{
		Action:     Action(p[0]),
		Actor:      ActorID(binary.LittleEndian.Uint32(p[1:])),
		Supervisor: SupervisorID(binary.LittleEndian.Uint32(p[5:])),
		Reason:     Reason(p[9]),
	}, nil
}
