package routing

import (
	"encoding/binary"
	"hash/crc32"

	rterrors "github.com/orizon-lang/bitactor/internal/errors"
)

// Type definitions for routed messages
type (
	MailboxID   uint32 // Mailbox identifier, 0 is "no mailbox"
	MessageType uint16 // Message type identifier
)

// Message types understood by the runtime.
const (
	MsgData MessageType = iota
	MsgCall
	MsgCast
	MsgInfo
	MsgFailure    // actor failure reported to its supervisor
	MsgRestart    // restart notification emitted by a supervisor
	MsgEscalation // failure escalated to a parent supervisor
	MsgDecision   // supervision outcome returned to the mailbox layer
	MsgTerminate
)

var messageTypeNames = [...]string{"data", "call", "cast", "info", "failure", "restart", "escalation", "decision", "terminate"}

func (t MessageType) String() string {
	if int(t) < len(messageTypeNames) {
		return messageTypeNames[t]
	}
	return "unknown"
}

const (
	NumPriorities   = 8 // 0 is highest
	LowestPriority  = NumPriorities - 1
	MaxPayload      = 256 // bytes
	ShedAbovePrio   = 2   // priorities above this are rejected under backpressure
	DefaultAttempts = 3
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// ProductionMessage is owned by exactly one ring slot at a time.
type ProductionMessage struct {
	ID            uint64
	CorrelationID uint64
	Source        MailboxID
	Target        MailboxID
	Type          MessageType
	Priority      uint8
	Attempts      uint8
	MaxAttempts   uint8
	CreatedNanos  int64
	DeadlineNanos int64 // 0 means no deadline
	QueueDepth    uint32
	Checksum      uint32
	PayloadLen    uint16
	Payload       [MaxPayload]byte
}

// NewMessage builds a message with payload copied in.
func NewMessage(source, target MailboxID, typ MessageType, priority uint8, payload []byte) (ProductionMessage, error) {
	m := ProductionMessage{
		Source:      source,
		Target:      target,
		Type:        typ,
		Priority:    priority,
		MaxAttempts: DefaultAttempts,
	}
	if err := m.SetPayload(payload); err != nil {
		return ProductionMessage{}, err
	}
	return m, nil
}

// SetPayload copies p into the message.
func (m *ProductionMessage) SetPayload(p []byte) error {
	if len(p) > MaxPayload {
		return rterrors.CapacityExhausted("message payload", MaxPayload)
	}
	m.PayloadLen = uint16(copy(m.Payload[:], p))
	return nil
}

// Bytes returns the used part of the payload.
func (m *ProductionMessage) Bytes() []byte { return m.Payload[:m.PayloadLen] }

// ComputeChecksum returns the CRC-32C of the routing header and payload.
// QueueDepth, Attempts and Checksum itself are excluded since they change in
// flight.
func (m *ProductionMessage) ComputeChecksum() uint32 {
	var hdr [40]byte
	binary.LittleEndian.PutUint64(hdr[0:], m.ID)
	binary.LittleEndian.PutUint64(hdr[8:], m.CorrelationID)
	binary.LittleEndian.PutUint32(hdr[16:], uint32(m.Source))
	binary.LittleEndian.PutUint32(hdr[20:], uint32(m.Target))
	binary.LittleEndian.PutUint16(hdr[24:], uint16(m.Type))
	hdr[26] = m.Priority
	hdr[27] = m.MaxAttempts
	binary.LittleEndian.PutUint64(hdr[28:], uint64(m.DeadlineNanos))
	binary.LittleEndian.PutUint16(hdr[36:], m.PayloadLen)
	c := crc32.Update(0, crcTable, hdr[:])
	return crc32.Update(c, crcTable, m.Bytes())
}

// Valid reports whether the stored checksum matches the content.
func (m *ProductionMessage) Valid() bool { return m.Checksum == m.ComputeChecksum() }

// Expired reports whether the deadline has passed at now.
func (m *ProductionMessage) Expired(now int64) bool {
	return m.DeadlineNanos != 0 && now > m.DeadlineNanos
}
