package types

import (
	"encoding/binary"
	"fmt"
)

// TxOpcode identifies the chain-agnostic operation a PersistedTransaction
// performs. Translators map opcodes onto chain-native calls.
type TxOpcode uint8

const (
	// OpHomeUpdate submits a signed update to the home contract.
	OpHomeUpdate TxOpcode = iota + 1
	// OpReplicaUpdate submits a signed update to a replica, starting its timelock.
	OpReplicaUpdate
	// OpReplicaProveAndProcess delivers a message and its proof to a replica.
	OpReplicaProveAndProcess
	// OpHomeDispatch enqueues an outbound message on the home contract.
	OpHomeDispatch
	// OpDoubleUpdateFraud submits a double-update fraud proof.
	OpDoubleUpdateFraud
	// OpUnenrollReplica notifies a connection manager of updater failure.
	OpUnenrollReplica
)

// TxConfirmEvent tracks a persisted transaction through the submit-and-confirm
// pipeline.
type TxConfirmEvent uint8

const (
	// TxPending means the transaction has not been dispatched yet.
	TxPending TxConfirmEvent = iota
	// TxSeen means the transaction was dispatched and awaits finality.
	TxSeen
	// TxConfirmed means the transaction reached a terminal success state.
	TxConfirmed
	// TxDropped means the dispatch was lost and the transaction needs resubmission.
	TxDropped
)

func (e TxConfirmEvent) String() string {
	switch e {
	case TxPending:
		return "pending"
	case TxSeen:
		return "seen"
	case TxConfirmed:
		return "confirmed"
	case TxDropped:
		return "dropped"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(e))
	}
}

// PersistedTransaction is a durable, chain-agnostic record of an outbound
// on-chain call. IDs are monotonic per store; a row is deleted only after
// confirmation or permanent failure.
type PersistedTransaction struct {
	ID           uint64
	Destination  Domain
	Opcode       TxOpcode
	Body         []byte
	ConfirmEvent TxConfirmEvent
	Attempts     uint32
	// DispatchRef is the chain-native handle of the last dispatch: a tx hash
	// for local submission, a task id for sponsored relay.
	DispatchRef string
}

// MarshalNomad encodes
// id (8) || destination (4) || opcode (1) || confirm (1) || attempts (4) ||
// ref_len (2) || ref || body.
func (t *PersistedTransaction) MarshalNomad() ([]byte, error) {
	if len(t.DispatchRef) > 1<<16-1 {
		return nil, fmt.Errorf("dispatch ref too long: %d bytes", len(t.DispatchRef))
	}
	buf := make([]byte, 20, 20+len(t.DispatchRef)+len(t.Body))
	binary.BigEndian.PutUint64(buf[0:8], t.ID)
	binary.BigEndian.PutUint32(buf[8:12], uint32(t.Destination))
	buf[12] = byte(t.Opcode)
	buf[13] = byte(t.ConfirmEvent)
	binary.BigEndian.PutUint32(buf[14:18], t.Attempts)
	binary.BigEndian.PutUint16(buf[18:20], uint16(len(t.DispatchRef)))
	buf = append(buf, t.DispatchRef...)
	return append(buf, t.Body...), nil
}

// UnmarshalNomad parses an encoded persisted transaction.
func (t *PersistedTransaction) UnmarshalNomad(data []byte) error {
	if len(data) < 20 {
		return fmt.Errorf("persisted transaction too short: %d bytes", len(data))
	}
	t.ID = binary.BigEndian.Uint64(data[0:8])
	t.Destination = Domain(binary.BigEndian.Uint32(data[8:12]))
	t.Opcode = TxOpcode(data[12])
	t.ConfirmEvent = TxConfirmEvent(data[13])
	t.Attempts = binary.BigEndian.Uint32(data[14:18])
	refLen := int(binary.BigEndian.Uint16(data[18:20]))
	if len(data) < 20+refLen {
		return fmt.Errorf("persisted transaction truncated: ref wants %d bytes", refLen)
	}
	t.DispatchRef = string(data[20 : 20+refLen])
	t.Body = append([]byte{}, data[20+refLen:]...)
	return nil
}
