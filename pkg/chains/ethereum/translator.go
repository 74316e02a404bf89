package ethereum

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nomad-xyz/nomad-go/pkg/submitter"
	"github.com/nomad-xyz/nomad-go/pkg/types"
)

// ContractAddresses locates the chain's contract surface for translation.
type ContractAddresses struct {
	Home              common.Address
	Replica           common.Address
	ConnectionManager common.Address
}

// TxTranslator converts persisted transactions into Ethereum calldata. One
// translator serves one destination chain.
type TxTranslator struct {
	addresses ContractAddresses
}

var _ submitter.ITxTranslator = (*TxTranslator)(nil)

// NewTxTranslator builds a translator over the chain's contract addresses.
func NewTxTranslator(addresses ContractAddresses) *TxTranslator {
	return &TxTranslator{addresses: addresses}
}

// Convert maps an opcode and its canonical body onto a contract address and
// ABI-packed calldata.
func (t *TxTranslator) Convert(tx *types.PersistedTransaction) (common.Address, []byte, error) {
	switch tx.Opcode {
	case types.OpHomeUpdate:
		data, err := t.packUpdate(tx.Body)
		return t.addresses.Home, data, err

	case types.OpReplicaUpdate:
		data, err := t.packUpdate(tx.Body)
		return t.addresses.Replica, data, err

	case types.OpReplicaProveAndProcess:
		data, err := t.packProveAndProcess(tx.Body)
		return t.addresses.Replica, data, err

	case types.OpHomeDispatch:
		data, err := t.packDispatch(tx.Body)
		return t.addresses.Home, data, err

	case types.OpDoubleUpdateFraud:
		data, err := t.packDoubleUpdate(tx.Body)
		return t.addresses.Home, data, err

	case types.OpUnenrollReplica:
		data, err := t.packUnenroll(tx.Body)
		return t.addresses.ConnectionManager, data, err

	default:
		return common.Address{}, nil, fmt.Errorf("unknown opcode %d", tx.Opcode)
	}
}

// packUpdate decodes a SignedUpdate body and packs update(oldRoot, newRoot, sig).
func (t *TxTranslator) packUpdate(body []byte) ([]byte, error) {
	var update types.SignedUpdate
	if err := update.UnmarshalNomad(body); err != nil {
		return nil, fmt.Errorf("malformed signed update body: %w", err)
	}
	return homeABI.Pack("update",
		[32]byte(update.Update.PreviousRoot),
		[32]byte(update.Update.NewRoot),
		sigBytes(update.Signature))
}

// packProveAndProcess decodes a message+proof body and packs
// proveAndProcess(message, proof, index).
func (t *TxTranslator) packProveAndProcess(body []byte) ([]byte, error) {
	message, proof, err := DecodeProveAndProcessBody(body)
	if err != nil {
		return nil, err
	}
	var path [32][32]byte
	for i, node := range proof.Path {
		path[i] = node
	}
	return replicaABI.Pack("proveAndProcess",
		message.Message,
		path,
		new(big.Int).SetUint64(proof.Index))
}

// packDispatch decodes a Message body and packs dispatch(destination, recipient, body).
func (t *TxTranslator) packDispatch(body []byte) ([]byte, error) {
	var message types.Message
	if err := message.UnmarshalNomad(body); err != nil {
		return nil, fmt.Errorf("malformed message body: %w", err)
	}
	return homeABI.Pack("dispatch",
		uint32(message.Destination),
		[32]byte(message.Recipient),
		message.Body)
}

// packDoubleUpdate decodes two signed updates and packs the fraud proof.
func (t *TxTranslator) packDoubleUpdate(body []byte) ([]byte, error) {
	first, second, err := DecodeDoubleUpdateBody(body)
	if err != nil {
		return nil, err
	}
	return homeABI.Pack("doubleUpdate",
		[32]byte(first.Update.PreviousRoot),
		[2][32]byte{first.Update.NewRoot, second.Update.NewRoot},
		sigBytes(first.Signature),
		sigBytes(second.Signature))
}

// packUnenroll decodes a SignedFailureNotification body and packs
// unenrollReplica(domain, updater, sig).
func (t *TxTranslator) packUnenroll(body []byte) ([]byte, error) {
	var notification types.SignedFailureNotification
	if err := notification.UnmarshalNomad(body); err != nil {
		return nil, fmt.Errorf("malformed failure notification body: %w", err)
	}
	return connectionManagerABI.Pack("unenrollReplica",
		uint32(notification.Notification.HomeDomain),
		[32]byte(notification.Notification.Updater),
		sigBytes(notification.Signature))
}

// EncodeProveAndProcessBody renders a message+proof tuple as a persisted
// transaction body: message encoding length-prefixed, then the proof.
func EncodeProveAndProcessBody(pair *types.MessageWithProof) ([]byte, error) {
	message, err := pair.Message.MarshalNomad()
	if err != nil {
		return nil, err
	}
	proof, err := pair.Proof.MarshalNomad()
	if err != nil {
		return nil, err
	}
	body := make([]byte, 4, 4+len(message)+len(proof))
	binary.BigEndian.PutUint32(body[0:4], uint32(len(message)))
	body = append(body, message...)
	return append(body, proof...), nil
}

// DecodeProveAndProcessBody reverses EncodeProveAndProcessBody.
func DecodeProveAndProcessBody(body []byte) (*types.RawCommittedMessage, *types.Proof, error) {
	if len(body) < 4 {
		return nil, nil, fmt.Errorf("malformed prove-and-process body")
	}
	msgLen := int(binary.BigEndian.Uint32(body[0:4]))
	if len(body) < 4+msgLen {
		return nil, nil, fmt.Errorf("prove-and-process body truncated")
	}
	var message types.RawCommittedMessage
	if err := message.UnmarshalNomad(body[4 : 4+msgLen]); err != nil {
		return nil, nil, err
	}
	var proof types.Proof
	if err := proof.UnmarshalNomad(body[4+msgLen:]); err != nil {
		return nil, nil, err
	}
	return &message, &proof, nil
}

// EncodeDoubleUpdateBody renders two conflicting signed updates as a
// persisted transaction body.
func EncodeDoubleUpdateBody(first, second *types.SignedUpdate) ([]byte, error) {
	a, err := first.MarshalNomad()
	if err != nil {
		return nil, err
	}
	b, err := second.MarshalNomad()
	if err != nil {
		return nil, err
	}
	return append(a, b...), nil
}

// DecodeDoubleUpdateBody reverses EncodeDoubleUpdateBody.
func DecodeDoubleUpdateBody(body []byte) (*types.SignedUpdate, *types.SignedUpdate, error) {
	if len(body)%2 != 0 {
		return nil, nil, fmt.Errorf("malformed double-update body")
	}
	half := len(body) / 2
	var first, second types.SignedUpdate
	if err := first.UnmarshalNomad(body[:half]); err != nil {
		return nil, nil, err
	}
	if err := second.UnmarshalNomad(body[half:]); err != nil {
		return nil, nil, err
	}
	return &first, &second, nil
}
