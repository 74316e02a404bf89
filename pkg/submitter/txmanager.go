package submitter

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/nomad-xyz/nomad-go/pkg/db"
	"github.com/nomad-xyz/nomad-go/pkg/types"
)

// TxManager is the write side of the durable transaction queue. Agents
// submit chain-agnostic transactions; the pollers own dispatch and
// confirmation.
type TxManager struct {
	db     *db.NomadDB
	logger *zap.Logger
}

// NewTxManager builds a manager over the shared store.
func NewTxManager(nomadDB *db.NomadDB, logger *zap.Logger) *TxManager {
	return &TxManager{db: nomadDB, logger: logger}
}

// SubmitTransaction persists a new pending transaction and returns it. The
// row survives crashes; dispatch is at-least-once from here on.
func (m *TxManager) SubmitTransaction(destination types.Domain, opcode types.TxOpcode, body []byte) (*types.PersistedTransaction, error) {
	id, err := m.db.NextTransactionID()
	if err != nil {
		return nil, fmt.Errorf("failed to reserve tx id: %w", err)
	}
	tx := &types.PersistedTransaction{
		ID:           id,
		Destination:  destination,
		Opcode:       opcode,
		Body:         body,
		ConfirmEvent: types.TxPending,
	}
	if err := m.db.StorePersistedTransaction(tx); err != nil {
		return nil, fmt.Errorf("failed to persist tx %d: %w", id, err)
	}
	m.logger.Sugar().Debugw("Transaction enqueued",
		"id", id, "destination", destination, "opcode", opcode)
	return tx, nil
}
