package db

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/nomad-xyz/nomad-go/pkg/types"
)

// keySep is the reserved byte between the entity prefix and the key name.
// It is part of the stable, upgrade-visible key layout.
const keySep = "!"

// Reserved key names. Stable across versions.
const (
	keyUpdatesLastBlock  = "updates_last_block"
	keyMessagesLastBlock = "messages_last_block"
	keyLatestRoot        = "latest_root"
	keyLeafByIndex       = "leaf_by_index"
	keyMessageByIndex    = "message_by_index"
	keyProofByIndex      = "proof_by_index"
	keyUpdateByPrevRoot  = "update_by_prev_root"
	keyTx                = "tx"
	keyTxCounter         = "tx_counter"
)

// NomadDB is the typed durable store shared by every agent task. Keys are
// namespaced by an entity prefix (usually the home network name) so several
// chains can share one physical store.
type NomadDB struct {
	store  IStore
	entity string
	logger *zap.Logger
}

// NewNomadDB wraps a raw store with the typed key schema under entity.
func NewNomadDB(entity string, store IStore, logger *zap.Logger) *NomadDB {
	return &NomadDB{store: store, entity: entity, logger: logger}
}

// fullKey renders "{entity}!{prefix}!{name}"; prefix may be empty.
func (d *NomadDB) fullKey(prefix, name string) []byte {
	if prefix == "" {
		return []byte(d.entity + keySep + name)
	}
	return []byte(d.entity + keySep + prefix + keySep + name)
}

// StoreEncodable durably persists an encodable object under (prefix, name).
func (d *NomadDB) StoreEncodable(prefix, name string, value types.Encodable) error {
	data, err := value.MarshalNomad()
	if err != nil {
		return fmt.Errorf("failed to encode %s%s%s: %w", prefix, keySep, name, err)
	}
	return d.store.Put(d.fullKey(prefix, name), data)
}

// RetrieveDecodable loads (prefix, name) into value. Returns (false, nil) if
// absent. A decode failure on present bytes indicates corruption and is
// returned as a fatal error.
func (d *NomadDB) RetrieveDecodable(prefix, name string, value types.Decodable) (bool, error) {
	data, err := d.store.Get(d.fullKey(prefix, name))
	if err != nil {
		return false, err
	}
	if data == nil {
		return false, nil
	}
	if err := value.UnmarshalNomad(data); err != nil {
		return false, fmt.Errorf("corrupt row %s%s%s: %w", prefix, keySep, name, err)
	}
	return true, nil
}

// storeUint32 persists a big-endian uint32 under (\"\", name).
func (d *NomadDB) storeUint32(name string, v uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	return d.store.Put(d.fullKey("", name), buf[:])
}

// retrieveUint32 loads a big-endian uint32, (0, false) if absent.
func (d *NomadDB) retrieveUint32(name string) (uint32, bool, error) {
	data, err := d.store.Get(d.fullKey("", name))
	if err != nil {
		return 0, false, err
	}
	if data == nil {
		return 0, false, nil
	}
	if len(data) != 4 {
		return 0, false, fmt.Errorf("corrupt row %s: want 4 bytes, got %d", name, len(data))
	}
	return binary.BigEndian.Uint32(data), true, nil
}

// StoreUpdateLatestBlockEnd persists the updates stream cursor.
func (d *NomadDB) StoreUpdateLatestBlockEnd(block uint32) error {
	return d.storeUint32(keyUpdatesLastBlock, block)
}

// RetrieveUpdateLatestBlockEnd loads the updates stream cursor.
func (d *NomadDB) RetrieveUpdateLatestBlockEnd() (uint32, bool, error) {
	return d.retrieveUint32(keyUpdatesLastBlock)
}

// StoreMessageLatestBlockEnd persists the messages stream cursor.
func (d *NomadDB) StoreMessageLatestBlockEnd(block uint32) error {
	return d.storeUint32(keyMessagesLastBlock, block)
}

// RetrieveMessageLatestBlockEnd loads the messages stream cursor.
func (d *NomadDB) RetrieveMessageLatestBlockEnd() (uint32, bool, error) {
	return d.retrieveUint32(keyMessagesLastBlock)
}

// StoreLatestRoot records the most recent committed root observed locally.
func (d *NomadDB) StoreLatestRoot(root common.Hash) error {
	return d.store.Put(d.fullKey("", keyLatestRoot), root.Bytes())
}

// RetrieveLatestRoot loads the most recent committed root, zero if unset.
func (d *NomadDB) RetrieveLatestRoot() (common.Hash, error) {
	data, err := d.store.Get(d.fullKey("", keyLatestRoot))
	if err != nil || data == nil {
		return common.Hash{}, err
	}
	return common.BytesToHash(data), nil
}

// StoreLeaf persists the accumulator leaf hash at index.
func (d *NomadDB) StoreLeaf(index uint32, leaf common.Hash) error {
	return d.store.Put(d.fullKey(keyLeafByIndex, indexName(index)), leaf.Bytes())
}

// LeafByIndex loads the leaf at index, (zero, false) if absent.
func (d *NomadDB) LeafByIndex(index uint32) (common.Hash, bool, error) {
	data, err := d.store.Get(d.fullKey(keyLeafByIndex, indexName(index)))
	if err != nil || data == nil {
		return common.Hash{}, false, err
	}
	return common.BytesToHash(data), true, nil
}

// StoreCommittedMessage persists a raw committed message keyed by leaf index
// along with its leaf hash.
func (d *NomadDB) StoreCommittedMessage(message *types.RawCommittedMessage) error {
	if err := d.StoreLeaf(message.LeafIndex, message.Leaf()); err != nil {
		return err
	}
	return d.StoreEncodable(keyMessageByIndex, indexName(message.LeafIndex), message)
}

// MessageByLeafIndex loads the committed message at index, nil if absent.
func (d *NomadDB) MessageByLeafIndex(index uint32) (*types.RawCommittedMessage, error) {
	var message types.RawCommittedMessage
	ok, err := d.RetrieveDecodable(keyMessageByIndex, indexName(index), &message)
	if err != nil || !ok {
		return nil, err
	}
	return &message, nil
}

// StoreProof persists the frozen proof for the leaf at index.
func (d *NomadDB) StoreProof(index uint32, proof *types.Proof) error {
	return d.StoreEncodable(keyProofByIndex, indexName(index), proof)
}

// ProofByIndex loads the proof for the leaf at index, nil if absent.
func (d *NomadDB) ProofByIndex(index uint32) (*types.Proof, error) {
	var proof types.Proof
	ok, err := d.RetrieveDecodable(keyProofByIndex, indexName(index), &proof)
	if err != nil || !ok {
		return nil, err
	}
	return &proof, nil
}

// StoreUpdate persists a signed update keyed by its previous root and
// refreshes the latest-root bookkeeping.
func (d *NomadDB) StoreUpdate(update *types.SignedUpdate) error {
	if err := d.StoreEncodable(keyUpdateByPrevRoot, update.Update.PreviousRoot.Hex(), update); err != nil {
		return err
	}
	return d.StoreLatestRoot(update.Update.NewRoot)
}

// UpdateByPreviousRoot loads the signed update whose previous root matches,
// nil if absent.
func (d *NomadDB) UpdateByPreviousRoot(previousRoot common.Hash) (*types.SignedUpdate, error) {
	var update types.SignedUpdate
	ok, err := d.RetrieveDecodable(keyUpdateByPrevRoot, previousRoot.Hex(), &update)
	if err != nil || !ok {
		return nil, err
	}
	return &update, nil
}

// NextTransactionID reserves the next monotonic transaction id.
func (d *NomadDB) NextTransactionID() (uint64, error) {
	key := d.fullKey("", keyTxCounter)
	data, err := d.store.Get(key)
	if err != nil {
		return 0, err
	}
	var next uint64 = 1
	if data != nil {
		if len(data) != 8 {
			return 0, fmt.Errorf("corrupt row %s: want 8 bytes, got %d", keyTxCounter, len(data))
		}
		next = binary.BigEndian.Uint64(data) + 1
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], next)
	if err := d.store.Put(key, buf[:]); err != nil {
		return 0, err
	}
	return next, nil
}

// StorePersistedTransaction upserts a transaction row keyed by id.
func (d *NomadDB) StorePersistedTransaction(tx *types.PersistedTransaction) error {
	return d.StoreEncodable(keyTx, txName(tx.ID), tx)
}

// PersistedTransactionByID loads a transaction row, nil if absent.
func (d *NomadDB) PersistedTransactionByID(id uint64) (*types.PersistedTransaction, error) {
	var tx types.PersistedTransaction
	ok, err := d.RetrieveDecodable(keyTx, txName(id), &tx)
	if err != nil || !ok {
		return nil, err
	}
	return &tx, nil
}

// DeletePersistedTransaction removes a transaction row. Rows are deleted
// only after confirmation or permanent failure.
func (d *NomadDB) DeletePersistedTransaction(id uint64) error {
	return d.store.Delete(d.fullKey(keyTx, txName(id)))
}

// PersistedTransactionIterator visits every transaction row in id order.
// Returning false from fn stops early.
func (d *NomadDB) PersistedTransactionIterator(fn func(tx *types.PersistedTransaction) bool) error {
	prefix := []byte(d.entity + keySep + keyTx + keySep)
	var corrupt error
	err := d.store.IteratePrefix(prefix, func(key, value []byte) bool {
		var tx types.PersistedTransaction
		if err := tx.UnmarshalNomad(value); err != nil {
			// Corruption is fatal for the pipeline; surface loudly and stop.
			d.logger.Sugar().Errorw("Corrupt persisted transaction row", "key", string(key), "error", err)
			corrupt = fmt.Errorf("corrupt row %s: %w", string(key), err)
			return false
		}
		return fn(&tx)
	})
	if err != nil {
		return err
	}
	return corrupt
}

// indexName renders a u32 index as a fixed-width name so lexicographic key
// order matches numeric order.
func indexName(index uint32) string {
	return fmt.Sprintf("%010d", index)
}

// txName renders a u64 id as a fixed-width name so lexicographic key order
// matches numeric order.
func txName(id uint64) string {
	return fmt.Sprintf("%020d", id)
}
