package ethereum

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/nomad-xyz/nomad-go/pkg/types"
)

// sigBytes renders a signature in the on-chain 65-byte r || s || v form with
// v folded back into {27, 28}. Contracts recover with a hardcoded v.
func sigBytes(sig types.Signature) []byte {
	out := make([]byte, 65)
	copy(out[0:32], sig.R[:])
	copy(out[32:64], sig.S[:])
	out[64] = sig.RecoveryID() + 27
	return out
}

// Home is a read-side wrapper over the home contract. Writes go through the
// persisted transaction queue and the translator.
type Home struct {
	address  common.Address
	contract *bind.BoundContract
}

// NewHome binds the home contract at address.
func NewHome(address common.Address, client *ethclient.Client) *Home {
	return &Home{
		address:  address,
		contract: bind.NewBoundContract(address, homeABI, client, client, client),
	}
}

// Address returns the contract address.
func (h *Home) Address() common.Address {
	return h.address
}

// Updater returns the attestation address the home trusts.
func (h *Home) Updater(ctx context.Context) (common.Address, error) {
	var out []interface{}
	if err := h.contract.Call(&bind.CallOpts{Context: ctx}, &out, "updater"); err != nil {
		return common.Address{}, fmt.Errorf("updater call failed: %w", err)
	}
	return *abiAddress(out[0]), nil
}

// CommittedRoot returns the last root an update committed on chain.
func (h *Home) CommittedRoot(ctx context.Context) (common.Hash, error) {
	var out []interface{}
	if err := h.contract.Call(&bind.CallOpts{Context: ctx}, &out, "committedRoot"); err != nil {
		return common.Hash{}, fmt.Errorf("committedRoot call failed: %w", err)
	}
	return *abiHash(out[0]), nil
}

// Count returns the number of dispatched leaves.
func (h *Home) Count(ctx context.Context) (uint32, error) {
	var out []interface{}
	if err := h.contract.Call(&bind.CallOpts{Context: ctx}, &out, "count"); err != nil {
		return 0, fmt.Errorf("count call failed: %w", err)
	}
	return uint32(out[0].(*big.Int).Uint64()), nil
}

// Replica is a read-side wrapper over a replica contract.
type Replica struct {
	address  common.Address
	contract *bind.BoundContract
}

// NewReplica binds the replica contract at address.
func NewReplica(address common.Address, client *ethclient.Client) *Replica {
	return &Replica{
		address:  address,
		contract: bind.NewBoundContract(address, replicaABI, client, client, client),
	}
}

// Address returns the contract address.
func (r *Replica) Address() common.Address {
	return r.address
}

// CommittedRoot returns the root currently accepted behind the timelock.
func (r *Replica) CommittedRoot(ctx context.Context) (common.Hash, error) {
	var out []interface{}
	if err := r.contract.Call(&bind.CallOpts{Context: ctx}, &out, "committedRoot"); err != nil {
		return common.Hash{}, fmt.Errorf("committedRoot call failed: %w", err)
	}
	return *abiHash(out[0]), nil
}

func abiAddress(v interface{}) *common.Address {
	addr := v.(common.Address)
	return &addr
}

func abiHash(v interface{}) *common.Hash {
	raw := v.([32]byte)
	hash := common.Hash(raw)
	return &hash
}
