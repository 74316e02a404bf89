package submitter

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/nomad-xyz/nomad-go/pkg/types"
)

// ITxTranslator converts a chain-agnostic persisted transaction into a
// chain call: the target contract and its ABI-encoded calldata. Each chain
// family provides one implementation.
type ITxTranslator interface {
	Convert(tx *types.PersistedTransaction) (dest common.Address, data []byte, err error)
}
