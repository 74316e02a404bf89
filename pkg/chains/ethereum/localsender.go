package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	goethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/nomad-xyz/nomad-go/pkg/submitter"
	"github.com/nomad-xyz/nomad-go/pkg/types"
)

// LocalSender dispatches via direct RPC with a locally held transaction
// key. The dispatch reference is the transaction hash.
type LocalSender struct {
	client     *ethclient.Client
	translator submitter.ITxTranslator
	key        *ecdsa.PrivateKey
	from       common.Address
	chainID    *big.Int
	logger     *zap.Logger
}

var _ submitter.ITxSender = (*LocalSender)(nil)

// NewLocalSender builds a direct-RPC sender. The chain id is fetched once
// at construction.
func NewLocalSender(
	client *ethclient.Client,
	translator submitter.ITxTranslator,
	privateKeyHex string,
	logger *zap.Logger,
) (*LocalSender, error) {
	key, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid transaction key: %w", err)
	}
	chainID, err := client.ChainID(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chain id: %w", err)
	}
	return &LocalSender{
		client:     client,
		translator: translator,
		key:        key,
		from:       crypto.PubkeyToAddress(key.PublicKey),
		chainID:    chainID,
		logger:     logger,
	}, nil
}

// Backend names the dispatch path.
func (l *LocalSender) Backend() string {
	return "local"
}

// Dispatch translates, signs and broadcasts the transaction.
func (l *LocalSender) Dispatch(ctx context.Context, tx *types.PersistedTransaction) (string, error) {
	dest, data, err := l.translator.Convert(tx)
	if err != nil {
		return "", fmt.Errorf("failed to translate tx %d: %w", tx.ID, err)
	}

	nonce, err := l.client.PendingNonceAt(ctx, l.from)
	if err != nil {
		return "", fmt.Errorf("failed to fetch nonce: %w", err)
	}
	gasPrice, err := l.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to fetch gas price: %w", err)
	}
	gasLimit, err := l.client.EstimateGas(ctx, goethereum.CallMsg{
		From: l.from,
		To:   &dest,
		Data: data,
	})
	if err != nil {
		return "", fmt.Errorf("gas estimation failed: %w", err)
	}

	unsigned := ethtypes.NewTransaction(nonce, dest, big.NewInt(0), gasLimit, gasPrice, data)
	signed, err := ethtypes.SignTx(unsigned, ethtypes.LatestSignerForChainID(l.chainID), l.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}
	if err := l.client.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("failed to broadcast transaction: %w", err)
	}

	hash := signed.Hash()
	l.logger.Sugar().Infow("Transaction broadcast", "id", tx.ID, "hash", hash.Hex())
	return hash.Hex(), nil
}

// Status resolves a broadcast transaction: absent from node and mempool
// means dropped, pending means seen, mined means confirmed or reverted.
func (l *LocalSender) Status(ctx context.Context, ref string) (types.TxConfirmEvent, error) {
	hash := common.HexToHash(ref)
	_, pending, err := l.client.TransactionByHash(ctx, hash)
	if errors.Is(err, goethereum.NotFound) {
		return types.TxDropped, nil
	}
	if err != nil {
		return types.TxSeen, err
	}
	if pending {
		return types.TxSeen, nil
	}
	receipt, err := l.client.TransactionReceipt(ctx, hash)
	if errors.Is(err, goethereum.NotFound) {
		return types.TxSeen, nil
	}
	if err != nil {
		return types.TxSeen, err
	}
	if receipt.Status == ethtypes.ReceiptStatusSuccessful {
		return types.TxConfirmed, nil
	}
	return types.TxDropped, nil
}
