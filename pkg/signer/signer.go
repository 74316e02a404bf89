package signer

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/nomad-xyz/nomad-go/pkg/types"
)

// ISigner produces EIP-191 attestations over protocol objects. Implementers
// must support the EIP-155-free variant bit-exactly: on-chain contracts
// recover with a hardcoded v, so v must always land in {27, 28}.
type ISigner interface {
	// Address returns the address corresponding to the signing key.
	Address() common.Address

	// SignMessage signs the EIP-191 prefixed hash of data. V is 27 or 28
	// plus EIP-155 chain folding when the signer is chain-bound.
	SignMessage(data []byte) (types.Signature, error)

	// SignMessageWithoutEIP155 signs like SignMessage but normalizes v to
	// {27, 28} via v = 28 - (v % 2).
	SignMessageWithoutEIP155(data []byte) (types.Signature, error)
}

// SignUpdate attests to an update with the EIP-155-free variant required by
// the on-chain verifier.
func SignUpdate(s ISigner, update types.Update) (*types.SignedUpdate, error) {
	digest := update.SigningHash()
	sig, err := s.SignMessageWithoutEIP155(digest[:])
	if err != nil {
		return nil, fmt.Errorf("failed to sign update: %w", err)
	}
	return &types.SignedUpdate{Update: update, Signature: sig}, nil
}

// SignFailureNotification attests to a failure notification with the
// EIP-155-free variant.
func SignFailureNotification(s ISigner, notification types.FailureNotification) (*types.SignedFailureNotification, error) {
	digest := notification.SigningHash()
	sig, err := s.SignMessageWithoutEIP155(digest[:])
	if err != nil {
		return nil, fmt.Errorf("failed to sign failure notification: %w", err)
	}
	return &types.SignedFailureNotification{Notification: notification, Signature: sig}, nil
}

// PrivateKeySigner signs with a local secp256k1 key. A non-zero chainID
// makes SignMessage emit the EIP-155 chain-folded v, matching wallets bound
// to a specific chain.
type PrivateKeySigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
	chainID uint64
}

// NewPrivateKeySigner parses a hex-encoded private key. chainID of zero
// leaves v in {27, 28}.
func NewPrivateKeySigner(privateKeyHex string, chainID uint64) (*PrivateKeySigner, error) {
	key, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return &PrivateKeySigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		chainID: chainID,
	}, nil
}

// Address returns the signer's address.
func (p *PrivateKeySigner) Address() common.Address {
	return p.address
}

// SignMessage signs the EIP-191 prefixed hash of data.
func (p *PrivateKeySigner) SignMessage(data []byte) (types.Signature, error) {
	digest := types.HashMessage(data)
	raw, err := crypto.Sign(digest.Bytes(), p.key)
	if err != nil {
		return types.Signature{}, fmt.Errorf("secp256k1 signing failed: %w", err)
	}
	v := uint64(raw[64]) + 27
	if p.chainID != 0 {
		v = uint64(raw[64]) + p.chainID*2 + 35
	}
	return types.Signature{
		R: common.BytesToHash(raw[0:32]),
		S: common.BytesToHash(raw[32:64]),
		V: v,
	}, nil
}

// SignMessageWithoutEIP155 signs and folds v back into {27, 28}.
func (p *PrivateKeySigner) SignMessageWithoutEIP155(data []byte) (types.Signature, error) {
	sig, err := p.SignMessage(data)
	if err != nil {
		return types.Signature{}, err
	}
	sig.V = 28 - (sig.V % 2)
	return sig, nil
}
