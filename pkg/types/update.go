package types

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signature is a secp256k1 signature in (r, s, v) form. V is kept as a
// uint64 so both the {27, 28} form and EIP-155 chain-folded values survive a
// round trip.
type Signature struct {
	R common.Hash
	S common.Hash
	V uint64
}

const signatureLen = 32 + 32 + 8

// MarshalNomad encodes r (32) || s (32) || v (8, big-endian).
func (s *Signature) MarshalNomad() ([]byte, error) {
	buf := make([]byte, signatureLen)
	copy(buf[0:32], s.R[:])
	copy(buf[32:64], s.S[:])
	binary.BigEndian.PutUint64(buf[64:72], s.V)
	return buf, nil
}

// UnmarshalNomad parses an encoded signature.
func (s *Signature) UnmarshalNomad(data []byte) error {
	if len(data) != signatureLen {
		return fmt.Errorf("signature must be %d bytes, got %d", signatureLen, len(data))
	}
	s.R = common.BytesToHash(data[0:32])
	s.S = common.BytesToHash(data[32:64])
	s.V = binary.BigEndian.Uint64(data[64:72])
	return nil
}

// RecoveryID normalizes v to the raw recovery id in {0, 1}, undoing both the
// {27, 28} offset and EIP-155 chain folding.
func (s *Signature) RecoveryID() byte {
	switch {
	case s.V >= 35:
		return byte((s.V - 35) % 2)
	case s.V >= 27:
		return byte(s.V - 27)
	default:
		return byte(s.V % 2)
	}
}

// Recover returns the address that produced this signature over the EIP-191
// prefixed hash of digest.
func (s *Signature) Recover(digest common.Hash) (common.Address, error) {
	sig := make([]byte, 65)
	copy(sig[0:32], s.R[:])
	copy(sig[32:64], s.S[:])
	sig[64] = s.RecoveryID()
	pub, err := crypto.SigToPub(HashMessage(digest[:]).Bytes(), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// HashMessage applies the EIP-191 personal-message prefix and hashes with
// keccak256, matching the digest the on-chain contracts recover against.
func HashMessage(data []byte) common.Hash {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(data))
	return crypto.Keccak256Hash([]byte(prefix), data)
}

// Update attests that the home accumulator advanced from PreviousRoot to
// NewRoot. Updates chain: each NewRoot is the next update's PreviousRoot.
type Update struct {
	HomeDomain   Domain
	PreviousRoot common.Hash
	NewRoot      common.Hash
}

const updateLen = 4 + 32 + 32

// SigningHash is the digest the updater signs:
// keccak256(home_domain_hash(domain) || previous_root || new_root).
func (u *Update) SigningHash() common.Hash {
	domainHash := HomeDomainHash(u.HomeDomain)
	return crypto.Keccak256Hash(domainHash[:], u.PreviousRoot[:], u.NewRoot[:])
}

// MarshalNomad encodes home_domain (4) || previous_root (32) || new_root (32).
func (u *Update) MarshalNomad() ([]byte, error) {
	buf := make([]byte, updateLen)
	binary.BigEndian.PutUint32(buf[0:4], uint32(u.HomeDomain))
	copy(buf[4:36], u.PreviousRoot[:])
	copy(buf[36:68], u.NewRoot[:])
	return buf, nil
}

// UnmarshalNomad parses an encoded update.
func (u *Update) UnmarshalNomad(data []byte) error {
	if len(data) != updateLen {
		return fmt.Errorf("update must be %d bytes, got %d", updateLen, len(data))
	}
	u.HomeDomain = Domain(binary.BigEndian.Uint32(data[0:4]))
	u.PreviousRoot = common.BytesToHash(data[4:36])
	u.NewRoot = common.BytesToHash(data[36:68])
	return nil
}

// SignedUpdate is an update together with the updater's signature over its
// signing hash.
type SignedUpdate struct {
	Update    Update
	Signature Signature
}

// Verify recovers the signer and compares it against the expected updater.
func (s *SignedUpdate) Verify(expected common.Address) error {
	signer, err := s.Signature.Recover(s.Update.SigningHash())
	if err != nil {
		return err
	}
	if signer != expected {
		return &InvalidSignerError{Expected: expected, Actual: signer}
	}
	return nil
}

// MarshalNomad encodes update || signature.
func (s *SignedUpdate) MarshalNomad() ([]byte, error) {
	update, _ := s.Update.MarshalNomad()
	sig, _ := s.Signature.MarshalNomad()
	return append(update, sig...), nil
}

// UnmarshalNomad parses an encoded signed update.
func (s *SignedUpdate) UnmarshalNomad(data []byte) error {
	if len(data) != updateLen+signatureLen {
		return fmt.Errorf("signed update must be %d bytes, got %d", updateLen+signatureLen, len(data))
	}
	if err := s.Update.UnmarshalNomad(data[:updateLen]); err != nil {
		return err
	}
	return s.Signature.UnmarshalNomad(data[updateLen:])
}

// IsDoubleUpdate reports whether two signed updates constitute fraud: the
// same previous root attested to two different new roots.
func (s *SignedUpdate) IsDoubleUpdate(other *SignedUpdate) bool {
	return s.Update.HomeDomain == other.Update.HomeDomain &&
		s.Update.PreviousRoot == other.Update.PreviousRoot &&
		s.Update.NewRoot != other.Update.NewRoot
}

// SignedUpdateWithMeta carries a signed update with the block it was
// observed in, as emitted by indexers.
type SignedUpdateWithMeta struct {
	SignedUpdate SignedUpdate
	BlockNumber  uint32
	LogIndex     uint32
}

// FailureNotification is the killswitch artifact a watcher signs after
// catching the updater committing fraud.
type FailureNotification struct {
	HomeDomain Domain
	Updater    NomadIdentifier
}

const failureNotificationLen = 4 + 32

// SigningHash is the digest the watcher signs:
// keccak256(home_domain_hash(domain) || home_domain.be_bytes || updater).
func (f *FailureNotification) SigningHash() common.Hash {
	domainHash := HomeDomainHash(f.HomeDomain)
	var domain [4]byte
	binary.BigEndian.PutUint32(domain[:], uint32(f.HomeDomain))
	return crypto.Keccak256Hash(domainHash[:], domain[:], f.Updater[:])
}

// MarshalNomad encodes home_domain (4) || updater (32).
func (f *FailureNotification) MarshalNomad() ([]byte, error) {
	buf := make([]byte, failureNotificationLen)
	binary.BigEndian.PutUint32(buf[0:4], uint32(f.HomeDomain))
	copy(buf[4:36], f.Updater[:])
	return buf, nil
}

// UnmarshalNomad parses an encoded failure notification.
func (f *FailureNotification) UnmarshalNomad(data []byte) error {
	if len(data) != failureNotificationLen {
		return fmt.Errorf("failure notification must be %d bytes, got %d", failureNotificationLen, len(data))
	}
	f.HomeDomain = Domain(binary.BigEndian.Uint32(data[0:4]))
	f.Updater = common.BytesToHash(data[4:36])
	return nil
}

// SignedFailureNotification is a failure notification attested by a watcher.
type SignedFailureNotification struct {
	Notification FailureNotification
	Signature    Signature
}

// Verify recovers the signer and compares it against the expected watcher.
func (s *SignedFailureNotification) Verify(expected common.Address) error {
	signer, err := s.Signature.Recover(s.Notification.SigningHash())
	if err != nil {
		return err
	}
	if signer != expected {
		return &InvalidSignerError{Expected: expected, Actual: signer}
	}
	return nil
}

// MarshalNomad encodes notification || signature.
func (s *SignedFailureNotification) MarshalNomad() ([]byte, error) {
	notification, _ := s.Notification.MarshalNomad()
	sig, _ := s.Signature.MarshalNomad()
	return append(notification, sig...), nil
}

// UnmarshalNomad parses an encoded signed failure notification.
func (s *SignedFailureNotification) UnmarshalNomad(data []byte) error {
	if len(data) != failureNotificationLen+signatureLen {
		return fmt.Errorf("signed failure notification must be %d bytes, got %d",
			failureNotificationLen+signatureLen, len(data))
	}
	if err := s.Notification.UnmarshalNomad(data[:failureNotificationLen]); err != nil {
		return err
	}
	return s.Signature.UnmarshalNomad(data[failureNotificationLen:])
}

// InvalidSignerError is returned when a signed object recovers to an
// unexpected address.
type InvalidSignerError struct {
	Expected common.Address
	Actual   common.Address
}

func (e *InvalidSignerError) Error() string {
	return fmt.Sprintf("invalid signer: expected %s, recovered %s", e.Expected.Hex(), e.Actual.Hex())
}

// Equal reports deep equality of two signed updates, signature included.
func (s *SignedUpdate) Equal(other *SignedUpdate) bool {
	a, _ := s.MarshalNomad()
	b, _ := other.MarshalNomad()
	return bytes.Equal(a, b)
}
