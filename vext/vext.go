// Package vext implements the vote extensions validators attach to their
// votes: Ethereum event observations, bridge pool root attestations and
// validator set update attestations.
package vext

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/geanlabs/ledger/ethbridge"
	"github.com/geanlabs/ledger/pos"
	"github.com/geanlabs/ledger/storage"
	"github.com/geanlabs/ledger/types"
)

const (
	MaxEventsPerVext = 1024
	MaxVotingPowers  = 1024
	EthSigLength     = crypto.SignatureLength
)

var (
	ErrWrongHeight         = errors.New("vote extension references the wrong height")
	ErrWrongEpoch          = errors.New("vote extension references the wrong epoch")
	ErrUnknownEpoch        = errors.New("epoch of height is unknown")
	ErrNotValidator        = errors.New("signer is not a consensus validator")
	ErrBadSignature        = errors.New("vote extension signature does not verify")
	ErrUnsortedEvents      = errors.New("events are not sorted and de-duplicated")
	ErrRootMismatch        = errors.New("bridge pool root or nonce does not match storage")
	ErrVotingPowerMismatch = errors.New("voting powers do not match the next validator set")
	ErrTooManyItems        = errors.New("vote extension list too long")
)

// EthEventsVext is a validator's view of the Ethereum events pending at a
// height.
type EthEventsVext struct {
	Validator   types.Address
	BlockHeight types.BlockHeight
	Events      []ethbridge.EthereumEvent
}

// SignedEthEvents is an EthEventsVext signed with the protocol key.
type SignedEthEvents struct {
	Data EthEventsVext
	Sig  [64]byte
}

// BridgePoolRootVext attests the bridge pool root and nonce at a height,
// signed with the validator's Ethereum bridge key.
type BridgePoolRootVext struct {
	Validator   types.Address
	BlockHeight types.BlockHeight
	Root        types.Hash
	Nonce       uint64
	Sig         [EthSigLength]byte
}

// EthPower is the voting power of a validator as seen by the Ethereum
// bridge contracts.
type EthPower struct {
	EthAddress common.Address
	Power      uint64
}

// ValSetUpdateVext attests the validator set of the epoch after
// SigningEpoch, signed with the validator's Ethereum bridge key.
type ValSetUpdateVext struct {
	Validator    types.Address
	SigningEpoch types.Epoch
	VotingPowers []EthPower
	Sig          [EthSigLength]byte
}

// Context is the committed state vote extensions are validated against.
type Context struct {
	Reader     storage.Reader
	LastHeight types.BlockHeight
	LastEpoch  types.Epoch
	Epochs     types.Epochs
}

// CraftEthEvents signs events observed at height.
func CraftEthEvents(key ed25519.PrivateKey, validator types.Address, height types.BlockHeight,
	events []ethbridge.EthereumEvent) *SignedEthEvents {
	ext := &SignedEthEvents{Data: EthEventsVext{Validator: validator, BlockHeight: height, Events: events}}
	h := ext.Data.hash()
	copy(ext.Sig[:], ed25519.Sign(key, h[:]))
	return ext
}

// ValidateEthEvents checks ext and returns the signer's voting power.
func ValidateEthEvents(ctx *Context, ext *SignedEthEvents) (*pos.Validator, uint64, error) {
	if ext.Data.BlockHeight != ctx.LastHeight {
		return nil, 0, fmt.Errorf("%w: got %d, last committed %d", ErrWrongHeight, ext.Data.BlockHeight, ctx.LastHeight)
	}
	val, power, err := bondedAt(ctx, ext.Data.Validator, ext.Data.BlockHeight)
	if err != nil {
		return nil, 0, err
	}
	h := ext.Data.hash()
	if !ed25519.Verify(ed25519.PublicKey(val.ProtocolKey[:]), h[:], ext.Sig[:]) {
		return nil, 0, ErrBadSignature
	}
	if !ethbridge.IsSortedSet(ext.Data.Events) {
		return nil, 0, ErrUnsortedEvents
	}
	return val, power, nil
}

// BridgePoolMessage is the keccak hash signed in a bridge pool root
// attestation.
func BridgePoolMessage(root types.Hash, nonce uint64) []byte {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], nonce)
	return crypto.Keccak256(root[:], n[:])
}

// CraftBridgePoolRoot signs the bridge pool root and nonce with the
// Ethereum bridge key.
func CraftBridgePoolRoot(key *ecdsa.PrivateKey, validator types.Address, height types.BlockHeight,
	root ethbridge.PoolRoot) (*BridgePoolRootVext, error) {
	sig, err := crypto.Sign(BridgePoolMessage(root.Root, root.Nonce), key)
	if err != nil {
		return nil, fmt.Errorf("sign bridge pool root: %w", err)
	}
	ext := &BridgePoolRootVext{Validator: validator, BlockHeight: height, Root: root.Root, Nonce: root.Nonce}
	copy(ext.Sig[:], sig)
	return ext, nil
}

// ValidateBridgePoolRoot checks ext and returns the signer's voting power.
func ValidateBridgePoolRoot(ctx *Context, ext *BridgePoolRootVext) (*pos.Validator, uint64, error) {
	if ext.BlockHeight != ctx.LastHeight {
		return nil, 0, fmt.Errorf("%w: got %d, last committed %d", ErrWrongHeight, ext.BlockHeight, ctx.LastHeight)
	}
	val, power, err := bondedAt(ctx, ext.Validator, ext.BlockHeight)
	if err != nil {
		return nil, 0, err
	}
	if err := verifyEthSig(BridgePoolMessage(ext.Root, ext.Nonce), ext.Sig[:], val.EthHotKey); err != nil {
		return nil, 0, err
	}
	current, err := ethbridge.ReadPoolRoot(ctx.Reader)
	if err != nil {
		return nil, 0, err
	}
	if current.Root != ext.Root || current.Nonce != ext.Nonce {
		return nil, 0, ErrRootMismatch
	}
	return val, power, nil
}

// ValSetMessage is the keccak hash signed in a validator set update
// attestation.
func ValSetMessage(powers []EthPower, nextEpoch types.Epoch) []byte {
	buf := make([]byte, 0, len(powers)*28+8)
	for _, p := range powers {
		buf = append(buf, p.EthAddress[:]...)
		buf = binary.BigEndian.AppendUint64(buf, p.Power)
	}
	buf = binary.BigEndian.AppendUint64(buf, uint64(nextEpoch))
	return crypto.Keccak256(buf)
}

// VotingPowers returns the bridge view of the consensus set of epoch,
// ordered by Ethereum address.
func VotingPowers(r storage.Reader, epoch types.Epoch) ([]EthPower, error) {
	set, err := pos.ConsensusSet(r, epoch)
	if err != nil {
		return nil, err
	}
	powers := make([]EthPower, 0, len(set))
	for _, member := range set {
		v, ok, err := pos.ReadValidator(r, member.Address)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w %s", pos.ErrUnknownValidator, member.Address)
		}
		powers = append(powers, EthPower{EthAddress: v.EthHotKey, Power: member.Stake})
	}
	sort.Slice(powers, func(i, j int) bool {
		return bytes.Compare(powers[i].EthAddress[:], powers[j].EthAddress[:]) < 0
	})
	return powers, nil
}

// CraftValSetUpdate attests the validator set of signingEpoch+1.
func CraftValSetUpdate(key *ecdsa.PrivateKey, validator types.Address, signingEpoch types.Epoch,
	powers []EthPower) (*ValSetUpdateVext, error) {
	sig, err := crypto.Sign(ValSetMessage(powers, signingEpoch+1), key)
	if err != nil {
		return nil, fmt.Errorf("sign validator set update: %w", err)
	}
	ext := &ValSetUpdateVext{Validator: validator, SigningEpoch: signingEpoch, VotingPowers: powers}
	copy(ext.Sig[:], sig)
	return ext, nil
}

// ValidateValSetUpdate checks ext and returns the signer's voting power in
// the signing epoch. Only the epoch of the last committed block may be
// signed: the next validator set is readable one block before the epoch
// switch, so extensions lag the current epoch by one.
func ValidateValSetUpdate(ctx *Context, ext *ValSetUpdateVext) (*pos.Validator, uint64, error) {
	if ext.SigningEpoch != ctx.LastEpoch {
		return nil, 0, fmt.Errorf("%w: got %d, last epoch %d", ErrWrongEpoch, ext.SigningEpoch, ctx.LastEpoch)
	}
	val, power, err := memberAt(ctx.Reader, ext.Validator, ext.SigningEpoch)
	if err != nil {
		return nil, 0, err
	}
	if err := verifyEthSig(ValSetMessage(ext.VotingPowers, ext.SigningEpoch+1), ext.Sig[:], val.EthHotKey); err != nil {
		return nil, 0, err
	}
	want, err := VotingPowers(ctx.Reader, ext.SigningEpoch+1)
	if err != nil {
		return nil, 0, err
	}
	if len(want) != len(ext.VotingPowers) {
		return nil, 0, ErrVotingPowerMismatch
	}
	for i := range want {
		if want[i] != ext.VotingPowers[i] {
			return nil, 0, ErrVotingPowerMismatch
		}
	}
	return val, power, nil
}

func bondedAt(ctx *Context, addr types.Address, height types.BlockHeight) (*pos.Validator, uint64, error) {
	epoch, ok := ctx.Epochs.GetEpoch(height)
	if !ok {
		return nil, 0, fmt.Errorf("%w: height %d", ErrUnknownEpoch, height)
	}
	return memberAt(ctx.Reader, addr, epoch)
}

func memberAt(r storage.Reader, addr types.Address, epoch types.Epoch) (*pos.Validator, uint64, error) {
	power, ok, err := pos.VotingPower(r, addr, epoch)
	if err != nil {
		return nil, 0, err
	}
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s at epoch %d", ErrNotValidator, addr, epoch)
	}
	val, ok, err := pos.ReadValidator(r, addr)
	if err != nil {
		return nil, 0, err
	}
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s", ErrNotValidator, addr)
	}
	return val, power, nil
}

func verifyEthSig(msg, sig []byte, want common.Address) error {
	pub, err := crypto.SigToPub(msg, sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if crypto.PubkeyToAddress(*pub) != want {
		return ErrBadSignature
	}
	return nil
}
