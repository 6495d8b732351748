// Package tx defines the transaction envelope admitted by the ledger: raw
// payloads, fee-paying wrappers, their decrypted counterparts and protocol
// transactions signed by validators.
package tx

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/geanlabs/ledger/types"
)

// Kind is the envelope kind carried in the header.
type Kind uint8

const (
	KindRaw Kind = iota
	KindWrapper
	KindDecrypted
	KindProtocol
)

func (k Kind) String() string {
	switch k {
	case KindRaw:
		return "raw"
	case KindWrapper:
		return "wrapper"
	case KindDecrypted:
		return "decrypted"
	case KindProtocol:
		return "protocol"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// ProtocolType selects the payload of a protocol tx.
type ProtocolType uint8

const (
	EthEventsVext ProtocolType = iota
	BridgePoolVext
	ValSetUpdateVext
	// EthereumEvents is the digest of a quorum of events vote extensions. It
	// is only ever assembled by a block proposer.
	EthereumEvents
)

func (p ProtocolType) String() string {
	switch p {
	case EthEventsVext:
		return "eth_events_vext"
	case BridgePoolVext:
		return "bridge_pool_vext"
	case ValSetUpdateVext:
		return "validator_set_update_vext"
	case EthereumEvents:
		return "ethereum_events"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(p))
	}
}

const (
	MaxDataLength   = 1 << 20
	MaxSignatures   = 16
	PublicKeyLength = ed25519.PublicKeySize
	SignatureLength = ed25519.SignatureSize

	// MinFee is the wrapper fee charged when genesis does not configure one.
	MinFee types.Amount = 100
)

var (
	ErrChainIDTooLong   = errors.New("chain id too long")
	ErrDataTooLong      = errors.New("tx data too long")
	ErrTooManySigs      = errors.New("too many signatures")
	ErrUnknownKind      = errors.New("unknown tx kind")
	ErrMissingSignature = errors.New("missing signature")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrDataHashMismatch = errors.New("data hash does not match data")
)

// PowSolution is an anti-spam proof of work attached to a wrapper in lieu of
// a fee.
type PowSolution struct {
	Counter uint64
	Nonce   uint64
}

// WrapperHeader carries the fee terms of a wrapper tx.
type WrapperHeader struct {
	// FeeAmount is the most the payer agrees to pay. It must cover the
	// chain's wrapper fee, which is what gets charged.
	FeeAmount types.Amount
	FeeToken  types.Address `ssz-size:"20"`
	PayerPK   [32]byte      `ssz-size:"32"`
	GasLimit  uint64
	Pow       *PowSolution
}

// FeePayer is the implicit address of the payer key.
func (w *WrapperHeader) FeePayer() types.Address {
	return types.AddressFromPublicKey(w.PayerPK[:])
}

// ProtocolHeader identifies the validator signing a protocol tx.
type ProtocolHeader struct {
	SignerPK [32]byte `ssz-size:"32"`
	Type     ProtocolType
}

// DecryptedHeader links a decrypted tx to the wrapper it came from.
type DecryptedHeader struct {
	WrapperHash   types.Hash `ssz-size:"32"`
	Undecryptable bool
}

// Header is the signed part of a tx.
type Header struct {
	ChainID types.ChainID `ssz-max:"64"`
	// Expiration is a unix timestamp, zero when the tx never expires.
	Expiration uint64
	Timestamp  uint64
	Kind       Kind
	DataHash   types.Hash `ssz-size:"32"`
	Wrapper    WrapperHeader
	Protocol   ProtocolHeader
	Decrypted  DecryptedHeader
}

// Hash is the header hash.
func (h *Header) Hash() types.Hash {
	root, err := h.HashTreeRoot()
	if err != nil {
		panic(fmt.Sprintf("header hash: %v", err))
	}
	return types.Hash(root)
}

// RawHash is the hash of the header with the raw kind substituted and the
// kind-specific sub-headers cleared. A wrapper and the decrypted tx derived
// from it share the same raw hash.
func (h *Header) RawHash() types.Hash {
	raw := Header{
		ChainID:    h.ChainID,
		Expiration: h.Expiration,
		Timestamp:  h.Timestamp,
		Kind:       KindRaw,
		DataHash:   h.DataHash,
	}
	return raw.Hash()
}

// Expired reports whether the header expired strictly before blockTime.
func (h *Header) Expired(blockTime uint64) bool {
	return h.Expiration != 0 && h.Expiration < blockTime
}

// Signature is an ed25519 signature over the header hash.
type Signature struct {
	PubKey [32]byte `ssz-size:"32"`
	Sig    [64]byte `ssz-size:"64"`
}

// Tx is the transaction envelope.
type Tx struct {
	Header     Header
	Data       []byte      `ssz-max:"1048576"`
	Signatures []Signature `ssz-max:"16"`
}

// Decode parses an encoded tx.
func Decode(raw []byte) (*Tx, error) {
	t := new(Tx)
	if err := t.UnmarshalSSZ(raw); err != nil {
		return nil, fmt.Errorf("decode tx: %w", err)
	}
	if t.Header.Kind > KindProtocol {
		return nil, fmt.Errorf("decode tx: %w %d", ErrUnknownKind, t.Header.Kind)
	}
	return t, nil
}

// Encode serializes the tx, panicking on a tx that violates the size limits.
func (t *Tx) Encode() []byte {
	raw, err := t.MarshalSSZ()
	if err != nil {
		panic(fmt.Sprintf("encode tx: %v", err))
	}
	return raw
}

// HeaderHash is the hash of the tx header.
func (t *Tx) HeaderHash() types.Hash { return t.Header.Hash() }

// RawHeaderHash is the inner hash used for replay protection.
func (t *Tx) RawHeaderHash() types.Hash { return t.Header.RawHash() }

// SetData replaces the payload and updates the data hash.
func (t *Tx) SetData(data []byte) {
	t.Data = data
	t.Header.DataHash = types.HashBytes(data)
	t.Signatures = nil
}

// Sign appends a signature over the header hash.
func (t *Tx) Sign(key ed25519.PrivateKey) {
	h := t.HeaderHash()
	var sig Signature
	copy(sig.PubKey[:], key.Public().(ed25519.PublicKey))
	copy(sig.Sig[:], ed25519.Sign(key, h[:]))
	t.Signatures = append(t.Signatures, sig)
}

// VerifySignature checks that pk signed the header hash.
func (t *Tx) VerifySignature(pk [32]byte) error {
	h := t.HeaderHash()
	for _, s := range t.Signatures {
		if !bytes.Equal(s.PubKey[:], pk[:]) {
			continue
		}
		if ed25519.Verify(ed25519.PublicKey(s.PubKey[:]), h[:], s.Sig[:]) {
			return nil
		}
		return fmt.Errorf("%w from %x", ErrInvalidSignature, pk[:4])
	}
	return fmt.Errorf("%w from %x", ErrMissingSignature, pk[:4])
}

// ValidateHeader checks the structural integrity of the tx and the
// signatures its kind requires.
func (t *Tx) ValidateHeader() error {
	if t.Header.Kind == KindDecrypted && t.Header.Decrypted.Undecryptable {
		if len(t.Data) != 0 {
			return ErrDataHashMismatch
		}
		return nil
	}
	if t.Header.DataHash != types.HashBytes(t.Data) {
		return ErrDataHashMismatch
	}
	switch t.Header.Kind {
	case KindWrapper:
		return t.VerifySignature(t.Header.Wrapper.PayerPK)
	case KindProtocol:
		return t.VerifySignature(t.Header.Protocol.SignerPK)
	case KindRaw, KindDecrypted:
		return nil
	default:
		return fmt.Errorf("%w %d", ErrUnknownKind, t.Header.Kind)
	}
}

// NewWrapper builds an unsigned wrapper tx around an inner payload.
func NewWrapper(chainID types.ChainID, expiration, timestamp uint64, w WrapperHeader, inner []byte) *Tx {
	t := &Tx{Header: Header{
		ChainID:    chainID,
		Expiration: expiration,
		Timestamp:  timestamp,
		Kind:       KindWrapper,
		Wrapper:    w,
	}}
	t.SetData(inner)
	return t
}

// NewProtocol builds a protocol tx signed by the validator's protocol key.
func NewProtocol(chainID types.ChainID, timestamp uint64, typ ProtocolType, data []byte, key ed25519.PrivateKey) *Tx {
	t := &Tx{Header: Header{
		ChainID:   chainID,
		Timestamp: timestamp,
		Kind:      KindProtocol,
	}}
	copy(t.Header.Protocol.SignerPK[:], key.Public().(ed25519.PublicKey))
	t.Header.Protocol.Type = typ
	t.SetData(data)
	t.Sign(key)
	return t
}

// Decrypt derives the decrypted tx the next block must carry for wrapper.
// A wrapper whose payload does not match its data hash yields an
// undecryptable tx with no data.
func Decrypt(wrapper *Tx) *Tx {
	d := &Tx{Header: wrapper.Header}
	d.Header.Kind = KindDecrypted
	d.Header.Wrapper = WrapperHeader{}
	d.Header.Protocol = ProtocolHeader{}
	d.Header.Decrypted = DecryptedHeader{WrapperHash: wrapper.HeaderHash()}
	if wrapper.Header.DataHash != types.HashBytes(wrapper.Data) {
		d.Header.Decrypted.Undecryptable = true
		return d
	}
	d.Data = append([]byte(nil), wrapper.Data...)
	return d
}
