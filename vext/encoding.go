package vext

import (
	"fmt"

	ssz "github.com/ferranbt/fastssz"

	"github.com/geanlabs/ledger/ethbridge"
	"github.com/geanlabs/ledger/types"
)

const (
	ethEventsFixedSize = 20 + 8 + 4
	signedEventsFixed  = 4 + 64
	bridgePoolSize     = 20 + 8 + 32 + 8 + EthSigLength
	valSetFixedSize    = 20 + 8 + 4 + EthSigLength
	ethPowerSize       = 20 + 8
	digestMaxExts      = 1024
)

func (v *EthEventsVext) hash() types.Hash {
	root, err := v.HashTreeRoot()
	if err != nil {
		panic(fmt.Sprintf("events vext hash: %v", err))
	}
	return types.Hash(root)
}

// MarshalSSZ ssz marshals the EthEventsVext object
func (v *EthEventsVext) MarshalSSZ() ([]byte, error) {
	return ssz.MarshalSSZ(v)
}

// MarshalSSZTo ssz marshals the EthEventsVext object to a target array
func (v *EthEventsVext) MarshalSSZTo(buf []byte) (dst []byte, err error) {
	dst = append(buf, v.Validator[:]...)
	dst = ssz.MarshalUint64(dst, uint64(v.BlockHeight))

	// Offset (2) 'Events'
	dst = ssz.WriteOffset(dst, ethEventsFixedSize)

	// Field (2) 'Events'
	if len(v.Events) > MaxEventsPerVext {
		err = ErrTooManyItems
		return
	}
	offset := 4 * len(v.Events)
	for ii := range v.Events {
		dst = ssz.WriteOffset(dst, offset)
		offset += v.Events[ii].SizeSSZ()
	}
	for ii := range v.Events {
		if dst, err = v.Events[ii].MarshalSSZTo(dst); err != nil {
			return
		}
	}
	return
}

// UnmarshalSSZ ssz unmarshals the EthEventsVext object
func (v *EthEventsVext) UnmarshalSSZ(buf []byte) error {
	if len(buf) < ethEventsFixedSize {
		return ssz.ErrSize
	}
	copy(v.Validator[:], buf[0:20])
	v.BlockHeight = types.BlockHeight(ssz.UnmarshallUint64(buf[20:28]))
	if o := ssz.ReadOffset(buf[28:32]); o != ethEventsFixedSize {
		return ssz.ErrOffset
	}
	elems, err := splitDynamic(buf[ethEventsFixedSize:], MaxEventsPerVext)
	if err != nil {
		return err
	}
	v.Events = make([]ethbridge.EthereumEvent, len(elems))
	for ii, elem := range elems {
		if err := v.Events[ii].UnmarshalSSZ(elem); err != nil {
			return err
		}
	}
	return nil
}

// SizeSSZ returns the ssz encoded size in bytes for the EthEventsVext object
func (v *EthEventsVext) SizeSSZ() int {
	size := ethEventsFixedSize + 4*len(v.Events)
	for ii := range v.Events {
		size += v.Events[ii].SizeSSZ()
	}
	return size
}

// HashTreeRoot ssz hashes the EthEventsVext object
func (v *EthEventsVext) HashTreeRoot() ([32]byte, error) {
	return ssz.HashWithDefaultHasher(v)
}

// HashTreeRootWith ssz hashes the EthEventsVext object with a hasher
func (v *EthEventsVext) HashTreeRootWith(hh ssz.HashWalker) (err error) {
	indx := hh.Index()
	hh.PutBytes(v.Validator[:])
	hh.PutUint64(uint64(v.BlockHeight))

	// Field (2) 'Events'
	{
		subIndx := hh.Index()
		num := uint64(len(v.Events))
		if num > MaxEventsPerVext {
			err = ErrTooManyItems
			return
		}
		for ii := range v.Events {
			if err = v.Events[ii].HashTreeRootWith(hh); err != nil {
				return
			}
		}
		hh.MerkleizeWithMixin(subIndx, num, MaxEventsPerVext)
	}

	hh.Merkleize(indx)
	return
}

// GetTree ssz hashes the EthEventsVext object
func (v *EthEventsVext) GetTree() (*ssz.Node, error) {
	return ssz.ProofTree(v)
}

// MarshalSSZ ssz marshals the SignedEthEvents object
func (s *SignedEthEvents) MarshalSSZ() ([]byte, error) {
	return ssz.MarshalSSZ(s)
}

// MarshalSSZTo ssz marshals the SignedEthEvents object to a target array
func (s *SignedEthEvents) MarshalSSZTo(buf []byte) (dst []byte, err error) {
	dst = ssz.WriteOffset(buf, signedEventsFixed)
	dst = append(dst, s.Sig[:]...)
	return s.Data.MarshalSSZTo(dst)
}

// UnmarshalSSZ ssz unmarshals the SignedEthEvents object
func (s *SignedEthEvents) UnmarshalSSZ(buf []byte) error {
	if len(buf) < signedEventsFixed {
		return ssz.ErrSize
	}
	if o := ssz.ReadOffset(buf[0:4]); o != signedEventsFixed {
		return ssz.ErrOffset
	}
	copy(s.Sig[:], buf[4:68])
	return s.Data.UnmarshalSSZ(buf[signedEventsFixed:])
}

// SizeSSZ returns the ssz encoded size in bytes for the SignedEthEvents object
func (s *SignedEthEvents) SizeSSZ() int {
	return signedEventsFixed + s.Data.SizeSSZ()
}

// MarshalSSZ ssz marshals the BridgePoolRootVext object
func (b *BridgePoolRootVext) MarshalSSZ() ([]byte, error) {
	return ssz.MarshalSSZ(b)
}

// MarshalSSZTo ssz marshals the BridgePoolRootVext object to a target array
func (b *BridgePoolRootVext) MarshalSSZTo(buf []byte) (dst []byte, err error) {
	dst = append(buf, b.Validator[:]...)
	dst = ssz.MarshalUint64(dst, uint64(b.BlockHeight))
	dst = append(dst, b.Root[:]...)
	dst = ssz.MarshalUint64(dst, b.Nonce)
	dst = append(dst, b.Sig[:]...)
	return
}

// UnmarshalSSZ ssz unmarshals the BridgePoolRootVext object
func (b *BridgePoolRootVext) UnmarshalSSZ(buf []byte) error {
	if len(buf) != bridgePoolSize {
		return ssz.ErrSize
	}
	copy(b.Validator[:], buf[0:20])
	b.BlockHeight = types.BlockHeight(ssz.UnmarshallUint64(buf[20:28]))
	copy(b.Root[:], buf[28:60])
	b.Nonce = ssz.UnmarshallUint64(buf[60:68])
	copy(b.Sig[:], buf[68:])
	return nil
}

// SizeSSZ returns the ssz encoded size in bytes for the BridgePoolRootVext object
func (b *BridgePoolRootVext) SizeSSZ() int { return bridgePoolSize }

// MarshalSSZ ssz marshals the ValSetUpdateVext object
func (u *ValSetUpdateVext) MarshalSSZ() ([]byte, error) {
	return ssz.MarshalSSZ(u)
}

// MarshalSSZTo ssz marshals the ValSetUpdateVext object to a target array
func (u *ValSetUpdateVext) MarshalSSZTo(buf []byte) (dst []byte, err error) {
	dst = append(buf, u.Validator[:]...)
	dst = ssz.MarshalUint64(dst, uint64(u.SigningEpoch))

	// Offset (2) 'VotingPowers'
	dst = ssz.WriteOffset(dst, valSetFixedSize)
	dst = append(dst, u.Sig[:]...)

	// Field (2) 'VotingPowers'
	if len(u.VotingPowers) > MaxVotingPowers {
		err = ErrTooManyItems
		return
	}
	for _, p := range u.VotingPowers {
		dst = append(dst, p.EthAddress[:]...)
		dst = ssz.MarshalUint64(dst, p.Power)
	}
	return
}

// UnmarshalSSZ ssz unmarshals the ValSetUpdateVext object
func (u *ValSetUpdateVext) UnmarshalSSZ(buf []byte) error {
	if len(buf) < valSetFixedSize {
		return ssz.ErrSize
	}
	copy(u.Validator[:], buf[0:20])
	u.SigningEpoch = types.Epoch(ssz.UnmarshallUint64(buf[20:28]))
	if o := ssz.ReadOffset(buf[28:32]); o != valSetFixedSize {
		return ssz.ErrOffset
	}
	copy(u.Sig[:], buf[32:valSetFixedSize])
	tail := buf[valSetFixedSize:]
	if len(tail)%ethPowerSize != 0 {
		return ssz.ErrSize
	}
	num := len(tail) / ethPowerSize
	if num > MaxVotingPowers {
		return ErrTooManyItems
	}
	u.VotingPowers = make([]EthPower, num)
	for ii := range u.VotingPowers {
		chunk := tail[ii*ethPowerSize : (ii+1)*ethPowerSize]
		copy(u.VotingPowers[ii].EthAddress[:], chunk[:20])
		u.VotingPowers[ii].Power = ssz.UnmarshallUint64(chunk[20:])
	}
	return nil
}

// SizeSSZ returns the ssz encoded size in bytes for the ValSetUpdateVext object
func (u *ValSetUpdateVext) SizeSSZ() int {
	return valSetFixedSize + len(u.VotingPowers)*ethPowerSize
}

// EventsDigest bundles the events vote extensions of a quorum of
// validators into one proposer-assembled protocol tx.
type EventsDigest struct {
	Exts []SignedEthEvents
}

// MarshalSSZ ssz marshals the EventsDigest object
func (d *EventsDigest) MarshalSSZ() ([]byte, error) {
	return ssz.MarshalSSZ(d)
}

// MarshalSSZTo ssz marshals the EventsDigest object to a target array
func (d *EventsDigest) MarshalSSZTo(buf []byte) (dst []byte, err error) {
	dst = buf
	if len(d.Exts) > digestMaxExts {
		err = ErrTooManyItems
		return
	}
	offset := 4 * len(d.Exts)
	for ii := range d.Exts {
		dst = ssz.WriteOffset(dst, offset)
		offset += d.Exts[ii].SizeSSZ()
	}
	for ii := range d.Exts {
		if dst, err = d.Exts[ii].MarshalSSZTo(dst); err != nil {
			return
		}
	}
	return
}

// UnmarshalSSZ ssz unmarshals the EventsDigest object
func (d *EventsDigest) UnmarshalSSZ(buf []byte) error {
	elems, err := splitDynamic(buf, digestMaxExts)
	if err != nil {
		return err
	}
	d.Exts = make([]SignedEthEvents, len(elems))
	for ii, elem := range elems {
		if err := d.Exts[ii].UnmarshalSSZ(elem); err != nil {
			return err
		}
	}
	return nil
}

// SizeSSZ returns the ssz encoded size in bytes for the EventsDigest object
func (d *EventsDigest) SizeSSZ() int {
	size := 4 * len(d.Exts)
	for ii := range d.Exts {
		size += d.Exts[ii].SizeSSZ()
	}
	return size
}

// splitDynamic splits an ssz list of variable-size elements.
func splitDynamic(buf []byte, limit int) ([][]byte, error) {
	if len(buf) == 0 {
		return nil, nil
	}
	if len(buf) < 4 {
		return nil, ssz.ErrSize
	}
	first := ssz.ReadOffset(buf[0:4])
	if first%4 != 0 || first == 0 || first > uint64(len(buf)) {
		return nil, ssz.ErrOffset
	}
	num := int(first / 4)
	if num > limit {
		return nil, ErrTooManyItems
	}
	offsets := make([]uint64, num+1)
	for i := 0; i < num; i++ {
		offsets[i] = ssz.ReadOffset(buf[i*4 : (i+1)*4])
		if i > 0 && offsets[i] < offsets[i-1] {
			return nil, ssz.ErrOffset
		}
	}
	offsets[num] = uint64(len(buf))
	if offsets[num-1] > offsets[num] {
		return nil, ssz.ErrOffset
	}
	elems := make([][]byte, num)
	for i := 0; i < num; i++ {
		elems[i] = buf[offsets[i]:offsets[i+1]]
	}
	return elems, nil
}
