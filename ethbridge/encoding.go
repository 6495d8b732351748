package ethbridge

import (
	"errors"

	ssz "github.com/ferranbt/fastssz"

	"github.com/geanlabs/ledger/types"
)

var ErrTooManyTransfers = errors.New("too many transfers in event")

const (
	transferSize       = 48
	eventFixedSize     = 1 + 8 + 4
	transferChunkLimit = MaxTransfersPerEvent
)

// MarshalSSZTo ssz marshals the Transfer object to a target array
func (t *Transfer) MarshalSSZTo(buf []byte) (dst []byte, err error) {
	dst = ssz.MarshalUint64(buf, uint64(t.Amount))
	dst = append(dst, t.Asset[:]...)
	dst = append(dst, t.Receiver[:]...)
	return
}

// UnmarshalSSZ ssz unmarshals the Transfer object
func (t *Transfer) UnmarshalSSZ(buf []byte) error {
	if len(buf) != transferSize {
		return ssz.ErrSize
	}
	t.Amount = types.Amount(ssz.UnmarshallUint64(buf[0:8]))
	copy(t.Asset[:], buf[8:28])
	copy(t.Receiver[:], buf[28:48])
	return nil
}

// HashTreeRootWith ssz hashes the Transfer object with a hasher
func (t *Transfer) HashTreeRootWith(hh ssz.HashWalker) (err error) {
	indx := hh.Index()
	hh.PutUint64(uint64(t.Amount))
	hh.PutBytes(t.Asset[:])
	hh.PutBytes(t.Receiver[:])
	hh.Merkleize(indx)
	return
}

// MarshalSSZ ssz marshals the EthereumEvent object
func (e *EthereumEvent) MarshalSSZ() ([]byte, error) {
	return ssz.MarshalSSZ(e)
}

// MarshalSSZTo ssz marshals the EthereumEvent object to a target array
func (e *EthereumEvent) MarshalSSZTo(buf []byte) (dst []byte, err error) {
	dst = buf
	dst = ssz.MarshalUint8(dst, uint8(e.Kind))
	dst = ssz.MarshalUint64(dst, e.Nonce)

	// Offset (2) 'Transfers'
	dst = ssz.WriteOffset(dst, eventFixedSize)

	// Field (2) 'Transfers'
	if len(e.Transfers) > MaxTransfersPerEvent {
		err = ErrTooManyTransfers
		return
	}
	for ii := range e.Transfers {
		if dst, err = e.Transfers[ii].MarshalSSZTo(dst); err != nil {
			return
		}
	}
	return
}

// UnmarshalSSZ ssz unmarshals the EthereumEvent object
func (e *EthereumEvent) UnmarshalSSZ(buf []byte) error {
	size := uint64(len(buf))
	if size < eventFixedSize {
		return ssz.ErrSize
	}
	e.Kind = EventKind(ssz.UnmarshallUint8(buf[0:1]))
	e.Nonce = ssz.UnmarshallUint64(buf[1:9])
	if o2 := ssz.ReadOffset(buf[9:13]); o2 != eventFixedSize {
		return ssz.ErrOffset
	}
	tail := buf[eventFixedSize:]
	if len(tail)%transferSize != 0 {
		return ssz.ErrSize
	}
	num := len(tail) / transferSize
	if num > MaxTransfersPerEvent {
		return ErrTooManyTransfers
	}
	e.Transfers = make([]Transfer, num)
	for ii := 0; ii < num; ii++ {
		if err := e.Transfers[ii].UnmarshalSSZ(tail[ii*transferSize : (ii+1)*transferSize]); err != nil {
			return err
		}
	}
	return nil
}

// SizeSSZ returns the ssz encoded size in bytes for the EthereumEvent object
func (e *EthereumEvent) SizeSSZ() int {
	return eventFixedSize + len(e.Transfers)*transferSize
}

// HashTreeRoot ssz hashes the EthereumEvent object
func (e *EthereumEvent) HashTreeRoot() ([32]byte, error) {
	return ssz.HashWithDefaultHasher(e)
}

// HashTreeRootWith ssz hashes the EthereumEvent object with a hasher
func (e *EthereumEvent) HashTreeRootWith(hh ssz.HashWalker) (err error) {
	indx := hh.Index()
	hh.PutUint8(uint8(e.Kind))
	hh.PutUint64(e.Nonce)

	// Field (2) 'Transfers'
	{
		subIndx := hh.Index()
		num := uint64(len(e.Transfers))
		if num > MaxTransfersPerEvent {
			err = ErrTooManyTransfers
			return
		}
		for ii := range e.Transfers {
			if err = e.Transfers[ii].HashTreeRootWith(hh); err != nil {
				return
			}
		}
		hh.MerkleizeWithMixin(subIndx, num, transferChunkLimit)
	}

	hh.Merkleize(indx)
	return
}

// GetTree ssz hashes the EthereumEvent object
func (e *EthereumEvent) GetTree() (*ssz.Node, error) {
	return ssz.ProofTree(e)
}

func encodeUint64(v uint64) []byte { return ssz.MarshalUint64(make([]byte, 0, 8), v) }

func decodeUint64(buf []byte) uint64 { return ssz.UnmarshallUint64(buf) }
