package tx

import (
	ssz "github.com/ferranbt/fastssz"

	"github.com/geanlabs/ledger/types"
)

const (
	wrapperHeaderSize   = 85
	protocolHeaderSize  = 33
	decryptedHeaderSize = 33
	headerFixedSize     = 4 + 8 + 8 + 1 + 32 + wrapperHeaderSize + protocolHeaderSize + decryptedHeaderSize
	signatureSize       = 96
	txFixedSize         = 12
)

// MarshalSSZ ssz marshals the WrapperHeader object
func (w *WrapperHeader) MarshalSSZ() ([]byte, error) {
	return ssz.MarshalSSZ(w)
}

// MarshalSSZTo ssz marshals the WrapperHeader object to a target array
func (w *WrapperHeader) MarshalSSZTo(buf []byte) (dst []byte, err error) {
	dst = buf
	dst = ssz.MarshalUint64(dst, uint64(w.FeeAmount))
	dst = append(dst, w.FeeToken[:]...)
	dst = append(dst, w.PayerPK[:]...)
	dst = ssz.MarshalUint64(dst, w.GasLimit)
	pow := w.Pow
	dst = ssz.MarshalBool(dst, pow != nil)
	if pow == nil {
		pow = &PowSolution{}
	}
	dst = ssz.MarshalUint64(dst, pow.Counter)
	dst = ssz.MarshalUint64(dst, pow.Nonce)
	return
}

// UnmarshalSSZ ssz unmarshals the WrapperHeader object
func (w *WrapperHeader) UnmarshalSSZ(buf []byte) error {
	if len(buf) != wrapperHeaderSize {
		return ssz.ErrSize
	}
	w.FeeAmount = types.Amount(ssz.UnmarshallUint64(buf[0:8]))
	copy(w.FeeToken[:], buf[8:28])
	copy(w.PayerPK[:], buf[28:60])
	w.GasLimit = ssz.UnmarshallUint64(buf[60:68])
	switch buf[68] {
	case 0:
		w.Pow = nil
	case 1:
		w.Pow = &PowSolution{
			Counter: ssz.UnmarshallUint64(buf[69:77]),
			Nonce:   ssz.UnmarshallUint64(buf[77:85]),
		}
	default:
		return ssz.ErrSize
	}
	return nil
}

// SizeSSZ returns the ssz encoded size in bytes for the WrapperHeader object
func (w *WrapperHeader) SizeSSZ() int { return wrapperHeaderSize }

// HashTreeRoot ssz hashes the WrapperHeader object
func (w *WrapperHeader) HashTreeRoot() ([32]byte, error) {
	return ssz.HashWithDefaultHasher(w)
}

// HashTreeRootWith ssz hashes the WrapperHeader object with a hasher
func (w *WrapperHeader) HashTreeRootWith(hh ssz.HashWalker) (err error) {
	indx := hh.Index()
	hh.PutUint64(uint64(w.FeeAmount))
	hh.PutBytes(w.FeeToken[:])
	hh.PutBytes(w.PayerPK[:])
	hh.PutUint64(w.GasLimit)
	pow := w.Pow
	hh.PutBool(pow != nil)
	if pow == nil {
		pow = &PowSolution{}
	}
	hh.PutUint64(pow.Counter)
	hh.PutUint64(pow.Nonce)
	hh.Merkleize(indx)
	return
}

// GetTree ssz hashes the WrapperHeader object
func (w *WrapperHeader) GetTree() (*ssz.Node, error) {
	return ssz.ProofTree(w)
}

// MarshalSSZ ssz marshals the ProtocolHeader object
func (p *ProtocolHeader) MarshalSSZ() ([]byte, error) {
	return ssz.MarshalSSZ(p)
}

// MarshalSSZTo ssz marshals the ProtocolHeader object to a target array
func (p *ProtocolHeader) MarshalSSZTo(buf []byte) (dst []byte, err error) {
	dst = buf
	dst = append(dst, p.SignerPK[:]...)
	dst = ssz.MarshalUint8(dst, uint8(p.Type))
	return
}

// UnmarshalSSZ ssz unmarshals the ProtocolHeader object
func (p *ProtocolHeader) UnmarshalSSZ(buf []byte) error {
	if len(buf) != protocolHeaderSize {
		return ssz.ErrSize
	}
	copy(p.SignerPK[:], buf[0:32])
	p.Type = ProtocolType(ssz.UnmarshallUint8(buf[32:33]))
	return nil
}

// SizeSSZ returns the ssz encoded size in bytes for the ProtocolHeader object
func (p *ProtocolHeader) SizeSSZ() int { return protocolHeaderSize }

// HashTreeRoot ssz hashes the ProtocolHeader object
func (p *ProtocolHeader) HashTreeRoot() ([32]byte, error) {
	return ssz.HashWithDefaultHasher(p)
}

// HashTreeRootWith ssz hashes the ProtocolHeader object with a hasher
func (p *ProtocolHeader) HashTreeRootWith(hh ssz.HashWalker) (err error) {
	indx := hh.Index()
	hh.PutBytes(p.SignerPK[:])
	hh.PutUint8(uint8(p.Type))
	hh.Merkleize(indx)
	return
}

// GetTree ssz hashes the ProtocolHeader object
func (p *ProtocolHeader) GetTree() (*ssz.Node, error) {
	return ssz.ProofTree(p)
}

// MarshalSSZ ssz marshals the DecryptedHeader object
func (d *DecryptedHeader) MarshalSSZ() ([]byte, error) {
	return ssz.MarshalSSZ(d)
}

// MarshalSSZTo ssz marshals the DecryptedHeader object to a target array
func (d *DecryptedHeader) MarshalSSZTo(buf []byte) (dst []byte, err error) {
	dst = buf
	dst = append(dst, d.WrapperHash[:]...)
	dst = ssz.MarshalBool(dst, d.Undecryptable)
	return
}

// UnmarshalSSZ ssz unmarshals the DecryptedHeader object
func (d *DecryptedHeader) UnmarshalSSZ(buf []byte) error {
	if len(buf) != decryptedHeaderSize {
		return ssz.ErrSize
	}
	copy(d.WrapperHash[:], buf[0:32])
	if buf[32] > 1 {
		return ssz.ErrSize
	}
	d.Undecryptable = buf[32] == 1
	return nil
}

// SizeSSZ returns the ssz encoded size in bytes for the DecryptedHeader object
func (d *DecryptedHeader) SizeSSZ() int { return decryptedHeaderSize }

// HashTreeRoot ssz hashes the DecryptedHeader object
func (d *DecryptedHeader) HashTreeRoot() ([32]byte, error) {
	return ssz.HashWithDefaultHasher(d)
}

// HashTreeRootWith ssz hashes the DecryptedHeader object with a hasher
func (d *DecryptedHeader) HashTreeRootWith(hh ssz.HashWalker) (err error) {
	indx := hh.Index()
	hh.PutBytes(d.WrapperHash[:])
	hh.PutBool(d.Undecryptable)
	hh.Merkleize(indx)
	return
}

// GetTree ssz hashes the DecryptedHeader object
func (d *DecryptedHeader) GetTree() (*ssz.Node, error) {
	return ssz.ProofTree(d)
}

// MarshalSSZ ssz marshals the Header object
func (h *Header) MarshalSSZ() ([]byte, error) {
	return ssz.MarshalSSZ(h)
}

// MarshalSSZTo ssz marshals the Header object to a target array
func (h *Header) MarshalSSZTo(buf []byte) (dst []byte, err error) {
	dst = buf

	// Offset (0) 'ChainID'
	dst = ssz.WriteOffset(dst, headerFixedSize)

	dst = ssz.MarshalUint64(dst, h.Expiration)
	dst = ssz.MarshalUint64(dst, h.Timestamp)
	dst = ssz.MarshalUint8(dst, uint8(h.Kind))
	dst = append(dst, h.DataHash[:]...)
	if dst, err = h.Wrapper.MarshalSSZTo(dst); err != nil {
		return
	}
	if dst, err = h.Protocol.MarshalSSZTo(dst); err != nil {
		return
	}
	if dst, err = h.Decrypted.MarshalSSZTo(dst); err != nil {
		return
	}

	// Field (0) 'ChainID'
	if len(h.ChainID) > types.MaxChainIDLength {
		err = ErrChainIDTooLong
		return
	}
	dst = append(dst, h.ChainID...)
	return
}

// UnmarshalSSZ ssz unmarshals the Header object
func (h *Header) UnmarshalSSZ(buf []byte) error {
	size := uint64(len(buf))
	if size < headerFixedSize {
		return ssz.ErrSize
	}
	if o0 := ssz.ReadOffset(buf[0:4]); o0 != headerFixedSize {
		return ssz.ErrOffset
	}
	h.Expiration = ssz.UnmarshallUint64(buf[4:12])
	h.Timestamp = ssz.UnmarshallUint64(buf[12:20])
	h.Kind = Kind(ssz.UnmarshallUint8(buf[20:21]))
	copy(h.DataHash[:], buf[21:53])
	if err := h.Wrapper.UnmarshalSSZ(buf[53:138]); err != nil {
		return err
	}
	if err := h.Protocol.UnmarshalSSZ(buf[138:171]); err != nil {
		return err
	}
	if err := h.Decrypted.UnmarshalSSZ(buf[171:204]); err != nil {
		return err
	}
	tail := buf[headerFixedSize:]
	if len(tail) > types.MaxChainIDLength {
		return ErrChainIDTooLong
	}
	h.ChainID = types.ChainID(tail)
	return nil
}

// SizeSSZ returns the ssz encoded size in bytes for the Header object
func (h *Header) SizeSSZ() int {
	return headerFixedSize + len(h.ChainID)
}

// HashTreeRoot ssz hashes the Header object
func (h *Header) HashTreeRoot() ([32]byte, error) {
	return ssz.HashWithDefaultHasher(h)
}

// HashTreeRootWith ssz hashes the Header object with a hasher
func (h *Header) HashTreeRootWith(hh ssz.HashWalker) (err error) {
	indx := hh.Index()

	// Field (0) 'ChainID'
	{
		elemIndx := hh.Index()
		byteLen := uint64(len(h.ChainID))
		if byteLen > types.MaxChainIDLength {
			err = ErrChainIDTooLong
			return
		}
		hh.AppendBytes32([]byte(h.ChainID))
		hh.MerkleizeWithMixin(elemIndx, byteLen, (types.MaxChainIDLength+31)/32)
	}

	hh.PutUint64(h.Expiration)
	hh.PutUint64(h.Timestamp)
	hh.PutUint8(uint8(h.Kind))
	hh.PutBytes(h.DataHash[:])
	if err = h.Wrapper.HashTreeRootWith(hh); err != nil {
		return
	}
	if err = h.Protocol.HashTreeRootWith(hh); err != nil {
		return
	}
	if err = h.Decrypted.HashTreeRootWith(hh); err != nil {
		return
	}

	hh.Merkleize(indx)
	return
}

// GetTree ssz hashes the Header object
func (h *Header) GetTree() (*ssz.Node, error) {
	return ssz.ProofTree(h)
}

// MarshalSSZTo ssz marshals the Signature object to a target array
func (s *Signature) MarshalSSZTo(buf []byte) (dst []byte, err error) {
	dst = append(buf, s.PubKey[:]...)
	dst = append(dst, s.Sig[:]...)
	return
}

// UnmarshalSSZ ssz unmarshals the Signature object
func (s *Signature) UnmarshalSSZ(buf []byte) error {
	if len(buf) != signatureSize {
		return ssz.ErrSize
	}
	copy(s.PubKey[:], buf[0:32])
	copy(s.Sig[:], buf[32:96])
	return nil
}

// MarshalSSZ ssz marshals the Tx object
func (t *Tx) MarshalSSZ() ([]byte, error) {
	return ssz.MarshalSSZ(t)
}

// MarshalSSZTo ssz marshals the Tx object to a target array
func (t *Tx) MarshalSSZTo(buf []byte) (dst []byte, err error) {
	dst = buf
	offset := txFixedSize

	// Offset (0) 'Header'
	dst = ssz.WriteOffset(dst, offset)
	offset += t.Header.SizeSSZ()

	// Offset (1) 'Data'
	dst = ssz.WriteOffset(dst, offset)
	offset += len(t.Data)

	// Offset (2) 'Signatures'
	dst = ssz.WriteOffset(dst, offset)

	// Field (0) 'Header'
	if dst, err = t.Header.MarshalSSZTo(dst); err != nil {
		return
	}

	// Field (1) 'Data'
	if len(t.Data) > MaxDataLength {
		err = ErrDataTooLong
		return
	}
	dst = append(dst, t.Data...)

	// Field (2) 'Signatures'
	if len(t.Signatures) > MaxSignatures {
		err = ErrTooManySigs
		return
	}
	for ii := range t.Signatures {
		if dst, err = t.Signatures[ii].MarshalSSZTo(dst); err != nil {
			return
		}
	}
	return
}

// UnmarshalSSZ ssz unmarshals the Tx object
func (t *Tx) UnmarshalSSZ(buf []byte) error {
	size := uint64(len(buf))
	if size < txFixedSize {
		return ssz.ErrSize
	}
	o0 := ssz.ReadOffset(buf[0:4])
	o1 := ssz.ReadOffset(buf[4:8])
	o2 := ssz.ReadOffset(buf[8:12])
	if o0 != txFixedSize || o1 < o0 || o2 < o1 || o2 > size {
		return ssz.ErrOffset
	}

	// Field (0) 'Header'
	if err := t.Header.UnmarshalSSZ(buf[o0:o1]); err != nil {
		return err
	}

	// Field (1) 'Data'
	data := buf[o1:o2]
	if len(data) > MaxDataLength {
		return ErrDataTooLong
	}
	t.Data = append([]byte(nil), data...)

	// Field (2) 'Signatures'
	sigs := buf[o2:]
	if len(sigs)%signatureSize != 0 {
		return ssz.ErrSize
	}
	num := len(sigs) / signatureSize
	if num > MaxSignatures {
		return ErrTooManySigs
	}
	t.Signatures = make([]Signature, num)
	for ii := 0; ii < num; ii++ {
		if err := t.Signatures[ii].UnmarshalSSZ(sigs[ii*signatureSize : (ii+1)*signatureSize]); err != nil {
			return err
		}
	}
	return nil
}

// SizeSSZ returns the ssz encoded size in bytes for the Tx object
func (t *Tx) SizeSSZ() int {
	return txFixedSize + t.Header.SizeSSZ() + len(t.Data) + len(t.Signatures)*signatureSize
}
