package storage

import (
	"fmt"

	ssz "github.com/ferranbt/fastssz"
)

// Marshaler is implemented by SSZ-encodable values.
type Marshaler interface {
	MarshalSSZ() ([]byte, error)
}

// Unmarshaler is implemented by SSZ-decodable values.
type Unmarshaler interface {
	UnmarshalSSZ(buf []byte) error
}

func encodeUint64(v uint64) []byte {
	return ssz.MarshalUint64(make([]byte, 0, 8), v)
}

func decodeUint64(buf []byte) uint64 {
	return ssz.UnmarshallUint64(buf)
}

// ReadUint64 reads a little-endian uint64 value.
func ReadUint64(r Reader, key Key) (uint64, bool, error) {
	raw, _, err := r.Read(key)
	if err != nil {
		return 0, false, err
	}
	if raw == nil {
		return 0, false, nil
	}
	if len(raw) != 8 {
		return 0, false, fmt.Errorf("value of %s: %w", key, ssz.ErrSize)
	}
	return decodeUint64(raw), true, nil
}

// WriteUint64 writes a little-endian uint64 value.
func WriteUint64(w Writer, key Key, v uint64) error {
	_, err := w.Write(key, encodeUint64(v))
	return err
}

// ReadValue decodes the value stored under key into v.
func ReadValue(r Reader, key Key, v Unmarshaler) (bool, error) {
	raw, _, err := r.Read(key)
	if err != nil {
		return false, err
	}
	if raw == nil {
		return false, nil
	}
	if err := v.UnmarshalSSZ(raw); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// WriteValue encodes v and writes it under key.
func WriteValue(w Writer, key Key, v Marshaler) error {
	raw, err := v.MarshalSSZ()
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	_, err = w.Write(key, raw)
	return err
}
