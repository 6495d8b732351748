// Package vm executes the payload of decrypted transactions.
package vm

import (
	"errors"
	"fmt"

	ssz "github.com/ferranbt/fastssz"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/geanlabs/ledger/gas"
	"github.com/geanlabs/ledger/storage"
	"github.com/geanlabs/ledger/token"
	"github.com/geanlabs/ledger/types"
)

const (
	DefaultCacheSize = 256

	// CompileGasPerByte is charged for code missing from the cache.
	CompileGasPerByte = 10
	// DataGasPerByte is charged for every byte of tx data.
	DataGasPerByte = 1

	payloadFixedSize = 8
	transferSize     = 20 + 20 + 20 + 8
)

var (
	ErrUnknownCode      = errors.New("unknown tx code")
	ErrMalformedPayload = errors.New("malformed tx payload")
)

// Built-in tx code. A payload names the code it runs by its bytes.
var (
	CodeTransfer = []byte("tx_transfer")
	CodeNoop     = []byte("tx_noop")
)

// Executor applies a decrypted tx payload to storage.
type Executor interface {
	Apply(payload []byte, meter *gas.TxGasMeter, rw storage.ReadWriter) error
}

// Payload is a tx's code with its input data.
type Payload struct {
	Code []byte
	Data []byte
}

// MarshalSSZ encodes p as two variable-length byte lists.
func (p *Payload) MarshalSSZ() ([]byte, error) {
	dst := make([]byte, 0, payloadFixedSize+len(p.Code)+len(p.Data))
	dst = ssz.WriteOffset(dst, payloadFixedSize)
	dst = ssz.WriteOffset(dst, payloadFixedSize+len(p.Code))
	dst = append(dst, p.Code...)
	dst = append(dst, p.Data...)
	return dst, nil
}

// UnmarshalSSZ decodes a payload.
func (p *Payload) UnmarshalSSZ(buf []byte) error {
	if len(buf) < payloadFixedSize {
		return ssz.ErrSize
	}
	o0 := ssz.ReadOffset(buf[0:4])
	o1 := ssz.ReadOffset(buf[4:8])
	if o0 != payloadFixedSize || o1 < o0 || o1 > uint64(len(buf)) {
		return ssz.ErrOffset
	}
	p.Code = append([]byte(nil), buf[o0:o1]...)
	p.Data = append([]byte(nil), buf[o1:]...)
	return nil
}

// EncodePayload is MarshalSSZ for callers holding code and data.
func EncodePayload(code, data []byte) []byte {
	p := Payload{Code: code, Data: data}
	buf, _ := p.MarshalSSZ()
	return buf
}

// TransferData is the input of CodeTransfer.
type TransferData struct {
	Source types.Address
	Target types.Address
	Token  types.Address
	Amount types.Amount
}

func (t *TransferData) MarshalSSZ() ([]byte, error) {
	dst := make([]byte, 0, transferSize)
	dst = append(dst, t.Source[:]...)
	dst = append(dst, t.Target[:]...)
	dst = append(dst, t.Token[:]...)
	dst = ssz.MarshalUint64(dst, uint64(t.Amount))
	return dst, nil
}

func (t *TransferData) UnmarshalSSZ(buf []byte) error {
	if len(buf) != transferSize {
		return ssz.ErrSize
	}
	copy(t.Source[:], buf[0:20])
	copy(t.Target[:], buf[20:40])
	copy(t.Token[:], buf[40:60])
	t.Amount = types.Amount(ssz.UnmarshallUint64(buf[60:68]))
	return nil
}

// Cache remembers code that has already been "compiled" so that repeated
// executions skip the compilation charge.
type Cache struct {
	lru *lru.Cache[types.Hash, string]
}

// NewCache creates a cache holding size entries.
func NewCache(size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c, err := lru.New[types.Hash, string](size)
	if err != nil {
		return nil, fmt.Errorf("create code cache: %w", err)
	}
	return &Cache{lru: c}, nil
}

func (c *Cache) Len() int { return c.lru.Len() }

// compile returns the built-in name of code, charging for a cache miss.
func (c *Cache) compile(code []byte, meter *gas.TxGasMeter) (string, error) {
	h := types.HashBytes(code)
	if name, ok := c.lru.Get(h); ok {
		return name, nil
	}
	if err := meter.Consume(uint64(len(code)) * CompileGasPerByte); err != nil {
		return "", err
	}
	name := string(code)
	switch name {
	case string(CodeTransfer), string(CodeNoop):
	default:
		return "", fmt.Errorf("%w %q", ErrUnknownCode, name)
	}
	c.lru.Add(h, name)
	return name, nil
}

// BuiltinExecutor runs the built-in tx codes.
type BuiltinExecutor struct {
	cache *Cache
}

func NewBuiltinExecutor(cache *Cache) *BuiltinExecutor {
	return &BuiltinExecutor{cache: cache}
}

func (e *BuiltinExecutor) Apply(payload []byte, meter *gas.TxGasMeter, rw storage.ReadWriter) error {
	var p Payload
	if err := p.UnmarshalSSZ(payload); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	name, err := e.cache.compile(p.Code, meter)
	if err != nil {
		return err
	}
	if err := meter.Consume(uint64(len(p.Data)) * DataGasPerByte); err != nil {
		return err
	}
	metered := &meteredStorage{rw: rw, meter: meter}

	switch name {
	case string(CodeTransfer):
		var t TransferData
		if err := t.UnmarshalSSZ(p.Data); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		return token.Transfer(metered, t.Token, t.Source, t.Target, t.Amount)
	default:
		return nil
	}
}

// meteredStorage charges storage access gas to a tx meter.
type meteredStorage struct {
	rw    storage.ReadWriter
	meter *gas.TxGasMeter
}

func (m *meteredStorage) Read(key storage.Key) ([]byte, uint64, error) {
	v, g, err := m.rw.Read(key)
	if err != nil {
		return nil, g, err
	}
	return v, g, m.meter.Consume(g)
}

func (m *meteredStorage) HasKey(key storage.Key) (bool, uint64, error) {
	ok, g, err := m.rw.HasKey(key)
	if err != nil {
		return false, g, err
	}
	return ok, g, m.meter.Consume(g)
}

func (m *meteredStorage) Write(key storage.Key, value []byte) (uint64, error) {
	g, err := m.rw.Write(key, value)
	if err != nil {
		return g, err
	}
	return g, m.meter.Consume(g)
}

func (m *meteredStorage) Delete(key storage.Key) (uint64, error) {
	g, err := m.rw.Delete(key)
	if err != nil {
		return g, err
	}
	return g, m.meter.Consume(g)
}
