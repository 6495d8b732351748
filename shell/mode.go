package shell

import (
	"crypto/ecdsa"
	"crypto/ed25519"

	"github.com/geanlabs/ledger/ethbridge"
	"github.com/geanlabs/ledger/oracle"
	"github.com/geanlabs/ledger/types"
)

// Mode is the operating mode of the node. Only ValidatorMode carries keys
// and the channels to the oracle and the broadcaster.
type Mode interface {
	String() string
	isMode()
}

// ValidatorData is the key material of a validator node.
type ValidatorData struct {
	Address      types.Address
	ProtocolKey  ed25519.PrivateKey
	EthBridgeKey *ecdsa.PrivateKey
}

// OracleChannels links the shell to a running Ethereum oracle.
type OracleChannels struct {
	Receiver *oracle.EthereumReceiver
	Control  *oracle.ControlSender
	Last     *oracle.LastProcessedBlock
}

type ValidatorMode struct {
	Data ValidatorData
	// Broadcast carries signed protocol txs to the broadcaster.
	Broadcast chan<- []byte
	Oracle    *OracleChannels
}

type FullMode struct{}

type SeedMode struct{}

func (*ValidatorMode) String() string { return "validator" }
func (FullMode) String() string       { return "full" }
func (SeedMode) String() string       { return "seed" }

func (*ValidatorMode) isMode() {}
func (FullMode) isMode()       {}
func (SeedMode) isMode()       {}

// broadcast hands tx to the broadcaster. A full channel means the
// broadcaster stopped draining it.
func (m *ValidatorMode) broadcast(tx []byte) {
	select {
	case m.Broadcast <- tx:
	default:
		panic("the broadcaster channel is full")
	}
}

func (m *ValidatorMode) dequeueEthEvent(ev *ethbridge.EthereumEvent) {
	if m.Oracle == nil || m.Oracle.Receiver == nil {
		return
	}
	m.Oracle.Receiver.RemoveEvent(ev)
}
