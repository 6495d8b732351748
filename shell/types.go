package shell

import (
	"time"

	"github.com/geanlabs/ledger/pos"
	"github.com/geanlabs/ledger/types"
)

// MempoolTxType tells whether CheckTx sees a tx for the first time or
// re-checks it after a block was committed.
type MempoolTxType uint8

const (
	NewTransaction MempoolTxType = iota
	RecheckTransaction
)

// MisbehaviorType is the kind of fault reported by the consensus engine.
type MisbehaviorType uint8

const (
	MisbehaviorUnknown MisbehaviorType = iota
	MisbehaviorDuplicateVote
	MisbehaviorLightClientAttack
)

func (t MisbehaviorType) String() string {
	switch t {
	case MisbehaviorDuplicateVote:
		return "duplicate_vote"
	case MisbehaviorLightClientAttack:
		return "light_client_attack"
	default:
		return "unknown"
	}
}

// Misbehavior is evidence of a Byzantine validator.
type Misbehavior struct {
	Type MisbehaviorType
	// ValidatorAddress is the raw consensus address, the first 20 bytes of
	// the hash of the consensus key.
	ValidatorAddress []byte
	Height           int64
	Time             time.Time
	TotalVotingPower int64
}

// InfoResponse is empty until a block was committed.
type InfoResponse struct {
	LastBlockAppHash []byte
	LastBlockHeight  int64
}

type InitChainRequest struct {
	ChainID       types.ChainID
	Time          time.Time
	InitialHeight types.BlockHeight
}

type InitChainResponse struct {
	Validators []pos.ValidatorSetUpdate
}

type CheckTxRequest struct {
	Tx   []byte
	Type MempoolTxType
}

type CheckTxResponse struct {
	Code     ErrorCode
	Log      string
	Priority int64
}

type PrepareProposalRequest struct {
	Txs             [][]byte
	MaxTxBytes      int64
	Height          types.BlockHeight
	Time            time.Time
	Misbehavior     []Misbehavior
	ProposerAddress []byte
}

type PrepareProposalResponse struct {
	Txs [][]byte
}

type ProcessProposalRequest struct {
	Txs             [][]byte
	Height          types.BlockHeight
	Time            time.Time
	Misbehavior     []Misbehavior
	ProposerAddress []byte
}

// TxResult is the outcome of checking or applying one tx of a block.
type TxResult struct {
	Code ErrorCode
	Info string
}

type ProcessProposalResponse struct {
	Accept    bool
	TxResults []TxResult
}

type FinalizeBlockRequest struct {
	Txs             [][]byte
	Hash            types.Hash
	Height          types.BlockHeight
	Time            time.Time
	Misbehavior     []Misbehavior
	ProposerAddress []byte
}

type FinalizeBlockResponse struct {
	TxResults        []TxResult
	Events           []Event
	ValidatorUpdates []pos.ValidatorSetUpdate
}

type CommitResponse struct {
	AppHash types.Hash
}
