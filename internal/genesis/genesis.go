package genesis

import (
	"fmt"

	"github.com/geanlabs/ledger/clock"
	"github.com/geanlabs/ledger/ethbridge"
	"github.com/geanlabs/ledger/pos"
	"github.com/geanlabs/ledger/storage"
	"github.com/geanlabs/ledger/token"
	"github.com/geanlabs/ledger/tx"
	"github.com/geanlabs/ledger/types"
)

// Write stores the genesis parameters, validators and balances. The block
// state of the first block is set up separately by the caller.
func (g *Genesis) Write(rw storage.ReadWriter) error {
	if err := clock.WriteDuration(rw, g.EpochDuration); err != nil {
		return fmt.Errorf("write epoch duration: %w", err)
	}
	fee := g.WrapperFee
	if fee == 0 {
		fee = tx.MinFee
	}
	if err := tx.WriteWrapperFee(rw, fee); err != nil {
		return fmt.Errorf("write wrapper fee: %w", err)
	}
	if g.PowDifficulty != nil {
		if err := tx.WritePowDifficulty(rw, *g.PowDifficulty); err != nil {
			return fmt.Errorf("write pow difficulty: %w", err)
		}
	}
	if err := pos.InitGenesis(rw, &g.PosParams, g.Validators); err != nil {
		return fmt.Errorf("init pos: %w", err)
	}
	if err := g.writeEthBridge(rw); err != nil {
		return fmt.Errorf("init eth bridge: %w", err)
	}
	for _, b := range g.Balances {
		if err := token.Credit(rw, b.Token, b.Owner, b.Amount); err != nil {
			return fmt.Errorf("credit %s: %w", b.Owner, err)
		}
	}
	return nil
}

func (g *Genesis) writeEthBridge(rw storage.ReadWriter) error {
	status := ethbridge.Status{}
	if g.EthBridge != nil {
		status.Enabled = g.EthBridge.Enabled
		if err := ethbridge.WriteConfig(rw, &g.EthBridge.Config); err != nil {
			return err
		}
	}
	if err := ethbridge.WriteStatus(rw, status); err != nil {
		return err
	}
	return ethbridge.WritePoolRoot(rw, ethbridge.PoolRoot{})
}

// ValidatorUpdates returns the initial consensus validator set.
func (g *Genesis) ValidatorUpdates() []pos.ValidatorSetUpdate {
	updates := make([]pos.ValidatorSetUpdate, 0, len(g.Validators))
	for _, v := range g.Validators {
		if v.Stake == 0 {
			continue
		}
		updates = append(updates, pos.ValidatorSetUpdate{ConsensusKey: v.Validator.ConsensusKey, Power: v.Stake})
	}
	return updates
}

// TotalStake sums the genesis bonds.
func (g *Genesis) TotalStake() types.Amount {
	var total types.Amount
	for _, v := range g.Validators {
		total += types.Amount(v.Stake)
	}
	return total
}
