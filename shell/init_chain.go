package shell

import (
	"fmt"

	"github.com/geanlabs/ledger/clock"
	"github.com/geanlabs/ledger/types"
)

// InitChain writes the genesis state into the write log of the first block
// and returns the initial validator set.
func (s *Shell) InitChain(req InitChainRequest) (InitChainResponse, error) {
	var resp InitChainResponse
	if req.ChainID != s.chainID {
		return resp, fmt.Errorf("%w: current %s, received %s", ErrChainID, s.chainID, req.ChainID)
	}
	g := s.genesis
	if g == nil {
		return resp, ErrMissingGenesis
	}
	if g.ChainID != s.chainID {
		return resp, fmt.Errorf("%w: genesis is for %s, node runs %s", ErrChainID, g.ChainID, s.chainID)
	}
	if _, _, ok := s.wl.Storage.GetState(); ok {
		return resp, fmt.Errorf("%w: chain is already initialized", ErrStorage)
	}

	initialHeight := req.InitialHeight
	if initialHeight == 0 {
		initialHeight = 1
	}
	genesisTime := g.GenesisTime
	if genesisTime == 0 {
		genesisTime = types.Unix(req.Time)
	}
	clock.Genesis(&s.wl.Storage.Block, g.EpochDuration, initialHeight, genesisTime)

	if err := g.Write(s.wl); err != nil {
		return resp, fmt.Errorf("%w: write genesis: %v", ErrStorage, err)
	}
	resp.Validators = g.ValidatorUpdates()
	s.logger.Info("chain initialized",
		"chain_id", s.chainID,
		"initial_height", initialHeight,
		"validators", len(resp.Validators),
		"total_stake", g.TotalStake(),
	)
	return resp, nil
}
