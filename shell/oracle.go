package shell

import (
	"errors"
	"fmt"

	"github.com/geanlabs/ledger/ethbridge"
	"github.com/geanlabs/ledger/oracle"
)

// updateEthOracle pushes the bridge configuration found in committed storage
// to the oracle. It does nothing outside validator mode or while the bridge
// is not active.
func (s *Shell) updateEthOracle() {
	m, ok := s.mode.(*ValidatorMode)
	if !ok || m.Oracle == nil || m.Oracle.Control == nil {
		return
	}
	st := s.wl.Storage
	if present, _, err := st.HasKey(ethbridge.ActiveKey); err != nil {
		panic(fmt.Sprintf("must be able to read the bridge status: %v", err))
	} else if !present {
		s.logger.Info("not starting oracle yet as storage has not been initialized")
		return
	}
	active, err := ethbridge.IsBridgeActive(st)
	if err != nil {
		panic(fmt.Sprintf("must be able to read the bridge status: %v", err))
	}
	if !active {
		s.logger.Info("not starting oracle as the Ethereum bridge is disabled")
		return
	}
	cfg, ok, err := ethbridge.ReadConfig(st)
	if err != nil {
		panic(fmt.Sprintf("must be able to read the bridge config: %v", err))
	}
	if !ok {
		s.logger.Info("not starting oracle as the Ethereum bridge config could not be found in storage")
		return
	}

	start := cfg.StartHeight
	if st.EthereumHeight != nil {
		start = *st.EthereumHeight
	}
	update := oracle.UpdateConfig{Config: oracle.Config{
		MinConfirmations:   cfg.MinConfirmations,
		BridgeContract:     cfg.BridgeContract,
		GovernanceContract: cfg.GovernanceContract,
		StartBlock:         start,
	}}
	s.logger.Info("sending Ethereum oracle config",
		"start_block", start,
		"min_confirmations", cfg.MinConfirmations,
		"bridge", cfg.BridgeContract.Hex(),
	)
	switch err := m.Oracle.Control.TrySend(update); {
	case errors.Is(err, oracle.ErrChannelFull):
		panic("The Ethereum oracle communication channel is full!")
	case errors.Is(err, oracle.ErrChannelClosed):
		panic("The Ethereum oracle can no longer be communicated with")
	case err != nil:
		panic(fmt.Sprintf("could not send config to the Ethereum oracle: %v", err))
	}
}
