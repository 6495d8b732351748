package shell

// Commit persists the block finalized last and hands the oracle and the
// broadcaster what they need for the next one.
func (s *Shell) Commit() CommitResponse {
	st := s.wl.Storage
	if m, ok := s.mode.(*ValidatorMode); ok && m.Oracle != nil && m.Oracle.Last != nil {
		if h, ok := m.Oracle.Last.Get(); ok {
			st.EthereumHeight = &h
		}
	}

	root, err := s.wl.CommitBlock()
	if err != nil {
		s.logger.Error("failed to commit block", "height", st.Block.Height, "err", err)
		return CommitResponse{AppHash: st.MerkleRoot()}
	}
	s.logger.Info("Committed block hash",
		"root", root.Short(),
		"height", st.Block.Height,
		"epoch", st.Block.Epoch,
	)

	s.updateEthOracle()
	if m, ok := s.mode.(*ValidatorMode); ok && m.Broadcast != nil {
		for _, raw := range s.craftProtocolTxs(m) {
			m.broadcast(raw)
			s.metrics.ProtocolTxBroadcast()
		}
	}
	s.metrics.Committed(uint64(st.Block.Height), uint64(st.Block.Epoch))
	return CommitResponse{AppHash: root}
}
