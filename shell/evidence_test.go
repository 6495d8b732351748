package shell

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/geanlabs/ledger/internal/genesis"
	"github.com/geanlabs/ledger/pos"
	"github.com/geanlabs/ledger/types"
)

func finalizeWithEvidence(t *testing.T, s *Shell, h types.BlockHeight, ev ...Misbehavior) FinalizeBlockResponse {
	t.Helper()
	resp, err := s.FinalizeBlock(FinalizeBlockRequest{Height: h, Time: blockTime(h), Misbehavior: ev})
	require.NoError(t, err)
	s.Commit()
	return resp
}

func duplicateVote(v testValidator, height int64) Misbehavior {
	return Misbehavior{
		Type:             MisbehaviorDuplicateVote,
		ValidatorAddress: v.rawAddress(),
		Height:           height,
		TotalVotingPower: 2000,
	}
}

func slashEvents(events []Event) []Event {
	var out []Event
	for _, ev := range events {
		if ev.Type == EventSlash {
			out = append(out, ev)
		}
	}
	return out
}

func startTwoValidators(t *testing.T, opts ...func(*genesis.Genesis)) (*Shell, *fixture) {
	t.Helper()
	f := newFixture(t, 2, opts...)
	s := f.open(t, FullMode{})
	f.start(t, s)
	return s, f
}

func TestEvidenceRecordsSlash(t *testing.T) {
	s, f := startTwoValidators(t)
	bad := f.vals[1]

	resp := finalizeWithEvidence(t, s, 2, duplicateVote(bad, 1))
	events := slashEvents(resp.Events)
	require.Len(t, events, 1)
	require.Equal(t, bad.addr.String(), events[0].Attributes["validator"])
	require.Equal(t, pos.DuplicateVote.String(), events[0].Attributes["type"])

	st := s.wl.Storage
	jailed, err := pos.IsJailed(st, bad.addr)
	require.NoError(t, err)
	require.True(t, jailed)

	params, err := pos.ReadParams(st)
	require.NoError(t, err)
	enqueued, err := pos.EnqueuedSlashes(st, types.Epoch(params.ProcessingOffset()))
	require.NoError(t, err)
	require.Len(t, enqueued, 1)
	require.Equal(t, bad.addr, enqueued[0].Validator)
	require.Equal(t, types.BlockHeight(1), enqueued[0].BlockHeight)

	// The jailed validator leaves the consensus set from the next epoch on.
	_, bonded, err := pos.VotingPower(st, bad.addr, 1)
	require.NoError(t, err)
	require.False(t, bonded)
}

func TestEvidenceIsIdempotent(t *testing.T) {
	s, f := startTwoValidators(t)
	ev := duplicateVote(f.vals[1], 1)

	require.Len(t, slashEvents(finalizeWithEvidence(t, s, 2, ev).Events), 1)
	require.Empty(t, slashEvents(finalizeWithEvidence(t, s, 3, ev, ev).Events))

	params, err := pos.ReadParams(s.wl.Storage)
	require.NoError(t, err)
	enqueued, err := pos.EnqueuedSlashes(s.wl.Storage, types.Epoch(params.ProcessingOffset()))
	require.NoError(t, err)
	require.Len(t, enqueued, 1)
}

func TestEvidenceSkipsInvalidItems(t *testing.T) {
	s, f := startTwoValidators(t)
	unknownType := duplicateVote(f.vals[1], 1)
	unknownType.Type = MisbehaviorUnknown
	unknownValidator := duplicateVote(f.vals[1], 1)
	unknownValidator.ValidatorAddress = make([]byte, 20)
	negativeHeight := duplicateVote(f.vals[1], -1)
	noAddress := duplicateVote(f.vals[1], 1)
	noAddress.ValidatorAddress = nil

	resp := finalizeWithEvidence(t, s, 2, unknownType, unknownValidator, negativeHeight, noAddress)
	require.Empty(t, slashEvents(resp.Events))

	jailed, err := pos.IsJailed(s.wl.Storage, f.vals[1].addr)
	require.NoError(t, err)
	require.False(t, jailed)
}

func TestEvidenceFromProposalIsRecorded(t *testing.T) {
	s, f := startTwoValidators(t)
	light := duplicateVote(f.vals[0], 1)
	light.Type = MisbehaviorLightClientAttack

	s.PrepareProposal(PrepareProposalRequest{
		Height:      2,
		Time:        blockTime(2),
		MaxTxBytes:  1 << 20,
		Misbehavior: []Misbehavior{light},
	})
	resp := finalizeWithEvidence(t, s, 2, light)
	events := slashEvents(resp.Events)
	require.Len(t, events, 1)
	require.Equal(t, pos.LightClientAttack.String(), events[0].Attributes["type"])

	// The pending list is drained.
	require.Empty(t, slashEvents(finalizeWithEvidence(t, s, 3).Events))
}

// Evidence carried by a proposal that was not decided must not be applied,
// or the node that saw the proposal forks from one that did not.
func TestEvidenceFromUndecidedProposalIsDropped(t *testing.T) {
	a, fa := startTwoValidators(t)
	b, _ := startTwoValidators(t)

	a.ProcessProposal(ProcessProposalRequest{
		Height:      2,
		Time:        blockTime(2),
		Misbehavior: []Misbehavior{duplicateVote(fa.vals[1], 1)},
	})
	respA := finalizeWithEvidence(t, a, 2)
	respB := finalizeWithEvidence(t, b, 2)

	require.Empty(t, slashEvents(respA.Events))
	require.Empty(t, slashEvents(respB.Events))
	jailed, err := pos.IsJailed(a.wl.Storage, fa.vals[1].addr)
	require.NoError(t, err)
	require.False(t, jailed)
	require.Equal(t, b.wl.Storage.MerkleRoot(), a.wl.Storage.MerkleRoot())
}

// fastSlashing processes slashes one epoch after the infraction, with
// epochs of two blocks.
func fastSlashing(g *genesis.Genesis) {
	g.EpochDuration.MinNumOfBlocks = 2
	g.PosParams.UnbondingLen = 0
	g.PosParams.CubicSlashingWindowLength = 0
}

func TestEvidenceOutdated(t *testing.T) {
	s, f := startTwoValidators(t, fastSlashing)
	for h := types.BlockHeight(2); h <= 5; h++ {
		commitBlock(t, s, h)
	}
	require.Equal(t, types.Epoch(1), s.wl.Storage.Block.Epoch)

	// Evidence from epoch 0 can no longer be processed in epoch 1.
	resp := finalizeWithEvidence(t, s, 6, duplicateVote(f.vals[1], 1))
	require.Empty(t, slashEvents(resp.Events))

	resp = finalizeWithEvidence(t, s, 7, duplicateVote(f.vals[1], 5))
	require.Len(t, slashEvents(resp.Events), 1)
}

func TestSlashesProcessedAtEpoch(t *testing.T) {
	s, f := startTwoValidators(t, fastSlashing)
	bad := f.vals[1]
	finalizeWithEvidence(t, s, 2, duplicateVote(bad, 1))

	stake, err := pos.Stake(s.wl.Storage, bad.addr)
	require.NoError(t, err)
	require.Equal(t, uint64(1000), stake)

	for h := types.BlockHeight(3); h <= 5; h++ {
		commitBlock(t, s, h)
	}
	require.Equal(t, types.Epoch(1), s.wl.Storage.Block.Epoch)

	slashes, err := pos.ValidatorSlashes(s.wl.Storage, bad.addr)
	require.NoError(t, err)
	require.Len(t, slashes, 1)
	stake, err = pos.Stake(s.wl.Storage, bad.addr)
	require.NoError(t, err)
	require.Less(t, stake, uint64(1000))

	honest, err := pos.Stake(s.wl.Storage, f.vals[0].addr)
	require.NoError(t, err)
	require.Equal(t, uint64(1000), honest)

	// Slashes run every block but apply once.
	for h := types.BlockHeight(6); h <= 7; h++ {
		commitBlock(t, s, h)
	}
	slashes, err = pos.ValidatorSlashes(s.wl.Storage, bad.addr)
	require.NoError(t, err)
	require.Len(t, slashes, 1)
	after, err := pos.Stake(s.wl.Storage, bad.addr)
	require.NoError(t, err)
	require.Equal(t, stake, after)
}

// Two nodes replaying the same blocks with the same evidence must agree on
// the resulting state.
func TestEvidenceDeterministicAcrossNodes(t *testing.T) {
	run := func() (types.Hash, []pos.Slash) {
		s, f := startTwoValidators(t, fastSlashing)
		finalizeWithEvidence(t, s, 2, duplicateVote(f.vals[1], 1), duplicateVote(f.vals[0], 1))
		for h := types.BlockHeight(3); h <= 5; h++ {
			commitBlock(t, s, h)
		}
		slashes, err := pos.ValidatorSlashes(s.wl.Storage, f.vals[1].addr)
		require.NoError(t, err)
		return s.wl.Storage.MerkleRoot(), slashes
	}
	rootA, slashesA := run()
	rootB, slashesB := run()
	require.Equal(t, rootA, rootB)
	require.Equal(t, slashesA, slashesB)
	require.NotEmpty(t, slashesA)
}
