package shell

import (
	"fmt"
	"math"

	ssz "github.com/ferranbt/fastssz"

	"github.com/geanlabs/ledger/clock"
	"github.com/geanlabs/ledger/ethbridge"
	"github.com/geanlabs/ledger/pos"
	"github.com/geanlabs/ledger/storage"
	"github.com/geanlabs/ledger/token"
	"github.com/geanlabs/ledger/tx"
	"github.com/geanlabs/ledger/types"
	"github.com/geanlabs/ledger/vext"
)

// protocolVext is the decoded payload of a protocol tx.
type protocolVext struct {
	typ        tx.ProtocolType
	signer     [32]byte
	events     []vext.SignedEthEvents
	bridgePool *vext.BridgePoolRootVext
	valSet     *vext.ValSetUpdateVext
}

func decodeProtocolTx(t *tx.Tx) (*protocolVext, error) {
	p := &protocolVext{typ: t.Header.Protocol.Type, signer: t.Header.Protocol.SignerPK}
	switch p.typ {
	case tx.EthEventsVext:
		var ext vext.SignedEthEvents
		if err := ext.UnmarshalSSZ(t.Data); err != nil {
			return nil, fmt.Errorf("decode Ethereum events vote extension: %w", err)
		}
		p.events = []vext.SignedEthEvents{ext}
	case tx.EthereumEvents:
		var digest vext.EventsDigest
		if err := digest.UnmarshalSSZ(t.Data); err != nil {
			return nil, fmt.Errorf("decode vote extensions digest: %w", err)
		}
		p.events = digest.Exts
	case tx.BridgePoolVext:
		p.bridgePool = new(vext.BridgePoolRootVext)
		if err := p.bridgePool.UnmarshalSSZ(t.Data); err != nil {
			return nil, fmt.Errorf("decode bridge pool root vote extension: %w", err)
		}
	case tx.ValSetUpdateVext:
		p.valSet = new(vext.ValSetUpdateVext)
		if err := p.valSet.UnmarshalSSZ(t.Data); err != nil {
			return nil, fmt.Errorf("decode validator set update vote extension: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown protocol tx type %s", p.typ)
	}
	return p, nil
}

// vextContext is the committed state vote extensions are checked against.
func (s *Shell) vextContext() *vext.Context {
	st := s.wl.Storage
	return &vext.Context{
		Reader:     st,
		LastHeight: st.LastHeight(),
		LastEpoch:  st.LastEpoch(),
		Epochs:     st.LastPredEpochs(),
	}
}

// vote is a validated vote extension ready to be tallied.
type vote struct {
	validator types.Address
	power     uint64
}

// validateProtocolVext applies the consensus-time rules to p and returns the
// vote of each validator it carries.
func (s *Shell) validateProtocolVext(ctx *vext.Context, p *protocolVext) ([]vote, error) {
	switch p.typ {
	case tx.EthEventsVext, tx.EthereumEvents:
		if err := requireBridge(ctx.Reader); err != nil {
			return nil, err
		}
		if p.typ == tx.EthereumEvents && len(p.events) == 0 {
			return nil, ErrEmptyDigest
		}
		votes := make([]vote, 0, len(p.events))
		seen := make(map[types.Address]bool, len(p.events))
		for i := range p.events {
			val, power, err := vext.ValidateEthEvents(ctx, &p.events[i])
			if err != nil {
				return nil, err
			}
			if p.typ == tx.EthEventsVext && val.ProtocolKey != p.signer {
				return nil, ErrSignerMismatch
			}
			if seen[val.Address] {
				return nil, fmt.Errorf("%w: %s", ErrDuplicateVext, val.Address)
			}
			seen[val.Address] = true
			votes = append(votes, vote{validator: val.Address, power: power})
		}
		return votes, nil
	case tx.BridgePoolVext:
		if err := requireBridge(ctx.Reader); err != nil {
			return nil, err
		}
		val, power, err := vext.ValidateBridgePoolRoot(ctx, p.bridgePool)
		if err != nil {
			return nil, err
		}
		if val.ProtocolKey != p.signer {
			return nil, ErrSignerMismatch
		}
		return []vote{{validator: val.Address, power: power}}, nil
	case tx.ValSetUpdateVext:
		val, power, err := vext.ValidateValSetUpdate(ctx, p.valSet)
		if err != nil {
			return nil, err
		}
		if val.ProtocolKey != p.signer {
			return nil, ErrSignerMismatch
		}
		return []vote{{validator: val.Address, power: power}}, nil
	default:
		return nil, fmt.Errorf("unknown protocol tx type %s", p.typ)
	}
}

func requireBridge(r storage.Reader) error {
	active, err := ethbridge.IsBridgeActive(r)
	if err != nil {
		panic(fmt.Sprintf("must be able to read the bridge status: %v", err))
	}
	if !active {
		return ErrBridgeInactive
	}
	return nil
}

// mempoolValidateVext validates a protocol tx submitted to the mempool and
// returns its priority.
func (s *Shell) mempoolValidateVext(t *tx.Tx) (int64, error) {
	if t.Header.Protocol.Type == tx.EthereumEvents {
		return 0, ErrNotMempoolTx
	}
	p, err := decodeProtocolTx(t)
	if err != nil {
		return 0, err
	}
	if _, err := s.validateProtocolVext(s.vextContext(), p); err != nil {
		return 0, err
	}
	if p.typ == tx.ValSetUpdateVext {
		// Validator set updates should be decided as soon as possible.
		return math.MaxInt64, nil
	}
	return 0, nil
}

// applyProtocolTx tallies the votes of a finalized protocol tx and acts on
// the subjects that became seen.
func (s *Shell) applyProtocolTx(t *tx.Tx, height types.BlockHeight) ([]Event, error) {
	p, err := decodeProtocolTx(t)
	if err != nil {
		return nil, err
	}
	ctx := s.vextContext()
	votes, err := s.validateProtocolVext(ctx, p)
	if err != nil {
		return nil, err
	}

	var events []Event
	switch p.typ {
	case tx.EthEventsVext, tx.EthereumEvents:
		epoch, ok := ctx.Epochs.GetEpoch(p.events[0].Data.BlockHeight)
		if !ok {
			return nil, fmt.Errorf("%w: height %d", vext.ErrUnknownEpoch, p.events[0].Data.BlockHeight)
		}
		total := s.totalStake(epoch)
		for i := range p.events {
			ext := &p.events[i].Data
			v := []vext.Vote{{Validator: votes[i].validator, Power: votes[i].power}}
			for j := range ext.Events {
				ev := &ext.Events[j]
				confirmed, err := s.tallyEthEvent(ev, v, total, height)
				if err != nil {
					return nil, err
				}
				events = append(events, confirmed...)
				if m, ok := s.mode.(*ValidatorMode); ok {
					m.dequeueEthEvent(ev)
				}
			}
		}
	case tx.BridgePoolVext:
		ext := p.bridgePool
		epoch, ok := ctx.Epochs.GetEpoch(ext.BlockHeight)
		if !ok {
			return nil, fmt.Errorf("%w: height %d", vext.ErrUnknownEpoch, ext.BlockHeight)
		}
		msg := vext.BridgePoolMessage(ext.Root, ext.Nonce)
		subject := types.Hash(msg)
		seen, err := vext.ApplyVotes(s.wl, vext.KindBridgePool, subject, nil,
			[]vext.Vote{{Validator: votes[0].validator, Power: votes[0].power}}, s.totalStake(epoch))
		if err != nil {
			return nil, err
		}
		if seen {
			signed := ssz.MarshalUint64(append([]byte(nil), ext.Root[:]...), ext.Nonce)
			if _, err := s.wl.Write(ethbridge.SignedRootKey, signed); err != nil {
				return nil, err
			}
			events = append(events, Event{Type: EventBridgePoolSigned, Height: height, Attributes: map[string]string{
				"root":  ext.Root.String(),
				"nonce": fmt.Sprintf("%d", ext.Nonce),
			}})
		}
	case tx.ValSetUpdateVext:
		ext := p.valSet
		msg := vext.ValSetMessage(ext.VotingPowers, ext.SigningEpoch+1)
		seen, err := vext.ApplyVotes(s.wl, vext.KindValSetUpdate, types.Hash(msg), nil,
			[]vext.Vote{{Validator: votes[0].validator, Power: votes[0].power}}, s.totalStake(ext.SigningEpoch))
		if err != nil {
			return nil, err
		}
		if seen {
			if _, err := s.wl.Write(ethbridge.SignedValSetKey(ext.SigningEpoch+1), msg); err != nil {
				return nil, err
			}
			events = append(events, Event{Type: EventValSetUpdateSigned, Height: height, Attributes: map[string]string{
				"epoch": fmt.Sprintf("%d", ext.SigningEpoch+1),
			}})
		}
	}
	return events, nil
}

// tallyEthEvent adds votes on ev and, once a quorum saw it, mints the
// transfers it carries towards the ledger.
func (s *Shell) tallyEthEvent(ev *ethbridge.EthereumEvent, votes []vext.Vote, total uint64,
	height types.BlockHeight) ([]Event, error) {
	body, err := ev.MarshalSSZ()
	if err != nil {
		return nil, err
	}
	hash := ev.Hash()
	seen, err := vext.ApplyVotes(s.wl, vext.KindEthEvent, hash, body, votes, total)
	if err != nil || !seen {
		return nil, err
	}
	if ev.Kind == ethbridge.TransfersToLedger {
		for _, t := range ev.Transfers {
			if err := token.Credit(s.wl, types.Address(t.Asset), t.Receiver, t.Amount); err != nil {
				return nil, fmt.Errorf("mint bridged transfer: %w", err)
			}
		}
	}
	s.logger.Info("Ethereum event confirmed", "kind", ev.Kind, "nonce", ev.Nonce, "hash", hash.Short())
	return []Event{{Type: EventEthEventConfirmed, Height: height, Attributes: map[string]string{
		"hash":  hash.String(),
		"kind":  ev.Kind.String(),
		"nonce": fmt.Sprintf("%d", ev.Nonce),
	}}}, nil
}

func (s *Shell) totalStake(epoch types.Epoch) uint64 {
	total, err := pos.TotalStake(s.wl.Storage, epoch)
	if err != nil {
		panic(fmt.Sprintf("must be able to read the total stake of epoch %d: %v", epoch, err))
	}
	return total
}

// craftProtocolTxs builds this validator's vote extensions over the last
// committed block as signed protocol txs.
func (s *Shell) craftProtocolTxs(m *ValidatorMode) [][]byte {
	st := s.wl.Storage
	height := st.LastHeight()
	epoch := st.LastEpoch()
	data := m.Data
	if _, bonded, err := pos.VotingPower(st, data.Address, epoch); err != nil || !bonded {
		if err != nil {
			s.logger.Error("failed to read own voting power", "epoch", epoch, "err", err)
		}
		return nil
	}
	timestamp, _ := st.LastBlockTime()

	var out [][]byte
	add := func(typ tx.ProtocolType, payload storage.Marshaler) {
		raw, err := payload.MarshalSSZ()
		if err != nil {
			s.logger.Error("failed to encode vote extension", "type", typ, "err", err)
			return
		}
		out = append(out, tx.NewProtocol(s.chainID, timestamp, typ, raw, data.ProtocolKey).Encode())
	}

	active, err := ethbridge.IsBridgeActive(st)
	if err != nil {
		panic(fmt.Sprintf("must be able to read the bridge status: %v", err))
	}
	if active {
		if m.Oracle != nil && m.Oracle.Receiver != nil {
			m.Oracle.Receiver.FillQueue()
			if events := m.Oracle.Receiver.GetEvents(); len(events) > 0 {
				add(tx.EthEventsVext, vext.CraftEthEvents(data.ProtocolKey, data.Address, height, events))
			}
		}
		if data.EthBridgeKey != nil {
			root, err := ethbridge.ReadPoolRoot(st)
			if err != nil {
				panic(fmt.Sprintf("must be able to read the bridge pool root: %v", err))
			}
			ext, err := vext.CraftBridgePoolRoot(data.EthBridgeKey, data.Address, height, root)
			if err != nil {
				s.logger.Error("failed to sign bridge pool root", "err", err)
			} else {
				add(tx.BridgePoolVext, ext)
			}
		}
	}

	// The next validator set is signed over in the last block of an epoch.
	if data.EthBridgeKey != nil && clock.IsLastBlockOfEpoch(&st.Block) {
		powers, err := vext.VotingPowers(st, epoch+1)
		if err != nil {
			s.logger.Error("failed to read next validator set", "epoch", epoch+1, "err", err)
		} else if ext, err := vext.CraftValSetUpdate(data.EthBridgeKey, data.Address, epoch, powers); err != nil {
			s.logger.Error("failed to sign validator set update", "err", err)
		} else {
			add(tx.ValSetUpdateVext, ext)
		}
	}
	return out
}

// digestEthEvents bundles the events vote extensions gathered by a proposer
// into a single protocol tx signed with its protocol key.
func (s *Shell) digestEthEvents(m *ValidatorMode, exts []vext.SignedEthEvents, timestamp uint64) ([]byte, error) {
	digest := &vext.EventsDigest{Exts: exts}
	raw, err := digest.MarshalSSZ()
	if err != nil {
		return nil, err
	}
	return tx.NewProtocol(s.chainID, timestamp, tx.EthereumEvents, raw, m.Data.ProtocolKey).Encode(), nil
}
