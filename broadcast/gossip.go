package broadcast

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	pb "github.com/libp2p/go-libp2p-pubsub/pb"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
)

// Message-id domains distinguish payloads that decompress from those that
// don't.
var (
	domainValidSnappy   = [4]byte{0x01, 0x00, 0x00, 0x00}
	domainInvalidSnappy = [4]byte{0x00, 0x00, 0x00, 0x00}
)

// Topic is the gossip topic protocol txs of a chain are published on.
func Topic(chainID string) string {
	return "/ledger/" + chainID + "/protocol_tx/ssz_snappy"
}

// GossipConfig configures a GossipSink.
type GossipConfig struct {
	ChainID     string
	PrivateKey  crypto.PrivKey
	ListenAddrs []string
	Bootnodes   []string
	Logger      *slog.Logger
}

// GossipSink publishes protocol txs on a gossipsub topic.
type GossipSink struct {
	host   host.Host
	ps     *pubsub.PubSub
	topic  *pubsub.Topic
	logger *slog.Logger

	closeOnce sync.Once
}

// NewGossipSink starts a libp2p host, joins the chain's topic and dials the
// bootnodes.
func NewGossipSink(ctx context.Context, cfg GossipConfig) (*GossipSink, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	bootnodes, err := ParseBootnodes(cfg.Bootnodes)
	if err != nil {
		return nil, err
	}
	h, err := newHost(cfg.PrivateKey, cfg.ListenAddrs)
	if err != nil {
		return nil, err
	}
	ps, err := newGossipSub(ctx, h)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("create gossipsub: %w", err)
	}
	topic, err := ps.Join(Topic(cfg.ChainID))
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("join topic: %w", err)
	}

	for _, pi := range bootnodes {
		if err := h.Connect(ctx, pi); err != nil {
			logger.Warn("failed to connect to bootnode", "peer", pi.ID, "err", err)
			continue
		}
		logger.Info("connected to bootnode", "peer", pi.ID)
	}
	return &GossipSink{host: h, ps: ps, topic: topic, logger: logger}, nil
}

// Send publishes the snappy-compressed tx.
func (g *GossipSink) Send(ctx context.Context, tx []byte) error {
	if err := g.topic.Publish(ctx, snappy.Encode(nil, tx)); err != nil {
		if err == pubsub.ErrTopicClosed {
			return ErrSinkClosed
		}
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// PeerCount returns the number of connected peers.
func (g *GossipSink) PeerCount() int {
	return len(g.host.Network().Peers())
}

// Close leaves the topic and shuts the host down.
func (g *GossipSink) Close() error {
	var err error
	g.closeOnce.Do(func() {
		g.topic.Close()
		err = g.host.Close()
	})
	return err
}

func newHost(key crypto.PrivKey, listenAddrs []string) (host.Host, error) {
	if key == nil {
		var err error
		key, _, err = crypto.GenerateKeyPairWithReader(crypto.Secp256k1, 256, rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate key: %w", err)
		}
	}
	if len(listenAddrs) == 0 {
		listenAddrs = []string{
			"/ip4/0.0.0.0/tcp/26660",
			"/ip4/0.0.0.0/udp/26660/quic-v1",
		}
	}
	h, err := libp2p.New(
		libp2p.Identity(key),
		libp2p.ListenAddrStrings(listenAddrs...),
	)
	if err != nil {
		return nil, fmt.Errorf("create host: %w", err)
	}
	return h, nil
}

func newGossipSub(ctx context.Context, h host.Host) (*pubsub.PubSub, error) {
	params := pubsub.DefaultGossipSubParams()
	params.D = 8
	params.Dlo = 6
	params.Dhi = 12
	params.Dlazy = 6
	params.HeartbeatInterval = 700 * time.Millisecond

	return pubsub.NewGossipSub(ctx, h,
		pubsub.WithMessageIdFn(messageID),
		pubsub.WithGossipSubParams(params),
		pubsub.WithSeenMessagesTTL(2*time.Minute),
		pubsub.WithMessageSignaturePolicy(pubsub.StrictNoSign),
		pubsub.WithFloodPublish(false),
	)
}

// messageID = SHA256(domain + uint64_le(len(topic)) + topic + data)[:20]
func messageID(msg *pb.Message) string {
	domain := domainInvalidSnappy
	data := msg.Data
	if decoded, err := snappy.Decode(nil, msg.Data); err == nil {
		domain = domainValidSnappy
		data = decoded
	}

	topic := []byte(msg.GetTopic())
	var topicLen [8]byte
	binary.LittleEndian.PutUint64(topicLen[:], uint64(len(topic)))

	h := sha256.New()
	h.Write(domain[:])
	h.Write(topicLen[:])
	h.Write(topic)
	h.Write(data)
	return string(h.Sum(nil)[:20])
}

// ParseBootnodes parses bootnodes given as multiaddrs or ENR records.
func ParseBootnodes(addrs []string) ([]peer.AddrInfo, error) {
	var peers []peer.AddrInfo
	for _, addr := range addrs {
		if isENR(addr) {
			pi, err := enrToAddrInfo(addr)
			if err != nil {
				return nil, fmt.Errorf("parse bootnode %s: %w", addr, err)
			}
			peers = append(peers, *pi)
			continue
		}
		ma, err := multiaddr.NewMultiaddr(addr)
		if err != nil {
			return nil, fmt.Errorf("parse multiaddr %s: %w", addr, err)
		}
		pi, err := peer.AddrInfoFromP2pAddr(ma)
		if err != nil {
			return nil, fmt.Errorf("parse peer info %s: %w", addr, err)
		}
		peers = append(peers, *pi)
	}
	return peers, nil
}
