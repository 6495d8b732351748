package broadcast

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/p2p/enode"
	"github.com/ethereum/go-ethereum/p2p/enr"
	lcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
)

var errNoTransport = errors.New("enr has neither a quic nor a tcp port")

func isENR(s string) bool {
	return strings.HasPrefix(s, "enr:")
}

// enrToAddrInfo turns a bootnode record into a dialable peer. QUIC is
// preferred when the record carries both ports.
func enrToAddrInfo(record string) (*peer.AddrInfo, error) {
	node, err := enode.Parse(enode.ValidSchemes, record)
	if err != nil {
		return nil, fmt.Errorf("parse enr: %w", err)
	}
	ip := node.IP()
	if ip == nil {
		return nil, fmt.Errorf("enr has no ip")
	}
	pubkey := node.Pubkey()
	if pubkey == nil {
		return nil, fmt.Errorf("enr has no public key")
	}
	key, err := lcrypto.UnmarshalSecp256k1PublicKey(crypto.CompressPubkey(pubkey))
	if err != nil {
		return nil, fmt.Errorf("convert pubkey: %w", err)
	}
	id, err := peer.IDFromPublicKey(key)
	if err != nil {
		return nil, fmt.Errorf("derive peer id: %w", err)
	}

	proto := "ip4"
	if ip.To4() == nil {
		proto = "ip6"
	}
	var (
		quic enr.QUIC
		tcp  enr.TCP
		addr string
	)
	switch {
	case node.Record().Load(&quic) == nil:
		addr = fmt.Sprintf("/%s/%s/udp/%d/quic-v1", proto, ip, quic)
	case node.Record().Load(&tcp) == nil:
		addr = fmt.Sprintf("/%s/%s/tcp/%d", proto, ip, tcp)
	default:
		return nil, errNoTransport
	}
	ma, err := multiaddr.NewMultiaddr(addr)
	if err != nil {
		return nil, fmt.Errorf("build multiaddr: %w", err)
	}
	return &peer.AddrInfo{ID: id, Addrs: []multiaddr.Multiaddr{ma}}, nil
}
