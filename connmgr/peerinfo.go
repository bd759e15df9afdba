package connmgr

import (
	"github.com/bitcoin-sv/headerd/peer"
)

// PeerInfo is the read-only snapshot an RPC/CLI boundary (getpeerinfo, out
// of scope here per spec.md §6) would surface for one connected peer.
type PeerInfo struct {
	ID               int32
	Addr             string
	Direction        string
	UserAgent        string
	StartHeight      int32
	MisbehaviorScore int
	NoBan            bool
	BytesSent        uint64
	BytesReceived    uint64
	MessagesSent     uint64
	MessagesReceived uint64
}

func directionString(d peer.Direction) string {
	switch d {
	case peer.DirInbound:
		return "inbound"
	case peer.DirOutbound:
		return "outbound"
	case peer.DirFeeler:
		return "feeler"
	case peer.DirManual:
		return "manual"
	default:
		return "unknown"
	}
}

func newPeerInfo(p *peer.Peer) PeerInfo {
	addr := ""
	if a := p.RemoteAddr(); a != nil {
		addr = a.String()
	}

	return PeerInfo{
		ID:               p.ID(),
		Addr:             addr,
		Direction:        directionString(p.Direction()),
		UserAgent:        p.UserAgent(),
		StartHeight:      p.StartHeight(),
		MisbehaviorScore: p.MisbehaviorScore(),
		NoBan:            p.Permissions().NoBan,
		BytesSent:        p.BytesSent(),
		BytesReceived:    p.BytesReceived(),
		MessagesSent:     p.MessagesSent(),
		MessagesReceived: p.MessagesReceived(),
	}
}

// PeersInfo returns a PeerInfo snapshot for every connected peer, in no
// particular order.
func (m *Manager) PeersInfo() []PeerInfo {
	peers := m.Peers()

	out := make([]PeerInfo, len(peers))
	for i, p := range peers {
		out[i] = newPeerInfo(p)
	}

	return out
}
