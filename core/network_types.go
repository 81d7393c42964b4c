package core

import (
	"context"
	"sync"
	"time"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
)

// NodeID identifies a mesh peer. It is derived from the peer's libp2p
// identity, not from a DID; a single operator's node can host many
// DIDs (job submitters, executors) over one NodeID.
type NodeID string

// Peer is a known remote participant in the mesh network.
type Peer struct {
	ID      NodeID
	Addr    string
	Latency time.Duration
}

// Message is a decoded inbound pub-sub message, tagged with the topic
// it arrived on and the peer that published it.
type Message struct {
	From  NodeID
	Topic string
	Data  []byte
}

// Config configures the libp2p transport a Node wraps.
type Config struct {
	ListenAddr     string   `yaml:"listen_addr"`
	BootstrapPeers []string `yaml:"bootstrap_peers"`
	DiscoveryTag   string   `yaml:"discovery_tag"`
}

// Node wraps a libp2p host and gossip pub-sub router, tracking known
// peers and topic subscriptions. It is the concrete transport a
// NetworkAnnouncer publishes job-lifecycle messages through.
type Node struct {
	host      host.Host
	pubsub    *pubsub.PubSub
	topics    map[string]*pubsub.Topic
	subs      map[string]*pubsub.Subscription
	topicLock sync.RWMutex
	subLock   sync.RWMutex
	peerLock  sync.RWMutex
	peers     map[NodeID]*Peer
	nat       *NATManager
	ctx       context.Context
	cancel    context.CancelFunc
	cfg       Config
}
