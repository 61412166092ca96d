package redwire

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/IceFireDB/redwire/pkg/cluster"
	"github.com/IceFireDB/redwire/pkg/pipeline"
	"github.com/IceFireDB/redwire/pkg/rerror"
)

// ClusterClient fronts one Client per cluster node behind a shared
// cluster.Table, routing each command by its key's hash slot and following
// MOVED/ASK redirects transparently. CLUSTERDOWN is surfaced to the caller
// unchanged, per the redirection contract.
type ClusterClient struct {
	template Config // InitialAddresses is overwritten per node
	newNode  func(cfg Config) (*Client, error)

	mu     sync.Mutex
	table  *cluster.Table
	nodes  map[cluster.NodeId]*Client
	closed bool
}

// NewClusterClient seeds a routing table from seedShards and lazily dials
// a Client to each node the table or a MOVED/ASK redirect names. template
// supplies every field except InitialAddresses, which is set per node.
func NewClusterClient(template Config, seedShards []cluster.Shard) *ClusterClient {
	return newClusterClient(template, seedShards, func(cfg Config) (*Client, error) { return New(cfg) })
}

func newClusterClient(template Config, seedShards []cluster.Shard, newNode func(Config) (*Client, error)) *ClusterClient {
	return &ClusterClient{
		template: template,
		newNode:  newNode,
		table:    cluster.NewTable(seedShards),
		nodes:    make(map[cluster.NodeId]*Client),
	}
}

func (cc *ClusterClient) nodeFor(id cluster.NodeId) (*Client, error) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if cc.closed {
		return nil, &rerror.PoolClosedError{}
	}
	if c, ok := cc.nodes[id]; ok {
		return c, nil
	}
	cfg := cc.template
	cfg.InitialAddresses = []string{string(id)}
	c, err := cc.newNode(cfg)
	if err != nil {
		return nil, err
	}
	cc.nodes[id] = c
	return c, nil
}

// Do routes cmd by the hash slot of key (args[0] is the key, matching the
// common single-key command shape; multi-key commands must share a hash
// tag for this to route correctly), following at most one MOVED/ASK hop
// per call — a redirect to a redirect indicates a cluster mid-reshard and
// is surfaced to the caller rather than looped on indefinitely.
func (cc *ClusterClient) Do(ctx context.Context, key string, args ...string) (pipeline.Reply, error) {
	slot := cluster.KeySlot([]byte(key))
	node, ok := cc.lookup(slot)
	if !ok {
		return pipeline.Reply{}, &rerror.NoAvailableConnectionTargetsError{}
	}

	reply, err := cc.doOn(ctx, node, args)
	var srvErr *rerror.ServerError
	if err == nil || !errors.As(err, &srvErr) {
		return reply, err
	}

	redirect := cluster.ParseRedirect(srvErr.Message)
	switch redirect.Kind {
	case cluster.RedirectMoved:
		cc.mu.Lock()
		cc.table.ApplyMoved(redirect.Slot, redirect.Node)
		cc.mu.Unlock()
		return cc.doOn(ctx, redirect.Node, args)
	case cluster.RedirectAsk:
		return cc.doOnAsk(ctx, redirect.Node, args)
	case cluster.RedirectClusterDown:
		return reply, &rerror.ClusterDownError{Message: srvErr.Message}
	default:
		return reply, err
	}
}

func (cc *ClusterClient) lookup(slot cluster.HashSlot) (cluster.NodeId, bool) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	shard, ok := cc.table.Lookup(slot)
	if !ok {
		return "", false
	}
	return shard.NodeId, true
}

func (cc *ClusterClient) doOn(ctx context.Context, node cluster.NodeId, args []string) (pipeline.Reply, error) {
	c, err := cc.nodeFor(node)
	if err != nil {
		return pipeline.Reply{}, err
	}
	return c.Do(ctx, args...)
}

// doOnAsk sends ASKING immediately before the redirected command on the
// same connection, the one-shot flag an ASK redirect requires.
func (cc *ClusterClient) doOnAsk(ctx context.Context, node cluster.NodeId, args []string) (pipeline.Reply, error) {
	c, err := cc.nodeFor(node)
	if err != nil {
		return pipeline.Reply{}, err
	}
	return c.DoSequence(ctx, []string{"ASKING"}, args)
}

// Close closes every node Client this ClusterClient has dialed.
func (cc *ClusterClient) Close() error {
	cc.mu.Lock()
	cc.closed = true
	nodes := cc.nodes
	cc.nodes = nil
	cc.mu.Unlock()

	var errs []string
	for _, c := range nodes {
		if err := c.Close(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return &rerror.AssertionError{Detail: "closing cluster nodes: " + strings.Join(errs, "; ")}
	}
	return nil
}
