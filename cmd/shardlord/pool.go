package main

import (
	"strconv"
	"sync"

	"github.com/pgshardman/shardlord/catalog"
	"github.com/pgshardman/shardlord/sqlnode"
)

// nodePool hands out one long-lived *sqlnode.Client per worker node, so
// tasks that touch the same node across a copy and its follow-on rewiring
// steps share a connection instead of each dialing separately.
type nodePool struct {
	mu      sync.Mutex
	clients map[catalog.NodeID]*sqlnode.Client
}

func newNodePool() *nodePool {
	return &nodePool{clients: make(map[catalog.NodeID]*sqlnode.Client)}
}

func (p *nodePool) get(node catalog.Node) *sqlnode.Client {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[node.ID]; ok {
		return c
	}
	c := sqlnode.New(nodeLabel(node.ID), node.ConnString)
	p.clients[node.ID] = c
	return c
}

func nodeLabel(id catalog.NodeID) string {
	return "node_" + strconv.FormatInt(int64(id), 10)
}
