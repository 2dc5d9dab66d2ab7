// Package dashboard serves the status snapshot to the web dashboard over HTTP
// and pushes updates to connected websocket clients.
package dashboard

import (
	"context"
	"log"
	"sync"

	"github.com/NotiFansly/dashbot/internal/metrics"
	"github.com/NotiFansly/dashbot/internal/status"
)

// Client is one connected dashboard. Send must not block.
type Client interface {
	ID() string
	Send(snap status.Snapshot) error
	Close()
}

type SnapshotSource interface {
	Snapshot(ctx context.Context) status.Snapshot
}

type Publisher struct {
	snapshots SnapshotSource
	metrics   *metrics.Metrics

	mu      sync.Mutex
	clients map[string]Client
}

func NewPublisher(snapshots SnapshotSource, m *metrics.Metrics) *Publisher {
	return &Publisher{
		snapshots: snapshots,
		metrics:   m,
		clients:   make(map[string]Client),
	}
}

// OnConnect sends the current snapshot to c and subscribes it to updates.
// A client that cannot take the first snapshot is not subscribed. The
// snapshot is taken under the publisher lock so a concurrent broadcast
// either precedes it or reaches c.
func (p *Publisher) OnConnect(ctx context.Context, c Client) error {
	p.mu.Lock()
	if err := c.Send(p.snapshots.Snapshot(ctx)); err != nil {
		p.mu.Unlock()
		return err
	}
	p.clients[c.ID()] = c
	n := len(p.clients)
	p.mu.Unlock()

	p.metrics.DashboardClientCount(n)
	log.Printf("Dashboard client %s connected (%d connected)", c.ID(), n)
	return nil
}

func (p *Publisher) OnDisconnect(id string) {
	p.mu.Lock()
	_, ok := p.clients[id]
	delete(p.clients, id)
	n := len(p.clients)
	p.mu.Unlock()

	if ok {
		p.metrics.DashboardClientCount(n)
		log.Printf("Dashboard client %s disconnected (%d connected)", id, n)
	}
}

// OnStatusChange pushes the current snapshot to every client. Clients that
// fail to accept it are dropped. Broadcasts are serialized so clients never
// receive an older snapshot after a newer one.
func (p *Publisher) OnStatusChange(ctx context.Context) {
	p.mu.Lock()
	snap := p.snapshots.Snapshot(ctx)
	var failed []Client
	for id, c := range p.clients {
		if err := c.Send(snap); err != nil {
			failed = append(failed, c)
			delete(p.clients, id)
		}
	}
	n := len(p.clients)
	p.mu.Unlock()

	if len(failed) == 0 {
		return
	}
	for _, c := range failed {
		c.Close()
	}
	p.metrics.DashboardClientCount(n)
	log.Printf("Dropped %d unresponsive dashboard clients", len(failed))
}

func (p *Publisher) ClientCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}
