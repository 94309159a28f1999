package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rmacdonaldsmith/pumprelay-go/internal/metrics"
	"github.com/rmacdonaldsmith/pumprelay-go/pkg/topics"
	"github.com/rmacdonaldsmith/pumprelay-go/pkg/transport"
	"go.uber.org/zap"
)

// Adapter implements transport.Publisher by fanning messages out to every node of
// every registered link.
//
// Send only enqueues. The dispatcher hands each message to a per-node lane in send
// order; every lane delivers on its own goroutine, so each node observes send order
// and a slow node only delays itself.
type Adapter struct {
	config  Config
	queue   chan transport.Message
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu    sync.RWMutex
	links []transport.Link

	// Owned by Run
	lanes map[laneKey]*lane
	wg    sync.WaitGroup
}

// laneKey identifies a node within one registered link
type laneKey struct {
	link int
	node string
}

// lane holds messages waiting for one node
type lane struct {
	link  transport.Link
	node  transport.Node
	queue chan transport.Message
}

// NewAdapter creates an adapter delivering through links. Call Run to start dispatching.
func NewAdapter(config Config, logger *zap.Logger, links ...transport.Link) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transport config: %w", err)
	}
	config.SetDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Adapter{
		config:  config,
		queue:   make(chan transport.Message, config.SendQueueSize),
		logger:  logger,
		metrics: config.Metrics,
		links:   links,
		lanes:   make(map[laneKey]*lane),
	}, nil
}

// AddLink registers another link. Messages dispatched afterwards reach its nodes too.
func (a *Adapter) AddLink(link transport.Link) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.links = append(a.links, link)
}

// Send queues payload on topic for delivery. It never blocks; when the queue is
// full the message is logged and dropped.
func (a *Adapter) Send(topic string, payload []byte) {
	msg := transport.Message{
		ID:        uuid.NewString(),
		Topic:     topics.Normalize(topic),
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}

	select {
	case a.queue <- msg:
	default:
		a.logger.Warn("send queue full, dropping message",
			zap.String("topic", msg.Topic),
			zap.Int("queueSize", a.config.SendQueueSize))
		a.metrics.PublishDropped()
	}
}

// Run dispatches queued messages until ctx is cancelled. It returns once every
// node lane has stopped.
func (a *Adapter) Run(ctx context.Context) error {
	a.logger.Info("transport dispatcher started", zap.String("nodeId", a.config.NodeID))
	defer a.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			a.logger.Info("transport dispatcher stopped", zap.Int("undelivered", len(a.queue)))
			return nil
		case msg := <-a.queue:
			a.dispatch(ctx, msg)
		}
	}
}

// ConnectedNodes returns the nodes currently reachable across all links.
func (a *Adapter) ConnectedNodes(ctx context.Context) ([]transport.Node, error) {
	var nodes []transport.Node
	for _, link := range a.snapshotLinks() {
		linkNodes, err := link.ConnectedNodes(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s nodes: %w", link.Name(), err)
		}
		nodes = append(nodes, linkNodes...)
	}
	return nodes, nil
}

// dispatch queues msg on the lane of every node currently reachable. Lanes of
// nodes a link no longer reports are closed.
func (a *Adapter) dispatch(ctx context.Context, msg transport.Message) {
	for i, link := range a.snapshotLinks() {
		nodes, err := link.ConnectedNodes(ctx)
		if err != nil {
			a.logger.Warn("failed to get connected nodes", zap.String("link", link.Name()), zap.Error(err))
			continue
		}

		seen := make(map[string]bool, len(nodes))
		for _, node := range nodes {
			key := laneKey{link: i, node: node.ID()}
			seen[key.node] = true
			l, ok := a.lanes[key]
			if !ok {
				l = a.openLane(ctx, link, node)
				a.lanes[key] = l
			}

			select {
			case l.queue <- msg:
			default:
				a.logger.Warn("node queue full, dropping message",
					zap.String("link", link.Name()),
					zap.String("node", node.ID()),
					zap.String("topic", msg.Topic))
				a.metrics.PublishDropped()
			}
		}
		a.closeMissing(i, seen)
	}
}

func (a *Adapter) openLane(ctx context.Context, link transport.Link, node transport.Node) *lane {
	l := &lane{
		link:  link,
		node:  node,
		queue: make(chan transport.Message, a.config.SendQueueSize),
	}
	a.wg.Add(1)
	go a.runLane(ctx, l)
	a.logger.Debug("node lane opened", zap.String("link", link.Name()), zap.String("node", node.ID()))
	return l
}

func (a *Adapter) closeMissing(link int, seen map[string]bool) {
	for key, l := range a.lanes {
		if key.link != link || seen[key.node] {
			continue
		}
		close(l.queue)
		delete(a.lanes, key)
		a.logger.Debug("node lane closed", zap.String("link", l.link.Name()), zap.String("node", key.node))
	}
}

// runLane delivers one node's messages in order until its queue is closed or ctx
// is cancelled.
func (a *Adapter) runLane(ctx context.Context, l *lane) {
	defer a.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-l.queue:
			if !ok {
				return
			}
			a.deliver(ctx, l.link, l.node, msg)
		}
	}
}

func (a *Adapter) deliver(ctx context.Context, link transport.Link, node transport.Node, msg transport.Message) {
	sendCtx, cancel := context.WithTimeout(ctx, a.config.RequestTimeout)
	err := link.SendMessage(sendCtx, node, msg)
	cancel()
	if err != nil {
		// Dropped; the host re-requests what it still needs
		a.logger.Warn("failed to deliver message",
			zap.String("link", link.Name()),
			zap.String("node", node.ID()),
			zap.String("topic", msg.Topic),
			zap.Error(err))
		a.metrics.PublishFailed()
		return
	}
	a.logger.Debug("delivered message",
		zap.String("node", node.ID()),
		zap.String("topic", msg.Topic),
		zap.String("messageId", msg.ID))
}

func (a *Adapter) snapshotLinks() []transport.Link {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]transport.Link(nil), a.links...)
}

// Verify that Adapter implements the transport.Publisher interface at compile time
var _ transport.Publisher = (*Adapter)(nil)
