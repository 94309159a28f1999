package relay

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/rmacdonaldsmith/pumprelay-go/internal/metrics"
	"github.com/rmacdonaldsmith/pumprelay-go/pkg/pumpmsg"
	"github.com/rmacdonaldsmith/pumprelay-go/pkg/relay"
	"github.com/rmacdonaldsmith/pumprelay-go/pkg/topics"
	"github.com/rmacdonaldsmith/pumprelay-go/pkg/transport"
	"github.com/rmacdonaldsmith/pumprelay-go/pkg/worker"
	"go.uber.org/zap"
)

// NodeLister reports the host nodes currently reachable
type NodeLister interface {
	ConnectedNodes(ctx context.Context) ([]transport.Node, error)
}

// Service implements the relay.Relay interface.
// It decodes inbound host messages and hands them to the command worker; it holds
// no pump state and publishes nothing itself.
type Service struct {
	mu     sync.RWMutex
	config *Config

	worker    worker.Worker
	activator relay.Activator
	nodes     NodeLister
	logger    *zap.Logger
	metrics   *metrics.Metrics

	started bool
}

// NewService creates a relay service. activator and nodes may be nil.
func NewService(config *Config, w worker.Worker, activator relay.Activator, nodes NodeLister, logger *zap.Logger, m *metrics.Metrics) (*Service, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if w == nil {
		return nil, fmt.Errorf("worker cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if activator == nil {
		activator = NewCommandActivator(nil, logger)
	}

	return &Service{
		config:    config,
		worker:    w,
		activator: activator,
		nodes:     nodes,
		logger:    logger,
		metrics:   m,
	}, nil
}

// Start enqueues the initial Initialize request. It is idempotent.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.config.InitializeOnStart {
		if err := s.worker.Submit(ctx, worker.Request{Kind: worker.KindInitialize}); err != nil {
			return fmt.Errorf("failed to initialize pump: %w", err)
		}
	}
	s.started = true
	s.logger.Info("relay service started", zap.String("nodeId", s.config.NodeID))
	return nil
}

// HandleMessage dispatches an inbound host message.
func (s *Service) HandleMessage(ctx context.Context, topic string, payload []byte) (relay.Result, error) {
	result := relay.Result{Topic: topics.Normalize(topic)}

	if ce := s.logger.Check(zap.DebugLevel, "inbound message"); ce != nil {
		ce.Write(zap.String("topic", result.Topic), zap.String("payload", hex.EncodeToString(payload)))
	}

	switch result.Topic {
	case topics.Command:
		cmd, err := pumpmsg.UnmarshalCommand(payload)
		if err != nil {
			return result, s.reject(result.Topic, payload, err)
		}
		return s.submit(ctx, result, worker.KindSendCommand, []pumpmsg.Command{cmd})

	case topics.Commands:
		return s.submitBulk(ctx, result, worker.KindSendCommandsBulk, payload)

	case topics.CommandsBustCache:
		return s.submitBulk(ctx, result, worker.KindSendCommandsBulkBustCache, payload)

	case topics.CachedCommands:
		return s.submitBulk(ctx, result, worker.KindReadCachedBulk, payload)

	case topics.StartActivity:
		if err := s.activator.Activate(ctx); err != nil {
			// Nothing is reported back to the host
			s.logger.Warn("failed to start activity", zap.Error(err))
		}
		return result, nil

	case topics.IsPumpConnected:
		// Answered by the worker so the reply keeps its place among pump events
		return s.submit(ctx, result, worker.KindAnnounceConnection, nil)

	default:
		s.logger.Warn("unknown message topic", zap.String("topic", result.Topic))
		return result, fmt.Errorf("%w: %s", relay.ErrUnknownTopic, result.Topic)
	}
}

// Health returns the current health summary.
func (s *Service) Health(ctx context.Context) relay.Health {
	health := relay.Health{
		Healthy: true,
		NodeID:  s.config.NodeID,
		Status:  s.worker.Status(),
		Message: "relay running",
	}

	if s.nodes != nil {
		nodes, err := s.nodes.ConnectedNodes(ctx)
		if err != nil {
			health.Message = fmt.Sprintf("failed to list host nodes: %v", err)
		} else {
			health.ConnectedNodes = len(nodes)
		}
	}
	return health
}

func (s *Service) submitBulk(ctx context.Context, result relay.Result, kind worker.RequestKind, payload []byte) (relay.Result, error) {
	cmds, err := pumpmsg.UnmarshalCommands(payload)
	if err != nil {
		return result, s.reject(result.Topic, payload, err)
	}
	return s.submit(ctx, result, kind, cmds)
}

func (s *Service) submit(ctx context.Context, result relay.Result, kind worker.RequestKind, cmds []pumpmsg.Command) (relay.Result, error) {
	if err := s.worker.Submit(ctx, worker.Request{Kind: kind, Commands: cmds}); err != nil {
		s.logger.Warn("failed to submit request", zap.Stringer("kind", kind), zap.Error(err))
		return result, fmt.Errorf("failed to submit %s: %w", kind, err)
	}
	result.Kind = kind
	result.Commands = len(cmds)
	return result, nil
}

func (s *Service) reject(topic string, payload []byte, err error) error {
	s.logger.Warn("rejecting undecodable message",
		zap.String("topic", topic),
		zap.Int("bytes", len(payload)),
		zap.Error(err))
	s.metrics.RequestRejected()
	return fmt.Errorf("%w: %w", relay.ErrInvalidPayload, err)
}

// Verify that Service implements the relay.Relay interface at compile time
var _ relay.Relay = (*Service)(nil)
