package live

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"roundkeeper/internal/chain"
	"roundkeeper/internal/model"
	"roundkeeper/internal/streams"
	"roundkeeper/internal/syncer"
)

// LogSubscriber opens a push subscription for logs.
type LogSubscriber interface {
	SubscribeLogs(ctx context.Context, addresses []common.Address, topics [][]common.Hash, ch chan<- types.Log) (ethereum.Subscription, error)
}

// WSSource delivers logs pushed over a WebSocket subscription.
type WSSource struct {
	client    LogSubscriber
	addresses []common.Address
	topics    []common.Hash
	logger    *zap.Logger
}

func NewWSSource(client LogSubscriber, addresses []common.Address, topics []common.Hash, logger *zap.Logger) *WSSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSSource{client: client, addresses: addresses, topics: topics, logger: logger}
}

func (s *WSSource) Name() string { return string(model.OriginWebSocket) }

func (s *WSSource) Run(ctx context.Context, sink Sink) error {
	ch := make(chan types.Log, 128)
	sub, err := s.client.SubscribeLogs(ctx, s.addresses, [][]common.Hash{s.topics}, ch)
	if err != nil {
		return fmt.Errorf("subscribe logs: %w", err)
	}
	defer sub.Unsubscribe()
	sink.Connected()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			if err == nil {
				return fmt.Errorf("subscription closed")
			}
			return err
		case lg := <-ch:
			sink.Emit(chain.RawLogFromLog(lg, model.OriginWebSocket, 0, time.Now()))
		}
	}
}

// LogPoller reads logs by block range.
type LogPoller interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topics [][]common.Hash) ([]types.Log, error)
}

// PollConfig configures a PollSource.
type PollConfig struct {
	Addresses []common.Address
	Topics    []common.Hash
	Interval  time.Duration
	Lookback  uint64
	MaxRange  uint64
	Cursor    *CursorStore
}

// PollSource polls the RPC endpoint for new logs. It is the fallback when
// the WebSocket source degrades.
type PollSource struct {
	cfg    PollConfig
	client LogPoller
	logger *zap.Logger

	mu   sync.Mutex
	next uint64
}

func NewPollSource(cfg PollConfig, client LogPoller, logger *zap.Logger) *PollSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.Lookback == 0 {
		cfg.Lookback = 100
	}
	if cfg.MaxRange == 0 {
		cfg.MaxRange = 900
	}
	return &PollSource{cfg: cfg, client: client, logger: logger}
}

func (s *PollSource) Name() string { return string(model.OriginRPCPoll) }

func (s *PollSource) Run(ctx context.Context, sink Sink) error {
	if err := s.init(ctx); err != nil {
		return err
	}
	sink.Connected()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		if err := s.poll(ctx, sink); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *PollSource) init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next > 0 {
		return nil
	}

	cur, ok, err := s.cfg.Cursor.Load()
	if err != nil {
		s.logger.Warn("ignoring unreadable poll cursor", zap.Error(err))
	}
	if ok {
		s.next = cur.LastBlock + 1
		s.logger.Info("resume from cursor", zap.Uint64("from", s.next))
		return nil
	}

	head, err := s.client.LatestBlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("latest block: %w", err)
	}
	s.next = syncer.RecentWindow(head, s.cfg.Lookback).From
	return nil
}

func (s *PollSource) poll(ctx context.Context, sink Sink) error {
	head, err := s.client.LatestBlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("latest block: %w", err)
	}

	s.mu.Lock()
	from := s.next
	s.mu.Unlock()
	if from > head {
		return nil
	}

	ranges, err := syncer.SplitRange(from, head, s.cfg.MaxRange)
	if err != nil {
		return err
	}
	topics := [][]common.Hash{s.cfg.Topics}
	for _, r := range ranges {
		logs, err := s.client.FilterLogs(ctx, r.From, r.To, s.cfg.Addresses, topics)
		if err != nil {
			return fmt.Errorf("filter logs %d-%d: %w", r.From, r.To, err)
		}
		receivedAt := time.Now()
		for _, lg := range logs {
			sink.Emit(chain.RawLogFromLog(lg, model.OriginRPCPoll, 0, receivedAt))
		}

		s.mu.Lock()
		s.next = r.To + 1
		s.mu.Unlock()
		if err := s.cfg.Cursor.Save(r.To); err != nil {
			s.logger.Warn("save poll cursor failed", zap.Error(err))
		}
		if len(logs) > 0 {
			s.logger.Debug("polled logs", zap.Int("logs", len(logs)), zap.Uint64("from", r.From), zap.Uint64("to", r.To))
		}
	}
	return nil
}

// StreamSource re-reads the data stream on an interval and emits entries it
// has not delivered before.
type StreamSource struct {
	client   streams.Client
	interval time.Duration
	logger   *zap.Logger

	mu   sync.Mutex
	seen map[common.Hash]struct{}
}

func NewStreamSource(client streams.Client, interval time.Duration, logger *zap.Logger) *StreamSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &StreamSource{
		client:   client,
		interval: interval,
		logger:   logger,
		seen:     make(map[common.Hash]struct{}),
	}
}

func (s *StreamSource) Name() string { return string(model.OriginExternalStream) }

func (s *StreamSource) Run(ctx context.Context, sink Sink) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	connected := false
	for {
		entries, err := s.client.GetAllPublisherDataForSchema(ctx)
		if err != nil {
			return fmt.Errorf("read stream: %w", err)
		}
		if !connected {
			sink.Connected()
			connected = true
		}

		s.deliver(entries, sink, time.Now())

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// deliver emits entries not returned by the previous read. Only hashes of the
// latest read are kept.
func (s *StreamSource) deliver(entries [][]byte, sink Sink, receivedAt time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[common.Hash]struct{}, len(entries))
	emitted := 0
	for _, data := range entries {
		key := crypto.Keccak256Hash(data)
		if _, dup := next[key]; dup {
			continue
		}
		next[key] = struct{}{}
		if _, ok := s.seen[key]; ok {
			continue
		}
		sink.Emit(streams.RawEntry(s.client.SchemaID(), data, receivedAt))
		emitted++
	}
	s.seen = next
	return emitted
}
