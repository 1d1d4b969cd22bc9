package main

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"roundkeeper/internal/chain"
	"roundkeeper/internal/config"
	"roundkeeper/internal/game"
	"roundkeeper/internal/round"
	"roundkeeper/internal/storage"
	"roundkeeper/internal/storage/postgres"
	"roundkeeper/internal/storage/redis"
	"roundkeeper/internal/store"
	"roundkeeper/internal/streams"
	"roundkeeper/internal/syncer"
	"roundkeeper/internal/timeline"
)

// app holds the components shared by every command.
type app struct {
	cfg      config.Config
	logger   *zap.Logger
	chain    *chain.Client
	decoder  *game.Decoder
	timeline *timeline.Timeline
	streams  *streams.ContractClient
	syncer   *syncer.Synchronizer

	lsw      common.Address
	rewarder common.Address
	closers  []func()
}

func loadConfig(cmd *cobra.Command) (config.Config, *zap.Logger, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := newLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

// newApp wires the components. The RPC connection and the streams client
// are only opened when withChain is set.
func newApp(ctx context.Context, cfg config.Config, logger *zap.Logger, withChain bool) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	lsw, err := chain.ParseAddress(cfg.LSWAddress)
	if err != nil {
		return nil, fmt.Errorf("lsw address: %w", err)
	}
	rewarder, err := chain.ParseOptionalAddress(cfg.RewarderAddress)
	if err != nil {
		return nil, fmt.Errorf("rewarder address: %w", err)
	}
	a.lsw, a.rewarder = lsw, rewarder

	schemaID := streams.ComputeSchemaID(streams.RoundEndedSchema)
	if cfg.SchemaID != "" {
		if schemaID, err = chain.ParseHash(cfg.SchemaID); err != nil {
			return nil, fmt.Errorf("schema id: %w", err)
		}
	}
	a.decoder, err = game.NewDecoder(game.DecoderConfig{Topic0Map: cfg.Topic0Map, StreamSchemaID: schemaID})
	if err != nil {
		return nil, err
	}

	kv, closeKV, err := newKV(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store, err)
	}
	a.closers = append(a.closers, closeKV)

	history := store.NewRoundHistory(store.HistoryConfig{
		Capacity: cfg.HistoryCapacity,
		Assembler: round.Config{
			RetentionRounds: uint64(cfg.RetentionRounds),
			PendingCapacity: cfg.PendingCapacity,
		},
	}, kv, logger.Named("history"))
	feed := store.NewActivityFeed(store.ActivityConfig{Capacity: cfg.ActivityCapacity}, kv, logger.Named("activity"))
	a.timeline = timeline.New(a.decoder, history, feed, logger.Named("timeline"))
	a.timeline.Load(ctx)

	if !withChain {
		return a, nil
	}

	a.chain, err = chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("connect rpc: %w", err)
	}
	a.closers = append(a.closers, a.chain.Close)

	if cfg.StreamsAddress == "" {
		logger.Warn("streams-address not set, stream sync disabled")
		return a, nil
	}
	streamsAddr, err := chain.ParseAddress(cfg.StreamsAddress)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("streams address: %w", err)
	}
	publisher, err := chain.ParseOptionalAddress(cfg.PublisherAddress)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("publisher address: %w", err)
	}
	var chainID *big.Int
	if cfg.ChainID > 0 {
		chainID = new(big.Int).SetUint64(cfg.ChainID)
	}
	a.streams, err = streams.NewContractClient(a.chain.Eth(), streams.ContractConfig{
		Address:    streamsAddr,
		Publisher:  publisher,
		SchemaID:   schemaID,
		PrivateKey: cfg.PublisherKey,
		ChainID:    chainID,
		WaitMined:  true,
	}, logger.Named("streams"))
	if err != nil {
		a.Close()
		return nil, err
	}
	if !a.streams.CanWrite() {
		logger.Warn("publisher-key not set, backfill publishing will fail")
	}

	a.syncer, err = syncer.New(syncer.Config{
		LSWAddress:     lsw,
		MaxBlockRange:  cfg.MaxBlockRange,
		LookbackBlocks: cfg.LookbackBlocks,
		RPS:            cfg.RPS,
		MaxRetries:     cfg.MaxRetries,
		RetryBaseDelay: cfg.RetryBackoff,
	}, a.chain, a.streams, a.decoder, a.timeline, logger.Named("syncer"))
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) requireSyncer() error {
	if a.syncer == nil {
		return fmt.Errorf("streams-address is required for stream sync")
	}
	return nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	a.timeline.Close()
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// newKV opens the configured persistence backend.
func newKV(ctx context.Context, cfg config.Config, logger *zap.Logger) (storage.KV, func(), error) {
	switch cfg.Store {
	case "memory":
		return storage.NewMemoryKV(), func() {}, nil
	case "redis":
		kv, err := redis.NewKV(ctx, redis.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   "roundkeeper:",
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return kv, func() { _ = kv.Close() }, nil
	case "postgres":
		kv, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return nil, nil, err
		}
		return kv, kv.Close, nil
	default:
		kv, err := storage.NewFileKV(cfg.StateDir)
		if err != nil {
			return nil, nil, err
		}
		return kv, func() {}, nil
	}
}
