package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"roundkeeper/internal/chain"
	"roundkeeper/internal/explorer"
	"roundkeeper/internal/live"
	"roundkeeper/internal/model"
	"roundkeeper/internal/storage"
)

func main() {
	root := &cobra.Command{
		Use:          "roundkeeper",
		Short:        "Round history and stream sync for the staking game",
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "config file path")
	pf.String("rpc", "", "RPC URL")
	pf.String("lsw-address", "", "game contract address")
	pf.String("rewarder-address", "", "rewarder contract address")
	pf.String("streams-address", "", "data stream contract address")
	pf.String("publisher-address", "", "stream publisher address")
	pf.String("store", "file", "persistence backend (file, memory, redis, postgres)")
	pf.String("state-dir", "./data", "directory of the file store")
	pf.String("redis-addr", "", "redis address")
	pf.String("pg-dsn", "", "Postgres DSN")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.String("log-file", "", "optional rotating log file")

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow live events and keep round history current",
		RunE:  runWatch,
	}
	watchCmd.Flags().String("ws", "", "WebSocket RPC URL")
	watchCmd.Flags().String("explorer", "", "block explorer URL used for the startup preload")
	watchCmd.Flags().Duration("poll-interval", 5*time.Second, "log poll interval")
	watchCmd.Flags().Duration("health-interval", 30*time.Second, "RPC health check interval")
	watchCmd.Flags().String("journal", "", "optional JSONL file of every raw log received")
	watchCmd.Flags().String("poll-cursor", "", "optional file tracking the last polled block")
	watchCmd.Flags().Bool("skip-sync", false, "skip the initial stream sync")
	root.AddCommand(watchCmd)

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Backfill rounds missing from the data stream",
		RunE:  runSync,
	}
	syncCmd.Flags().Uint64("max-block-range", 900, "max blocks per eth_getLogs call")
	syncCmd.Flags().Uint64("lookback-blocks", 2000, "blocks scanned back from head")
	root.AddCommand(syncCmd)

	root.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Compare the data stream with the contract round counter",
		RunE:  runStatus,
	})

	root.AddCommand(&cobra.Command{
		Use:   "history",
		Short: "Print the persisted round history and activity feed",
		RunE:  runHistory,
	})

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear the persisted round history",
		RunE:  runClear,
	}
	clearCmd.Flags().Bool("activity", false, "also clear the activity feed")
	root.AddCommand(clearCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger, true)
	if err != nil {
		return err
	}
	defer a.Close()

	addresses := []common.Address{a.lsw}
	if a.rewarder != (common.Address{}) {
		addresses = append(addresses, a.rewarder)
	}

	if cfg.ExplorerURL != "" {
		preload(ctx, a, addresses)
	}

	skipSync, _ := cmd.Flags().GetBool("skip-sync")
	if a.syncer != nil && !skipSync {
		if result, err := a.syncer.Sync(ctx); err != nil {
			logger.Warn("initial sync failed", zap.Error(err))
		} else {
			logger.Info("initial sync done",
				zap.Bool("synced", result.After.IsSynced),
				zap.Uint64s("published", result.Backfill.Published),
				zap.Uint64s("failed", result.Backfill.Failed()),
			)
		}
	}

	var journal *storage.JournalWriter
	if cfg.Journal != "" {
		journal = storage.NewJournalWriter(cfg.Journal)
	}

	poll := live.NewPollSource(live.PollConfig{
		Addresses: addresses,
		Topics:    a.decoder.Topics(),
		Interval:  cfg.PollInterval,
		MaxRange:  cfg.MaxBlockRange,
		Cursor:    live.NewCursorStore(cfg.PollCursor),
	}, a.chain, logger.Named("poll"))

	var manager *live.Manager
	var fallback sync.Once
	startPolling := func(reason string) {
		fallback.Do(func() {
			logger.Warn("falling back to log polling", zap.String("reason", reason))
			if err := manager.AddSource(poll); err != nil {
				logger.Error("start poll source", zap.Error(err))
			}
		})
	}

	manager = live.NewManager(live.Config{
		ReconnectDelay: cfg.ReconnectBackoff,
		MaxReconnects:  cfg.MaxReconnects,
		HealthSpec:     cfg.HealthSpec(),
		Journal:        journal,
		OnStatus: func(st live.Status) {
			if st.Source == string(model.OriginWebSocket) && st.State == live.StateDegraded {
				startPolling("websocket degraded")
			}
		},
	}, a.decoder, a.chain, logger.Named("live"))
	defer manager.Close()

	a.timeline.Attach(manager.Bus())

	wsReady := false
	if cfg.WSURL != "" {
		wsClient, err := chain.NewClient(ctx, cfg.WSURL)
		if err != nil {
			logger.Warn("websocket connect failed", zap.String("ws", cfg.WSURL), zap.Error(err))
		} else {
			defer wsClient.Close()
			if err := manager.AddSource(live.NewWSSource(wsClient, addresses, a.decoder.Topics(), logger.Named("ws"))); err != nil {
				return err
			}
			wsReady = true
		}
	}

	if a.streams != nil {
		if err := manager.AddSource(live.NewStreamSource(a.streams, cfg.StreamPollInterval, logger.Named("stream"))); err != nil {
			return err
		}
	}

	if err := manager.Start(ctx); err != nil {
		return err
	}
	if !wsReady {
		startPolling("websocket unavailable")
	}

	logger.Info("watching",
		zap.String("lsw", a.lsw.Hex()),
		zap.String("rewarder", a.rewarder.Hex()),
		zap.Int("rounds", a.timeline.History().Len()),
	)
	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

func preload(ctx context.Context, a *app, addresses []common.Address) {
	client, err := explorer.NewClient(explorer.Config{
		BaseURL:  a.cfg.ExplorerURL,
		MaxPages: a.cfg.ExplorerPages,
	}, a.logger.Named("explorer"))
	if err != nil {
		a.logger.Warn("explorer disabled", zap.Error(err))
		return
	}

	var entries []model.RawLogEntry
	for _, addr := range addresses {
		logs, err := client.FetchLogs(ctx, addr)
		if err != nil {
			a.logger.Warn("explorer preload failed", zap.String("address", addr.Hex()), zap.Error(err))
			continue
		}
		entries = append(entries, logs...)
	}
	handled := a.timeline.Preload(ctx, entries)
	a.logger.Info("explorer preload done", zap.Int("logs", len(entries)), zap.Int("handled", handled))
}

func runSync(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger, true)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.requireSyncer(); err != nil {
		return err
	}

	result, err := a.syncer.Sync(ctx)
	if err != nil {
		return err
	}
	for _, syncErr := range result.Backfill.Errors {
		logger.Warn("round not backfilled", zap.Uint64("round_id", syncErr.RoundID), zap.Error(syncErr.Err))
	}
	return printJSON(result)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger, true)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.requireSyncer(); err != nil {
		return err
	}

	state, err := a.syncer.CheckSync(ctx)
	if err != nil {
		return err
	}
	return printJSON(struct {
		model.SyncState
		Pending []uint64 `json:"pendingRetry"`
	}{state, a.syncer.Pending()})
}

func runHistory(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	a, err := newApp(cmd.Context(), cfg, logger, false)
	if err != nil {
		return err
	}
	defer a.Close()

	return printJSON(struct {
		Rounds   []model.CompletedRound `json:"rounds"`
		Activity []model.ActivityEvent  `json:"activity"`
	}{a.timeline.History().Rounds(), a.timeline.Feed().Items()})
}

func runClear(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer a.Close()

	a.timeline.History().Clear(ctx)
	if clearActivity, _ := cmd.Flags().GetBool("activity"); clearActivity {
		a.timeline.Feed().Clear(ctx)
	}
	if err := a.timeline.History().PersistErr(); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	logger.Info("history cleared")
	return nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
