package live

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"roundkeeper/internal/game"
	"roundkeeper/internal/model"
	"roundkeeper/internal/storage"
)

// Sink receives raw entries from a running source.
type Sink interface {
	Emit(raw model.RawLogEntry)
	// Connected reports that the source is established, which resets its
	// reconnect budget.
	Connected()
}

// Source is one long-lived connection delivering raw entries. Run blocks
// until ctx is done or the connection is lost.
type Source interface {
	Name() string
	Run(ctx context.Context, sink Sink) error
}

// HealthChecker performs the periodic lightweight RPC call.
type HealthChecker interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
}

// State is the connection state of a source.
type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateDegraded     State = "degraded"
	StateStopped      State = "stopped"
)

// Status is reported through Config.OnStatus on every state change.
type Status struct {
	Source  string
	State   State
	Attempt int
	Err     error
}

// Config configures a Manager.
type Config struct {
	ReconnectDelay time.Duration
	MaxReconnects  int
	HealthSpec     string
	HealthTimeout  time.Duration
	BufferSize     int
	OnStatus       func(Status)
	Journal        *storage.JournalWriter
}

func (c *Config) applyDefaults() {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 5 * time.Second
	}
	if c.MaxReconnects <= 0 {
		c.MaxReconnects = 3
	}
	if c.HealthSpec == "" {
		c.HealthSpec = "@every 30s"
	}
	if c.HealthTimeout <= 0 {
		c.HealthTimeout = 10 * time.Second
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 256
	}
}

// Manager runs sources, decodes what they deliver on a single dispatcher
// goroutine and publishes the events on its Bus.
type Manager struct {
	cfg     Config
	decoder *game.Decoder
	bus     *Bus
	health  HealthChecker
	logger  *zap.Logger

	raw     chan model.RawLogEntry
	runners *xsync.Map[string, *runner]
	cron    *cron.Cron

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	closed  bool
	wg      sync.WaitGroup
}

// NewManager builds a Manager. health may be nil to disable health checks.
func NewManager(cfg Config, decoder *game.Decoder, health HealthChecker, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()
	return &Manager{
		cfg:     cfg,
		decoder: decoder,
		bus:     NewBus(logger),
		health:  health,
		logger:  logger,
		raw:     make(chan model.RawLogEntry, cfg.BufferSize),
		runners: xsync.NewMap[string, *runner](),
	}
}

// Bus returns the event bus.
func (m *Manager) Bus() *Bus {
	return m.bus
}

// Subscribe registers fn for kinds on the bus.
func (m *Manager) Subscribe(kinds []model.EventKind, fn Listener) func() {
	return m.bus.Subscribe(kinds, fn)
}

// AddSource registers src. Sources added after Start begin immediately.
func (m *Manager) AddSource(src Source) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("manager closed")
	}
	r := &runner{src: src, m: m, state: StateStopped}
	if _, loaded := m.runners.LoadOrStore(src.Name(), r); loaded {
		return fmt.Errorf("source %q already registered", src.Name())
	}
	if m.started {
		m.launch(r)
	}
	return nil
}

// Start launches the dispatcher, every registered source and the health check.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("manager closed")
	}
	if m.started {
		return fmt.Errorf("manager already started")
	}
	if m.decoder == nil {
		return fmt.Errorf("decoder is required")
	}

	m.ctx, m.cancel = context.WithCancel(ctx)
	m.started = true

	m.wg.Add(1)
	go m.dispatch()

	m.runners.Range(func(_ string, r *runner) bool {
		m.launch(r)
		return true
	})

	if m.health != nil {
		m.cron = cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger)))
		if _, err := m.cron.AddFunc(m.cfg.HealthSpec, func() { m.checkHealth(m.ctx) }); err != nil {
			m.cancel()
			return fmt.Errorf("schedule health check: %w", err)
		}
		m.cron.Start()
		m.logger.Info("health check scheduled", zap.String("spec", m.cfg.HealthSpec))
	}
	return nil
}

func (m *Manager) launch(r *runner) {
	m.wg.Add(1)
	go r.run(m.ctx)
}

// Close stops every source and waits for them and the dispatcher. It is safe
// to call more than once.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	started := m.started
	m.mu.Unlock()

	if !started {
		return
	}
	if m.cron != nil {
		<-m.cron.Stop().Done()
	}
	m.cancel()
	m.wg.Wait()
}

// State returns the current state of the named source.
func (m *Manager) State(name string) (State, bool) {
	r, ok := m.runners.Load(name)
	if !ok {
		return "", false
	}
	return r.currentState(), true
}

func (m *Manager) emit(ctx context.Context, raw model.RawLogEntry) {
	select {
	case m.raw <- raw:
	case <-ctx.Done():
	}
}

func (m *Manager) dispatch() {
	defer m.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			return
		case raw := <-m.raw:
			m.handle(raw)
		}
	}
}

func (m *Manager) handle(raw model.RawLogEntry) {
	if m.cfg.Journal != nil {
		if err := m.cfg.Journal.Append([]model.RawLogEntry{raw}); err != nil {
			m.logger.Warn("journal append failed", zap.Error(err))
		}
	}
	if raw.Removed {
		m.logger.Debug("skipping removed log", zap.String("tx_hash", raw.TxHash), zap.Uint64("log_index", raw.LogIndex))
		return
	}

	ev, err := m.decoder.Decode(raw)
	if err != nil {
		if errors.Is(err, model.ErrUnknownEvent) {
			m.logger.Debug("skipping untracked event", zap.String("topic0", raw.Topic0()), zap.String("origin", string(raw.Origin)))
			return
		}
		m.logger.Warn("skipping undecodable log", zap.String("origin", string(raw.Origin)), zap.Error(err))
		return
	}
	m.bus.Publish(ev)
}

// checkHealth forces every connected source to reconnect when the RPC
// endpoint does not answer.
func (m *Manager) checkHealth(ctx context.Context) {
	hctx, cancel := context.WithTimeout(ctx, m.cfg.HealthTimeout)
	defer cancel()

	head, err := m.health.LatestBlockNumber(hctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		m.logger.Warn("health check failed, forcing reconnect", zap.Error(err))
		m.runners.Range(func(_ string, r *runner) bool {
			r.restart()
			return true
		})
		return
	}
	m.logger.Debug("health check ok", zap.Uint64("head", head))
}

func (m *Manager) report(st Status) {
	fields := []zap.Field{zap.String("source", st.Source), zap.String("state", string(st.State))}
	if st.Attempt > 0 {
		fields = append(fields, zap.Int("attempt", st.Attempt))
	}
	if st.Err != nil {
		fields = append(fields, zap.Error(st.Err))
	}
	switch st.State {
	case StateDegraded:
		m.logger.Error("source degraded", fields...)
	case StateReconnecting:
		m.logger.Warn("source connection lost", fields...)
	default:
		m.logger.Info("source state", fields...)
	}
	if m.cfg.OnStatus != nil {
		m.cfg.OnStatus(st)
	}
}

type runner struct {
	src Source
	m   *Manager

	mu       sync.Mutex
	cancel   context.CancelFunc
	attempts int
	state    State
}

func (r *runner) run(ctx context.Context) {
	defer r.m.wg.Done()
	name := r.src.Name()

	for {
		runCtx, cancel := context.WithCancel(ctx)
		r.mu.Lock()
		r.cancel = cancel
		r.mu.Unlock()

		r.setState(StateConnecting, 0, nil)
		err := r.src.Run(runCtx, &runnerSink{r: r, ctx: runCtx})
		cancel()

		r.mu.Lock()
		r.cancel = nil
		r.mu.Unlock()

		if ctx.Err() != nil {
			r.setState(StateStopped, 0, nil)
			return
		}
		if err == nil {
			err = errors.New("connection closed")
		}
		connErr := &model.ConnectionError{Source: name, Err: err}

		r.mu.Lock()
		r.attempts++
		attempt := r.attempts
		r.mu.Unlock()

		if attempt > r.m.cfg.MaxReconnects {
			r.setState(StateDegraded, attempt-1, connErr)
			return
		}
		r.setState(StateReconnecting, attempt, connErr)

		timer := time.NewTimer(r.m.cfg.ReconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			r.setState(StateStopped, 0, nil)
			return
		case <-timer.C:
		}
	}
}

func (r *runner) restart() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (r *runner) connected() {
	r.mu.Lock()
	r.attempts = 0
	already := r.state == StateConnected
	r.mu.Unlock()
	if !already {
		r.setState(StateConnected, 0, nil)
	}
}

func (r *runner) setState(state State, attempt int, err error) {
	r.mu.Lock()
	r.state = state
	r.mu.Unlock()
	r.m.report(Status{Source: r.src.Name(), State: state, Attempt: attempt, Err: err})
}

func (r *runner) currentState() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

type runnerSink struct {
	r   *runner
	ctx context.Context
}

func (s *runnerSink) Emit(raw model.RawLogEntry) {
	s.r.m.emit(s.ctx, raw)
}

func (s *runnerSink) Connected() {
	s.r.connected()
}
