package machine

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/vxikit/vxidash/internal/task"
	"github.com/vxikit/vxidash/logger"
	"github.com/vxikit/vxidash/model"
	"github.com/vxikit/vxidash/storage"
	"github.com/vxikit/vxidash/vxi11"
)

// DialFunc opens a protocol client for an instrument address.
type DialFunc func(address string, opts ...vxi11.Option) (vxi11.Client, error)

// Sampler is the data-collection surface a session drives: background
// sampling while running, a fresh sample for sensor rules, and the terminal
// bookkeeping on stop.
type Sampler interface {
	StartMonitoring(ctx context.Context, setupID int64) error
	StopMonitoring(setupID int64)
	CollectFromSetup(ctx context.Context, setupID int64) (*model.Reading, error)
	DisableModeForSetup(ctx context.Context, setupID int64) error
	RecordEndState(ctx context.Context, setupID int64, stateID, stateName string)
}

// Session runs one setup's state machine. It is single-use: Start once, Stop
// once (or let an end state stop it).
type Session struct {
	setupID      int64
	store        storage.Store
	sampler      Sampler
	dial         DialFunc
	dialOpts     []vxi11.Option
	tasks        taskRunner
	logger       logger.Logger
	tickInterval time.Duration
	taskName     string

	// now is swappable in tests
	now func() time.Time

	runState AtomicRunState

	mu              sync.Mutex
	setup           *model.MonitoringSetup
	instrumentsByID map[int64]*model.Instrument
	clients         map[string]vxi11.Client

	// statusMu guards the fields Status reads, so status snapshots never
	// wait behind instrument I/O done under mu.
	statusMu         sync.Mutex
	currentStateID   string
	stateEnteredAt   time.Time
	sessionStartedAt time.Time
}

// taskRunner is the slice of the task manager sessions use.
type taskRunner interface {
	StartInterval(name string, taskFunc task.Func, interval time.Duration, runNow bool) (*time.Ticker, error)
}

func newSession(setupID int64, e *Engine) *Session {
	return &Session{
		setupID:      setupID,
		store:        e.store,
		sampler:      e.sampler,
		dial:         e.dial,
		dialOpts:     e.dialOpts,
		tasks:        e.tasks,
		logger:       e.logger.With("setupID", setupID),
		tickInterval: e.tickInterval,
		taskName:     fmt.Sprintf("machine-session-%d", setupID),
		now:          e.now,
		clients:      map[string]vxi11.Client{},
	}
}

// Start loads the setup's graph, enters the initial state, and schedules the
// tick loop. It fails without side effects when the setup cannot be loaded,
// has no states, or its initialStateID does not name a known state.
func (s *Session) Start(ctx context.Context) error {
	if !s.runState.ToRunning() {
		return ErrSessionAlreadyStarted
	}

	setup, err := s.store.GetMonitoringSetup(ctx, s.setupID)
	if err != nil {
		s.runState.ToStopped()
		return fmt.Errorf("load setup %d: %w", s.setupID, err)
	}
	if len(setup.States) == 0 {
		s.runState.ToStopped()
		return ErrNoStates
	}
	if setup.InitialStateID == "" || setup.StateByID(setup.InitialStateID) == nil {
		s.runState.ToStopped()
		return ErrInvalidInitialState
	}

	instruments, err := s.store.GetInstruments(ctx)
	if err != nil {
		s.runState.ToStopped()
		return fmt.Errorf("load instruments: %w", err)
	}

	s.mu.Lock()
	s.setup = setup
	s.instrumentsByID = make(map[int64]*model.Instrument, len(instruments))
	for i := range instruments {
		s.instrumentsByID[instruments[i].ID] = &instruments[i]
	}

	s.statusMu.Lock()
	s.sessionStartedAt = s.now()
	s.statusMu.Unlock()

	s.transitionToLocked(ctx, setup.InitialStateID)
	stopped := s.runState.IsStopped()
	s.mu.Unlock()

	// an initial state that is an end state stops the session immediately
	if stopped {
		s.logger.Info("session finished on start, initial state is an end state")
		return nil
	}

	if err := s.sampler.StartMonitoring(ctx, s.setupID); err != nil {
		s.logger.Warn("background sampling failed to start", "error", err)
	}

	if _, err := s.tasks.StartInterval(s.taskName, s.tick, s.tickInterval, false); err != nil {
		s.Stop(ctx)
		return fmt.Errorf("schedule tick loop: %w", err)
	}

	s.logger.Info("session started", "state", setup.InitialStateID)

	return nil
}

// tick runs one evaluation cycle. Faults inside a cycle are logged and the
// loop keeps going; returning false ends the interval task after the session
// stopped.
func (s *Session) tick() bool {
	if !s.runState.IsRunning() {
		return false
	}

	// instrument operations carry the protocol client's own per-call
	// timeout; the tick interval must not cap them
	ctx := context.Background()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.runState.IsRunning() {
		return false
	}

	if target := s.checkTransitionsLocked(ctx); target != "" {
		s.transitionToLocked(ctx, target)
	}

	return s.runState.IsRunning()
}

// checkTransitionsLocked returns the target of the first outgoing transition
// whose rules are all satisfied, in definition order. Transitions without
// rules never fire.
func (s *Session) checkTransitionsLocked(ctx context.Context) string {
	current, _ := s.currentState()
	for _, transition := range s.setup.OutgoingTransitions(current) {
		if len(transition.Rules) == 0 {
			continue
		}

		satisfied := true
		for _, rule := range transition.Rules {
			if !s.evaluateRule(ctx, rule) {
				satisfied = false
				break
			}
		}

		if satisfied {
			return transition.TargetStateID
		}
	}

	return ""
}

// transitionToLocked enters a state: records the entry time, then either
// terminates the session (end state, settings never applied) or applies the
// state's instrument settings. Unknown targets are ignored.
func (s *Session) transitionToLocked(ctx context.Context, stateID string) {
	state := s.setup.StateByID(stateID)
	if state == nil {
		s.logger.Warn("transition to unknown state ignored", "state", stateID)
		return
	}

	s.logger.Info("transitioning", "state", stateID)
	s.statusMu.Lock()
	s.currentStateID = stateID
	s.stateEnteredAt = s.now()
	s.statusMu.Unlock()

	if state.IsEndState {
		s.logger.Info("reached end state, stopping", "state", stateID)
		s.sampler.RecordEndState(ctx, s.setupID, state.ID, state.Name)
		s.stopLocked(ctx)
		return
	}

	if err := s.applyStateSettingsLocked(ctx, state); err != nil {
		s.logger.Error("apply state settings failed", "state", stateID, "error", err)
	}
}

// applyStateSettingsLocked resolves each configured instrument's mode and
// writes the expanded enable commands through a cached client. One failing
// instrument does not block the others.
func (s *Session) applyStateSettingsLocked(ctx context.Context, state *model.State) error {
	var firstErr error
	for instIDStr, selection := range state.InstrumentSettings {
		instID, err := strconv.ParseInt(instIDStr, 10, 64)
		if err != nil {
			continue
		}

		instrument, ok := s.instrumentsByID[instID]
		if !ok {
			continue
		}

		if err := s.applyModeLocked(ctx, instrument, selection); err != nil {
			s.logger.Warn("apply mode failed", "instrument", instrument.Name, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return firstErr
}

func (s *Session) applyModeLocked(ctx context.Context, instrument *model.Instrument, selection model.ModeSelection) error {
	capability, err := instrument.Capability()
	if err != nil {
		return err
	}

	mode := capability.SelectMode(selection.ModeID, selection.ModeName)
	if mode == nil {
		return nil
	}

	client, err := s.clientLocked(instrument.Address)
	if err != nil {
		return err
	}

	for _, cmd := range model.ExpandCommands(mode.EnableCommands, selection.ModeParams) {
		if err := client.Write(ctx, cmd); err != nil {
			return fmt.Errorf("write %q: %w", cmd, err)
		}
	}

	return nil
}

// clientLocked reuses one protocol client per address across transitions,
// avoiding repeated link setup.
func (s *Session) clientLocked(address string) (vxi11.Client, error) {
	if client, ok := s.clients[address]; ok {
		return client, nil
	}

	client, err := s.dial(address, s.dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	s.clients[address] = client

	return client, nil
}

// Stop halts the session: tick loop, background sampling, instrument modes,
// cached connections. Safe to call more than once.
func (s *Session) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked(ctx)
}

func (s *Session) stopLocked(ctx context.Context) {
	if !s.runState.ToStopped() {
		return
	}

	// The tick loop notices the stopped state on its next cycle and ends
	// itself, releasing its ticker.

	s.sampler.StopMonitoring(s.setupID)

	if err := s.sampler.DisableModeForSetup(ctx, s.setupID); err != nil {
		s.logger.Warn("disable instrument modes failed", "error", err)
	}

	for address, client := range s.clients {
		if err := client.Close(); err != nil {
			s.logger.Warn("close client failed", "address", address, "error", err)
		}
	}
	s.clients = map[string]vxi11.Client{}

	s.logger.Info("session stopped")
}

// SessionStatus is the externally visible snapshot of a session.
type SessionStatus struct {
	SetupID            int64      `json:"setup_id"`
	IsRunning          bool       `json:"is_running"`
	CurrentStateID     string     `json:"current_state_id,omitempty"`
	SessionStartedAt   *time.Time `json:"session_started_at,omitempty"`
	StateEnteredAt     *time.Time `json:"state_entered_at,omitempty"`
	TimeInCurrentState *float64   `json:"time_in_current_state,omitempty"`
	TotalSessionTime   *float64   `json:"total_session_time,omitempty"`
}

// currentState snapshots the current state ID and its entry time.
func (s *Session) currentState() (string, time.Time) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	return s.currentStateID, s.stateEnteredAt
}

// startedAt snapshots the session start time.
func (s *Session) startedAt() time.Time {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	return s.sessionStartedAt
}

// Status reports the session's current state and timing. It never waits on
// in-flight instrument I/O.
func (s *Session) Status() SessionStatus {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	status := SessionStatus{
		SetupID:        s.setupID,
		IsRunning:      s.runState.IsRunning(),
		CurrentStateID: s.currentStateID,
	}

	now := s.now()
	if !s.sessionStartedAt.IsZero() {
		t := s.sessionStartedAt
		status.SessionStartedAt = &t
		elapsed := now.Sub(t).Seconds()
		status.TotalSessionTime = &elapsed
	}
	if !s.stateEnteredAt.IsZero() {
		t := s.stateEnteredAt
		status.StateEnteredAt = &t
		elapsed := now.Sub(t).Seconds()
		status.TimeInCurrentState = &elapsed
	}

	return status
}
