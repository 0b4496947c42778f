package machine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vxikit/vxidash/internal/task"
	"github.com/vxikit/vxidash/model"
	"github.com/vxikit/vxidash/storage"
	"github.com/vxikit/vxidash/vxi11"
)

const psuCapability = `{
	"signals": [{"id": "voltage", "name": "Voltage", "measureCommand": "MEAS:VOLT?"}],
	"modes": [
		{"id": "ramp", "name": "Ramp", "enableCommands": "OUTP ON\nVOLT {volts}", "disableCommands": "OUTP OFF"},
		{"id": "hold", "name": "Hold", "enableCommands": "VOLT:HOLD", "disableCommands": "OUTP OFF"}
	],
	"signalModeConfigs": []
}`

// stubStore serves fixed setups and instruments.
type stubStore struct {
	setups      map[int64]model.MonitoringSetup
	instruments []model.Instrument
}

func (s *stubStore) GetInstruments(context.Context) ([]model.Instrument, error) {
	return s.instruments, nil
}

func (s *stubStore) GetInstrument(_ context.Context, id int64) (*model.Instrument, error) {
	for i := range s.instruments {
		if s.instruments[i].ID == id {
			return &s.instruments[i], nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *stubStore) CreateInstrument(context.Context, *model.Instrument) error { return nil }
func (s *stubStore) UpdateInstrument(context.Context, *model.Instrument) error { return nil }
func (s *stubStore) DeleteInstrument(context.Context, int64) error             { return nil }

func (s *stubStore) GetMonitoringSetups(context.Context) ([]model.MonitoringSetup, error) {
	out := []model.MonitoringSetup{}
	for _, setup := range s.setups {
		out = append(out, setup)
	}
	return out, nil
}

func (s *stubStore) GetMonitoringSetup(_ context.Context, id int64) (*model.MonitoringSetup, error) {
	setup, ok := s.setups[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &setup, nil
}

func (s *stubStore) CreateMonitoringSetup(context.Context, *model.MonitoringSetup) error { return nil }
func (s *stubStore) UpdateMonitoringSetup(context.Context, *model.MonitoringSetup) error { return nil }
func (s *stubStore) DeleteMonitoringSetup(context.Context, int64) error                  { return nil }
func (s *stubStore) Close() error                                                        { return nil }

// fakeSampler records the sampling lifecycle calls and serves scripted
// readings to sensor rules.
type fakeSampler struct {
	mu        sync.Mutex
	reading   *model.Reading
	started   []int64
	stopped   []int64
	disabled  []int64
	endStates []model.EndStateRecord
}

func (f *fakeSampler) StartMonitoring(_ context.Context, setupID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, setupID)
	return nil
}

func (f *fakeSampler) StopMonitoring(setupID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, setupID)
}

func (f *fakeSampler) CollectFromSetup(context.Context, int64) (*model.Reading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reading, nil
}

func (f *fakeSampler) DisableModeForSetup(_ context.Context, setupID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disabled = append(f.disabled, setupID)
	return nil
}

func (f *fakeSampler) RecordEndState(_ context.Context, _ int64, stateID, stateName string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.endStates = append(f.endStates, model.EndStateRecord{StateID: stateID, StateName: stateName})
}

func (f *fakeSampler) setSignal(name string, value float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reading = &model.Reading{Readings: map[string]model.SignalReading{
		name: {Value: &value},
	}}
}

func (f *fakeSampler) startedSnapshot() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64{}, f.started...)
}

func (f *fakeSampler) stoppedSnapshot() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64{}, f.stopped...)
}

func (f *fakeSampler) disabledSnapshot() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64{}, f.disabled...)
}

func (f *fakeSampler) endStatesSnapshot() []model.EndStateRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.EndStateRecord{}, f.endStates...)
}

// recordingClient counts writes per command.
type recordingClient struct {
	mu     sync.Mutex
	writes []string
	closed bool
}

func (c *recordingClient) Query(context.Context, string) (string, error) { return "", nil }

func (c *recordingClient) Write(_ context.Context, command string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, command)
	return nil
}

func (c *recordingClient) Transport() vxi11.Transport { return vxi11.MockTransport }
func (c *recordingClient) Degraded() bool             { return false }

func (c *recordingClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *recordingClient) writesSnapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string{}, c.writes...)
}

// slowClient delays every write, simulating an instrument that needs longer
// than a tick interval per command.
type slowClient struct {
	recordingClient
	delay time.Duration
}

func (c *slowClient) Write(ctx context.Context, command string) error {
	select {
	case <-time.After(c.delay):
	case <-ctx.Done():
		return ctx.Err()
	}
	return c.recordingClient.Write(ctx, command)
}

// gatedClient blocks writes until released.
type gatedClient struct {
	recordingClient
	entered     chan struct{}
	release     chan struct{}
	enteredOnce sync.Once
	releaseOnce sync.Once
}

func newGatedClient() *gatedClient {
	return &gatedClient{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (c *gatedClient) Write(ctx context.Context, command string) error {
	c.enteredOnce.Do(func() { close(c.entered) })
	select {
	case <-c.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return c.recordingClient.Write(ctx, command)
}

func (c *gatedClient) releaseWrites() {
	c.releaseOnce.Do(func() { close(c.release) })
}

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	engine  *Engine
	store   *stubStore
	sampler *fakeSampler
	client  *recordingClient
	clock   *fakeClock
}

func newHarness(t *testing.T, setup model.MonitoringSetup) *harness {
	t.Helper()

	setup.Normalize()

	store := &stubStore{
		setups: map[int64]model.MonitoringSetup{setup.ID: setup},
		instruments: []model.Instrument{
			{ID: 1, Name: "psu", Address: "mock", Description: psuCapability, IsActive: true},
		},
	}
	sampler := &fakeSampler{}
	client := &recordingClient{}
	clock := newFakeClock()

	mgr := task.NewManager(context.Background(), nil)
	t.Cleanup(func() { mgr.Stop() })

	dial := func(string, ...vxi11.Option) (vxi11.Client, error) { return client, nil }
	engine := NewEngine(store, sampler, dial, mgr,
		WithTickInterval(10*time.Millisecond), WithClock(clock.Now))

	return &harness{engine: engine, store: store, sampler: sampler, client: client, clock: clock}
}

// newEngineWith builds an engine over the given dial and setups for tests
// that need a custom client.
func newEngineWith(t *testing.T, dial DialFunc, setups ...model.MonitoringSetup) (*Engine, *fakeClock) {
	t.Helper()

	store := &stubStore{
		setups: map[int64]model.MonitoringSetup{},
		instruments: []model.Instrument{
			{ID: 1, Name: "psu", Address: "mock", Description: psuCapability, IsActive: true},
		},
	}
	for _, setup := range setups {
		setup.Normalize()
		store.setups[setup.ID] = setup
	}

	clock := newFakeClock()
	mgr := task.NewManager(context.Background(), nil)
	t.Cleanup(func() { mgr.Stop() })

	engine := NewEngine(store, &fakeSampler{}, dial, mgr,
		WithTickInterval(10*time.Millisecond), WithClock(clock.Now))

	return engine, clock
}

func rampState(id string, volts float64) model.State {
	return model.State{
		ID: id, Name: id,
		InstrumentSettings: map[string]model.ModeSelection{
			"1": {ModeID: "ramp", ModeParams: map[string]any{"volts": volts}},
		},
	}
}

func TestSession_StartAppliesInitialState(t *testing.T) {
	h := newHarness(t, model.MonitoringSetup{
		ID:             10,
		InitialStateID: "init",
		States:         []model.State{rampState("init", 5)},
	})

	require.True(t, h.engine.StartSession(context.Background(), 10))
	defer h.engine.StopAllSessions(context.Background())

	assert.Equal(t, []string{"OUTP ON", "VOLT 5"}, h.client.writesSnapshot())
	assert.Equal(t, []int64{10}, h.sampler.startedSnapshot())

	status, ok := h.engine.SessionStatus(10)
	require.True(t, ok)
	assert.True(t, status.IsRunning)
	assert.Equal(t, "init", status.CurrentStateID)
	require.NotNil(t, status.TotalSessionTime)
	assert.Zero(t, *status.TotalSessionTime)
}

func TestSession_StartFailures(t *testing.T) {
	cases := []struct {
		name  string
		setup model.MonitoringSetup
	}{
		{"no states", model.MonitoringSetup{ID: 10}},
		{"missing initial id", model.MonitoringSetup{
			ID: 10, States: []model.State{{ID: "a"}},
		}},
		{"unknown initial id", model.MonitoringSetup{
			ID: 10, InitialStateID: "ghost", States: []model.State{{ID: "a"}},
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, tc.setup)

			assert.False(t, h.engine.StartSession(context.Background(), 10))
			// no session is left registered on a configuration failure
			assert.Zero(t, h.engine.ActiveSessions())
			_, ok := h.engine.SessionStatus(10)
			assert.False(t, ok)
		})
	}
}

func TestSession_StartUnknownSetup(t *testing.T) {
	h := newHarness(t, model.MonitoringSetup{ID: 10})

	assert.False(t, h.engine.StartSession(context.Background(), 999))
}

func TestSession_FirstSatisfiedTransitionWins(t *testing.T) {
	h := newHarness(t, model.MonitoringSetup{
		ID:             10,
		InitialStateID: "init",
		States: []model.State{
			rampState("init", 1),
			rampState("a", 2),
			rampState("b", 3),
		},
		Transitions: []model.Transition{
			{ID: "t1", SourceStateID: "init", TargetStateID: "a",
				Rules: []model.Rule{model.TimeInStateRule(5)}},
			{ID: "t2", SourceStateID: "init", TargetStateID: "b",
				Rules: []model.Rule{model.TimeInStateRule(1)}},
		},
	})

	require.True(t, h.engine.StartSession(context.Background(), 10))
	defer h.engine.StopAllSessions(context.Background())

	// both guards hold, but t1 is defined first
	h.clock.Advance(10 * time.Second)

	assert.Eventually(t, func() bool {
		status, _ := h.engine.SessionStatus(10)
		return status.CurrentStateID == "a"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSession_TimeRuleBoundaryInclusive(t *testing.T) {
	setup := model.MonitoringSetup{
		ID:             10,
		InitialStateID: "init",
		States:         []model.State{rampState("init", 1), rampState("next", 2)},
		Transitions: []model.Transition{
			{ID: "t1", SourceStateID: "init", TargetStateID: "next",
				Rules: []model.Rule{model.TimeInStateRule(5)}},
		},
	}
	h := newHarness(t, setup)

	// drive the session by hand so the background loop cannot race the
	// boundary checks
	setup.Normalize()
	session := newSession(10, h.engine)
	session.setup = &setup
	session.currentStateID = "init"
	session.stateEnteredAt = h.clock.Now()

	// strictly before the boundary: no transition
	h.clock.Advance(4999 * time.Millisecond)
	session.mu.Lock()
	target := session.checkTransitionsLocked(context.Background())
	session.mu.Unlock()
	assert.Empty(t, target)

	// exactly at the boundary: fires
	h.clock.Advance(time.Millisecond)
	session.mu.Lock()
	target = session.checkTransitionsLocked(context.Background())
	session.mu.Unlock()
	assert.Equal(t, "next", target)
}

func TestSession_EndStateStopsWithoutApplyingSettings(t *testing.T) {
	h := newHarness(t, model.MonitoringSetup{
		ID:             10,
		InitialStateID: "init",
		States: []model.State{
			rampState("init", 1),
			{
				ID: "done", Name: "Done", IsEndState: true,
				// settings on an end state must never be applied
				InstrumentSettings: map[string]model.ModeSelection{
					"1": {ModeID: "hold"},
				},
			},
		},
		Transitions: []model.Transition{
			{ID: "t1", SourceStateID: "init", TargetStateID: "done",
				Rules: []model.Rule{model.TotalTimeRule(3)}},
		},
	})

	require.True(t, h.engine.StartSession(context.Background(), 10))

	initialWrites := len(h.client.writesSnapshot())
	h.clock.Advance(3 * time.Second)

	assert.Eventually(t, func() bool {
		status, _ := h.engine.SessionStatus(10)
		return !status.IsRunning
	}, 2*time.Second, 5*time.Millisecond)

	// only the initial state's enable commands were sent
	assert.Len(t, h.client.writesSnapshot(), initialWrites)
	assert.NotContains(t, h.client.writesSnapshot(), "VOLT:HOLD")

	require.Len(t, h.sampler.endStatesSnapshot(), 1)
	assert.Equal(t, "done", h.sampler.endStatesSnapshot()[0].StateID)
	assert.Equal(t, "Done", h.sampler.endStatesSnapshot()[0].StateName)

	assert.Equal(t, []int64{10}, h.sampler.stoppedSnapshot())
	assert.Equal(t, []int64{10}, h.sampler.disabledSnapshot())
	assert.True(t, h.client.closed)

	status, ok := h.engine.SessionStatus(10)
	require.True(t, ok)
	assert.Equal(t, "done", status.CurrentStateID)
}

func TestSession_InitialEndStateStopsImmediately(t *testing.T) {
	h := newHarness(t, model.MonitoringSetup{
		ID:             10,
		InitialStateID: "done",
		States:         []model.State{{ID: "done", Name: "Done", IsEndState: true}},
	})

	require.True(t, h.engine.StartSession(context.Background(), 10))

	status, ok := h.engine.SessionStatus(10)
	require.True(t, ok)
	assert.False(t, status.IsRunning)
	require.Len(t, h.sampler.endStatesSnapshot(), 1)
	// background sampling never started
	assert.Empty(t, h.sampler.startedSnapshot())
}

func TestSession_SensorRuleDrivesTransition(t *testing.T) {
	h := newHarness(t, model.MonitoringSetup{
		ID:             10,
		InitialStateID: "ramping",
		States: []model.State{
			rampState("ramping", 5),
			{ID: "done", Name: "Done", IsEndState: true},
		},
		Transitions: []model.Transition{
			{ID: "t1", SourceStateID: "ramping", TargetStateID: "done",
				Rules: []model.Rule{model.SensorRule("Voltage", ">=", 5.0)}},
		},
	})

	require.True(t, h.engine.StartSession(context.Background(), 10))
	defer h.engine.StopAllSessions(context.Background())

	// below threshold: stays in ramping
	h.sampler.setSignal("Voltage", 4.2)
	time.Sleep(50 * time.Millisecond)
	status, _ := h.engine.SessionStatus(10)
	assert.Equal(t, "ramping", status.CurrentStateID)
	assert.True(t, status.IsRunning)

	// threshold reached: completes
	h.sampler.setSignal("Voltage", 5.0)
	assert.Eventually(t, func() bool {
		status, _ := h.engine.SessionStatus(10)
		return !status.IsRunning && status.CurrentStateID == "done"
	}, 2*time.Second, 5*time.Millisecond)

	require.Len(t, h.sampler.endStatesSnapshot(), 1)
}

func TestSession_RuleEvaluationIsTotal(t *testing.T) {
	h := newHarness(t, model.MonitoringSetup{
		ID: 10, InitialStateID: "init", States: []model.State{rampState("init", 1)},
	})
	require.True(t, h.engine.StartSession(context.Background(), 10))
	defer h.engine.StopAllSessions(context.Background())

	session := h.engine.sessions[10]
	ctx := context.Background()

	// missing fields evaluate false, never error
	assert.False(t, session.evaluateRule(ctx, model.Rule{Type: model.RuleSensor}))
	assert.False(t, session.evaluateRule(ctx, model.Rule{Type: model.RuleTimeInState}))
	assert.False(t, session.evaluateRule(ctx, model.Rule{Type: model.RuleTotalTime}))
	assert.False(t, session.evaluateRule(ctx, model.Rule{Type: "unknown"}))

	// sensor rule with no reading available
	assert.False(t, session.evaluateRule(ctx, model.SensorRule("Voltage", ">", 1)))

	// sensor rule with an unknown operator
	h.sampler.setSignal("Voltage", 10)
	assert.False(t, session.evaluateRule(ctx, model.SensorRule("Voltage", "~=", 1)))
	assert.True(t, session.evaluateRule(ctx, model.SensorRule("Voltage", ">", 1)))

	// sensor rule naming a signal absent from the reading
	assert.False(t, session.evaluateRule(ctx, model.SensorRule("Current", ">", 1)))
}

func TestSession_TransitionsWithoutRulesNeverFire(t *testing.T) {
	h := newHarness(t, model.MonitoringSetup{
		ID:             10,
		InitialStateID: "init",
		States:         []model.State{rampState("init", 1), rampState("next", 2)},
		Transitions: []model.Transition{
			{ID: "t1", SourceStateID: "init", TargetStateID: "next", Rules: []model.Rule{}},
		},
	})

	require.True(t, h.engine.StartSession(context.Background(), 10))
	defer h.engine.StopAllSessions(context.Background())

	session := h.engine.sessions[10]
	h.clock.Advance(time.Hour)

	session.mu.Lock()
	target := session.checkTransitionsLocked(context.Background())
	session.mu.Unlock()
	assert.Empty(t, target)
}

func TestSession_UnknownTransitionTargetIgnored(t *testing.T) {
	h := newHarness(t, model.MonitoringSetup{
		ID:             10,
		InitialStateID: "init",
		States:         []model.State{rampState("init", 1)},
		Transitions: []model.Transition{
			{ID: "t1", SourceStateID: "init", TargetStateID: "ghost",
				Rules: []model.Rule{model.TimeInStateRule(1)}},
		},
	})

	require.True(t, h.engine.StartSession(context.Background(), 10))
	defer h.engine.StopAllSessions(context.Background())

	h.clock.Advance(time.Minute)
	time.Sleep(50 * time.Millisecond)

	// the session stays put and keeps running
	status, _ := h.engine.SessionStatus(10)
	assert.True(t, status.IsRunning)
	assert.Equal(t, "init", status.CurrentStateID)
}

func TestEngine_StopSession(t *testing.T) {
	h := newHarness(t, model.MonitoringSetup{
		ID: 10, InitialStateID: "init", States: []model.State{rampState("init", 1)},
	})

	require.True(t, h.engine.StartSession(context.Background(), 10))
	require.True(t, h.engine.StopSession(context.Background(), 10))

	assert.Equal(t, []int64{10}, h.sampler.stoppedSnapshot())
	assert.Equal(t, []int64{10}, h.sampler.disabledSnapshot())
	assert.True(t, h.client.closed)
	assert.Zero(t, h.engine.ActiveSessions())

	// stopping again reports no session
	assert.False(t, h.engine.StopSession(context.Background(), 10))
}

func TestEngine_StartSessionReplacesExisting(t *testing.T) {
	h := newHarness(t, model.MonitoringSetup{
		ID: 10, InitialStateID: "init", States: []model.State{rampState("init", 1)},
	})

	require.True(t, h.engine.StartSession(context.Background(), 10))
	first := h.engine.sessions[10]

	require.True(t, h.engine.StartSession(context.Background(), 10))
	second := h.engine.sessions[10]

	assert.NotSame(t, first, second)
	assert.True(t, first.runState.IsStopped())
	assert.True(t, second.runState.IsRunning())
	assert.Equal(t, 1, h.engine.ActiveSessions())

	h.engine.StopAllSessions(context.Background())
	assert.Zero(t, h.engine.ActiveSessions())
	assert.True(t, second.runState.IsStopped())
}

func TestSession_StopIdempotent(t *testing.T) {
	h := newHarness(t, model.MonitoringSetup{
		ID: 10, InitialStateID: "init", States: []model.State{rampState("init", 1)},
	})

	require.True(t, h.engine.StartSession(context.Background(), 10))
	session := h.engine.sessions[10]

	session.Stop(context.Background())
	session.Stop(context.Background())

	// the stop side effects ran once
	assert.Equal(t, []int64{10}, h.sampler.stoppedSnapshot())
	assert.Equal(t, []int64{10}, h.sampler.disabledSnapshot())
}

func TestSession_SingleUse(t *testing.T) {
	h := newHarness(t, model.MonitoringSetup{
		ID: 10, InitialStateID: "init", States: []model.State{rampState("init", 1)},
	})

	require.True(t, h.engine.StartSession(context.Background(), 10))
	session := h.engine.sessions[10]
	h.engine.StopAllSessions(context.Background())

	assert.ErrorIs(t, session.Start(context.Background()), ErrSessionAlreadyStarted)
}

func TestSession_SlowWriteNotBoundByTickInterval(t *testing.T) {
	// each write takes several tick intervals; the per-call client timeout
	// governs, so the commands still land
	client := &slowClient{delay: 50 * time.Millisecond}
	dial := func(string, ...vxi11.Option) (vxi11.Client, error) { return client, nil }

	engine, clock := newEngineWith(t, dial, model.MonitoringSetup{
		ID:             10,
		InitialStateID: "init",
		States:         []model.State{{ID: "init", Name: "init"}, rampState("next", 5)},
		Transitions: []model.Transition{
			{ID: "t1", SourceStateID: "init", TargetStateID: "next",
				Rules: []model.Rule{model.TimeInStateRule(1)}},
		},
	})

	require.True(t, engine.StartSession(context.Background(), 10))
	defer engine.StopAllSessions(context.Background())

	clock.Advance(time.Second)

	assert.Eventually(t, func() bool {
		writes := client.writesSnapshot()
		return len(writes) == 2 && writes[0] == "OUTP ON" && writes[1] == "VOLT 5"
	}, 3*time.Second, 10*time.Millisecond)

	status, _ := engine.SessionStatus(10)
	assert.Equal(t, "next", status.CurrentStateID)
	assert.True(t, status.IsRunning)
}

func TestSession_StatusNotBlockedByInstrumentIO(t *testing.T) {
	client := newGatedClient()
	dial := func(string, ...vxi11.Option) (vxi11.Client, error) { return client, nil }

	engine, clock := newEngineWith(t, dial, model.MonitoringSetup{
		ID:             10,
		InitialStateID: "init",
		States:         []model.State{{ID: "init", Name: "init"}, rampState("next", 5)},
		Transitions: []model.Transition{
			{ID: "t1", SourceStateID: "init", TargetStateID: "next",
				Rules: []model.Rule{model.TimeInStateRule(1)}},
		},
	})

	require.True(t, engine.StartSession(context.Background(), 10))
	defer engine.StopAllSessions(context.Background())
	defer client.releaseWrites()

	clock.Advance(time.Second)

	// wait until the tick loop is inside the blocked write
	select {
	case <-client.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("transition write never started")
	}

	statusCh := make(chan SessionStatus, 1)
	go func() {
		status, _ := engine.SessionStatus(10)
		statusCh <- status
	}()

	select {
	case status := <-statusCh:
		assert.True(t, status.IsRunning)
		assert.Equal(t, "next", status.CurrentStateID)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("status blocked behind an instrument write")
	}
}

func TestEngine_SlowSessionDoesNotBlockOthers(t *testing.T) {
	client := newGatedClient()
	dial := func(string, ...vxi11.Option) (vxi11.Client, error) { return client, nil }

	engine, _ := newEngineWith(t, dial,
		model.MonitoringSetup{
			ID:             10,
			InitialStateID: "init",
			States:         []model.State{rampState("init", 5)},
		},
		model.MonitoringSetup{
			ID:             20,
			InitialStateID: "idle",
			States:         []model.State{{ID: "idle", Name: "idle"}},
		},
	)

	// session 10 blocks inside its initial enable write
	startedCh := make(chan bool, 1)
	go func() { startedCh <- engine.StartSession(context.Background(), 10) }()

	select {
	case <-client.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("initial state write never started")
	}

	// a second setup starts, reports status, and stops while the first is
	// still stuck on its instrument
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.True(t, engine.StartSession(context.Background(), 20))
		status, ok := engine.SessionStatus(20)
		assert.True(t, ok)
		assert.Equal(t, "idle", status.CurrentStateID)
		assert.NotEmpty(t, engine.AllSessionsStatus())
		assert.True(t, engine.StopSession(context.Background(), 20))
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("second setup blocked behind the first setup's instrument")
	}

	client.releaseWrites()
	require.True(t, <-startedCh)
	engine.StopAllSessions(context.Background())
}

func TestSession_StatusTimings(t *testing.T) {
	h := newHarness(t, model.MonitoringSetup{
		ID:             10,
		InitialStateID: "init",
		States:         []model.State{rampState("init", 1), rampState("next", 2)},
		Transitions: []model.Transition{
			{ID: "t1", SourceStateID: "init", TargetStateID: "next",
				Rules: []model.Rule{model.TimeInStateRule(30)}},
		},
	})

	require.True(t, h.engine.StartSession(context.Background(), 10))
	defer h.engine.StopAllSessions(context.Background())

	h.clock.Advance(30 * time.Second)

	assert.Eventually(t, func() bool {
		status, _ := h.engine.SessionStatus(10)
		return status.CurrentStateID == "next"
	}, 2*time.Second, 5*time.Millisecond)

	h.clock.Advance(5 * time.Second)

	status, _ := h.engine.SessionStatus(10)
	require.NotNil(t, status.TimeInCurrentState)
	require.NotNil(t, status.TotalSessionTime)
	assert.InDelta(t, 5.0, *status.TimeInCurrentState, 0.001)
	assert.InDelta(t, 35.0, *status.TotalSessionTime, 0.001)

	statuses := h.engine.AllSessionsStatus()
	require.Len(t, statuses, 1)
	assert.Equal(t, int64(10), statuses[0].SetupID)
}
