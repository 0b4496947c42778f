// Package collector samples instrument signals for monitoring setups and
// keeps a bounded on-disk log of readings.
package collector

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/vxikit/vxidash/internal/task"
	"github.com/vxikit/vxidash/logger"
	"github.com/vxikit/vxidash/model"
	"github.com/vxikit/vxidash/storage"
	"github.com/vxikit/vxidash/vxi11"
)

// DialFunc opens a protocol client for an instrument address.
type DialFunc func(address string, opts ...vxi11.Option) (vxi11.Client, error)

// numberPattern extracts the first numeric token from an instrument response.
var numberPattern = regexp.MustCompile(`[-+]?\d*\.?\d+(?:[eE][-+]?\d+)?`)

// monitorState tracks one setup's background sampling loop.
type monitorState struct {
	taskName    string
	lastSuccess time.Time
	lastError   string
	ticker      *time.Ticker
	interval    time.Duration
	mu          sync.Mutex
}

// Collector samples signals from instruments according to monitoring setups.
// Background sampling loops run on the task manager; every successful sample
// is appended to the bounded readings log.
type Collector struct {
	store    storage.Store
	dial     DialFunc
	dialOpts []vxi11.Option
	tasks    *task.Manager
	log      *readingLog
	logger   logger.Logger
	monitors *xsync.MapOf[int64, *monitorState]

	// now is swappable in tests
	now func() time.Time
}

// New builds a collector persisting readings under dataDir. The readings log
// is loaded from a previous run when present.
func New(store storage.Store, dial DialFunc, dataDir string, tasks *task.Manager, opts ...vxi11.Option) (*Collector, error) {
	rlog, err := openReadingLog(dataDir)
	if err != nil {
		return nil, err
	}

	return &Collector{
		store:    store,
		dial:     dial,
		dialOpts: opts,
		tasks:    tasks,
		log:      rlog,
		logger:   logger.GetLogger(),
		monitors: xsync.NewMapOf[int64, *monitorState](),
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// CollectFromSetup performs one collection cycle against a setup: it queries
// every configured signal once and appends the resulting reading to the log.
// Returns nil (no error) when the setup or its instrument cannot be sampled,
// and a reading with only the Error field set when collection itself failed.
func (c *Collector) CollectFromSetup(ctx context.Context, setupID int64) (*model.Reading, error) {
	setup, err := c.store.GetMonitoringSetup(ctx, setupID)
	if err != nil {
		return nil, err
	}

	instrument, err := c.store.GetInstrument(ctx, setup.InstrumentID)
	if err != nil {
		return nil, nil //nolint:nilerr // a missing instrument yields no reading
	}
	if !instrument.IsActive {
		return nil, nil
	}

	reading, err := c.sample(ctx, setup, instrument)
	if err != nil {
		c.setMonitorError(setupID, err)
		return &model.Reading{
			ID:        uuid.NewString(),
			Timestamp: c.now(),
			SetupID:   setupID,
			Error:     err.Error(),
		}, nil
	}
	if reading == nil {
		return nil, nil
	}

	if err := c.log.append(*reading); err != nil {
		c.logger.Error("persist reading failed", "setupID", setupID, "error", err)
	}
	c.setMonitorSuccess(setupID)

	return reading, nil
}

// sample queries each configured signal once. Returns (nil, nil) when the
// setup names no usable mode.
func (c *Collector) sample(ctx context.Context, setup *model.MonitoringSetup, instrument *model.Instrument) (*model.Reading, error) {
	capability, err := instrument.Capability()
	if err != nil {
		return nil, err
	}

	modeRef, _ := setup.Parameters["mode"].(string)
	if modeRef == "" {
		return nil, nil
	}
	mode := capability.SelectMode(modeRef, modeRef)
	if mode == nil {
		return nil, nil
	}

	client, err := c.dial(instrument.Address, c.dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", instrument.Address, err)
	}
	defer client.Close()

	readings := map[string]model.SignalReading{}
	for _, name := range signalNames(setup.Parameters["signals"]) {
		signal := capability.SignalByName(name)
		if signal == nil {
			continue
		}

		response, err := client.Query(ctx, signal.MeasureCommand)
		if err != nil {
			readings[name] = model.SignalReading{Error: err.Error()}
			continue
		}

		readings[name] = c.parseSignal(capability, mode.ID, signal, response)
	}

	return &model.Reading{
		ID:             uuid.NewString(),
		Timestamp:      c.now(),
		SetupID:        setup.ID,
		SetupName:      setup.Name,
		InstrumentID:   instrument.ID,
		InstrumentName: instrument.Name,
		Mode:           mode.ID,
		Readings:       readings,
	}, nil
}

// parseSignal extracts the first number from the raw response and applies the
// mode-specific unit and scaling. An unparseable response reads as zero.
func (c *Collector) parseSignal(capability *model.Capability, modeID string, signal *model.Signal, response string) model.SignalReading {
	var raw float64
	if match := numberPattern.FindString(response); match != "" {
		raw, _ = strconv.ParseFloat(match, 64)
	}

	unit := ""
	scale := 1.0
	if cfg := capability.SignalConfig(modeID, signal.ID); cfg != nil {
		unit = cfg.Unit
		if cfg.ScalingFactor != 0 {
			scale = cfg.ScalingFactor
		}
	}

	value := raw * scale

	return model.SignalReading{
		Value:       &value,
		RawValue:    raw,
		Unit:        unit,
		RawResponse: response,
	}
}

func signalNames(v any) []string {
	switch names := v.(type) {
	case []string:
		return names
	case []any:
		out := make([]string, 0, len(names))
		for _, n := range names {
			if s, ok := n.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// sampleInterval converts a sampling frequency into a tick interval.
func sampleInterval(frequencyHz float64) time.Duration {
	if frequencyHz <= 0 {
		return time.Second
	}

	return time.Duration(float64(time.Second) / frequencyHz)
}

// StartMonitoring begins periodic sampling of a setup at its configured
// frequency. The setup is re-read every cycle, so frequency edits take effect
// on the next cycle. A second call for the same setup is a no-op.
func (c *Collector) StartMonitoring(ctx context.Context, setupID int64) error {
	state := &monitorState{taskName: fmt.Sprintf("collector-monitor-%d", setupID)}
	if _, loaded := c.monitors.LoadOrStore(setupID, state); loaded {
		return nil
	}

	setup, err := c.store.GetMonitoringSetup(ctx, setupID)
	if err != nil {
		c.monitors.Delete(setupID)
		return err
	}

	interval := sampleInterval(setup.FrequencyHz)
	state.interval = interval

	cycle := func() bool {
		if _, err := c.CollectFromSetup(context.Background(), setupID); err != nil {
			c.logger.Error("collection cycle failed", "setupID", setupID, "error", err)
			return true
		}

		setup, err := c.store.GetMonitoringSetup(context.Background(), setupID)
		if err != nil {
			return true
		}

		next := sampleInterval(setup.FrequencyHz)
		state.mu.Lock()
		if state.ticker != nil && next != state.interval {
			state.interval = next
			state.ticker.Reset(next)
			c.logger.Info("sampling interval changed", "setupID", setupID, "interval", next)
		}
		state.mu.Unlock()

		return true
	}

	ticker, err := c.tasks.StartInterval(state.taskName, cycle, interval, true)
	if err != nil {
		c.monitors.Delete(setupID)
		return err
	}

	state.mu.Lock()
	state.ticker = ticker
	state.mu.Unlock()

	c.logger.Info("monitoring started", "setupID", setupID, "interval", interval)

	return nil
}

// StopMonitoring halts periodic sampling for a setup.
func (c *Collector) StopMonitoring(setupID int64) {
	state, ok := c.monitors.LoadAndDelete(setupID)
	if !ok {
		return
	}

	// clear the ticker first so an in-flight cycle cannot Reset it back to
	// life after StopInterval stops it
	state.mu.Lock()
	state.ticker = nil
	state.mu.Unlock()

	c.tasks.StopInterval(state.taskName)
	c.logger.Info("monitoring stopped", "setupID", setupID)
}

// StopAll halts every sampling loop.
func (c *Collector) StopAll() {
	c.monitors.Range(func(setupID int64, _ *monitorState) bool {
		c.StopMonitoring(setupID)
		return true
	})
}

// IsMonitoring reports whether a sampling loop is active for the setup.
func (c *Collector) IsMonitoring(setupID int64) bool {
	_, ok := c.monitors.Load(setupID)
	return ok
}

// MonitorStatus describes a setup's sampling loop.
type MonitorStatus struct {
	SetupID     int64      `json:"setup_id"`
	Running     bool       `json:"running"`
	LastSuccess *time.Time `json:"last_success,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}

// Status reports the sampling state for a setup.
func (c *Collector) Status(setupID int64) MonitorStatus {
	status := MonitorStatus{SetupID: setupID}

	state, ok := c.monitors.Load(setupID)
	if !ok {
		return status
	}

	status.Running = true
	state.mu.Lock()
	if !state.lastSuccess.IsZero() {
		t := state.lastSuccess
		status.LastSuccess = &t
	}
	status.LastError = state.lastError
	state.mu.Unlock()

	return status
}

func (c *Collector) setMonitorSuccess(setupID int64) {
	if state, ok := c.monitors.Load(setupID); ok {
		state.mu.Lock()
		state.lastSuccess = c.now()
		state.lastError = ""
		state.mu.Unlock()
	}
}

func (c *Collector) setMonitorError(setupID int64, err error) {
	if state, ok := c.monitors.Load(setupID); ok {
		state.mu.Lock()
		state.lastError = err.Error()
		state.mu.Unlock()
	}
}

// DisableModeForSetup issues the disable-command templates for every mode the
// setup's states select, plus the setup's own sampling mode. Failures against
// one instrument do not prevent disabling the others.
func (c *Collector) DisableModeForSetup(ctx context.Context, setupID int64) error {
	setup, err := c.store.GetMonitoringSetup(ctx, setupID)
	if err != nil {
		return err
	}

	instruments, err := c.store.GetInstruments(ctx)
	if err != nil {
		return err
	}
	byID := make(map[int64]*model.Instrument, len(instruments))
	for i := range instruments {
		byID[instruments[i].ID] = &instruments[i]
	}

	var firstErr error
	disable := func(instrument *model.Instrument, selection model.ModeSelection) {
		if err := c.disableMode(ctx, instrument, selection); err != nil {
			c.logger.Warn("disable mode failed",
				"setupID", setupID, "instrument", instrument.Name, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	// modes selected by state entries
	seen := map[string]struct{}{}
	for _, state := range setup.States {
		for instIDStr, selection := range state.InstrumentSettings {
			instID, err := strconv.ParseInt(instIDStr, 10, 64)
			if err != nil {
				continue
			}
			instrument, ok := byID[instID]
			if !ok {
				continue
			}

			key := instIDStr + "/" + selection.ModeID + "/" + selection.ModeName
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}

			disable(instrument, selection)
		}
	}

	// the plain-monitoring sampling mode
	if modeRef, _ := setup.Parameters["mode"].(string); modeRef != "" {
		if instrument, ok := byID[setup.InstrumentID]; ok {
			disable(instrument, model.ModeSelection{ModeID: modeRef, ModeName: modeRef})
		}
	}

	return firstErr
}

func (c *Collector) disableMode(ctx context.Context, instrument *model.Instrument, selection model.ModeSelection) error {
	capability, err := instrument.Capability()
	if err != nil {
		return err
	}

	mode := capability.SelectMode(selection.ModeID, selection.ModeName)
	if mode == nil || mode.DisableCommands == "" {
		return nil
	}

	client, err := c.dial(instrument.Address, c.dialOpts...)
	if err != nil {
		return fmt.Errorf("dial %s: %w", instrument.Address, err)
	}
	defer client.Close()

	for _, cmd := range model.ExpandCommands(mode.DisableCommands, selection.ModeParams) {
		if err := client.Write(ctx, cmd); err != nil {
			return fmt.Errorf("write %q: %w", cmd, err)
		}
	}

	return nil
}

// RecordEndState appends a terminal reading tagging the end state a session
// finished in.
func (c *Collector) RecordEndState(ctx context.Context, setupID int64, stateID, stateName string) {
	reading := model.Reading{
		ID:        uuid.NewString(),
		Timestamp: c.now(),
		SetupID:   setupID,
		EndState:  &model.EndStateRecord{StateID: stateID, StateName: stateName},
	}

	if setup, err := c.store.GetMonitoringSetup(ctx, setupID); err == nil {
		reading.SetupName = setup.Name
		reading.InstrumentID = setup.InstrumentID
	}

	if err := c.log.append(reading); err != nil {
		c.logger.Error("persist end-state record failed", "setupID", setupID, "error", err)
	}
}

// LatestReadings returns the most recent readings across all setups.
func (c *Collector) LatestReadings(limit int) []model.Reading {
	return c.log.latest(limit)
}

// ReadingsForSetup returns the most recent readings for one setup.
func (c *Collector) ReadingsForSetup(setupID int64, limit int) []model.Reading {
	return c.log.forSetup(setupID, limit)
}

// ReadingsByTimeRange returns readings with start <= timestamp <= end.
func (c *Collector) ReadingsByTimeRange(start, end time.Time) []model.Reading {
	return c.log.byTimeRange(start, end)
}

// ResetReadingsForSetup drops all stored readings for a setup and reports how
// many were removed.
func (c *Collector) ResetReadingsForSetup(setupID int64) int {
	return c.log.removeSetup(setupID)
}
