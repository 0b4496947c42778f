package machine

import (
	"context"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/vxikit/vxidash/internal/task"
	"github.com/vxikit/vxidash/logger"
	"github.com/vxikit/vxidash/storage"
	"github.com/vxikit/vxidash/vxi11"
)

const defaultTickInterval = time.Second

// Engine owns the running sessions, one per setup at most. Start and stop
// serialize per setup, so replacing a session always stops the old one before
// the new one exists, while one setup's instrument I/O never delays another
// setup or a status query.
type Engine struct {
	store        storage.Store
	sampler      Sampler
	dial         DialFunc
	dialOpts     []vxi11.Option
	tasks        *task.Manager
	logger       logger.Logger
	tickInterval time.Duration
	now          func() time.Time

	// mu guards only the registry; blocking session work runs under the
	// per-setup locks
	mu         sync.Mutex
	sessions   map[int64]*Session
	setupLocks *xsync.MapOf[int64, *sync.Mutex]
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithTickInterval overrides the default 1s evaluation interval.
func WithTickInterval(interval time.Duration) EngineOption {
	return func(e *Engine) {
		if interval > 0 {
			e.tickInterval = interval
		}
	}
}

// WithDialOptions sets the protocol client options sessions dial with.
func WithDialOptions(opts ...vxi11.Option) EngineOption {
	return func(e *Engine) { e.dialOpts = opts }
}

// WithClock overrides the engine's time source.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine builds a session engine over the given collaborators.
func NewEngine(store storage.Store, sampler Sampler, dial DialFunc, tasks *task.Manager, opts ...EngineOption) *Engine {
	e := &Engine{
		store:        store,
		sampler:      sampler,
		dial:         dial,
		tasks:        tasks,
		logger:       logger.GetLogger(),
		tickInterval: defaultTickInterval,
		now:          func() time.Time { return time.Now().UTC() },
		sessions:     map[int64]*Session{},
		setupLocks:   xsync.NewMapOf[int64, *sync.Mutex](),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// setupLock returns the lock serializing start/stop for one setup.
func (e *Engine) setupLock(setupID int64) *sync.Mutex {
	lock, _ := e.setupLocks.LoadOrStore(setupID, &sync.Mutex{})
	return lock
}

// StartSession starts a session for the setup, first stopping any existing
// one. Returns true when the session started; configuration failures are
// logged and reported as false, with no session left registered.
func (e *Engine) StartSession(ctx context.Context, setupID int64) bool {
	lock := e.setupLock(setupID)
	lock.Lock()
	defer lock.Unlock()

	e.mu.Lock()
	existing := e.sessions[setupID]
	delete(e.sessions, setupID)
	e.mu.Unlock()

	if existing != nil {
		existing.Stop(ctx)
	}

	session := newSession(setupID, e)
	if err := session.Start(ctx); err != nil {
		e.logger.Error("session start failed", "setupID", setupID, "error", err)
		return false
	}

	e.mu.Lock()
	e.sessions[setupID] = session
	e.mu.Unlock()

	return true
}

// StopSession stops a session. Returns false when none existed.
func (e *Engine) StopSession(ctx context.Context, setupID int64) bool {
	lock := e.setupLock(setupID)
	lock.Lock()
	defer lock.Unlock()

	e.mu.Lock()
	session, ok := e.sessions[setupID]
	delete(e.sessions, setupID)
	e.mu.Unlock()

	if !ok {
		return false
	}

	session.Stop(ctx)

	return true
}

// SessionStatus returns the status of a registered session.
func (e *Engine) SessionStatus(setupID int64) (SessionStatus, bool) {
	e.mu.Lock()
	session, ok := e.sessions[setupID]
	e.mu.Unlock()

	if !ok {
		return SessionStatus{}, false
	}

	return session.Status(), true
}

// AllSessionsStatus returns the status of every registered session.
func (e *Engine) AllSessionsStatus() []SessionStatus {
	e.mu.Lock()
	sessions := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		sessions = append(sessions, s)
	}
	e.mu.Unlock()

	statuses := make([]SessionStatus, 0, len(sessions))
	for _, s := range sessions {
		statuses = append(statuses, s.Status())
	}

	return statuses
}

// ActiveSessions reports how many sessions are registered.
func (e *Engine) ActiveSessions() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return len(e.sessions)
}

// StopAllSessions stops and drops every session.
func (e *Engine) StopAllSessions(ctx context.Context) {
	e.mu.Lock()
	ids := make([]int64, 0, len(e.sessions))
	for setupID := range e.sessions {
		ids = append(ids, setupID)
	}
	e.mu.Unlock()

	for _, setupID := range ids {
		e.StopSession(ctx, setupID)
	}
}
