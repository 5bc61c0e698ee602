// Package orchestrator runs sync: it schedules runs, keeps at most one in
// flight, sequences merge, cache commit, package persistence and remote push,
// and publishes SyncStatus to observers.
package orchestrator

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/dmitrijs2005/plotkeeper/internal/client/baseline"
	"github.com/dmitrijs2005/plotkeeper/internal/client/repositories/cache"
	"github.com/dmitrijs2005/plotkeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/plotkeeper/internal/client/session"
	"github.com/dmitrijs2005/plotkeeper/internal/logging"
	"github.com/dmitrijs2005/plotkeeper/internal/models"
)

// DefaultDebounce is the quiet period after a local mutation before a run.
const DefaultDebounce = 1500 * time.Millisecond

// Sessions is the part of session.Manager the orchestrator drives.
type Sessions interface {
	Init(ctx context.Context) (session.State, error)
	State() session.State
	BeginConnect() (session.State, bool)
	CompleteConnect(ctx context.Context, g session.Grant) error
	FailConnect(err error)
	Disconnect(ctx context.Context) error
	Identity(ctx context.Context) (*session.Session, error)
	AccessToken(ctx context.Context) (string, error)
	Diagnose(ctx context.Context) error
}

// Remote is the account-scoped store.
type Remote interface {
	FetchBundle(ctx context.Context, token, userID string) (models.Bundle, error)
	UpsertBundle(ctx context.Context, token string, b models.Bundle) error
}

// LocalSource builds the local bundle and restores the cache from packages.
type LocalSource interface {
	Build(ctx context.Context) (models.Bundle, error)
	RestoreProject(ctx context.Context, path string) (string, error)
}

// Cache runs fn in one cache transaction.
type Cache interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, repo cache.Repository) error) error
}

type PackageWriter interface {
	WritePackage(ctx context.Context, path string, b models.Bundle) error
}

// Authorize runs an external authorization flow and returns its grant.
type Authorize func(ctx context.Context) (session.Grant, error)

type Deps struct {
	Sessions  Sessions
	Remote    Remote
	Local     LocalSource
	Packages  PackageWriter
	Cache     Cache
	Baselines *baseline.Store
	Meta      metadata.Repository
	Log       logging.Logger
}

type Option func(*Orchestrator)

func WithScheduler(s Scheduler) Option { return func(o *Orchestrator) { o.sched = s } }

func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

func WithDebounce(d time.Duration) Option { return func(o *Orchestrator) { o.debounce = d } }

// WithPackageDir sets where packages of projects first seen remotely go.
func WithPackageDir(dir string) Option { return func(o *Orchestrator) { o.packageDir = dir } }

// WithAutoSync sets the default used when no setting is persisted.
func WithAutoSync(on bool) Option { return func(o *Orchestrator) { o.status.AutoSync = on } }

type run struct {
	done   chan struct{}
	result SyncRunResult
}

type Orchestrator struct {
	Deps
	sched      Scheduler
	now        func() time.Time
	debounce   time.Duration
	packageDir string
	bus        *Broadcaster

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	status   SyncStatus
	seq      uint64
	inFlight *run
	queued   bool
	pending  Handle
	// debounceGen invalidates debounce callbacks that were superseded.
	debounceGen uint64
	closed      bool
}

func New(d Deps, opts ...Option) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		Deps:     d,
		sched:    TimerScheduler{},
		now:      time.Now,
		debounce: DefaultDebounce,
		bus:      NewBroadcaster(),
		runCtx:   ctx,
		cancel:   cancel,
		status:   SyncStatus{Mode: ModeIdle, AutoSync: true},
	}
	o.Log = d.Log.With("module", "orchestrator")
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start restores persisted state and, when the session is usable and auto
// sync is on, triggers a startup run. A session that was connected but has
// no usable token path left is dropped here with a diagnostic error.
func (o *Orchestrator) Start(ctx context.Context) error {
	state, err := o.Sessions.Init(ctx)
	if err != nil {
		o.Log.Warn(ctx, "session init failed", "error", err)
	}

	autoSync, err := o.loadBool(ctx, metadata.KeyAutoSync)
	if err != nil {
		return err
	}
	wasConnected, err := o.loadBool(ctx, metadata.KeyWasConnected)
	if err != nil {
		return err
	}
	lastErr, err := o.Meta.Get(ctx, metadata.KeyLastError)
	if err != nil {
		return err
	}
	lastSynced, err := o.Meta.Get(ctx, metadata.KeyLastSyncedAt)
	if err != nil {
		return err
	}

	connected := state == session.StateConnected
	diag := ""
	if connected {
		if err := o.Sessions.Diagnose(ctx); session.IsAuthFatal(err) {
			o.Log.Warn(ctx, "stored session unusable, disconnecting", "error", err)
			if derr := o.Sessions.Disconnect(ctx); derr != nil {
				o.Log.Error(ctx, "clear session failed", "error", derr)
			}
			connected = false
			diag = fmt.Sprintf("session could not be restored: %v", err)
		} else if err != nil {
			o.Log.Warn(ctx, "session diagnose failed", "error", err)
		}
	} else if wasConnected != nil && *wasConnected {
		diag = "stored session is missing, reconnect to resume sync"
	}
	if diag != "" {
		o.saveLastError(ctx, diag)
		if err := o.Meta.Set(ctx, metadata.KeyWasConnected, []byte("false")); err != nil {
			return err
		}
	}

	o.update(func(s *SyncStatus) {
		s.Connected = connected
		if autoSync != nil {
			s.AutoSync = *autoSync
		}
		if diag != "" {
			s.Mode, s.LastError = ModeError, diag
		} else if lastErr != nil {
			s.LastError = string(lastErr)
		}
		if t, err := time.Parse(time.RFC3339Nano, string(lastSynced)); err == nil {
			s.LastSyncedAt = &t
		}
	})

	if connected && o.Status().AutoSync {
		o.Trigger("startup")
	}
	return nil
}

// Close stops scheduling and waits for the in-flight run to finish.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	o.cancelPendingLocked()
	o.mu.Unlock()

	o.wg.Wait()
	o.cancel()
}

func (o *Orchestrator) Status() SyncStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status.clone()
}

// Subscribe calls fn with every status change until the returned function
// is called.
func (o *Orchestrator) Subscribe(fn func(SyncStatus)) func() {
	return o.bus.Subscribe(fn)
}

// RunNow runs sync and waits for the outcome. While a run is in flight the
// request is queued and the caller gets the in-flight run's result.
func (o *Orchestrator) RunNow(ctx context.Context, reason string) SyncRunResult {
	r := o.request(reason)
	if r == nil {
		return SyncRunResult{Message: ErrClosed.Error(), Kind: KindDisconnected}
	}
	select {
	case <-r.done:
		return r.result
	case <-ctx.Done():
		return SyncRunResult{Message: ctx.Err().Error(), Kind: KindTransient}
	}
}

// Trigger requests a run without waiting for it.
func (o *Orchestrator) Trigger(reason string) {
	o.request(reason)
}

// NotifyLocalMutation schedules a debounced run. Each call restarts the
// quiet period.
func (o *Orchestrator) NotifyLocalMutation(reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || !o.status.AutoSync || !o.status.Connected {
		return
	}
	o.cancelPendingLocked()
	gen := o.debounceGen
	o.pending = o.sched.AfterFunc(o.debounce, func() {
		o.mu.Lock()
		current := o.debounceGen == gen
		if current {
			o.pending = nil
		}
		o.mu.Unlock()
		if current {
			o.Trigger(reason)
		}
	})
}

func (o *Orchestrator) cancelPendingLocked() {
	o.debounceGen++
	if o.pending != nil {
		o.pending.Cancel()
		o.pending = nil
	}
}

// Connect runs authorize and stores the resulting session. A call while a
// connect is already in progress does nothing.
func (o *Orchestrator) Connect(ctx context.Context, authorize Authorize) error {
	if _, started := o.Sessions.BeginConnect(); !started {
		return nil
	}
	o.update(func(s *SyncStatus) { s.Mode, s.LastError = ModeConnecting, "" })

	g, err := authorize(ctx)
	if err == nil {
		err = o.Sessions.CompleteConnect(ctx, g)
	}
	if err != nil {
		o.Sessions.FailConnect(err)
		msg := fmt.Sprintf("connect: %v", err)
		o.saveLastError(ctx, msg)
		o.update(func(s *SyncStatus) { s.Mode, s.Connected, s.LastError = ModeError, false, msg })
		return err
	}

	if err := o.Meta.Set(ctx, metadata.KeyWasConnected, []byte("true")); err != nil {
		o.Log.Warn(ctx, "persist connection flag failed", "error", err)
	}
	o.saveLastError(ctx, "")
	o.update(func(s *SyncStatus) { s.Mode, s.Connected = ModeIdle, true })
	o.Log.Info(ctx, "sync connected", "user", g.UserID)

	if o.Status().AutoSync {
		o.Trigger("connect")
	}
	return nil
}

// Disconnect drops the session. Local data stays untouched.
func (o *Orchestrator) Disconnect(ctx context.Context) error {
	o.mu.Lock()
	o.cancelPendingLocked()
	o.mu.Unlock()

	if err := o.Sessions.Disconnect(ctx); err != nil {
		return err
	}
	if err := o.Meta.Set(ctx, metadata.KeyWasConnected, []byte("false")); err != nil {
		return err
	}
	o.update(func(s *SyncStatus) {
		s.Connected, s.Conflicts = false, nil
		if !s.InFlight {
			s.Mode = ModeIdle
		}
	})
	return nil
}

func (o *Orchestrator) SetAutoSync(ctx context.Context, on bool) error {
	if err := o.Meta.Set(ctx, metadata.KeyAutoSync, []byte(strconv.FormatBool(on))); err != nil {
		return err
	}
	if !on {
		o.mu.Lock()
		o.cancelPendingLocked()
		o.mu.Unlock()
	}
	o.update(func(s *SyncStatus) { s.AutoSync = on })
	return nil
}

// ResolveConflict forces one side of a reported conflict to win and runs
// sync again.
func (o *Orchestrator) ResolveConflict(ctx context.Context, t models.EntityType, id string, r models.Resolution) (SyncRunResult, error) {
	var projectID string
	for _, c := range o.Status().Conflicts {
		if c.Type == t && c.ID == id {
			projectID = c.ProjectID
			break
		}
	}
	if projectID == "" {
		return SyncRunResult{}, fmt.Errorf("%w: %s %s", ErrUnknownConflict, t, id)
	}
	if err := o.Baselines.ForceResolution(ctx, projectID, t, id, r); err != nil {
		return SyncRunResult{}, err
	}
	o.Log.Info(ctx, "conflict resolved", "type", t, "id", id, "side", r)
	return o.RunNow(ctx, "resolve conflict"), nil
}

// request returns the run that will serve the caller, starting one if none
// is in flight. It returns nil once closed.
func (o *Orchestrator) request(reason string) *run {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	if o.inFlight != nil {
		r := o.inFlight
		changed := !o.queued
		o.queued = true
		o.status.Queued = true
		seq, snap := o.bumpLocked()
		o.mu.Unlock()
		if changed {
			o.bus.Publish(seq, snap)
		}
		return r
	}
	r := o.startLocked(reason)
	seq, snap := o.bumpLocked()
	o.mu.Unlock()
	o.bus.Publish(seq, snap)
	return r
}

func (o *Orchestrator) startLocked(reason string) *run {
	r := &run{done: make(chan struct{})}
	o.inFlight = r
	o.status.InFlight = true
	o.status.Mode = ModeSyncing
	o.wg.Add(1)
	go o.execute(r, reason)
	return r
}

func (o *Orchestrator) execute(r *run, reason string) {
	defer o.wg.Done()

	res := o.sync(o.runCtx, reason)

	o.mu.Lock()
	r.result = res
	o.inFlight = nil
	o.applyResultLocked(res)
	close(r.done)
	if o.queued && !o.closed {
		o.queued = false
		o.status.Queued = false
		o.startLocked("queued")
	}
	seq, snap := o.bumpLocked()
	o.mu.Unlock()
	o.bus.Publish(seq, snap)
}

func (o *Orchestrator) applyResultLocked(res SyncRunResult) {
	s := &o.status
	s.InFlight = false
	switch res.Kind {
	case KindNone:
		now := o.now().UTC()
		s.Mode, s.LastError, s.Conflicts, s.LastSyncedAt = ModeIdle, "", nil, &now
	case KindConflict:
		s.Mode, s.Conflicts = ModeIdle, res.Conflicts
	case KindDisconnected:
		s.Mode = ModeIdle
	case KindAuth:
		s.Mode, s.Connected, s.LastError = ModeError, false, res.Message
	default:
		s.Mode, s.LastError = ModeError, res.Message
	}
}

// update mutates the status and publishes the result.
func (o *Orchestrator) update(fn func(s *SyncStatus)) {
	o.mu.Lock()
	fn(&o.status)
	seq, snap := o.bumpLocked()
	o.mu.Unlock()
	o.bus.Publish(seq, snap)
}

func (o *Orchestrator) bumpLocked() (uint64, SyncStatus) {
	o.seq++
	return o.seq, o.status.clone()
}

func (o *Orchestrator) loadBool(ctx context.Context, key string) (*bool, error) {
	v, err := o.Meta.Get(ctx, key)
	if err != nil || v == nil {
		return nil, err
	}
	b, err := strconv.ParseBool(string(v))
	if err != nil {
		return nil, nil
	}
	return &b, nil
}

func (o *Orchestrator) saveLastError(ctx context.Context, msg string) {
	var err error
	if msg == "" {
		err = o.Meta.Delete(ctx, metadata.KeyLastError)
	} else {
		err = o.Meta.Set(ctx, metadata.KeyLastError, []byte(msg))
	}
	if err != nil {
		o.Log.Warn(ctx, "persist last error failed", "error", err)
	}
}
