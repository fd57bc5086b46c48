package escalation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/tribunal"
	"github.com/m-mizutani/tribunal/decisionlog"
)

// DefaultFallback is applied when an escalation times out.
const DefaultFallback = tribunal.ActionAbort

var ErrInvalidContext = goerr.New("invalid escalation context")

// Manager owns pending escalations. It is safe for concurrent use; every
// status change of an escalation happens under one lock so that a decision,
// a timeout and a cancellation racing each other resolve it exactly once.
type Manager struct {
	log      decisionlog.Log
	store    Store
	notifier Notifier
	timeout  time.Duration
	fallback tribunal.Action

	mu      sync.Mutex
	waiters map[string]chan struct{}
	timers  map[string]*time.Timer
}

type Option func(*Manager)

// WithStore sets the persistence of pending escalations. Defaults to MemoryStore.
func WithStore(store Store) Option {
	return func(m *Manager) {
		m.store = store
	}
}

// WithNotifier sets who is told about new escalations.
func WithNotifier(n Notifier) Option {
	return func(m *Manager) {
		m.notifier = n
	}
}

// WithTimeout resolves escalations with the fallback action after d.
// Zero disables the timeout.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.timeout = d
	}
}

// WithFallback sets the action applied on timeout: ABORT, RETRY or REPLAN.
func WithFallback(action tribunal.Action) Option {
	return func(m *Manager) {
		m.fallback = action
	}
}

// New creates a Manager recording resolutions to log.
func New(log decisionlog.Log, opts ...Option) (*Manager, error) {
	m := &Manager{
		log:      log,
		fallback: DefaultFallback,
		waiters:  map[string]chan struct{}{},
		timers:   map[string]*time.Timer{},
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.log == nil {
		m.log = decisionlog.NewMemory()
	}
	if m.store == nil {
		m.store = NewMemoryStore()
	}
	switch m.fallback {
	case tribunal.ActionAbort, tribunal.ActionRetry, tribunal.ActionReplan:
	default:
		return nil, goerr.Wrap(ErrInvalidFallback, "fallback must be ABORT, RETRY or REPLAN", goerr.V("fallback", m.fallback))
	}
	if m.timeout < 0 {
		return nil, goerr.Wrap(ErrInvalidFallback, "timeout must not be negative", goerr.V("timeout", m.timeout))
	}

	return m, nil
}

// Timeout returns the configured escalation timeout.
func (m *Manager) Timeout() time.Duration { return m.timeout }

// Fallback returns the action applied on timeout.
func (m *Manager) Fallback() tribunal.Action { return m.fallback }

// Pause registers a new pending escalation for the episode and presents it
// to the notifier. It returns the pending id immediately.
func (m *Manager) Pause(ctx context.Context, episodeID string, ec Context) (string, error) {
	if ec.GoalID == "" {
		return "", goerr.Wrap(ErrInvalidContext, "goal id is empty", goerr.V("episode_id", episodeID))
	}

	now := time.Now()
	p := Pending{
		ID:        uuid.Must(uuid.NewV7()).String(),
		EpisodeID: episodeID,
		Context:   ec,
		Status:    StatusPending,
		CreatedAt: now,
	}
	if m.timeout > 0 {
		p.ExpiresAt = now.Add(m.timeout)
	}

	m.mu.Lock()
	if err := m.store.Save(ctx, p); err != nil {
		m.mu.Unlock()
		return "", goerr.Wrap(err, "failed to save escalation", goerr.V("episode_id", episodeID))
	}
	m.arm(ctx, p)
	m.mu.Unlock()

	logger := ctxlog.From(ctx).With("escalation_id", p.ID, "episode_id", episodeID)
	logger.Info("episode escalated", "goal_id", ec.GoalID, "step_id", ec.StepID, "reason", ec.Reason)

	if m.notifier != nil {
		if err := m.notifier.Present(ctx, p); err != nil {
			logger.Warn("failed to present escalation", "error", err)
		}
	}

	return p.ID, nil
}

// Resume applies a human decision. Deciding an escalation that is already
// resolved, timed out or cancelled is a logged no-op.
func (m *Manager) Resume(ctx context.Context, id string, d tribunal.HumanDecision) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if d.DecidedAt.IsZero() {
		d.DecidedAt = time.Now()
	}

	applied, err := m.resolve(ctx, id, StatusResolved, d.Judgment(), &d)
	if err != nil {
		return err
	}
	if !applied {
		ctxlog.From(ctx).Info("escalation already closed, decision ignored",
			"escalation_id", id,
			"action", d.Action,
			"approver", d.Approver,
		)
	}
	return nil
}

// Cancel releases a pending escalation without a decision record.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	_, err := m.resolve(ctx, id, StatusCancelled, tribunal.Judgment{
		Action:     tribunal.ActionAbort,
		Confidence: 1.0,
		Reasoning:  "cancelled",
		Source:     tribunal.SourceRule,
	}, nil)
	return err
}

// Await blocks until the escalation is resolved or ctx is done.
func (m *Manager) Await(ctx context.Context, id string) (Resolution, error) {
	m.mu.Lock()
	p, err := m.store.Get(ctx, id)
	if err != nil {
		m.mu.Unlock()
		return Resolution{}, err
	}
	if p.Status != StatusPending {
		m.mu.Unlock()
		return *p.Resolution, nil
	}
	ch, ok := m.waiters[id]
	if !ok {
		m.arm(ctx, *p)
		ch = m.waiters[id]
	}
	m.mu.Unlock()

	select {
	case <-ctx.Done():
		return Resolution{}, goerr.Wrap(ctx.Err(), "stopped waiting for escalation", goerr.V("escalation_id", id))
	case <-ch:
	}

	p, err = m.store.Get(ctx, id)
	if err != nil {
		return Resolution{}, err
	}
	if p.Resolution == nil {
		return Resolution{}, goerr.New("escalation closed without resolution", goerr.V("escalation_id", id))
	}
	return *p.Resolution, nil
}

// Get returns one escalation.
func (m *Manager) Get(ctx context.Context, id string) (*Pending, error) {
	return m.store.Get(ctx, id)
}

// List returns escalations with the status; empty lists all.
func (m *Manager) List(ctx context.Context, status Status) ([]Pending, error) {
	return m.store.List(ctx, status)
}

// Restore arms waiters and timeouts for escalations left pending in a
// persistent store, e.g. after a restart. Expired ones resolve immediately.
func (m *Manager) Restore(ctx context.Context) error {
	pending, err := m.store.List(ctx, StatusPending)
	if err != nil {
		return goerr.Wrap(err, "failed to list pending escalations")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range pending {
		if _, ok := m.waiters[p.ID]; !ok {
			m.arm(ctx, p)
		}
	}
	ctxlog.From(ctx).Info("restored pending escalations", "count", len(pending))
	return nil
}

// Close stops all timeouts. Pending escalations stay pending.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, t := range m.timers {
		t.Stop()
		delete(m.timers, id)
	}
}

// arm must be called with m.mu held.
func (m *Manager) arm(ctx context.Context, p Pending) {
	m.waiters[p.ID] = make(chan struct{})
	if p.ExpiresAt.IsZero() {
		return
	}

	bg := context.WithoutCancel(ctx)
	id := p.ID
	m.timers[id] = time.AfterFunc(max(time.Until(p.ExpiresAt), 0), func() {
		m.expire(bg, id)
	})
}

func (m *Manager) expire(ctx context.Context, id string) {
	ctxlog.From(ctx).Warn("escalation timed out, applying fallback", "escalation_id", id, "fallback", m.fallback)

	_, err := m.resolve(ctx, id, StatusTimedOut, tribunal.Judgment{
		Action:     m.fallback,
		Confidence: 1.0,
		Reasoning:  ReasonTimeout,
		Source:     tribunal.SourceRule,
	}, nil)
	if err != nil {
		ctxlog.From(ctx).Error("failed to apply escalation fallback", "escalation_id", id, "error", err)
	}
}

// resolve closes a pending escalation. It reports false when the
// escalation was already closed.
func (m *Manager) resolve(ctx context.Context, id string, status Status, j tribunal.Judgment, d *tribunal.HumanDecision) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if p.Status != StatusPending {
		return false, nil
	}

	res := &Resolution{
		Status:     status,
		Judgment:   j,
		Decision:   d,
		ResolvedAt: time.Now(),
	}

	if status != StatusCancelled {
		rec, err := m.log.Append(ctx, decisionlog.Record{
			GoalID:      p.Context.GoalID,
			GoalType:    p.Context.GoalType,
			EpisodeID:   p.EpisodeID,
			StepID:      p.Context.StepID,
			Judgment:    j,
			ResolvesSeq: p.Context.DecisionSeq,
		})
		if err != nil {
			// The resolution still applies so the episode is not left parked.
			ctxlog.From(ctx).Error("failed to record escalation resolution", "escalation_id", id, "error", err)
		} else {
			res.RecordSeq = rec.Seq
		}
	}

	p.Status = status
	p.Resolution = res
	if err := m.store.Save(ctx, *p); err != nil {
		return false, goerr.Wrap(err, "failed to save escalation resolution", goerr.V("escalation_id", id))
	}

	if t, ok := m.timers[id]; ok {
		t.Stop()
		delete(m.timers, id)
	}
	if ch, ok := m.waiters[id]; ok {
		close(ch)
		delete(m.waiters, id)
	}

	ctxlog.From(ctx).Info("escalation resolved",
		"escalation_id", id,
		"status", status,
		"action", j.Action,
		"source", j.Source,
	)
	return true, nil
}
