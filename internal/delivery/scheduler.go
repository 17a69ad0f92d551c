// Package delivery runs one background watcher per registered participant
// that triggers content delivery once a day at the participant's window.
package delivery

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"zodiac/internal/audit"
	profile "zodiac/internal/profile/models"
	id "zodiac/pkg/domain"
	dErrors "zodiac/pkg/domain-errors"
	"zodiac/pkg/platform/sentinel"
	"zodiac/pkg/requestcontext"
)

const (
	defaultPollInterval    = 50 * time.Second
	defaultDeliveryTimeout = 2 * time.Minute

	// numStartShards bounds how many participants can be restarted
	// concurrently without contending on the same lock.
	numStartShards = 64
)

// ProfileReader is the read side of the profile store.
type ProfileReader interface {
	FindByID(ctx context.Context, pid id.ParticipantID) (profile.Profile, error)
	ListIDs(ctx context.Context) ([]id.ParticipantID, error)
}

// Preparer produces and delivers today's content for a participant.
type Preparer interface {
	DeliverToday(ctx context.Context, pid id.ParticipantID) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, e audit.Event)
}

type watcher struct {
	pid    id.ParticipantID
	window id.DeliveryWindow
	cancel context.CancelFunc
	done   chan struct{}
}

// Scheduler owns the participant watchers. At most one watcher runs per
// participant; Start replaces an existing one.
type Scheduler struct {
	profiles        ProfileReader
	preparer        Preparer
	ledger          Ledger
	audit           AuditPublisher
	metrics         *Metrics
	logger          *slog.Logger
	interval        time.Duration
	targets         Targets
	loc             *time.Location
	newTicker       TickerFactory
	deliveryTimeout time.Duration

	baseCtx context.Context
	cancel  context.CancelFunc

	// startLocks serialize Start and Stop per participant. mu only guards
	// the watcher map and is never held while a watcher exits.
	startLocks [numStartShards]sync.Mutex

	mu       sync.Mutex
	watchers map[id.ParticipantID]*watcher
	closed   bool
}

type Option func(*Scheduler)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

func WithAudit(publisher AuditPublisher) Option {
	return func(s *Scheduler) {
		s.audit = publisher
	}
}

func WithLedger(l Ledger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.ledger = l
		}
	}
}

// WithTicker replaces the wall-clock ticker, for tests.
func WithTicker(f TickerFactory) Option {
	return func(s *Scheduler) {
		if f != nil {
			s.newTicker = f
		}
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithTargets(t Targets) Option {
	return func(s *Scheduler) {
		s.targets = t
	}
}

// WithLocation sets the zone in which target times are interpreted.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func WithDeliveryTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.deliveryTimeout = d
		}
	}
}

func New(profiles ProfileReader, preparer Preparer, opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		profiles:        profiles,
		preparer:        preparer,
		ledger:          NewMemoryLedger(),
		logger:          slog.Default(),
		interval:        defaultPollInterval,
		targets:         DefaultTargets(),
		loc:             time.Local,
		newTicker:       newRealTicker,
		deliveryTimeout: defaultDeliveryTimeout,
		baseCtx:         ctx,
		cancel:          cancel,
		watchers:        make(map[id.ParticipantID]*watcher),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Start (re)starts the watcher for pid using its stored delivery window.
// Any existing watcher is cancelled and awaited before the new one runs.
// Starts for the same participant are serialized, and the profile is read
// inside that section, so the last Start always sees the latest window.
func (s *Scheduler) Start(ctx context.Context, pid id.ParticipantID) error {
	lock := s.participantLock(pid)
	lock.Lock()
	defer lock.Unlock()

	p, err := s.profiles.FindByID(ctx, pid)
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.Wrap(err, dErrors.CodeNotFound, "participant not registered")
	}
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "load profile")
	}
	if !p.DeliveryWindow.IsValid() {
		return dErrors.New(dErrors.CodeInvariantViolation, "profile has no valid delivery window")
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return dErrors.New(dErrors.CodeUnavailable, "scheduler is shut down")
	}
	old, replaced := s.watchers[pid]
	wctx, cancel := context.WithCancel(s.baseCtx)
	w := &watcher{pid: pid, window: p.DeliveryWindow, cancel: cancel, done: make(chan struct{})}
	s.watchers[pid] = w
	active := len(s.watchers)
	s.mu.Unlock()

	if replaced {
		old.cancel()
		<-old.done
	}
	ticker := s.newTicker(s.interval)
	go s.run(wctx, w, ticker)

	s.metrics.SetActiveWatchers(active)
	s.logger.InfoContext(ctx, "delivery watcher started",
		"participant_id", pid,
		"window", p.DeliveryWindow,
		"target", s.targets.For(p.DeliveryWindow).String(),
		"replaced", replaced,
	)
	return nil
}

// Stop cancels pid's watcher. It reports whether one was running.
func (s *Scheduler) Stop(pid id.ParticipantID) bool {
	lock := s.participantLock(pid)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	w, ok := s.watchers[pid]
	if ok {
		delete(s.watchers, pid)
		s.metrics.SetActiveWatchers(len(s.watchers))
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	w.cancel()
	<-w.done
	return true
}

// Active lists participants with a running watcher, ascending.
func (s *Scheduler) Active() []id.ParticipantID {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]id.ParticipantID, 0, len(s.watchers))
	for pid := range s.watchers {
		ids = append(ids, pid)
	}
	slices.Sort(ids)
	return ids
}

// Shutdown stops every watcher and rejects further Starts.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	s.closed = true
	s.cancel()
	stopping := make([]*watcher, 0, len(s.watchers))
	for pid, w := range s.watchers {
		stopping = append(stopping, w)
		delete(s.watchers, pid)
	}
	s.metrics.SetActiveWatchers(0)
	s.mu.Unlock()

	for _, w := range stopping {
		<-w.done
	}
	s.logger.Info("delivery scheduler stopped")
}

func (s *Scheduler) participantLock(pid id.ParticipantID) *sync.Mutex {
	return &s.startLocks[uint64(pid)%numStartShards]
}

// Reconcile starts a watcher for every stored profile. Failures for single
// participants are logged and joined into the returned error.
func (s *Scheduler) Reconcile(ctx context.Context) (int, error) {
	ids, err := s.profiles.ListIDs(ctx)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "list participants")
	}
	started := 0
	var errs []error
	for _, pid := range ids {
		if err := s.Start(ctx, pid); err != nil {
			s.logger.WarnContext(ctx, "failed to start watcher during reconciliation",
				"participant_id", pid,
				"error", err,
			)
			errs = append(errs, err)
			continue
		}
		started++
	}
	s.logger.InfoContext(ctx, "delivery watchers reconciled",
		"started", started,
		"failed", len(errs),
	)
	return started, errors.Join(errs...)
}

func (s *Scheduler) run(ctx context.Context, w *watcher, ticker Ticker) {
	defer close(w.done)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C():
			s.tick(ctx, w, t)
		}
	}
}

// tick fires a delivery when t falls inside the target minute and the
// ledger has no delivery of that content day yet.
func (s *Scheduler) tick(ctx context.Context, w *watcher, t time.Time) {
	local := t.In(s.loc)
	if !s.targets.For(w.window).Matches(local) {
		return
	}
	day := ContentDay(w.window, local)

	first, err := s.ledger.MarkDelivered(ctx, w.pid, day)
	if err != nil {
		s.metrics.IncrementLedgerError()
		s.logger.WarnContext(ctx, "delivery ledger unavailable, skipping tick",
			"participant_id", w.pid,
			"error", err,
		)
		return
	}
	if !first {
		return
	}
	s.deliver(ctx, w, local)
}

func (s *Scheduler) deliver(ctx context.Context, w *watcher, at time.Time) {
	ctx, cancel := context.WithTimeout(ctx, s.deliveryTimeout)
	defer cancel()
	ctx = requestcontext.WithParticipantID(ctx, w.pid)
	ctx = requestcontext.WithRequestID(ctx, uuid.NewString())
	ctx = requestcontext.WithTime(ctx, at)

	start := time.Now()
	err := s.preparer.DeliverToday(ctx, w.pid)
	s.metrics.ObserveDeliveryDuration(time.Since(start))

	if err != nil {
		s.metrics.IncrementDelivery(w.window.String(), "failure")
		s.logger.ErrorContext(ctx, "scheduled delivery failed",
			"participant_id", w.pid,
			"window", w.window,
			"error", err,
		)
		s.emit(ctx, audit.Event{
			Type:          audit.EventDeliveryFailed,
			ParticipantID: w.pid,
			Detail:        "scheduled",
		})
		return
	}
	s.metrics.IncrementDelivery(w.window.String(), "success")
	s.logger.InfoContext(ctx, "scheduled delivery triggered",
		"participant_id", w.pid,
		"window", w.window,
	)
	s.emit(ctx, audit.Event{
		Type:          audit.EventDeliveryTriggered,
		ParticipantID: w.pid,
		Detail:        "scheduled",
	})
}

func (s *Scheduler) emit(ctx context.Context, e audit.Event) {
	if s.audit != nil {
		s.audit.Emit(ctx, e)
	}
}
