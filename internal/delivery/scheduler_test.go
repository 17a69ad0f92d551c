package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"zodiac/internal/audit"
	"zodiac/internal/platform/logger"
	profile "zodiac/internal/profile/models"
	profilestore "zodiac/internal/profile/store"
	id "zodiac/pkg/domain"
	dErrors "zodiac/pkg/domain-errors"
	"zodiac/pkg/requestcontext"
	"zodiac/pkg/testutil"
)

type fakeTicker struct {
	ch      chan time.Time
	mu      sync.Mutex
	stopped bool
}

func (f *fakeTicker) C() <-chan time.Time { return f.ch }

func (f *fakeTicker) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeTicker) isStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

type tickerRecorder struct {
	mu      sync.Mutex
	tickers []*fakeTicker
}

func (r *tickerRecorder) factory(time.Duration) Ticker {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := &fakeTicker{ch: make(chan time.Time)}
	r.tickers = append(r.tickers, t)
	return t
}

func (r *tickerRecorder) last() *fakeTicker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tickers[len(r.tickers)-1]
}

type countingPreparer struct {
	mu    sync.Mutex
	calls []id.ParticipantID
	times []time.Time
	err   error
}

func (p *countingPreparer) DeliverToday(ctx context.Context, pid id.ParticipantID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, pid)
	p.times = append(p.times, requestcontext.Now(ctx))
	return p.err
}

func (p *countingPreparer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type recordingAudit struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recordingAudit) Emit(_ context.Context, e audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingAudit) types() []audit.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]audit.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type failingLedger struct{}

func (failingLedger) MarkDelivered(context.Context, id.ParticipantID, string) (bool, error) {
	return false, errors.New("redis down")
}

// gatedProfiles holds the first lookup, after reading, until release is
// closed.
type gatedProfiles struct {
	*profilestore.InMemory
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedProfiles) FindByID(ctx context.Context, pid id.ParticipantID) (profile.Profile, error) {
	p, err := g.InMemory.FindByID(ctx, pid)
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
	}
	return p, err
}

// stuckPreparer ignores cancellation until release is closed.
type stuckPreparer struct {
	entered chan struct{}
	release chan struct{}
}

func (p *stuckPreparer) DeliverToday(context.Context, id.ParticipantID) error {
	close(p.entered)
	<-p.release
	return nil
}

type SchedulerSuite struct {
	suite.Suite
	ctx      context.Context
	profiles *profilestore.InMemory
	preparer *countingPreparer
	tickers  *tickerRecorder
	audit    *recordingAudit
	metrics  *Metrics
}

func TestSchedulerSuite(t *testing.T) {
	suite.Run(t, new(SchedulerSuite))
}

func (s *SchedulerSuite) SetupTest() {
	s.ctx = context.Background()
	s.profiles = profilestore.NewInMemory()
	s.preparer = &countingPreparer{}
	s.tickers = &tickerRecorder{}
	s.audit = &recordingAudit{}
	s.metrics = NewMetrics(prometheus.NewRegistry())
}

func (s *SchedulerSuite) newScheduler(opts ...Option) *Scheduler {
	base := []Option{
		WithLogger(logger.Discard()),
		WithMetrics(s.metrics),
		WithAudit(s.audit),
		WithTicker(s.tickers.factory),
		WithLocation(time.UTC),
	}
	sched := New(s.profiles, s.preparer, append(base, opts...)...)
	s.T().Cleanup(sched.Shutdown)
	return sched
}

func (s *SchedulerSuite) register(pid id.ParticipantID, window id.DeliveryWindow) {
	s.Require().NoError(s.profiles.Create(s.ctx, profile.Profile{
		ParticipantID:  pid,
		DisplayName:    "Anna",
		Gender:         id.GenderFemale,
		BirthDate:      time.Date(2001, 11, 15, 0, 0, 0, 0, time.UTC),
		BirthPlace:     "Oslo",
		DeliveryWindow: window,
	}))
}

// send delivers each tick and then a trailing off-target tick, which
// returns only once the watcher has finished processing the others.
func (s *SchedulerSuite) send(t *fakeTicker, ticks ...time.Time) {
	ticks = append(ticks, time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC))
	for _, at := range ticks {
		select {
		case t.ch <- at:
		case <-time.After(2 * time.Second):
			s.FailNow("watcher did not receive tick", at)
		}
	}
}

func at(day, hour, minute, sec int) time.Time {
	return time.Date(2024, time.March, day, hour, minute, sec, 0, time.UTC)
}

func (s *SchedulerSuite) TestMorningWatcherFiresOnceAtTargetMinute() {
	s.register(42, id.DeliveryMorning)
	sched := s.newScheduler()
	s.Require().NoError(sched.Start(s.ctx, 42))

	s.send(s.tickers.last(),
		at(10, 6, 38, 59),
		at(10, 6, 39, 5),
		at(10, 6, 39, 55),
		at(10, 6, 40, 0),
		at(10, 15, 0, 0),
	)

	s.Equal(1, s.preparer.count())
	s.Equal([]id.ParticipantID{42}, s.preparer.calls)
	s.True(at(10, 6, 39, 5).Equal(s.preparer.times[0]))
	s.Equal([]audit.EventType{audit.EventDeliveryTriggered}, s.audit.types())
	s.Equal(1.0, promtest.ToFloat64(s.metrics.Deliveries.WithLabelValues("morning", "success")))
}

func (s *SchedulerSuite) TestWatcherStaysSilentOutsideTarget() {
	s.register(42, id.DeliveryMorning)
	sched := s.newScheduler()
	s.Require().NoError(sched.Start(s.ctx, 42))

	s.send(s.tickers.last(),
		at(10, 6, 38, 0),
		at(10, 6, 40, 0),
		at(10, 15, 0, 0),
		at(10, 18, 39, 0),
	)

	s.Zero(s.preparer.count())
	s.Empty(s.audit.types())
}

func (s *SchedulerSuite) TestEveningWatcherUsesEveningTarget() {
	s.register(7, id.DeliveryEvening)
	sched := s.newScheduler()
	s.Require().NoError(sched.Start(s.ctx, 7))

	s.send(s.tickers.last(), at(10, 6, 39, 0), at(10, 15, 0, 30))

	s.Equal(1, s.preparer.count())
}

func (s *SchedulerSuite) TestFiresAgainOnNextDay() {
	s.register(42, id.DeliveryMorning)
	sched := s.newScheduler()
	s.Require().NoError(sched.Start(s.ctx, 42))

	s.send(s.tickers.last(), at(10, 6, 39, 0), at(11, 6, 39, 0), at(11, 6, 39, 30))

	s.Equal(2, s.preparer.count())
}

func (s *SchedulerSuite) TestCustomTargetsAndLocation() {
	oslo, err := time.LoadLocation("Europe/Oslo")
	s.Require().NoError(err)
	targets, err := ParseTargets("07:15", "19:45")
	s.Require().NoError(err)

	s.register(42, id.DeliveryMorning)
	sched := s.newScheduler(WithTargets(targets), WithLocation(oslo))
	s.Require().NoError(sched.Start(s.ctx, 42))

	// 06:15 UTC is 07:15 in Oslo during March before DST.
	s.send(s.tickers.last(), at(10, 7, 15, 0), at(10, 6, 15, 0))

	s.Equal(1, s.preparer.count())
}

func (s *SchedulerSuite) TestRestartLeavesOneWatcher() {
	s.register(42, id.DeliveryMorning)
	sched := s.newScheduler()
	s.Require().NoError(sched.Start(s.ctx, 42))
	first := s.tickers.last()

	s.Require().NoError(s.profiles.UpdateField(s.ctx, 42, profile.FieldUpdate{
		Field:          profile.FieldDeliveryWindow,
		DeliveryWindow: id.DeliveryEvening,
	}))
	s.Require().NoError(sched.Start(s.ctx, 42))
	second := s.tickers.last()

	s.NotSame(first, second)
	s.True(first.isStopped())
	s.Equal([]id.ParticipantID{42}, sched.Active())
	s.Equal(1.0, promtest.ToFloat64(s.metrics.ActiveWatchers))

	s.send(second, at(10, 6, 39, 0), at(10, 15, 0, 0))
	s.Equal(1, s.preparer.count(), "only the evening watcher should fire")
}

func (s *SchedulerSuite) TestWindowSwitchSameDayDeliversTomorrowsContent() {
	s.register(42, id.DeliveryMorning)
	sched := s.newScheduler()
	s.Require().NoError(sched.Start(s.ctx, 42))
	s.send(s.tickers.last(), at(5, 6, 39, 0))

	s.Require().NoError(s.profiles.UpdateField(s.ctx, 42, profile.FieldUpdate{
		Field:          profile.FieldDeliveryWindow,
		DeliveryWindow: id.DeliveryEvening,
	}))
	s.Require().NoError(sched.Start(s.ctx, 42))
	s.send(s.tickers.last(), at(5, 15, 0, 0))

	s.Equal(2, s.preparer.count())
}

func (s *SchedulerSuite) TestEveningContentIsNotRepeatedNextMorning() {
	s.register(42, id.DeliveryEvening)
	sched := s.newScheduler()
	s.Require().NoError(sched.Start(s.ctx, 42))
	s.send(s.tickers.last(), at(5, 15, 0, 0))

	s.Require().NoError(s.profiles.UpdateField(s.ctx, 42, profile.FieldUpdate{
		Field:          profile.FieldDeliveryWindow,
		DeliveryWindow: id.DeliveryMorning,
	}))
	s.Require().NoError(sched.Start(s.ctx, 42))
	s.send(s.tickers.last(), at(6, 6, 39, 0), at(7, 6, 39, 0))

	s.Equal(2, s.preparer.count(), "the 6th was already delivered the evening before")
	s.True(at(7, 6, 39, 0).Equal(s.preparer.times[1]))
}

func (s *SchedulerSuite) TestConcurrentStartsKeepLatestWindow() {
	s.register(42, id.DeliveryMorning)
	gated := &gatedProfiles{
		InMemory: s.profiles,
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
	}
	sched := New(gated, s.preparer,
		WithLogger(logger.Discard()),
		WithTicker(s.tickers.factory),
		WithLocation(time.UTC),
	)
	s.T().Cleanup(sched.Shutdown)

	stale := make(chan error, 1)
	go func() { stale <- sched.Start(s.ctx, 42) }()
	<-gated.entered

	s.Require().NoError(s.profiles.UpdateField(s.ctx, 42, profile.FieldUpdate{
		Field:          profile.FieldDeliveryWindow,
		DeliveryWindow: id.DeliveryEvening,
	}))
	fresh := make(chan error, 1)
	go func() { fresh <- sched.Start(s.ctx, 42) }()
	s.Never(func() bool { return len(fresh) > 0 }, 100*time.Millisecond, 10*time.Millisecond,
		"a second start for the same participant waits for the first")

	close(gated.release)
	s.Require().NoError(<-stale)
	s.Require().NoError(<-fresh)

	s.Equal([]id.ParticipantID{42}, sched.Active())
	s.send(s.tickers.last(), at(10, 6, 39, 0), at(10, 15, 0, 0))
	s.Require().Equal(1, s.preparer.count())
	s.True(at(10, 15, 0, 0).Equal(s.preparer.times[0]), "watcher uses the updated evening window")
}

func (s *SchedulerSuite) TestRestartWaitDoesNotBlockOtherParticipants() {
	s.register(42, id.DeliveryMorning)
	s.register(7, id.DeliveryEvening)
	prep := &stuckPreparer{entered: make(chan struct{}), release: make(chan struct{})}
	sched := New(s.profiles, prep,
		WithLogger(logger.Discard()),
		WithTicker(s.tickers.factory),
		WithLocation(time.UTC),
	)
	s.T().Cleanup(sched.Shutdown)
	release := sync.OnceFunc(func() { close(prep.release) })
	s.T().Cleanup(release)

	s.Require().NoError(sched.Start(s.ctx, 42))
	s.tickers.last().ch <- at(10, 6, 39, 0)
	<-prep.entered

	restarted := make(chan error, 1)
	go func() { restarted <- sched.Start(s.ctx, 42) }()

	other := make(chan error, 1)
	go func() { other <- sched.Start(s.ctx, 7) }()
	select {
	case err := <-other:
		s.Require().NoError(err)
	case <-time.After(2 * time.Second):
		s.FailNow("start for another participant waited on an in-flight delivery")
	}
	s.Contains(sched.Active(), id.ParticipantID(7))

	release()
	s.Require().NoError(<-restarted)
	s.Equal([]id.ParticipantID{7, 42}, sched.Active())
}

func (s *SchedulerSuite) TestStartUnknownParticipant() {
	sched := s.newScheduler()

	err := sched.Start(s.ctx, 99)

	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	s.Empty(sched.Active())
}

func (s *SchedulerSuite) TestStopAndShutdown() {
	s.register(1, id.DeliveryMorning)
	s.register(2, id.DeliveryEvening)
	sched := s.newScheduler()
	s.Require().NoError(sched.Start(s.ctx, 1))
	s.Require().NoError(sched.Start(s.ctx, 2))
	s.Equal([]id.ParticipantID{1, 2}, sched.Active())

	s.True(sched.Stop(1))
	s.False(sched.Stop(1))
	s.Equal([]id.ParticipantID{2}, sched.Active())

	sched.Shutdown()
	s.Empty(sched.Active())
	s.Zero(promtest.ToFloat64(s.metrics.ActiveWatchers))

	err := sched.Start(s.ctx, 1)
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
}

func (s *SchedulerSuite) TestFailedDeliveryKeepsWatcherRunning() {
	s.preparer.err = errors.New("content service down")
	s.register(42, id.DeliveryMorning)
	sched := s.newScheduler()
	s.Require().NoError(sched.Start(s.ctx, 42))

	s.send(s.tickers.last(), at(10, 6, 39, 0), at(10, 6, 39, 30), at(11, 6, 39, 0))

	s.Equal(2, s.preparer.count(), "failed day is not retried but the next day fires")
	s.Equal([]audit.EventType{audit.EventDeliveryFailed, audit.EventDeliveryFailed}, s.audit.types())
	s.Equal(2.0, promtest.ToFloat64(s.metrics.Deliveries.WithLabelValues("morning", "failure")))
}

func (s *SchedulerSuite) TestLedgerErrorSkipsTick() {
	s.register(42, id.DeliveryMorning)
	sched := s.newScheduler(WithLedger(failingLedger{}))
	s.Require().NoError(sched.Start(s.ctx, 42))

	s.send(s.tickers.last(), at(10, 6, 39, 0))

	s.Zero(s.preparer.count())
	s.Equal(1.0, promtest.ToFloat64(s.metrics.LedgerErrors))
}

func (s *SchedulerSuite) TestReconcileStartsStoredParticipants() {
	s.register(3, id.DeliveryMorning)
	s.register(1, id.DeliveryEvening)
	sched := s.newScheduler()

	started, err := sched.Reconcile(s.ctx)

	s.Require().NoError(err)
	s.Equal(2, started)
	s.Equal([]id.ParticipantID{1, 3}, sched.Active())
}

func (s *SchedulerSuite) TestSharedRedisLedgerDeliversOncePerDay() {
	mr := miniredis.RunT(s.T())
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s.T().Cleanup(func() { _ = client.Close() })
	ledger := NewRedisLedger(client)

	s.register(42, id.DeliveryMorning)
	a := s.newScheduler(WithLedger(ledger))
	b := s.newScheduler(WithLedger(ledger))
	s.Require().NoError(a.Start(s.ctx, 42))
	tickA := s.tickers.last()
	s.Require().NoError(b.Start(s.ctx, 42))
	tickB := s.tickers.last()

	s.send(tickA, at(10, 6, 39, 0))
	s.send(tickB, at(10, 6, 39, 1))

	s.Equal(1, s.preparer.count())
	s.True(mr.Exists("zodiac:delivered:42:2024-03-10"))
}

func TestMemoryLedger(t *testing.T) {
	ctx := context.Background()

	testutil.Given(t, "a delivery already claimed for today", func(t *testing.T) {
		l := NewMemoryLedger()
		first, err := l.MarkDelivered(ctx, 1, "2024-03-10")
		require.NoError(t, err)
		require.True(t, first)

		testutil.When(t, "the same participant claims the same day again", func(t *testing.T) {
			testutil.Then(t, "the claim is refused", func(t *testing.T) {
				ok, err := l.MarkDelivered(ctx, 1, "2024-03-10")
				require.NoError(t, err)
				assert.False(t, ok)
			})
		})

		testutil.When(t, "another participant claims the same day", func(t *testing.T) {
			testutil.Then(t, "the claim succeeds", func(t *testing.T) {
				ok, _ := l.MarkDelivered(ctx, 2, "2024-03-10")
				assert.True(t, ok)
			})
		})

		testutil.When(t, "the participant claims the next day", func(t *testing.T) {
			testutil.Then(t, "the claim succeeds and earlier claims still hold", func(t *testing.T) {
				ok, _ := l.MarkDelivered(ctx, 1, "2024-03-11")
				assert.True(t, ok)
				again, _ := l.MarkDelivered(ctx, 1, "2024-03-10")
				assert.False(t, again)
			})
		})
	})
}

func TestContentDay(t *testing.T) {
	evening := time.Date(2024, time.December, 31, 15, 0, 0, 0, time.UTC)
	assert.Equal(t, "2024-12-31", ContentDay(id.DeliveryMorning, evening))
	assert.Equal(t, "2025-01-01", ContentDay(id.DeliveryEvening, evening))
}

func TestParseTargets(t *testing.T) {
	targets, err := ParseTargets("08:00", "20:30")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := targets.For(id.DeliveryEvening).String(); got != "20:30" {
		t.Fatalf("evening target = %s", got)
	}
	if _, err := ParseTargets("8", "20:30"); err == nil {
		t.Fatal("expected error for malformed morning target")
	}
}
