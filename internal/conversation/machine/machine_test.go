package machine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"zodiac/internal/audit"
	"zodiac/internal/conversation/machine/mocks"
	convmetrics "zodiac/internal/conversation/metrics"
	"zodiac/internal/conversation/models"
	"zodiac/internal/conversation/prompts"
	convstore "zodiac/internal/conversation/store"
	profile "zodiac/internal/profile/models"
	profilestore "zodiac/internal/profile/store"
	id "zodiac/pkg/domain"
	dErrors "zodiac/pkg/domain-errors"
)

type sentPrompt struct {
	pid    id.ParticipantID
	ref    models.MessageRef
	prompt models.Prompt
}

type fakeChannel struct {
	mu      sync.Mutex
	nextRef models.MessageRef
	sent    []sentPrompt
	deleted []models.MessageRef
	sendErr error
}

func (c *fakeChannel) SendPrompt(_ context.Context, pid id.ParticipantID, p models.Prompt) (models.MessageRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return 0, c.sendErr
	}
	c.nextRef++
	c.sent = append(c.sent, sentPrompt{pid: pid, ref: c.nextRef, prompt: p})
	return c.nextRef, nil
}

func (c *fakeChannel) DeleteMessage(_ context.Context, _ id.ParticipantID, ref models.MessageRef) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, ref)
	return nil
}

func (c *fakeChannel) last() sentPrompt {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent[len(c.sent)-1]
}

func (c *fakeChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

const anna = id.ParticipantID(42)

type MachineSuite struct {
	suite.Suite
	ctrl      *gomock.Controller
	profiles  *profilestore.InMemory
	sessions  *convstore.InMemory
	channel   *fakeChannel
	scheduler *mocks.MockScheduler
	preparer  *mocks.MockPreparer
	publisher *audit.Publisher
	metrics   *convmetrics.Metrics
	machine   *Machine
	now       time.Time
	inbound   models.MessageRef
}

func TestMachineSuite(t *testing.T) {
	suite.Run(t, new(MachineSuite))
}

func (s *MachineSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.profiles = profilestore.NewInMemory()
	s.sessions = convstore.NewInMemory()
	s.channel = &fakeChannel{nextRef: 1000}
	s.scheduler = mocks.NewMockScheduler(s.ctrl)
	s.preparer = mocks.NewMockPreparer(s.ctrl)
	s.publisher = audit.NewPublisher(64)
	s.metrics = convmetrics.New(prometheus.NewRegistry())
	s.now = time.Date(2026, 10, 16, 10, 0, 0, 0, time.UTC)
	s.inbound = 0
	s.machine = New(s.profiles, s.sessions, s.channel, s.scheduler, s.preparer,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithMetrics(s.metrics),
		WithAudit(s.publisher),
	)
}

func (s *MachineSuite) send(kind models.EventKind, value string) {
	s.T().Helper()
	s.inbound++
	err := s.machine.HandleEvent(context.Background(), models.Event{
		ParticipantID: anna,
		Handle:        "anna",
		Kind:          kind,
		Value:         value,
		MessageRef:    s.inbound,
		ReceivedAt:    s.now,
	})
	s.Require().NoError(err)
}

func (s *MachineSuite) text(v string)             { s.send(models.EventText, v) }
func (s *MachineSuite) choice(c models.Choice)    { s.send(models.EventChoice, string(c)) }
func (s *MachineSuite) command(name string)       { s.send(models.EventCommand, name) }
func (s *MachineSuite) lastPrompt() models.Prompt { return s.channel.last().prompt }

func (s *MachineSuite) state() models.State {
	sess, err := s.sessions.Get(context.Background(), anna)
	s.Require().NoError(err)
	return sess.State
}

func (s *MachineSuite) drainAudit() []audit.Event {
	var out []audit.Event
	for {
		select {
		case e := <-s.publisher.Events():
			out = append(out, e)
		default:
			return out
		}
	}
}

// walkToConfirmation drives a fresh participant up to the summary prompt.
func (s *MachineSuite) walkToConfirmation() {
	s.command("start")
	s.text("Anna")
	s.choice(models.ChoiceGenderFemale)
	s.text("15.11.2001")
	s.text("Oslo")
	s.choice(models.ChoiceBirthTimeUnknown)
	s.choice(models.ChoiceWindowMorning)
}

func (s *MachineSuite) createProfile() {
	s.Require().NoError(s.profiles.Create(context.Background(), profile.Profile{
		ParticipantID:  anna,
		DisplayName:    "Anna",
		Gender:         id.GenderFemale,
		BirthDate:      time.Date(2001, 11, 15, 0, 0, 0, 0, time.UTC),
		BirthPlace:     "Oslo",
		DeliveryWindow: id.DeliveryMorning,
	}))
}

func (s *MachineSuite) register() {
	s.createProfile()
	s.Require().NoError(s.sessions.Save(context.Background(), models.Session{ParticipantID: anna, State: models.StateScheduled}))
}

func (s *MachineSuite) TestRegistrationScenario() {
	s.command("start")
	s.Equal(models.StateAwaitingName, s.state())
	s.Equal(prompts.KeyAskName, s.lastPrompt().Key)

	s.text("Anna")
	s.Equal(models.StateAwaitingGender, s.state())
	s.Contains(s.lastPrompt().Text, "Anna")
	s.Len(s.lastPrompt().Options, 1)

	s.choice(models.ChoiceGenderFemale)
	s.Equal(models.StateAwaitingBirthDate, s.state())

	s.text("15.11.2001")
	s.Equal(models.StateAwaitingBirthPlace, s.state())

	s.text("Oslo")
	s.Equal(models.StateAwaitingBirthTimeChoice, s.state())

	s.choice(models.ChoiceBirthTimeUnknown)
	s.Equal(models.StateAwaitingDeliveryWindow, s.state())

	s.choice(models.ChoiceWindowMorning)
	s.Equal(models.StateAwaitingConfirmation, s.state())
	summary := s.lastPrompt().Text
	for _, want := range []string{"Anna", "female", "15.11.2001", "Oslo", "unknown", "morning"} {
		s.Contains(summary, want)
	}

	gomock.InOrder(
		s.scheduler.EXPECT().Start(gomock.Any(), anna).Return(nil),
		s.preparer.EXPECT().DeliverToday(gomock.Any(), anna).Return(nil),
	)
	s.choice(models.ChoiceConfirmAgree)
	s.Equal(models.StateScheduled, s.state())
	s.Equal(prompts.KeyRegistered, s.lastPrompt().Key)

	p, err := s.profiles.FindByID(context.Background(), anna)
	s.Require().NoError(err)
	s.Equal("Anna", p.DisplayName)
	s.Equal("anna", p.Handle)
	s.Equal(id.GenderFemale, p.Gender)
	s.Equal(time.Date(2001, 11, 15, 0, 0, 0, 0, time.UTC), p.BirthDate)
	s.Equal("Oslo", p.BirthPlace)
	s.Nil(p.BirthTime)
	s.Equal(id.DeliveryMorning, p.DeliveryWindow)

	sess, err := s.sessions.Get(context.Background(), anna)
	s.Require().NoError(err)
	s.Empty(sess.DisplayName, "form is cleared after commit")

	s.Equal(1.0, testutil.ToFloat64(s.metrics.Registrations))
	events := s.drainAudit()
	s.Require().Len(events, 2)
	s.Equal(audit.EventParticipantRegistered, events[0].Type)
	s.Equal(audit.EventDeliveryTriggered, events[1].Type)
	s.Equal("registration", events[1].Detail)
}

func (s *MachineSuite) TestRegistrationSurvivesFailedFirstDelivery() {
	s.walkToConfirmation()

	s.scheduler.EXPECT().Start(gomock.Any(), anna).Return(nil)
	s.preparer.EXPECT().DeliverToday(gomock.Any(), anna).Return(errors.New("content service down"))
	s.choice(models.ChoiceConfirmAgree)

	s.Equal(models.StateScheduled, s.state())
	s.Equal(prompts.KeyRegistered, s.lastPrompt().Key)
	_, err := s.profiles.FindByID(context.Background(), anna)
	s.Require().NoError(err)

	events := s.drainAudit()
	s.Require().Len(events, 2)
	s.Equal(audit.EventDeliveryFailed, events[1].Type)
	s.Equal("registration", events[1].Detail)
}

func (s *MachineSuite) TestOnePromptPerEventAndCleanup() {
	s.command("start")
	first := s.channel.last().ref

	s.text("Anna")
	s.Equal(2, s.channel.count())
	s.Contains(s.channel.deleted, first, "previous prompt is deleted")
	s.Contains(s.channel.deleted, models.MessageRef(2), "participant text is deleted")

	sess, err := s.sessions.Get(context.Background(), anna)
	s.Require().NoError(err)
	s.Equal(s.channel.last().ref, sess.LastPromptRef)

	before := len(s.channel.deleted)
	s.choice(models.ChoiceGenderMale)
	s.Equal(before+1, len(s.channel.deleted), "choice events only remove the prompt")
}

func (s *MachineSuite) TestBirthDateValidation() {
	s.command("start")
	s.text("Anna")
	s.choice(models.ChoiceGenderFemale)

	for _, bad := range []string{"31.02.2001", "abc", "32.01.2000", "15/11/2001", "01.01.2099"} {
		sent := s.channel.count()
		s.text(bad)
		s.Equal(models.StateAwaitingBirthDate, s.state(), bad)
		s.Equal(prompts.KeyAskBirthDate, s.lastPrompt().Key)
		s.Equal(sent+1, s.channel.count())
	}
	s.Equal(5.0, testutil.ToFloat64(s.metrics.ValidationFailures.WithLabelValues("awaiting_birth_date")))

	s.text("1.2.1990")
	s.Equal(models.StateAwaitingBirthPlace, s.state())
	sess, _ := s.sessions.Get(context.Background(), anna)
	s.Equal("01.02.1990", sess.BirthDate)
}

func (s *MachineSuite) TestKnownBirthTime() {
	s.command("start")
	s.text("Anna")
	s.choice(models.ChoiceGenderFemale)
	s.text("15.11.2001")
	s.text("Oslo")
	s.choice(models.ChoiceBirthTimeKnown)
	s.Equal(models.StateAwaitingBirthTime, s.state())

	s.text("25:00")
	s.Equal(models.StateAwaitingBirthTime, s.state())
	s.Equal(prompts.KeyAskBirthTime, s.lastPrompt().Key)

	s.text("4:20")
	s.Equal(models.StateAwaitingDeliveryWindow, s.state())
	s.choice(models.ChoiceWindowEvening)
	s.Contains(s.lastPrompt().Text, "04:20")
	s.Contains(s.lastPrompt().Text, "evening")
}

func (s *MachineSuite) TestWrongEventClassReprompts() {
	s.command("start")
	s.text("Anna")

	s.text("female")
	s.Equal(models.StateAwaitingGender, s.state())
	s.Equal(prompts.KeyAskGender, s.lastPrompt().Key)

	s.choice(models.ChoiceWindowMorning)
	s.Equal(models.StateAwaitingGender, s.state(), "unrelated choice tokens are ignored")

	s.choice(models.ChoiceGenderMale)
	s.choice(models.ChoiceGenderFemale)
	s.Equal(models.StateAwaitingBirthDate, s.state(), "choice while text expected")
	s.Equal(prompts.KeyAskBirthDate, s.lastPrompt().Key)
}

func (s *MachineSuite) TestDuplicateRegistration() {
	s.walkToConfirmation()
	s.createProfile()

	s.scheduler.EXPECT().Start(gomock.Any(), anna).Return(nil).Times(1)
	s.preparer.EXPECT().DeliverToday(gomock.Any(), anna).Return(nil).Times(1)
	s.choice(models.ChoiceConfirmAgree)

	s.Equal(models.StateScheduled, s.state())
	ids, err := s.profiles.ListIDs(context.Background())
	s.Require().NoError(err)
	s.Len(ids, 1)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.DuplicateRegs))
	s.Equal(0.0, testutil.ToFloat64(s.metrics.Registrations))

	events := s.drainAudit()
	s.Require().Len(events, 2)
	s.Equal(audit.EventParticipantAlreadyRegistered, events[0].Type)
	s.Equal(audit.EventDeliveryTriggered, events[1].Type)
}

func (s *MachineSuite) TestDisagreeCommitsThenEdits() {
	s.walkToConfirmation()
	s.choice(models.ChoiceConfirmDisagree)

	s.Equal(models.StateAwaitingEditSelection, s.state())
	s.Equal(prompts.KeyEditMenu, s.lastPrompt().Key)
	_, err := s.profiles.FindByID(context.Background(), anna)
	s.Require().NoError(err)

	s.choice(models.ChoiceEditBirthPlace)
	s.Equal(models.StateAwaitingEditValue, s.state())

	s.scheduler.EXPECT().Start(gomock.Any(), anna).Return(nil).Times(1)
	s.preparer.EXPECT().DeliverToday(gomock.Any(), anna).Return(nil).Times(1)
	s.text("Bergen")
	s.Equal(models.StateScheduled, s.state())

	p, _ := s.profiles.FindByID(context.Background(), anna)
	s.Equal("Bergen", p.BirthPlace)
}

func (s *MachineSuite) TestEditGenderOnly() {
	s.register()
	before, _ := s.profiles.FindByID(context.Background(), anna)

	s.command("change")
	s.Equal(models.StateAwaitingEditSelection, s.state())
	s.choice(models.ChoiceEditGender)
	s.Equal(models.StateAwaitingEditValue, s.state())
	s.Equal(prompts.EditValueKey("gender"), s.lastPrompt().Key)

	s.text("robot")
	s.Equal(models.StateAwaitingEditValue, s.state(), "invalid value re-prompts")

	gomock.InOrder(
		s.scheduler.EXPECT().Start(gomock.Any(), anna).Return(nil),
		s.preparer.EXPECT().DeliverToday(gomock.Any(), anna).Return(nil),
	)
	s.text("male")
	s.Equal(models.StateScheduled, s.state())
	s.Equal(prompts.KeyEditSaved, s.lastPrompt().Key)

	after, _ := s.profiles.FindByID(context.Background(), anna)
	s.Equal(id.GenderMale, after.Gender)
	s.Equal(before.DisplayName, after.DisplayName)
	s.Equal(before.BirthDate, after.BirthDate)
	s.Equal(before.BirthPlace, after.BirthPlace)
	s.Equal(before.DeliveryWindow, after.DeliveryWindow)

	events := s.drainAudit()
	s.Require().Len(events, 2)
	s.Equal(audit.EventProfileFieldUpdated, events[0].Type)
	s.Equal("gender", events[0].Field)
	s.Equal(audit.EventDeliveryTriggered, events[1].Type)
	s.Equal("edit", events[1].Detail)
}

func (s *MachineSuite) TestEditDeliveryWindow() {
	s.register()
	s.command("change")
	s.choice(models.ChoiceEditDeliveryWindow)
	s.Equal(models.StateAwaitingEditDeliveryWindow, s.state())

	s.text("evening")
	s.Equal(models.StateAwaitingEditDeliveryWindow, s.state(), "window edits need a choice")

	s.scheduler.EXPECT().Start(gomock.Any(), anna).Return(nil).Times(1)
	s.preparer.EXPECT().DeliverToday(gomock.Any(), anna).Return(nil).Times(1)
	s.choice(models.ChoiceWindowEvening)
	s.Equal(models.StateScheduled, s.state())

	p, _ := s.profiles.FindByID(context.Background(), anna)
	s.Equal(id.DeliveryEvening, p.DeliveryWindow)
	s.Contains(s.lastPrompt().Text, "evening")
}

func (s *MachineSuite) TestCommands() {
	s.Run("unregistered participant", func() {
		for _, cmd := range []string{"change", "send", "info"} {
			s.command(cmd)
			s.Equal(prompts.KeyNotRegistered, s.lastPrompt().Key, cmd)
			s.Equal(models.StateIdle, s.state())
		}
	})

	s.Run("unknown command keeps state", func() {
		s.command("start")
		s.command("horoscope")
		s.Equal(prompts.KeyUnknownCommand, s.lastPrompt().Key)
		s.Equal(models.StateAwaitingName, s.state())
	})

	s.Run("registered participant", func() {
		s.register()

		s.preparer.EXPECT().DeliverToday(gomock.Any(), anna).Return(nil)
		s.command("/send")
		s.Equal(prompts.KeyDeliveryRequested, s.lastPrompt().Key)
		s.Equal(models.StateScheduled, s.state())

		s.preparer.EXPECT().DeliverToday(gomock.Any(), anna).Return(errors.New("content service down"))
		s.command("send")
		s.Equal(prompts.KeyDeliveryFailed, s.lastPrompt().Key)

		for _, cmd := range []string{"info", "/get_info"} {
			s.command(cmd)
			s.Equal(prompts.KeyProfileInfo, s.lastPrompt().Key, cmd)
			s.Contains(s.lastPrompt().Text, "Oslo")
		}

		s.scheduler.EXPECT().Start(gomock.Any(), anna).Return(nil)
		s.command("START")
		s.Equal(prompts.KeyWelcomeBack, s.lastPrompt().Key)
		s.Equal(models.StateScheduled, s.state())

		types := []audit.EventType{}
		for _, e := range s.drainAudit() {
			types = append(types, e.Type)
		}
		s.Equal([]audit.EventType{audit.EventDeliveryTriggered, audit.EventDeliveryFailed}, types)
	})
}

func (s *MachineSuite) TestStartRestartsRegistration() {
	s.command("start")
	s.text("Anna")
	s.choice(models.ChoiceGenderFemale)

	s.command("help")
	s.Equal(models.StateAwaitingName, s.state())
	sess, _ := s.sessions.Get(context.Background(), anna)
	s.Empty(sess.DisplayName)
	s.Equal("anna", sess.Handle)
}

func (s *MachineSuite) TestSteadyStateHints() {
	s.text("hello")
	s.Equal(prompts.KeyIdleHint, s.lastPrompt().Key)
	s.Equal(models.StateIdle, s.state())

	s.register()
	s.text("hello again")
	s.Equal(prompts.KeyScheduledHint, s.lastPrompt().Key)
	s.choice(models.ChoiceConfirmAgree)
	s.Equal(prompts.KeyScheduledHint, s.lastPrompt().Key)
	s.Equal(models.StateScheduled, s.state())
}

func (s *MachineSuite) TestSendFailureStillPersists() {
	s.channel.sendErr = errors.New("telegram down")

	err := s.machine.HandleEvent(context.Background(), models.Event{
		ParticipantID: anna,
		Kind:          models.EventCommand,
		Value:         "start",
		ReceivedAt:    s.now,
	})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	s.Equal(models.StateAwaitingName, s.state())
	s.Equal(1.0, testutil.ToFloat64(s.metrics.HandleErrors.WithLabelValues("send_prompt")))
}

func (s *MachineSuite) TestStoreFailureIsInternal() {
	profiles := mocks.NewMockProfileStore(s.ctrl)
	m := New(profiles, s.sessions, s.channel, s.scheduler, s.preparer,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	s.Require().NoError(s.sessions.Save(context.Background(), models.Session{
		ParticipantID:  anna,
		State:          models.StateAwaitingConfirmation,
		DisplayName:    "Anna",
		Gender:         id.GenderFemale,
		BirthDate:      "15.11.2001",
		BirthPlace:     "Oslo",
		DeliveryWindow: id.DeliveryMorning,
	}))
	profiles.EXPECT().Create(gomock.Any(), gomock.Any()).Return(errors.New("connection refused"))

	err := m.HandleEvent(context.Background(), models.Event{
		ParticipantID: anna,
		Kind:          models.EventChoice,
		Value:         string(models.ChoiceConfirmAgree),
		ReceivedAt:    s.now,
	})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	s.Equal(models.StateAwaitingConfirmation, s.state(), "failed commit does not advance")
}

func TestMustCoverPanicsOnMissingState(t *testing.T) {
	table := map[models.State]transition{
		models.StateIdle: {accepts: models.EventText, handle: func(context.Context, *models.Session, models.Event) (step, error) {
			return step{}, nil
		}},
	}
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for incomplete transition table")
		}
	}()
	mustCover(table)
}
