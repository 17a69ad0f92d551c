//go:build integration

package audit

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"zodiac/pkg/testutil/containers"
)

type KafkaSinkSuite struct {
	suite.Suite
	broker string
}

func TestKafkaSinkSuite(t *testing.T) {
	suite.Run(t, new(KafkaSinkSuite))
}

func (s *KafkaSinkSuite) SetupSuite() {
	s.broker = containers.GetManager().GetKafka(s.T()).Broker
}

func (s *KafkaSinkSuite) TestWriteProducesKeyedRecord() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sink, err := NewKafkaSink(ctx, []string{s.broker}, "zodiac.audit.test")
	s.Require().NoError(err)
	defer sink.Close(ctx)

	s.Require().NoError(sink.Write(ctx, Event{
		ID:            "evt-1",
		Type:          EventParticipantRegistered,
		ParticipantID: 42,
		OccurredAt:    time.Date(2026, 10, 16, 6, 39, 0, 0, time.UTC),
	}))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(s.broker),
		kgo.ConsumeTopics("zodiac.audit.test"),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	s.Require().NoError(err)
	defer consumer.Close()

	fetches := consumer.PollFetches(ctx)
	s.Require().NoError(fetches.Err())
	records := fetches.Records()
	s.Require().NotEmpty(records)

	s.Equal("42", string(records[0].Key))
	var got Event
	s.Require().NoError(json.Unmarshal(records[0].Value, &got))
	s.Equal(EventParticipantRegistered, got.Type)
	s.Equal("evt-1", got.ID)
}

func (s *KafkaSinkSuite) TestEnsureTopicIsIdempotent() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	first, err := NewKafkaSink(ctx, []string{s.broker}, "zodiac.audit.idempotent")
	s.Require().NoError(err)
	first.Close(ctx)

	second, err := NewKafkaSink(ctx, []string{s.broker}, "zodiac.audit.idempotent")
	s.Require().NoError(err)
	second.Close(ctx)
}
