package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcade-backend/internal/config"
	"github.com/arcade-backend/internal/domain"
	"github.com/arcade-backend/internal/events"
	"github.com/arcade-backend/internal/notify"
)

type countingDispatcher struct {
	calls int
	errs  []error
}

func (d *countingDispatcher) Dispatch(ctx context.Context, env events.Envelope) error {
	d.calls++
	if len(d.errs) == 0 {
		return nil
	}
	err := d.errs[0]
	d.errs = d.errs[1:]
	return err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func envelopeMessage(t *testing.T) *sarama.ConsumerMessage {
	t.Helper()
	env, err := events.New(events.TypeTimerFired, "daily_report", events.TimerFired{Job: domain.JobDailyReport}, time.Now())
	require.NoError(t, err)
	value, err := json.Marshal(env)
	require.NoError(t, err)
	return &sarama.ConsumerMessage{Value: value}
}

func newTestConsumer(d Dispatcher) *Consumer {
	cfg := &config.KafkaConfig{RetryAttempts: 3, RetryDelay: time.Millisecond, HandlerTimeout: time.Second}
	return newConsumer(cfg, d, nil, testLogger())
}

func TestHandleMessageRetriesTransientFailures(t *testing.T) {
	d := &countingDispatcher{errs: []error{
		domain.Transient("mark", errors.New("connection reset")),
		domain.Transient("mark", errors.New("connection reset")),
	}}
	c := newTestConsumer(d)

	assert.True(t, c.handleMessage(context.Background(), envelopeMessage(t)))
	assert.Equal(t, 3, d.calls)
}

func TestHandleMessageGivesUpAfterRetryAttempts(t *testing.T) {
	boom := errors.New("down")
	d := &countingDispatcher{errs: []error{boom, boom, boom, boom}}
	c := newTestConsumer(d)

	assert.True(t, c.handleMessage(context.Background(), envelopeMessage(t)))
	assert.Equal(t, 3, d.calls)
}

func TestHandleMessageAcksUnknownTypes(t *testing.T) {
	d := &countingDispatcher{errs: []error{domain.ErrUnknownEventType}}
	c := newTestConsumer(d)

	assert.True(t, c.handleMessage(context.Background(), envelopeMessage(t)))
	assert.Equal(t, 1, d.calls)
}

func TestHandleMessageSkipsMalformedPayloads(t *testing.T) {
	d := &countingDispatcher{}
	c := newTestConsumer(d)

	assert.True(t, c.handleMessage(context.Background(), &sarama.ConsumerMessage{Value: []byte("{not json")}))
	assert.Zero(t, d.calls)
}

func TestHandleMessageStopsOnCancel(t *testing.T) {
	d := &countingDispatcher{errs: []error{errors.New("down")}}
	c := newTestConsumer(d)
	c.config.RetryDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, c.handleMessage(ctx, envelopeMessage(t)))
}

func TestProducerPublishesEnvelopes(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	defer mock.Close()

	cfg := &config.KafkaConfig{Topic: "game-events", NotificationsTopic: "push"}
	p := NewProducerFrom(mock, cfg, testLogger())

	env, err := events.New(events.TypeScoreSubmitted, "player-1", events.ScoreSubmitted{}, time.Now())
	require.NoError(t, err)

	mock.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var got events.Envelope
		if err := json.Unmarshal(val, &got); err != nil {
			return err
		}
		if got.ID != env.ID || got.Type != events.TypeScoreSubmitted {
			return errors.New("unexpected envelope")
		}
		return nil
	})
	require.NoError(t, p.Publish(context.Background(), env))
}

func TestProducerNotify(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	defer mock.Close()

	p := NewProducerFrom(mock, &config.KafkaConfig{Topic: "game-events", NotificationsTopic: "push"}, testLogger())

	mock.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	err := p.Notify(context.Background(), notify.Notification{Kind: notify.KindTournamentCompleted, PlayerIDs: []string{"p1"}})
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
}
