package kafka

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/aq2208/portfolio-api/internal/entity"
	"github.com/aq2208/portfolio-api/internal/usecase"
)

type fakeSession struct {
	sarama.ConsumerGroupSession
	marked []int64
}

func (s *fakeSession) Context() context.Context { return context.Background() }

func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.marked = append(s.marked, msg.Offset)
}

type fakeClaim struct {
	sarama.ConsumerGroupClaim
	msgs chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.msgs }

func claimOf(values ...string) *fakeClaim {
	c := &fakeClaim{msgs: make(chan *sarama.ConsumerMessage, len(values))}
	for i, v := range values {
		c.msgs <- &sarama.ConsumerMessage{Topic: "payments.status", Offset: int64(i), Value: []byte(v)}
	}
	close(c.msgs)
	return c
}

func TestConsumeClaim_MarksHandledAndPoisonMessages(t *testing.T) {
	var seen []string
	h := &cgHandler[usecase.PaymentStatusMsg]{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		handle: func(_ context.Context, ev usecase.PaymentStatusMsg) error {
			seen = append(seen, ev.OrderID)
			if ev.OrderID == "retry-me" {
				return errors.New("db down")
			}
			return nil
		},
	}
	sess := &fakeSession{}
	claim := claimOf(
		`{"orderId":"o-1","status":"SUCCESS"}`,
		`not json`,
		`{"orderId":"retry-me","status":"SUCCESS"}`,
		`{"orderId":"o-2","status":"REFUNDED"}`,
	)

	require.NoError(t, h.ConsumeClaim(sess, claim))
	assert.Equal(t, []string{"o-1", "retry-me", "o-2"}, seen)
	assert.Equal(t, []int64{0, 1, 3}, sess.marked)
}

type fakeLedger struct {
	calls []domain.PaymentStatus
	err   error
}

func (f *fakeLedger) SetPaymentStatus(_ context.Context, p domain.Principal, _ string, s domain.PaymentStatus) (*domain.Order, error) {
	if !p.IsAdmin() {
		return nil, domain.ErrForbidden
	}
	f.calls = append(f.calls, s)
	return &domain.Order{PaymentStatus: s}, f.err
}

func TestPaymentStatusHandler(t *testing.T) {
	ctx := context.Background()
	ledger := &fakeLedger{}
	h := NewPaymentStatusHandler(ledger)

	require.NoError(t, h.Handle(ctx, usecase.PaymentStatusMsg{OrderID: "o", Status: "SUCCESS"}))
	require.NoError(t, h.Handle(ctx, usecase.PaymentStatusMsg{OrderID: "o", Status: "refunded"}))
	require.NoError(t, h.Handle(ctx, usecase.PaymentStatusMsg{OrderID: "o", Status: "FAILED"}))
	require.NoError(t, h.Handle(ctx, usecase.PaymentStatusMsg{OrderID: "o", Status: "PENDING_REVIEW"}))
	assert.Equal(t, []domain.PaymentStatus{domain.PaymentPaid, domain.PaymentRefunded, domain.PaymentUnpaid}, ledger.calls)

	ledger.err = domain.NotFoundf("order o not found")
	require.NoError(t, h.Handle(ctx, usecase.PaymentStatusMsg{OrderID: "o", Status: "SUCCESS"}))

	ledger.err = errors.New("connection reset")
	require.Error(t, h.Handle(ctx, usecase.PaymentStatusMsg{OrderID: "o", Status: "SUCCESS"}))
}
