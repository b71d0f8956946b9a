package provider_test

import (
	"context"
	"testing"
	"time"

	"deliveryengine/internal/models"
	"deliveryengine/internal/provider"
	"deliveryengine/internal/provider/mockadapter"
)

func TestBrokerSendUnsupportedChannelIsRetryable(t *testing.T) {
	broker := provider.New(map[models.ChannelType]provider.Adapter{}, 10)
	msg := &models.Message{Type: models.ChannelSMS}

	verdict := broker.Send(context.Background(), msg)
	if verdict.Success {
		t.Fatal("unsupported channel must not report success")
	}
	if !verdict.Retryable {
		t.Fatal("unsupported channel must be treated as a retryable transient failure")
	}
}

func TestBrokerSendSuccess(t *testing.T) {
	adapter := mockadapter.New()
	broker := provider.New(map[models.ChannelType]provider.Adapter{models.ChannelEmail: adapter}, 100)

	verdict := broker.Send(context.Background(), &models.Message{Type: models.ChannelEmail})
	if !verdict.Success {
		t.Fatalf("expected success, got %+v", verdict)
	}
}

func TestBrokerSendDeadlineExceededIsRetryable(t *testing.T) {
	adapter := &slowAdapter{delay: 50 * time.Millisecond}
	broker := provider.New(map[models.ChannelType]provider.Adapter{models.ChannelEmail: adapter}, 100)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	verdict := broker.Send(ctx, &models.Message{Type: models.ChannelEmail})
	if verdict.Success {
		t.Fatal("expected a deadline failure, not success")
	}
	if !verdict.Retryable {
		t.Fatal("a deadline exceeded must be treated as retryable")
	}
}

func TestBrokerSendRecoversFromAdapterPanic(t *testing.T) {
	broker := provider.New(map[models.ChannelType]provider.Adapter{models.ChannelEmail: panicAdapter{}}, 100)

	verdict := broker.Send(context.Background(), &models.Message{Type: models.ChannelEmail})
	if verdict.Success {
		t.Fatal("a panicking adapter must not report success")
	}
	if !verdict.Retryable {
		t.Fatal("a panicking adapter must be treated as a retryable transient failure")
	}
}

type slowAdapter struct {
	delay time.Duration
}

func (a *slowAdapter) Send(ctx context.Context, msg *models.Message) (provider.Verdict, error) {
	select {
	case <-time.After(a.delay):
		return provider.Verdict{Success: true}, nil
	case <-ctx.Done():
		return provider.Verdict{}, ctx.Err()
	}
}

type panicAdapter struct{}

func (panicAdapter) Send(ctx context.Context, msg *models.Message) (provider.Verdict, error) {
	panic("adapter exploded")
}
