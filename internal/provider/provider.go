// Package provider maps a message's channel to an adapter and invokes
// it under a hard deadline (spec.md §4.7).
package provider

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"deliveryengine/internal/models"
)

// Verdict is the adapter's classified outcome. Adapters classify their
// own errors; the engine never inspects provider payloads directly.
type Verdict struct {
	Success         bool
	Retryable       bool
	ProviderPayload []byte
	ErrorMessage    string
}

// Adapter is the minimal contract every channel implementation
// satisfies.
type Adapter interface {
	Send(ctx context.Context, msg *models.Message) (Verdict, error)
}

// SendDeadline is the hard per-call ceiling spec.md §4.5/§5 mandates.
const SendDeadline = 10 * time.Second

// Broker selects an adapter by channel type and enforces the send
// deadline. It also holds a process-wide token bucket
// (golang.org/x/time/rate, the teacher's throttle) shaping the rate at
// which any single channel's adapter is called, independent of each
// tenant's own per-minute budget — this prevents the whole worker
// fleet from hammering a flaky downstream provider.
type Broker struct {
	adapters map[models.ChannelType]Adapter
	limiters map[models.ChannelType]*rate.Limiter
}

// New constructs a Broker with adapters registered per channel and a
// shaping rate (calls/sec) applied uniformly across channels.
func New(adapters map[models.ChannelType]Adapter, ratePerSecond int) *Broker {
	if ratePerSecond <= 0 {
		ratePerSecond = 1
	}
	limiters := make(map[models.ChannelType]*rate.Limiter, len(adapters))
	for ch := range adapters {
		limiters[ch] = rate.NewLimiter(rate.Limit(ratePerSecond), ratePerSecond)
	}
	return &Broker{adapters: adapters, limiters: limiters}
}

// Send resolves msg.Type to an adapter and invokes it with a 10-second
// hard deadline. An unsupported or unconfigured channel, or a panic
// inside the adapter, is treated as a retryable transient failure so
// the Dispatcher never crashes on a bad adapter.
func (b *Broker) Send(ctx context.Context, msg *models.Message) Verdict {
	adapter, ok := b.adapters[msg.Type]
	if !ok {
		return Verdict{Success: false, Retryable: true, ErrorMessage: fmt.Sprintf("no adapter configured for channel %q", msg.Type)}
	}

	if lim, ok := b.limiters[msg.Type]; ok {
		if err := lim.Wait(ctx); err != nil {
			return Verdict{Success: false, Retryable: true, ErrorMessage: err.Error()}
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, SendDeadline)
	defer cancel()

	return b.callAdapter(callCtx, adapter, msg)
}

func (b *Broker) callAdapter(ctx context.Context, adapter Adapter, msg *models.Message) (verdict Verdict) {
	defer func() {
		if r := recover(); r != nil {
			verdict = Verdict{Success: false, Retryable: true, ErrorMessage: fmt.Sprintf("adapter panic: %v", r)}
		}
	}()

	v, err := adapter.Send(ctx, msg)
	if err != nil {
		if ctx.Err() != nil {
			return Verdict{Success: false, Retryable: true, ErrorMessage: ctx.Err().Error()}
		}
		return Verdict{Success: false, Retryable: true, ErrorMessage: err.Error()}
	}
	return v
}
