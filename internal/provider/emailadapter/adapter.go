// Package emailadapter implements the email channel's provider
// Adapter over SMTP, adapted from the teacher's internal/email sender:
// same dialer and retry-wrapped send, now classifying its own verdicts
// per the ProviderBroker contract instead of returning a bare error.
package emailadapter

import (
	"context"
	"errors"
	"net"
	"net/textproto"
	"time"

	"github.com/cenkalti/backoff/v4"
	"gopkg.in/gomail.v2"

	"deliveryengine/internal/models"
	"deliveryengine/internal/provider"
)

// Adapter sends email messages over SMTP using gomail, with an
// internal exponential-backoff-wrapped dial/send retry distinct from
// (and nested inside) the Dispatcher's message-level RetryPolicy: this
// absorbs transient connection hiccups within a single attempt instead
// of spending one of the message's attempts on them.
type Adapter struct {
	Host           string
	Port           int
	Username       string
	Password       string
	From           string
	DialRetries    int
	DialBaseDelay  time.Duration
}

// New builds an SMTP adapter with DialRetries set to 3. The internal
// dial/send backoff loop stops after DialRetries seconds of elapsed
// time; it is separate from the message-level attempt count.
func New(host string, port int, username, password, from string) *Adapter {
	return &Adapter{
		Host:          host,
		Port:          port,
		Username:      username,
		Password:      password,
		From:          from,
		DialRetries:   3,
		DialBaseDelay: 200 * time.Millisecond,
	}
}

// Send implements provider.Adapter.
func (a *Adapter) Send(ctx context.Context, msg *models.Message) (provider.Verdict, error) {
	m := gomail.NewMessage()
	m.SetHeader("From", a.From)
	m.SetHeader("To", msg.ToAddress)
	if msg.Subject != nil {
		m.SetHeader("Subject", *msg.Subject)
	}
	m.SetBody("text/html", msg.Body)

	dialer := gomail.NewDialer(a.Host, a.Port, a.Username, a.Password)

	operation := func() error {
		return dialer.DialAndSend(m)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = a.DialBaseDelay
	b.MaxElapsedTime = time.Duration(a.DialRetries) * time.Second

	err := backoff.Retry(operation, backoff.WithContext(b, ctx))
	if err == nil {
		return provider.Verdict{Success: true, ProviderPayload: []byte(`{"transport":"smtp"}`)}, nil
	}

	if ctx.Err() != nil {
		return provider.Verdict{Success: false, Retryable: true, ErrorMessage: ctx.Err().Error()}, nil
	}

	return provider.Verdict{Success: false, Retryable: classifyRetryable(err), ErrorMessage: err.Error()}, nil
}

// classifyRetryable distinguishes transient SMTP/network failures from
// permanent rejections (e.g. a mailbox the server refuses outright).
// Adapters are responsible for this classification; the engine never
// inspects the provider payload itself (spec.md §4.7).
func classifyRetryable(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		// SMTP 5xx is a permanent rejection; everything else (4xx,
		// connection-level) is treated as transient.
		return protoErr.Code < 500
	}

	return true
}
