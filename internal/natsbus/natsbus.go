// Package natsbus is the Message Bus's best-effort external fan-out: every
// inbox write is additionally published to a per-recipient NATS subject for
// external subscribers (dashboards, the out-of-scope analyzer). Publish
// failures are logged and swallowed, exactly like every other notification
// failure in this system.
package natsbus

import (
	"context"
	"log/slog"

	nats "github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

var propagator = propagation.TraceContext{}

// Publisher wraps an optional NATS connection; a nil connection makes
// Publish a no-op, so the fan-out is safe to leave disabled in
// deployments without a broker.
type Publisher struct {
	nc  *nats.Conn
	log *slog.Logger
}

func New(nc *nats.Conn, log *slog.Logger) *Publisher {
	return &Publisher{nc: nc, log: log}
}

// Subject returns the fan-out subject for a recipient's notifications.
func Subject(toAgent string) string {
	return "lifecycle.messages." + toAgent
}

// Publish injects the current trace context into NATS headers and
// publishes data on subject. Errors are logged, never returned, per the
// notification-failure policy in section 7.
func (p *Publisher) Publish(ctx context.Context, subject string, data []byte) {
	if p == nil || p.nc == nil {
		return
	}
	hdr := nats.Header{}
	propagator.Inject(ctx, propagation.HeaderCarrier(hdr))
	msg := &nats.Msg{Subject: subject, Data: data, Header: hdr}
	if err := p.nc.PublishMsg(msg); err != nil {
		if p.log != nil {
			p.log.Warn("nats publish failed", "subject", subject, "error", err)
		}
	}
}

// Subscribe wraps nc.Subscribe, extracting trace context from each message
// and starting a consumer span before invoking handler.
func Subscribe(nc *nats.Conn, subject string, handler func(context.Context, *nats.Msg)) (*nats.Subscription, error) {
	return nc.Subscribe(subject, func(m *nats.Msg) {
		carrier := propagation.HeaderCarrier(m.Header)
		ctx := propagator.Extract(context.Background(), carrier)
		tr := otel.Tracer("lifecycle-natsbus")
		ctx, span := tr.Start(ctx, "nats.consume", trace.WithSpanKind(trace.SpanKindConsumer))
		defer span.End()
		handler(ctx, m)
	})
}
