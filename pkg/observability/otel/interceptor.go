package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fluxorio/nodelet/pkg/callback"
)

// Span attribute keys
const (
	QueueKey  = attribute.Key("nodelet.queue")
	ResultKey = attribute.Key("nodelet.callback.result")
)

// CallbackInterceptor wraps each callback taken from queue in a
// "callback.invoke" span. Time spent waiting in the queue is not part of the
// span.
func CallbackInterceptor(tr trace.Tracer, queue string) callback.Interceptor {
	return func(ctx context.Context, cb callback.Callback) callback.Result {
		ctx, span := tr.Start(ctx, "callback.invoke",
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(QueueKey.String(queue)),
		)
		panicked := true
		defer func() {
			if panicked {
				span.SetStatus(codes.Error, "callback panicked")
			}
			span.End()
		}()

		result := cb.Call(ctx)
		panicked = false

		span.SetAttributes(ResultKey.String(result.String()))
		if result == callback.Invalid {
			span.SetStatus(codes.Error, "callback invalid")
		}
		return result
	}
}

// Interceptors returns a factory building CallbackInterceptor on the
// current Tracer for each queue, for use with nodelet.WithInterceptor.
func Interceptors() func(queue string) callback.Interceptor {
	return func(queue string) callback.Interceptor {
		return CallbackInterceptor(Tracer(), queue)
	}
}
