package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fluxorio/nodelet/pkg/bus"
	"github.com/fluxorio/nodelet/pkg/handle"
)

const messagingSystem = "nodelet"

func messagingAttrs(destination, operation string) trace.SpanStartOption {
	return trace.WithAttributes(
		attribute.String("messaging.system", messagingSystem),
		attribute.String("messaging.destination.name", destination),
		attribute.String("messaging.operation", operation),
	)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "OK")
	}
	span.End()
}

// PublishWithSpan publishes through h inside a producer span
func PublishWithSpan(ctx context.Context, h *handle.NodeHandle, topic string, body any) error {
	if !IsInitialized() {
		return h.Publish(topic, body)
	}
	name, _ := h.ResolveName(topic)
	_, span := StartSpan(ctx, "handle.publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		messagingAttrs(name, "publish"),
	)
	err := h.Publish(topic, body)
	endSpan(span, err)
	return err
}

// CallServiceWithSpan calls a service through h inside a client span
func CallServiceWithSpan(ctx context.Context, h *handle.NodeHandle, service string, req any) (any, error) {
	if !IsInitialized() {
		return h.CallService(ctx, service, req)
	}
	name, _ := h.ResolveName(service)
	ctx, span := StartSpan(ctx, "handle.call",
		trace.WithSpanKind(trace.SpanKindClient),
		messagingAttrs(name, "request"),
	)
	resp, err := h.CallService(ctx, service, req)
	endSpan(span, err)
	return resp, err
}

// WrapMessageCallback runs cb inside a consumer span named after topic
func WrapMessageCallback(topic string, cb handle.MessageCallback) handle.MessageCallback {
	if !IsInitialized() {
		return cb
	}
	return func(ctx context.Context, msg bus.Message) {
		ctx, span := StartSpan(ctx, "handle.consume",
			trace.WithSpanKind(trace.SpanKindConsumer),
			messagingAttrs(topic, "process"),
			trace.WithAttributes(attribute.String("messaging.message.id", msg.ID)),
		)
		defer span.End()
		cb(ctx, msg)
	}
}
