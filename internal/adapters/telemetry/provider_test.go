package telemetry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.trai.ch/keel/internal/adapters/telemetry"
	"go.trai.ch/keel/internal/core/ports"
	"go.trai.ch/keel/internal/core/ports/mocks"
	"go.uber.org/mock/gomock"
)

func TestInterfaceSatisfaction(_ *testing.T) {
	var _ ports.Tracer = (*telemetry.OTelTracer)(nil)
	var _ ports.Span = (*telemetry.OTelSpan)(nil)
	var _ ports.Tracer = (*telemetry.NoOpTracer)(nil)
	var _ ports.Span = (*telemetry.NoOpSpan)(nil)
}

func TestOTelTracer_SpanAttributesAndErrors(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := telemetry.NewTracerProvider(sr)
	defer func() { _ = tp.Shutdown(context.Background()) }()

	tracer := telemetry.NewOTelTracerWithProvider(tp, "test")
	_, span := tracer.Start(context.Background(), "resolve", ports.WithAttribute("members", 2))
	span.SetAttribute("policy", "conservative")
	span.RecordError(errors.New("no candidates"))
	span.End()

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "resolve", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)

	attrs := make(map[string]string)
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "2", attrs["members"])
	assert.Equal(t, "conservative", attrs["policy"])
}

func TestOTelTracer_EmitPlan(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := telemetry.NewTracerProvider(sr)
	defer func() { _ = tp.Shutdown(context.Background()) }()

	tracer := telemetry.NewOTelTracerWithProvider(tp, "test")

	// No active span: nothing is recorded.
	tracer.EmitPlan(context.Background(), []string{"a"})
	assert.Empty(t, sr.Ended())

	ctx, span := tracer.Start(context.Background(), "build")
	tracer.EmitPlan(ctx, []string{"core 1.0.0 lib:core", "app 1.0.0 bin:app"})
	span.End()

	spans := sr.Ended()
	require.Len(t, spans, 1)
	events := spans[0].Events()
	require.Len(t, events, 1)
	assert.Equal(t, "plan_emitted", events[0].Name)
}

func TestLogBridge_ReportsEndedSpans(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockLogger := mocks.NewMockLogger(ctrl)

	var messages []string
	mockLogger.EXPECT().Debug(gomock.Any()).DoAndReturn(func(msg string) {
		messages = append(messages, msg)
	}).Times(2)

	tp := telemetry.NewTracerProvider(telemetry.NewLogBridge(mockLogger))
	defer func() { _ = tp.Shutdown(context.Background()) }()
	tracer := telemetry.NewOTelTracerWithProvider(tp, "test")

	_, ok := tracer.Start(context.Background(), "fetch")
	ok.End()
	_, failed := tracer.Start(context.Background(), "compile")
	failed.RecordError(errors.New("exit status 1"))
	failed.End()

	require.Len(t, messages, 2)
	assert.Contains(t, messages[0], "fetch finished in")
	assert.Contains(t, messages[1], "compile failed after")
	assert.Contains(t, messages[1], "exit status 1")
}

func TestNoOpTracer_Start(t *testing.T) {
	tracer := telemetry.NewNoOpTracer()

	ctx := context.Background()
	_, span := tracer.Start(ctx, "test-span")
	require.NotNil(t, span)

	span.SetAttribute("key", "value")
	span.RecordError(errors.New("ignored"))
	n, err := span.Write([]byte("test log"))
	require.NoError(t, err)
	assert.Equal(t, 8, n)

	span.End()
}
