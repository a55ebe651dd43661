package errors

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFastPathNoTelemetry(t *testing.T) {
	SetTelemetryReporter(nil)
	ClearErrorHooks()

	ee := New(fmt.Errorf("test error")).Build()

	assert.Equal(t, "test error", ee.Error())
	assert.Equal(t, ComponentUnknown, ee.GetComponent())
	assert.Equal(t, CategoryGeneric, ee.Category)
}

func TestBuilderCarriesMetadata(t *testing.T) {
	ee := New(NewStd("render failed")).
		Component("engine").
		Category(CategoryEngine).
		Priority(PriorityHigh).
		Context("frames", 128).
		Build()

	assert.Equal(t, "engine", ee.GetComponent())
	assert.Equal(t, "engine", ee.GetCategory())
	assert.Equal(t, PriorityHigh, ee.GetPriority())
	assert.Equal(t, 128, ee.GetContext()["frames"])
}

func TestInvalidPriorityFallsBackToMedium(t *testing.T) {
	ee := New(NewStd("x")).Priority("urgent").Build()
	assert.Equal(t, PriorityMedium, ee.Priority)
}

func TestIsMatchesWrappedSentinel(t *testing.T) {
	sentinel := NewStd("handle revoked")
	other := NewStd("handle already revoked")

	ee := New(sentinel).Category(CategoryState).Build()

	assert.True(t, Is(ee, sentinel))
	assert.False(t, Is(ee, other))

	wrapped := fmt.Errorf("invoke: %w", ee)
	assert.True(t, Is(wrapped, sentinel))
	assert.True(t, IsCategory(wrapped, CategoryState))
	assert.False(t, IsCategory(wrapped, CategoryEngine))
}

func TestIsBetweenEnhancedErrors(t *testing.T) {
	cause := NewStd("loop terminated")
	a := New(cause).Category(CategoryDelivery).Build()
	b := New(cause).Category(CategoryDelivery).Build()
	c := New(NewStd("other")).Category(CategoryDelivery).Build()
	categoryOnly := &EnhancedError{Category: CategoryDelivery}

	assert.True(t, Is(a, b))
	assert.False(t, Is(a, c))
	assert.True(t, Is(c, categoryOnly))
}

func TestErrorHooksActivateSlowPath(t *testing.T) {
	t.Cleanup(ClearErrorHooks)

	var mu sync.Mutex
	var seen []*EnhancedError
	AddErrorHook(func(ee *EnhancedError) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, ee)
	})

	ee := New(NewStd("invalid sample rate")).Component("offline").Build()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 1)
	assert.Same(t, ee, seen[0])
	assert.Equal(t, CategoryValidation, ee.Category)
}

func TestSentryReporterDisabled(t *testing.T) {
	reporter := NewSentryReporter(false)
	ee := New(NewStd("x")).Build()

	reporter.ReportError(ee)
	assert.False(t, ee.IsReported())
}

func TestSentryReporterMarksReported(t *testing.T) {
	reporter := NewSentryReporter(true)
	ee := New(NewStd("x")).Component("engine").Category(CategoryEngine).Build()

	reporter.ReportError(ee)
	assert.True(t, ee.IsReported())
}

func TestGenerateErrorTitle(t *testing.T) {
	ee := New(NewStd("boom")).
		Component("offline").
		Category(CategoryMarshalling).
		Context("operation", "start_rendering").
		Build()

	assert.Equal(t, "Offline Marshalling Error Start Rendering", generateErrorTitle(ee))
}

func TestScrubMessageForPrivacy(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"query string", "Error at https://api.example.com?api_key=secret", "Error at https://api.example.com?[REDACTED]"},
		{"token", "failed with token=abc123", "failed with [API_KEY_REDACTED]"},
		{"dsn", "dsn https://deadbeef@o1.ingest.sentry.io/1", "dsn https://[REDACTED]@o1.ingest.sentry.io/1"},
		{"plain", "nothing to hide", "nothing to hide"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, scrubMessageForPrivacy(tt.input))
		})
	}
}

func TestInitSentryEmptyDSN(t *testing.T) {
	require.NoError(t, InitSentry("", "webaudio-go@test"))
	assert.Nil(t, GetTelemetryReporter())
}
