package log

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func TestModuleGating(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, InitLoggerTo(&buf, "trace", false))
	defer SetDefault(NewLogger(DiscardHandler()))

	Debug(VMMonitoring, "hidden step")
	assert.Empty(t, buf.String(), "debug output of a disabled module must be dropped")

	EnableModule(VMMonitoring)
	defer DisableModule(VMMonitoring)
	Debug(VMMonitoring, "visible step", "pc", 7)
	assert.Contains(t, buf.String(), "visible step")
	assert.Contains(t, buf.String(), "module=vm_mod")
	assert.Contains(t, buf.String(), "pc=7")

	buf.Reset()
	Info(ExecMonitoring, "always on")
	assert.Contains(t, buf.String(), "INFO ")
}

func TestParseLevel(t *testing.T) {
	for _, s := range []string{"trace", "DEBUG", "info", "warning", "error", "crit"} {
		_, err := ParseLevel(s)
		require.NoError(t, err, s)
	}
	_, err := ParseLevel("loud")
	require.Error(t, err)
}

func TestEnableModulesAll(t *testing.T) {
	EnableModules("all")
	defer func() {
		for _, m := range []string{ExecMonitoring, ValidateMonitoring, SyscallMonitoring, VMMonitoring, StateMonitoring, StorageMonitoring} {
			DisableModule(m)
		}
	}()
	assert.True(t, isModuleEnabled(SyscallMonitoring))
	assert.True(t, isModuleEnabled(StorageMonitoring))
}

func TestDebugContextAddsSpanIDs(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, InitLoggerTo(&buf, "debug", false))
	defer SetDefault(NewLogger(DiscardHandler()))
	EnableModule(ExecMonitoring)
	defer DisableModule(ExecMonitoring)

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 2, 3},
		SpanID:     trace.SpanID{4, 5, 6},
		TraceFlags: trace.FlagsSampled,
	})
	DebugContext(trace.ContextWithSpanContext(context.Background(), sc), ExecMonitoring, "with span")
	assert.Contains(t, buf.String(), "trace_id="+sc.TraceID().String())
	assert.Contains(t, buf.String(), "span_id="+sc.SpanID().String())

	buf.Reset()
	DebugContext(context.Background(), ExecMonitoring, "without span")
	assert.Contains(t, buf.String(), "without span")
	assert.NotContains(t, buf.String(), "trace_id")
}
