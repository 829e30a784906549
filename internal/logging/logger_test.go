package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_LevelAndFormat(t *testing.T) {
	l := New("raffled", "debug", "json")
	assert.Equal(t, logrus.DebugLevel, l.Logger.GetLevel())
	assert.Equal(t, "raffled", l.Service())

	l = New("raffled", "nonsense", "text")
	assert.Equal(t, logrus.InfoLevel, l.Logger.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, l.Logger.Formatter)
}

func TestLogger_ServiceField(t *testing.T) {
	var buf bytes.Buffer
	l := New("raffled", "info", "json")
	l.Logger.SetOutput(&buf)

	l.WithService("keeper").Info("tick")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "keeper", line["service"])
	assert.Equal(t, "tick", line["msg"])
}

func TestLogger_WithContext(t *testing.T) {
	l := NewDiscard("http")
	hook := test.NewLocal(l.Logger)
	l.Logger.SetLevel(logrus.InfoLevel)

	ctx := WithUserID(WithTraceID(context.Background(), "trace-1"), "operator")
	l.WithContext(ctx).Info("request")

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "trace-1", entry.Data["trace_id"])
	assert.Equal(t, "operator", entry.Data["user_id"])
}

func TestLogger_LogSecurityEvent(t *testing.T) {
	l := NewDiscard("http")
	hook := test.NewLocal(l.Logger)
	l.Logger.SetLevel(logrus.InfoLevel)

	l.LogSecurityEvent(context.Background(), "manual_fulfilment", map[string]interface{}{"request_id": 3})

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, "manual_fulfilment", entry.Data["security_event"])
	assert.Equal(t, 3, entry.Data["request_id"])
}

func TestTraceID(t *testing.T) {
	ctx := WithTraceID(context.Background(), "")
	assert.NotEmpty(t, GetTraceID(ctx))
	assert.Empty(t, GetTraceID(context.Background()))
}
