package system

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recording(name string, log *[]string, startErr error) Func {
	return Func{
		ServiceName: name,
		OnStart: func(context.Context) error {
			*log = append(*log, "start "+name)
			return startErr
		},
		OnStop: func(context.Context) error {
			*log = append(*log, "stop "+name)
			return nil
		},
	}
}

func TestManagerOrder(t *testing.T) {
	var log []string
	m := NewManager()
	require.NoError(t, m.Register(recording("a", &log, nil)))
	require.NoError(t, m.Register(recording("b", &log, nil)))
	assert.Error(t, m.Register(recording("a", &log, nil)))
	assert.Error(t, m.Register(Func{}))

	ctx := context.Background()
	require.NoError(t, m.Start(ctx))
	assert.ErrorIs(t, m.Start(ctx), ErrAlreadyStarted)
	assert.ErrorIs(t, m.Register(recording("c", &log, nil)), ErrAlreadyStarted)
	require.NoError(t, m.Stop(ctx))
	require.NoError(t, m.Stop(ctx))

	assert.Equal(t, []string{"start a", "start b", "stop b", "stop a"}, log)
	assert.Equal(t, []string{"a", "b"}, m.Names())
}

func TestManagerStartFailureRollsBack(t *testing.T) {
	var log []string
	boom := errors.New("boom")
	m := NewManager()
	require.NoError(t, m.Register(recording("a", &log, nil)))
	require.NoError(t, m.Register(recording("b", &log, boom)))
	require.NoError(t, m.Register(recording("c", &log, nil)))

	err := m.Start(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"start a", "start b", "stop a"}, log)
}

func TestFuncNilHooks(t *testing.T) {
	f := Func{ServiceName: "noop"}
	assert.NoError(t, f.Start(context.Background()))
	assert.NoError(t, f.Stop(context.Background()))
}
