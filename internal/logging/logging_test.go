package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zap.DebugLevel,
		" WARN ":  zap.WarnLevel,
		"warning": zap.WarnLevel,
		"error":   zap.ErrorLevel,
		"":        zap.InfoLevel,
		"chatty":  zap.InfoLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), "level %q", in)
	}
}

func TestContextFieldsAreMerged(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	SetLogger(zap.New(core).Sugar())
	t.Cleanup(func() { SetLogger(nil) })

	ctx := WithFields(context.Background(), "request.id", "abc")
	ctx = WithFields(ctx, "source", "test")
	InfowCtx(ctx, "hello", "k", 1)

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "abc", fields["request.id"])
	assert.Equal(t, "test", fields["source"])
	assert.EqualValues(t, 1, fields["k"])
}

func TestNoopLoggerBeforeInit(t *testing.T) {
	SetLogger(nil)
	if sugar == nil {
		_, ok := GetLogger().(noopLogger)
		assert.True(t, ok)
	}
	// must not panic
	Warnw("nothing configured")
	assert.NoError(t, Sync())
}
