package logging

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	_, err := NewLogger("loud", false)
	require.Error(t, err)
}

func TestNewLoggerHonoursLevel(t *testing.T) {
	logger, err := NewLogger("warn", false)
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zap.InfoLevel))
	assert.True(t, logger.Core().Enabled(zap.WarnLevel))
}

func TestWithOperationAddsFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	WithOperation(zap.New(core), "usecase.classify", "req-1").Info("done")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "usecase.classify", fields["operation"])
	assert.Equal(t, "req-1", fields["request_id"])
}

func TestWithOperationOmitsEmptyRequestID(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	WithOperation(zap.New(core), "startup", "").Info("done")

	_, ok := logs.All()[0].ContextMap()["request_id"]
	assert.False(t, ok)
}

func TestOperationErrorFormatting(t *testing.T) {
	base := errors.New("boom")

	assert.Nil(t, NewOperationError("op", "", nil))
	assert.Equal(t, "op: boom", NewOperationError("op", "", base).Error())
	assert.Equal(t, "op (request_id=r): boom", NewOperationError("op", "r", base).Error())
	assert.ErrorIs(t, NewOperationError("op", "r", base), base)
}

func TestOperationOfReturnsInnermost(t *testing.T) {
	inner := NewOperationError("usecase.decode_image", "r", errors.New("bad bytes"))
	outer := fmt.Errorf("handler: %w", NewOperationError("usecase.predict", "r", inner))

	assert.Equal(t, "usecase.decode_image", OperationOf(outer))
	assert.Equal(t, "", OperationOf(errors.New("plain")))
}
