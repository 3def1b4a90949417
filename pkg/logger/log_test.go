package logger

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"hybridbook/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesFieldsAndCode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	log, err := NewLogger(WithLoggingLevel(DebugLevel), WithOutputPaths([]string{path}))
	require.NoError(t, err)

	ctx := WithRequestID(context.Background(), "req-1")
	log.WithFields(NewField("pool", "ETH-USDC")).InfoContext(ctx, "order placed", NewField("order_id", 7))
	log.Error(errors.Wrap(errors.ErrOverflow, "swap"), NewField("pool", "ETH-USDC"))
	require.NoError(t, log.Sync())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "order placed", first["message"])
	assert.Equal(t, "ETH-USDC", first["pool"])
	assert.Equal(t, "req-1", first["request_id"])

	var second map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "overflow", second["code"])
	assert.Equal(t, "swap: arithmetic overflow", second["message"])
}

func TestRequestIDAbsent(t *testing.T) {
	assert.Equal(t, "", RequestID(context.Background()))
	assert.Len(t, appendRequestID(context.Background(), nil), 0)
}
