package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_WritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "aether.log")
	logger, err := New("info", path)
	require.NoError(t, err)

	logger.Sugar().Infow("ordem executada", "order_id", "o-1")
	logger.Debug("não aparece")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"ordem executada"`)
	assert.Contains(t, string(data), `"order_id":"o-1"`)
	assert.Contains(t, string(data), `"ts":`)
	assert.NotContains(t, string(data), "não aparece")
}

func TestNew_InvalidLevel(t *testing.T) {
	_, err := New("barulhento", "")
	assert.Error(t, err)
}
