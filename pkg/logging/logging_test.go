package logging

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.log")
	logger, err := New(Options{Level: "debug", File: path})
	require.NoError(t, err)

	logger.Info("hello", zap.String("job", "j1"))
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"level":"[INFO]"`)
	assert.Contains(t, string(data), `"message":"hello"`)
	assert.Contains(t, string(data), `"job":"j1"`)
}

func TestNewInvalidLevel(t *testing.T) {
	_, err := New(Options{Level: "loud"})
	assert.Error(t, err)
}

func TestEncoders(t *testing.T) {
	enc := &sliceEncoder{}
	SyslogTimeEncoder(time.Date(2024, 1, 15, 2, 0, 0, 0, time.UTC), enc)
	CustomLevelEncoder(zapcore.WarnLevel, enc)
	assert.Equal(t, []string{"2024-01-15 02:00:00", "[WARN]"}, enc.elems)
}

type sliceEncoder struct {
	zapcore.PrimitiveArrayEncoder
	elems []string
}

func (s *sliceEncoder) AppendString(v string) { s.elems = append(s.elems, v) }
