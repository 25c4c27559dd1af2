package logger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type settings struct{ level, output, file string }

func (s settings) GetLevel() string  { return s.level }
func (s settings) GetOutput() string { return s.output }
func (s settings) GetFile() string   { return s.file }

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLogLevel("DEBUG"))
	assert.Equal(t, WARN, ParseLogLevel("warning"))
	assert.Equal(t, ERROR, ParseLogLevel("error"))
	assert.Equal(t, INFO, ParseLogLevel("nonsense"))
}

func TestJSONOutputAndLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewWithWriter(WARN, zapcore.AddSync(&buf))
	require.NoError(t, err)

	l.Info("dropped %d", 1)
	l.With(zap.Int64("campaign_id", 7)).Warn("campaign %d expired", 7)
	l.Sync()

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "campaign 7 expired", entry["message"])
	assert.EqualValues(t, 7, entry["campaign_id"])
}

func TestSetupWithFileOutput(t *testing.T) {
	prev := defaultLogger
	t.Cleanup(func() { defaultLogger = prev })

	path := filepath.Join(t.TempDir(), "app.log")
	require.NoError(t, Setup(settings{level: "info", output: "file", file: path}))

	Info("hello %s", "file")
	Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello file")
}

func TestFileRotationRequiresPath(t *testing.T) {
	_, err := NewWithFileRotation(INFO, "")
	assert.Error(t, err)
}

func TestCallerPointsAtCallSite(t *testing.T) {
	prev := defaultLogger
	t.Cleanup(func() { defaultLogger = prev })

	var buf bytes.Buffer
	l, err := NewWithWriter(INFO, zapcore.AddSync(&buf))
	require.NoError(t, err)
	defaultLogger = l

	_, _, line, _ := runtime.Caller(0)
	With(zap.Int64("campaign_id", 1)).Info("with fields")
	Info("plain")
	With(zap.Int64("campaign_id", 1)).With(zap.String("op", "refund")).Warn("nested")
	Sync()

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 3)

	for i, raw := range lines {
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(raw, &entry))
		assert.Equal(t, fmt.Sprintf("logger/logger_test.go:%d", line+1+i), entry["caller"])
	}
}
