package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateID(t *testing.T) {
	a := GenerateID()
	b := GenerateID()

	assert.Len(t, a, 8)
	assert.NotEqual(t, a, b)
}

func TestInitRejectsBadConfig(t *testing.T) {
	assert.Error(t, Init(Config{Level: "loud"}))
	assert.Error(t, Init(Config{Level: "info", Format: "xml"}))
}

func TestInitAndLog(t *testing.T) {
	require.NoError(t, Init(Config{Level: "debug", Format: "json"}))
	t.Cleanup(func() {
		_ = Init(Config{Level: "info", Format: "console"})
	})

	l := New("test")
	assert.NotPanics(t, func() {
		l.Debug(GenerateID(), "debug %d", 1)
		l.Info(GenerateID(), "info %s", "x")
		l.WarnBg("warn")
		l.ErrorBg("error %v", assert.AnError)
		l.Log("id", "unknown-level", "falls back to info")
	})
	Sync()
}
