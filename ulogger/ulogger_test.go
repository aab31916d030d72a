package ulogger

import (
	"bytes"
	"testing"

	"github.com/ordishs/gocore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZeroLoggerLevels(t *testing.T) {
	buf := &bytes.Buffer{}

	logger := New("cs", WithWriter(buf), WithLevel("WARN"))
	require.Equal(t, int(gocore.WARN), logger.LogLevel())

	logger.Infof("hidden %d", 1)
	logger.Warnf("shown %d", 2)

	assert.NotContains(t, buf.String(), "hidden 1")
	assert.Contains(t, buf.String(), "shown 2")

	logger.SetLogLevel("debug")
	assert.Equal(t, int(gocore.DEBUG), logger.LogLevel())
}

func TestZeroLoggerDuplicate(t *testing.T) {
	buf := &bytes.Buffer{}
	other := &bytes.Buffer{}

	logger := New("cs", WithWriter(buf))
	dup := logger.Duplicate(WithWriter(other), WithLevel("ERROR"))

	dup.Warnf("dropped")
	dup.Errorf("kept")
	logger.Infof("parent")

	assert.NotContains(t, other.String(), "dropped")
	assert.Contains(t, other.String(), "kept")
	assert.Contains(t, buf.String(), "parent")
	assert.NotContains(t, buf.String(), "kept")
}

func TestChildLoggerKeepsWriter(t *testing.T) {
	buf := &bytes.Buffer{}

	logger := New("parent", WithWriter(buf))
	child := logger.New("child")
	child.Infof("from child")

	assert.Contains(t, buf.String(), "from child")
}

func TestTestLogger(t *testing.T) {
	var l Logger = TestLogger{}
	l.Errorf("nothing %s", "happens")
	assert.Equal(t, l, l.New("x"))
}

func TestGoCoreLogger(t *testing.T) {
	logger := New("cs", WithLoggerType("gocore"), WithLevel("WARN"))
	require.IsType(t, &GoCoreLogger{}, logger)
	assert.Equal(t, int(gocore.WARN), logger.LogLevel())

	assert.Equal(t, int(gocore.WARN), logger.New("child").LogLevel())
	assert.Equal(t, int(gocore.DEBUG), logger.Duplicate(WithLevel("DEBUG")).LogLevel())
}

func TestShortCaller(t *testing.T) {
	assert.Equal(t, "chainstate/connect.go:10", shortCaller("/a/b/c/d/services/chainstate/connect.go:10"))
	assert.Equal(t, "x.go:1", shortCaller("x.go:1"))
}
