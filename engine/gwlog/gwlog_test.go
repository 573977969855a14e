package gwlog

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/bmizerany/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DebugLevel, ParseLevel("debug"))
	assert.Equal(t, InfoLevel, ParseLevel("info"))
	assert.Equal(t, WarnLevel, ParseLevel("warn"))
	assert.Equal(t, WarnLevel, ParseLevel("WARNING"))
	assert.Equal(t, ErrorLevel, ParseLevel("error"))
	assert.Equal(t, PanicLevel, ParseLevel("panic"))
	assert.Equal(t, FatalLevel, ParseLevel("fatal"))
	assert.Equal(t, DebugLevel, ParseLevel("nonsense"))
}

func TestGWLog(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)
	SetSource("gwlog_test")
	defer SetSource("")

	SetLevel(DebugLevel)
	Debugf("this is a debug %d", 1)
	SetLevel(InfoLevel)
	Debugf("SHOULD NOT SEE THIS!")
	Infof("this is an info %d", 2)
	Warnf("this is a warning %d", 3)
	TraceError("this is a trace error %d", 4)
	func() {
		defer func() {
			_ = recover()
		}()
		Panicf("this is a panic %d", 5)
	}()
	SetLevel(DebugLevel)

	out := buf.String()
	assert.T(t, strings.Contains(out, "this is a debug 1"), out)
	assert.T(t, !strings.Contains(out, "SHOULD NOT SEE THIS"), out)
	assert.T(t, strings.Contains(out, "this is an info 2"), out)
	assert.T(t, strings.Contains(out, "this is a trace error 4"), out)
	assert.T(t, strings.Contains(out, "gwlog_test"), out)
}
