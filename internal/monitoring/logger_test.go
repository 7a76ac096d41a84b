package monitoring

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...interface{}) {
		called = true
	})
	Logf("test message")
	if !called {
		t.Error("Custom logger was not called")
	}

	// nil installs a no-op logger
	called = false
	SetLogger(nil)
	Logf("test")
	if called {
		t.Error("No-op logger should not have triggered callback")
	}
}

func TestLogf_Default(t *testing.T) {
	if Logf == nil {
		t.Error("Logf should not be nil by default")
	}
}

func TestUseLogrus(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var buf bytes.Buffer
	logger := NewLogger(&buf, false)
	UseLogrus(logger)
	Logf("session %s started", "abc")

	if !strings.Contains(buf.String(), "session abc started") {
		t.Errorf("logrus output = %q, want the formatted message", buf.String())
	}
	if !strings.Contains(buf.String(), "level=info") {
		t.Errorf("logrus output = %q, want info level", buf.String())
	}
}

func TestNewLogger_Verbose(t *testing.T) {
	var buf bytes.Buffer
	if got := NewLogger(&buf, true).GetLevel(); got != logrus.DebugLevel {
		t.Errorf("verbose level = %v, want debug", got)
	}
	if got := NewLogger(&buf, false).GetLevel(); got != logrus.InfoLevel {
		t.Errorf("default level = %v, want info", got)
	}
}

func TestUseLogrus_Nil(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	UseLogrus(nil)
	Logf("dropped")
}
