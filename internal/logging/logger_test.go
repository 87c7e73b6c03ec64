package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := Config{
		Level:  LevelDebug,
		Output: &buf,
		JSON:   true,
	}

	logger := New(cfg)
	if logger == nil {
		t.Fatal("New logger should not be nil")
	}

	t.Run("Levels", func(t *testing.T) {
		for _, msg := range []string{"debug msg", "info msg", "warn msg", "error msg"} {
			buf.Reset()
			switch msg {
			case "debug msg":
				logger.Debug(msg)
			case "info msg":
				logger.Info(msg)
			case "warn msg":
				logger.Warn(msg)
			case "error msg":
				logger.Error(msg)
			}
			if !strings.Contains(buf.String(), msg) {
				t.Errorf("message %q not logged", msg)
			}
		}
	})

	t.Run("DynamicLevel", func(t *testing.T) {
		logger.SetLevel(LevelError)
		if logger.GetLevel() != LevelError {
			t.Error("SetLevel failed")
		}

		buf.Reset()
		logger.Info("should not appear")
		if buf.Len() > 0 {
			t.Error("Logged info message when level was Error")
		}

		logger.SetLevel(LevelDebug)
	})

	t.Run("WithComponent", func(t *testing.T) {
		buf.Reset()
		l := logger.WithComponent("sync")
		l.Info("msg")
		if !strings.Contains(buf.String(), "sync") {
			t.Error("WithComponent missing component field")
		}
	})

	t.Run("WithFields", func(t *testing.T) {
		buf.Reset()
		l := logger.WithFields(map[string]any{"country": "KR"})
		l.Info("msg")
		if !strings.Contains(buf.String(), "country") || !strings.Contains(buf.String(), "KR") {
			t.Error("WithFields missing field")
		}
	})
}

func TestConsoleHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelInfo, Output: &buf})

	logger.WithComponent("fetch").Info("downloaded", "bytes", 1024)

	out := buf.String()
	if !strings.Contains(out, "fetch:") {
		t.Errorf("component header missing: %q", out)
	}
	if !strings.Contains(out, "bytes=1024") {
		t.Errorf("attribute missing: %q", out)
	}
	if !strings.Contains(out, "[info]") {
		t.Errorf("level marker missing: %q", out)
	}
}

func TestSetDefaultBeforeFirstUse(t *testing.T) {
	var buf bytes.Buffer
	custom := New(Config{Level: LevelDebug, Output: &buf, JSON: true})

	// Installing a logger before anything has called Default must stick;
	// the lazy initialization must not replace it afterwards.
	SetDefault(custom)
	if Default() != custom {
		t.Fatal("Default() returned a fresh logger, discarding the one installed with SetDefault")
	}

	Default().Debug("configured level active")
	if !strings.Contains(buf.String(), "configured level active") {
		t.Error("debug output missing: installed logger's level was not honored")
	}
}
