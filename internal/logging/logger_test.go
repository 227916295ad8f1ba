package logging

import (
	"bytes"
	"encoding/json"
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
		buf.Reset()
		logger.Debug("debug msg")
		if !strings.Contains(buf.String(), "debug msg") {
			t.Error("debug logging failed")
		}

		buf.Reset()
		logger.Warn("warn msg")
		if !strings.Contains(buf.String(), "warn msg") {
			t.Error("warn logging failed")
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
		logger.WithComponent("platform").Info("msg")
		if !strings.Contains(buf.String(), "platform") {
			t.Error("WithComponent missing component field")
		}
	})

	t.Run("WithOp", func(t *testing.T) {
		buf.Reset()
		logger.WithOp("enslave", "abc-123").Info("msg")
		var data map[string]any
		if err := json.Unmarshal(buf.Bytes(), &data); err != nil {
			t.Fatalf("Failed to parse JSON log: %v", err)
		}
		if data["op"] != "enslave" || data["op_id"] != "abc-123" {
			t.Errorf("WithOp fields missing: %v", data)
		}
	})

	t.Run("WithFields", func(t *testing.T) {
		buf.Reset()
		logger.WithFields(map[string]any{"handle": 7}).Info("msg")
		if !strings.Contains(buf.String(), "handle") {
			t.Error("WithFields missing fields")
		}
	})
}

func TestConsoleHandler(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelInfo, Output: &buf})

	l.WithComponent("Cache").Info("link added", "name", "nm test", "handle", 3)
	line := buf.String()

	if !strings.Contains(line, "[info] cache: link added") {
		t.Errorf("unexpected header in %q", line)
	}
	if !strings.Contains(line, `name="nm test"`) {
		t.Errorf("values with spaces should be quoted: %q", line)
	}
	if !strings.Contains(line, "handle=3") {
		t.Errorf("missing handle attr: %q", line)
	}
	if !strings.Contains(line, "linkd[") {
		t.Errorf("missing process name: %q", line)
	}

	buf.Reset()
	l.WithComponent("platform").WithOp("enslave", "1b4e28ba-2fa1-11d2-883f-0016d3cca427").Info("enslaving", "master", 2, "reason", "")
	line = buf.String()
	if !strings.Contains(line, "[info] platform enslave#1b4e28ba: enslaving master=2") {
		t.Errorf("operation not promoted to header: %q", line)
	}
	if strings.Contains(line, "op_id=") {
		t.Errorf("op_id should not repeat as an attribute: %q", line)
	}
	if !strings.Contains(line, `reason=""`) {
		t.Errorf("empty values should be quoted: %q", line)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"", LevelInfo, false},
		{"WARN", LevelWarn, false},
		{"error", LevelError, false},
		{"verbose", LevelInfo, true},
	}
	for _, tc := range tests {
		got, err := ParseLevel(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseLevel(%q) err = %v, wantErr %v", tc.in, err, tc.wantErr)
		}
		if got != tc.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestDefaultLogger(t *testing.T) {
	if Default() == nil {
		t.Fatal("Default logger is nil")
	}

	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Output = &buf
	SetDefault(New(cfg))

	Info("info")
	Warn("warn")
	Errorf("error %s", "formatted")
	WithComponent("comp").Info("comp msg")

	if buf.Len() == 0 {
		t.Error("Default logger captured no output")
	}
}
