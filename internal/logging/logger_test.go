package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
		want   string
	}{
		{
			name:   "default config",
			config: nil,
			want:   "text",
		},
		{
			name: "json format",
			config: &Config{
				Level:  LevelInfo,
				Format: "json",
				Output: &bytes.Buffer{},
			},
			want: "json",
		},
		{
			name: "text format",
			config: &Config{
				Level:  LevelDebug,
				Format: "text",
				Output: &bytes.Buffer{},
			},
			want: "text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(tt.config)
			if logger == nil {
				t.Error("NewLogger() returned nil")
			}
		})
	}
}

func TestLoggerWithContext(t *testing.T) {
	var buf bytes.Buffer
	config := &Config{
		Level:   LevelDebug,
		Format:  "text",
		Output:  &buf,
		Sync:    true,
		NoColor: true,
	}

	logger := NewLogger(config)

	// Test backend context
	backendLogger := logger.WithBackend(42)
	backendLogger.Info("test message")

	output := buf.String()
	if !strings.Contains(output, "backend_id=42") {
		t.Errorf("Expected backend_id=42 in output, got: %s", output)
	}

	// Test driver context
	buf.Reset()
	ctxLogger := backendLogger.WithContext(1)
	ctxLogger.Info("context message")

	output = buf.String()
	if !strings.Contains(output, "backend_id=42") {
		t.Errorf("Expected backend_id=42 in context logger output, got: %s", output)
	}
	if !strings.Contains(output, "context_id=1") {
		t.Errorf("Expected context_id=1 in output, got: %s", output)
	}
}

func TestLoggerWithSlot(t *testing.T) {
	var buf bytes.Buffer
	config := &Config{
		Level:   LevelDebug,
		Format:  "text",
		Output:  &buf,
		Sync:    true,
		NoColor: true,
	}

	logger := NewLogger(config)
	slotLogger := logger.WithSlot(123, "READV")
	slotLogger.Debug("processing handle")

	output := buf.String()
	if !strings.Contains(output, "slot=123") {
		t.Errorf("Expected slot=123 in output, got: %s", output)
	}
	if !strings.Contains(output, "op=READV") {
		t.Errorf("Expected op=READV, got: %s", output)
	}
}

func TestLoggerWithError(t *testing.T) {
	var buf bytes.Buffer
	config := &Config{
		Level:   LevelDebug,
		Format:  "text",
		Output:  &buf,
		Sync:    true,
		NoColor: true,
	}

	logger := NewLogger(config)
	testErr := errors.New("test error")
	errorLogger := logger.WithError(testErr)
	errorLogger.Error("operation failed")
	
	output := buf.String()
	if !strings.Contains(output, "test error") {
		t.Errorf("Expected 'test error' in output, got: %s", output)
	}
}

func TestGlobalLoggerFunctions(t *testing.T) {
	var buf bytes.Buffer
	config := &Config{
		Level:   LevelDebug,
		Format:  "text",
		Output:  &buf,
		Sync:    true,
		NoColor: true,
	}

	SetDefault(NewLogger(config))
	
	// Test debug message (should appear since we set LevelDebug)
	Debug("debug message", "key", "value")
	output := buf.String()
	if !strings.Contains(output, "debug message") {
		t.Errorf("Expected debug message, got: %s", output)
	}
	if !strings.Contains(output, "key=value") {
		t.Errorf("Expected key=value, got: %s", output)
	}
	
	// Test info message
	buf.Reset()
	Info("info message")
	output = buf.String()
	if !strings.Contains(output, "info message") {
		t.Errorf("Expected info message, got: %s", output)
	}
	
	// Test warn message
	buf.Reset()
	Warn("warning message")
	output = buf.String()
	if !strings.Contains(output, "warning message") {
		t.Errorf("Expected warning message, got: %s", output)
	}
	
	// Test error message
	buf.Reset()
	Error("error message") 
	output = buf.String()
	if !strings.Contains(output, "error message") {
		t.Errorf("Expected error message, got: %s", output)
	}
}