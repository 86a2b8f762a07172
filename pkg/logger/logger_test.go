package logger

import (
	"testing"
)

func TestLogger(t *testing.T) {
	logger := NewDefault()
	if logger == nil {
		t.Fatal("Failed to create default logger")
	}

	logger.Info("test message",
		"key1", "value1",
		"key2", 123,
	)

	contextLogger := logger.With(
		"node", "seneca",
		"round", 7,
	)
	contextLogger.Info("test with context")

	named := logger.Named("scheduler")
	named.Debug("debug message")
	named.Info("info message")
	named.Warn("warning message")
	named.Error("error message")
}

func TestNewWithInvalidLevel(t *testing.T) {
	logger, err := New(&Config{
		Level:      "not-a-level",
		OutputPath: "stdout",
		Format:     "json",
	})
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	// Invalid levels fall back to info rather than failing.
	logger.Info("still works")
}
