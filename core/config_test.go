package core

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func newTestLogger(buf *bytes.Buffer, format string, dev DevelopmentConfig) Logger {
	return &ProductionLogger{
		level:       "info",
		debug:       dev.DebugLogging,
		serviceName: "test-service",
		component:   "framework",
		format:      format,
		output:      buf,
	}
}

func TestProductionLoggerJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf, "json", DevelopmentConfig{})

	logger.Info("task dispatched", map[string]interface{}{"task_id": "t-1"})

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output should be valid JSON: %v", err)
	}
	if entry["level"] != "INFO" {
		t.Errorf("expected level INFO, got %v", entry["level"])
	}
	if entry["service"] != "test-service" {
		t.Errorf("expected service test-service, got %v", entry["service"])
	}
	if entry["component"] != "framework" {
		t.Errorf("expected component framework, got %v", entry["component"])
	}
	if entry["task_id"] != "t-1" {
		t.Errorf("expected task_id field to be carried through, got %v", entry["task_id"])
	}
}

func TestProductionLoggerTextOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf, "text", DevelopmentConfig{})

	logger.Error("dispatch failed", map[string]interface{}{"reason": "timeout"})

	out := buf.String()
	if !strings.Contains(out, "[ERROR]") {
		t.Errorf("expected level tag in text output, got %q", out)
	}
	if !strings.Contains(out, "test-service/framework") {
		t.Errorf("expected service/component tag in text output, got %q", out)
	}
	if !strings.Contains(out, "reason=timeout") {
		t.Errorf("expected field rendered in text output, got %q", out)
	}
}

func TestProductionLoggerDebugGating(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf, "json", DevelopmentConfig{})
	logger.Debug("should not appear", nil)
	if buf.Len() != 0 {
		t.Errorf("expected debug log to be suppressed, got %q", buf.String())
	}

	buf.Reset()
	debugLogger := newTestLogger(&buf, "json", DevelopmentConfig{DebugLogging: true})
	debugLogger.Debug("should appear", nil)
	if buf.Len() == 0 {
		t.Error("expected debug log to be emitted when DebugLogging is enabled")
	}
}

func TestProductionLoggerWithComponent(t *testing.T) {
	parent := NewProductionLogger(
		LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
		DevelopmentConfig{},
		"test-service",
	)

	cal, ok := parent.(ComponentAwareLogger)
	if !ok {
		t.Fatal("ProductionLogger must implement ComponentAwareLogger")
	}

	child := cal.WithComponent("orchestrator")

	var buf bytes.Buffer
	childPL, ok := child.(*ProductionLogger)
	if !ok {
		t.Fatal("WithComponent should return a *ProductionLogger")
	}
	childPL.output = &buf
	childPL.Info("dispatching", nil)

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output should be valid JSON: %v", err)
	}
	if entry["component"] != "orchestrator" {
		t.Errorf("expected child component orchestrator, got %v", entry["component"])
	}

	parentPL := parent.(*ProductionLogger)
	if parentPL.component == childPL.component {
		t.Error("WithComponent should not mutate the parent logger's component")
	}
}

func TestNewProductionLoggerDefaults(t *testing.T) {
	logger := NewProductionLogger(
		LoggingConfig{Level: "debug", Format: "text", Output: "stderr"},
		DevelopmentConfig{},
		"svc",
	)

	pl, ok := logger.(*ProductionLogger)
	if !ok {
		t.Fatal("expected *ProductionLogger")
	}
	if !pl.debug {
		t.Error("level=debug should enable debug logging even without DevelopmentConfig.DebugLogging")
	}
	if pl.output == nil {
		t.Error("expected output writer to be set")
	}
}
