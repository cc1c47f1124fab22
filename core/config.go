package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// LoggingConfig contains logging configuration.
// Supports structured (JSON) and human-readable (text) formats.
// In Kubernetes environments, JSON format is recommended for log aggregation.
type LoggingConfig struct {
	Level      string `json:"level" env:"GOMIND_LOG_LEVEL" default:"info"`
	Format     string `json:"format" env:"GOMIND_LOG_FORMAT" default:"json"`
	Output     string `json:"output" env:"GOMIND_LOG_OUTPUT" default:"stdout"`
	TimeFormat string `json:"time_format" env:"GOMIND_LOG_TIME_FORMAT" default:"2006-01-02T15:04:05.000Z07:00"`
}

// DevelopmentConfig contains settings for local development and testing.
// When Enabled=true, the framework uses development-friendly defaults:
// human-readable logs, mock services, and debug logging.
//
// WARNING: Never enable development mode in production!
type DevelopmentConfig struct {
	Enabled       bool `json:"enabled" env:"GOMIND_DEV_MODE" default:"false"`
	MockAI        bool `json:"mock_ai" env:"GOMIND_MOCK_AI" default:"false"`
	MockDiscovery bool `json:"mock_discovery" env:"GOMIND_MOCK_DISCOVERY" default:"false"`
	DebugLogging  bool `json:"debug_logging" env:"GOMIND_DEBUG" default:"false"`
	PrettyLogs    bool `json:"pretty_logs" env:"GOMIND_PRETTY_LOGS" default:"false"`
}

// ============================================================================
// ProductionLogger Implementation
// ============================================================================

// ProductionLogger is the framework's concrete Logger/ComponentAwareLogger.
// It writes structured (JSON) or human-readable log lines to an io.Writer,
// tagging each line with a component name so operators can filter by
// subsystem (see ComponentAwareLogger's doc comment for the convention).
type ProductionLogger struct {
	level       string
	debug       bool
	serviceName string
	component   string
	format      string
	output      io.Writer
}

// NewProductionLogger creates a logger from LoggingConfig.
func NewProductionLogger(logging LoggingConfig, dev DevelopmentConfig, serviceName string) Logger {
	var output io.Writer = os.Stdout
	if logging.Output == "stderr" {
		output = os.Stderr
	}

	return &ProductionLogger{
		level:       strings.ToLower(logging.Level),
		debug:       dev.DebugLogging || logging.Level == "debug",
		serviceName: serviceName,
		component:   "framework",
		format:      logging.Format,
		output:      output,
	}
}

// WithComponent returns a logger that tags every line with the given
// component name, leaving the shared level/format/output configuration
// untouched. Safe to chain: WithComponent("a").WithComponent("a/b").
func (p *ProductionLogger) WithComponent(component string) Logger {
	clone := *p
	clone.component = component
	return &clone
}

func (p *ProductionLogger) Info(msg string, fields map[string]interface{}) {
	p.logEvent("INFO", msg, fields, nil)
}

func (p *ProductionLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent("INFO", msg, fields, ctx)
}

func (p *ProductionLogger) Error(msg string, fields map[string]interface{}) {
	p.logEvent("ERROR", msg, fields, nil)
}

func (p *ProductionLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent("ERROR", msg, fields, ctx)
}

func (p *ProductionLogger) Warn(msg string, fields map[string]interface{}) {
	p.logEvent("WARN", msg, fields, nil)
}

func (p *ProductionLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent("WARN", msg, fields, ctx)
}

func (p *ProductionLogger) Debug(msg string, fields map[string]interface{}) {
	if p.debug {
		p.logEvent("DEBUG", msg, fields, nil)
	}
}

func (p *ProductionLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	if p.debug {
		p.logEvent("DEBUG", msg, fields, ctx)
	}
}

// logEvent writes one log line. ctx is accepted for call-site symmetry with
// the *WithContext methods but carries no request-correlation fields today;
// nothing in this tree propagates trace baggage through context.Context.
func (p *ProductionLogger) logEvent(level, msg string, fields map[string]interface{}, ctx context.Context) {
	timestamp := time.Now().Format(time.RFC3339)

	if p.format == "json" {
		logEntry := map[string]interface{}{
			"timestamp": timestamp,
			"level":     level,
			"service":   p.serviceName,
			"component": p.component,
			"message":   msg,
		}

		for k, v := range fields {
			logEntry[k] = v
		}

		if data, err := json.Marshal(logEntry); err == nil {
			fmt.Fprintln(p.output, string(data))
		}
	} else {
		var fieldStr strings.Builder
		if len(fields) > 0 {
			fieldStr.WriteString(" ")
			for k, v := range fields {
				fieldStr.WriteString(fmt.Sprintf("%s=%v ", k, v))
			}
		}

		fmt.Fprintf(p.output, "%s [%s] [%s/%s] %s%s\n",
			timestamp, level, p.serviceName, p.component, msg, fieldStr.String())
	}
}
