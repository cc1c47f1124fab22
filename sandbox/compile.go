package sandbox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"plugin"
	"strings"
	"sync"
	"time"

	"github.com/deepauras/auroraflow/core"
)

// ExecutorFactory constructs a template-defined executor instance given its
// injected capability record. Both sides of this boundary are interface{}
// on purpose: sandbox never imports the executor package's concrete types
// (that dependency runs the other way, through the orchestrator, which
// imports both and performs the type assertion), keeping the build graph
// acyclic the way TR -> sandbox already requires.
type ExecutorFactory func(capabilities interface{}) (interface{}, error)

// CompileResult is a cached compiled artifact.
type CompileResult struct {
	Factory   ExecutorFactory
	CachedAt  time.Time
	SharedLib string
}

// Compiler is the Sandbox Runtime's Compile operation: it shells `go build
// -buildmode=plugin` the way the teacher's process-oriented configuration
// code in core/config.go reaches for os/exec-adjacent host interaction, and
// caches the resulting plugin by (templateId, template.updatedAt).
type Compiler struct {
	buildDir string
	policy   *PolicyConfig
	logger   core.Logger

	mu    sync.Mutex
	cache map[string]*CompileResult
}

// NewCompiler constructs a Compiler. buildDir holds generated source and
// compiled .so artifacts; it is created if missing.
func NewCompiler(buildDir string, policy *PolicyConfig, logger core.Logger) (*Compiler, error) {
	if policy == nil {
		policy = DefaultPolicyConfig()
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("sandbox")
	}
	if err := os.MkdirAll(buildDir, 0o755); err != nil {
		return nil, fmt.Errorf("sandbox: create build dir: %w", err)
	}
	return &Compiler{
		buildDir: buildDir,
		policy:   policy,
		logger:   logger,
		cache:    map[string]*CompileResult{},
	}, nil
}

func cacheKey(templateID string, updatedAt time.Time) string {
	return templateID + "@" + updatedAt.UTC().Format(time.RFC3339Nano)
}

// Compile produces an ExecutorFactory for a validated script, reusing a
// cached artifact when (templateID, updatedAt) was already built.
func (c *Compiler) Compile(ctx context.Context, templateID string, updatedAt time.Time, script string) (*CompileResult, error) {
	key := cacheKey(templateID, updatedAt)

	c.mu.Lock()
	if cached, ok := c.cache[key]; ok {
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	result, err := c.build(ctx, templateID, key, script)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[key] = result
	c.mu.Unlock()
	return result, nil
}

// Invalidate drops every cached artifact for templateID, regardless of
// which updatedAt revision it was keyed under, per the Template
// Repository's "flush compiled-code caches for this template" invariant.
func (c *Compiler) Invalidate(templateID string) {
	prefix := templateID + "@"
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.cache {
		if strings.HasPrefix(k, prefix) {
			delete(c.cache, k)
		}
	}
}

func (c *Compiler) build(ctx context.Context, templateID, key, script string) (*CompileResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.policy.CompileTimeout)
	defer cancel()

	sum := sha256.Sum256([]byte(key))
	dir := filepath.Join(c.buildDir, hex.EncodeToString(sum[:16]))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("sandbox: prepare build dir for %s: %w", templateID, err)
	}

	srcPath := filepath.Join(dir, "template.go")
	if err := os.WriteFile(srcPath, []byte(script), 0o644); err != nil {
		return nil, fmt.Errorf("sandbox: write source for %s: %w", templateID, err)
	}

	soPath := filepath.Join(dir, "template.so")
	cmd := exec.CommandContext(ctx, "go", "build", "-buildmode=plugin", "-o", soPath, srcPath)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		c.logger.Error("sandbox: template build failed", map[string]interface{}{
			"template_id": templateID,
			"output":      string(out),
			"error":       err.Error(),
		})
		return nil, fmt.Errorf("sandbox: build %s: %w: %s", templateID, err, string(out))
	}

	p, err := plugin.Open(soPath)
	if err != nil {
		return nil, fmt.Errorf("sandbox: open plugin for %s: %w", templateID, err)
	}
	sym, err := p.Lookup("NewExecutor")
	if err != nil {
		return nil, fmt.Errorf("sandbox: %s does not export NewExecutor: %w", templateID, err)
	}
	factory, ok := sym.(func(interface{}) (interface{}, error))
	if !ok {
		return nil, fmt.Errorf("sandbox: %s's NewExecutor has an unexpected signature", templateID)
	}

	return &CompileResult{
		Factory:   factory,
		CachedAt:  time.Now(),
		SharedLib: soPath,
	}, nil
}
