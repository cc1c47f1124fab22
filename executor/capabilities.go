// Package executor implements the Executor Core (EC): the base type every
// template-defined executor derives from, carrying the mechanics
// (progress, cancellation, capability calls, error handling) so template
// authors only write business logic.
package executor

import (
	"context"

	"github.com/deepauras/auroraflow/core"
	"github.com/deepauras/auroraflow/memory"
	"github.com/deepauras/auroraflow/objectstore"
	"github.com/deepauras/auroraflow/ratelimitqueue"
	"github.com/deepauras/auroraflow/repair"
)

// CollectionAccess describes one Document Store collection a template's
// executor may read (and, if not ReadOnly, write), with a per-minute quota
// enforced against accidental runaway loops inside sandboxed code.
type CollectionAccess struct {
	Collection       string
	ReadOnly         bool
	ReadPerMinute    int
	WritePerMinute   int
}

// DeliveryCanceller lets handleError make a best-effort attempt to cancel
// the outstanding WQ delivery for a task that is being retried after
// repair, without the executor package importing orchestrator's queue.
type DeliveryCanceller interface {
	CancelDelivery(ctx context.Context, handle string) error
}

// RetryEnqueuer lets handleError ask the Task Orchestrator to enqueue a
// retry task once a repair has succeeded, again without an import cycle.
type RetryEnqueuer interface {
	EnqueueRetry(ctx context.Context, tenantID, originalTaskID string) (retryTaskID string, err error)
}

// Capabilities is the immutable capability record injected into every
// executor instance (spec §4.4's capability surface). Built with
// functional options, mirroring the teacher's ai/provider.go construction
// idiom, adapted here to assemble an immutable record rather than a
// mutable config struct.
type Capabilities struct {
	TaskStore  core.TaskStore
	Memory     memory.Store
	Objects    objectstore.Store
	AI         core.AIClient
	RepairEng  *repair.Engine
	Logger     core.Logger

	apiQueues     map[string]*ratelimitqueue.Queue
	allowedModels map[string]bool
	defaultModel  string
	collections   []CollectionAccess

	canceller DeliveryCanceller
	retrier   RetryEnqueuer
}

// Option configures a Capabilities record at construction time.
type Option func(*Capabilities)

// WithAPIQueue registers the rate-limited queue used for callAPI/
// streamingFetch calls against provider.
func WithAPIQueue(provider string, q *ratelimitqueue.Queue) Option {
	return func(c *Capabilities) { c.apiQueues[provider] = q }
}

// WithAllowedModels registers the valid-model set callGemini's deterministic
// validator checks a requested model against. An empty set means any model
// passes through unchanged.
func WithAllowedModels(models ...string) Option {
	return func(c *Capabilities) {
		for _, m := range models {
			c.allowedModels[m] = true
		}
	}
}

// WithDefaultModel sets the model callGemini substitutes whenever a
// requested model is absent from the allowed set.
func WithDefaultModel(model string) Option {
	return func(c *Capabilities) { c.defaultModel = model }
}

// WithCollectionAccess grants a template's executor access to one DS
// collection under the given policy.
func WithCollectionAccess(access CollectionAccess) Option {
	return func(c *Capabilities) { c.collections = append(c.collections, access) }
}

// WithDeliveryCanceller wires the WQ-cancellation hook used by handleError
// after a successful repair.
func WithDeliveryCanceller(d DeliveryCanceller) Option {
	return func(c *Capabilities) { c.canceller = d }
}

// WithRetryEnqueuer wires the Task Orchestrator hook used by handleError to
// enqueue a retry task after a successful repair.
func WithRetryEnqueuer(r RetryEnqueuer) Option {
	return func(c *Capabilities) { c.retrier = r }
}

// NewCapabilities constructs a Capabilities record. taskStore, mem, ai,
// objects, and repairEng are the injected service boundaries every
// executor calls through; logger defaults to a no-op if nil.
func NewCapabilities(taskStore core.TaskStore, mem memory.Store, ai core.AIClient, objects objectstore.Store, repairEng *repair.Engine, logger core.Logger, opts ...Option) *Capabilities {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("executor")
	}
	c := &Capabilities{
		TaskStore:     taskStore,
		Memory:        mem,
		Objects:       objects,
		AI:            ai,
		RepairEng:     repairEng,
		Logger:        logger,
		apiQueues:     map[string]*ratelimitqueue.Queue{},
		allowedModels: map[string]bool{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Capabilities) queueFor(provider string) (*ratelimitqueue.Queue, bool) {
	q, ok := c.apiQueues[provider]
	return q, ok
}

// validateModel implements callGemini's deterministic model validator: a
// model in the allowed set passes through; anything else (including an
// empty request) is rewritten to the configured default. Validation never
// fails the task, it only rewrites the model name.
func (c *Capabilities) validateModel(model string) string {
	if len(c.allowedModels) == 0 || c.allowedModels[model] {
		return model
	}
	return c.defaultModel
}

func (c *Capabilities) collectionAccess(collection string) (CollectionAccess, bool) {
	for _, a := range c.collections {
		if a.Collection == collection {
			return a, true
		}
	}
	return CollectionAccess{}, false
}
