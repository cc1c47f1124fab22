package executor

import (
	"context"

	"github.com/deepauras/auroraflow/core"
)

// Executor is the contract a compiled template's executor satisfies.
// sandbox.Compiler's plugin lookup returns an ExecutorFactory typed
// `func(interface{}) (interface{}, error)`; the Task Orchestrator, which
// imports both sandbox and executor, type-asserts the factory's result to
// this interface before calling Execute.
type Executor interface {
	// Execute runs the template's business logic to completion or failure.
	// A TaskCancelled TaskError unwinds without being treated as a normal
	// failure by the dispatch loop; any other returned error is passed to
	// HandleError by BaseExecutor.Run after Execute returns.
	Execute(ctx context.Context) (*core.Result, error)
}
