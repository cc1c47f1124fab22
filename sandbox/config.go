package sandbox

import "time"

// PolicyConfig controls the static policy checks ValidateAndPrepareScript
// enforces on a template's execution script, and the limits Compile enforces
// on the build step itself.
type PolicyConfig struct {
	// MaxSourceBytes caps the execution script's size (default 50 KiB).
	MaxSourceBytes int

	// AllowedImports is the explicit allow-list a script's import
	// declarations must be a subset of. Anything not listed here is a
	// policy violation, including stdlib packages that reach the
	// filesystem, network, or process.
	AllowedImports map[string]bool

	// MaxAllocationElements caps the literal element count of a `make(...)`
	// call found in a script (arrays, slices, maps, buffers).
	MaxAllocationElements int

	// CompileTimeout bounds how long `go build -buildmode=plugin` is
	// allowed to run for one template (default 5s, per spec).
	CompileTimeout time.Duration
}

// DefaultPolicyConfig returns the production policy: a conservative
// allow-list covering the utility packages a report/automation template
// plausibly needs, and none of the packages that would let a script reach
// outside its capability surface.
func DefaultPolicyConfig() *PolicyConfig {
	return &PolicyConfig{
		MaxSourceBytes: 50 * 1024,
		AllowedImports: map[string]bool{
			"fmt":             true,
			"strings":         true,
			"strconv":         true,
			"time":            true,
			"errors":          true,
			"sort":            true,
			"math":            true,
			"encoding/json":   true,
			"context":         true,
			"regexp":          true,
			"unicode":         true,
			"unicode/utf8":    true,
			"github.com/deepauras/auroraflow/executor": true,
			"github.com/deepauras/auroraflow/core":     true,
		},
		MaxAllocationElements: 1_000_000,
		CompileTimeout:        5 * time.Second,
	}
}

// disallowedImportReasons names packages that are always rejected even if a
// caller's AllowedImports would otherwise permit them, because they each
// grant exactly the kind of host access the sandbox exists to deny.
var disallowedImportReasons = map[string]string{
	"os":               "direct filesystem/process access",
	"os/exec":          "child-process execution",
	"os/signal":        "process signal access",
	"net":              "direct network access, bypassing the RLQ capability",
	"net/http":         "direct network access, bypassing the RLQ capability",
	"net/rpc":          "direct network access",
	"syscall":          "raw syscall access",
	"unsafe":           "memory-safety escape hatch",
	"plugin":           "dynamic code loading",
	"io/ioutil":        "direct filesystem access",
	"path/filepath":    "direct filesystem access",
	"reflect":          "reflection-based capability-surface bypass",
	"runtime/debug":    "process introspection",
	"database/sql":     "direct datastore access, bypassing the Document Store capability",
}
