// Package sandbox implements the Sandbox Runtime: validating a template's
// execution script before it ever compiles, and compiling validated scripts
// into cached executor factories.
package sandbox

import (
	"go/ast"
	"go/parser"
	"go/token"
	"regexp"
	"strconv"
	"strings"
)

// ValidationResult is the outcome of ValidateAndPrepareScript.
type ValidationResult struct {
	Valid         bool   `json:"valid"`
	Script        string `json:"script,omitempty"`
	Escaped       bool   `json:"escaped,omitempty"`
	Error         string `json:"error,omitempty"`
	OriginalError string `json:"original_error,omitempty"`
	Snippet       string `json:"snippet,omitempty"`
}

// ValidateAndPrepareScript runs the two-stage check from the sandbox
// design: a syntactic compile attempt (with a one-shot auto-escape retry on
// failure), then a static policy check. templateID is used only to label
// the parsed file for error messages.
func ValidateAndPrepareScript(source, templateID string, policy *PolicyConfig) (*ValidationResult, error) {
	if policy == nil {
		policy = DefaultPolicyConfig()
	}

	if len(source) > policy.MaxSourceBytes {
		return &ValidationResult{
			Valid: false,
			Error: "execution script exceeds size cap of " + strconv.Itoa(policy.MaxSourceBytes) + " bytes",
		}, nil
	}

	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, templateID, source, parser.AllErrors)
	escaped := false

	if err != nil {
		originalErr := err.Error()
		coached, changed := autoEscape(source)
		if changed {
			fset2 := token.NewFileSet()
			file2, err2 := parser.ParseFile(fset2, templateID, coached, parser.AllErrors)
			if err2 == nil {
				source = coached
				file = file2
				fset = fset2
				escaped = true
				err = nil
			} else {
				return &ValidationResult{
					Valid:         false,
					Error:         err2.Error(),
					OriginalError: originalErr,
					Snippet:       snippetAround(source, 0),
				}, nil
			}
		} else {
			return &ValidationResult{
				Valid:         false,
				Error:         originalErr,
				OriginalError: originalErr,
				Snippet:       snippetAround(source, 0),
			}, nil
		}
	}

	if violation := checkPolicy(source, file, policy); violation != "" {
		return &ValidationResult{
			Valid:   false,
			Error:   violation,
			Snippet: snippetAround(source, 0),
		}, nil
	}

	return &ValidationResult{
		Valid:   true,
		Script:  source,
		Escaped: escaped,
	}, nil
}

// autoEscape is the "syntax coach": a deterministic, one-shot lexical
// repair targeting the two template-literal mistakes the spec names —
// an unbalanced raw-string backtick, and a raw string used where a plain
// quoted string would suffice inside a log/progress/checkpoint call.
func autoEscape(source string) (string, bool) {
	changed := false

	if strings.Count(source, "`")%2 != 0 {
		if fixed, ok := closeDanglingBacktick(source); ok {
			source = fixed
			changed = true
		}
	}

	if simplified, ok := simplifyRawStringsInCapabilityCalls(source); ok {
		source = simplified
		changed = true
	}

	return source, changed
}

// closeDanglingBacktick finds the last unmatched backtick and inserts a
// closing backtick immediately before the next statement-closing ')' (the
// common shape of a forgotten terminator inside `log("`` , ...)`-style
// calls), or at end of line if no such parenthesis follows.
func closeDanglingBacktick(source string) (string, bool) {
	last := strings.LastIndex(source, "`")
	if last == -1 {
		return source, false
	}
	rest := source[last+1:]
	closeParen := strings.Index(rest, ")")
	newline := strings.Index(rest, "\n")

	insertAt := -1
	switch {
	case closeParen != -1 && (newline == -1 || closeParen < newline):
		insertAt = last + 1 + closeParen
	case newline != -1:
		insertAt = last + 1 + newline
	default:
		insertAt = len(source)
	}

	return source[:insertAt] + "`" + source[insertAt:], true
}

var rawStringInCapabilityCall = regexp.MustCompile(
	"((?:log|updateProgress|createCheckpoint|Log)\\([^\\n`]*?)`([^`\\n]*)`",
)

// simplifyRawStringsInCapabilityCalls rewrites single-line backtick literals
// passed directly to a logging/progress capability call into double-quoted
// strings, escaping any embedded quotes.
func simplifyRawStringsInCapabilityCalls(source string) (string, bool) {
	changed := false
	out := rawStringInCapabilityCall.ReplaceAllStringFunc(source, func(m string) string {
		sub := rawStringInCapabilityCall.FindStringSubmatch(m)
		if sub == nil {
			return m
		}
		changed = true
		return sub[1] + strconv.Quote(sub[2])
	})
	return out, changed
}

var (
	infiniteLoopPattern  = regexp.MustCompile(`for\s+true\s*\{|for\s*\{`)
	zeroTimerPattern     = regexp.MustCompile(`time\.(NewTicker|Tick)\(\s*0\s*\)`)
	hugeAllocPattern     = regexp.MustCompile(`make\(\s*(?:\[\][\w.\[\]*]+|map\[[^\]]+\][\w.\[\]*]+)\s*,\s*(\d+)\s*\)`)
	wrongLogArgsPattern  = regexp.MustCompile(`\blog\(\s*"[^"]*"\s*,\s*(?:"debug"|"info"|"warn"|"error")\b`)
)

// checkPolicy enforces the static policy rules: import allow-list, a fixed
// denylist of host-access packages, infinite-loop/zero-timer/huge-allocation
// source patterns, and the log(level, message) argument-order schema.
func checkPolicy(source string, file *ast.File, policy *PolicyConfig) string {
	for _, imp := range file.Imports {
		path, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			return "unparseable import path: " + imp.Path.Value
		}
		if reason, denied := disallowedImportReasons[path]; denied {
			return "disallowed import \"" + path + "\": " + reason
		}
		if policy.AllowedImports != nil && !policy.AllowedImports[path] {
			return "import \"" + path + "\" is not on the capability allow-list"
		}
	}

	if infiniteLoopPattern.MatchString(source) {
		return "unconditional infinite loop (for{} / for true{}) is not allowed"
	}
	if zeroTimerPattern.MatchString(source) {
		return "zero-interval timer is not allowed"
	}
	if m := hugeAllocPattern.FindStringSubmatch(source); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > policy.MaxAllocationElements {
			return "allocation of " + m[1] + " elements exceeds the configured limit"
		}
	}
	if wrongLogArgsPattern.MatchString(source) {
		return "log(message, level) has the wrong argument order; the capability surface expects log(level, message)"
	}

	return ""
}

func snippetAround(source string, pos int) string {
	lines := strings.Split(source, "\n")
	if len(lines) == 0 {
		return ""
	}
	const radius = 2
	lineIdx := 0
	for i, l := range lines {
		if pos <= len(l) {
			lineIdx = i
			break
		}
		pos -= len(l) + 1
	}
	start := lineIdx - radius
	if start < 0 {
		start = 0
	}
	end := lineIdx + radius + 1
	if end > len(lines) {
		end = len(lines)
	}
	return strings.Join(lines[start:end], "\n")
}
