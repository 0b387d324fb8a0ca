package hive

import (
	"fmt"
	"strings"

	"github.com/cryguy/hive/internal/core"
)

// runtimeErrorTag is the fixed first field of a runtime-error message.
const runtimeErrorTag = "RUNTIME ERROR"

// formatRuntimeError builds the runtime-error wire format: tag, host
// identifier, script name, then the message, joined by pipes. The message
// may itself contain pipes; parsers must treat everything after the third
// separator as the message.
func formatRuntimeError(host, script, msg string) string {
	return strings.Join([]string{runtimeErrorTag, host, script, msg}, "|")
}

// parseRuntimeError splits a runtime-error message into its fields.
// ok is false for any string that does not carry the fixed tag and all
// four fields; such strings are treated as internal/unknown faults.
func parseRuntimeError(s string) (host, script, msg string, ok bool) {
	parts := strings.SplitN(s, "|", 4)
	if len(parts) != 4 || parts[0] != runtimeErrorTag {
		return "", "", "", false
	}
	return parts[1], parts[2], parts[3], true
}

// newScriptError wraps a message into an attributable guest fault for the
// given process.
func newScriptError(p *Process, msg string) *core.ScriptError {
	return &core.ScriptError{Msg: formatRuntimeError(p.host.Hostname(), p.run.Filename, msg)}
}

// scriptErrorf is newScriptError with formatting.
func scriptErrorf(p *Process, format string, args ...any) *core.ScriptError {
	return newScriptError(p, fmt.Sprintf(format, args...))
}
