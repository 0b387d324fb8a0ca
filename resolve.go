package hive

import (
	"fmt"
	"regexp"
	"strings"

	esbuild "github.com/evanw/esbuild/pkg/api"

	"github.com/cryguy/hive/internal/core"
)

// The resolver supports exactly two import forms, matched after a
// declaration has been collected onto one line.
var (
	reImportStart      = regexp.MustCompile(`^import\b`)
	reImportTerminated = regexp.MustCompile(`from\s*["'][^"']*["']\s*;?\s*$`)
	reImportNamespace  = regexp.MustCompile(`^import\s*\*\s*as\s+([A-Za-z_$][A-Za-z0-9_$]*)\s+from\s*["']([^"']+)["']\s*;?\s*$`)
	reImportNamed      = regexp.MustCompile(`^import\s*\{([^}]*)\}\s*from\s*["']([^"']+)["']\s*;?\s*$`)
	reIdent            = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)
	reFuncDecl         = regexp.MustCompile(`^(async\s+)?function\s+([A-Za-z_$][A-Za-z0-9_$]*)\s*\(`)
	reImportWord       = regexp.MustCompile(`\bimport\b`)
)

// importDecl is one top-level import declaration found by the scan.
type importDecl struct {
	startLine int // 0-based, inclusive
	endLine   int // inclusive; imports may span lines
	namespace string
	names     []string
	ref       string
}

// resolveImports inlines cross-script imports for a stepped-mode script.
// Namespace imports synthesize an object exposing the referenced script's
// top-level functions; named imports inline the referenced declarations
// directly. The returned offset is the net line shift (inlined minus
// removed) for mapping runtime error positions back to authored lines.
// Sources without imports come back unchanged with offset 0. Any failure is
// a hard preprocessing failure: no partial resolution is ever returned.
func resolveImports(filename, source string, host core.Host) (string, int, error) {
	if !strings.Contains(source, "import") {
		return source, 0, nil
	}
	if err := checkSyntax(filename, source); err != nil {
		return "", 0, err
	}
	decls, err := scanImports(source)
	if err != nil {
		return "", 0, fmt.Errorf("%s: %w", filename, err)
	}
	if len(decls) == 0 {
		return source, 0, nil
	}

	var prefix []string
	for _, d := range decls {
		refSrc, ok := host.ScriptSource(d.ref)
		if !ok {
			return "", 0, fmt.Errorf("%s imports %q, which does not exist on %s", filename, d.ref, host.Hostname())
		}
		fns, order, err := topLevelFunctions(refSrc)
		if err != nil {
			return "", 0, fmt.Errorf("%s: scanning %q: %w", filename, d.ref, err)
		}
		if d.namespace != "" {
			prefix = append(prefix, synthesizeNamespace(d.namespace, order, fns)...)
			continue
		}
		for _, name := range d.names {
			body, ok := fns[name]
			if !ok {
				return "", 0, fmt.Errorf("%s imports %q from %q, but no top-level function by that name exists", filename, name, d.ref)
			}
			prefix = append(prefix, body...)
		}
	}

	lines := strings.Split(source, "\n")
	removed := make(map[int]bool)
	removedCount := 0
	for _, d := range decls {
		for l := d.startLine; l <= d.endLine; l++ {
			removed[l] = true
			removedCount++
		}
	}
	out := make([]string, 0, len(prefix)+len(lines)-removedCount)
	out = append(out, prefix...)
	for i, line := range lines {
		if !removed[i] {
			out = append(out, line)
		}
	}
	processed := strings.Join(out, "\n")
	offset := len(prefix) - removedCount

	if err := checkSyntax(filename, processed); err != nil {
		return "", 0, fmt.Errorf("resolved source for %s does not parse: %w", filename, err)
	}
	return processed, offset, nil
}

// checkSyntax parses the source and reports collected syntax errors.
func checkSyntax(filename, source string) error {
	result := esbuild.Transform(source, esbuild.TransformOptions{
		Loader:     esbuild.LoaderJS,
		Sourcefile: filename,
	})
	if len(result.Errors) > 0 {
		msgs := make([]string, 0, len(result.Errors))
		for _, e := range result.Errors {
			msgs = append(msgs, e.Text)
		}
		return fmt.Errorf("parsing %s: %s", filename, strings.Join(msgs, "; "))
	}
	return nil
}

// scanImports walks the source line by line, tracking bracket depth outside
// strings and comments, and collects import declarations found at depth 0.
// Imports nested inside any bracket are intentionally not found. An import
// that cannot be removed cleanly, or uses an unsupported form, is an error.
func scanImports(source string) ([]importDecl, error) {
	lines := strings.Split(source, "\n")
	depth := 0
	inBlock := false
	var decls []importDecl
	for i := 0; i < len(lines); i++ {
		code, endsIn := stripComments(lines[i], inBlock)
		trimmed := strings.TrimSpace(code)
		if depth == 0 && reImportStart.MatchString(trimmed) {
			stmt := trimmed
			end := i
			for !reImportTerminated.MatchString(stmt) {
				end++
				if end >= len(lines) {
					return nil, fmt.Errorf("line %d: unterminated import declaration", i+1)
				}
				more, cont := stripComments(lines[end], false)
				if cont {
					return nil, fmt.Errorf("line %d: unterminated import declaration", i+1)
				}
				stmt += " " + strings.TrimSpace(more)
			}
			decl, err := parseImport(stmt)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", i+1, err)
			}
			decl.startLine, decl.endLine = i, end
			decls = append(decls, decl)
			i = end
			inBlock = false
			continue
		}
		if depth == 0 && reImportWord.MatchString(blankStrings(code)) && !strings.Contains(blankStrings(code), "import(") {
			return nil, fmt.Errorf("line %d: import declaration is not removable", i+1)
		}
		inBlock = endsIn
		depth += bracketDelta(code)
	}
	return decls, nil
}

// parseImport classifies a single-line import statement. Only the namespace
// and named-list forms are supported; default imports, bare side-effect
// imports, and renamed bindings are not.
func parseImport(stmt string) (importDecl, error) {
	if m := reImportNamespace.FindStringSubmatch(stmt); m != nil {
		return importDecl{namespace: m[1], ref: m[2]}, nil
	}
	if m := reImportNamed.FindStringSubmatch(stmt); m != nil {
		var names []string
		for _, n := range strings.Split(m[1], ",") {
			n = strings.TrimSpace(n)
			if n == "" {
				continue
			}
			if !reIdent.MatchString(n) {
				return importDecl{}, fmt.Errorf("unsupported import binding %q", n)
			}
			names = append(names, n)
		}
		if len(names) == 0 {
			return importDecl{}, fmt.Errorf("empty import list")
		}
		return importDecl{names: names, ref: m[2]}, nil
	}
	return importDecl{}, fmt.Errorf("unsupported import form: %s", stmt)
}

// topLevelFunctions extracts every top-level function declaration from a
// script, keyed by name, along with declaration order. Bodies are returned
// as raw line slices so inlining preserves the author's text exactly.
func topLevelFunctions(source string) (map[string][]string, []string, error) {
	lines := strings.Split(source, "\n")
	fns := make(map[string][]string)
	var order []string
	depth := 0
	inBlock := false
	for i := 0; i < len(lines); i++ {
		code, endsIn := stripComments(lines[i], inBlock)
		trimmed := strings.TrimSpace(code)
		if depth == 0 && !inBlock {
			if m := reFuncDecl.FindStringSubmatch(trimmed); m != nil {
				name := m[2]
				body, next, cont, err := captureBody(lines, i, inBlock)
				if err != nil {
					return nil, nil, fmt.Errorf("function %s at line %d: %w", name, i+1, err)
				}
				if _, dup := fns[name]; !dup {
					fns[name] = body
					order = append(order, name)
				}
				i = next
				inBlock = cont
				continue
			}
		}
		inBlock = endsIn
		depth += bracketDelta(code)
	}
	return fns, order, nil
}

// captureBody collects lines from start through the line whose closing
// bracket returns the declaration to depth 0.
func captureBody(lines []string, start int, inBlock bool) (body []string, end int, endsInBlock bool, err error) {
	depth := 0
	opened := false
	for j := start; j < len(lines); j++ {
		code, cont := stripComments(lines[j], inBlock)
		inBlock = cont
		body = append(body, lines[j])
		depth += bracketDelta(code)
		if strings.Contains(code, "{") {
			opened = true
		}
		if opened && depth <= 0 {
			return body, j, inBlock, nil
		}
	}
	return nil, 0, false, fmt.Errorf("unterminated body")
}

// synthesizeNamespace assembles the replacement for import * as N: the
// referenced script's top-level functions wrapped in an immediately
// invoked closure returning them as an object.
func synthesizeNamespace(alias string, order []string, fns map[string][]string) []string {
	out := []string{fmt.Sprintf("var %s = (function () {", alias)}
	for _, name := range order {
		out = append(out, fns[name]...)
	}
	members := make([]string, len(order))
	for i, name := range order {
		members[i] = name + ": " + name
	}
	out = append(out, fmt.Sprintf("return {%s};", strings.Join(members, ", ")))
	out = append(out, "})();")
	return out
}

// stripComments removes line and block comments from one line. inBlock says
// whether the line begins inside a block comment; the second return reports
// whether it ends inside one. String literals pass through untouched.
func stripComments(line string, inBlock bool) (string, bool) {
	var b strings.Builder
	var quote byte
	i := 0
	for i < len(line) {
		c := line[i]
		switch {
		case inBlock:
			if c == '*' && i+1 < len(line) && line[i+1] == '/' {
				inBlock = false
				i += 2
				continue
			}
			i++
		case quote != 0:
			if c == '\\' && i+1 < len(line) {
				b.WriteByte(c)
				b.WriteByte(line[i+1])
				i += 2
				continue
			}
			if c == quote {
				quote = 0
			}
			b.WriteByte(c)
			i++
		case c == '\'' || c == '"' || c == '`':
			quote = c
			b.WriteByte(c)
			i++
		case c == '/' && i+1 < len(line) && line[i+1] == '/':
			return b.String(), false
		case c == '/' && i+1 < len(line) && line[i+1] == '*':
			inBlock = true
			i += 2
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String(), inBlock
}

// blankStrings empties string literal contents so structural checks cannot
// trip on words inside them.
func blankStrings(code string) string {
	var b strings.Builder
	var quote byte
	for i := 0; i < len(code); i++ {
		c := code[i]
		if quote != 0 {
			if c == '\\' {
				i++
				continue
			}
			if c == quote {
				quote = 0
				b.WriteByte(c)
			}
			continue
		}
		if c == '\'' || c == '"' || c == '`' {
			quote = c
		}
		b.WriteByte(c)
	}
	return b.String()
}

// bracketDelta returns the net bracket depth change of one comment-stripped
// line, ignoring brackets inside string literals.
func bracketDelta(code string) int {
	depth := 0
	var quote byte
	for i := 0; i < len(code); i++ {
		c := code[i]
		if quote != 0 {
			if c == '\\' {
				i++
				continue
			}
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"', '`':
			quote = c
		case '{', '(', '[':
			depth++
		case '}', ')', ']':
			depth--
		}
	}
	return depth
}
