package toolexecutor

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// EntryFunction is the function every tool script must define
const EntryFunction = "main"

// AllowedImports lists modules scripts may import. Submodules of an
// allowed module are allowed too.
var AllowedImports = []string{
	"datetime", "json", "math", "re", "time", "uuid",
	"collections", "itertools", "functools", "typing",
	"decimal", "fractions", "statistics", "random",
	"csv", "pathlib", "urllib.parse", "base64",
	"hashlib", "hmac", "zlib", "gzip", "zipfile",
	"requests", "otto",
}

// pythonTypes maps script type hints to JSON schema types
var pythonTypes = map[string]string{
	"str":   "string",
	"int":   "integer",
	"float": "number",
	"bool":  "boolean",
	"list":  "array",
	"dict":  "object",
}

// ArgDefinition is a parameter read from a script's entry function
type ArgDefinition struct {
	Name string
	// PyType is the type hint, or "" when missing or unsupported
	PyType     string
	Default    string
	HasDefault bool
}

var (
	defRe        = regexp.MustCompile(`^def\s+([A-Za-z_]\w*)\s*\(`)
	importRe     = regexp.MustCompile(`^\s*import\s+(.+)$`)
	fromImportRe = regexp.MustCompile(`^\s*from\s+([\w.]+)\s+import\s+`)
	numberRe     = regexp.MustCompile(`^-?(\d+\.?\d*|\.\d+)([eE][-+]?\d+)?$`)
)

// ValidateScript checks a tool script and returns the reasons it is
// invalid plus the entry function's parameters. The parameters are only
// returned for valid scripts.
func ValidateScript(code string) ([]string, []ArgDefinition) {
	return ValidateFunction(code, EntryFunction)
}

// ValidateFunction is ValidateScript for an arbitrary entry function name
func ValidateFunction(code, entry string) ([]string, []ArgDefinition) {
	var reasons []string
	lines := strings.Split(strings.ReplaceAll(code, "\r\n", "\n"), "\n")

	signature := ""
	found := false
	for i := 0; i < len(lines); i++ {
		line := stripComment(lines[i])
		lineNo := i + 1

		if m := defRe.FindStringSubmatch(line); m != nil && m[1] == entry && !found {
			found = true
			sig, end := collectSignature(lines, i)
			signature = sig
			i = end
			continue
		}

		if callsEntry(line, entry) {
			reasons = append(reasons, fmt.Sprintf("Direct calls to %s() are not allowed (line: %d)", entry, lineNo))
		}

		if m := importRe.FindStringSubmatch(line); m != nil {
			for _, part := range strings.Split(m[1], ",") {
				module := strings.Fields(strings.TrimSpace(part))
				if len(module) > 0 && !isAllowedImport(module[0]) {
					reasons = append(reasons, fmt.Sprintf("Import of %s is not allowed (line: %d)", module[0], lineNo))
				}
			}
		} else if m := fromImportRe.FindStringSubmatch(line); m != nil && !isAllowedImport(m[1]) {
			reasons = append(reasons, fmt.Sprintf("Import of %s is not allowed (line: %d)", m[1], lineNo))
		}
	}

	if !found {
		reasons = append(reasons, fmt.Sprintf("Script must contain a '%s' function definition", entry))
		return reasons, nil
	}

	args, argReasons := parseParams(signature)
	reasons = append(reasons, argReasons...)
	if len(reasons) > 0 {
		return reasons, nil
	}
	return nil, args
}

// collectSignature joins the def's lines until its parameter list closes
func collectSignature(lines []string, start int) (string, int) {
	var sb strings.Builder
	depth := 0
	for i := start; i < len(lines); i++ {
		line := stripComment(lines[i])
		if i == start {
			line = line[strings.IndexRune(line, '('):]
		}
		for _, r := range line {
			switch r {
			case '(':
				depth++
				if depth == 1 {
					continue
				}
			case ')':
				depth--
				if depth == 0 {
					return sb.String(), i
				}
			}
			sb.WriteRune(r)
		}
		sb.WriteRune(' ')
	}
	return sb.String(), len(lines) - 1
}

func callsEntry(line, entry string) bool {
	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, "def ") {
		return false
	}
	idx := 0
	for {
		pos := strings.Index(line[idx:], entry+"(")
		if pos < 0 {
			return false
		}
		pos += idx
		if pos == 0 || !isIdentRune(rune(line[pos-1])) && line[pos-1] != '.' {
			return true
		}
		idx = pos + len(entry)
	}
}

// parseParams reads "a: int, b='x'" into definitions
func parseParams(signature string) ([]ArgDefinition, []string) {
	var args []ArgDefinition
	var reasons []string

	for _, raw := range splitTopLevel(signature) {
		param := strings.TrimSpace(raw)
		if param == "" || param == "/" {
			continue
		}
		if strings.HasPrefix(param, "**") {
			reasons = append(reasons, "method must not accept wildcard keyword arguments (**kwargs)")
			continue
		}
		if strings.HasPrefix(param, "*") {
			if param == "*" {
				continue
			}
			reasons = append(reasons, "method must not accept variable arguments (*args)")
			continue
		}

		arg := ArgDefinition{}
		nameAndHint, def, hasDefault := strings.Cut(param, "=")
		name, hint, _ := strings.Cut(nameAndHint, ":")
		arg.Name = strings.TrimSpace(name)
		hint = strings.Trim(strings.TrimSpace(hint), `"'`)
		if _, ok := pythonTypes[hint]; ok {
			arg.PyType = hint
		}

		if hasDefault {
			def = strings.TrimSpace(def)
			value, ok := constantJSON(def)
			if !ok {
				reasons = append(reasons, fmt.Sprintf("Default value '%s' is invalid, only constants are allowed", def))
				continue
			}
			arg.Default = value
			arg.HasDefault = true
		}
		args = append(args, arg)
	}

	return args, reasons
}

// constantJSON converts a literal default to its JSON form
func constantJSON(expr string) (string, bool) {
	switch expr {
	case "None":
		return "null", true
	case "True":
		return "true", true
	case "False":
		return "false", true
	}
	if numberRe.MatchString(expr) {
		return expr, true
	}
	if len(expr) >= 2 && (expr[0] == '"' || expr[0] == '\'') && expr[len(expr)-1] == expr[0] {
		return strconv.Quote(expr[1 : len(expr)-1]), true
	}
	return "", false
}

// splitTopLevel splits on commas outside brackets and quotes
func splitTopLevel(s string) []string {
	var parts []string
	depth := 0
	var quote rune
	start := 0
	for i, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
		case r == '(' || r == '[' || r == '{':
			depth++
		case r == ')' || r == ']' || r == '}':
			depth--
		case r == ',' && depth == 0:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	return append(parts, s[start:])
}

func stripComment(line string) string {
	var quote rune
	for i, r := range line {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
		case r == '#':
			return line[:i]
		}
	}
	return line
}

func isAllowedImport(module string) bool {
	parts := strings.Split(module, ".")
	for i := range parts {
		prefix := strings.Join(parts[:i+1], ".")
		for _, allowed := range AllowedImports {
			if prefix == allowed {
				return true
			}
		}
	}
	return false
}

func isIdentRune(r rune) bool {
	return r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9'
}
