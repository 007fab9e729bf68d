package executor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

const (
	maxJSONDepth   = 10
	maxJSONBytes   = 10240
	maxNestingScan = 20
)

var shellMetacharacterPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\$\(`),
	regexp.MustCompile("`"),
	regexp.MustCompile(`&&`),
	regexp.MustCompile(`\|\|`),
	regexp.MustCompile(`;\w`),
	regexp.MustCompile(`>&`),
	regexp.MustCompile(`\|\w`),
	regexp.MustCompile(`<\(`),
}

// sanitizeJSONParam validates and encodes an object-valued flag (jsonSchema,
// agents) per the mandatory checks It never returns a value an
// attacker could use to break out of argv, since the result is always passed
// as a single exec.Cmd argument and never through a shell.
func sanitizeJSONParam(name string, v interface{}) (string, error) {
	if v == nil {
		return "", nil
	}

	if depth := treeDepth(v, 0); depth > maxJSONDepth {
		return "", fmt.Errorf("parameter %q exceeds max depth %d", name, maxJSONDepth)
	}

	// HTML escaping is off so that &, < and > reach the metacharacter scan
	// as written instead of as &, <, >.
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("parameter %q is not encodable: %w", name, err)
	}
	s := strings.TrimSuffix(buf.String(), "\n")

	if len(s) > maxJSONBytes {
		return "", fmt.Errorf("parameter %q exceeds max size %d bytes", name, maxJSONBytes)
	}

	if err := checkCharacterSafety(s); err != nil {
		return "", fmt.Errorf("parameter %q: %w", name, err)
	}

	if nesting := scanNestingDepth(s); nesting > maxNestingScan {
		return "", fmt.Errorf("parameter %q exceeds max nesting scan depth %d", name, maxNestingScan)
	}

	for _, pat := range shellMetacharacterPatterns {
		if pat.MatchString(s) {
			return "", fmt.Errorf("parameter %q contains shell metacharacters", name)
		}
	}

	return s, nil
}

// treeDepth walks a decoded JSON value tree (maps, slices) and returns its
// maximum nesting depth. Scalars have depth equal to their ancestor count.
func treeDepth(v interface{}, current int) int {
	switch t := v.(type) {
	case map[string]interface{}:
		max := current
		for _, child := range t {
			if d := treeDepth(child, current+1); d > max {
				max = d
			}
		}
		return max
	case []interface{}:
		max := current
		for _, child := range t {
			if d := treeDepth(child, current+1); d > max {
				max = d
			}
		}
		return max
	default:
		return current
	}
}

// checkCharacterSafety rejects raw NUL and raw C0 control characters other
// than tab/newline/carriage-return, which the JSON encoder already escapes to
// \t \n \r rather than emitting raw bytes.
func checkCharacterSafety(s string) error {
	for _, r := range s {
		if r == 0x00 {
			return fmt.Errorf("contains a raw NUL byte")
		}
		if r < 0x20 && r != '\t' && r != '\n' && r != '\r' {
			return fmt.Errorf("contains a raw C0 control character")
		}
	}
	return nil
}

// scanNestingDepth does a single pass over the encoded string counting
// bracket/brace nesting, independent of treeDepth (which walks the decoded
// Go value) — this is a defense-in-depth check against the literal encoded
// text rather than the value tree.
func scanNestingDepth(s string) int {
	depth, max := 0, 0
	inString := false
	escaped := false
	for _, r := range s {
		if inString {
			if escaped {
				escaped = false
				continue
			}
			if r == '\\' {
				escaped = true
				continue
			}
			if r == '"' {
				inString = false
			}
			continue
		}
		switch r {
		case '"':
			inString = true
		case '{', '[':
			depth++
			if depth > max {
				max = depth
			}
		case '}', ']':
			depth--
		}
	}
	return max
}
