// Package extract turns raw LLM output into JSON data, tolerating markdown
// wrapping and the usual structural mistakes models make.
package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Method records which strategy produced the parsed data.
type Method string

const (
	MethodDirect   Method = "direct"
	MethodMarkdown Method = "markdown"
	MethodRepair   Method = "repair"
	MethodFailed   Method = "failed"
)

// ErrNoJSON is wrapped by the error of a failed Result.
var ErrNoJSON = errors.New("no parsable JSON in response")

// Result is the outcome of Parse. Data and Raw are set unless Method is
// MethodFailed, in which case Err describes why.
type Result struct {
	Method Method
	Data   any
	// Raw is the exact JSON text that parsed successfully.
	Raw []byte
	// ValidationErrors lists schema mismatches. They do not make the
	// result fail; callers decide whether the data is usable.
	ValidationErrors []string
	Err              error
}

// OK reports whether any strategy produced data.
func (r Result) OK() bool {
	return r.Method != MethodFailed
}

// Valid reports whether the data parsed and matched the schema.
func (r Result) Valid() bool {
	return r.OK() && len(r.ValidationErrors) == 0
}

// Decode unmarshals the parsed JSON into v.
func (r Result) Decode(v any) error {
	if !r.OK() {
		return r.Err
	}
	return json.Unmarshal(r.Raw, v)
}

var (
	fenceRegex         = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)\\s*```")
	collapsedTypeRegex = regexp.MustCompile(`^type\s*:\s*([A-Za-z_]+)$`)
)

// Parse extracts JSON from raw using, in order, a direct parse, markdown
// fence or brace-boundary extraction, and heuristic repair. The first
// strategy that parses wins. When schema is non-nil the data is validated
// against it.
func Parse(raw string, schema *Schema) Result {
	res := parse(raw)
	if res.OK() && schema != nil {
		res.ValidationErrors = schema.Validate(res.Raw)
	}
	return res
}

func parse(raw string) Result {
	text := strings.TrimSpace(raw)

	if data, err := decode(text); err == nil {
		return Result{Method: MethodDirect, Data: data, Raw: []byte(text)}
	}

	cands := candidates(text)
	for _, c := range cands {
		if data, err := decode(c); err == nil {
			return Result{Method: MethodMarkdown, Data: data, Raw: []byte(c)}
		}
	}
	if len(cands) == 0 {
		cands = []string{text}
	}

	var err error
	for _, c := range cands {
		repaired := Repair(c)
		var data any
		if data, err = decode(repaired); err == nil {
			return Result{Method: MethodRepair, Data: data, Raw: []byte(repaired)}
		}
	}

	return Result{
		Method: MethodFailed,
		Err:    fmt.Errorf("%w (length %d): %v", ErrNoJSON, len(raw), err),
	}
}

func decode(s string) (any, error) {
	if s == "" {
		return nil, errors.New("empty input")
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	return v, nil
}

// candidates returns the non-empty contents of the first fenced code block
// followed by the text between the first '{' and the last '}'.
func candidates(s string) []string {
	var out []string
	if m := fenceRegex.FindStringSubmatch(s); m != nil {
		if c := strings.TrimSpace(m[1]); c != "" {
			out = append(out, c)
		}
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start != -1 && end > start {
		if c := s[start : end+1]; len(out) == 0 || out[0] != c {
			out = append(out, c)
		}
	}
	return out
}

// Repair applies the textual fixes for common model mistakes: stray
// backslashes (LaTeX), trailing commas, missing commas between sibling
// objects, and a "type: value" member collapsed into a single string.
func Repair(s string) string {
	return fixStructure(escapeStrayBackslashes(s))
}

// fixStructure drops commas directly before a closing bracket, inserts
// commas between adjacent objects and splits a collapsed "type: value"
// string standing in member position. String contents are left alone, so
// it must run after escapeStrayBackslashes.
func fixStructure(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 8)
	var open []byte // enclosing brackets
	var last byte   // last significant byte written outside a string
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"':
			end := stringEnd(s, i)
			lit := s[i:end]
			if v, ok := collapsedMember(lit, last, open, nextSignificant(s, end)); ok {
				b.WriteString(`"type": "` + v + `"`)
			} else {
				b.WriteString(lit)
			}
			last = '"'
			i = end - 1
			continue
		case ',':
			if next := nextSignificant(s, i+1); next == '}' || next == ']' {
				continue
			}
		case '{', '[':
			if c == '{' && last == '}' {
				b.WriteByte(',')
			}
			open = append(open, c)
		case '}', ']':
			if len(open) > 0 {
				open = open[:len(open)-1]
			}
		}
		b.WriteByte(c)
		if !isSpace(c) {
			last = c
		}
	}
	return b.String()
}

// stringEnd returns the index just past the string literal starting at
// s[start], or len(s) when it is unterminated.
func stringEnd(s string, start int) int {
	for i := start + 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '"':
			return i + 1
		}
	}
	return len(s)
}

// collapsedMember reports whether lit is a "type: value" string where an
// object member is expected: directly inside an object, after '{' or ',',
// and followed by ',' or '}'. Values after ':' and array elements never
// match.
func collapsedMember(lit string, last byte, open []byte, next byte) (string, bool) {
	if len(open) == 0 || open[len(open)-1] != '{' {
		return "", false
	}
	if last != '{' && last != ',' {
		return "", false
	}
	if next != ',' && next != '}' {
		return "", false
	}
	if len(lit) < 2 || lit[len(lit)-1] != '"' {
		return "", false
	}
	m := collapsedTypeRegex.FindStringSubmatch(lit[1 : len(lit)-1])
	if m == nil {
		return "", false
	}
	return m[1], true
}

func nextSignificant(s string, from int) byte {
	for i := from; i < len(s); i++ {
		if !isSpace(s[i]) {
			return s[i]
		}
	}
	return 0
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// escapeStrayBackslashes doubles every backslash that does not start a
// valid JSON escape sequence.
func escapeStrayBackslashes(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 8)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		if i+1 < len(s) {
			switch n := s[i+1]; n {
			case '"', '\\', '/', 'b', 'f', 'n', 'r', 't':
				b.WriteByte(c)
				b.WriteByte(n)
				i++
				continue
			case 'u':
				if i+6 <= len(s) && isHex(s[i+2:i+6]) {
					b.WriteString(s[i : i+6])
					i += 5
					continue
				}
			}
		}
		b.WriteString(`\\`)
	}
	return b.String()
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F') {
			return false
		}
	}
	return true
}
