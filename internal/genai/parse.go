package genai

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// ParseError reports generator output that could not be decoded as JSON.
// The raw output is retained for diagnostics.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing generated output: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

var (
	fenceOpen  = regexp.MustCompile("(?m)^\\s*```[a-zA-Z]*")
	fenceClose = regexp.MustCompile("(?m)```\\s*$")
)

var smartQuotes = strings.NewReplacer(
	"“", `"`,
	"”", `"`,
	"‘", "'",
	"’", "'",
)

// Clean strips markdown code-fence markers and smart quotes from raw model
// output. Models regularly wrap JSON in ```json fences despite instructions
// not to.
func Clean(raw string) string {
	s := fenceOpen.ReplaceAllString(raw, "")
	s = fenceClose.ReplaceAllString(s, "")
	s = smartQuotes.Replace(s)
	return strings.TrimSpace(s)
}

// DecodeJSON cleans raw model output and unmarshals it into dest. If the
// cleaned text is not valid JSON, the first balanced object or array found
// inside it is tried before giving up with a *ParseError. Parse failures are
// never retried here; callers decide whether to re-request.
func DecodeJSON(raw string, dest any) error {
	cleaned := Clean(raw)
	if cleaned == "" {
		return &ParseError{Raw: raw, Err: fmt.Errorf("empty output")}
	}

	err := json.Unmarshal([]byte(cleaned), dest)
	if err == nil {
		return nil
	}

	// The model sometimes surrounds the JSON with prose.
	if block := extractJSONBlock(cleaned); block != "" {
		if err2 := json.Unmarshal([]byte(block), dest); err2 == nil {
			return nil
		}
	}
	return &ParseError{Raw: raw, Err: err}
}

// extractJSONBlock returns the first {...} or [...] span in s, or "" if none.
func extractJSONBlock(s string) string {
	objStart := strings.IndexByte(s, '{')
	arrStart := strings.IndexByte(s, '[')

	start, close := objStart, byte('}')
	if start < 0 || (arrStart >= 0 && arrStart < start) {
		start, close = arrStart, ']'
	}
	if start < 0 {
		return ""
	}

	end := strings.LastIndexByte(s, close)
	if end <= start {
		return ""
	}
	return s[start : end+1]
}
