package schema

import (
	"bytes"

	"gopkg.in/yaml.v3"
)

// Emit renders v as canonical YAML: two-space indent, stable key order (the
// struct's field order, since yaml.v3 walks exported fields in declaration
// order rather than sorting them), LF line endings and exactly one
// trailing newline. This keeps Emit round-trip stable: parsing its output
// and re-emitting it reproduces the same bytes.
func Emit(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}

	out := bytes.ReplaceAll(buf.Bytes(), []byte("\r\n"), []byte("\n"))
	out = bytes.TrimRight(out, "\n")
	out = append(out, '\n')
	return out, nil
}

// Parse decodes YAML bytes into v using strict-ish semantics: it does not
// reject unknown fields globally (GlobalConfig.Unknown and similar `inline`
// fields are how individual documents opt into preserving them), but it
// does surface parse errors with position information via yaml.v3's own
// error formatting, so CONFIG_PARSE errors carry a file and position.
func Parse(data []byte, v any) error {
	return yaml.Unmarshal(data, v)
}
