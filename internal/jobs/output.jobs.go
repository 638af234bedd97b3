// internal/jobs/output.jobs.go
package jobs

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
)

// OutputKind tags the shape the trainer chose for its output.
type OutputKind int

const (
	OutputNone OutputKind = iota
	OutputString
	OutputObject
	OutputArray
)

func (k OutputKind) String() string {
	switch k {
	case OutputString:
		return "string"
	case OutputObject:
		return "object"
	case OutputArray:
		return "array"
	default:
		return "none"
	}
}

// TrainerOutput is the classified output. Exactly one of the variant
// fields is meaningful, selected by Kind.
type TrainerOutput struct {
	Kind   OutputKind
	String string
	Object map[string]json.RawMessage
	Array  []json.RawMessage
}

var ErrNoResultURL = errors.New("trainer output carries no result url")

// preferredKeys are tried in order before any other object field.
var preferredKeys = []string{"weights", "lora_url", "url", "output"}

// ClassifyOutput decodes raw into one of the known shapes.
func ClassifyOutput(raw json.RawMessage) (TrainerOutput, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return TrainerOutput{Kind: OutputNone}, nil
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return TrainerOutput{}, fmt.Errorf("decode string output: %w", err)
		}
		return TrainerOutput{Kind: OutputString, String: s}, nil
	case '{':
		var m map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &m); err != nil {
			return TrainerOutput{}, fmt.Errorf("decode object output: %w", err)
		}
		return TrainerOutput{Kind: OutputObject, Object: m}, nil
	case '[':
		var a []json.RawMessage
		if err := json.Unmarshal(trimmed, &a); err != nil {
			return TrainerOutput{}, fmt.Errorf("decode array output: %w", err)
		}
		return TrainerOutput{Kind: OutputArray, Array: a}, nil
	}
	return TrainerOutput{}, fmt.Errorf("unsupported output shape %q", trimmed[0])
}

// ResultURL resolves the canonical artifact URL:
// string -> itself; object -> preferred key, then first http(s) value in
// key order; array -> first element that resolves.
func (o TrainerOutput) ResultURL() (string, error) {
	switch o.Kind {
	case OutputString:
		if isHTTPURL(o.String) {
			return o.String, nil
		}
	case OutputObject:
		for _, k := range preferredKeys {
			if u, ok := stringURL(o.Object[k]); ok {
				return u, nil
			}
		}
		keys := make([]string, 0, len(o.Object))
		for k := range o.Object {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if u, ok := stringURL(o.Object[k]); ok {
				return u, nil
			}
		}
	case OutputArray:
		for _, el := range o.Array {
			inner, err := ClassifyOutput(el)
			if err != nil || inner.Kind == OutputArray {
				continue
			}
			if u, err := inner.ResultURL(); err == nil {
				return u, nil
			}
		}
	}
	return "", fmt.Errorf("%w (shape %s)", ErrNoResultURL, o.Kind)
}

func stringURL(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, isHTTPURL(s)
}

func isHTTPURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
