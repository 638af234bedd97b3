package jobs

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestClassifyOutput_ResolvesSameURL(t *testing.T) {
	const want = "https://replicate.delivery/x/trained_model.tar"
	tests := []struct {
		name     string
		raw      string
		wantKind OutputKind
	}{
		{"string", `"` + want + `"`, OutputString},
		{"object weights", `{"version":"abc123","weights":"` + want + `"}`, OutputObject},
		{"object other field", `{"artifact":"` + want + `","note":"done"}`, OutputObject},
		{"array", `["` + want + `","https://other/2"]`, OutputArray},
		{"array of objects", `[{"url":"` + want + `"}]`, OutputArray},
		{"array skipping junk", `[42,"not a url","` + want + `"]`, OutputArray},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := ClassifyOutput(json.RawMessage(tt.raw))
			if err != nil {
				t.Fatalf("ClassifyOutput: %v", err)
			}
			if out.Kind != tt.wantKind {
				t.Fatalf("kind = %s, want %s", out.Kind, tt.wantKind)
			}
			got, err := out.ResultURL()
			if err != nil {
				t.Fatalf("ResultURL: %v", err)
			}
			if got != want {
				t.Errorf("url = %q, want %q", got, want)
			}
		})
	}
}

func TestClassifyOutput_NoURL(t *testing.T) {
	tests := []string{``, `null`, `"relative/path"`, `{"version":"abc"}`, `[]`, `[[ "https://nested/not-followed" ]]`}
	for _, raw := range tests {
		out, err := ClassifyOutput(json.RawMessage(raw))
		if err != nil {
			t.Fatalf("ClassifyOutput(%q): %v", raw, err)
		}
		if _, err := out.ResultURL(); !errors.Is(err, ErrNoResultURL) {
			t.Errorf("ResultURL(%q) err = %v, want ErrNoResultURL", raw, err)
		}
	}
}

func TestClassifyOutput_Unsupported(t *testing.T) {
	if _, err := ClassifyOutput(json.RawMessage(`42`)); err == nil {
		t.Fatal("expected error for numeric output")
	}
}
