package providers

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseStructuredJSON(t *testing.T) {
	tests := []struct {
		name         string
		content      string
		wantSalvaged bool
		wantKey      string
	}{
		{"plain object", `{"ok":true}`, false, "ok"},
		{"code fence", "```json\n{\"ok\":true}\n```", true, "ok"},
		{"surrounding prose", "Here is the result:\n{\"invoice_number\": \"INV-1\"}\nThanks!", true, "invoice_number"},
		{"nested braces", `Sure. {"a": {"b": 1}} done`, true, "a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, salvaged, err := ParseStructuredJSON(tt.content)
			if err != nil {
				t.Fatalf("ParseStructuredJSON() error = %v", err)
			}
			if salvaged != tt.wantSalvaged {
				t.Errorf("salvaged = %v, want %v", salvaged, tt.wantSalvaged)
			}
			var parsed map[string]any
			if err := json.Unmarshal(raw, &parsed); err != nil {
				t.Fatalf("failed to unmarshal parsed JSON: %v", err)
			}
			if _, ok := parsed[tt.wantKey]; !ok {
				t.Errorf("missing key %q in %s", tt.wantKey, raw)
			}
		})
	}

	t.Run("array fallback", func(t *testing.T) {
		raw, salvaged, err := ParseStructuredJSON("items: [1, 2, 3] end")
		if err != nil {
			t.Fatalf("ParseStructuredJSON() error = %v", err)
		}
		if !salvaged || string(raw) != "[1, 2, 3]" {
			t.Errorf("got %s (salvaged=%v), want [1, 2, 3]", raw, salvaged)
		}
	})

	t.Run("no json", func(t *testing.T) {
		for _, content := range []string{"", "   ", "no structured data here", "{broken"} {
			if _, _, err := ParseStructuredJSON(content); !errors.Is(err, ErrNoJSON) {
				t.Errorf("ParseStructuredJSON(%q) error = %v, want ErrNoJSON", content, err)
			}
		}
	})
}
