package contentgen

import (
	"context"
	"strings"
	"testing"
)

func TestGenerateCharter(t *testing.T) {
	gen, err := NewTemplateGenerator()
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}

	params := map[string]any{
		"ProjectName": "Website Relaunch",
		"Purpose":     "Replace the legacy site.",
		"Sponsor":     "alice",
		"Objectives":  []string{"New CMS", "Faster pages"},
	}
	content, hash, err := gen.Generate(context.Background(), "charter", params)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	text := string(content)
	if !strings.Contains(text, "# Project Charter: Website Relaunch") {
		t.Errorf("missing title:\n%s", text)
	}
	if !strings.Contains(text, "- New CMS") || !strings.Contains(text, "- Faster pages") {
		t.Errorf("missing objectives:\n%s", text)
	}
	if !strings.Contains(text, "To be defined during planning.") {
		t.Errorf("missing success-criteria default:\n%s", text)
	}
	if len(hash) != 64 {
		t.Errorf("prompt hash length %d, want 64", len(hash))
	}
}

func TestGenerateUnknownTemplate(t *testing.T) {
	gen, err := NewTemplateGenerator()
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}
	if _, _, err := gen.Generate(context.Background(), "nope", nil); err == nil {
		t.Fatal("expected error for unknown template")
	}
}

func TestTemplateIDs(t *testing.T) {
	gen, err := NewTemplateGenerator()
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}
	ids := gen.TemplateIDs()
	want := []string{"charter", "closure", "status-report"}
	if len(ids) != len(want) {
		t.Fatalf("got %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("got %v, want %v", ids, want)
		}
	}
}

func TestPromptHashStable(t *testing.T) {
	a := map[string]any{"x": 1, "y": "two", "z": []string{"a", "b"}}
	b := map[string]any{"z": []string{"a", "b"}, "y": "two", "x": 1}

	ha, err := PromptHash("charter", a)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	hb, err := PromptHash("charter", b)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if ha != hb {
		t.Fatal("hash depends on map insertion order")
	}

	hc, err := PromptHash("closure", a)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if hc == ha {
		t.Fatal("hash ignores template id")
	}
}
