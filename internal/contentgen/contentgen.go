// Package contentgen produces draft artifact content for proposals. The
// engine records a prompt hash for every generated draft so the audit trail
// can tie an applied artifact back to the exact generation input.
package contentgen

import (
	"bytes"
	"context"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"text/template"
	"time"
)

// Generator turns a template id and a context map into draft content.
type Generator interface {
	Generate(ctx context.Context, templateID string, params map[string]any) (content []byte, promptHash string, err error)
}

//go:embed templates/*.md.tmpl
var templateFS embed.FS

var funcMap = template.FuncMap{
	"lower": strings.ToLower,
	"upper": strings.ToUpper,
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
	"now": func() time.Time { return time.Now().UTC() },
}

// TemplateGenerator renders embedded markdown templates. It is the built-in
// backend; a model-backed generator can replace it behind the same interface.
type TemplateGenerator struct {
	templates *template.Template
}

func NewTemplateGenerator() (*TemplateGenerator, error) {
	tmpl, err := template.New("contentgen").Funcs(funcMap).ParseFS(templateFS, "templates/*.md.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse content templates: %w", err)
	}
	return &TemplateGenerator{templates: tmpl}, nil
}

// TemplateIDs lists the available template ids, sorted.
func (g *TemplateGenerator) TemplateIDs() []string {
	var ids []string
	for _, t := range g.templates.Templates() {
		name := t.Name()
		if !strings.HasSuffix(name, ".md.tmpl") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".md.tmpl"))
	}
	sort.Strings(ids)
	return ids
}

func (g *TemplateGenerator) Generate(ctx context.Context, templateID string, params map[string]any) ([]byte, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}

	name := templateID + ".md.tmpl"
	tmpl := g.templates.Lookup(name)
	if tmpl == nil {
		return nil, "", fmt.Errorf("unknown content template %q", templateID)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, params); err != nil {
		return nil, "", fmt.Errorf("render template %s: %w", templateID, err)
	}

	hash, err := PromptHash(templateID, params)
	if err != nil {
		return nil, "", err
	}
	return buf.Bytes(), hash, nil
}

// PromptHash is the canonical hash of a generation input: template id plus
// the context map with keys in sorted order. Identical inputs always hash
// identically, regardless of map iteration order.
func PromptHash(templateID string, params map[string]any) (string, error) {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	h.Write([]byte(templateID))
	h.Write([]byte{0x1f})
	for _, k := range keys {
		v, err := json.Marshal(params[k])
		if err != nil {
			return "", fmt.Errorf("hash prompt param %s: %w", k, err)
		}
		h.Write([]byte(k))
		h.Write([]byte{0x1e})
		h.Write(v)
		h.Write([]byte{0x1f})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
