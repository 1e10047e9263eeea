// Package templating renders campaign message bodies and subjects from
// per-contact data, grounded on original_source/main.py's
// render_template_strict, clean_email_body and generate_quoted_block.
package templating

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/lollxz/campaignctl/internal/domain"
	"github.com/osteele/liquid"
)

var templateVarPattern = regexp.MustCompile(`{{\s*([a-zA-Z0-9_]+)\s*}}`)

// aliasPairs lists the bidirectional variable-name aliases a template author
// may use interchangeably; if only one side of a pair is present in the
// binding set, the other is populated with the same value before rendering.
var aliasPairs = [][2]string{
	{"payment_link", "payments_link"},
	{"forms_link", "form_link"},
}

// Engine renders Liquid-style `{{var}}` templates in strict mode: any
// variable referenced in the template that is absent or empty in the
// bindings fails the render rather than silently substituting blank text.
type Engine struct {
	liquid *liquid.Engine
}

func NewEngine() *Engine {
	return &Engine{liquid: liquid.NewEngine()}
}

// Render substitutes every `{{var}}` placeholder in tpl using bindings,
// returning domain.ErrTemplateRender (wrapped via contactID/templateKey) if
// any referenced variable is missing, nil, or blank after trimming.
func (e *Engine) Render(contactID, templateKey, tpl string, bindings map[string]interface{}) (string, error) {
	if strings.TrimSpace(tpl) == "" {
		return "", &domain.ErrTemplateRender{ContactID: contactID, TemplateKey: templateKey, Reason: "template is empty"}
	}

	normalized := normalizeAliases(bindings)

	required := uniqueVars(templateVarPattern.FindAllStringSubmatch(tpl, -1))
	if len(required) == 0 {
		return tpl, nil
	}

	var missing []string
	for _, key := range required {
		v, ok := normalized[key]
		if !ok || v == nil || strings.TrimSpace(fmt.Sprint(v)) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return "", &domain.ErrTemplateRender{
			ContactID:   contactID,
			TemplateKey: templateKey,
			Reason:      "missing required template variable(s): " + strings.Join(missing, ", "),
		}
	}

	tmpl, err := e.liquid.ParseString(tpl)
	if err != nil {
		return "", &domain.ErrTemplateRender{ContactID: contactID, TemplateKey: templateKey, Reason: "parse error: " + err.Error()}
	}
	out, err := tmpl.RenderString(normalized)
	if err != nil {
		return "", &domain.ErrTemplateRender{ContactID: contactID, TemplateKey: templateKey, Reason: "render error: " + err.Error()}
	}

	if strings.TrimSpace(out) == "" {
		return "", &domain.ErrTemplateRender{ContactID: contactID, TemplateKey: templateKey, Reason: "rendered template is empty"}
	}
	if remaining := uniqueVars(templateVarPattern.FindAllStringSubmatch(out, -1)); len(remaining) > 0 {
		return "", &domain.ErrTemplateRender{
			ContactID:   contactID,
			TemplateKey: templateKey,
			Reason:      "failed to substitute all template variables: " + strings.Join(remaining, ", "),
		}
	}

	return out, nil
}

func normalizeAliases(bindings map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(bindings)+len(aliasPairs))
	for k, v := range bindings {
		out[k] = v
	}
	for _, pair := range aliasPairs {
		a, b := pair[0], pair[1]
		if v, ok := out[a]; ok {
			if _, exists := out[b]; !exists {
				out[b] = v
			}
		}
		if v, ok := out[b]; ok {
			if _, exists := out[a]; !exists {
				out[a] = v
			}
		}
	}
	return out
}

func uniqueVars(matches [][]string) []string {
	seen := make(map[string]bool, len(matches))
	var out []string
	for _, m := range matches {
		key := m[1]
		if !seen[key] {
			seen[key] = true
			out = append(out, key)
		}
	}
	return out
}
