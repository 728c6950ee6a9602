package workflow

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"dario.cat/mergo"
)

// placeholderPattern matches {key} tokens. Keys may be workflow-input fields,
// node ids, or flattened nodeID_field names.
var placeholderPattern = regexp.MustCompile(`\{([^{}\s]+)\}`)

// BuildContext assembles the flat variable set a node's templates render
// against: the workflow input at top level, each prior node's output keyed by
// node id, and for map-valued outputs additional flattened {nodeID}_{field}
// keys. Later sources override earlier ones.
func BuildContext(input map[string]any, outputs map[string]map[string]any) map[string]any {
	ctx := make(map[string]any, len(input)+2*len(outputs))

	if err := mergo.Merge(&ctx, input, mergo.WithOverride); err != nil {
		// Merge on plain maps only fails for exotic values; fall back to copy.
		slog.Debug("context merge fell back to copy", "error", err)
		for k, v := range input {
			ctx[k] = v
		}
	}

	for nodeID, output := range outputs {
		ctx[nodeID] = output
		for field, value := range output {
			ctx[fmt.Sprintf("%s_%s", nodeID, field)] = value
		}
	}

	return ctx
}

// RenderTemplate substitutes {key} placeholders in s by context lookup.
// Unresolved placeholders are left untouched rather than failing, so a
// template referencing a key that does not exist renders unchanged.
func RenderTemplate(s string, ctx map[string]any) string {
	return placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		key := match[1 : len(match)-1]
		value, ok := ctx[key]
		if !ok {
			slog.Debug("template placeholder unresolved", "key", key)
			return match
		}
		return formatValue(value)
	})
}

// RenderValue renders any JSON-like value: strings as templates, maps and
// lists recursively, everything else unchanged.
func RenderValue(value any, ctx map[string]any) any {
	switch v := value.(type) {
	case string:
		return RenderTemplate(v, ctx)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = RenderValue(item, ctx)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			if s, ok := item.(string); ok {
				out[i] = RenderTemplate(s, ctx)
			} else {
				out[i] = item
			}
		}
		return out
	default:
		return value
	}
}

// RenderStringMap renders the string values of a map, passing other values
// through. Used for header/param/filter style configs.
func RenderStringMap(data map[string]any, ctx map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		if s, ok := v.(string); ok {
			out[k] = RenderTemplate(s, ctx)
		} else {
			out[k] = v
		}
	}
	return out
}

// formatValue stringifies a substituted value. Lists of objects exposing a
// "text" field collapse to newline-joined text (so search results drop
// straight into prompts); string lists newline-join; maps render as indented
// JSON; nil is empty.
func formatValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case []any:
		if len(v) == 0 {
			return ""
		}
		if texts, ok := textFields(v); ok {
			return strings.Join(texts, "\n")
		}
		lines := make([]string, len(v))
		for i, item := range v {
			if s, ok := item.(string); ok {
				lines[i] = s
			} else {
				lines[i] = fmt.Sprintf("%v", item)
			}
		}
		return strings.Join(lines, "\n")
	case map[string]any:
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// textFields extracts the "text" field of every element when all elements are
// objects carrying one.
func textFields(items []any) ([]string, bool) {
	texts := make([]string, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, false
		}
		text, ok := m["text"]
		if !ok {
			return nil, false
		}
		texts[i] = fmt.Sprintf("%v", text)
	}
	return texts, true
}
