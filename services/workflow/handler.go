package workflow

import (
	"context"
	"encoding/json"
	"fmt"
)

// Inputs is everything a handler may draw on besides its own config: the
// original workflow input, the outputs of previously executed nodes keyed by
// node id, and the acting user for handlers that scope external resources
// per user.
type Inputs struct {
	WorkflowInput map[string]any
	NodeOutputs   map[string]map[string]any
	UserID        string
}

// Context returns the flat template context for these inputs.
func (in Inputs) Context() map[string]any {
	return BuildContext(in.WorkflowInput, in.NodeOutputs)
}

// NodeHandler performs one node kind's side effect. ValidateConfig must
// reject a broken config before Execute attempts anything external.
type NodeHandler interface {
	ValidateConfig(config map[string]any) error
	Execute(ctx context.Context, config map[string]any, inputs Inputs) (map[string]any, error)
}

// Registry maps node kinds to their handler implementation.
type Registry map[string]NodeHandler

// Get resolves the handler for a node kind. Unknown kinds fail here, at
// dispatch time; the graph validator never inspects kinds.
func (r Registry) Get(kind string) (NodeHandler, error) {
	h, ok := r[kind]
	if !ok {
		return nil, &HandlerError{Handler: "dispatch", Detail: fmt.Sprintf("unknown node kind %q", kind)}
	}
	return h, nil
}

// NewRegistry creates a registry with all built-in handlers wired to their
// collaborators.
func NewRegistry(generator TextGenerator, httpClient HTTPDoer, searcher VectorSearcher, executor RelationalExecutor) Registry {
	return Registry{
		KindLLMCall:      &LLMCallHandler{generator: generator},
		KindHTTPRequest:  &HTTPRequestHandler{client: httpClient},
		KindVectorSearch: &VectorSearchHandler{searcher: searcher},
		KindDBWrite:      &DBWriteHandler{executor: executor},
	}
}

// HandlerError is a structured execution failure naming the handler that
// produced it. It wraps the original cause when one exists.
type HandlerError struct {
	Handler string
	Detail  string
	Err     error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Handler, e.Detail)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// handlerErrf builds a HandlerError without a cause.
func handlerErrf(handler, format string, args ...any) *HandlerError {
	return &HandlerError{Handler: handler, Detail: fmt.Sprintf(format, args...)}
}

// handlerWrap builds a HandlerError wrapping cause.
func handlerWrap(handler string, cause error, format string, args ...any) *HandlerError {
	return &HandlerError{Handler: handler, Detail: fmt.Sprintf(format, args...), Err: cause}
}

// toFloat64 converts a config value to float64, handling the numeric types
// JSON decoding produces.
func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// toInt converts a config value to int, rejecting fractional floats.
func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	default:
		return 0, false
	}
}

// stringConfig returns config[key] when present and a string.
func stringConfig(config map[string]any, key string) (string, bool) {
	v, ok := config[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// mapConfig returns config[key] as a map, or an empty map when absent.
func mapConfig(config map[string]any, key string) map[string]any {
	if m, ok := config[key].(map[string]any); ok {
		return m
	}
	return map[string]any{}
}
