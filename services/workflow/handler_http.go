package workflow

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const defaultRequestTimeout = 30 * time.Second

var allowedMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodPost:    true,
	http.MethodPut:     true,
	http.MethodDelete:  true,
	http.MethodPatch:   true,
	http.MethodHead:    true,
	http.MethodOptions: true,
}

// HTTPDoer is the outbound HTTP collaborator.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPRequestHandler issues an outbound HTTP request with template-rendered
// url, headers, query params, and body, and parses the response body by
// content type.
//
// Config:
//
//	url               target URL (required, templated)
//	method            GET/POST/PUT/DELETE/PATCH/HEAD/OPTIONS (default GET)
//	headers           map of header values (templated)
//	params            map of query params (templated)
//	body              string or object body (templated recursively)
//	timeout           seconds (default 30)
//	follow_redirects  default true
type HTTPRequestHandler struct {
	client HTTPDoer
}

func (h *HTTPRequestHandler) ValidateConfig(config map[string]any) error {
	if _, ok := stringConfig(config, "url"); !ok {
		return handlerErrf("http_request", "missing or invalid required config field %q", "url")
	}
	if raw, ok := config["method"]; ok {
		method, isString := raw.(string)
		if !isString || !allowedMethods[strings.ToUpper(method)] {
			return handlerErrf("http_request", "invalid HTTP method %v", raw)
		}
	}
	return nil
}

func (h *HTTPRequestHandler) Execute(ctx context.Context, config map[string]any, inputs Inputs) (map[string]any, error) {
	if err := h.ValidateConfig(config); err != nil {
		return nil, err
	}

	tmplCtx := inputs.Context()

	rawURL, _ := stringConfig(config, "url")
	target := RenderTemplate(rawURL, tmplCtx)

	method := http.MethodGet
	if m, ok := stringConfig(config, "method"); ok {
		method = strings.ToUpper(m)
	}

	headers := RenderStringMap(mapConfig(config, "headers"), tmplCtx)
	params := RenderStringMap(mapConfig(config, "params"), tmplCtx)

	timeout := defaultRequestTimeout
	if raw, ok := config["timeout"]; ok {
		if secs, numeric := toFloat64(raw); numeric && secs > 0 {
			timeout = time.Duration(secs * float64(time.Second))
		}
	}

	body, contentType, err := h.buildBody(config["body"], tmplCtx)
	if err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, target, body)
	if err != nil {
		return nil, handlerWrap("http_request", err, "invalid request for %s %s", method, target)
	}
	if contentType != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range headers {
		req.Header.Set(k, fmt.Sprintf("%v", v))
	}
	if len(params) > 0 {
		q := req.URL.Query()
		for k, v := range params {
			q.Set(k, fmt.Sprintf("%v", v))
		}
		req.URL.RawQuery = q.Encode()
	}

	slog.Info("executing http request", "method", method, "url", req.URL.Redacted())

	start := time.Now()
	resp, err := h.doRequest(config, req)
	if err != nil {
		if reqCtx.Err() == context.DeadlineExceeded {
			return nil, handlerWrap("http_request", err, "request timed out after %s", timeout)
		}
		return nil, handlerWrap("http_request", err, "request failed: %v", err)
	}
	defer resp.Body.Close()

	parsed, err := parseResponseBody(resp)
	if err != nil {
		return nil, handlerWrap("http_request", err, "reading response body failed")
	}

	respHeaders := make(map[string]any, len(resp.Header))
	for k := range resp.Header {
		respHeaders[k] = resp.Header.Get(k)
	}

	status := "success"
	if resp.StatusCode >= 400 {
		status = "error"
	}

	return map[string]any{
		"status_code": resp.StatusCode,
		"headers":     respHeaders,
		"body":        parsed,
		"url":         req.URL.String(),
		"method":      method,
		"elapsed_ms":  time.Since(start).Milliseconds(),
		"status":      status,
	}, nil
}

// buildBody renders the configured body and returns it as a reader plus the
// implied content type.
func (h *HTTPRequestHandler) buildBody(raw any, tmplCtx map[string]any) (io.Reader, string, error) {
	switch v := raw.(type) {
	case nil:
		return nil, "", nil
	case string:
		return strings.NewReader(RenderTemplate(v, tmplCtx)), "", nil
	case map[string]any:
		rendered := RenderValue(v, tmplCtx)
		encoded, err := json.Marshal(rendered)
		if err != nil {
			return nil, "", handlerWrap("http_request", err, "encoding request body failed")
		}
		return bytes.NewReader(encoded), "application/json", nil
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, "", handlerWrap("http_request", err, "encoding request body failed")
		}
		return bytes.NewReader(encoded), "application/json", nil
	}
}

// doRequest dispatches via the injected client, disabling redirects when
// asked and the client supports it.
func (h *HTTPRequestHandler) doRequest(config map[string]any, req *http.Request) (*http.Response, error) {
	if follow, ok := config["follow_redirects"].(bool); ok && !follow {
		if base, isHTTP := h.client.(*http.Client); isHTTP {
			c := *base
			c.CheckRedirect = func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			}
			return c.Do(req)
		}
	}
	return h.client.Do(req)
}

// parseResponseBody decodes the body by content type: JSON decoded, text
// kinds returned as strings, anything else base64-wrapped.
func parseResponseBody(resp *http.Response) (any, error) {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}

	contentType := resp.Header.Get("Content-Type")
	switch {
	case strings.Contains(contentType, "application/json"):
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			slog.Warn("response declared JSON but did not parse; returning text", "error", err)
			return string(raw), nil
		}
		return decoded, nil
	case strings.HasPrefix(contentType, "text/"), strings.Contains(contentType, "application/xml"):
		return string(raw), nil
	default:
		return map[string]any{
			"type":         "binary",
			"content_type": contentType,
			"size":         len(raw),
			"data":         base64.StdEncoding.EncodeToString(raw),
		}, nil
	}
}
