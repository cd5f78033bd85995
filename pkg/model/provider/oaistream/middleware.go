package oaistream

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/openai/openai-go/v3/option"
	"github.com/tidwall/gjson"
)

// ErrorBodyMiddleware keeps backend error details visible.
//
// The SDK only reads the "error" object of a failed response. Backends that
// answer with plain text, a string "error" or some other shape would lose
// their message, so those bodies are rewritten as {"error": <body>}.
func ErrorBodyMiddleware() option.Middleware {
	return func(req *http.Request, next option.MiddlewareNext) (*http.Response, error) {
		resp, err := next(req)
		if err != nil || resp == nil || resp.StatusCode < 400 {
			return resp, err
		}

		body, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil || hasErrorObject(body) {
			resp.Body = io.NopCloser(bytes.NewReader(body))
			return resp, nil
		}

		wrapped := wrapErrorBody(body, resp.StatusCode)
		resp.Body = io.NopCloser(bytes.NewReader(wrapped))
		resp.ContentLength = int64(len(wrapped))
		return resp, nil
	}
}

func hasErrorObject(body []byte) bool {
	if !gjson.ValidBytes(body) {
		return false
	}
	return gjson.GetBytes(body, "error").IsObject()
}

func wrapErrorBody(body []byte, statusCode int) []byte {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		body = []byte(http.StatusText(statusCode))
	}
	if json.Valid(body) {
		return append(append([]byte(`{"error":`), body...), '}')
	}

	wrapped, err := json.Marshal(map[string]any{
		"error": map[string]any{"message": string(body)},
	})
	if err != nil {
		return body
	}
	return wrapped
}
