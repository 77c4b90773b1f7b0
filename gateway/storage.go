package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
)

// apiEnvelope is the remote service's generic response wrapper.
type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

// StoreValue posts value as text/plain to /data/{key}. True iff the remote answered 200.
func (g *Gateway) StoreValue(ctx context.Context, key, value string) bool {
	_, err := g.send(ctx, "store", http.MethodPost, "/data/"+url.PathEscape(key), "text/plain", []byte(value))
	return err == nil
}

// FetchValue reads the value stored under key.
// It reports false unless the remote answered 200 with success and a string payload.
func (g *Gateway) FetchValue(ctx context.Context, key string) (string, bool) {
	body, err := g.send(ctx, "fetch", http.MethodGet, "/data/"+url.PathEscape(key), "", nil)
	if err != nil {
		return "", false
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		g.logs.Warn("Fetch response parse failed", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		return "", false
	}
	if !envelope.Success {
		g.logs.Warn("Remote has no value for key", map[string]interface{}{
			"key":   key,
			"error": envelope.Error,
		})
		return "", false
	}

	var value string
	if err := json.Unmarshal(envelope.Data, &value); err != nil {
		g.logs.Warn("Fetch response has invalid data", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		return "", false
	}

	return value, true
}
