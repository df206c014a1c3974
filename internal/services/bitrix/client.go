// Package bitrix talks to the Bitrix24 REST API through inbound webhooks.
package bitrix

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"crm-automation/internal/config"
)

const (
	requestTimeout = 60 * time.Second
	maxAttempts    = 3
	retryPause     = 2 * time.Second
	// Pause between consecutive API calls so the portal rate limit is
	// never hit during pagination.
	callPacing = time.Second
)

type Client struct {
	config     config.BitrixConfig
	httpClient *http.Client
	logger     *zap.Logger
}

// Response is the raw envelope every REST method answers with.
type Response struct {
	Result json.RawMessage `json:"result"`
	Next   int             `json:"next"`
	Total  int             `json:"total"`
	Error  string          `json:"error"`
}

func NewClient(cfg config.BitrixConfig, logger *zap.Logger) *Client {
	return &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: requestTimeout},
		logger:     logger,
	}
}

func (c *Client) webhookURL(code, method string) string {
	return fmt.Sprintf("https://%s/rest/%s/%s/%s.json", c.config.Domain, c.config.UserID, code, method)
}

// Request posts params to a webhook method and decodes the envelope. Network
// failures are retried up to three times with a fixed pause.
func (c *Client) Request(ctx context.Context, code, method string, params map[string]any) (*Response, error) {
	if params == nil {
		params = map[string]any{}
	}

	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}

	url := c.webhookURL(code, method)
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			c.logger.Warn("Bitrix request failed",
				zap.String("method", method),
				zap.Int("attempt", attempt),
				zap.Error(err))
			if attempt < maxAttempts {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(retryPause):
				}
			}
			continue
		}

		var envelope Response
		decodeErr := json.NewDecoder(resp.Body).Decode(&envelope)
		_ = resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("bitrix status %d", resp.StatusCode)
			c.logger.Warn("Bitrix returned non-OK status",
				zap.String("method", method),
				zap.Int("status", resp.StatusCode),
				zap.Int("attempt", attempt))
			if attempt < maxAttempts {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(retryPause):
				}
			}
			continue
		}
		if decodeErr != nil {
			return nil, fmt.Errorf("decode response: %w", decodeErr)
		}
		if envelope.Error != "" {
			return nil, fmt.Errorf("bitrix error: %s", envelope.Error)
		}
		return &envelope, nil
	}

	return nil, fmt.Errorf("bitrix request %s after %d attempts: %w", method, maxAttempts, lastErr)
}

// Query resolves a logical query name from the config map and returns the
// decoded result field. Calls are paced one second apart.
func (c *Client) Query(ctx context.Context, name string, params map[string]any) (json.RawMessage, error) {
	resp, err := c.QueryRaw(ctx, name, params)
	if err != nil {
		return nil, err
	}
	if len(resp.Result) == 0 || string(resp.Result) == "null" {
		c.logger.Warn("Bitrix query returned empty result", zap.String("query", name))
		return nil, nil
	}
	return resp.Result, nil
}

// QueryRaw is Query keeping the whole envelope, used for pagination.
func (c *Client) QueryRaw(ctx context.Context, name string, params map[string]any) (*Response, error) {
	q, ok := c.config.Queries[name]
	if !ok {
		return nil, fmt.Errorf("unknown bitrix query %q", name)
	}

	resp, err := c.Request(ctx, q.Code, q.Method, params)
	if err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(callPacing):
	}

	return resp, nil
}

// AllPages walks a list method until the portal stops returning a next
// offset, concatenating the result arrays.
func (c *Client) AllPages(ctx context.Context, name string, params map[string]any) ([]json.RawMessage, error) {
	if params == nil {
		params = map[string]any{}
	}

	var items []json.RawMessage
	start := 0

	for {
		params["start"] = start
		resp, err := c.QueryRaw(ctx, name, params)
		if err != nil {
			return nil, err
		}

		var page []json.RawMessage
		if len(resp.Result) > 0 && string(resp.Result) != "null" {
			if err := json.Unmarshal(resp.Result, &page); err != nil {
				return nil, fmt.Errorf("decode page at %d: %w", start, err)
			}
		}
		items = append(items, page...)

		if resp.Next == 0 || len(page) == 0 {
			break
		}
		start = resp.Next
	}

	c.logger.Info("Bitrix pages fetched",
		zap.String("query", name),
		zap.Int("items", len(items)))
	return items, nil
}

// EnumField is one value of a Bitrix enumeration user field.
type EnumField struct {
	ID    string `json:"ID"`
	Value string `json:"VALUE"`
}

// FieldInfo is the enumeration description returned by *.fields methods.
type FieldInfo struct {
	Items []EnumField `json:"items"`
}

// ParseFields maps selected enumeration IDs to their display values. It
// fails when any requested field ends up without a single resolved value.
func ParseFields(fields map[string]FieldInfo, needed map[string][]int) (map[string][]string, error) {
	data := make(map[string][]string)

	for field, wanted := range needed {
		raw, ok := fields[field]
		if !ok || len(raw.Items) == 0 {
			continue
		}
		var values []string
		for _, id := range wanted {
			for _, item := range raw.Items {
				if item.ID == fmt.Sprint(id) {
					values = append(values, item.Value)
				}
			}
		}
		data[field] = values
	}

	for field := range needed {
		if len(data[field]) == 0 {
			return nil, fmt.Errorf("could not resolve field %s", field)
		}
	}
	return data, nil
}
