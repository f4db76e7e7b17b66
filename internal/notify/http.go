package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPClient posts notifications to the email service at {baseURL}/v1/.
type HTTPClient struct {
	endpoint string
	client   *http.Client
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPClient{
		endpoint: strings.TrimRight(baseURL, "/") + "/v1/",
		client:   &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) SendNotification(ctx context.Context, req Request) (Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("marshal notification: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return Response{}, fmt.Errorf("build notification request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	res, err := c.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("send notification: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return Response{}, fmt.Errorf("read notification response: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return Response{}, fmt.Errorf("email service returned %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var out Response
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &out); err != nil {
			return Response{}, fmt.Errorf("decode notification response: %w", err)
		}
	}
	if out.Status == "" {
		out.Status = "SENT"
	}
	return out, nil
}
