package transitdata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// PushOptions bounds a single push delivery attempt.
type PushOptions struct {
	MaxResponseSize int
	Timeout         time.Duration
}

// PushProvider delivers a payload to a single recipient, identified
// by an opaque endpoint (a push token, device id, or webhook URL
// depending on the sink implementation). Implementations used by
// notify must return a distinguishable error so the caller can prune
// a dead endpoint from the recipient's token list.
type PushProvider interface {
	Send(ctx context.Context, endpoint string, payload interface{}, options PushOptions) error
}

// HTTPPushProvider is the default PushProvider: it POSTs the payload
// as JSON to endpoint, the bounded-client shape (context, timeout,
// capped response read) repurposed from the declared-feed HTTP
// fetcher for outbound delivery instead of inbound download.
type HTTPPushProvider struct {
	Headers map[string]string
}

// NewHTTPPushProvider returns a PushProvider with the given default
// headers (e.g. an Authorization bearer token for the upstream
// notification gateway) applied to every send.
func NewHTTPPushProvider(headers map[string]string) *HTTPPushProvider {
	return &HTTPPushProvider{Headers: headers}
}

func (p *HTTPPushProvider) Send(ctx context.Context, endpoint string, payload interface{}, options PushOptions) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling push payload: %w", err)
	}

	client := &http.Client{Timeout: options.Timeout}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range p.Headers {
		req.Header.Add(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("sending push: %w", err)
	}
	defer resp.Body.Close()

	var reader io.Reader = resp.Body
	if options.MaxResponseSize > 0 {
		reader = io.LimitReader(resp.Body, int64(options.MaxResponseSize))
	}
	io.Copy(io.Discard, reader)

	if resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound {
		return ErrEndpointGone
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("push endpoint returned status %d", resp.StatusCode)
	}

	return nil
}

// ErrEndpointGone signals the recipient endpoint no longer accepts
// deliveries (404/410): the caller should prune it from the user's
// push token list.
var ErrEndpointGone = fmt.Errorf("push endpoint no longer valid")
