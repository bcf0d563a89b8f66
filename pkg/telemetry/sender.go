package telemetry

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// BeaconTimeout bounds the fire-and-forget teardown send. Long enough to
// get the request out, short enough not to stall shutdown.
const BeaconTimeout = 2 * time.Second

// Sender delivers batches to an ingest endpoint.
type Sender interface {
	// Send delivers one batch. An error means the batch was not accepted
	// and may be retried under the same batch id.
	Send(ctx context.Context, b *Batch) error

	// SendBeacon fires a best-effort delivery at teardown: short timeout,
	// response discarded, errors ignored.
	SendBeacon(b *Batch)
}

// HTTPSender posts JSON batches to an ingest URL.
type HTTPSender struct {
	endpoint string
	client   *http.Client
}

var _ Sender = (*HTTPSender)(nil)

// NewHTTPSender creates a sender for the given ingest URL. A nil client
// uses http.DefaultClient.
func NewHTTPSender(endpoint string, client *http.Client) *HTTPSender {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSender{endpoint: endpoint, client: client}
}

// Send posts the batch and expects a 2xx response.
func (s *HTTPSender) Send(ctx context.Context, b *Batch) error {
	data, err := b.Encode()
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post batch: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("ingest rejected batch: %s", resp.Status)
	}
	return nil
}

// SendBeacon fires the batch with a short deadline and ignores the outcome.
func (s *HTTPSender) SendBeacon(b *Batch) {
	ctx, cancel := context.WithTimeout(context.Background(), BeaconTimeout)
	defer cancel()
	_ = s.Send(ctx, b)
}
