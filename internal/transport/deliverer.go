package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"agrosync/internal/models"

	"github.com/rs/zerolog"
)

// Deliverer sends one queue item to the remote endpoint. Implementations
// must classify failures as *TransportError or *DataError so the
// coordinator can decide between fail-fast and continue.
type Deliverer interface {
	Deliver(ctx context.Context, item *models.QueueItem) (*models.DeliveryAck, error)
}

// HTTPDeliverer posts queue items as JSON to a sync endpoint.
type HTTPDeliverer struct {
	endpoint string
	client   *http.Client
	logger   *zerolog.Logger
}

func NewHTTPDeliverer(baseURL, syncPath string, timeout time.Duration, logger *zerolog.Logger) *HTTPDeliverer {
	return &HTTPDeliverer{
		endpoint: strings.TrimRight(baseURL, "/") + syncPath,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

func (d *HTTPDeliverer) Deliver(ctx context.Context, item *models.QueueItem) (*models.DeliveryAck, error) {
	body, err := json.Marshal(item)
	if err != nil {
		return nil, &DataError{Kind: KindValidation, Err: fmt.Errorf("encode item: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Kind: KindNetwork, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, classifyRequestError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var ack models.DeliveryAck
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&ack); err != nil {
			// A 2xx with an undecodable body still counts as delivered.
			d.logger.Warn().Err(err).Str("item", item.ID).Msg("Delivery ack decode failed")
			ack = models.DeliveryAck{SyncedAt: time.Now()}
		}
		if ack.SyncedAt.IsZero() {
			ack.SyncedAt = time.Now()
		}
		return &ack, nil
	}

	return nil, classifyStatus(resp.StatusCode)
}

// classifyRequestError maps client.Do failures onto the error taxonomy.
func classifyRequestError(err error) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &TransportError{Kind: KindTimeout, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TransportError{Kind: KindTimeout, Err: err}
	}
	var ue *url.Error
	if errors.As(err, &ue) && ue.Timeout() {
		return &TransportError{Kind: KindTimeout, Err: err}
	}
	return &TransportError{Kind: KindNetwork, Err: err}
}

func classifyStatus(status int) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &DataError{Kind: KindAuth, Status: status, Err: fmt.Errorf("remote rejected credentials")}
	case status >= 400 && status < 500:
		return &DataError{Kind: KindValidation, Status: status, Err: fmt.Errorf("remote rejected item")}
	default:
		// 5xx and anything unexpected: the remote is unhealthy, back off.
		return &TransportError{Kind: KindNetwork, Err: fmt.Errorf("remote returned status %d", status)}
	}
}
