// Package dataapi reads customs declarations from the authoritative Data API.
// The queue only carries pointers (MRNs); this client fetches the record.
package dataapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/drblury/tradegate/internal/gateway/jsoncodec"
	"github.com/drblury/tradegate/internal/gateway/logging"
	"github.com/drblury/tradegate/internal/gateway/model"
)

const defaultTimeout = 10 * time.Second

// Fetcher is the narrow read contract the consumers depend on.
type Fetcher interface {
	GetCustomsDeclaration(ctx context.Context, mrn string) (*model.CustomsDeclaration, error)
}

type Client struct {
	baseURL string
	client  *http.Client
	logger  logging.ServiceLogger
}

// New builds a read-only Data API client.
func New(baseURL string, timeout time.Duration, logger logging.ServiceLogger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// GetCustomsDeclaration fetches the declaration identified by mrn. A 404
// returns (nil, nil): absence is a domain condition the caller classifies,
// not a transport failure.
func (c *Client) GetCustomsDeclaration(ctx context.Context, mrn string) (*model.CustomsDeclaration, error) {
	endpoint := fmt.Sprintf("%s/customs-declarations/%s", c.baseURL, url.PathEscape(mrn))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("data api request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		c.logger.Info("customs declaration not found", logging.LogFields{"mrn": mrn})
		return nil, nil
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("data api returned status %d for mrn %s", resp.StatusCode, mrn)
	}

	var declaration model.CustomsDeclaration
	if err := jsoncodec.Decode(resp.Body, &declaration); err != nil {
		return nil, fmt.Errorf("data api response decode failed: %w", err)
	}
	if declaration.MovementReferenceNumber == "" {
		declaration.MovementReferenceNumber = mrn
	}
	return &declaration, nil
}
