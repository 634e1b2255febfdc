package opensearch

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mstgnz/storepay/infra/config"
	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
)

const (
	indexPrefix     = "storepay"
	systemLogsIndex = "storepay-system-logs"
)

// Client wraps the OpenSearch client
type Client struct {
	client  *opensearch.Client
	enabled bool
}

// NewClient creates a new OpenSearch client. No request is made until first use.
func NewClient(cfg config.OpenSearchConfig) (*Client, error) {
	opensearchConfig := opensearch.Config{
		Addresses: []string{cfg.URL},
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: true, // For development/testing
			},
		},
		MaxRetries:    3,
		RetryOnStatus: []int{502, 503, 504, 429},
		RetryBackoff: func(i int) time.Duration {
			return time.Duration(i) * 100 * time.Millisecond
		},
	}

	if cfg.User != "" && cfg.Pass != "" {
		opensearchConfig.Username = cfg.User
		opensearchConfig.Password = cfg.Pass
	}

	client, err := opensearch.NewClient(opensearchConfig)
	if err != nil {
		return nil, fmt.Errorf("opensearch: create client: %w", err)
	}

	return &Client{
		client:  client,
		enabled: cfg.Enabled,
	}, nil
}

// GetClient returns the underlying OpenSearch client
func (c *Client) GetClient() *opensearch.Client {
	return c.client
}

// IsEnabled returns whether OpenSearch logging is enabled
func (c *Client) IsEnabled() bool {
	return c.enabled
}

// GetLogIndexName returns the gateway exchange index for a gateway
func (c *Client) GetLogIndexName(gateway string) string {
	if gateway == "" {
		gateway = "unknown"
	}
	return indexPrefix + "-" + strings.ToLower(gateway) + "-logs"
}

// Ping reports whether the cluster answers
func (c *Client) Ping(ctx context.Context) error {
	res, err := opensearchapi.PingRequest{}.Do(ctx, c.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("opensearch ping: %s", res.Status())
	}
	return nil
}

// EnsureIndices creates the gateway exchange indices that do not exist yet
func (c *Client) EnsureIndices(ctx context.Context, gateways []string) error {
	for _, gateway := range gateways {
		indexName := c.GetLogIndexName(gateway)

		exists, err := c.indexExists(ctx, indexName)
		if err != nil {
			return fmt.Errorf("opensearch: check index %s: %w", indexName, err)
		}
		if exists {
			continue
		}
		if err := c.createLogIndex(ctx, indexName); err != nil {
			return fmt.Errorf("opensearch: create index %s: %w", indexName, err)
		}
	}
	return nil
}

func (c *Client) indexExists(ctx context.Context, indexName string) (bool, error) {
	req := opensearchapi.IndicesExistsRequest{
		Index: []string{indexName},
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return false, err
	}
	defer res.Body.Close()

	return res.StatusCode == http.StatusOK, nil
}

// createLogIndex creates an index for gateway exchanges with an explicit mapping
func (c *Client) createLogIndex(ctx context.Context, indexName string) error {
	mapping := `{
		"mappings": {
			"properties": {
				"timestamp":  {"type": "date", "format": "strict_date_optional_time||epoch_millis"},
				"gateway":    {"type": "keyword"},
				"operation":  {"type": "keyword"},
				"method":     {"type": "keyword"},
				"endpoint":   {"type": "keyword"},
				"request_id": {"type": "keyword"},
				"order_id":   {"type": "long"},
				"reference":  {"type": "keyword"},
				"amount":     {"type": "scaled_float", "scaling_factor": 100},
				"currency":   {"type": "keyword"},
				"success":    {"type": "boolean"},
				"request": {
					"type": "object",
					"properties": {
						"body": {"type": "text"}
					}
				},
				"response": {
					"type": "object",
					"properties": {
						"status_code":        {"type": "integer"},
						"body":               {"type": "text"},
						"processing_time_ms": {"type": "integer"}
					}
				},
				"error": {
					"type": "object",
					"properties": {
						"code":    {"type": "keyword"},
						"message": {"type": "text"}
					}
				}
			}
		},
		"settings": {
			"number_of_shards": 1,
			"number_of_replicas": 0
		}
	}`

	req := opensearchapi.IndicesCreateRequest{
		Index: indexName,
		Body:  strings.NewReader(mapping),
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("index creation error: %s", res.String())
	}

	return nil
}
