// Package bigquery wraps the BigQuery client for streaming inserts into the
// analytics dataset.
package bigquery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/gcp"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

const metadataTimeout = 10 * time.Second

var errNotInitialized = errors.New("bigquery client not initialized")

type Client struct {
	raw     *bigquery.Client
	dataset *bigquery.Dataset
	tables  []string
}

// NewClient connects and checks that the dataset and every configured table
// exist. Tables are created by infrastructure, never here.
func NewClient(ctx context.Context, gcpCfg config.GCPConfig, cfg config.BigQueryConfig, logg *logger.Logger) (*Client, error) {
	project := strings.TrimSpace(gcpCfg.ProjectID)
	if project == "" {
		return nil, errors.New("gcp project id is required")
	}
	datasetID := strings.TrimSpace(cfg.Dataset)
	if datasetID == "" {
		return nil, errors.New("bigquery dataset is required")
	}
	tables := nonBlank(cfg.OrderEventsTable)
	if len(tables) == 0 {
		return nil, errors.New("bigquery table name is required")
	}

	raw, err := bigquery.NewClient(ctx, project, gcp.ClientOptions(gcpCfg)...)
	if err != nil {
		return nil, fmt.Errorf("creating bigquery client: %w", err)
	}
	c := &Client{raw: raw, dataset: raw.Dataset(datasetID), tables: tables}
	if err := c.Ping(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{"dataset": datasetID, "tables": tables}), "bigquery client initialized")
	}
	return c, nil
}

func nonBlank(names ...string) []string {
	var out []string
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// Ping reads dataset and table metadata.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.dataset == nil {
		return errNotInitialized
	}
	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()

	if _, err := c.dataset.Metadata(ctx); err != nil {
		return describe("dataset", c.dataset.DatasetID, err)
	}
	for _, name := range c.tables {
		if _, err := c.dataset.Table(name).Metadata(ctx); err != nil {
			return describe("table", name, err)
		}
	}
	return nil
}

func describe(kind, name string, err error) error {
	if gcp.IsNotFound(err) {
		return fmt.Errorf("%s %q does not exist", kind, name)
	}
	return fmt.Errorf("checking %s %q: %w", kind, name, err)
}

// InsertRows streams rows into table. rows is anything the inserter accepts:
// a struct, a ValueSaver or a slice of either.
func (c *Client) InsertRows(ctx context.Context, table string, rows any) error {
	if c == nil || c.dataset == nil {
		return errNotInitialized
	}
	table = strings.TrimSpace(table)
	if table == "" {
		return errors.New("bigquery table name is required")
	}
	return c.dataset.Table(table).Inserter().Put(ctx, rows)
}

func (c *Client) Close() error {
	if c == nil || c.raw == nil {
		return nil
	}
	return c.raw.Close()
}
