// Package pubsub wraps the Pub/Sub v2 client with the storefront's topic and
// subscription names.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/gcp"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

type Client struct {
	raw     *pubsub.Client
	project string
	names   config.PubSubConfig
}

var errNotInitialized = errors.New("pubsub client not initialized")

// NewClient dials Pub/Sub and fails unless the orders topic and every
// configured subscription already exist. Subscriptions are provisioned by infrastructure, never here.
func NewClient(ctx context.Context, gcpCfg config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	project := strings.TrimSpace(gcpCfg.ProjectID)
	if project == "" {
		return nil, errors.New("gcp project id is required")
	}
	raw, err := pubsub.NewClient(ctx, project, gcp.ClientOptions(gcpCfg)...)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}
	c := &Client{raw: raw, project: project, names: cfg}
	if err := c.Ping(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "subscriptions", c.subscriptions()), "pubsub client initialized")
	}
	return c, nil
}

func (c *Client) subscriptions() []string {
	var out []string
	for _, name := range []string{c.names.NotificationSubscription, c.names.AnalyticsSubscription} {
		if strings.TrimSpace(name) != "" {
			out = append(out, name)
		}
	}
	return out
}

// Ping looks up the orders topic and every configured subscription
// concurrently.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.raw == nil {
		return errNotInitialized
	}
	topic := gcp.ResourceName(c.project, "topics", c.names.OrdersTopic)
	if topic == "" {
		return errors.New("pubsub orders topic is required")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := c.raw.TopicAdminClient.GetTopic(gctx, &pubsubpb.GetTopicRequest{Topic: topic})
		return describe("topic", topic, err)
	})
	for _, name := range c.subscriptions() {
		full := gcp.ResourceName(c.project, "subscriptions", name)
		g.Go(func() error {
			_, err := c.raw.SubscriptionAdminClient.GetSubscription(gctx, &pubsubpb.GetSubscriptionRequest{Subscription: full})
			return describe("subscription", full, err)
		})
	}
	return g.Wait()
}

func describe(kind, name string, err error) error {
	switch {
	case err == nil:
		return nil
	case gcp.IsNotFound(err):
		return fmt.Errorf("%s %q does not exist", kind, name)
	default:
		return fmt.Errorf("checking %s %q: %w", kind, name, err)
	}
}

// Subscriber returns nil when the name is blank.
func (c *Client) Subscriber(name string) *pubsub.Subscriber {
	if c == nil || c.raw == nil {
		return nil
	}
	full := gcp.ResourceName(c.project, "subscriptions", name)
	if full == "" {
		return nil
	}
	return c.raw.Subscriber(full)
}

func (c *Client) NotificationSubscription() *pubsub.Subscriber {
	return c.Subscriber(c.names.NotificationSubscription)
}

func (c *Client) AnalyticsSubscription() *pubsub.Subscriber {
	return c.Subscriber(c.names.AnalyticsSubscription)
}

// Publisher returns a new handle for topic. Callers keep the handle and Stop
// it on shutdown; each handle batches on its own.
func (c *Client) Publisher(topic string) *pubsub.Publisher {
	if c == nil || c.raw == nil {
		return nil
	}
	full := gcp.ResourceName(c.project, "topics", topic)
	if full == "" {
		return nil
	}
	return c.raw.Publisher(full)
}

func (c *Client) Close() error {
	if c == nil || c.raw == nil {
		return nil
	}
	return c.raw.Close()
}
