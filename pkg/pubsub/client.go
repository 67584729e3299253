// Package pubsub holds the Google Cloud Pub/Sub handle the outbox relay
// publishes notification events through.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/bodyf1rst/billing-backend/pkg/config"
	"github.com/bodyf1rst/billing-backend/pkg/logger"
)

const (
	kindTopics        = "topics"
	kindSubscriptions = "subscriptions"
)

var errNotInitialized = errors.New("pubsub client not initialized")

type Client struct {
	ps           *pubsub.Client
	project      string
	topic        string
	subscription string
}

// NewClient connects to Pub/Sub and refuses to start when the notification
// topic, or the delivery subscription when set, does not exist.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	project := strings.TrimSpace(gcp.ProjectID)
	if project == "" {
		return nil, errors.New("gcp project id is required")
	}
	topic := strings.TrimSpace(cfg.NotificationTopic)
	if topic == "" {
		return nil, errors.New("pubsub notification topic is required")
	}

	var opts []option.ClientOption
	if creds := strings.TrimSpace(gcp.CredentialsJSON); creds != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(creds)))
	}
	ps, err := pubsub.NewClient(ctx, project, opts...)
	if err != nil {
		return nil, fmt.Errorf("new pubsub client: %w", err)
	}

	c := &Client{
		ps:           ps,
		project:      project,
		topic:        topic,
		subscription: strings.TrimSpace(cfg.NotificationSubscription),
	}
	if err := c.Ping(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	if logg != nil {
		logCtx := logg.WithFields(ctx, map[string]any{"project": project, "topic": topic})
		logg.Info(logCtx, "pubsub client ready")
	}
	return c, nil
}

// Publisher returns a handle for a topic id or full resource name, or nil
// when the name cannot be resolved.
func (c *Client) Publisher(name string) *pubsub.Publisher {
	if c == nil || c.ps == nil {
		return nil
	}
	full := resourceName(c.project, kindTopics, name)
	if full == "" {
		return nil
	}
	return c.ps.Publisher(full)
}

// Ping looks up the configured topic and subscription.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.ps == nil {
		return errNotInitialized
	}
	if err := c.lookup(ctx, kindTopics, c.topic); err != nil {
		return err
	}
	if c.subscription == "" {
		return nil
	}
	return c.lookup(ctx, kindSubscriptions, c.subscription)
}

func (c *Client) Close() error {
	if c == nil || c.ps == nil {
		return nil
	}
	return c.ps.Close()
}

func (c *Client) lookup(ctx context.Context, kind, name string) error {
	full := resourceName(c.project, kind, name)
	var err error
	switch kind {
	case kindTopics:
		_, err = c.ps.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: full})
	default:
		_, err = c.ps.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{Subscription: full})
	}
	switch {
	case err == nil:
		return nil
	case status.Code(err) == codes.NotFound:
		return fmt.Errorf("pubsub %s %q not found", strings.TrimSuffix(kind, "s"), name)
	default:
		return fmt.Errorf("look up pubsub %s %q: %w", strings.TrimSuffix(kind, "s"), name, err)
	}
}

// resourceName expands a short id to projects/<project>/<kind>/<id> and
// passes full resource names of the same kind through unchanged.
func resourceName(project, kind, name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	if strings.HasPrefix(name, "projects/") && strings.Contains(name, "/"+kind+"/") {
		return name
	}
	if project = strings.TrimSpace(project); project == "" {
		return ""
	}
	return "projects/" + project + "/" + kind + "/" + name
}
