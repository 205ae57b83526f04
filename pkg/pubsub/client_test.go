package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tabletopforge/storefront-backend/pkg/config"
)

func TestTopicResourceName(t *testing.T) {
	assert.Equal(t, "projects/shop/topics/fulfillment", TopicResourceName("shop", "fulfillment"))
	assert.Equal(t, "projects/other/topics/x", TopicResourceName("shop", " projects/other/topics/x "))
	assert.Empty(t, TopicResourceName("", "fulfillment"))
	assert.Empty(t, TopicResourceName("shop", "  "))
}

func TestNewClientRequiresProject(t *testing.T) {
	_, err := NewClient(context.Background(), config.GCPConfig{}, config.PubSubConfig{FulfillmentTopic: "t"}, nil)
	assert.ErrorIs(t, err, errProjectIDRequired)
}

func TestUnconfiguredPublisherErrors(t *testing.T) {
	var c *Client
	assert.Nil(t, c.Publisher("topic"))
	assert.Error(t, c.Ping(context.Background()))
	assert.NoError(t, c.Close())

	_, err := (&TopicPublisher{}).Publish(context.Background(), []byte("{}"), nil)
	assert.Error(t, err)
}
