// Package pubsub implements a Google Cloud Pub/Sub event publisher.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
)

// Publisher publishes JSON events through a Pub/Sub client. Topic publishers
// are created lazily per topic id and reused.
type Publisher struct {
	client *pubsub.Client

	mu     sync.Mutex
	topics map[string]*pubsub.Publisher
}

// New creates a Publisher over an existing client.
func New(client *pubsub.Client) (*Publisher, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client is required")
	}
	return &Publisher{
		client: client,
		topics: make(map[string]*pubsub.Publisher),
	}, nil
}

// CheckTopic verifies the topic exists and is active, so a misconfigured
// deployment fails at startup instead of on the first publish.
func (p *Publisher) CheckTopic(ctx context.Context, projectID, topic string) error {
	name := fmt.Sprintf("projects/%s/topics/%s", projectID, topic)
	t, err := p.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: name})
	if err != nil {
		return fmt.Errorf("get topic %s: %w", name, err)
	}
	if t.State != pubsubpb.Topic_ACTIVE {
		return fmt.Errorf("topic %s is not active", name)
	}
	return nil
}

// Publish marshals the payload to JSON and publishes it to the topic,
// returning the server-assigned message id.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if topic == "" {
		return "", fmt.Errorf("topic is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	result := p.topicPublisher(topic).Publish(ctx, &pubsub.Message{Data: data})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", topic, err)
	}
	return id, nil
}

// Stop flushes and stops all topic publishers.
func (p *Publisher) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, publisher := range p.topics {
		publisher.Stop()
	}
}

func (p *Publisher) topicPublisher(topic string) *pubsub.Publisher {
	p.mu.Lock()
	defer p.mu.Unlock()
	publisher, ok := p.topics[topic]
	if !ok {
		publisher = p.client.Publisher(topic)
		p.topics[topic] = publisher
	}
	return publisher
}
