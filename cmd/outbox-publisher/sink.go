package main

import (
	"context"
	"errors"

	gcppubsub "cloud.google.com/go/pubsub/v2"
)

type sink interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

type sinkFactory func(topic string) sink

// sinkCache keeps one handle per topic. Pub/Sub publishers batch in the
// background and must be stopped to flush.
type sinkCache struct {
	open  sinkFactory
	sinks map[string]sink
}

func newSinkCache(open sinkFactory) *sinkCache {
	return &sinkCache{open: open, sinks: make(map[string]sink)}
}

func (c *sinkCache) get(topic string) sink {
	if s, ok := c.sinks[topic]; ok {
		return s
	}
	s := c.open(topic)
	if s != nil {
		c.sinks[topic] = s
	}
	return s
}

func (c *sinkCache) stop() {
	for topic, s := range c.sinks {
		if ps, ok := s.(*pubsubSink); ok {
			ps.p.Stop()
		}
		delete(c.sinks, topic)
	}
}

type pubsubSink struct {
	p *gcppubsub.Publisher
}

func newPubSubSink(p *gcppubsub.Publisher) sink {
	if p == nil {
		return nil
	}
	p.EnableMessageOrdering = true
	return &pubsubSink{p: p}
}

func (s *pubsubSink) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return &pubsubResult{res: s.p.Publish(ctx, msg), p: s.p, key: msg.OrderingKey}
}

type pubsubResult struct {
	res *gcppubsub.PublishResult
	p   *gcppubsub.Publisher
	key string
}

// Get waits for the server ack. A failed ordered publish pauses its key
// until ResumePublish, so the next attempt for that aggregate can go out.
func (r *pubsubResult) Get(ctx context.Context) (string, error) {
	if r.res == nil {
		return "", errors.New("publish result is nil")
	}
	id, err := r.res.Get(ctx)
	if err != nil && r.key != "" {
		r.p.ResumePublish(r.key)
	}
	return id, err
}
