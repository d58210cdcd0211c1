package redpanda

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"
)

// createTopicIfNotExists issues a CreateTopics request and treats
// TOPIC_ALREADY_EXISTS as success.
func createTopicIfNotExists(ctx context.Context, client *kgo.Client, topic string, partitions int32, replicationFactor int16) error {
	if err := validateTopicRequest(topic, partitions, replicationFactor); err != nil {
		return err
	}
	req := newCreateTopicsRequest(topic, partitions, replicationFactor)
	resp, err := req.RequestWith(ctx, client)
	if err != nil {
		return fmt.Errorf("op=redpanda.create_topic: %w", err)
	}
	return topicResult(resp, topic)
}

func validateTopicRequest(topic string, partitions int32, replicationFactor int16) error {
	switch {
	case topic == "":
		return fmt.Errorf("op=redpanda.create_topic: topic name cannot be empty")
	case partitions <= 0:
		return fmt.Errorf("op=redpanda.create_topic: partitions must be greater than 0")
	case replicationFactor <= 0:
		return fmt.Errorf("op=redpanda.create_topic: replication factor must be greater than 0")
	}
	return nil
}

func newCreateTopicsRequest(topic string, partitions int32, replicationFactor int16) kmsg.CreateTopicsRequest {
	req := kmsg.NewCreateTopicsRequest()
	req.TimeoutMillis = 30000
	t := kmsg.NewCreateTopicsRequestTopic()
	t.Topic = topic
	t.NumPartitions = partitions
	t.ReplicationFactor = replicationFactor
	req.Topics = append(req.Topics, t)
	return req
}

func topicResult(resp *kmsg.CreateTopicsResponse, topic string) error {
	for _, t := range resp.Topics {
		err := kerr.ErrorForCode(t.ErrorCode)
		switch {
		case err == nil:
			slog.Info("topic created", slog.String("topic", t.Topic))
		case errors.Is(err, kerr.TopicAlreadyExists):
			slog.Debug("topic already exists", slog.String("topic", t.Topic))
		default:
			msg := ""
			if t.ErrorMessage != nil {
				msg = *t.ErrorMessage
			}
			return fmt.Errorf("op=redpanda.create_topic: %s: %w %s", topic, err, msg)
		}
	}
	return nil
}
