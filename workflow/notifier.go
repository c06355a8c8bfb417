package workflow

import (
	"context"
	"encoding/json"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/paddyledger/paddy_backend/config"
	"github.com/sirupsen/logrus"
)

// DriftNotice describes a divergence between the ledger and the local store.
type DriftNotice struct {
	CheckType     string    `json:"check_type"`
	Kind          string    `json:"kind"`
	EntityId      string    `json:"entity_id,omitempty"`
	OperationRef  string    `json:"operation_ref,omitempty"`
	TxHash        string    `json:"tx_hash,omitempty"`
	BlockNumber   uint64    `json:"block_number,omitempty"`
	Count         int       `json:"count,omitempty"`
	Details       string    `json:"details,omitempty"`
	CorrelationId string    `json:"correlation_id,omitempty"`
	At            time.Time `json:"at"`
}

type Notifier interface {
	Notify(ctx context.Context, n DriftNotice) error
}

// PubSubNotifier publishes notices as JSON on one topic.
type PubSubNotifier struct {
	topic *pubsub.Topic
}

// NewPubSubNotifier creates the topic when missing.
func NewPubSubNotifier(ctx context.Context, client *pubsub.Client, topicName string) (*PubSubNotifier, error) {
	t, err := config.CreateTopicIfNotExists(ctx, client, topicName)
	if err != nil {
		return nil, err
	}
	return &PubSubNotifier{topic: t}, nil
}

// NewNotifierFromEnv returns nil when PUBSUB_DRIFT_TOPIC is unset.
func NewNotifierFromEnv(ctx context.Context) (Notifier, error) {
	topic := config.DriftTopic()
	if topic == "" {
		return nil, nil
	}
	client, err := config.GetPubSubClient(ctx)
	if err != nil {
		return nil, err
	}
	n, err := NewPubSubNotifier(ctx, client, topic)
	if err != nil {
		return nil, err
	}
	return n, nil
}

func (p *PubSubNotifier) Notify(ctx context.Context, n DriftNotice) error {
	if n.At.IsZero() {
		n.At = time.Now().UTC()
	}
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	res := p.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"check_type": n.CheckType,
			"kind":       n.Kind,
		},
	})
	_, err = res.Get(ctx)
	return err
}

// Stop flushes pending publishes.
func (p *PubSubNotifier) Stop() {
	p.topic.Stop()
}

// notify never fails the caller; a publish error is logged.
// notifyTimeout bounds one publish; drift rows are already stored when it runs.
var notifyTimeout = 30 * time.Second

func notify(ctx context.Context, n Notifier, logger *logrus.Logger, notice DriftNotice) {
	if n == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if err := n.Notify(ctx, notice); err != nil {
		config.LogError(logger, "notifier.go", "notify", "Publishing drift notice", notice, err)
	}
}
