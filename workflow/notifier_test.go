package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newTestPubSub(t *testing.T) (*pubsub.Client, *pstest.Server) {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })
	conn, err := grpc.Dial(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	client, err := pubsub.NewClient(context.Background(), "paddy-test", option.WithGRPCConn(conn))
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client, srv
}

func TestPubSubNotifier_PublishesNotice(t *testing.T) {
	ctx := context.Background()
	client, srv := newTestPubSub(t)

	n, err := NewPubSubNotifier(ctx, client, "paddy-drift")
	if err != nil {
		t.Fatalf("notifier: %v", err)
	}
	defer n.Stop()

	err = n.Notify(ctx, DriftNotice{CheckType: "PARTIALLY_COMMITTED", Kind: "Transaction", OperationRef: "op-9", TxHash: "0xabc", BlockNumber: 12})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	msgs := srv.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(msgs))
	}
	if msgs[0].Attributes["check_type"] != "PARTIALLY_COMMITTED" || msgs[0].Attributes["kind"] != "Transaction" {
		t.Fatalf("attributes %v", msgs[0].Attributes)
	}
	var got DriftNotice
	if err := json.Unmarshal(msgs[0].Data, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.OperationRef != "op-9" || got.BlockNumber != 12 || got.At.IsZero() {
		t.Fatalf("unexpected notice %+v", got)
	}

	// an existing topic is reused
	if _, err := NewPubSubNotifier(ctx, client, "paddy-drift"); err != nil {
		t.Fatalf("second notifier: %v", err)
	}
}

type failingNotifier struct{ calls int }

func (f *failingNotifier) Notify(context.Context, DriftNotice) error {
	f.calls++
	return errors.New("broker down")
}

func TestNotify_NeverFailsCaller(t *testing.T) {
	notify(context.Background(), nil, quietLogger(), DriftNotice{})
	f := &failingNotifier{}
	notify(context.Background(), f, quietLogger(), DriftNotice{CheckType: "MIRROR_FAILED"})
	if f.calls != 1 {
		t.Fatalf("expected one attempt, got %d", f.calls)
	}
}

func TestNewNotifierFromEnv_DisabledWithoutTopic(t *testing.T) {
	t.Setenv("PUBSUB_DRIFT_TOPIC", "")
	n, err := NewNotifierFromEnv(context.Background())
	if err != nil || n != nil {
		t.Fatalf("expected no notifier, got %v %v", n, err)
	}
}

// stuckNotifier blocks until its context ends.
type stuckNotifier struct {
	err error
}

func (s *stuckNotifier) Notify(ctx context.Context, n DriftNotice) error {
	<-ctx.Done()
	s.err = ctx.Err()
	return s.err
}

func TestNotify_BoundedAndDetachedFromCaller(t *testing.T) {
	prev := notifyTimeout
	notifyTimeout = 20 * time.Millisecond
	t.Cleanup(func() { notifyTimeout = prev })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n := &stuckNotifier{}
	done := make(chan struct{})
	go func() {
		notify(ctx, n, quietLogger(), DriftNotice{CheckType: "MIRROR_FAILED"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("notify did not return")
	}
	if !errors.Is(n.err, context.DeadlineExceeded) {
		t.Fatalf("a cancelled caller must not cut the publish short, got %v", n.err)
	}
}
