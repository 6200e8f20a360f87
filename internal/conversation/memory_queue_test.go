package conversation

import (
	"context"
	"testing"
	"time"
)

func TestMemoryQueueSendReceive(t *testing.T) {
	q := NewMemoryQueue(4)
	ctx := context.Background()

	if err := q.Send(ctx, "one"); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	if err := q.Send(ctx, "two"); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}

	msgs, err := q.Receive(ctx, 10, 1)
	if err != nil {
		t.Fatalf("Receive returned error: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Body != "one" || msgs[1].Body != "two" {
		t.Fatalf("unexpected bodies: %q, %q", msgs[0].Body, msgs[1].Body)
	}
	if msgs[0].ID == "" || msgs[0].ReceiptHandle == "" {
		t.Fatal("expected generated ID and receipt handle")
	}

	if err := q.Delete(ctx, msgs[0].ReceiptHandle); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
}

func TestMemoryQueueReceiveRespectsBatchSize(t *testing.T) {
	q := NewMemoryQueue(8)
	ctx := context.Background()
	for _, body := range []string{"a", "b", "c"} {
		if err := q.Send(ctx, body); err != nil {
			t.Fatalf("Send returned error: %v", err)
		}
	}

	msgs, err := q.Receive(ctx, 2, 1)
	if err != nil {
		t.Fatalf("Receive returned error: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected batch of 2, got %d", len(msgs))
	}

	msgs, err = q.Receive(ctx, 2, 1)
	if err != nil {
		t.Fatalf("Receive returned error: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Body != "c" {
		t.Fatalf("expected remaining message c, got %v", msgs)
	}
}

func TestMemoryQueueReceiveCancellation(t *testing.T) {
	q := NewMemoryQueue(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := q.Receive(ctx, 1, 0); err != context.DeadlineExceeded {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
