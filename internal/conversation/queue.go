package conversation

import "context"

// Queue abstracts the work queue so local development runs on an in-memory
// channel and production runs on SQS without touching the orchestrator.
type Queue interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

type queueMessage struct {
	ID            string
	Body          string
	ReceiptHandle string
}

type jobType string

const (
	jobTypeStart   jobType = "start"
	jobTypeMessage jobType = "message"
)

type queuePayload struct {
	ID      string         `json:"id"`
	Kind    jobType        `json:"kind"`
	Start   StartRequest   `json:"start,omitempty"`
	Message MessageRequest `json:"message,omitempty"`
}
