package mq

import (
	"context"
	"encoding/json"
	"fmt"
)

type MessageQueue interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, visibilityTimeout int32) (*Message, error)
	Delete(ctx context.Context, msg *Message) error
}

type Message struct {
	Id   string
	Body string
}

// DeleteHistoryJob asks the consumer to drop the archived history of a canvas.
type DeleteHistoryJob struct {
	Canvas string `json:"canvas"`
}

func SendDeleteHistoryJob(ctx context.Context, queue MessageQueue, canvasName string) error {
	body, err := json.Marshal(DeleteHistoryJob{Canvas: canvasName})
	if err != nil {
		return err
	}
	return queue.Send(ctx, string(body))
}

func DecodeDeleteHistoryJob(msg *Message) (DeleteHistoryJob, error) {
	var job DeleteHistoryJob
	if err := json.Unmarshal([]byte(msg.Body), &job); err != nil {
		return job, fmt.Errorf("invalid delete history job: %w", err)
	}
	if job.Canvas == "" {
		return job, fmt.Errorf("invalid delete history job: missing canvas")
	}
	return job, nil
}
