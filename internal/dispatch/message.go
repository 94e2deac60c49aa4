// Package dispatch hands admitted jobs to their executors: an in-process
// bounded queue, or a RabbitMQ queue consumed by the worker service.
package dispatch

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ContentType of published job messages.
const ContentType = "application/json"

// JobMessage is the broker payload for one job.
type JobMessage struct {
	JobID string `json:"job_id"`
}

// Encode marshals a message for jobID.
func Encode(jobID string) ([]byte, error) {
	body, err := json.Marshal(JobMessage{JobID: jobID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job message: %w", err)
	}
	return body, nil
}

// Decode parses a message body and checks the job id is a UUID.
func Decode(body []byte) (JobMessage, error) {
	var msg JobMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return JobMessage{}, fmt.Errorf("failed to parse job message: %w", err)
	}
	if _, err := uuid.Parse(msg.JobID); err != nil {
		return JobMessage{}, fmt.Errorf("invalid job_id %q: %w", msg.JobID, err)
	}
	return msg, nil
}
