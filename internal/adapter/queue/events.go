package queue

import (
	"encoding/json"
	"fmt"
)

// PublishJSON marshals v and publishes it on subject.
func PublishJSON(q MessageQueue, subject string, v interface{}) error {
	if q == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", subject, err)
	}
	return q.Publish(subject, data)
}
