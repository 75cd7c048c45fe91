package queue

import (
	"sync"

	"go.uber.org/zap"
)

// LocalQueue delivers messages to in-process subscribers. Used when no broker is configured.
type LocalQueue struct {
	mu       sync.RWMutex
	handlers map[string][]func(data []byte) error
	log      *zap.Logger
}

func NewLocalQueue(log *zap.Logger) MessageQueue {
	return &LocalQueue{
		handlers: make(map[string][]func(data []byte) error),
		log:      log,
	}
}

func (q *LocalQueue) Publish(subject string, data []byte) error {
	q.mu.RLock()
	handlers := q.handlers[subject]
	q.mu.RUnlock()

	for _, h := range handlers {
		go func(h func([]byte) error) {
			if err := h(data); err != nil {
				q.log.Error("Error processing message", zap.String("subject", subject), zap.Error(err))
			}
		}(h)
	}
	return nil
}

func (q *LocalQueue) Subscribe(subject string, handler func(data []byte) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[subject] = append(q.handlers[subject], handler)
	return nil
}

func (q *LocalQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers = make(map[string][]func(data []byte) error)
	return nil
}
