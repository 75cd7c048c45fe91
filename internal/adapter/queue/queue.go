package queue

import "go.uber.org/zap"

// MessageQueue defines the interface for a message queue adapter
type MessageQueue interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, handler func(data []byte) error) error
	Close() error
}

// Options selects and configures the broker.
type Options struct {
	// Driver is "nats", "rabbitmq" or "local".
	Driver      string
	NATS        NATSOptions
	RabbitMQURL string
}

// New connects to the configured broker. When the broker is unreachable the
// in-process queue is used so the engine keeps running without one.
func New(opts Options, log *zap.Logger) MessageQueue {
	var (
		q   MessageQueue
		err error
	)
	switch opts.Driver {
	case "nats":
		q, err = NewNATSQueue(opts.NATS, log)
	case "rabbitmq":
		q, err = NewRabbitMQQueue(opts.RabbitMQURL, log)
	default:
		return NewLocalQueue(log)
	}
	if err != nil {
		log.Warn("Message broker unavailable, using in-process queue",
			zap.String("driver", opts.Driver),
			zap.Error(err),
		)
		return NewLocalQueue(log)
	}
	return q
}
