package messaging

import (
	"context"
	"fmt"
	"sync"

	zmq "github.com/pebbe/zmq4"
	"google.golang.org/protobuf/proto"

	"github.com/bardlex/gomint/pkg/log"
)

// ZMQPublisher broadcasts events on a PUB socket as two-frame messages:
// topic, then the encoded payload. Slow subscribers drop messages.
type ZMQPublisher struct {
	mu       sync.Mutex
	socket   *zmq.Socket
	endpoint string
	logger   *log.Logger
}

// NewZMQPublisher binds a PUB socket to endpoint, e.g. tcp://127.0.0.1:28400
func NewZMQPublisher(endpoint string, logger *log.Logger) (*ZMQPublisher, error) {
	socket, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		return nil, fmt.Errorf("failed to create ZMQ socket: %w", err)
	}

	if err := socket.SetLinger(0); err != nil {
		_ = socket.Close()
		return nil, fmt.Errorf("failed to set ZMQ linger: %w", err)
	}

	if err := socket.Bind(endpoint); err != nil {
		_ = socket.Close()
		return nil, fmt.Errorf("failed to bind ZMQ endpoint %s: %w", endpoint, err)
	}

	logger = logger.WithComponent("zmq")
	logger.Info("bound ZMQ publisher", "endpoint", endpoint)

	return &ZMQPublisher{
		socket:   socket,
		endpoint: endpoint,
		logger:   logger,
	}, nil
}

// Publish implements Sink. The key is not sent; PUB/SUB filters on topic.
func (z *ZMQPublisher) Publish(_ context.Context, topic, _ string, msg proto.Message) error {
	data, err := proto.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal ZMQ message: %w", err)
	}

	z.mu.Lock()
	defer z.mu.Unlock()

	if z.socket == nil {
		return fmt.Errorf("ZMQ publisher is closed")
	}
	if _, err := z.socket.SendMessageDontwait(topic, data); err != nil {
		return fmt.Errorf("failed to publish ZMQ message on %s: %w", topic, err)
	}

	z.logger.Debug("published ZMQ message", "topic", topic, "size", len(data))
	return nil
}

// Close closes the ZMQ socket
func (z *ZMQPublisher) Close() error {
	z.mu.Lock()
	defer z.mu.Unlock()

	if z.socket == nil {
		return nil
	}
	err := z.socket.Close()
	z.socket = nil
	return err
}
