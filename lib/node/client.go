package node

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/darenliang/gridstats-go/lib/interfaces"
	"github.com/darenliang/gridstats-go/lib/logging"
	"github.com/darenliang/gridstats-go/lib/protocol"
	"github.com/go-zeromq/zmq4"
	"github.com/google/uuid"
)

// Client is a calculation node's connection to the statistics server.
type Client struct {
	socket   *protocol.Socket
	sendLock sync.Mutex
}

// NewIdentity builds a socket identity unique to this process.
func NewIdentity(kind string) (string, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s|%s|%d|%s", kind, hostname, os.Getpid(), uuid.New().String()), nil
}

func NewClient(ctx context.Context, address string) (*Client, error) {
	identity, err := NewIdentity("N")
	if err != nil {
		return nil, err
	}

	dealer := zmq4.NewDealer(ctx, zmq4.WithID(zmq4.SocketIdentity(identity)))
	if err := dealer.Dial(address); err != nil {
		_ = dealer.Close()
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}

	return &Client{socket: protocol.NewSocket(dealer, identity)}, nil
}

// Identity is the node id the server sees for this client.
func (c *Client) Identity() string {
	return c.socket.Identity()
}

func (c *Client) post(msgType protocol.MessageType, payload interfaces.Serializable) error {
	c.sendLock.Lock()
	defer c.sendLock.Unlock()
	return c.socket.Post(msgType, payload)
}

func (c *Client) SendStatistics(batch *protocol.StatisticsBatch) error {
	return c.post(protocol.MessageTypeStatisticsBatch, batch)
}

// ReportJob forwards a job outcome, for dispatchers sharing the connection.
func (c *Client) ReportJob(result *protocol.JobResult) error {
	return c.post(protocol.MessageTypeJobResult, result)
}

func (c *Client) Heartbeat() error {
	return c.post(protocol.MessageTypeHeartbeat, &protocol.Heartbeat{})
}

// Run receives server feedback until ctx is done, passing every scaling
// correction to onScaling.
func (c *Client) Run(ctx context.Context, onScaling func(scale float64)) {
	go func() {
		<-ctx.Done()
		logging.CheckError(c.socket.Close())
	}()

	for {
		frames, err := c.socket.Recv()
		if err != nil {
			if ctx.Err() != nil {
				logging.Logger.Info("node client stopped")
				return
			}
			logging.Logger.Errorf("node client receive failed: %s", err.Error())
			return
		}
		if len(frames) < 1 {
			logging.Logger.Errorf("received message only has %d frames", len(frames))
			continue
		}

		messageType := protocol.MessageType(frames[0])
		switch messageType {
		case protocol.MessageTypeScalingFeedback:
			feedback, err := protocol.DeserializeScalingFeedback(frames[1:])
			if err != nil {
				logging.Logger.Error(err)
				continue
			}
			logging.LogRecvProtocolMessage("server", messageType, feedback)
			onScaling(feedback.Scale)
		default:
			logging.Logger.Errorf("received message has unsupported type %s", messageType)
		}
	}
}
