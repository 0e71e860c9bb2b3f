package protocol

import (
	"github.com/darenliang/gridstats-go/lib/interfaces"
	"github.com/darenliang/gridstats-go/lib/logging"
	"github.com/go-zeromq/zmq4"
)

type Socket struct {
	ZmqSocket zmq4.Socket
	identity  string
}

func NewSocket(zmqSocket zmq4.Socket, identity string) *Socket {
	return &Socket{ZmqSocket: zmqSocket, identity: identity}
}

func (s *Socket) Identity() string {
	return s.identity
}

// Send replies to destination through a router socket.
func (s *Socket) Send(destination string, msgType interfaces.Stringer, payload interfaces.Serializable) error {
	logging.LogSendProtocolMessage(destination, msgType, payload)
	return s.ZmqSocket.SendMulti(zmq4.Msg{Frames: PackMessage(destination, msgType, payload)})
}

// Post sends a request through a dealer socket.
func (s *Socket) Post(msgType interfaces.Stringer, payload interfaces.Serializable) error {
	logging.LogSendProtocolMessage(s.identity, msgType, payload)
	return s.ZmqSocket.SendMulti(zmq4.Msg{Frames: PackRequest(msgType, payload)})
}

func (s *Socket) Recv() ([][]byte, error) {
	msg, err := s.ZmqSocket.Recv()
	if err != nil {
		return nil, err
	}
	return msg.Frames, nil
}

func (s *Socket) Close() error {
	return s.ZmqSocket.Close()
}
