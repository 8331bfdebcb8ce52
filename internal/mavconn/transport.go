package mavconn

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bluenviron/gomavlib/v3"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"FlightLink/internal/config"
	ferrors "FlightLink/internal/errors"
	"FlightLink/internal/logging"
)

// Inbound is one decoded message together with the ids of the node that sent it.
type Inbound struct {
	SystemID    uint8
	ComponentID uint8
	Message     message.Message
	Received    time.Time
}

// Transport is the codec-level link to one vehicle. Events is closed when the transport stops.
type Transport interface {
	WriteMessage(msg message.Message) error
	Events() <-chan Inbound
	Close() error
}

// Dialer opens a transport for a connection string.
type Dialer func(connString string) (Transport, error)

// NodeTransport adapts a gomavlib Node to Transport.
type NodeTransport struct {
	node   *gomavlib.Node
	logger logging.Logger
	out    chan Inbound

	closeOnce sync.Once
	done      chan struct{}
}

// NewNodeDialer returns a Dialer that opens gomavlib nodes with the given link identity.
func NewNodeDialer(link config.LinkConfig, logger logging.Logger) Dialer {
	return func(connString string) (Transport, error) {
		return NewNodeTransport(connString, link, logger)
	}
}

// NewNodeTransport creates a node with a single endpoint parsed from connString.
func NewNodeTransport(connString string, link config.LinkConfig, logger logging.Logger) (*NodeTransport, error) {
	endpoint, err := ParseEndpoint(connString)
	if err != nil {
		return nil, err
	}

	version := gomavlib.V2
	if link.MavlinkV1 {
		version = gomavlib.V1
	}

	node, err := gomavlib.NewNode(gomavlib.NodeConf{
		Endpoints:      []gomavlib.EndpointConf{endpoint},
		Dialect:        common.Dialect,
		OutVersion:     version,
		OutSystemID:    link.SourceSystem,
		OutComponentID: link.SourceComponent,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", connString)
	}

	t := &NodeTransport{
		node:   node,
		logger: logger,
		out:    make(chan Inbound, 256),
		done:   make(chan struct{}),
	}
	goutils.PanicCapturingGo(t.readLoop)
	return t, nil
}

func (t *NodeTransport) readLoop() {
	defer close(t.out)
	for evt := range t.node.Events() {
		switch e := evt.(type) {
		case *gomavlib.EventFrame:
			in := Inbound{
				SystemID:    e.SystemID(),
				ComponentID: e.ComponentID(),
				Message:     e.Message(),
			}
			select {
			case t.out <- in:
			case <-t.done:
				return
			}
		case *gomavlib.EventChannelOpen:
			t.logger.Debugf("channel open: %v", e.Channel)
		case *gomavlib.EventChannelClose:
			t.logger.Debugf("channel closed: %v", e.Channel)
		case *gomavlib.EventParseError:
			t.logger.Debugf("parse error: %v", e.Error)
		default:
			continue
		}
	}
}

func (t *NodeTransport) WriteMessage(msg message.Message) error {
	return t.node.WriteMessageAll(msg)
}

func (t *NodeTransport) Events() <-chan Inbound {
	return t.out
}

func (t *NodeTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		t.node.Close()
	})
	return nil
}

// ParseEndpoint turns a connection string into a gomavlib endpoint. Accepted forms:
//
//	udp:host:port, udpin:host:port   listen for UDP
//	udpout:host:port                 send UDP to a remote listener
//	tcp:host:port                    connect to a TCP server
//	tcpin:host:port                  accept TCP connections
//	serial:/dev/ttyUSB0:57600        serial device and baud rate
func ParseEndpoint(connString string) (gomavlib.EndpointConf, error) {
	scheme, rest, ok := strings.Cut(connString, ":")
	if !ok || rest == "" {
		return nil, errors.Errorf("invalid connection string %q", connString)
	}

	switch strings.ToLower(scheme) {
	case "udp", "udpin":
		return gomavlib.EndpointUDPServer{Address: rest}, nil
	case "udpout":
		return gomavlib.EndpointUDPClient{Address: rest}, nil
	case "tcp":
		return gomavlib.EndpointTCPClient{Address: rest}, nil
	case "tcpin":
		return gomavlib.EndpointTCPServer{Address: rest}, nil
	case "serial":
		idx := strings.LastIndex(rest, ":")
		if idx < 0 {
			return nil, errors.Errorf("serial connection string %q needs a baud rate", connString)
		}
		baud, err := strconv.Atoi(rest[idx+1:])
		if err != nil || baud <= 0 {
			return nil, errors.Errorf("invalid baud rate in %q", connString)
		}
		return gomavlib.EndpointSerial{Device: rest[:idx], Baud: baud}, nil
	default:
		return nil, errors.Wrapf(ferrors.ErrUnsupportedEndpoint, "scheme %q", scheme)
	}
}
