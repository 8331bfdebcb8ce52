// Package mavconn owns the MAVLink link to a single vehicle: the heartbeat handshake that
// discovers the remote system and component ids, fan-out of inbound traffic to waiters, and
// the timeout-bound wait primitives every command path is built on.
package mavconn

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	ferrors "FlightLink/internal/errors"
	"FlightLink/internal/logging"
)

// State is the lifecycle of a Conn.
type State int32

const (
	Disconnected State = iota
	AwaitingHeartbeat
	Connected
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case AwaitingHeartbeat:
		return "awaiting-heartbeat"
	case Connected:
		return "connected"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// livenessWindow is how recent the last heartbeat must be for Alive to report true.
const livenessWindow = 3 * time.Second

// Options configure a Conn.
type Options struct {
	Clock          clock.Clock
	Logger         logging.Logger
	ConnectTimeout time.Duration
}

// Conn is the connection handle for one vehicle.
type Conn struct {
	name           string
	connString     string
	dial           Dialer
	clock          clock.Clock
	logger         logging.Logger
	connectTimeout time.Duration

	mu            sync.Mutex
	state         State
	transport     Transport
	systemID      uint8
	componentID   uint8
	autopilot     common.MAV_AUTOPILOT
	lastHeartbeat time.Time
	latest        map[reflect.Type]Inbound
	subs          map[*Subscription]struct{}
	closeHooks    []func()
	readerDone    chan struct{}
}

// New creates a disconnected handle. Nothing is opened until Connect.
func New(name, connString string, dial Dialer, opts Options) *Conn {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewLogger("mavconn")
	}
	return &Conn{
		name:           name,
		connString:     connString,
		dial:           dial,
		clock:          opts.Clock,
		logger:         opts.Logger,
		connectTimeout: opts.ConnectTimeout,
		latest:         map[reflect.Type]Inbound{},
		subs:           map[*Subscription]struct{}{},
	}
}

// Connect opens the transport and waits for a heartbeat with a non-zero system id.
// Heartbeats from system 0 come from a simulated link that is not initialized yet and are
// skipped, as are heartbeats from other ground stations.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Disconnected {
		state := c.state
		c.mu.Unlock()
		return errors.Errorf("cannot connect %s in state %s", c.name, state)
	}
	c.state = AwaitingHeartbeat
	c.mu.Unlock()

	c.logger.Infof("connecting to %s at %s", c.name, c.connString)
	transport, err := c.dial(c.connString)
	if err != nil {
		c.setState(Disconnected)
		return errors.Wrapf(err, "failed to open transport for %s", c.name)
	}

	// subscribe before the reader starts so an early heartbeat is not missed
	sub := c.Subscribe()
	defer sub.Close()

	readerDone := make(chan struct{})
	c.mu.Lock()
	c.transport = transport
	c.readerDone = readerDone
	c.mu.Unlock()
	goutils.PanicCapturingGo(func() { c.fanOut(transport, readerDone) })

	in, ok := c.waitOn(ctx, sub, func(in Inbound) bool {
		hb, isHB := in.Message.(*common.MessageHeartbeat)
		if !isHB {
			return false
		}
		if in.SystemID == 0 {
			c.logger.Debugf("skipping heartbeat from system 0 on %s", c.name)
			return false
		}
		return hb.Type != common.MAV_TYPE_GCS && hb.Autopilot != common.MAV_AUTOPILOT_INVALID
	}, c.connectTimeout)
	if !ok {
		c.mu.Lock()
		c.transport = nil
		c.state = Disconnected
		c.mu.Unlock()
		if err := transport.Close(); err != nil {
			c.logger.Debugf("closing transport after failed connect: %v", err)
		}
		<-readerDone
		return errors.Wrapf(ferrors.ErrConnectTimeout, "%s: no heartbeat within %s", c.name, c.connectTimeout)
	}

	hb := in.Message.(*common.MessageHeartbeat)
	c.mu.Lock()
	c.systemID = in.SystemID
	c.componentID = in.ComponentID
	c.autopilot = hb.Autopilot
	c.lastHeartbeat = in.Received
	c.state = Connected
	c.mu.Unlock()

	c.logger.Infof("connected to %s: sys=%d comp=%d autopilot=%s", c.name, in.SystemID, in.ComponentID, hb.Autopilot)
	return nil
}

func (c *Conn) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// fanOut copies every inbound message to the current subscribers. After the handshake only
// traffic from the discovered system is delivered.
func (c *Conn) fanOut(t Transport, done chan struct{}) {
	defer close(done)
	for in := range t.Events() {
		if in.Received.IsZero() {
			in.Received = c.clock.Now()
		}

		c.mu.Lock()
		if c.state == Connected {
			if in.SystemID != c.systemID {
				c.mu.Unlock()
				continue
			}
			// heartbeats from other components (gimbal, camera) are delivered but not cached
			_, isHB := in.Message.(*common.MessageHeartbeat)
			if !isHB || in.ComponentID == c.componentID {
				if isHB {
					c.lastHeartbeat = in.Received
				}
				c.latest[reflect.TypeOf(in.Message)] = in
			}
		}
		for sub := range c.subs {
			sub.deliver(in)
		}
		c.mu.Unlock()
	}
}

// OnClose registers fn to run when the connection closes, before the transport is released.
// Background senders register here so nothing is written to a closed transport.
func (c *Conn) OnClose(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeHooks = append(c.closeHooks, fn)
}

// Close stops owned background work, then releases the transport. It is safe to call twice.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return nil
	}
	hooks := c.closeHooks
	c.closeHooks = nil
	c.mu.Unlock()

	// hooks may still send, so the transport stays open while they run
	for i := len(hooks) - 1; i >= 0; i-- {
		hooks[i]()
	}

	c.mu.Lock()
	transport := c.transport
	readerDone := c.readerDone
	c.transport = nil
	c.state = Closed
	c.mu.Unlock()

	if transport == nil {
		return nil
	}
	err := transport.Close()
	if readerDone != nil {
		<-readerDone
	}
	c.logger.Infof("disconnected from %s", c.name)
	return err
}

// Send writes msg to the vehicle.
func (c *Conn) Send(msg message.Message) error {
	c.mu.Lock()
	transport := c.transport
	state := c.state
	c.mu.Unlock()
	if transport == nil || state == Closed {
		return ferrors.ErrNotConnected
	}
	return transport.WriteMessage(msg)
}

func (c *Conn) Name() string { return c.name }

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SystemID is the remote system id learned from the handshake.
func (c *Conn) SystemID() uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.systemID
}

// ComponentID is the remote component id learned from the handshake.
func (c *Conn) ComponentID() uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.componentID
}

// Autopilot is the autopilot type the first heartbeat reported.
func (c *Conn) Autopilot() common.MAV_AUTOPILOT {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.autopilot
}

func (c *Conn) Clock() clock.Clock { return c.clock }

// Alive reports whether the link is connected and a heartbeat arrived recently.
func (c *Conn) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == Connected && c.clock.Now().Sub(c.lastHeartbeat) < livenessWindow
}

// Latest returns the most recent message of type T received from the vehicle since connect.
// It is meant for slow status signals; poses are always read fresh.
func Latest[T message.Message](c *Conn) (T, time.Time, bool) {
	var zero T
	c.mu.Lock()
	defer c.mu.Unlock()
	in, ok := c.latest[reflect.TypeOf(zero)]
	if !ok {
		return zero, time.Time{}, false
	}
	return in.Message.(T), in.Received, true
}

// Subscription receives a copy of every inbound message delivered after it was created.
type Subscription struct {
	conn *Conn
	ch   chan Inbound
}

const subscriptionBuffer = 128

// Subscribe starts receiving inbound messages. Callers must Close the subscription.
func (c *Conn) Subscribe() *Subscription {
	sub := &Subscription{conn: c, ch: make(chan Inbound, subscriptionBuffer)}
	c.mu.Lock()
	c.subs[sub] = struct{}{}
	c.mu.Unlock()
	return sub
}

// C is the message channel.
func (s *Subscription) C() <-chan Inbound { return s.ch }

// Close unsubscribes. No message is delivered after Close returns.
func (s *Subscription) Close() {
	s.conn.mu.Lock()
	delete(s.conn.subs, s)
	s.conn.mu.Unlock()
}

// deliver never blocks the reader: a full subscriber loses its oldest message.
func (s *Subscription) deliver(in Inbound) {
	for {
		select {
		case s.ch <- in:
			return
		default:
		}
		select {
		case <-s.ch:
		default:
		}
	}
}

// done is closed when the transport stops delivering.
func (c *Conn) done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readerDone == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return c.readerDone
}
