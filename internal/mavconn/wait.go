package mavconn

import (
	"context"
	"fmt"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
	"github.com/pkg/errors"

	ferrors "FlightLink/internal/errors"
)

// waitInbound blocks until an inbound message satisfies match, the timeout elapses, ctx is
// done or the transport stops.
func (c *Conn) waitInbound(ctx context.Context, match func(Inbound) bool, timeout time.Duration) (Inbound, bool) {
	sub := c.Subscribe()
	defer sub.Close()
	return c.waitOn(ctx, sub, match, timeout)
}

func (c *Conn) waitOn(ctx context.Context, sub *Subscription, match func(Inbound) bool, timeout time.Duration) (Inbound, bool) {
	timer := c.clock.Timer(timeout)
	defer timer.Stop()
	done := c.done()

	for {
		select {
		case in := <-sub.C():
			if match(in) {
				return in, true
			}
		case <-timer.C:
			return Inbound{}, false
		case <-ctx.Done():
			return Inbound{}, false
		case <-done:
			return Inbound{}, false
		}
	}
}

// Wait blocks on an open subscription. Callers that send requests in a loop keep one
// subscription across iterations so replies arriving between waits are not lost.
func (s *Subscription) Wait(ctx context.Context, match func(Inbound) bool, timeout time.Duration) (Inbound, bool) {
	return s.conn.waitOn(ctx, s, match, timeout)
}

func typed[T message.Message](pred func(T) bool) func(Inbound) bool {
	return func(in Inbound) bool {
		msg, ok := in.Message.(T)
		if !ok {
			return false
		}
		return pred == nil || pred(msg)
	}
}

// WaitFor returns the first message of type T received after the call that satisfies pred
// (nil accepts any), or false once timeout elapses. It never retries; callers own the policy.
func WaitFor[T message.Message](ctx context.Context, c *Conn, pred func(T) bool, timeout time.Duration) (T, bool) {
	in, ok := c.waitInbound(ctx, typed(pred), timeout)
	if !ok {
		var zero T
		return zero, false
	}
	return in.Message.(T), true
}

// WaitHeartbeat is WaitFor restricted to heartbeats from the autopilot component found at
// connect.
func WaitHeartbeat(ctx context.Context, c *Conn, pred func(*common.MessageHeartbeat) bool, timeout time.Duration) (*common.MessageHeartbeat, bool) {
	match := typed(pred)
	compID := c.ComponentID()
	in, ok := c.waitInbound(ctx, func(in Inbound) bool {
		return in.ComponentID == compID && match(in)
	}, timeout)
	if !ok {
		return nil, false
	}
	return in.Message.(*common.MessageHeartbeat), true
}

// WaitAny is WaitFor for callers that accept several message types.
func WaitAny(ctx context.Context, c *Conn, pred func(message.Message) bool, timeout time.Duration) (message.Message, bool) {
	in, ok := c.waitInbound(ctx, func(in Inbound) bool { return pred(in.Message) }, timeout)
	if !ok {
		return nil, false
	}
	return in.Message, true
}

// Request sends msg and waits for a reply of type T. The subscription is opened before the
// send so a fast reply cannot slip past.
func Request[T message.Message](
	ctx context.Context,
	c *Conn,
	msg message.Message,
	pred func(T) bool,
	timeout time.Duration,
) (T, bool, error) {
	var zero T
	sub := c.Subscribe()
	defer sub.Close()

	if err := c.Send(msg); err != nil {
		return zero, false, err
	}
	in, ok := c.waitOn(ctx, sub, typed(pred), timeout)
	if !ok {
		return zero, false, nil
	}
	return in.Message.(T), true, nil
}

// AckStatus is the outcome of a command round trip.
type AckStatus int

const (
	AckAccepted AckStatus = iota
	AckRejected
	AckTimedOut
)

// AckResult is returned by every command round trip. Rejections carry the firmware's code.
type AckResult struct {
	Status AckStatus
	Code   common.MAV_RESULT
}

func (r AckResult) Accepted() bool {
	return r.Status == AckAccepted
}

// Err maps the result onto the error taxonomy; Accepted is nil.
func (r AckResult) Err() error {
	switch r.Status {
	case AckAccepted:
		return nil
	case AckRejected:
		return errors.Wrapf(ferrors.ErrCommandRejected, "result %s", r.Code)
	default:
		return ferrors.ErrAckTimeout
	}
}

func (r AckResult) String() string {
	switch r.Status {
	case AckAccepted:
		return "accepted"
	case AckRejected:
		return fmt.Sprintf("rejected(%s)", r.Code)
	default:
		return "timed out"
	}
}

// Command sends a COMMAND_LONG and waits for its COMMAND_ACK. IN_PROGRESS acks keep the
// wait going. A send failure is reported as a timeout since nothing reached the vehicle.
func Command(ctx context.Context, c *Conn, cmd *common.MessageCommandLong, timeout time.Duration) AckResult {
	ack, ok, err := Request(ctx, c, cmd, func(a *common.MessageCommandAck) bool {
		return a.Command == cmd.Command && a.Result != common.MAV_RESULT_IN_PROGRESS
	}, timeout)
	if err != nil {
		c.logger.Warnf("failed to send %s: %v", cmd.Command, err)
		return AckResult{Status: AckTimedOut}
	}
	if !ok {
		c.logger.Warnf("ACK timeout for command %s", cmd.Command)
		return AckResult{Status: AckTimedOut}
	}
	c.logger.Debugf("ACK received: command=%s result=%s", ack.Command, ack.Result)
	if ack.Result != common.MAV_RESULT_ACCEPTED {
		return AckResult{Status: AckRejected, Code: ack.Result}
	}
	return AckResult{Status: AckAccepted}
}
