package errors

import "github.com/pkg/errors"

var ErrUnimplemented = errors.New("ErrUnimplemented: firmware isn't implemented")
var ErrUnsupportedEndpoint = errors.New("ErrUnsupportedEndpoint: connection scheme isn't supported")

var (
	// ErrConnectTimeout means no valid heartbeat arrived before the connect deadline.
	ErrConnectTimeout = errors.New("ErrConnectTimeout: no heartbeat from vehicle")
	// ErrCommandRejected means the firmware answered a command with a non-accepted result.
	ErrCommandRejected = errors.New("ErrCommandRejected: command rejected by firmware")
	// ErrAckTimeout means no COMMAND_ACK arrived in time.
	ErrAckTimeout = errors.New("ErrAckTimeout: acknowledgement not received")
	// ErrPreconditionDegraded marks a pre-flight wait that gave up; callers log it and continue.
	ErrPreconditionDegraded = errors.New("ErrPreconditionDegraded: pre-flight condition not confirmed")
	// ErrConvergenceTimeout means the vehicle never settled on the target in time.
	ErrConvergenceTimeout = errors.New("ErrConvergenceTimeout: target not reached")
	ErrUnknownVehicle     = errors.New("ErrUnknownVehicle: no such vehicle")
	ErrNotConnected       = errors.New("ErrNotConnected: connection is not open")
	ErrDuplicateVehicle   = errors.New("ErrDuplicateVehicle: vehicle already registered")
)
