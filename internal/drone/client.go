// Package drone is the public flight surface: a registry of vehicles and blocking
// arm, takeoff, move, land and pose calls expressed in the application's ROS frame.
package drone

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"FlightLink/internal/config"
	"FlightLink/internal/drone/convergence"
	"FlightLink/internal/drone/flightctl"
	ferrors "FlightLink/internal/errors"
	"FlightLink/internal/frames"
	"FlightLink/internal/logging"
	"FlightLink/internal/mavconn"
)

// SensorClient is the simulator-side sensor layer. When present it is the preferred
// source of poses.
type SensorClient interface {
	Pose(ctx context.Context, vehicle string) (frames.Pose, error)
}

// FlightClient owns every registered vehicle.
type FlightClient struct {
	cfg     *config.Config
	clock   clock.Clock
	logger  logging.Logger
	dial    mavconn.Dialer
	sensors SensorClient
	monitor *convergence.Monitor

	mu             sync.Mutex
	vehicles       map[string]*Vehicle
	order          []string
	defaultVehicle string
}

// Option configures a FlightClient.
type Option func(*FlightClient)

func WithClock(clk clock.Clock) Option {
	return func(c *FlightClient) { c.clock = clk }
}

func WithLogger(logger logging.Logger) Option {
	return func(c *FlightClient) { c.logger = logger }
}

// WithDialer replaces the gomavlib transport, mostly for tests.
func WithDialer(dial mavconn.Dialer) Option {
	return func(c *FlightClient) { c.dial = dial }
}

func WithSensorClient(s SensorClient) Option {
	return func(c *FlightClient) { c.sensors = s }
}

// WithDefaultVehicle names the vehicle used when a call does not name one. Without it the
// first added vehicle is the default.
func WithDefaultVehicle(name string) Option {
	return func(c *FlightClient) { c.defaultVehicle = name }
}

// NewFlightClient builds a client from cfg. A nil cfg uses config.Default.
func NewFlightClient(cfg *config.Config, opts ...Option) (*FlightClient, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &FlightClient{
		cfg:      cfg,
		vehicles: map[string]*Vehicle{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.clock == nil {
		c.clock = clock.New()
	}
	if c.logger == nil {
		logger, err := logging.NewLoggerWithLevel("flightlink", cfg.Logging.Level, cfg.Logging.Encoding)
		if err != nil {
			return nil, errors.Wrap(err, "failed to build logger")
		}
		c.logger = logger
	}
	if c.dial == nil {
		c.dial = mavconn.NewNodeDialer(cfg.Link, c.logger.Named("transport"))
	}
	c.monitor = convergence.NewMonitor(c.clock, convergence.FromConfig(cfg.Convergence), c.logger.Named("convergence"))
	return c, nil
}

// AddVehicle registers a vehicle. Nothing is opened until ConfirmConnection.
func (c *FlightClient) AddVehicle(name, connString string, firmware flightctl.Firmware) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.vehicles[name]; ok {
		return errors.Wrap(ferrors.ErrDuplicateVehicle, name)
	}

	logger := c.logger.Named(name)
	adapter, err := flightctl.New(firmware, c.cfg, c.clock, logger)
	if err != nil {
		return err
	}
	conn := mavconn.New(name, connString, c.dial, mavconn.Options{
		Clock:          c.clock,
		Logger:         logger.Named("link"),
		ConnectTimeout: c.cfg.Link.ConnectTimeout.D(),
	})
	c.vehicles[name] = &Vehicle{
		Name:        name,
		Firmware:    firmware,
		conn:        conn,
		adapter:     adapter,
		logger:      logger,
		poseTimeout: c.cfg.Timeouts.Pose.D(),
	}
	c.order = append(c.order, name)
	if c.defaultVehicle == "" {
		c.defaultVehicle = name
	}
	c.logger.Infof("added vehicle %s (%s) at %s", name, firmware, connString)
	return nil
}

// AddConfiguredVehicles registers every vehicle listed in the configuration.
func (c *FlightClient) AddConfiguredVehicles() error {
	for _, vc := range c.cfg.Vehicles {
		firmware, err := flightctl.ParseFirmware(vc.Firmware)
		if err != nil {
			return err
		}
		if err := c.AddVehicle(vc.Name, vc.Connection, firmware); err != nil {
			return err
		}
	}
	return nil
}

// Vehicle looks up a vehicle; an empty name selects the default.
func (c *FlightClient) Vehicle(name string) (*Vehicle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if name == "" {
		name = c.defaultVehicle
	}
	v, ok := c.vehicles[name]
	if !ok {
		return nil, errors.Wrapf(ferrors.ErrUnknownVehicle, "%q", name)
	}
	return v, nil
}

func (c *FlightClient) vehicle(names []string) (*Vehicle, bool) {
	name := ""
	if len(names) > 0 {
		name = names[0]
	}
	v, err := c.Vehicle(name)
	if err != nil {
		c.logger.Error(err)
		return nil, false
	}
	return v, true
}

func (c *FlightClient) all() []*Vehicle {
	c.mu.Lock()
	defer c.mu.Unlock()
	vs := make([]*Vehicle, 0, len(c.order))
	for _, name := range c.order {
		vs = append(vs, c.vehicles[name])
	}
	return vs
}

// ConfirmConnection connects every vehicle in parallel and initializes its adapter. A vehicle
// that fails to connect does not stop the others; the result is false if any failed.
func (c *FlightClient) ConfirmConnection(ctx context.Context) bool {
	vehicles := c.all()
	if len(vehicles) == 0 {
		c.logger.Error("no vehicles configured, call AddVehicle first")
		return false
	}

	var (
		g       errgroup.Group
		errMu   sync.Mutex
		allErrs error
	)
	for _, v := range vehicles {
		g.Go(func() error {
			err := c.connect(ctx, v)
			if err != nil {
				v.logger.Errorf("connection failed: %v", err)
				errMu.Lock()
				allErrs = multierr.Append(allErrs, err)
				errMu.Unlock()
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		c.logger.Warnw("not every vehicle connected", "errors", multierr.Errors(allErrs))
		return false
	}
	return true
}

func (c *FlightClient) connect(ctx context.Context, v *Vehicle) error {
	if err := v.conn.Connect(ctx); err != nil {
		return err
	}
	if err := v.adapter.Initialize(ctx, v.conn); err != nil {
		return errors.Wrapf(err, "failed to initialize %s adapter for %s", v.Firmware, v.Name)
	}
	flightctl.LogArmingStatus(v.logger, v.ArmingStatus())
	if d := c.cfg.Timeouts.StatusText.D(); d > 0 {
		flightctl.PumpStatusText(ctx, v.conn, v.logger, d)
	}
	return nil
}

// EnableAPIControl hands the vehicle to this client (GUIDED or OFFBOARD) or releases it.
// Enabling an already enabled vehicle changes nothing.
func (c *FlightClient) EnableAPIControl(ctx context.Context, enable bool, name ...string) bool {
	v, ok := c.vehicle(name)
	if !ok {
		return false
	}
	v.op.Lock()
	defer v.op.Unlock()
	if !enable {
		v.adapter.StopMovement()
		v.setAPIControl(false)
		v.logger.Info("API control disabled")
		return true
	}
	return c.enableLocked(ctx, v)
}

func (c *FlightClient) enableLocked(ctx context.Context, v *Vehicle) bool {
	if v.APIControlEnabled() {
		return true
	}
	if !v.adapter.SetAPIMode(ctx) {
		v.logger.Warn("failed to enter API mode")
		return false
	}
	v.setAPIControl(true)
	v.logger.Info("API control enabled")
	return true
}

// ArmDisarm arms or disarms the vehicle. Arming requires API control.
func (c *FlightClient) ArmDisarm(ctx context.Context, arm bool, name ...string) bool {
	v, ok := c.vehicle(name)
	if !ok {
		return false
	}
	v.op.Lock()
	defer v.op.Unlock()
	if !arm {
		return c.disarmLocked(ctx, v)
	}
	if !v.APIControlEnabled() {
		v.logger.Warn("refusing to arm: API control is not enabled")
		return false
	}
	return c.armLocked(ctx, v)
}

func (c *FlightClient) armLocked(ctx context.Context, v *Vehicle) bool {
	v.logger.Info("arming")
	ok := v.adapter.Arm(ctx)
	v.setArmed(ok)
	if !ok {
		v.logger.Warn("arming failed")
	}
	return ok
}

func (c *FlightClient) disarmLocked(ctx context.Context, v *Vehicle) bool {
	ok := v.adapter.Disarm(ctx)
	if v.Firmware == flightctl.PX4Firmware {
		// PX4 disarm stops the setpoint stream, so OFFBOARD is gone either way
		v.setAPIControl(false)
	}
	if !ok {
		v.logger.Warn("disarm failed")
		return false
	}
	v.setArmed(false)
	return true
}

// ensureArmed enables API control and arms when needed.
func (c *FlightClient) ensureArmed(ctx context.Context, v *Vehicle) bool {
	if !c.enableLocked(ctx, v) {
		return false
	}
	if v.Armed() {
		return true
	}
	return c.armLocked(ctx, v)
}

// CallOption adjusts a single takeoff or move.
type CallOption func(*callOptions)

type callOptions struct {
	vehicle string
	yawDeg  *float64
	timeout *time.Duration
}

func WithVehicle(name string) CallOption {
	return func(o *callOptions) { o.vehicle = name }
}

// WithYaw sets the heading to hold, in degrees in the call's frame. Without it a move keeps
// the current heading and does not wait on yaw.
func WithYaw(deg float64) CallOption {
	return func(o *callOptions) { o.yawDeg = &deg }
}

// WithTimeout bounds the convergence wait. Zero or negative returns as soon as the command
// is accepted.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) { o.timeout = &d }
}

func applyOptions(opts []CallOption) callOptions {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o callOptions) timeoutOr(d time.Duration) time.Duration {
	if o.timeout != nil {
		return *o.timeout
	}
	return d
}

// Takeoff climbs heightM above the current position and waits for the altitude to settle.
// API control and arming are taken care of first.
func (c *FlightClient) Takeoff(ctx context.Context, heightM float64, opts ...CallOption) bool {
	o := applyOptions(opts)
	v, ok := c.vehicle([]string{o.vehicle})
	if !ok {
		return false
	}
	v.op.Lock()
	defer v.op.Unlock()

	v.logger.Infof("takeoff: height=%.2fm", heightM)
	if !c.ensureArmed(ctx, v) {
		v.logger.Warn("takeoff aborted: vehicle not armed")
		return false
	}

	pose, err := v.NedPose(ctx)
	if err != nil {
		v.logger.Warnf("takeoff aborted: cannot capture reference altitude: %v", err)
		return false
	}
	ref := pose.Position.Z
	v.setReferenceAltitude(ref)
	targetZ := ref - heightM

	cmd := flightctl.TakeoffCommand(targetZ)
	if !flightctl.Execute(ctx, v.adapter, cmd) {
		v.logger.Warnf("%s failed", cmd)
		return false
	}

	timeout := o.timeoutOr(c.cfg.Timeouts.Takeoff.D())
	if timeout <= 0 {
		return true
	}
	target := convergence.Target{Position: r3.Vector{Z: targetZ}, VerticalOnly: true}
	res, err := c.monitor.Wait(ctx, v.nedSource(), target, timeout)
	if err != nil {
		v.logger.Warnf("takeoff did not reach %.2fm: %v (alt error %.2fm)", heightM, err, res.Errors.Position)
		return false
	}
	v.logger.Infof("reached %.2fm", heightM)
	return true
}

// MoveToPosition flies to (x, y, z) in the ROS frame and waits for arrival. speed in m/s is
// applied first when positive.
func (c *FlightClient) MoveToPosition(ctx context.Context, x, y, z, speed float64, opts ...CallOption) bool {
	return c.moveTo(ctx, r3.Vector{X: x, Y: y, Z: z}, speed, applyOptions(opts))
}

// MoveToPositionUnityFrame is MoveToPosition with Unity coordinates and yaw.
func (c *FlightClient) MoveToPositionUnityFrame(ctx context.Context, x, y, z, speed float64, opts ...CallOption) bool {
	o := applyOptions(opts)
	if o.yawDeg != nil {
		yaw := frames.UnityToRosYaw(*o.yawDeg)
		o.yawDeg = &yaw
	}
	return c.moveTo(ctx, frames.UnityToRosPosition(r3.Vector{X: x, Y: y, Z: z}), speed, o)
}

func (c *FlightClient) moveTo(ctx context.Context, ros r3.Vector, speed float64, o callOptions) bool {
	v, ok := c.vehicle([]string{o.vehicle})
	if !ok {
		return false
	}
	v.op.Lock()
	defer v.op.Unlock()

	if !c.ensureArmed(ctx, v) {
		v.logger.Warn("move aborted: vehicle not armed")
		return false
	}

	var rosYaw float64
	if o.yawDeg != nil {
		rosYaw = *o.yawDeg
	} else if pose, err := v.NedPose(ctx); err == nil {
		rosYaw = frames.NedToRosYaw(pose.YawDegrees())
	} else {
		v.logger.Debugf("holding yaw 0, current heading unavailable: %v", err)
	}

	ned := frames.RosToNedPosition(ros)
	nedYaw := frames.RosToNedYaw(rosYaw)
	v.logger.Infow("move",
		"ros", ros, "ros_yaw", rosYaw,
		"ned", ned, "ned_yaw", nedYaw,
	)

	if speed > 0 && !v.adapter.SetSpeed(ctx, speed) {
		v.logger.Warnf("speed %.1f m/s not acknowledged, continuing", speed)
	}
	cmd := flightctl.GoToCommand(ned.X, ned.Y, ned.Z, nedYaw)
	if !flightctl.Execute(ctx, v.adapter, cmd) {
		v.logger.Warnf("%s failed", cmd)
		return false
	}

	timeout := o.timeoutOr(c.cfg.Timeouts.Move.D())
	if timeout <= 0 {
		return true
	}
	res, err := c.monitor.Wait(ctx, v.rosSource(), convergence.Target{Position: ros, YawDeg: o.yawDeg}, timeout)
	if err != nil {
		v.logger.Warnw("move did not converge", "error", err,
			"pos_err", res.Errors.Position, "yaw_err", res.Errors.YawDeg, "vel", res.Errors.Velocity)
		return false
	}
	v.logger.Infof("arrived after %s dwell", res.At.Sub(res.DwellStart))
	return true
}

// Land descends and waits until the vehicle is on the ground or disarmed.
func (c *FlightClient) Land(ctx context.Context, name ...string) bool {
	v, ok := c.vehicle(name)
	if !ok {
		return false
	}
	v.op.Lock()
	defer v.op.Unlock()

	v.logger.Info("landing")
	ok = flightctl.Execute(ctx, v.adapter, flightctl.LandCommand())
	if ok || v.Firmware == flightctl.PX4Firmware {
		// LAND mode or a stopped setpoint stream ends API control
		v.setAPIControl(false)
	}
	if !ok {
		v.logger.Warn("land command failed")
		return false
	}
	timeout := c.cfg.Timeouts.Land.D()
	if timeout <= 0 {
		return true
	}
	if err := c.monitor.WaitLanded(ctx, v.landSource(), timeout); err != nil {
		v.logger.Warnf("landing not confirmed: %v", err)
		return false
	}
	v.setArmed(false)
	v.logger.Info("landed")
	return true
}

// GetPose returns the vehicle pose in the ROS frame, read fresh.
func (c *FlightClient) GetPose(ctx context.Context, name ...string) (frames.Pose, bool) {
	v, ok := c.vehicle(name)
	if !ok {
		return frames.Pose{}, false
	}
	if c.sensors != nil {
		pose, err := c.sensors.Pose(ctx, v.Name)
		if err == nil {
			if pose.Frame == frames.NED {
				pose = frames.NedToRos(pose)
			}
			return pose, true
		}
		v.logger.Debugf("sensor pose unavailable, falling back to telemetry: %v", err)
	}
	pose, err := v.NedPose(ctx)
	if err != nil {
		v.logger.Warnf("pose unavailable: %v", err)
		return frames.Pose{}, false
	}
	return frames.NedToRos(pose), true
}

// GetPoseUnityFrame is GetPose converted to Unity axes.
func (c *FlightClient) GetPoseUnityFrame(ctx context.Context, name ...string) (frames.Pose, bool) {
	pose, ok := c.GetPose(ctx, name...)
	if !ok {
		return frames.Pose{}, false
	}
	return frames.RosToUnity(pose), true
}

// DisconnectAll closes every connection, stopping any setpoint streams first.
func (c *FlightClient) DisconnectAll() error {
	var err error
	for _, v := range c.all() {
		v.adapter.StopMovement()
		err = multierr.Append(err, errors.Wrapf(v.conn.Close(), "closing %s", v.Name))
		v.setAPIControl(false)
		v.setArmed(false)
	}
	return err
}
