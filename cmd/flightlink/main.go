// Command flightlink connects to a vehicle over MAVLink and flies short demo sequences.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"FlightLink/internal/config"
	"FlightLink/internal/drone"
	"FlightLink/internal/drone/flightctl"
	"FlightLink/internal/drone/pathing"
	"FlightLink/internal/frames"
	"FlightLink/internal/logging"
)

const (
	flagConfig     = "config"
	flagDebug      = "debug"
	flagConnection = "connection"
	flagFirmware   = "firmware"
	flagVehicle    = "vehicle"
	flagHeight     = "height"
	flagDistance   = "distance"
	flagSpeed      = "speed"
	flagTimeout    = "timeout"
	flagSize       = "size"
	flagFOV        = "fov"
)

var app = &cli.App{
	Name:            "flightlink",
	Usage:           "fly ArduPilot and PX4 vehicles over MAVLink",
	HideHelpCommand: true,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    flagConfig,
			Aliases: []string{"c"},
			Usage:   "load configuration from `FILE`",
		},
		&cli.BoolFlag{
			Name:  flagDebug,
			Usage: "enable debug logging",
		},
		&cli.StringFlag{
			Name:  flagConnection,
			Value: "udp:127.0.0.1:14550",
			Usage: "connection string used when the config lists no vehicles",
		},
		&cli.StringFlag{
			Name:  flagFirmware,
			Value: "ardupilot",
			Usage: "ardupilot or px4, used with --connection",
		},
		&cli.StringFlag{
			Name:  flagVehicle,
			Value: "drone1",
			Usage: "vehicle name",
		},
	},
	Commands: []*cli.Command{
		{
			Name:  "fly",
			Usage: "take off, fly forward and back, then land",
			Flags: []cli.Flag{
				&cli.Float64Flag{Name: flagHeight, Value: 10, Usage: "takeoff height in metres"},
				&cli.Float64Flag{Name: flagDistance, Value: 10, Usage: "distance flown forward in metres"},
				&cli.Float64Flag{Name: flagSpeed, Value: 5, Usage: "ground speed in m/s"},
				&cli.DurationFlag{Name: flagTimeout, Value: time.Minute, Usage: "convergence timeout per leg"},
			},
			Action: FlyAction,
		},
		{
			Name:  "survey",
			Usage: "fly a lawnmower pattern over a square in front of the vehicle",
			Flags: []cli.Flag{
				&cli.Float64Flag{Name: flagHeight, Value: 10, Usage: "survey height in metres"},
				&cli.Float64Flag{Name: flagSize, Value: 40, Usage: "side of the square in metres"},
				&cli.Float64Flag{Name: flagFOV, Value: 60, Usage: "camera field of view in degrees"},
				&cli.Float64Flag{Name: flagSpeed, Value: 5, Usage: "ground speed in m/s"},
				&cli.DurationFlag{Name: flagTimeout, Value: time.Minute, Usage: "convergence timeout per leg"},
			},
			Action: SurveyAction,
		},
		{
			Name:   "pose",
			Usage:  "print the vehicle pose in the ROS and Unity frames",
			Action: PoseAction,
		},
	},
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type session struct {
	client  *drone.FlightClient
	logger  logging.Logger
	vehicle string
}

// connect loads the configuration, registers the vehicles and waits for their heartbeats.
func connect(ctx context.Context, c *cli.Context) (*session, error) {
	cfg := config.Default()
	if path := c.String(flagConfig); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if c.Bool(flagDebug) {
		cfg.Logging.Level = "debug"
	}
	logger, err := logging.NewLoggerWithLevel("flightlink", cfg.Logging.Level, cfg.Logging.Encoding)
	if err != nil {
		return nil, err
	}

	client, err := drone.NewFlightClient(cfg, drone.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	vehicle := c.String(flagVehicle)
	if len(cfg.Vehicles) > 0 {
		if err := client.AddConfiguredVehicles(); err != nil {
			return nil, err
		}
		if !c.IsSet(flagVehicle) {
			vehicle = cfg.Vehicles[0].Name
		}
	} else {
		firmware, err := flightctl.ParseFirmware(c.String(flagFirmware))
		if err != nil {
			return nil, err
		}
		if err := client.AddVehicle(vehicle, c.String(flagConnection), firmware); err != nil {
			return nil, err
		}
	}

	if !client.ConfirmConnection(ctx) {
		return nil, disconnectOnError(client, errors.New("failed to connect to every vehicle"))
	}
	return &session{client: client, logger: logger, vehicle: vehicle}, nil
}

func disconnectOnError(client *drone.FlightClient, err error) error {
	if closeErr := client.DisconnectAll(); closeErr != nil {
		return errors.Wrapf(err, "also failed to disconnect: %v", closeErr)
	}
	return err
}

func (s *session) close() {
	if err := s.client.DisconnectAll(); err != nil {
		s.logger.Warnf("disconnect: %v", err)
	}
}

func signalContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
}

// FlyAction mirrors a first SITL flight: arm, climb, out and back, land.
func FlyAction(c *cli.Context) error {
	ctx, cancel := signalContext(c)
	defer cancel()
	s, err := connect(ctx, c)
	if err != nil {
		return err
	}
	defer s.close()

	height := c.Float64(flagHeight)
	leg := []drone.CallOption{drone.WithVehicle(s.vehicle), drone.WithTimeout(c.Duration(flagTimeout))}

	if !s.client.EnableAPIControl(ctx, true, s.vehicle) {
		return errors.New("failed to enable API control")
	}
	if !s.client.ArmDisarm(ctx, true, s.vehicle) {
		return errors.New("failed to arm")
	}
	if !s.client.Takeoff(ctx, height, leg...) {
		return errors.New("takeoff failed")
	}
	if !s.client.MoveToPosition(ctx, c.Float64(flagDistance), 0, height, c.Float64(flagSpeed), leg...) {
		s.logger.Warn("outbound leg failed, landing")
	} else if !s.client.MoveToPosition(ctx, 0, 0, height, c.Float64(flagSpeed), leg...) {
		s.logger.Warn("return leg failed, landing")
	}
	if !s.client.Land(context.WithoutCancel(ctx), s.vehicle) {
		return errors.New("landing not confirmed")
	}
	return nil
}

// SurveyAction covers a square ahead of the vehicle with parallel passes.
func SurveyAction(c *cli.Context) error {
	size := c.Float64(flagSize)
	height := c.Float64(flagHeight)
	bounds := []*drone.WayPoint{
		drone.NewWayPoint(0, -size/2, height),
		drone.NewWayPoint(size, -size/2, height),
		drone.NewWayPoint(size, size/2, height),
		drone.NewWayPoint(0, size/2, height),
	}
	mission, err := pathing.NewFlightPath(bounds, pathing.FlightPathOptions{
		CameraFOV: c.Float64(flagFOV),
		Altitude:  height,
		Speed:     c.Float64(flagSpeed),
	})
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(c)
	defer cancel()
	s, err := connect(ctx, c)
	if err != nil {
		return err
	}
	defer s.close()

	s.logger.Infof("survey: %d waypoints", len(mission.Path()))
	if !s.client.Takeoff(ctx, height, drone.WithVehicle(s.vehicle)) {
		return errors.New("takeoff failed")
	}
	ok := s.client.RunMission(ctx, mission.ForVehicle(s.vehicle).WithLegTimeout(c.Duration(flagTimeout)))
	if !s.client.Land(context.WithoutCancel(ctx), s.vehicle) {
		return errors.New("landing not confirmed")
	}
	if !ok {
		return errors.New("survey incomplete")
	}
	return nil
}

func PoseAction(c *cli.Context) error {
	ctx, cancel := signalContext(c)
	defer cancel()
	s, err := connect(ctx, c)
	if err != nil {
		return err
	}
	defer s.close()

	ros, ok := s.client.GetPose(ctx, s.vehicle)
	if !ok {
		return errors.New("pose unavailable")
	}
	fmt.Fprint(c.App.Writer, poseLines(ros))
	return nil
}

// poseLines renders a ROS pose and the same pose in Unity axes. The Unity heading is taken
// from the ROS yaw since the Unity orientation stores it in a different Euler slot.
func poseLines(ros frames.Pose) string {
	unity := frames.RosToUnity(ros)
	yaw := ros.YawDegrees()
	return fmt.Sprintf("ROS   position=%v yaw=%.1f\nUnity position=%v yaw=%.1f\n",
		ros.Position, yaw, unity.Position, frames.RosToUnityYaw(yaw))
}
