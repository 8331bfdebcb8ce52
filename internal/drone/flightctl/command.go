package flightctl

import (
	"context"
	"fmt"
)

// CommandKind tags a Command.
type CommandKind int

const (
	CommandArm CommandKind = iota
	CommandDisarm
	CommandSetMode
	CommandTakeoff
	CommandLand
	CommandGoTo
)

// Command is a single adapter request, used for logging and replay through Execute.
type Command struct {
	Kind CommandKind

	// Mode is the mode name for CommandSetMode
	Mode string

	// Z is the NED altitude for CommandTakeoff; X, Y, Z and YawDeg the target for CommandGoTo
	X, Y, Z float64
	YawDeg  float64
}

func ArmCommand() Command { return Command{Kind: CommandArm} }
func DisarmCommand() Command { return Command{Kind: CommandDisarm} }
func LandCommand() Command { return Command{Kind: CommandLand} }
func SetModeCommand(name string) Command {
	return Command{Kind: CommandSetMode, Mode: name}
}
func TakeoffCommand(nedZ float64) Command {
	return Command{Kind: CommandTakeoff, Z: nedZ}
}
func GoToCommand(x, y, z, yawDeg float64) Command {
	return Command{Kind: CommandGoTo, X: x, Y: y, Z: z, YawDeg: yawDeg}
}

func (c Command) String() string {
	switch c.Kind {
	case CommandArm:
		return "Arm"
	case CommandDisarm:
		return "Disarm"
	case CommandSetMode:
		return fmt.Sprintf("SetMode(%s)", c.Mode)
	case CommandTakeoff:
		return fmt.Sprintf("Takeoff(%.2f)", c.Z)
	case CommandLand:
		return "Land"
	case CommandGoTo:
		return fmt.Sprintf("GoTo(%.2f, %.2f, %.2f, yaw=%.1f)", c.X, c.Y, c.Z, c.YawDeg)
	default:
		return fmt.Sprintf("Command(%d)", int(c.Kind))
	}
}

// Execute dispatches cmd to the matching adapter method.
func Execute(ctx context.Context, a Adapter, cmd Command) bool {
	switch cmd.Kind {
	case CommandArm:
		return a.Arm(ctx)
	case CommandDisarm:
		return a.Disarm(ctx)
	case CommandSetMode:
		return a.SetMode(ctx, cmd.Mode)
	case CommandTakeoff:
		return a.Takeoff(ctx, cmd.Z)
	case CommandLand:
		return a.Land(ctx)
	case CommandGoTo:
		return a.GoToLocalPosition(ctx, cmd.X, cmd.Y, cmd.Z, cmd.YawDeg) == nil
	default:
		return false
	}
}
