// Command gimbalctl encodes and sends gimbal commands from the terminal.
//
//	gimbalctl encode ptz_control yaw_angle angle_value=-50 rate_value=50
//	gimbalctl --serial /dev/ttyUSB0 send zoom in
//	gimbalctl --serial /dev/ttyUSB0 run sweep.yaml
//	gimbalctl --serial /dev/ttyUSB0 shell
//	gimbalctl modes ptz_control
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"gimbal-remote/internal/config"
	"gimbal-remote/internal/gimbal"
	"gimbal-remote/internal/logging"
	"gimbal-remote/internal/metrics"
	"gimbal-remote/internal/script"
	"gimbal-remote/internal/serial"
	"gimbal-remote/internal/tpu"
)

const usage = `usage: gimbalctl [flags] <command> [args]

commands:
  encode FAMILY MODE [key=value...]   print the frame for a command
  send FAMILY MODE [key=value...]     send a command and print the reply
  run SCRIPT.yaml                     run a command script
  shell                               interactive console
  modes [FAMILY]                      list families, modes and parameters

flags:
`

func main() {
	flags := pflag.NewFlagSet("gimbalctl", pflag.ContinueOnError)
	flags.SetInterspersed(false)
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flags.PrintDefaults()
	}
	configPath := flags.StringP("config", "c", "", "config file")
	flags.StringP("serial", "s", "", "gimbal serial device")
	flags.Int("baud", serial.DefaultBaud, "serial baud rate")
	flags.Duration("settle", 50*time.Millisecond, "wait between a frame and its reply")
	flags.String("log-level", "warn", "log level")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		os.Exit(2)
	}

	args := flags.Args()
	if len(args) == 0 {
		flags.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath, flags)
	if err != nil {
		fatalf("config: %v", err)
	}
	logger, err := logging.InitLogger(cfg.Logging)
	if err != nil {
		fatalf("logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{cfg: cfg, log: logger, out: os.Stdout}
	if err := a.run(ctx, args[0], args[1:]); err != nil {
		stop()
		fatalf("%s: %v", args[0], err)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "gimbalctl: "+format+"\n", args...)
	os.Exit(1)
}

type app struct {
	cfg  *config.Config
	log  *zap.Logger
	out  io.Writer
	link *gimbal.Link
}

func (a *app) run(ctx context.Context, name string, args []string) error {
	switch name {
	case "encode":
		cmd, err := parseCommand(args)
		if err != nil {
			return err
		}
		f, err := tpu.Build(cmd)
		if err != nil {
			return err
		}
		fmt.Fprintln(a.out, f)
		return nil

	case "send":
		cmd, err := parseCommand(args)
		if err != nil {
			return err
		}
		if err := a.dial(); err != nil {
			return err
		}
		defer a.link.Close()
		return a.send(cmd)

	case "run":
		if len(args) != 1 {
			return errors.New("expected one script file")
		}
		s, err := script.LoadFile(args[0])
		if err != nil {
			return err
		}
		if err := a.dial(); err != nil {
			return err
		}
		defer a.link.Close()
		return a.runScript(ctx, s)

	case "shell":
		if err := a.dial(); err != nil {
			return err
		}
		defer a.link.Close()
		return a.shell()

	case "modes":
		return printModes(a.out, args)
	}
	return fmt.Errorf("unknown command %q", name)
}

func (a *app) dial() error {
	link, err := gimbal.Dial(serial.Config{
		Device:      a.cfg.Serial.Device,
		Baud:        a.cfg.Serial.Baud,
		ReadTimeout: a.cfg.Serial.ReadTimeout,
	},
		gimbal.WithLogger(a.log.Named("link")),
		gimbal.WithMetrics(metrics.NewLinkMetrics(metrics.NewRegistry())),
		gimbal.WithConfig(gimbal.Config{
			Settle:          a.cfg.Link.Settle,
			QueryReplyLen:   a.cfg.Link.QueryReplyLen,
			ControlReplyLen: a.cfg.Link.ControlReplyLen,
		}),
	)
	if err != nil {
		return err
	}
	a.link = link
	return nil
}

func (a *app) send(cmd tpu.Command) error {
	f, err := a.link.Encode(cmd)
	if err != nil {
		return err
	}
	reply, err := a.link.Send(cmd)
	switch {
	case errors.Is(err, gimbal.ErrShortRead):
		fmt.Fprintf(a.out, "%s -> %q (%v)\n", f, reply, err)
		return nil
	case err != nil:
		return err
	case cmd.IsQuery():
		fmt.Fprintf(a.out, "%s -> %q\n", f, reply)
	default:
		fmt.Fprintln(a.out, f)
	}
	return nil
}

func (a *app) runScript(ctx context.Context, s *script.Script) error {
	results, err := script.NewRunner(a.link, a.log.Named("script")).Run(ctx, s)
	for _, r := range results {
		status := "ok"
		if r.Err != nil {
			status = r.Err.Error()
		}
		if r.Command.IsQuery() {
			fmt.Fprintf(a.out, "%3d  %-40s %q  %s\n", r.Step, r.Command, r.Reply, status)
		} else {
			fmt.Fprintf(a.out, "%3d  %-40s %s\n", r.Step, r.Command, status)
		}
	}
	return err
}

// parseCommand reads FAMILY MODE [key=value...]. Values that parse as
// numbers become numbers, everything else stays a string.
func parseCommand(args []string) (tpu.Command, error) {
	if len(args) < 2 {
		return tpu.Command{}, errors.New("expected FAMILY MODE [key=value...]")
	}
	cmd := tpu.Command{Family: tpu.Family(args[0]), Mode: args[1]}
	for _, kv := range args[2:] {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return tpu.Command{}, fmt.Errorf("bad parameter %q, want key=value", kv)
		}
		if cmd.Params == nil {
			cmd.Params = tpu.Params{}
		}
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			cmd.Params[k] = n
		} else {
			cmd.Params[k] = v
		}
	}
	return cmd, nil
}

func printModes(w io.Writer, args []string) error {
	families := tpu.Families()
	if len(args) > 0 {
		f := tpu.Family(args[0])
		if tpu.Modes(f) == nil {
			return fmt.Errorf("%w: %s", tpu.ErrUnsupportedCommand, f)
		}
		families = []tpu.Family{f}
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FAMILY\tMODE\tPARAMS\tVALUES")
	for _, f := range families {
		for _, m := range tpu.Modes(f) {
			params, err := tpu.ModeParams(f, m)
			if err != nil {
				return err
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", f, m, strings.Join(params, ","), strings.Join(tpu.Options(f, m), ","))
		}
	}
	return tw.Flush()
}
