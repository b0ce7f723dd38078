// Command smartlamp configures a SmartLamp over Bluetooth Low Energy.
//
// Usage:
//
//	smartlamp [-config FILE] [-address ADDR] <command> [args]
//
// Commands:
//
//	scan                          list nearby lamps
//	send CMD...                   send raw protocol commands
//	rgb COLOR                     light the lamp (#RRGGBB, R,G,B or R G B)
//	alarm WDAY HH:MM FADE COLOR   set the alarm of a weekday
//	alarm-off WDAY                disable the alarm of a weekday
//	sync FILE                     set the clock and every alarm listed in FILE
//	time                          set the lamp clock to now
//	test                          ask the lamp for a self test
//	serve                         keep the lamp connected and run the relay
//	init-config                   write the default config file
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gion86/SmartLamp/internal/ble"
	"github.com/gion86/SmartLamp/internal/ble/protocol"
	"github.com/gion86/SmartLamp/internal/config"
	"github.com/gion86/SmartLamp/internal/lamp"
	"github.com/gion86/SmartLamp/internal/relay"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/smartlamp/config.yaml)")
	address := flag.String("address", "", "lamp address, overrides device.address")
	listen := flag.String("listen", "", "relay listen address for serve, overrides relay.listen_addr")
	scanTimeout := flag.Duration("scan-timeout", 5*time.Second, "how long scan listens for advertisements")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	if args[0] == "init-config" {
		path, err := config.WriteDefault()
		if err != nil {
			log.Fatalf("init-config: %v", err)
		}
		if path == "" {
			log.Printf("Config already exists at %s, left untouched", config.DefaultConfigPath())
			return
		}
		log.Printf("Wrote default config to %s", path)
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *address != "" {
		cfg.Device.Address = *address
	}
	if *listen != "" {
		cfg.Relay.ListenAddr = *listen
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch args[0] {
	case "scan":
		err = scan(*scanTimeout)
	case "serve":
		err = serve(ctx, cfg)
	default:
		var cmds []string
		cmds, err = buildCommands(args[0], args[1:])
		if err == nil {
			err = send(ctx, cfg, cmds)
		}
	}
	if err != nil {
		log.Fatalf("%s: %v", args[0], err)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: smartlamp [flags] <command> [args]

Commands:
  scan                          list nearby lamps
  send CMD...                   send raw protocol commands
  rgb COLOR                     light the lamp (#RRGGBB, R,G,B or R G B)
  alarm WDAY HH:MM FADE COLOR   set the alarm of a weekday
  alarm-off WDAY                disable the alarm of a weekday
  sync FILE                     set the clock and every alarm listed in FILE
  time                          set the lamp clock to now
  test                          ask the lamp for a self test
  serve                         keep the lamp connected and run the relay
  init-config                   write the default config file

Flags:
`)
	flag.PrintDefaults()
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	// Try default config path
	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		log.Printf("Config loaded from %s", defaultPath)
		return cfg, nil
	}

	return config.Default(), nil
}

// buildCommands turns a subcommand and its arguments into protocol commands.
func buildCommands(name string, args []string) ([]string, error) {
	need := func(n int) error {
		if len(args) != n {
			return fmt.Errorf("expected %d arguments, got %d", n, len(args))
		}
		return nil
	}

	switch name {
	case "send":
		if len(args) == 0 {
			return nil, errors.New("nothing to send")
		}
		cmds := make([]string, 0, len(args))
		for _, a := range args {
			cmd, err := protocol.Raw(a)
			if err != nil {
				return nil, err
			}
			cmds = append(cmds, cmd)
		}
		return cmds, nil

	case "rgb":
		args = joinColor(args, 0)
		if err := need(1); err != nil {
			return nil, err
		}
		c, err := lamp.ParseColor(args[0])
		if err != nil {
			return nil, err
		}
		return []string{c.Command()}, nil

	case "alarm":
		args = joinColor(args, 3)
		if err := need(4); err != nil {
			return nil, err
		}
		wday, err := lamp.ParseWeekday(args[0])
		if err != nil {
			return nil, err
		}
		hour, minute, err := lamp.ParseClock(args[1])
		if err != nil {
			return nil, err
		}
		fade, err := strconv.Atoi(args[2])
		if err != nil {
			return nil, fmt.Errorf("fade time %q: %w", args[2], err)
		}
		c, err := lamp.ParseColor(args[3])
		if err != nil {
			return nil, err
		}
		a := lamp.DayAlarm{
			Weekday: wday, Enabled: true, Hour: hour, Minute: minute, FadeTime: fade,
			Red: int(c.R), Green: int(c.G), Blue: int(c.B),
		}
		cmd, err := a.Command()
		if err != nil {
			return nil, err
		}
		return []string{cmd}, nil

	case "alarm-off":
		if err := need(1); err != nil {
			return nil, err
		}
		wday, err := lamp.ParseWeekday(args[0])
		if err != nil {
			return nil, err
		}
		cmd, err := protocol.AlarmDisable(wday)
		if err != nil {
			return nil, err
		}
		return []string{cmd}, nil

	case "sync":
		if err := need(1); err != nil {
			return nil, err
		}
		alarms, err := loadAlarms(args[0])
		if err != nil {
			return nil, err
		}
		return lamp.SyncBatch(time.Now(), alarms)

	case "time":
		cmd, err := protocol.TimeSync(time.Now())
		if err != nil {
			return nil, err
		}
		return []string{cmd}, nil

	case "test":
		cmd, err := protocol.Format(protocol.KindTest, protocol.Params{})
		if err != nil {
			return nil, err
		}
		return []string{cmd}, nil

	default:
		return nil, fmt.Errorf("unknown command %q (run with -h for usage)", name)
	}
}

// joinColor lets a colour be given as three separate R G B arguments
// starting at args[from].
func joinColor(args []string, from int) []string {
	if len(args) != from+3 {
		return args
	}
	return append(args[:from:from], strings.Join(args[from:], ","))
}

// loadAlarms reads a YAML list of weekday alarms.
func loadAlarms(path string) ([]lamp.DayAlarm, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading alarms: %w", err)
	}
	var alarms []lamp.DayAlarm
	if err := yaml.Unmarshal(data, &alarms); err != nil {
		return nil, fmt.Errorf("parsing alarms: %w", err)
	}
	return alarms, nil
}

func scan(timeout time.Duration) error {
	log.Printf("Scanning for %s...", timeout)
	devices, err := ble.ScanForDevices(ble.NewTinyGoAdapter(), timeout)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		log.Println("No lamps found")
		return nil
	}
	for _, d := range devices {
		name := d.Name
		if name == "" {
			name = "(unnamed)"
		}
		fmt.Printf("%-20s %s  RSSI %d\n", name, d.Address, d.RSSI)
	}
	return nil
}

// connect builds a client and connects it to the configured lamp. Response
// lines are echoed to stdout.
func connect(ctx context.Context, cfg *config.Config) (*ble.Client, error) {
	if cfg.Device.Address == "" {
		return nil, errors.New("no lamp address: set device.address or pass -address (see smartlamp scan)")
	}

	client := ble.NewClient(ble.NewTinyGoAdapter(), cfg.ClientOptions())
	if err := client.Initialize(); err != nil {
		client.Close()
		return nil, err
	}
	client.RegisterListener(func(e ble.Event) {
		switch e.Type {
		case ble.EventDataReceived:
			fmt.Printf("< %s\n", e.Line)
		case ble.EventCommandAcknowledged:
			fmt.Printf("> %s ok\n", strings.TrimSpace(e.Command))
		case ble.EventDisconnected:
			log.Printf("Disconnected from %s", e.Address)
		}
	})

	log.Printf("Connecting to %s...", cfg.Device.Address)
	connectCtx, cancel := context.WithTimeout(ctx, cfg.Device.ConnectTimeout)
	defer cancel()
	if err := client.Connect(connectCtx, cfg.Device.Address); err != nil {
		client.Close()
		return nil, err
	}
	log.Printf("Connected")
	return client, nil
}

func send(ctx context.Context, cfg *config.Config, cmds []string) error {
	client, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	start := time.Now()
	if err := client.Send(ctx, cmds...); err != nil {
		return fmt.Errorf("status %d (%s): %w", ble.StatusOf(err), ble.StatusOf(err), err)
	}
	log.Printf("%d command(s) acknowledged in %s", len(cmds), time.Since(start).Round(time.Millisecond))
	return nil
}

func serve(ctx context.Context, cfg *config.Config) error {
	if cfg.Relay.ListenAddr == "" {
		return errors.New("no relay address: set relay.listen_addr or pass -listen")
	}
	client, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	log.Printf("Relay on http://%s/api/v1/ (Ctrl+C to quit)", cfg.Relay.ListenAddr)
	if err := relay.New(client).ListenAndServe(ctx, cfg.Relay.ListenAddr); err != nil {
		return err
	}
	log.Println("Goodbye!")
	return nil
}
