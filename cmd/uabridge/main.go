package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/ghalamif/uabridge"
)

const defaultConfigPath = "./data/config.yaml"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	var err error

	switch cmd {
	case "run":
		err = runCommand(os.Args[2:])
	case "validate":
		err = validateCommand(os.Args[2:])
	case "points":
		err = pointsCommand(os.Args[2:])
	case "stats":
		err = statsCommand(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		printUsage()
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil {
		logrus.Fatalf("uabridge %s: %v", cmd, err)
	}
}

func runCommand(args []string) error {
	fset := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fset.StringP("config", "c", defaultConfigPath, "Path to bridge configuration file")
	endpoint := fset.StringP("endpoint", "e", "", "Override the OPC UA endpoint")
	addr := fset.String("addr", "", "Override the HTTP listen address")
	simulate := fset.Bool("simulate", false, "Bridge an in-process simulated server instead of a real one")
	interval := fset.Duration("simulate-interval", time.Second, "Value change period of the simulator")
	if err := fset.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*cfgPath, fset.Changed("config"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *endpoint != "" {
		cfg.OPCUA.Endpoint = *endpoint
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	var opts []uabridge.RuntimeOption
	if *simulate {
		opts = append(opts, uabridge.WithSimulation(*interval))
	}
	rt, err := uabridge.NewRuntime(cfg, opts...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return rt.Run(ctx)
}

// loadConfig falls back to the built-in defaults when the default path is
// absent; an explicit path must exist.
func loadConfig(path string, explicit bool) (*uabridge.Config, error) {
	cfg, err := uabridge.LoadConfig(path)
	if err != nil && !explicit && errors.Is(err, fs.ErrNotExist) {
		return uabridge.DefaultConfig(), nil
	}
	return cfg, err
}

func validateCommand(args []string) error {
	fset := flag.NewFlagSet("validate", flag.ExitOnError)
	cfgPath := fset.StringP("config", "c", defaultConfigPath, "Path to configuration file to validate")
	if err := fset.Parse(args); err != nil {
		return err
	}

	if _, err := uabridge.LoadConfig(*cfgPath); err != nil {
		return err
	}
	fmt.Printf("config %s looks good\n", *cfgPath)
	return nil
}

func pointsCommand(args []string) error {
	fset := flag.NewFlagSet("points", flag.ExitOnError)
	cfgPath := fset.StringP("config", "c", defaultConfigPath, "Path to configuration file")
	if err := fset.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*cfgPath, fset.Changed("config"))
	if err != nil {
		return err
	}
	points, err := cfg.Registry()
	if err != nil {
		return err
	}

	fmt.Printf("%-12s %-14s %-12s %-10s %s\n", "NAME", "NODE", "TOPIC", "SHAPE", "SAMPLING/QUEUE")
	for _, p := range points.Points() {
		shape := "value"
		switch {
		case p.Composite:
			shape = "composite"
		case p.TimestampTopic != "":
			shape = "value+" + p.TimestampTopic
		}
		fmt.Printf("%-12s %-14s %-12s %-10s %s/%d (%s)\n",
			p.Name, p.NodeID, p.Topic, shape, p.SamplingInterval, p.QueueDepth, p.Discard)
	}
	return nil
}

func printUsage() {
	fmt.Printf(`uabridge: OPC UA to websocket bridge

Usage:
  uabridge <command> [flags]

Commands:
  run        Connect, subscribe and fan value changes out to subscribers
  validate   Load and validate a config file without starting the bridge
  points     Print the monitored points the config resolves to
  stats      Poll the Prometheus metrics endpoint and print live counters

Examples:
  uabridge run --config ./data/config.yaml
  uabridge run --simulate --addr :3000
  uabridge validate -c ./data/config.yaml
  uabridge stats --url http://localhost:3000/metrics --interval 1s
`)
}
