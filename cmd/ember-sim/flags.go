package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Options holds the simulator flags.
type Options struct {
	// CoordinatorConfig and ChildConfig are YAML node configurations.
	// If empty, the built-in configuration is used.
	CoordinatorConfig string
	ChildConfig       string

	// Interval is the period of the application traffic in each direction.
	Interval time.Duration

	// Duration stops the simulation after a while. Zero runs until
	// interrupted.
	Duration time.Duration

	// DropRate and BusyRate impair the medium.
	DropRate float64
	BusyRate float64

	// LogLevel is the pion log level of the stacks.
	LogLevel string
}

// DefaultOptions returns the simulator defaults.
func DefaultOptions() Options {
	return Options{
		Interval: time.Second,
		LogLevel: "info",
	}
}

// ParseFlags parses the command line:
//
//	-coordinator  coordinator YAML configuration (default: built in)
//	-child        sleepy child YAML configuration (default: built in)
//	-interval     traffic period (default: 1s)
//	-duration     stop after this long (default: until interrupted)
//	-drop         frame drop probability, 0-1 (default: 0)
//	-busy         CCA busy probability, 0-1 (default: 0)
//	-log          log level: error, warn, info, debug, trace (default: info)
func ParseFlags() Options {
	o := DefaultOptions()

	flag.StringVar(&o.CoordinatorConfig, "coordinator", "", "Coordinator YAML configuration (empty = built in)")
	flag.StringVar(&o.ChildConfig, "child", "", "Sleepy child YAML configuration (empty = built in)")
	flag.DurationVar(&o.Interval, "interval", o.Interval, "Traffic period")
	flag.DurationVar(&o.Duration, "duration", 0, "Stop after this long (0 = until interrupted)")
	flag.Func("drop", "Frame drop probability, 0-1 (default: 0)", func(s string) error {
		v, err := parseRate(s)
		o.DropRate = v
		return err
	})
	flag.Func("busy", "CCA busy probability, 0-1 (default: 0)", func(s string) error {
		v, err := parseRate(s)
		o.BusyRate = v
		return err
	})
	flag.StringVar(&o.LogLevel, "log", o.LogLevel, "Log level: error, warn, info, debug, trace")

	flag.Usage = PrintUsage
	flag.Parse()
	return o
}

func parseRate(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if v < 0 || v > 1 {
		return 0, fmt.Errorf("rate must be 0-1, got %v", v)
	}
	return v, nil
}

// PrintUsage prints usage information to stderr.
func PrintUsage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "\nOptions:\n")
	flag.PrintDefaults()
}
