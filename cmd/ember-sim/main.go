// ember-sim runs a coordinator and a sleepy child over a simulated
// 802.15.4 medium.
//
// The coordinator sends a frame to the child every interval; the frame waits
// in the coordinator's indirect queue until the child polls. The child
// reports back directly.
//
// Usage:
//
//	ember-sim [options]
//
// Options:
//
//	-coordinator  coordinator YAML configuration (default: built in)
//	-child        sleepy child YAML configuration (default: built in)
//	-interval     traffic period (default: 1s)
//	-duration     stop after this long (default: until interrupted)
//	-drop         frame drop probability, 0-1 (default: 0)
//	-busy         CCA busy probability, 0-1 (default: 0)
//	-log          log level (default: info)
//
// Example:
//
//	ember-sim -interval 200ms -drop 0.1 -log debug
package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/backkem/ember/pkg/mac"
	"github.com/backkem/ember/pkg/phy"
	"github.com/backkem/ember/pkg/stack"
	"github.com/pion/logging"
	"golang.org/x/sync/errgroup"
)

const (
	coordinatorID = 0x0000
	childID       = 0x0042
)

func defaultCoordinator() stack.Config {
	return stack.Config{
		Networks: []stack.NetworkConfig{{
			Channel: 15,
			PANID:   0x1A62,
			NodeID:  coordinatorID,
			EUI64:   0x00124B0000000001,
			Children: []stack.ChildConfig{
				{ShortID: childID, LongID: 0x00124B0000000042},
			},
		}},
	}
}

func defaultChild() stack.Config {
	return stack.Config{
		PollIntervalMs: 250,
		Networks: []stack.NetworkConfig{{
			Channel: 15,
			PANID:   0x1A62,
			NodeID:  childID,
			EUI64:   0x00124B0000000042,
			Parent:  &stack.ParentConfig{NodeID: coordinatorID, EUI64: 0x00124B0000000001},
		}},
	}
}

func loadConfig(path string, fallback func() stack.Config) (stack.Config, error) {
	if path == "" {
		return fallback(), nil
	}
	return stack.LoadConfig(path)
}

func main() {
	opts := ParseFlags()
	if opts.Interval <= 0 {
		log.Fatalf("interval must be positive, got %v", opts.Interval)
	}

	coordinatorCfg, err := loadConfig(opts.CoordinatorConfig, defaultCoordinator)
	if err != nil {
		log.Fatalf("coordinator config: %v", err)
	}
	childCfg, err := loadConfig(opts.ChildConfig, defaultChild)
	if err != nil {
		log.Fatalf("child config: %v", err)
	}

	loggerFactory := logging.NewDefaultLoggerFactory()
	loggerFactory.DefaultLogLevel = parseLogLevel(opts.LogLevel)

	medium := phy.NewMedium()
	defer medium.Close()
	medium.SetCondition(phy.Condition{DropRate: opts.DropRate, CCABusyRate: opts.BusyRate})

	coordinator, coordinatorRadio, err := newNode(medium, 0, coordinatorCfg, loggerFactory, "coordinator")
	if err != nil {
		log.Fatalf("create coordinator: %v", err)
	}
	defer coordinatorRadio.Close()
	child, childRadio, err := newNode(medium, 1, childCfg, loggerFactory, "child")
	if err != nil {
		log.Fatalf("create child: %v", err)
	}
	defer childRadio.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	runCtx, cancelRun := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return coordinator.Run(gctx) })
	g.Go(func() error { return child.Run(gctx) })

	traffic(ctx, coordinator, child, opts.Interval)

	log.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for name, s := range map[string]*stack.Stack{"coordinator": coordinator, "child": child} {
		if err := s.Shutdown(shutdownCtx); err != nil {
			log.Printf("%s shutdown: %v", name, err)
		}
	}
	cancelRun()
	if err := g.Wait(); err != nil {
		log.Fatalf("event loop: %v", err)
	}
}

func newNode(medium *phy.Medium, endpoint int, cfg stack.Config, lf logging.LoggerFactory, name string) (*stack.Stack, *phy.Radio, error) {
	radio, err := phy.NewRadio(phy.RadioConfig{
		Medium:        medium,
		Endpoint:      endpoint,
		LoggerFactory: lf,
	})
	if err != nil {
		return nil, nil, err
	}
	s, err := stack.New(cfg, stack.Options{
		Lower: []mac.LowerMAC{radio},
		OnReceive: func(d stack.Delivery) {
			log.Printf("%s: %q from %s (rssi %d, lqi %d)", name, d.Payload, d.Source, d.RSSI, d.LQI)
		},
		LoggerFactory: lf,
	})
	if err != nil {
		radio.Close()
		return nil, nil, err
	}
	return s, radio, nil
}

// traffic exchanges frames until ctx is done. A send still waiting after a
// few intervals is abandoned by its context, not by the MAC.
func traffic(ctx context.Context, coordinator, child *stack.Stack, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var g errgroup.Group
	defer func() { _ = g.Wait() }()

	send := func(name string, s *stack.Stack, dest uint16, payload string) func() error {
		return func() error {
			sendCtx, cancel := context.WithTimeout(ctx, 4*interval)
			defer cancel()
			report(name, payload)(s.Send(sendCtx, 0, dest, []byte(payload)))
			return nil
		}
	}

	for n := 1; ; n++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		g.Go(send("coordinator", coordinator, childID, fmt.Sprintf("cmd %d", n)))
		g.Go(send("child", child, coordinatorID, fmt.Sprintf("report %d", n)))
	}
}

func report(name, payload string) func(mac.TxStatus, error) {
	return func(status mac.TxStatus, err error) {
		switch {
		case err != nil:
			log.Printf("%s: send %q: %v", name, payload, err)
		case status != mac.TxStatusSuccess:
			log.Printf("%s: send %q: %s", name, payload, status)
		}
	}
}

func parseLogLevel(s string) logging.LogLevel {
	switch strings.ToLower(s) {
	case "error":
		return logging.LogLevelError
	case "warn":
		return logging.LogLevelWarn
	case "debug":
		return logging.LogLevelDebug
	case "trace":
		return logging.LogLevelTrace
	default:
		return logging.LogLevelInfo
	}
}
