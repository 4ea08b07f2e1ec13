package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/K4HVH/mav-lite/pkg/config"
	"github.com/K4HVH/mav-lite/pkg/metrics"
	"github.com/K4HVH/mav-lite/pkg/observability"
	"github.com/K4HVH/mav-lite/pkg/router"
	"github.com/K4HVH/mav-lite/pkg/transport"
	"github.com/K4HVH/mav-lite/pkg/transport/tcp"
	"github.com/K4HVH/mav-lite/pkg/transport/uart"
)

// run is the main entry point after CLI parsing.
func run(opts Options) int {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return 1
	}

	logger, err := observability.SetupLogger(cfg.Log, cfg.LogLevel)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
		return 1
	}
	defer func() { _ = logger.Sync() }()

	log := zap.L()
	log.Info("mav-lite starting")
	if opts.ConfigPath == "" {
		log.Info("no config file specified, using defaults")
	} else {
		log.Info("configuration loaded", zap.String("path", opts.ConfigPath))
	}
	log.Info("tcp listener", zap.String("addr", cfg.TCPAddr()))
	log.Info("uart devices", zap.Int("static", len(cfg.UART)),
		zap.Bool("discovery", cfg.UARTDiscovery.Enabled))
	log.Info("routing policy",
		zap.Bool("uart_to_uart", cfg.Routing.AllowUARTToUART),
		zap.Bool("uart_to_tcp", cfg.Routing.AllowUARTToTCP),
		zap.Bool("tcp_to_uart", cfg.Routing.AllowTCPToUART),
		zap.Bool("tcp_to_tcp", cfg.Routing.AllowTCPToTCP))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	if cfg.StatsIntervalSecs > 0 {
		m.StartStatsLogger(ctx, time.Duration(cfg.StatsIntervalSecs)*time.Second)
	}
	if addr := cfg.Metrics.ListenAddr; addr != "" {
		go func() {
			if err := m.Serve(ctx, addr); err != nil {
				log.Error("metrics listener failed", zap.Error(err))
			}
		}()
		log.Info("metrics exposed", zap.String("addr", addr))
	}

	policy := router.Policy{
		UARTToUART: cfg.Routing.AllowUARTToUART,
		TCPToTCP:   cfg.Routing.AllowTCPToTCP,
		UARTToTCP:  cfg.Routing.AllowUARTToTCP,
		TCPToUART:  cfg.Routing.AllowTCPToUART,
	}
	rtr := router.New(policy, m)
	go rtr.Run(ctx)

	var wg sync.WaitGroup

	// Static serial endpoints, each under its own reconnecting supervisor.
	staticPaths := make([]string, 0, len(cfg.UART))
	for _, u := range cfg.UART {
		staticPaths = append(staticPaths, u.Path)
		ucfg := uart.Config{
			Path: u.Path,
			Baud: u.BaudRate,
			Name: u.Name,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			uart.Supervise(ctx, ucfg, rtr.Events())
		}()
	}

	if cfg.UARTDiscovery.Enabled {
		d := uart.NewDiscovery(uart.DiscoveryConfig{
			Pattern:          cfg.UARTDiscovery.DevicePattern,
			Baud:             cfg.UARTDiscovery.BaudRate,
			DetectionTimeout: time.Duration(cfg.UARTDiscovery.DetectionTimeoutSecs) * time.Second,
			RescanInterval:   time.Duration(cfg.UARTDiscovery.RescanIntervalSecs) * time.Second,
		}, rtr.Events(), staticPaths)
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Run(ctx)
		}()
	}

	listener, err := tcp.Listen(cfg.TCPAddr(), rtr.Events(), tcp.Options{
		QueueLen: transport.DefaultQueueLen,
		Drain:    transport.DefaultDrainTimeout,
	})
	if err != nil {
		log.Error("tcp bind failed", zap.Error(err))
		return 1
	}

	log.Info("mav-lite ready")
	listener.Serve(ctx)
	wg.Wait()

	log.Info("mav-lite stopped")
	return 0
}
