package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"hm-binrpc/bridge"
	"hm-binrpc/client"
	"hm-binrpc/codec"
	"hm-binrpc/config"
	"hm-binrpc/logging"
	"hm-binrpc/message"
	"hm-binrpc/middleware"
	"hm-binrpc/mqtt"
	"hm-binrpc/portpool"
	"hm-binrpc/registry"
	"hm-binrpc/server"
	"hm-binrpc/transport"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	bc, err := codec.NewBinaryCodec(cfg.Gateway.Encoding)
	if err != nil {
		logger.Fatal("Invalid gateway encoding", zap.Error(err))
	}

	var events server.EventListener = server.EventListenerFunc(func(msg *message.RPCMessage) {
		logger.Info("Gateway callback", zap.Stringer("message", msg))
	})
	if cfg.MQTT.Broker != "" {
		mc, err := mqtt.Connect(cfg.MQTT, logger.Named("mqtt"))
		if err != nil {
			logger.Fatal("Failed to connect to MQTT broker", zap.Error(err))
		}
		defer mc.Close()
		events = mqtt.NewEventPublisher(mc, mc.Topics(), byte(cfg.MQTT.QoS), logger.Named("mqtt"))
	}

	var reg registry.Registry
	if len(cfg.Etcd.Endpoints) > 0 {
		er, err := registry.NewEtcdRegistry(cfg.Etcd.Endpoints, cfg.Etcd.DialTimeout, logger.Named("registry"))
		if err != nil {
			logger.Fatal("Failed to connect to etcd", zap.Error(err))
		}
		defer er.Close()
		reg = er
	}

	// one attempt plus its retry
	mws := []middleware.Middleware{
		middleware.LoggingMiddleware(logger.Named("rpc")),
		middleware.TimeoutMiddleware(2 * cfg.Gateway.Timeout),
	}
	if cfg.RateLimit.RPS > 0 {
		mws = append(mws, middleware.RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
	}

	ports := make(map[client.Interface]int)
	for name, port := range cfg.Gateway.Ports.ByInterface() {
		ports[client.Interface(name)] = port
	}
	sockets := transport.NewSocketManager(cfg.Gateway.Host, cfg.Gateway.Timeout,
		transport.WithLogger(logger.Named("transport")))
	rpc := client.New(client.Config{Ports: ports, Timeout: cfg.Gateway.Timeout},
		sockets, bc, logger.Named("client"), client.WithMiddleware(mws...))

	ifaces := make([]client.Interface, len(cfg.Gateway.Interfaces))
	for i, name := range cfg.Gateway.Interfaces {
		ifaces[i] = client.Interface(name)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	for _, iface := range ifaces {
		if err := rpc.CheckInterface(ctx, iface); err != nil {
			logger.Fatal("Gateway interface not available", zap.String("interface", string(iface)), zap.Error(err))
		}
	}

	b := bridge.New(bridge.Config{
		ID:           cfg.Bridge.ID,
		Gateway:      cfg.Gateway.Host,
		CallbackHost: cfg.Callback.Host,
		Interfaces:   ifaces,
		RegistryTTL:  cfg.Etcd.TTL,
	}, rpc, bc, portpool.New(cfg.Callback.BasePort), reg, events, logger,
		bridge.WithServerOptions(server.WithReadTimeout(cfg.Callback.ReadTimeout)))

	if err := b.Start(ctx); err != nil {
		cancel()
		logger.Fatal("Failed to start bridge", zap.Error(err))
	}
	cancel()
	logger.Info("hmbridge started",
		zap.String("gateway", cfg.Gateway.Host),
		zap.String("callback_url", b.CallbackURL()))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutdown signal received")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	b.Stop(stopCtx)

	logger.Info("hmbridge stopped")
}
