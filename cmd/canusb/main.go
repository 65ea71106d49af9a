package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/shaunagostinho/canusb/internal/can"
	"github.com/shaunagostinho/canusb/internal/canusb"
	"github.com/shaunagostinho/canusb/internal/serialport"
	"github.com/shaunagostinho/canusb/internal/server"
	"github.com/shaunagostinho/canusb/web"
)

func main() {
	configPath := flag.String("config", "/etc/canusb/config.yaml", "Path to config file")
	demo := flag.Bool("demo", false, "Run against a simulated adapter")
	listenAddr := flag.String("listen", "", "Override listen address (e.g. :8080)")
	dump := flag.Bool("dump", false, "Print received identifiers instead of serving the monitor")
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("[main] canusb starting")

	cfg := server.LoadConfig(*configPath)

	if *demo {
		cfg.Serial.Driver = "sim"
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[main] received %v, shutting down", sig)
		cancel()
	}()

	port, err := openChannel(cfg.Serial)
	if err != nil {
		log.Fatalf("[main] %v", err)
	}
	defer port.Close()

	dev := canusb.New(port)
	tx, err := bringUp(dev, cfg.CAN)
	if err != nil {
		log.Fatalf("[main] %v", err)
	}
	defer tx.Close()

	if *dump {
		dumpLoop(ctx, tx, os.Stdout)
		return
	}

	srv := server.New(cfg, dev, tx, web.FS)
	if err := srv.Run(ctx); err != nil {
		log.Printf("[main] server exited: %v", err)
	}
}

type channel interface {
	serialport.Channel
	io.Closer
}

func openChannel(cfg server.SerialConfig) (channel, error) {
	switch cfg.Driver {
	case "sim":
		return serialport.NewSim(serialport.SimConfig{BufferSize: cfg.BufferSize}), nil
	case "tarm":
		return serialport.OpenTarm(cfg.Port())
	case "", "bugst":
		return serialport.Open(cfg.Port())
	default:
		return nil, fmt.Errorf("unknown serial driver %q (want bugst, tarm or sim)", cfg.Driver)
	}
}

// bringUp configures the bus, opens it and returns the transceiver. The bus
// manager is released afterwards; the bus stays open.
func bringUp(dev *canusb.Device, cfg server.CANConfig) (*canusb.Transceiver, error) {
	mgr, err := dev.AcquireBusManager()
	if err != nil {
		return nil, err
	}
	defer mgr.Close()

	if err := mgr.SetBaudRate(cfg.Bitrate); err != nil {
		return nil, err
	}

	accept, ok := can.ParseAccept(cfg.Filter)
	if !ok {
		log.Printf("[canusb] unknown filter %q, accepting all", cfg.Filter)
	}
	if accept != can.AcceptAll {
		log.Printf("[canusb] adapter has no acceptance filter; filter %q has no effect", cfg.Filter)
	}
	if err := mgr.SetFilterMode(accept); err != nil {
		return nil, err
	}
	if err := mgr.OnBusOff(func() { log.Printf("[canusb] bus off") }); err != nil {
		return nil, err
	}

	if err := mgr.BusOn(); err != nil {
		return nil, err
	}
	log.Printf("[canusb] bus on at %d bit/s", dev.BaudRate())

	return dev.AcquireTransceiver(cfg.BufferSize)
}
