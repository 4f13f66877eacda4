package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"

	"gnssd/internal/config"
	"gnssd/internal/gnss"
	"gnssd/internal/mqtt"
	"gnssd/internal/powerpin"
	"gnssd/internal/sim"
	"gnssd/internal/udp"
	"gnssd/internal/web"
)

func main() {
	var configPath string
	var listenAddr string
	flag.StringVar(&configPath, "config", "./dev.yaml", "Path to YAML config")
	flag.StringVar(&listenAddr, "listen", "", "Override web.listen from the config")
	flag.Parse()

	// Tee logs into the in-memory tail that /api/logs serves.
	logBuf := web.NewLogBuffer(2000)
	log.SetOutput(io.MultiWriter(os.Stderr, logBuf))

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if listenAddr != "" {
		cfg.Web.Listen = listenAddr
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	port, err := openReceiverPort(cfg.Receiver)
	if err != nil {
		log.Fatalf("receiver open failed: %v", err)
	}

	var pin gnss.PowerPin
	if cfg.Receiver.PowerPin > 0 {
		p, err := powerpin.Open(cfg.Receiver.PowerPin)
		if err != nil {
			// The driver still runs, it just cannot hard-switch the rail.
			log.Printf("power pin %d unavailable: %v", cfg.Receiver.PowerPin, err)
		} else {
			defer p.Close()
			pin = p
		}
	}

	bc := gnss.NewBroadcaster()
	svc := gnss.New(gnss.Config{
		UpdateInterval:   cfg.Power.UpdateInterval,
		WakeMin:          cfg.Power.WakeMin,
		WakeMax:          cfg.Power.WakeMax,
		PowerSave:        !cfg.Power.AlwaysOn,
		FixedPosition:    cfg.Power.FixedPosition,
		GraceCycles:      cfg.Power.GraceCycles,
		MaxFrameErrors:   cfg.Receiver.MaxFrameErrors,
		RedetectInterval: cfg.Receiver.RedetectInterval,
	}, port, bc, pin)

	log.Printf("gnssd starting")
	log.Printf("receiver source=%s device=%s power_save=%v", cfg.Receiver.Source, cfg.Receiver.Device, !cfg.Power.AlwaysOn)

	svc.Start(ctx)
	defer svc.Close()

	go watchSuspendSignals(ctx, svc)

	if cfg.Beacon.Enable {
		beacon, err := udp.NewBeacon(cfg.Beacon.Dest, cfg.Beacon.Interval)
		if err != nil {
			log.Fatalf("udp beacon init failed: %v", err)
		}
		defer beacon.Close()
		log.Printf("udp beacon dest=%s interval=%s", cfg.Beacon.Dest, cfg.Beacon.Interval)
		go func() {
			if err := beacon.Run(ctx, bc); err != nil && ctx.Err() == nil {
				log.Printf("udp beacon stopped: %v", err)
			}
		}()
	}

	if cfg.MQTT.Enable {
		pub, err := mqtt.NewPublisher(cfg.MQTT.Broker, cfg.MQTT.ClientID, cfg.MQTT.Topic)
		if err != nil {
			log.Fatalf("mqtt init failed: %v", err)
		}
		defer pub.Close()
		log.Printf("mqtt broker=%s topic=%s", cfg.MQTT.Broker, cfg.MQTT.Topic)
		go func() {
			if err := pub.Run(ctx, bc); err != nil && ctx.Err() == nil {
				log.Printf("mqtt publisher stopped: %v", err)
			}
		}()
	}

	store := web.SettingsStore{
		ConfigPath: configPath,
		Current:    svc.PolicySnapshot,
		Apply: func(p gnss.Policy) error {
			svc.SetPolicy(p)
			return nil
		},
	}
	log.Printf("web listening on %s", cfg.Web.Listen)
	if err := web.Serve(ctx, cfg.Web.Listen, svc, bc, store, logBuf); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("web server failed: %v", err)
	}
	log.Printf("gnssd stopping")
}

// openReceiverPort gives the driver its byte channel: a real serial device
// or the built-in simulated receiver.
func openReceiverPort(rc config.ReceiverConfig) (gnss.Port, error) {
	if rc.Source == "sim" {
		return sim.NewReceiver(sim.Config{
			Model:   simModel(rc.Sim.Model),
			Baud:    rc.Sim.Baud,
			TTFF:    rc.Sim.TTFF,
			Lat:     rc.Sim.LatDeg,
			Lon:     rc.Sim.LonDeg,
			RadiusM: rc.Sim.RadiusM,
			Period:  rc.Sim.Period,
		}), nil
	}
	// The opening rate is a placeholder; the prober renegotiates it.
	return gnss.OpenPort(rc.Device, 9600)
}

func simModel(name string) gnss.Model {
	switch name {
	case "mtk":
		return gnss.ModelMTK
	case "uc6850":
		return gnss.ModelUC6850
	default:
		return gnss.ModelUblox
	}
}

// watchSuspendSignals maps host power management onto the driver: SIGUSR1
// ahead of a system suspend, SIGUSR2 on resume. Wired to pm-utils or
// systemd sleep hooks on the deployed image.
func watchSuspendSignals(ctx context.Context, svc *gnss.Service) {
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, unix.SIGUSR1, unix.SIGUSR2)
	defer signal.Stop(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-ch:
			switch sig {
			case unix.SIGUSR1:
				log.Printf("host suspend requested, parking receiver")
				svc.PrepareSleep()
			case unix.SIGUSR2:
				log.Printf("host resumed, waking receiver")
				svc.Resume()
			}
		}
	}
}
