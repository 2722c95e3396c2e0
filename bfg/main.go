package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/itohio/gobfg/pkg/config"
	"github.com/itohio/gobfg/pkg/indicator"
	"github.com/itohio/gobfg/pkg/link"
	"github.com/itohio/gobfg/pkg/pmic"
	"github.com/itohio/gobfg/pkg/telemetry"
)

func main() {
	var (
		portFlag   = flag.String("p", "", "Serial port override (e.g., /dev/ttyACM0)")
		configFlag = flag.String("config", "config.yaml", "Configuration file path")
		mockFlag   = flag.Bool("mock", false, "Use simulated PMIC instead of serial port")
		listFlag   = flag.Bool("list", false, "List serial ports and exit")
		saveFlag   = flag.Bool("save", false, "Write the effective configuration to the -config path and exit")
	)
	flag.Parse()

	if *listFlag {
		if err := listPorts(); err != nil {
			log.Fatalf("Failed to list serial ports: %v", err)
		}
		return
	}

	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Error loading .env file: %v", err)
	}

	cfg, err := config.Load(*configFlag)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *portFlag != "" {
		cfg.PMIC.Port = *portFlag
	}
	if u := os.Getenv("MQTT_USERNAME"); u != "" {
		cfg.Telemetry.Username = u
	}
	cfg.Telemetry.Password = os.Getenv("MQTT_PASSWORD")

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if *saveFlag {
		if err := cfg.Save(*configFlag); err != nil {
			log.Fatalf("Failed to save configuration: %v", err)
		}
		log.Printf("Configuration written to %s", *configFlag)
		return
	}

	if err := run(cfg, *mockFlag); err != nil {
		log.Fatal(err)
	}
	log.Println("Stopped")
}

func run(cfg *config.Config, useMock bool) error {
	var device pmic.Device
	if useMock {
		device = pmic.NewMock(&cfg.Mock)
		log.Println("Using mocked PMIC")
	} else {
		device = pmic.New(&cfg.PMIC)
	}
	if err := device.Connect(); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", cfg.PMIC.Port, err)
	}
	defer device.Close()
	if !useMock {
		log.Printf("Connected to serial port: %s", cfg.PMIC.Port)
	}

	statusLED, err := indicator.Open(&cfg.Indicator, cfg.Indicator.StatusPin)
	if err != nil {
		return fmt.Errorf("status LED: %w", err)
	}
	defer statusLED.Close()

	connLED, err := indicator.Open(&cfg.Indicator, cfg.Indicator.ConnectionPin)
	if err != nil {
		return fmt.Errorf("connection LED: %w", err)
	}
	defer connLED.Close()

	a := &app{
		cfg:       cfg,
		device:    device,
		stack:     link.NewTinyGo(cfg.BLE.DeviceName, cfg.BLE.AdvertisingInterval),
		statusLED: statusLED,
		connLED:   connLED,
		logger:    log.Default(),
	}

	if cfg.Telemetry.Broker != "" {
		pub, err := telemetry.NewRealPublisher(&cfg.Telemetry)
		if err != nil {
			log.Printf("Telemetry disabled: %v", err)
		} else {
			a.publisher = pub
			log.Printf("Mirroring status to %s on %s", cfg.Telemetry.Broker, cfg.Telemetry.Topic)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return a.run(ctx)
}

func listPorts() error {
	ports, err := pmic.Ports()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Println("No serial ports found")
		return nil
	}
	for _, p := range ports {
		if p.Description != "" {
			fmt.Printf("%s\t%s\n", p.Name, p.Description)
			continue
		}
		fmt.Println(p.Name)
	}
	return nil
}
