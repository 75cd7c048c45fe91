// Command simulator runs a fake charging backend façade for local development.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	listenAddr     = flag.String("listen", ":8081", "HTTP listen address")
	chargePointIDs = flag.String("chargers", "CP001,CP002", "Comma separated charge point IDs")
	token          = flag.String("token", "", "Bearer token required on every request (empty disables auth)")
	applyDelay     = flag.Duration("apply-delay", 1500*time.Millisecond, "Delay before an accepted command takes effect")
	meterInterval  = flag.Duration("meter-interval", 2*time.Second, "Meter sample interval")
	powerKW        = flag.Float64("power", 22.0, "Charging power (kW)")
	pricePerKWh    = flag.String("price", "1.95", "Energy price per kWh")
	balance        = flag.String("balance", "50.00", "Initial wallet balance")
	currency       = flag.String("currency", "BRL", "Wallet currency")
	gatewaySecret  = flag.String("gateway-secret", "sim-secret", "HMAC secret used to sign checkout payloads")
	verbose        = flag.Bool("verbose", false, "Enable verbose logging")
)

func main() {
	flag.Parse()

	// Setup logger
	var logger *zap.Logger
	var err error
	if *verbose {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	price, err := decimal.NewFromString(*pricePerKWh)
	if err != nil {
		logger.Fatal("Invalid price", zap.Error(err))
	}
	initial, err := decimal.NewFromString(*balance)
	if err != nil {
		logger.Fatal("Invalid balance", zap.Error(err))
	}

	config := &SimulatorConfig{
		ChargePointIDs: strings.Split(*chargePointIDs, ","),
		Token:          *token,
		ApplyDelay:     *applyDelay,
		MeterInterval:  *meterInterval,
		PowerKW:        *powerKW,
		PricePerKWh:    price,
		Balance:        initial,
		Currency:       *currency,
		GatewaySecret:  *gatewaySecret,
	}

	sim := NewSimulator(config, logger)
	defer sim.Close()

	go func() {
		logger.Info("Backend simulator listening",
			zap.String("addr", *listenAddr),
			zap.Strings("chargers", config.ChargePointIDs),
		)
		if err := sim.App().Listen(*listenAddr); err != nil {
			logger.Fatal("Simulator failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down simulator...")
	if err := sim.App().Shutdown(); err != nil {
		logger.Error("Shutdown failed", zap.Error(err))
	}
}
