package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/ternarybob/aditus/internal/common"
	"github.com/ternarybob/aditus/internal/models"
	"github.com/ternarybob/aditus/internal/worker"
)

var (
	configFile  = flag.String("config", "", "Configuration file path")
	brokerURL   = flag.String("broker", "", "Broker URL (overrides config)")
	graphID     = flag.String("graph", "", "Transport network this worker serves (overrides config)")
	concurrency = flag.Int("concurrency", 0, "Max tasks computed in parallel (default: CPU count)")
	showVersion = flag.Bool("version", false, "Print version information")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("Aditus worker version %s\n", common.GetVersion())
		os.Exit(0)
	}

	var paths []string
	if *configFile != "" {
		paths = append(paths, *configFile)
	} else if _, err := os.Stat("aditus.toml"); err == nil {
		paths = append(paths, "aditus.toml")
	}

	config, err := common.LoadFromFiles(paths...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *brokerURL != "" {
		config.Worker.BrokerURL = *brokerURL
	}
	if *graphID != "" {
		config.Worker.GraphID = *graphID
	}
	if *concurrency != 0 {
		config.Worker.MaxConcurrent = *concurrency
	}
	if config.Worker.GraphID == "" {
		fmt.Fprintln(os.Stderr, "a graph id is required (-graph or worker.graph_id)")
		os.Exit(1)
	}

	logger := common.SetupLogger(config, "aditus-worker.log")

	maxConcurrent := config.Worker.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = runtime.NumCPU()
	}

	// The development engine routes by straight-line distance; production
	// deployments swap in a real street+transit router here
	computer := worker.NewKernelComputer(&worker.CrowflyEngine{}, logger)

	client := worker.NewClient(worker.ClientOptions{
		BrokerURL: config.Worker.BrokerURL,
		Category: models.WorkerCategory{
			GraphID:       config.Worker.GraphID,
			WorkerVersion: common.GetVersion(),
		},
		PollInterval:  config.PollInterval(),
		MaxConcurrent: maxConcurrent,
	}, computer, logger)

	logger.Info().
		Str("worker_id", client.WorkerID()).
		Str("broker_url", config.Worker.BrokerURL).
		Str("graph_id", config.Worker.GraphID).
		Msg("Worker starting")

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		logger.Info().Msg("Interrupt signal received - stopping poll loop")
		cancel()
	}()

	if err := client.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Worker poll loop failed")
	}

	common.Stop()
	logger.Info().Msg("Worker stopped")
}
