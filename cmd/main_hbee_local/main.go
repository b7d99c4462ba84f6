// Command main_hbee_local runs a single HBee scan-and-push invocation
// against local disk, for testing the worker path without ECS/Lambda
// (spec §4.5).
package main

import (
	"context"
	"fmt"
	"os"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/cloudfuse-io/buzz-go/internal/cli"
	"github.com/cloudfuse-io/buzz-go/internal/cloud"
	"github.com/cloudfuse-io/buzz-go/internal/flightrpc"
	"github.com/cloudfuse-io/buzz-go/internal/hbee"
	"github.com/cloudfuse-io/buzz-go/internal/localdemo"
	"github.com/cloudfuse-io/buzz-go/internal/observability"
)

var (
	planPath     string
	queryID      string
	hcombAddress string
	dataDir      string
)

func main() {
	c := cli.New("main_hbee_local", "Run one HBee scan against local disk",
		"Reads an HBeePlan in flightrpc's JSON wire encoding, scans its files from --data, runs its SQL, and pushes the result to the aggregator at --hcomb.",
		run)
	c.Command().Flags().StringVar(&planPath, "plan", "", "path to an HBeePlan encoded with flightrpc.EncodeHBeePlan (required)")
	c.Command().Flags().StringVar(&queryID, "query-id", "", "query id this invocation belongs to (required)")
	c.Command().Flags().StringVar(&hcombAddress, "hcomb", "", "aggregator address, host:port (required)")
	c.Command().Flags().StringVar(&dataDir, "data", "", "directory of localdemo-format files (required)")
	os.Exit(c.Execute())
}

func run(c *cli.CLI, args []string) error {
	if planPath == "" || queryID == "" || hcombAddress == "" || dataDir == "" {
		return fmt.Errorf("--plan, --query-id, --hcomb, and --data are all required")
	}

	raw, err := os.ReadFile(planPath)
	if err != nil {
		return fmt.Errorf("reading plan file: %w", err)
	}
	plan, err := flightrpc.DecodeHBeePlan(raw)
	if err != nil {
		return fmt.Errorf("parsing plan file: %w", err)
	}

	logger := observability.NewJSONLogger(os.Stdout)

	conn, err := grpc.NewClient(hcombAddress, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("dialing aggregator: %w", err)
	}
	defer conn.Close()

	downloader := cloud.NewLocalFileDownloader(dataDir)
	w := hbee.NewWorker(downloader, "local", localdemo.Reader{}, 4, logger)
	defer w.Close()

	pub := hbee.NewGRPCPublisher(conn)
	return w.ExecuteQuery(context.Background(), queryID, plan, pub)
}
