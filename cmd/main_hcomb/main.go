// Command main_hcomb runs the aggregator (HComb) role as a long-lived
// (but idle-expiring) gRPC server (spec §4.4).
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"google.golang.org/grpc"

	"github.com/cloudfuse-io/buzz-go/internal/cli"
	"github.com/cloudfuse-io/buzz-go/internal/flightrpc"
	"github.com/cloudfuse-io/buzz-go/internal/hcomb"
	"github.com/cloudfuse-io/buzz-go/internal/observability"
)

func main() {
	c := cli.New("main_hcomb", "Run the Buzz aggregator (HComb) role",
		"Serves DoGet/DoPut/DoAction over gRPC and self-terminates after the configured idle threshold.",
		run)
	os.Exit(c.Execute())
}

func run(c *cli.CLI, args []string) error {
	cfg := c.Config().Server
	logger := observability.NewJSONLogger(os.Stdout)

	lis, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.ListenAddr, err)
	}

	svc := hcomb.NewService(logger)
	server := grpc.NewServer()
	flightrpc.RegisterServer(server, svc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go hcomb.WatchIdle(ctx, svc, time.Duration(cfg.IdleThresholdSecs)*time.Second, func() {
		logger.LogEvent(observability.QueryEvent{
			QueryID: "-", Role: "hcomb", Zone: -1, Stage: "idle-expiry", Outcome: "ok",
		})
		server.GracefulStop()
	})

	fmt.Printf("hcomb listening on %s (idle threshold %ds)\n", lis.Addr(), cfg.IdleThresholdSecs)
	return server.Serve(lis)
}
