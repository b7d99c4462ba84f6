// Command main_fuse_local runs the Fuse (query-controller) role
// entirely in-process: aggregators and workers run as goroutines
// instead of ECS tasks and Lambda invocations, against demo files on
// local disk (internal/localdemo), for development.
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"os"

	"github.com/apache/arrow-go/v18/arrow"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/cloudfuse-io/buzz-go/internal/catalog"
	"github.com/cloudfuse-io/buzz-go/internal/cli"
	"github.com/cloudfuse-io/buzz-go/internal/cloud"
	"github.com/cloudfuse-io/buzz-go/internal/flightrpc"
	"github.com/cloudfuse-io/buzz-go/internal/fuse"
	"github.com/cloudfuse-io/buzz-go/internal/hbee"
	"github.com/cloudfuse-io/buzz-go/internal/hcomb"
	"github.com/cloudfuse-io/buzz-go/internal/localdemo"
	"github.com/cloudfuse-io/buzz-go/internal/model"
	"github.com/cloudfuse-io/buzz-go/internal/observability"
	"github.com/cloudfuse-io/buzz-go/internal/planner"
)

var (
	queryPath  string
	dataDir    string
	tableName  string
	schemaCols []string
)

func main() {
	c := cli.New("main_fuse_local", "Run a Buzz query entirely in-process",
		"Plans a query, boots in-process aggregators and workers, and prints the merged result per zone. Reads demo data written by internal/localdemo.WriteFile.",
		run)
	c.Command().Flags().StringVar(&queryPath, "query", "", "path to a JSON-encoded model.Query (required)")
	c.Command().Flags().StringVar(&dataDir, "data", "", "directory of localdemo-format files (required)")
	c.Command().Flags().StringVar(&tableName, "table", "", "catalog name the query's map step reads from (required)")
	c.Command().Flags().StringSliceVar(&schemaCols, "schema", nil, "column names of the demo table, in file order (required); localdemo files are always int64")
	os.Exit(c.Execute())
}

// localCombFinder starts one in-process aggregator per zone, bypassing
// cloud.AwaitAddress: LocalContainerLauncher already returns a
// host:port address, and AwaitAddress always appends its own ":3333"
// on top of whatever PrivateIPv4 holds.
type localCombFinder struct {
	launcher *cloud.LocalContainerLauncher
}

func (f *localCombFinder) FindOrStart(ctx context.Context, zones int) ([]string, error) {
	addrs := make([]string, 0, zones)
	for i := 0; i < zones; i++ {
		arn, err := f.launcher.RunTask(ctx, cloud.RunTaskRequest{})
		if err != nil {
			return nil, err
		}
		descs, err := f.launcher.DescribeTasks(ctx, "local", []string{arn})
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, descs[0].PrivateIPv4)
	}
	return addrs, nil
}

func run(c *cli.CLI, args []string) error {
	if queryPath == "" || dataDir == "" || tableName == "" || len(schemaCols) == 0 {
		return fmt.Errorf("--query, --data, --table, and --schema are all required")
	}

	raw, err := os.ReadFile(queryPath)
	if err != nil {
		return fmt.Errorf("reading query file: %w", err)
	}
	var query model.Query
	if err := json.Unmarshal(raw, &query); err != nil {
		return fmt.Errorf("parsing query file: %w", err)
	}

	schema := demoSchema(schemaCols)

	logger := observability.NewJSONLogger(os.Stdout)

	p := planner.New()
	p.Register(tableName, catalog.NewCatalogTable(localdemo.NewDirectoryTable(dataDir, schema)))

	launcher := cloud.NewLocalContainerLauncher(func(ctx context.Context, taskARN string) (string, error) {
		return startLocalAggregator(logger)
	})
	combFinder := &localCombFinder{launcher: launcher}

	invoker := cloud.NewLocalFunctionInvoker(func(ctx context.Context, payload cloud.InvokePayload) {
		runLocalWorker(ctx, payload, logger)
	})

	f := fuse.New(p, combFinder, invoker, "local-hbee", logger)

	ctx := context.Background()
	results, err := f.Run(ctx, query)
	if err != nil {
		return err
	}

	for i, rec := range results {
		fmt.Printf("zone %d: %d rows\n", i, rec.NumRows())
	}
	return nil
}

// demoSchema builds the all-int64 schema localdemo files always carry,
// from the column names named on the command line (SQL text alone
// doesn't carry types, so local mode takes them explicitly).
func demoSchema(cols []string) *arrow.Schema {
	fields := make([]arrow.Field, len(cols))
	for i, name := range cols {
		fields[i] = arrow.Field{Name: name, Type: arrow.PrimitiveTypes.Int64}
	}
	return arrow.NewSchema(fields, nil)
}

func startLocalAggregator(logger observability.QueryLogger) (string, error) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}
	server := grpc.NewServer()
	flightrpc.RegisterServer(server, hcomb.NewService(logger))
	go server.Serve(lis)
	return lis.Addr().String(), nil
}

func runLocalWorker(ctx context.Context, payload cloud.InvokePayload, logger observability.QueryLogger) {
	body, err := base64.StdEncoding.DecodeString(payload.Plan.Body)
	if err != nil {
		logger.LogEvent(observability.QueryEvent{QueryID: payload.ID, Role: "hbee", Zone: -1, Stage: "decode", Outcome: "error", Error: err.Error()})
		return
	}
	plan, err := flightrpc.DecodeHBeePlan(body)
	if err != nil {
		logger.LogEvent(observability.QueryEvent{QueryID: payload.ID, Role: "hbee", Zone: -1, Stage: "decode", Outcome: "error", Error: err.Error()})
		return
	}

	conn, err := grpc.NewClient(payload.Address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		logger.LogEvent(observability.QueryEvent{QueryID: payload.ID, Role: "hbee", Zone: -1, Stage: "dial", Outcome: "error", Error: err.Error()})
		return
	}
	defer conn.Close()

	downloader := cloud.NewLocalFileDownloader(plan.TableDesc.Bucket)
	w := hbee.NewWorker(downloader, "local", localdemo.Reader{}, 4, logger)
	defer w.Close()

	pub := hbee.NewGRPCPublisher(conn)
	if err := w.ExecuteQuery(ctx, payload.ID, plan, pub); err != nil {
		logger.LogEvent(observability.QueryEvent{QueryID: payload.ID, Role: "hbee", Zone: -1, Stage: "execute", Outcome: "error", Error: err.Error()})
	}
}
