// Command main_fuse_aws runs the Fuse (query-controller) role against
// real AWS infrastructure: ECS Fargate tasks for aggregators (spec
// §4.3/§6) and Lambda invocations for workers.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/cloudfuse-io/buzz-go/internal/catalog"
	"github.com/cloudfuse-io/buzz-go/internal/cli"
	"github.com/cloudfuse-io/buzz-go/internal/cloud"
	"github.com/cloudfuse-io/buzz-go/internal/fuse"
	"github.com/cloudfuse-io/buzz-go/internal/model"
	"github.com/cloudfuse-io/buzz-go/internal/observability"
	"github.com/cloudfuse-io/buzz-go/internal/planner"
)

var (
	queryPath     string
	bucket        string
	tables        []string
	schemaCols    []string
	partitionCols []string
)

func main() {
	c := cli.New("main_fuse_aws", "Run a Buzz query against ECS aggregators and Lambda workers",
		"Plans a query, starts one ECS Fargate aggregator task per zone, invokes HBee Lambda workers round-robin, and prints the merged result per zone.",
		run)
	c.Command().Flags().StringVar(&queryPath, "query", "", "path to a JSON-encoded model.Query (required)")
	c.Command().Flags().StringVar(&bucket, "bucket", "", "S3 bucket the catalogs' files live in (required)")
	c.Command().Flags().StringSliceVar(&tables, "table", nil, "name=prefix pairs registered against --bucket (repeatable, required)")
	c.Command().Flags().StringSliceVar(&schemaCols, "schema", nil, "row column names shared by every --table, in file order (required)")
	c.Command().Flags().StringSliceVar(&partitionCols, "partition-cols", nil, "Hive-style key=value directory names carrying partition columns, if any")
	os.Exit(c.Execute())
}

func run(c *cli.CLI, args []string) error {
	if queryPath == "" || bucket == "" || len(tables) == 0 || len(schemaCols) == 0 {
		return fmt.Errorf("--query, --bucket, --table, and --schema are all required")
	}

	raw, err := os.ReadFile(queryPath)
	if err != nil {
		return fmt.Errorf("reading query file: %w", err)
	}
	var query model.Query
	if err := json.Unmarshal(raw, &query); err != nil {
		return fmt.Errorf("parsing query file: %w", err)
	}

	cfg := c.Config().AWS
	logger := observability.NewJSONLogger(os.Stdout)
	ctx := context.Background()

	fields := make([]arrow.Field, len(schemaCols))
	for i, name := range schemaCols {
		fields[i] = arrow.Field{Name: name, Type: arrow.PrimitiveTypes.Int64}
	}
	schema := arrow.NewSchema(fields, nil)

	p := planner.New()
	for _, spec := range tables {
		name, prefix, ok := strings.Cut(spec, "=")
		if !ok {
			return fmt.Errorf("--table %q must be name=prefix", spec)
		}
		table, err := cloud.NewS3PrefixTable(ctx, cfg.Region, bucket, prefix, schema, partitionCols)
		if err != nil {
			return fmt.Errorf("configuring catalog %s: %w", name, err)
		}
		p.Register(name, catalog.NewCatalogTable(table))
	}

	launcher, err := cloud.NewECSContainerLauncher(ctx, cfg.Region)
	if err != nil {
		return fmt.Errorf("configuring ECS launcher: %w", err)
	}
	combManager := fuse.NewHCombManager(launcher, cfg.HCombClusterName, cfg.HCombTaskDefARN, cfg.HCombTaskSGID, cfg.PublicSubnets, 0)

	invoker, err := cloud.NewLambdaFunctionInvoker(ctx, cfg.Region)
	if err != nil {
		return fmt.Errorf("configuring Lambda invoker: %w", err)
	}

	f := fuse.New(p, combManager, invoker, cfg.HBeeLambdaName, logger)

	results, err := f.Run(ctx, query)
	if err != nil {
		return err
	}
	for i, rec := range results {
		fmt.Printf("zone %d: %d rows\n", i, rec.NumRows())
	}
	return nil
}
