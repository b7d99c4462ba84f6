// Command main_hbee_lambda runs the HBee worker role as an AWS Lambda
// custom runtime: it polls the Lambda Runtime API directly over HTTP
// (no SDK exists for this in the example corpus's dependency pack, so
// this speaks the wire protocol with net/http and encoding/json — see
// DESIGN.md) rather than through aws-lambda-go.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/apache/arrow-go/v18/arrow"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/cloudfuse-io/buzz-go/internal/cloud"
	"github.com/cloudfuse-io/buzz-go/internal/execplan"
	"github.com/cloudfuse-io/buzz-go/internal/flightrpc"
	"github.com/cloudfuse-io/buzz-go/internal/hbee"
	"github.com/cloudfuse-io/buzz-go/internal/observability"
)

// unimplementedParquetReader is the production Parquet/Thrift decoder
// seam (internal/execplan.ParquetFileReader) left abstract: no
// concrete apache/arrow-go/v18/parquet/file adapter ships yet (see
// DESIGN.md). It fails loudly rather than scanning garbage.
type unimplementedParquetReader struct{}

func (unimplementedParquetReader) ParseFooter(footer io.Reader, footerStart, fileLength uint64) (*arrow.Schema, []execplan.RowGroupMeta, error) {
	return nil, nil, fmt.Errorf("no Parquet file reader wired for main_hbee_lambda yet")
}

func (unimplementedParquetReader) ReadRowGroup(rg execplan.RowGroupMeta, columns map[string]io.Reader, schema *arrow.Schema) (arrow.Record, error) {
	return nil, fmt.Errorf("no Parquet file reader wired for main_hbee_lambda yet")
}

func main() {
	runtimeAPI := os.Getenv("AWS_LAMBDA_RUNTIME_API")
	bucket := os.Getenv("BUZZ_HBEE_BUCKET")
	region := os.Getenv("BUZZ_AWS_REGION")
	if runtimeAPI == "" || bucket == "" {
		fmt.Fprintln(os.Stderr, "AWS_LAMBDA_RUNTIME_API and BUZZ_HBEE_BUCKET must be set")
		os.Exit(1)
	}

	downloader, err := cloud.NewS3Downloader(context.Background(), region, bucket)
	if err != nil {
		fatal(runtimeAPI, "", fmt.Sprintf("configuring downloader: %v", err))
	}
	logger := observability.NewJSONLogger(os.Stdout)

	client := &http.Client{}
	for {
		requestID, payload, err := nextInvocation(client, runtimeAPI)
		if err != nil {
			fmt.Fprintf(os.Stderr, "next invocation: %v\n", err)
			continue
		}

		if err := handleInvocation(context.Background(), downloader, logger, payload); err != nil {
			reportError(client, runtimeAPI, requestID, err)
			continue
		}
		reportSuccess(client, runtimeAPI, requestID)
	}
}

// nextInvocation blocks on the Lambda Runtime API's long-poll endpoint
// for the next event, returning its request id and raw JSON body.
func nextInvocation(client *http.Client, runtimeAPI string) (string, []byte, error) {
	resp, err := client.Get(fmt.Sprintf("http://%s/2018-06-01/runtime/invocation/next", runtimeAPI))
	if err != nil {
		return "", nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", nil, err
	}
	return resp.Header.Get("Lambda-Runtime-Aws-Request-Id"), body, nil
}

func handleInvocation(ctx context.Context, downloader *cloud.S3Downloader, logger observability.QueryLogger, raw []byte) error {
	payload, planBody, err := cloud.DecodeInvokePayload(raw)
	if err != nil {
		return err
	}
	plan, err := flightrpc.DecodeHBeePlan(planBody)
	if err != nil {
		return fmt.Errorf("decoding hbee plan: %w", err)
	}

	conn, err := grpc.NewClient(payload.Address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("dialing aggregator: %w", err)
	}
	defer conn.Close()

	w := hbee.NewWorker(downloader, "s3", unimplementedParquetReader{}, 8, logger)
	defer w.Close()

	pub := hbee.NewGRPCPublisher(conn)
	return w.ExecuteQuery(ctx, payload.ID, plan, pub)
}

func reportSuccess(client *http.Client, runtimeAPI, requestID string) {
	url := fmt.Sprintf("http://%s/2018-06-01/runtime/invocation/%s/response", runtimeAPI, requestID)
	body, _ := json.Marshal(map[string]string{"status": "ok"})
	req, _ := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	resp, err := client.Do(req)
	if err == nil {
		resp.Body.Close()
	}
}

func reportError(client *http.Client, runtimeAPI, requestID string, invocationErr error) {
	url := fmt.Sprintf("http://%s/2018-06-01/runtime/invocation/%s/error", runtimeAPI, requestID)
	body, _ := json.Marshal(map[string]string{
		"errorMessage": invocationErr.Error(),
		"errorType":    "HBeeExecutionError",
	})
	req, _ := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	resp, err := client.Do(req)
	if err == nil {
		resp.Body.Close()
	}
}

// fatal reports a Lambda init-phase error to the Runtime API and exits,
// following the custom-runtime contract for failures before the poll
// loop starts.
func fatal(runtimeAPI, requestID, message string) {
	client := &http.Client{}
	url := fmt.Sprintf("http://%s/2018-06-01/runtime/init/error", runtimeAPI)
	body, _ := json.Marshal(map[string]string{"errorMessage": message, "errorType": "InitError"})
	req, _ := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	resp, err := client.Do(req)
	if err == nil {
		resp.Body.Close()
	}
	os.Exit(1)
}
