package fuse

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	buzzerrors "github.com/cloudfuse-io/buzz-go/internal/errors"
	"github.com/cloudfuse-io/buzz-go/internal/flightrpc"
	"github.com/cloudfuse-io/buzz-go/internal/model"
)

// aggregatorResult is what a zone's aggregator eventually produces:
// its single merged record, or the error that ended the stream.
type aggregatorResult struct {
	Record arrow.Record
	Err    error
}

// AggregatorHandle lets the caller collect a zone's result without
// blocking the goroutine that scheduled it (spec §4.3 step 4). Run
// schedules the zones' aggregators one after another, all before any
// worker is dispatched; aggregator scheduling is not parallel.
type AggregatorHandle struct {
	done chan aggregatorResult
}

// Wait blocks until the aggregator's DoGet stream completes, or ctx is
// cancelled first.
func (h *AggregatorHandle) Wait(ctx context.Context) (arrow.Record, error) {
	select {
	case r := <-h.done:
		return r.Record, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// scheduleAggregator dials address and blocks on flightrpc.DoGetHandshake
// until the aggregator has opened its ResultChannel and acked the
// ticket with its schema-only handshake frame, so the caller only gets
// a handle back once that zone's aggregator is actually ready to
// receive worker pushes (spec §4.3). Once handshaken, the remaining
// stream (the eventual merged result) is drained on its own goroutine
// so scheduling the next zone's aggregator isn't blocked on this one's
// reduce finishing.
func scheduleAggregator(ctx context.Context, address string, plan model.HCombPlan) (*AggregatorHandle, error) {
	ticket, err := flightrpc.EncodeHCombPlan(plan)
	if err != nil {
		return nil, buzzerrors.NewInternal(fmt.Sprintf("encoding hcomb plan: %v", err))
	}

	conn, err := grpc.NewClient(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, buzzerrors.NewCloudClient("dial aggregator", err)
	}

	stream, err := flightrpc.DoGetHandshake(ctx, conn, ticket)
	if err != nil {
		conn.Close()
		return nil, buzzerrors.NewCloudClient("aggregator handshake", err)
	}

	handle := &AggregatorHandle{done: make(chan aggregatorResult, 1)}
	go func() {
		defer conn.Close()
		var rec arrow.Record
		err := flightrpc.CollectDoGet(stream, func(r arrow.Record) error {
			r.Retain()
			rec = r
			return nil
		})
		handle.done <- aggregatorResult{Record: rec, Err: err}
	}()
	return handle, nil
}
