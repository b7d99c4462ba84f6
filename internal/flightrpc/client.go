package flightrpc

import (
	"context"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"google.golang.org/grpc"
)

func streamDesc(name string, serverStreams, clientStreams bool) *grpc.StreamDesc {
	return &grpc.StreamDesc{StreamName: name, ServerStreams: serverStreams, ClientStreams: clientStreams}
}

// DoGetHandshake opens the aggregator's result stream for ticket (an
// encoded model.HCombPlan), sends the ticket, and blocks until the
// aggregator has opened its ResultChannel and echoed back the
// schema-only handshake frame (spec §4.3: "aggregators must be ready
// to receive before workers push"). The returned stream's remaining
// frames — the final merged batch, or an error — are read with
// CollectDoGet.
func DoGetHandshake(ctx context.Context, conn *grpc.ClientConn, ticket []byte) (grpc.ClientStream, error) {
	stream, err := conn.NewStream(ctx, streamDesc("DoGet", true, false), fmt.Sprintf("/%s/DoGet", ServiceName), grpc.CallContentSubtype(codecName))
	if err != nil {
		return nil, fmt.Errorf("opening DoGet stream: %w", err)
	}
	if err := stream.SendMsg(&rawFrame{bytes: ticket}); err != nil {
		return nil, fmt.Errorf("sending DoGet ticket: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, fmt.Errorf("closing DoGet send side: %w", err)
	}

	var handshake rawFrame
	if err := stream.RecvMsg(&handshake); err != nil {
		return nil, fmt.Errorf("waiting for aggregator handshake: %w", err)
	}
	return stream, nil
}

// CollectDoGet reads the frames remaining on a stream opened by
// DoGetHandshake, invoking onRecord for each batch, until the stream
// closes or errors.
func CollectDoGet(stream grpc.ClientStream, onRecord func(arrow.Record) error) error {
	alloc := memory.NewGoAllocator()
	for {
		var frame rawFrame
		err := stream.RecvMsg(&frame)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("receiving DoGet batch: %w", err)
		}
		if _, err := DecodeFrame(frame.bytes, alloc, onRecord); err != nil {
			return err
		}
	}
}

// DoPutClient streams batches to the aggregator under descriptorCmd
// (the query_id) and drains the server's acknowledgement.
func DoPutClient(ctx context.Context, conn *grpc.ClientConn, descriptorCmd string, batches []arrow.Record) error {
	stream, err := conn.NewStream(ctx, streamDesc("DoPut", false, true), fmt.Sprintf("/%s/DoPut", ServiceName), grpc.CallContentSubtype(codecName))
	if err != nil {
		return fmt.Errorf("opening DoPut stream: %w", err)
	}
	for _, rec := range batches {
		raw, err := EncodeBatchFrame(rec, descriptorCmd)
		if err != nil {
			return err
		}
		if err := stream.SendMsg(&rawFrame{bytes: raw}); err != nil {
			return fmt.Errorf("sending DoPut batch: %w", err)
		}
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("closing DoPut send side: %w", err)
	}
	// drain and discard the server's acknowledgement stream, per spec §6.
	var ack rawFrame
	for {
		if err := stream.RecvMsg(&ack); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("draining DoPut ack: %w", err)
		}
	}
}

// DoActionClient sends a typed action (spec §6: type "F" = Fail) and
// waits for the call to complete.
func DoActionClient(ctx context.Context, conn *grpc.ClientConn, actionType string, body []byte) error {
	stream, err := conn.NewStream(ctx, streamDesc("DoAction", true, true), fmt.Sprintf("/%s/DoAction", ServiceName), grpc.CallContentSubtype(codecName))
	if err != nil {
		return fmt.Errorf("opening DoAction stream: %w", err)
	}
	raw, err := EncodeActionFrame(actionType, body)
	if err != nil {
		return err
	}
	if err := stream.SendMsg(&rawFrame{bytes: raw}); err != nil {
		return fmt.Errorf("sending DoAction: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("closing DoAction send side: %w", err)
	}
	var ack rawFrame
	for {
		if err := stream.RecvMsg(&ack); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("draining DoAction response: %w", err)
		}
	}
}
