package flightrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"google.golang.org/grpc"
)

// frameEnvelope is the JSON wrapper carried inside a rawFrame. Record
// batches are Arrow-IPC-encoded into Payload; Descriptor/Action carry
// the DoPut/DoAction metadata spec §6 names.
type frameEnvelope struct {
	// Descriptor.Cmd is the query_id for DoPut, or empty.
	DescriptorCmd string `json:"cmd,omitempty"`
	// ActionType is "F" (Fail) for DoAction; ActionBody is its JSON body.
	ActionType string `json:"action_type,omitempty"`
	ActionBody []byte `json:"action_body,omitempty"`
	// Payload is an Arrow IPC stream containing the schema message
	// (first frame) or one schema+batch message (subsequent frames).
	Payload []byte `json:"payload,omitempty"`
}

// EncodeSchemaFrame builds the first DoGet/DoPut frame, carrying only
// the schema.
func EncodeSchemaFrame(schema *arrow.Schema) ([]byte, error) {
	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(schema))
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("writing ipc schema frame: %w", err)
	}
	return json.Marshal(frameEnvelope{Payload: buf.Bytes()})
}

// EncodeBatchFrame builds a record-batch frame. descriptorCmd is set
// for DoPut frames (the query_id); left empty for DoGet.
func EncodeBatchFrame(rec arrow.Record, descriptorCmd string) ([]byte, error) {
	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(rec.Schema()))
	if err := w.Write(rec); err != nil {
		return nil, fmt.Errorf("writing ipc batch frame: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("closing ipc batch writer: %w", err)
	}
	return json.Marshal(frameEnvelope{DescriptorCmd: descriptorCmd, Payload: buf.Bytes()})
}

// EncodeActionFrame builds a DoAction frame.
func EncodeActionFrame(actionType string, body []byte) ([]byte, error) {
	return json.Marshal(frameEnvelope{ActionType: actionType, ActionBody: body})
}

// DecodeFrame parses a frame and, if it carries a payload, replays it
// through an Arrow IPC reader, invoking onRecord for each batch the
// payload contains (zero or one, by construction above).
func DecodeFrame(raw []byte, alloc memory.Allocator, onRecord func(arrow.Record) error) (frameEnvelope, error) {
	var env frameEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return frameEnvelope{}, fmt.Errorf("decoding flight frame: %w", err)
	}
	if len(env.Payload) == 0 {
		return env, nil
	}
	r, err := ipc.NewReader(bytes.NewReader(env.Payload), ipc.WithAllocator(alloc))
	if err != nil {
		return frameEnvelope{}, fmt.Errorf("opening ipc reader: %w", err)
	}
	defer r.Release()
	for r.Next() {
		rec := r.Record()
		rec.Retain()
		if err := onRecord(rec); err != nil {
			rec.Release()
			return frameEnvelope{}, err
		}
		rec.Release()
	}
	if err := r.Err(); err != nil && err != io.EOF {
		return frameEnvelope{}, fmt.Errorf("reading ipc batches: %w", err)
	}
	return env, nil
}

// Server is the aggregator-side Flight surface: DoGet streams the
// final answer, DoPut accepts a worker's partial batches, DoAction
// carries the Fail signal.
//
// DoGet must invoke ready, which sends the schema-only handshake
// frame back to the caller, as soon as the query's ResultChannel is
// open and before it blocks waiting for worker pushes (spec §4.3:
// aggregators must be ready to receive before workers push).
type Server interface {
	DoGet(ticket []byte, ready func(schema *arrow.Schema) error, send func(rec arrow.Record) error) error
	DoPut(descriptorCmd string, schema *arrow.Schema, batches <-chan arrow.Record) error
	DoAction(actionType string, body []byte) error
}

// ServiceName is the gRPC service name; the method names mirror Arrow
// Flight's three verbs.
const ServiceName = "buzz.flightrpc.FlightService"

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Server)(nil),
	Streams: []grpc.StreamDesc{
		{StreamName: "DoGet", Handler: doGetHandler, ServerStreams: true},
		{StreamName: "DoPut", Handler: doPutHandler, ClientStreams: true},
		{StreamName: "DoAction", Handler: doActionHandler, ClientStreams: true, ServerStreams: true},
	},
	Metadata: "buzz/flightrpc.proto",
}

// RegisterServer registers srv on s using the hand-rolled service
// descriptor above (no protoc-generated stub is available; see
// DESIGN.md).
func RegisterServer(s *grpc.Server, srv Server) {
	s.RegisterService(&serviceDesc, srv)
}

func doGetHandler(srv interface{}, stream grpc.ServerStream) error {
	s := srv.(Server)
	var ticket rawFrame
	if err := stream.RecvMsg(&ticket); err != nil {
		return err
	}
	return s.DoGet(ticket.bytes,
		func(schema *arrow.Schema) error {
			raw, err := EncodeSchemaFrame(schema)
			if err != nil {
				return err
			}
			return stream.SendMsg(&rawFrame{bytes: raw})
		},
		func(rec arrow.Record) error {
			raw, err := EncodeBatchFrame(rec, "")
			if err != nil {
				return err
			}
			return stream.SendMsg(&rawFrame{bytes: raw})
		})
}

func doPutHandler(srv interface{}, stream grpc.ServerStream) error {
	s := srv.(Server)
	alloc := memory.NewGoAllocator()

	var descriptorCmd string
	var received []arrow.Record
	for {
		var frame rawFrame
		err := stream.RecvMsg(&frame)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		env, err := DecodeFrame(frame.bytes, alloc, func(rec arrow.Record) error {
			rec.Retain()
			received = append(received, rec)
			return nil
		})
		if err != nil {
			return err
		}
		if env.DescriptorCmd != "" {
			descriptorCmd = env.DescriptorCmd
		}
	}

	var schema *arrow.Schema
	if len(received) > 0 {
		schema = received[0].Schema()
	}
	batches := make(chan arrow.Record, len(received))
	for _, rec := range received {
		batches <- rec
	}
	close(batches)

	return s.DoPut(descriptorCmd, schema, batches)
}

func doActionHandler(srv interface{}, stream grpc.ServerStream) error {
	s := srv.(Server)
	var frame rawFrame
	if err := stream.RecvMsg(&frame); err != nil {
		return err
	}
	env, err := DecodeFrame(frame.bytes, memory.NewGoAllocator(), func(arrow.Record) error { return nil })
	if err != nil {
		return err
	}
	return s.DoAction(env.ActionType, env.ActionBody)
}
