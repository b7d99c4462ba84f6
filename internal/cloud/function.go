package cloud

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// InvokePayload is the JSON body of a worker function invocation:
// {id, a, p: {b: base64(JSON wire-encoded HBeePlan)}}.
type InvokePayload struct {
	ID      string      `json:"id"`
	Address string      `json:"a"`
	Plan    InvokePlan  `json:"p"`
}

// InvokePlan carries the base64-encoded wire-serialized HBeePlan.
type InvokePlan struct {
	Body string `json:"b"`
}

// FunctionInvoker fires a single asynchronous invocation of the
// worker function; it does not wait for (or receive) a return value —
// spec §4.3: "a fire-and-forget asynchronous function invocation".
type FunctionInvoker interface {
	Invoke(ctx context.Context, functionName string, payload InvokePayload) error
}

// BuildInvokePayload base64-wraps encodedPlan, an HBeePlan the caller
// has already wire-encoded, and assembles the payload a worker
// invocation carries.
func BuildInvokePayload(queryID, hcombAddress string, encodedPlan []byte) InvokePayload {
	return InvokePayload{
		ID:      queryID,
		Address: hcombAddress,
		Plan:    InvokePlan{Body: base64.StdEncoding.EncodeToString(encodedPlan)},
	}
}

// DecodeInvokePayload reverses BuildInvokePayload's base64 step,
// leaving the caller to unmarshal the plan bytes with the wire codec.
func DecodeInvokePayload(raw []byte) (InvokePayload, []byte, error) {
	var p InvokePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return InvokePayload{}, nil, fmt.Errorf("decoding invoke payload: %w", err)
	}
	body, err := base64.StdEncoding.DecodeString(p.Plan.Body)
	if err != nil {
		return InvokePayload{}, nil, fmt.Errorf("decoding invoke plan body: %w", err)
	}
	return p, body, nil
}

// LocalFunctionInvoker runs the worker's entrypoint as an in-process
// goroutine rather than a real function invocation, for
// main_fuse_local and tests.
type LocalFunctionInvoker struct {
	run func(ctx context.Context, payload InvokePayload)
}

// NewLocalFunctionInvoker wraps run, the worker entrypoint.
func NewLocalFunctionInvoker(run func(ctx context.Context, payload InvokePayload)) *LocalFunctionInvoker {
	return &LocalFunctionInvoker{run: run}
}

func (l *LocalFunctionInvoker) Invoke(ctx context.Context, functionName string, payload InvokePayload) error {
	go l.run(ctx, payload)
	return nil
}
