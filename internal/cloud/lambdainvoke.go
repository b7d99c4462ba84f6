package cloud

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
)

// LambdaAPI is the subset of the Lambda client LambdaFunctionInvoker
// calls; narrow enough to fake in tests.
type LambdaAPI interface {
	Invoke(ctx context.Context, in *lambda.InvokeInput, opts ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

// LambdaFunctionInvoker fires the HBee function asynchronously (spec
// §4.3 step 5: "fire-and-forget"), matching InvocationTypeEvent.
type LambdaFunctionInvoker struct {
	client LambdaAPI
}

// NewLambdaFunctionInvoker loads the default AWS config for region.
func NewLambdaFunctionInvoker(ctx context.Context, region string) (*LambdaFunctionInvoker, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	return &LambdaFunctionInvoker{client: lambda.NewFromConfig(cfg)}, nil
}

// NewLambdaFunctionInvokerWithClient wraps an already-configured
// client, primarily for tests.
func NewLambdaFunctionInvokerWithClient(client LambdaAPI) *LambdaFunctionInvoker {
	return &LambdaFunctionInvoker{client: client}
}

func (l *LambdaFunctionInvoker) Invoke(ctx context.Context, functionName string, payload InvokePayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling invoke payload: %w", err)
	}
	_, err = l.client.Invoke(ctx, &lambda.InvokeInput{
		FunctionName:   aws.String(functionName),
		InvocationType: lambdatypes.InvocationTypeEvent,
		Payload:        body,
	})
	if err != nil {
		return fmt.Errorf("lambda invoke %s: %w", functionName, err)
	}
	return nil
}
