package cloud

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
)

// ECSAPI is the subset of the ECS client ECSContainerLauncher calls;
// narrow enough to fake in tests.
type ECSAPI interface {
	RunTask(ctx context.Context, in *ecs.RunTaskInput, opts ...func(*ecs.Options)) (*ecs.RunTaskOutput, error)
	DescribeTasks(ctx context.Context, in *ecs.DescribeTasksInput, opts ...func(*ecs.Options)) (*ecs.DescribeTasksOutput, error)
	ListTasks(ctx context.Context, in *ecs.ListTasksInput, opts ...func(*ecs.Options)) (*ecs.ListTasksOutput, error)
}

// ECSContainerLauncher is the production ContainerLauncher: it runs
// aggregator tasks on Fargate, spec §6's "container-start with
// polling for a privateIPv4Address".
type ECSContainerLauncher struct {
	client ECSAPI
}

// NewECSContainerLauncher loads the default AWS config for region.
func NewECSContainerLauncher(ctx context.Context, region string) (*ECSContainerLauncher, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	return &ECSContainerLauncher{client: ecs.NewFromConfig(cfg)}, nil
}

// NewECSContainerLauncherWithClient wraps an already-configured
// client, primarily for tests.
func NewECSContainerLauncherWithClient(client ECSAPI) *ECSContainerLauncher {
	return &ECSContainerLauncher{client: client}
}

func (l *ECSContainerLauncher) RunTask(ctx context.Context, req RunTaskRequest) (string, error) {
	out, err := l.client.RunTask(ctx, &ecs.RunTaskInput{
		Cluster:        aws.String(req.Cluster),
		TaskDefinition: aws.String(req.TaskDefARN),
		LaunchType:     ecstypes.LaunchTypeFargate,
		NetworkConfiguration: &ecstypes.NetworkConfiguration{
			AwsvpcConfiguration: &ecstypes.AwsVpcConfiguration{
				Subnets:        req.Subnets,
				SecurityGroups: []string{req.SecurityGroup},
				AssignPublicIp: ecstypes.AssignPublicIpEnabled,
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("ecs run-task: %w", err)
	}
	if len(out.Failures) > 0 {
		return "", fmt.Errorf("ecs run-task failed: %s", aws.ToString(out.Failures[0].Reason))
	}
	if len(out.Tasks) == 0 {
		return "", fmt.Errorf("ecs run-task: no task returned")
	}
	return aws.ToString(out.Tasks[0].TaskArn), nil
}

func (l *ECSContainerLauncher) DescribeTasks(ctx context.Context, cluster string, taskARNs []string) ([]TaskDescription, error) {
	out, err := l.client.DescribeTasks(ctx, &ecs.DescribeTasksInput{
		Cluster: aws.String(cluster),
		Tasks:   taskARNs,
	})
	if err != nil {
		return nil, fmt.Errorf("ecs describe-tasks: %w", err)
	}
	descs := make([]TaskDescription, 0, len(out.Tasks))
	for _, task := range out.Tasks {
		descs = append(descs, TaskDescription{
			TaskARN:     aws.ToString(task.TaskArn),
			PrivateIPv4: privateIPv4(task),
		})
	}
	return descs, nil
}

func (l *ECSContainerLauncher) ListTasks(ctx context.Context, cluster string) ([]string, error) {
	out, err := l.client.ListTasks(ctx, &ecs.ListTasksInput{Cluster: aws.String(cluster)})
	if err != nil {
		return nil, fmt.Errorf("ecs list-tasks: %w", err)
	}
	return out.TaskArns, nil
}

// privateIPv4 extracts the awsvpc ENI's private IPv4 address from a
// task's attachments, returning "" until the network interface is
// attached.
func privateIPv4(task ecstypes.Task) string {
	for _, att := range task.Attachments {
		if att.Type == nil || *att.Type != "ElasticNetworkInterface" {
			continue
		}
		for _, d := range att.Details {
			if aws.ToString(d.Name) == "privateIPv4Address" {
				return aws.ToString(d.Value)
			}
		}
	}
	return ""
}
