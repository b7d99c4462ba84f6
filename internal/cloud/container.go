package cloud

import (
	"context"
	"fmt"
	"time"
)

// ContainerLauncher provisions and locates the aggregator containers
// the Fuse's HCombManager.find_or_start needs. The method shapes
// mirror an ECS-style RunTask/DescribeTasks/ListTasks client so a
// production launcher can wrap one directly.
type ContainerLauncher interface {
	// RunTask starts one task in the named cluster/task-definition,
	// with the given security group and subnets, and returns its
	// task ARN.
	RunTask(ctx context.Context, req RunTaskRequest) (taskARN string, err error)

	// DescribeTasks polls until every task has a private IPv4
	// address attachment, or ctx is done.
	DescribeTasks(ctx context.Context, cluster string, taskARNs []string) ([]TaskDescription, error)

	// ListTasks returns the ARNs of currently running tasks in the
	// cluster. HCombManager.FindOrStart does not call it: it always
	// starts new tasks.
	ListTasks(ctx context.Context, cluster string) ([]string, error)
}

// RunTaskRequest names the ECS-shaped parameters spec §6 requires.
type RunTaskRequest struct {
	Cluster       string
	TaskDefARN    string
	SecurityGroup string
	Subnets       []string
}

// TaskDescription is the subset of a described task the Fuse needs:
// its ARN and, once attached, its reachable address.
type TaskDescription struct {
	TaskARN           string
	PrivateIPv4       string
	AggregatorAddress string // PrivateIPv4 + ":3333", empty until attached
}

const aggregatorPort = 3333

// AwaitAddress polls DescribeTasks until every task in taskARNs has a
// private IPv4 attachment or ctx is cancelled, following the
// describe-tasks poll the spec leaves unbounded (no timeout, governed
// by the caller's own context).
func AwaitAddress(ctx context.Context, launcher ContainerLauncher, cluster string, taskARNs []string, pollInterval time.Duration) ([]TaskDescription, error) {
	for {
		descs, err := launcher.DescribeTasks(ctx, cluster, taskARNs)
		if err != nil {
			return nil, fmt.Errorf("describe-tasks: %w", err)
		}
		allReady := true
		for _, d := range descs {
			if d.PrivateIPv4 == "" {
				allReady = false
				break
			}
		}
		if allReady {
			for i := range descs {
				descs[i].AggregatorAddress = fmt.Sprintf("%s:%d", descs[i].PrivateIPv4, aggregatorPort)
			}
			return descs, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// LocalContainerLauncher runs aggregators as in-process goroutines
// rather than real containers, for the main_fuse_local binary and for
// tests. start is called once per RunTask and must return the
// address the aggregator is listening on.
type LocalContainerLauncher struct {
	start func(ctx context.Context, taskARN string) (addr string, err error)
	tasks map[string]TaskDescription
	next  int
}

// NewLocalContainerLauncher wraps start, the function that boots one
// in-process aggregator and returns its listen address.
func NewLocalContainerLauncher(start func(ctx context.Context, taskARN string) (string, error)) *LocalContainerLauncher {
	return &LocalContainerLauncher{start: start, tasks: make(map[string]TaskDescription)}
}

func (l *LocalContainerLauncher) RunTask(ctx context.Context, req RunTaskRequest) (string, error) {
	l.next++
	arn := fmt.Sprintf("local-task-%d", l.next)
	addr, err := l.start(ctx, arn)
	if err != nil {
		return "", err
	}
	l.tasks[arn] = TaskDescription{TaskARN: arn, PrivateIPv4: addr, AggregatorAddress: addr}
	return arn, nil
}

func (l *LocalContainerLauncher) DescribeTasks(ctx context.Context, cluster string, taskARNs []string) ([]TaskDescription, error) {
	out := make([]TaskDescription, 0, len(taskARNs))
	for _, arn := range taskARNs {
		d, ok := l.tasks[arn]
		if !ok {
			return nil, fmt.Errorf("unknown task %s", arn)
		}
		out = append(out, d)
	}
	return out, nil
}

func (l *LocalContainerLauncher) ListTasks(ctx context.Context, cluster string) ([]string, error) {
	arns := make([]string, 0, len(l.tasks))
	for arn := range l.tasks {
		arns = append(arns, arn)
	}
	return arns, nil
}
