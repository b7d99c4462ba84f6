// Package fuse implements the query-controller role (spec §4.3): plan
// the query, find or start one aggregator per zone, dispatch workers
// round-robin across zones, and collect each zone's result in zone
// order.
package fuse

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudfuse-io/buzz-go/internal/cloud"
)

// HCombManager is the find_or_start implementation main_fuse_aws uses
// (main_fuse_local starts aggregators through its own localCombFinder
// instead): it asks a cloud.ContainerLauncher
// to run one aggregator task per requested zone and waits for each to
// report a reachable address. Spec §9 leaves open which of several
// historical find/start variants to keep; this type is that decision.
type HCombManager struct {
	launcher      cloud.ContainerLauncher
	cluster       string
	taskDefARN    string
	securityGroup string
	subnets       []string
	pollInterval  time.Duration
}

// NewHCombManager builds a manager that launches aggregator tasks
// through launcher. pollInterval governs how often DescribeTasks is
// polled while waiting for addresses (spec §6's container-start
// polling); a non-positive value defaults to 500ms.
func NewHCombManager(launcher cloud.ContainerLauncher, cluster, taskDefARN, securityGroup string, subnets []string, pollInterval time.Duration) *HCombManager {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &HCombManager{
		launcher:      launcher,
		cluster:       cluster,
		taskDefARN:    taskDefARN,
		securityGroup: securityGroup,
		subnets:       subnets,
		pollInterval:  pollInterval,
	}
}

// FindOrStart launches one aggregator task per zone and returns each
// task's AggregatorAddress (host:3333), in launch order.
func (m *HCombManager) FindOrStart(ctx context.Context, zones int) ([]string, error) {
	if zones <= 0 {
		return nil, nil
	}

	arns := make([]string, 0, zones)
	for i := 0; i < zones; i++ {
		var arn string
		err := cloud.WithTimeout(ctx, cloud.RunTaskTimeout, "run-task", func(cctx context.Context) error {
			a, err := m.launcher.RunTask(cctx, cloud.RunTaskRequest{
				Cluster:       m.cluster,
				TaskDefARN:    m.taskDefARN,
				SecurityGroup: m.securityGroup,
				Subnets:       m.subnets,
			})
			arn = a
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("starting aggregator %d/%d: %w", i+1, zones, err)
		}
		arns = append(arns, arn)
	}

	descriptions, err := cloud.AwaitAddress(ctx, m.launcher, m.cluster, arns, m.pollInterval)
	if err != nil {
		return nil, fmt.Errorf("awaiting aggregator addresses: %w", err)
	}
	addresses := make([]string, len(descriptions))
	for i, d := range descriptions {
		addresses[i] = d.AggregatorAddress
	}
	return addresses, nil
}
