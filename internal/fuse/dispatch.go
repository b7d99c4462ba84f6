package fuse

import (
	"context"
	"sync"

	"github.com/cloudfuse-io/buzz-go/internal/cloud"
	"github.com/cloudfuse-io/buzz-go/internal/flightrpc"
	"github.com/cloudfuse-io/buzz-go/internal/model"
)

// maxConcurrentDispatch bounds how many worker-invoke calls run at
// once (spec §4.3 step 5). Aggregator-schedule calls do not use it:
// Run issues them one at a time.
const maxConcurrentDispatch = 10

// workerTask is one (zone, worker) pair to invoke, with the
// aggregator address that zone's worker results should be pushed to.
type workerTask struct {
	zone         int
	hcombAddress string
	plan         model.HBeePlan
	functionName string
}

// interleaveWorkers produces the round-robin dispatch order spec
// §4.3 step 5 describes: visit worker index 0 of every zone, then
// index 1 of every zone, and so on, rather than draining one zone
// before moving to the next.
func interleaveWorkers(zones []model.ZonePlan, addresses []string, functionName string) []workerTask {
	maxWorkers := 0
	for _, z := range zones {
		if len(z.HBee) > maxWorkers {
			maxWorkers = len(z.HBee)
		}
	}
	tasks := make([]workerTask, 0, maxWorkers*len(zones))
	for j := 0; j < maxWorkers; j++ {
		for zi, z := range zones {
			if j >= len(z.HBee) {
				continue
			}
			tasks = append(tasks, workerTask{
				zone:         zi,
				hcombAddress: addresses[zi],
				plan:         z.HBee[j],
				functionName: functionName,
			})
		}
	}
	return tasks
}

// dispatchWorkers fires every task through invoker with at most
// maxConcurrentDispatch in flight, fire-and-forget (spec §4.3 step 5:
// the Fuse does not wait on a worker's own return value, only on the
// aggregator streams workers eventually feed).
func dispatchWorkers(ctx context.Context, invoker cloud.FunctionInvoker, queryID string, tasks []workerTask) error {
	sem := make(chan struct{}, maxConcurrentDispatch)
	var wg sync.WaitGroup
	errs := make([]error, len(tasks))

	for i, task := range tasks {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, task workerTask) {
			defer wg.Done()
			defer func() { <-sem }()
			encoded, err := flightrpc.EncodeHBeePlan(task.plan)
			if err != nil {
				errs[i] = err
				return
			}
			payload := cloud.BuildInvokePayload(queryID, task.hcombAddress, encoded)
			errs[i] = cloud.WithTimeout(ctx, cloud.InvokeTimeout, "invoke-worker", func(cctx context.Context) error {
				return invoker.Invoke(cctx, task.functionName, payload)
			})
		}(i, task)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
