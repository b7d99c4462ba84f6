package hcomb

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/cloudfuse-io/buzz-go/internal/flightrpc"
	"github.com/cloudfuse-io/buzz-go/internal/model"
)

// noopReady satisfies DoGet's ready callback for tests that don't
// care about the handshake frame itself.
func noopReady(*arrow.Schema) error { return nil }

func sumSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{{Name: "amount", Type: arrow.PrimitiveTypes.Int64}}, nil)
}

func recordOf(t *testing.T, schema *arrow.Schema, values ...int64) arrow.Record {
	t.Helper()
	mem := memory.NewGoAllocator()
	b := array.NewInt64Builder(mem)
	for _, v := range values {
		b.Append(v)
	}
	return array.NewRecord(schema, []arrow.Array{b.NewArray()}, int64(len(values)))
}

func TestDoGetMergesTwoWorkersThenCompletes(t *testing.T) {
	svc := NewService(nil)
	schema := sumSchema()
	ticket, err := flightrpc.EncodeHCombPlan(model.HCombPlan{
		TableDesc:  model.HCombTableDesc{QueryID: "q1", NbHBee: 2, Schema: schema},
		SQL:        "SELECT sum(amount) AS total FROM sales",
		SourceName: "sales",
	})
	if err != nil {
		t.Fatalf("EncodeHCombPlan: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	var result arrow.Record
	var doGetErr error
	go func() {
		defer wg.Done()
		doGetErr = svc.DoGet(ticket, noopReady, func(rec arrow.Record) error {
			rec.Retain()
			result = rec
			return nil
		})
	}()

	// give DoGet a moment to register the channel before workers push.
	time.Sleep(10 * time.Millisecond)

	rec1 := recordOf(t, schema, 10)
	batches1 := make(chan arrow.Record, 1)
	batches1 <- rec1
	close(batches1)
	if err := svc.DoPut("q1", schema, batches1); err != nil {
		t.Fatalf("DoPut 1: %v", err)
	}

	rec2 := recordOf(t, schema, 20, 5)
	batches2 := make(chan arrow.Record, 1)
	batches2 <- rec2
	close(batches2)
	if err := svc.DoPut("q1", schema, batches2); err != nil {
		t.Fatalf("DoPut 2: %v", err)
	}

	wg.Wait()
	if doGetErr != nil {
		t.Fatalf("DoGet: %v", doGetErr)
	}
	if result == nil {
		t.Fatal("expected a merged result record")
	}
	defer result.Release()
	got := result.Column(0).(*array.Int64).Value(0)
	if got != 35 {
		t.Fatalf("expected sum 35, got %d", got)
	}
}

func TestDoActionFailTerminatesDoGet(t *testing.T) {
	svc := NewService(nil)
	schema := sumSchema()
	ticket, _ := flightrpc.EncodeHCombPlan(model.HCombPlan{
		TableDesc:  model.HCombTableDesc{QueryID: "q2", NbHBee: 1, Schema: schema},
		SQL:        "SELECT sum(amount) FROM sales",
		SourceName: "sales",
	})

	var wg sync.WaitGroup
	wg.Add(1)
	var doGetErr error
	go func() {
		defer wg.Done()
		doGetErr = svc.DoGet(ticket, noopReady, func(arrow.Record) error { return nil })
	}()

	time.Sleep(10 * time.Millisecond)
	if err := svc.DoAction("F", []byte(`{"qid":"q2","r":"object not found"}`)); err != nil {
		t.Fatalf("DoAction: %v", err)
	}

	wg.Wait()
	if doGetErr == nil {
		t.Fatal("expected DoGet to surface the worker failure")
	}
}

// TestConcurrentDoPutAndFailDoesNotPanic exercises the race between a
// worker's DoPut pushing a batch and another worker's DoAction(Fail)
// closing the same query's ResultChannel. Before addResult held the
// channel's mutex across the send, this could panic with "send on
// closed channel"; run with -race to catch a regression.
func TestConcurrentDoPutAndFailDoesNotPanic(t *testing.T) {
	schema := sumSchema()
	for i := 0; i < 200; i++ {
		svc := NewService(nil)
		queryID := fmt.Sprintf("race-%d", i)
		ticket, err := flightrpc.EncodeHCombPlan(model.HCombPlan{
			TableDesc:  model.HCombTableDesc{QueryID: queryID, NbHBee: 2, Schema: schema},
			SQL:        "SELECT sum(amount) FROM sales",
			SourceName: "sales",
		})
		if err != nil {
			t.Fatalf("EncodeHCombPlan: %v", err)
		}

		var wg sync.WaitGroup
		wg.Add(1)
		opened := make(chan struct{})
		go func() {
			defer wg.Done()
			svc.DoGet(ticket, func(*arrow.Schema) error { close(opened); return nil }, func(arrow.Record) error { return nil })
		}()
		<-opened

		var racers sync.WaitGroup
		racers.Add(2)
		go func() {
			defer racers.Done()
			batches := make(chan arrow.Record, 1)
			batches <- recordOf(t, schema, int64(i))
			close(batches)
			svc.DoPut(queryID, schema, batches)
		}()
		go func() {
			defer racers.Done()
			body := []byte(fmt.Sprintf(`{"qid":%q,"r":"object not found"}`, queryID))
			svc.DoAction("F", body)
		}()
		racers.Wait()
		wg.Wait()
	}
}

func TestDoPutWithoutOpenQueryFails(t *testing.T) {
	svc := NewService(nil)
	ch := make(chan arrow.Record)
	close(ch)
	if err := svc.DoPut("unknown", sumSchema(), ch); err == nil {
		t.Fatal("expected error for unopened query")
	}
}
