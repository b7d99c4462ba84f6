// Package model defines the data types that flow between the Fuse,
// HComb, and HBee roles: the catalog entry shape, the per-role plan
// descriptors, and the distributed plan the Fuse produces.
package model

import (
	"github.com/apache/arrow-go/v18/arrow"
)

// SizedFile is an addressable, immutable object in the store.
type SizedFile struct {
	Key    string
	Length uint64
}

// CatalogEntry pairs a file with the partition values it carries.
type CatalogEntry struct {
	File            SizedFile
	PartitionValues []string
}

// BuzzStepType distinguishes the map stage from the reduce stage.
type BuzzStepType int

const (
	StepHBee BuzzStepType = iota
	StepHComb
)

func (t BuzzStepType) String() string {
	if t == StepHBee {
		return "hbee"
	}
	return "hcomb"
}

// BuzzStep is one stage of a two-step query.
type BuzzStep struct {
	Name            string
	SQL             string
	Type            BuzzStepType
	PartitionFilter string
}

// CatalogRef names a catalog registered for a query.
type CatalogRef struct {
	Name string
}

// Capacity bounds the number of parallel aggregators a query may use.
type Capacity struct {
	Zones int
}

// Query is the client-submitted, two-step plan.
type Query struct {
	Steps    []BuzzStep
	Capacity Capacity
	Catalogs []CatalogRef
}

// MapStep returns the query's HBee step.
func (q *Query) MapStep() (BuzzStep, bool) {
	for _, s := range q.Steps {
		if s.Type == StepHBee {
			return s, true
		}
	}
	return BuzzStep{}, false
}

// ReduceStep returns the query's HComb step.
func (q *Query) ReduceStep() (BuzzStep, bool) {
	for _, s := range q.Steps {
		if s.Type == StepHComb {
			return s, true
		}
	}
	return BuzzStep{}, false
}

// HBeeTableDesc describes a single worker's scan: the files it must
// read and the row schema (without partition columns) those files
// carry. Sent over the wire to the worker.
type HBeeTableDesc struct {
	Region string
	Bucket string
	Files  []SizedFile
	Schema *arrow.Schema
}

// HCombTableDesc describes the aggregator's input stream. NbHBee is
// the exact number of partial producers the aggregator must observe
// before its result stream may close.
type HCombTableDesc struct {
	QueryID string
	NbHBee  uint32
	Schema  *arrow.Schema
}

// HBeePlan is one worker's unit of work.
type HBeePlan struct {
	TableDesc  HBeeTableDesc
	SQL        string
	SourceName string
}

// HCombPlan is the aggregator's reduce stage.
type HCombPlan struct {
	TableDesc  HCombTableDesc
	SQL        string
	SourceName string
}

// ZonePlan is one aggregator and the workers addressed to it.
type ZonePlan struct {
	HComb HCombPlan
	HBee  []HBeePlan
}

// DistributedPlan is the Fuse's authoritative planning artifact.
type DistributedPlan struct {
	Zones       []ZonePlan
	NbHBeeTotal int
}

// Empty reports whether the plan schedules no work.
func (p *DistributedPlan) Empty() bool {
	return len(p.Zones) == 0
}
