package planner

import "github.com/homelabops/orchestrator/internal/store"

// RiskConfig tunes ClassifyRisk's thresholds.
type RiskConfig struct {
	MediumTaskCount      int      // >= this many tasks pushes to medium
	MediumMaxMemoryMB    int      // any task above this memory hint pushes to medium
	HighTaskCount        int      // > this many tasks pushes to high
	HighServiceCount     int      // touching more than this many distinct services pushes to high
	DestructiveWorkTypes map[string]bool
}

func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		MediumTaskCount:   2,
		MediumMaxMemoryMB: 4096,
		HighTaskCount:     4,
		HighServiceCount:  3,
		DestructiveWorkTypes: map[string]bool{
			"deploy_service": true,
		},
	}
}

// DraftTask is the minimal shape ClassifyRisk needs from a not-yet-persisted
// task during planning, before it has a store.Task id.
type DraftTask struct {
	WorkType    string
	MaxMemoryMB int
	Services    []string
}

// ClassifyRisk implements SPEC_FULL.md's resolution of the complexity->risk
// Open Question: low for a single task touching at most one service;
// medium for 2-4 tasks, or any task declaring a memory hint above the
// configured threshold; high for more than 4 tasks, any destructive
// work_type, or more than 3 distinct services touched.
func ClassifyRisk(tasks []DraftTask, cfg RiskConfig) store.RiskLevel {
	services := map[string]bool{}
	highMemory := false
	destructive := false
	for _, t := range tasks {
		for _, s := range t.Services {
			services[s] = true
		}
		if t.MaxMemoryMB > cfg.MediumMaxMemoryMB {
			highMemory = true
		}
		if cfg.DestructiveWorkTypes[t.WorkType] {
			destructive = true
		}
	}

	switch {
	case len(tasks) > cfg.HighTaskCount || destructive || len(services) > cfg.HighServiceCount:
		return store.RiskHigh
	case len(tasks) >= cfg.MediumTaskCount || highMemory:
		return store.RiskMedium
	default:
		return store.RiskLow
	}
}
