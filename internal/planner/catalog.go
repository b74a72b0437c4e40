// Package planner implements the Planner (spec component C6): turns a
// Request into a validated task DAG using the LLM Gateway and a playbook
// catalogue. Catalogue shape adapted from the teacher's
// orchestration/catalog.go AgentCatalog/EnhancedCapability; tiered
// resolution adapted from orchestration/tiered_capability_provider.go.
package planner

import (
	"strings"
	"sync"
	"time"
)

// Capability is a single advertised work_type an agent can perform.
type Capability struct {
	WorkType    string     `json:"work_type"`
	Description string     `json:"description"`
	Summary     string     `json:"summary,omitempty"`
	Parameters  []Parameter `json:"parameters"`
	Tags        []string   `json:"tags"`
}

// GetSummary returns a short description for tier-1 (summary-only) selection,
// falling back to the first sentence of Description when unset.
func (c *Capability) GetSummary() string {
	if c.Summary != "" {
		return c.Summary
	}
	if idx := strings.IndexByte(c.Description, '.'); idx >= 0 {
		return c.Description[:idx+1]
	}
	return c.Description
}

// Parameter describes one capability input.
type Parameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Required    bool        `json:"required"`
	Description string      `json:"description"`
	Default     interface{} `json:"default,omitempty"`
	Enum        []string    `json:"enum,omitempty"`
}

// AgentCapabilities groups the capabilities one agent advertises.
type AgentCapabilities struct {
	AgentID      string
	AgentType    string
	Capabilities []Capability
	LastUpdated  time.Time
}

// Catalog is a thread-safe, periodically-refreshed view over every known
// agent's capabilities, indexed by work_type for fast planner lookups.
type Catalog struct {
	mu    sync.RWMutex
	byAgent map[string]*AgentCapabilities
	byWorkType map[string][]string // work_type -> agent ids
}

func NewCatalog() *Catalog {
	return &Catalog{
		byAgent:    make(map[string]*AgentCapabilities),
		byWorkType: make(map[string][]string),
	}
}

func (c *Catalog) Upsert(ac *AgentCapabilities) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.byAgent[ac.AgentID]; ok {
		for _, cap := range old.Capabilities {
			c.removeIndex(cap.WorkType, ac.AgentID)
		}
	}
	c.byAgent[ac.AgentID] = ac
	for _, cap := range ac.Capabilities {
		c.byWorkType[cap.WorkType] = append(c.byWorkType[cap.WorkType], ac.AgentID)
	}
}

func (c *Catalog) removeIndex(workType, agentID string) {
	ids := c.byWorkType[workType]
	for i, id := range ids {
		if id == agentID {
			c.byWorkType[workType] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
}

func (c *Catalog) Remove(agentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.byAgent[agentID]; ok {
		for _, cap := range old.Capabilities {
			c.removeIndex(cap.WorkType, agentID)
		}
		delete(c.byAgent, agentID)
	}
}

// KnownWorkTypes returns every work_type currently advertised by at least
// one agent. Used to validate the LLM's plan did not hallucinate a
// work_type never offered in the prompt.
func (c *Catalog) KnownWorkTypes() map[string]bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]bool, len(c.byWorkType))
	for wt, agents := range c.byWorkType {
		if len(agents) > 0 {
			out[wt] = true
		}
	}
	return out
}

// Summaries returns tier-1 (lightweight) descriptions of every capability,
// for sending in the planning prompt without the full parameter schema.
func (c *Catalog) Summaries() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []string
	seen := map[string]bool{}
	for _, ac := range c.byAgent {
		for _, cap := range ac.Capabilities {
			if seen[cap.WorkType] {
				continue
			}
			seen[cap.WorkType] = true
			out = append(out, cap.WorkType+": "+cap.GetSummary())
		}
	}
	return out
}

// FullSchema returns the complete Parameter schema for a work_type, used
// only for agents actually selected into a plan (tier-2 resolution).
func (c *Catalog) FullSchema(workType string) ([]Parameter, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	agents, ok := c.byWorkType[workType]
	if !ok || len(agents) == 0 {
		return nil, false
	}
	ac := c.byAgent[agents[0]]
	for _, cap := range ac.Capabilities {
		if cap.WorkType == workType {
			return cap.Parameters, true
		}
	}
	return nil, false
}
