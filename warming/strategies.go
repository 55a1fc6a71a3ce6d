package warming

import (
	"context"
	"sort"
	"time"
)

// Strategy turns a candidate key list into an ordered WarmTask plan;
// WorkerPool doesn't care which Strategy produced a task, only that it
// has a Key, Priority, and TTL.
type Strategy interface {
	Name() string
	Plan(ctx context.Context, opts PlanOptions) ([]WarmTask, error)
}

// PlanOptions is what a caller (WarmPattern, TriggerPredictive, a cron
// job) hands a Strategy to turn into tasks.
type PlanOptions struct {
	Keys     []string          // Keys to consider for warming
	Priority int               // Base priority level
	Limit    int               // Maximum number of tasks to generate
	Metadata map[string]string // Additional strategy-specific metadata
}

// WarmTask is one key's worth of work for WorkerPool.
type WarmTask struct {
	Key           string                 // Cache key to warm
	Priority      int                    // Task priority (higher = more important)
	EstimatedCost int                    // Estimated cost in milliseconds
	TTL           time.Duration          // Cache TTL for this key
	Strategy      string                 // Strategy that created this task
	Metadata      map[string]interface{} // Additional task metadata
}

// SelectiveHotKeysStrategy only warms the top of a hotness-ordered list —
// the 80/20 case where a handful of keys account for most traffic and
// warming the long tail would just waste origin capacity.
type SelectiveHotKeysStrategy struct {
	name string
}

// NewSelectiveHotKeysStrategy creates a new selective hot keys strategy.
func NewSelectiveHotKeysStrategy() Strategy {
	return &SelectiveHotKeysStrategy{
		name: "selective",
	}
}

func (s *SelectiveHotKeysStrategy) Name() string {
	return s.name
}

// Plan generates warming tasks for the hottest keys.
// Assumes keys are already sorted by hotness (most frequent first).
// Complexity: O(n) where n = min(len(keys), limit)
func (s *SelectiveHotKeysStrategy) Plan(ctx context.Context, opts PlanOptions) ([]WarmTask, error) {
	limit := opts.Limit
	if limit <= 0 || limit > len(opts.Keys) {
		limit = len(opts.Keys)
	}

	// Apply a reasonable cap to prevent runaway warming
	if limit > 1000 {
		limit = 1000
	}

	tasks := make([]WarmTask, 0, limit)
	
	// Take top N hottest keys
	for i := 0; i < limit && i < len(opts.Keys); i++ {
		key := opts.Keys[i]
		
		// Priority decreases for less hot keys
		priority := opts.Priority
		if opts.Priority == 0 {
			priority = 100 - (i * 100 / limit) // Linear decrease from 100 to 0
		}

		tasks = append(tasks, WarmTask{
			Key:           key,
			Priority:      priority,
			EstimatedCost: estimateFetchCost(key),
			TTL:           1 * time.Hour,
			Strategy:      s.name,
		})
	}

	return tasks, nil
}

// BreadthFirstStrategy orders keys by colon-delimited depth, shallowest
// first, so a hierarchical key space (user:123 before
// user:123:posts:456) gets its parents warm before its children and a
// miss on a child can't cascade into a miss on its parent too.
type BreadthFirstStrategy struct {
	name string
}

// NewBreadthFirstStrategy creates a new breadth-first strategy.
func NewBreadthFirstStrategy() Strategy {
	return &BreadthFirstStrategy{
		name: "breadth",
	}
}

func (s *BreadthFirstStrategy) Name() string {
	return s.name
}

// Plan generates warming tasks in breadth-first order.
// This assumes keys are structured hierarchically (e.g., "user:123", "user:123:posts", "user:123:posts:456").
// Complexity: O(n log n) for sorting + O(n) for task generation
func (s *BreadthFirstStrategy) Plan(ctx context.Context, opts PlanOptions) ([]WarmTask, error) {
	if len(opts.Keys) == 0 {
		return []WarmTask{}, nil
	}

	// Sort keys by depth (fewer colons = higher in hierarchy)
	sortedKeys := make([]string, len(opts.Keys))
	copy(sortedKeys, opts.Keys)
	
	sort.Slice(sortedKeys, func(i, j int) bool {
		depthI := keyDepth(sortedKeys[i])
		depthJ := keyDepth(sortedKeys[j])
		if depthI == depthJ {
			return sortedKeys[i] < sortedKeys[j] // Alphabetical for same depth
		}
		return depthI < depthJ // Shallower keys first
	})

	limit := opts.Limit
	if limit <= 0 || limit > len(sortedKeys) {
		limit = len(sortedKeys)
	}

	tasks := make([]WarmTask, 0, limit)
	
	for i := 0; i < limit && i < len(sortedKeys); i++ {
		key := sortedKeys[i]
		depth := keyDepth(key)
		
		// Higher priority for shallower (parent) keys
		priority := opts.Priority
		if priority == 0 {
			priority = 100 - (depth * 10)
			if priority < 0 {
				priority = 0
			}
		}

		tasks = append(tasks, WarmTask{
			Key:           key,
			Priority:      priority,
			EstimatedCost: estimateFetchCost(key),
			TTL:           1 * time.Hour,
			Strategy:      s.name,
			Metadata: map[string]interface{}{
				"depth": depth,
			},
		})
	}

	return tasks, nil
}

// keyDepth counts ':' separators as a proxy for hierarchy depth.
func keyDepth(key string) int {
	depth := 0
	for _, ch := range key {
		if ch == ':' {
			depth++
		}
	}
	return depth
}

// PriorityBasedStrategy is the default: score = (importance * hotness *
// 100) / estimatedCost, so a cheap-to-fetch, important, hot key always
// beats an expensive one even if the expensive one is hotter — this is
// the strategy DefaultConfig and TriggerPredictive reach for.
type PriorityBasedStrategy struct {
	name string
}

// NewPriorityBasedStrategy creates a new priority-based strategy.
func NewPriorityBasedStrategy() Strategy {
	return &PriorityBasedStrategy{
		name: "priority",
	}
}

func (s *PriorityBasedStrategy) Name() string {
	return s.name
}

// Plan generates warming tasks sorted by calculated priority score.
// Complexity: O(n log n) for sorting
func (s *PriorityBasedStrategy) Plan(ctx context.Context, opts PlanOptions) ([]WarmTask, error) {
	if len(opts.Keys) == 0 {
		return []WarmTask{}, nil
	}

	// Create tasks with calculated priorities
	tasks := make([]WarmTask, 0, len(opts.Keys))
	
	for i, key := range opts.Keys {
		cost := estimateFetchCost(key)
		
		// Calculate importance (decreases with position in list)
		importance := float64(len(opts.Keys)-i) / float64(len(opts.Keys))
		
		// Calculate hotness (assume keys are ordered by access frequency)
		hotness := 1.0
		if i < len(opts.Keys)/10 {
			hotness = 2.0 // Top 10% get double weight
		}
		
		// Priority score: higher importance and hotness, lower cost = higher priority
		score := (importance * hotness * 100) / float64(cost)
		priority := int(score)
		
		// Clamp to 0-100 range
		if priority > 100 {
			priority = 100
		}
		if priority < 0 {
			priority = 0
		}

		tasks = append(tasks, WarmTask{
			Key:           key,
			Priority:      priority,
			EstimatedCost: cost,
			TTL:           1 * time.Hour,
			Strategy:      s.name,
			Metadata: map[string]interface{}{
				"importance": importance,
				"hotness":    hotness,
				"score":      score,
			},
		})
	}

	// Sort by priority (highest first)
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].Priority > tasks[j].Priority
	})

	// Apply limit
	limit := opts.Limit
	if limit > 0 && limit < len(tasks) {
		tasks = tasks[:limit]
	}

	return tasks, nil
}

// estimateFetchCost is a key-shape heuristic standing in for a real
// per-route latency model; PriorityBasedStrategy is the only consumer
// that actually divides by it, so an inaccurate estimate skews ordering
// but never correctness.
func estimateFetchCost(key string) int {
	// Base cost
	cost := 50

	// Longer keys might indicate more complex data
	if len(key) > 50 {
		cost += 20
	}

	// Keys with multiple segments might require joins/aggregations
	depth := keyDepth(key)
	cost += depth * 10

	// Special cases (can be extended based on patterns)
	// Example: user profiles are fast, reports are slow
	if containsPattern(key, "report") {
		cost += 100
	}
	if containsPattern(key, "analytics") {
		cost += 150
	}

	return cost
}

// containsPattern checks if a key contains a specific pattern.
func containsPattern(key, pattern string) bool {
	return len(key) >= len(pattern) && contains(key, pattern)
}

func contains(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}