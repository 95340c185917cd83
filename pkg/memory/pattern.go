package memory

import (
	"sync"

	"github.com/mindburn-labs/grace/pkg/contracts"
)

// patternKey identifies one (domain, memory_type) access pattern.
type patternKey struct {
	domain     string
	memoryType contracts.MemoryType
}

type patternRecord struct {
	requests    int
	resultTotal int
}

// patternTracker learns per-(domain, memory_type) access frequency and
// average result count, per spec.md §4.7's "Learning" paragraph.
type patternTracker struct {
	mu       sync.Mutex
	patterns map[patternKey]*patternRecord
}

func newPatternTracker() patternTracker {
	return patternTracker{patterns: make(map[patternKey]*patternRecord)}
}

func (t *patternTracker) record(domain string, memoryType contracts.MemoryType, resultCount int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := patternKey{domain: domain, memoryType: memoryType}
	r, ok := t.patterns[key]
	if !ok {
		r = &patternRecord{}
		t.patterns[key] = r
	}
	r.requests++
	r.resultTotal += resultCount
}

func (t *patternTracker) get(domain string, memoryType contracts.MemoryType) (accessFrequency int, avgResultCount float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.patterns[patternKey{domain: domain, memoryType: memoryType}]
	if !ok {
		return 0, 0
	}
	avg := 0.0
	if r.requests > 0 {
		avg = float64(r.resultTotal) / float64(r.requests)
	}
	return r.requests, avg
}
