package contracts

import "time"

// MemoryType is the closed set of memory kinds the broker serves.
type MemoryType string

const (
	MemoryEpisodic   MemoryType = "episodic"
	MemorySemantic   MemoryType = "semantic"
	MemoryProcedural MemoryType = "procedural"
	MemoryWorking    MemoryType = "working"
)

// AccessLevel is what a MemoryResponse grants the requester.
type AccessLevel string

const (
	AccessFull        AccessLevel = "full"
	AccessCrossDomain AccessLevel = "cross_domain"
	AccessRestricted  AccessLevel = "restricted"
	AccessDenied      AccessLevel = "denied"
)

// MemoryEntry is one stored fact, pattern, or episode.
type MemoryEntry struct {
	EntryID        string         `json:"entry_id"`
	MemoryType     MemoryType     `json:"memory_type"`
	Domain         string         `json:"domain"`
	Content        map[string]any `json:"content"`
	Tags           []string       `json:"tags"`
	Timestamp      time.Time      `json:"timestamp"`
	AccessCount    int            `json:"access_count"`
	RelevanceScore float64        `json:"relevance_score"`
	Signature      string         `json:"signature"`
	Metadata       MemoryMetadata `json:"metadata"`
}

// MemoryMetadata carries optional per-entry policy hints.
type MemoryMetadata struct {
	MaxAgeHours *float64       `json:"max_age_hours,omitempty"`
	Sensitive   bool           `json:"sensitive,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// MemoryRequest asks the broker for candidate memories.
type MemoryRequest struct {
	Domain             string         `json:"domain"`
	MemoryType         MemoryType     `json:"memory_type"`
	Tags               []string       `json:"tags"`
	Context            map[string]any `json:"context"`
	IncludeCrossDomain bool           `json:"include_cross_domain"`
	Limit              int            `json:"limit"`
	Actor              string         `json:"actor"`
}

// MemoryResponse is always explanatory: it names the access level, the
// policies applied, and how many candidates were filtered out.
type MemoryResponse struct {
	Memories       []MemoryEntry `json:"memories"`
	AccessLevel    AccessLevel   `json:"access_level"`
	FilteredCount  int           `json:"filtered_count"`
	TotalCount     int           `json:"total_count"`
	Explanation    string        `json:"explanation"`
	AppliedPolicies []string     `json:"applied_policies"`
	Signature      string        `json:"signature"`
}
