// Package memory implements the Agentic Memory Broker (L7): the sole
// mediator for every domain's reads and writes against episodic,
// semantic, procedural, and working memory. Grounded on the teacher's
// memory.PostgresMemoryStore (a one-line stub naming the persistence
// concern but not implementing it) expanded into spec.md §4.7's full
// seven-step pipeline: quota, authorize, retrieve, filter, rank, log,
// return.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mindburn-labs/grace/pkg/contracts"
	"github.com/mindburn-labs/grace/pkg/crypto"
	"github.com/mindburn-labs/grace/pkg/graceerr"
)

// QuotaChecker enforces a sliding-window request quota per domain.
type QuotaChecker interface {
	Allow(ctx context.Context, domain string, now time.Time) (bool, error)
}

// Authorizer is the Governance Gate contract the broker calls for every
// request, with action="memory_access" and the requesting domain as
// resource.
type Authorizer interface {
	Check(ctx context.Context, actor, action, resource string, payload map[string]any) (contracts.Decision, error)
}

// Store holds memory entries across all domains. No domain reads
// storage directly; only the broker does.
type Store interface {
	Put(ctx context.Context, entry contracts.MemoryEntry) error
	Query(ctx context.Context, domain string, memoryType contracts.MemoryType) ([]contracts.MemoryEntry, error)
	QueryAllDomains(ctx context.Context, memoryType contracts.MemoryType, excludeDomain string) ([]contracts.MemoryEntry, error)
	BumpAccessCount(ctx context.Context, entryID string) error
}

// Recorder appends a memory access to the Immutable Log.
type Recorder interface {
	RecordAccess(ctx context.Context, req contracts.MemoryRequest, resp contracts.MemoryResponse) error
}

// trustProvider resolves the requester domain's current trust score, a
// number in [0,1]; cross_domain access requires trust >= 0.8 per
// spec.md §4.7 step 2.
type TrustProvider interface {
	TrustOf(ctx context.Context, domain string) float64
}

// Broker is the Agentic Memory Broker.
type Broker struct {
	store    Store
	quota    QuotaChecker
	authz    Authorizer
	trust    TrustProvider
	recorder Recorder
	signer   crypto.Signer
	clock    func() time.Time

	patterns patternTracker
}

// New constructs a Broker.
func New(store Store, quota QuotaChecker, authz Authorizer, trust TrustProvider, recorder Recorder, signer crypto.Signer) *Broker {
	return &Broker{
		store:    store,
		quota:    quota,
		authz:    authz,
		trust:    trust,
		recorder: recorder,
		signer:   signer,
		clock:    time.Now,
		patterns: newPatternTracker(),
	}
}

// WithClock overrides the clock for deterministic age/recency tests.
func (b *Broker) WithClock(clock func() time.Time) *Broker {
	b.clock = clock
	return b
}

const crossDomainTrustThreshold = 0.8

// RequestMemory runs the full seven-step pipeline of spec.md §4.7.
func (b *Broker) RequestMemory(ctx context.Context, req contracts.MemoryRequest) (contracts.MemoryResponse, error) {
	now := b.clock()

	// 1. Validate: quota.
	if b.quota != nil {
		allowed, err := b.quota.Allow(ctx, req.Domain, now)
		if err != nil {
			return contracts.MemoryResponse{}, graceerr.Wrap(graceerr.KindLogUnavailable, "memory: quota check", err)
		}
		if !allowed {
			resp := contracts.MemoryResponse{
				AccessLevel: contracts.AccessDenied,
				Explanation: "Rate limit exceeded",
			}
			b.log(ctx, req, resp)
			return resp, nil
		}
	}

	// 2. Authorize.
	accessLevel := contracts.AccessFull
	appliedPolicies := []string{}
	if b.authz != nil {
		decision, err := b.authz.Check(ctx, req.Actor, "memory_access", req.Domain, map[string]any{"memory_type": string(req.MemoryType)})
		if err != nil {
			return contracts.MemoryResponse{}, graceerr.Wrap(graceerr.KindUnauthorized, "memory: authorize", err)
		}
		switch decision.Decision {
		case contracts.PolicyDeny:
			resp := contracts.MemoryResponse{AccessLevel: contracts.AccessDenied, Explanation: decision.Reason}
			b.log(ctx, req, resp)
			return resp, nil
		case contracts.PolicyReview:
			accessLevel = contracts.AccessRestricted
			appliedPolicies = append(appliedPolicies, "pending_review")
		default:
			accessLevel = contracts.AccessFull
		}
	}

	if req.IncludeCrossDomain && accessLevel == contracts.AccessFull {
		trust := 1.0
		if b.trust != nil {
			trust = b.trust.TrustOf(ctx, req.Domain)
		}
		if trust >= crossDomainTrustThreshold {
			accessLevel = contracts.AccessCrossDomain
		} else {
			accessLevel = contracts.AccessRestricted
			appliedPolicies = append(appliedPolicies, "cross_domain_trust_insufficient")
		}
	}

	// 3. Retrieve candidates. Cross-domain candidates are fetched
	// whenever the request asks for them, regardless of whether
	// authorization actually granted cross-domain access: Step 4 below
	// is what enforces isolation, so an unapproved request still sees
	// the candidates get filtered out (and the reason recorded) rather
	// than silently never looking.
	candidates, err := b.store.Query(ctx, req.Domain, req.MemoryType)
	if err != nil {
		return contracts.MemoryResponse{}, graceerr.Wrap(graceerr.KindLogUnavailable, "memory: query own domain", err)
	}
	if req.IncludeCrossDomain {
		others, err := b.store.QueryAllDomains(ctx, req.MemoryType, req.Domain)
		if err != nil {
			return contracts.MemoryResponse{}, graceerr.Wrap(graceerr.KindLogUnavailable, "memory: query cross domain", err)
		}
		candidates = append(candidates, others...)
	}
	totalCount := len(candidates)

	// 4. Filter: domain isolation (unless cross-domain approved),
	// sensitivity tag at restricted level, and age vs max_age_hours.
	// Both domain isolation and sensitivity are checked independently
	// so an entry excluded for one reason still records the other when
	// it also applies, instead of short-circuiting on the first hit.
	crossApproved := accessLevel == contracts.AccessFull || accessLevel == contracts.AccessCrossDomain
	filtered := make([]contracts.MemoryEntry, 0, len(candidates))
	for _, e := range candidates {
		excluded := false

		if e.Metadata.Sensitive && accessLevel == contracts.AccessRestricted {
			if !contains(appliedPolicies, "sensitive_content_filter") {
				appliedPolicies = append(appliedPolicies, "sensitive_content_filter")
			}
			excluded = true
		}
		if e.Domain != req.Domain && !crossApproved {
			if !contains(appliedPolicies, "domain_isolation") {
				appliedPolicies = append(appliedPolicies, "domain_isolation")
			}
			excluded = true
		}
		if excluded {
			continue
		}
		if e.Metadata.MaxAgeHours != nil {
			ageHours := now.Sub(e.Timestamp).Hours()
			if ageHours > *e.Metadata.MaxAgeHours {
				continue
			}
		}
		filtered = append(filtered, e)
	}
	filteredOutCount := totalCount - len(filtered)

	// 5. Rank.
	scored := make([]scoredEntry, 0, len(filtered))
	for _, e := range filtered {
		scored = append(scored, scoredEntry{entry: e, score: rankScore(e, req, now)})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })

	// A Limit of 0 returns no entries; the access is still logged below.
	var out []contracts.MemoryEntry
	for i, s := range scored {
		if i >= req.Limit {
			break
		}
		e := s.entry
		e.RelevanceScore = s.score
		out = append(out, e)
	}

	// 6. Log access and bump access_count on returned entries.
	for _, e := range out {
		_ = b.store.BumpAccessCount(ctx, e.EntryID)
	}

	explanation := fmt.Sprintf("returned %d of %d candidates at access level %s", len(out), totalCount, accessLevel)
	resp := contracts.MemoryResponse{
		Memories:        out,
		AccessLevel:     accessLevel,
		FilteredCount:   filteredOutCount,
		TotalCount:      totalCount,
		Explanation:     explanation,
		AppliedPolicies: appliedPolicies,
	}
	if b.signer != nil {
		sig, err := b.signer.Sign([]byte(fmt.Sprintf("%s:%s:%d", req.Domain, req.MemoryType, len(out))))
		if err == nil {
			resp.Signature = sig
		}
	}

	b.log(ctx, req, resp)
	b.patterns.record(req.Domain, req.MemoryType, len(out))
	return resp, nil
}

// StoreMemory writes a new entry for domain and returns its entry_id.
func (b *Broker) StoreMemory(ctx context.Context, domain string, memoryType contracts.MemoryType, content map[string]any, tags []string, actor string) (string, error) {
	entry := contracts.MemoryEntry{
		EntryID:    uuid.New().String(),
		MemoryType: memoryType,
		Domain:     domain,
		Content:    content,
		Tags:       tags,
		Timestamp:  b.clock(),
		Metadata:   contracts.MemoryMetadata{Sensitive: contains(tags, "sensitive")},
	}
	if b.signer != nil {
		canon, err := crypto.Canonicalize(content)
		if err == nil {
			if sig, err := b.signer.Sign(canon); err == nil {
				entry.Signature = sig
			}
		}
	}
	if err := b.store.Put(ctx, entry); err != nil {
		return "", graceerr.Wrap(graceerr.KindLogUnavailable, "memory: store entry", err)
	}
	return entry.EntryID, nil
}

// PatternFor returns the learned access pattern for (domain, memoryType),
// consulted by the Meta Coordinator to pre-warm candidates.
func (b *Broker) PatternFor(domain string, memoryType contracts.MemoryType) (accessFrequency int, avgResultCount float64) {
	return b.patterns.get(domain, memoryType)
}

func (b *Broker) log(ctx context.Context, req contracts.MemoryRequest, resp contracts.MemoryResponse) {
	if b.recorder == nil {
		return
	}
	_ = b.recorder.RecordAccess(ctx, req, resp)
}

type scoredEntry struct {
	entry contracts.MemoryEntry
	score float64
}

// rankScore implements spec.md §4.7 step 5's weighted formula:
// 0.3*recency + 0.2*frequency + 0.3*tag_match + 0.2*context_alignment.
func rankScore(e contracts.MemoryEntry, req contracts.MemoryRequest, now time.Time) float64 {
	recency := recencyScore(e.Timestamp, now)
	frequency := math.Min(float64(e.AccessCount)/100.0, 1.0)
	tagMatch := jaccard(e.Tags, req.Tags)
	contextAlignment := contextAlignmentScore(e, req.Context)
	return 0.3*recency + 0.2*frequency + 0.3*tagMatch + 0.2*contextAlignment
}

// recencyScore decays linearly to 0 over one week.
func recencyScore(ts, now time.Time) float64 {
	const window = 7 * 24 * time.Hour
	age := now.Sub(ts)
	if age <= 0 {
		return 1
	}
	if age >= window {
		return 0
	}
	return 1 - float64(age)/float64(window)
}

func jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := toSet(a)
	setB := toSet(b)
	inter := 0
	for k := range setA {
		if setB[k] {
			inter++
		}
	}
	union := len(setA)
	for k := range setB {
		if !setA[k] {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func toSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, i := range items {
		out[strings.ToLower(i)] = true
	}
	return out
}

func contextAlignmentScore(e contracts.MemoryEntry, reqContext map[string]any) float64 {
	if len(reqContext) == 0 {
		return 0
	}
	matches := 0
	for k, v := range reqContext {
		if mv, ok := e.Metadata.Extra[k]; ok && fmt.Sprintf("%v", mv) == fmt.Sprintf("%v", v) {
			matches++
		}
	}
	return float64(matches) / float64(len(reqContext))
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
