package memory

import (
	"strings"
	"time"
)

// FactType categorizes what kind of knowledge a fact carries.
type FactType string

const (
	TypeFact       FactType = "FACT"
	TypePreference FactType = "PREFERENCE"
	TypeLore       FactType = "LORE"
	TypeContext    FactType = "CONTEXT"
	TypeStory      FactType = "STORY"
)

// Lane is the trust classification of a fact. CANON facts are ground truth,
// RUMOR facts are performative/unverified, DISPUTED facts are contradicted
// elsewhere and are surfaced as uncertain, never as grounding.
type Lane string

const (
	LaneCanon    Lane = "CANON"
	LaneRumor    Lane = "RUMOR"
	LaneDisputed Lane = "DISPUTED"
)

// StatusActive marks facts eligible for retrieval. Merged duplicates are
// deleted outright, so ACTIVE is the only status the engine writes.
const StatusActive = "ACTIVE"

// Source identifies where a fact originated.
type Source struct {
	Kind string // conversation, document, derived, manual
	Ref  string
}

const (
	SourceConversation = "conversation"
	SourceDocument     = "document"
	SourceDerived      = "derived"
	SourceManual       = "manual"
)

func (s Source) String() string {
	if s.Kind == "" {
		return ""
	}
	if s.Ref == "" {
		return s.Kind
	}
	return s.Kind + ":" + s.Ref
}

// ParseSource decodes the stored "kind:ref" form. Unknown shapes fall back to
// a manual source so a malformed row never breaks scoring.
func ParseSource(raw string) Source {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Source{Kind: SourceManual}
	}
	kind, ref, found := strings.Cut(raw, ":")
	if !found {
		return Source{Kind: raw}
	}
	switch kind {
	case SourceConversation, SourceDocument, SourceDerived, SourceManual:
		return Source{Kind: kind, Ref: ref}
	}
	return Source{Kind: SourceManual, Ref: raw}
}

// Fact is the central entity: one remembered statement about the persona's
// world, scoped to a profile.
type Fact struct {
	ID             string
	ProfileID      string
	Content        string
	ContentHash    string
	Type           FactType
	Lane           Lane
	Importance     float64 // 0-100
	Confidence     float64 // 0-100
	Keywords       []string
	Relationships  []string
	Embedding      []float32
	EmbeddingModel string
	RetrievalCount int
	SupportCount   int
	QualityScore   float64
	Protected      bool
	Status         string
	Version        int
	Source         Source
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// HasEmbedding reports whether the fact carries a usable vector.
func (f *Fact) HasEmbedding() bool {
	return len(f.Embedding) > 0
}

// Entity is a named thing the persona knows about, surfaced alongside facts.
type Entity struct {
	ID           string
	ProfileID    string
	Name         string
	EntityType   string
	Description  string
	MentionCount int
	UpdatedAt    time.Time
}

// Message is a single conversation turn, consumed read-only for context.
type Message struct {
	ID             string
	ConversationID string
	Role           string
	Content        string
	CreatedAt      time.Time
}

// RetrievalOptions carries the per-call persona knobs that modulate
// retrieval. Zero values mean neutral behavior.
type RetrievalOptions struct {
	ChaosLevel float64 // 0-100; high chaos unlocks the rumor lane
	Mood       string  // persona-state preset name
	Mode       string  // interaction-mode preset name
}

// RetrievalQuery is the composed input to Retrieve.
type RetrievalQuery struct {
	ProfileID      string
	Query          string
	ConversationID string
	Limit          int
	Options        RetrievalOptions
}

// ScoredFact is a fact with its retrieval scores attached.
type ScoredFact struct {
	Fact                Fact
	Score               float64
	ContextualRelevance float64
}

// KnowledgeGap flags query topics with no supporting evidence in the
// selected set.
type KnowledgeGap struct {
	HasGap        bool
	MissingTopics []string
	Coverage      float64 // fraction of significant keywords covered
}

// RetrievalStats makes degraded results observable without raising errors.
type RetrievalStats struct {
	SemanticCandidates int
	KeywordCandidates  int
	DocumentCandidates int
	TotalCandidates    int
	Selected           int
	Degraded           bool
	FailedBranches     []string
	Elapsed            time.Duration
}

// Bundle is the structured result of a retrieval: facts split by trust lane
// plus entities, gap analysis, and stats.
type Bundle struct {
	Canon        []ScoredFact
	Rumors       []ScoredFact
	Disputed     []ScoredFact
	Entities     []Entity
	KnowledgeGap *KnowledgeGap
	Stats        RetrievalStats
}

// DuplicateAction is the verdict of a write-time duplicate check.
type DuplicateAction string

const (
	ActionBlock DuplicateAction = "BLOCK"
	ActionFlag  DuplicateAction = "FLAG"
	ActionAllow DuplicateAction = "ALLOW"
)

// DuplicateMatch is one existing fact found similar to submitted content.
type DuplicateMatch struct {
	FactID     string
	Content    string
	Similarity float64
}

// DuplicateCheckResult gates new-fact ingestion.
type DuplicateCheckResult struct {
	Action  DuplicateAction
	Matches []DuplicateMatch
}

// DuplicateGroup is a master fact plus the near-identical facts discovered
// around it, carrying the merged derived fields.
type DuplicateGroup struct {
	Master                Fact
	Duplicates            []Fact
	MergedContent         string
	CombinedImportance    float64
	CombinedKeywords      []string
	CombinedRelationships []string
	RetrievalCount        int
	SupportCount          int
	QualityScore          float64
}

// DeepScanRequest configures a maintenance scan. Depth 0 scans everything.
// TextMode compares fact text instead of vectors, which also covers facts
// that never received an embedding.
type DeepScanRequest struct {
	ProfileID string
	Depth     int
	Threshold float64
	Apply     bool
	TextMode  bool
	Progress  func(scanned, total int)
}

// DeepScanReport summarizes a completed (or cancelled) scan.
type DeepScanReport struct {
	Groups          []DuplicateGroup
	TotalDuplicates int
	Scanned         int
	Merged          int
	Elapsed         time.Duration
}

// MergeUpdate carries the master-row changes applied by a transactional merge.
type MergeUpdate struct {
	Content        string
	Importance     float64
	Keywords       []string
	Relationships  []string
	RetrievalCount int
	SupportCount   int
	QualityScore   float64
	ContentHash    string
}

// FactMatch pairs a fact with its raw vector similarity to a query.
type FactMatch struct {
	Fact       Fact
	Similarity float64
}

// ValidLane reports whether the string names a known trust lane.
func ValidLane(lane string) bool {
	switch Lane(lane) {
	case LaneCanon, LaneRumor, LaneDisputed:
		return true
	}
	return false
}

// ValidFactType reports whether the string names a known fact type.
func ValidFactType(t string) bool {
	switch FactType(t) {
	case TypeFact, TypePreference, TypeLore, TypeContext, TypeStory:
		return true
	}
	return false
}

// clampConfidence keeps confidence in the storage scale.
func clampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
