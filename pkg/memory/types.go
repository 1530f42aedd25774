// Package memory defines the core data model of the Engram service:
// memory records, annotations, situations, the controlled vocabularies,
// and the witness-based access predicate.
package memory

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MemoryType classifies what kind of information a memory holds.
type MemoryType string

const (
	TypeFact         MemoryType = "fact"
	TypePreference   MemoryType = "preference"
	TypeEvent        MemoryType = "event"
	TypeSolution     MemoryType = "solution"
	TypeInsight      MemoryType = "insight"
	TypeDecision     MemoryType = "decision"
	TypePattern      MemoryType = "pattern"
	TypeConversation MemoryType = "conversation"
	TypeLegacySingle MemoryType = "legacy_single_agent"
)

// SituationType describes the context a memory was formed in.
// The vocabulary is open for extension but values are tag-matched literally.
type SituationType string

const (
	SituationConversation SituationType = "conversation"
	SituationConsultation SituationType = "consultation_1to1"
	SituationGroup        SituationType = "group_discussion"
	SituationPresentation SituationType = "public_presentation"
	SituationLegacySingle SituationType = "legacy_single_agent"
	SituationTest         SituationType = "test"
)

// PrivacyLevel controls visibility beyond the witness set.
type PrivacyLevel string

const (
	PrivacyPersonal     PrivacyLevel = "personal"
	PrivacyParticipants PrivacyLevel = "participants_only"
	PrivacyGroup        PrivacyLevel = "group"
	PrivacyPublic       PrivacyLevel = "public"
)

// StorageType is the curator's vocabulary for observed information.
type StorageType string

const (
	StorageFacts         StorageType = "facts"
	StoragePreferences   StorageType = "preferences"
	StorageContext       StorageType = "context"
	StorageTemporary     StorageType = "temporary"
	StorageSkills        StorageType = "skills"
	StorageRelationships StorageType = "relationships"
)

// RetentionPolicy maps to a time-to-live for curated memories.
type RetentionPolicy string

const (
	RetentionPermanent  RetentionPolicy = "permanent"
	RetentionLongTerm   RetentionPolicy = "long_term"
	RetentionMediumTerm RetentionPolicy = "medium_term"
	RetentionShortTerm  RetentionPolicy = "short_term"
	RetentionSession    RetentionPolicy = "session_only"
)

// TTL returns the retention duration for the policy, or 0 for permanent.
func (p RetentionPolicy) TTL() time.Duration {
	switch p {
	case RetentionLongTerm:
		return 365 * 24 * time.Hour
	case RetentionMediumTerm:
		return 30 * 24 * time.Hour
	case RetentionShortTerm:
		return 7 * 24 * time.Hour
	case RetentionSession:
		return 4 * time.Hour
	default:
		return 0
	}
}

// DecayFunction selects how importance erodes over time.
type DecayFunction string

const (
	DecayNone        DecayFunction = "none"
	DecayLinear      DecayFunction = "linear"
	DecayLogarithmic DecayFunction = "logarithmic"
)

// MediaItem is a reference to media attached to a memory.
type MediaItem struct {
	Type        string   `json:"type"` // image, website, document
	URL         string   `json:"url"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	MimeType    string   `json:"mime_type,omitempty"`
	Authors     []string `json:"authors,omitempty"`
	Abstract    string   `json:"abstract,omitempty"`
	PreviewText string   `json:"preview_text,omitempty"`
}

// Content holds the textual payload of a memory.
type Content struct {
	Text     string            `json:"text"`
	Media    []MediaItem       `json:"media,omitempty"`
	Speakers map[string]string `json:"speakers,omitempty"` // entity_id -> utterance
	Summary  string            `json:"summary,omitempty"`
}

// Metadata carries the filterable attributes of a memory.
type Metadata struct {
	Timestamp          Timestamp  `json:"timestamp"`
	MemoryType         MemoryType `json:"memory_type"`
	AgentID            string     `json:"agent_id,omitempty"`
	Domain             string     `json:"domain,omitempty"`
	Confidence         float64    `json:"confidence,omitempty"`
	Importance         float64    `json:"importance,omitempty"`
	TopicTags          []string   `json:"topic_tags,omitempty"`
	InteractionQuality float64    `json:"interaction_quality,omitempty"`
	DurationMinutes    float64    `json:"situation_duration_minutes,omitempty"`
}

// Causality links a memory to the memories it was synthesised from.
// Parent references are weak: a parent may be deleted later.
type Causality struct {
	ParentMemories    []string  `json:"parent_memories"`
	InfluenceStrength []float64 `json:"influence_strength"`
	SynthesisType     string    `json:"synthesis_type,omitempty"`
	Reasoning         string    `json:"reasoning,omitempty"`
}

// Retention controls when the cleanup scheduler may expire a memory.
type Retention struct {
	TTLSeconds    int64         `json:"ttl_seconds,omitempty"`
	DecayFunction DecayFunction `json:"decay_function,omitempty"`
}

// Curation bookkeeping attached by the curation pipeline.
type Curation struct {
	StorageType     StorageType     `json:"storage_type,omitempty"`
	RetentionPolicy RetentionPolicy `json:"retention_policy,omitempty"`
	RequiresReview  bool            `json:"requires_review,omitempty"`
}

// Memory is a stored engram. Single-agent memories are multi-entity
// memories with a single witness and situation_type legacy_single_agent.
type Memory struct {
	ID            string        `json:"memory_id"`
	Content       Content       `json:"content"`
	Vector        []float32     `json:"vector"`
	Metadata      Metadata      `json:"metadata"`
	Tags          []string      `json:"tags,omitempty"`
	WitnessedBy   []string      `json:"witnessed_by"`
	SituationID   string        `json:"situation_id"`
	SituationType SituationType `json:"situation_type"`
	PrivacyLevel  PrivacyLevel  `json:"privacy_level"`
	Causality     *Causality    `json:"causality,omitempty"`
	Retention     *Retention    `json:"retention,omitempty"`
	Curation      *Curation     `json:"curation,omitempty"`
	CreatedAt     Timestamp     `json:"created_at"`
	ExpiresAt     *Timestamp    `json:"expires_at,omitempty"`
	AccessCount   int64         `json:"access_count"`
	LastAccessed  *Timestamp    `json:"last_accessed,omitempty"`
}

// Annotation is an append-only note attached to a memory.
// Annotations never mutate their parent.
type Annotation struct {
	AnnotatorID   string    `json:"annotator_id"`
	Type          string    `json:"type"`
	Content       string    `json:"content"`
	Vector        []float32 `json:"vector,omitempty"`
	Confidence    float64   `json:"confidence,omitempty"`
	Tags          []string  `json:"tags,omitempty"`
	EvidenceLinks []string  `json:"evidence_links,omitempty"`
	CreatedAt     Timestamp `json:"created_at"`
}

// SituationStatus is the lifecycle state of a situation.
type SituationStatus string

const (
	SituationActive   SituationStatus = "active"
	SituationArchived SituationStatus = "archived"
	SituationPrivate  SituationStatus = "private"
)

// Situation groups memories that share participants and context.
type Situation struct {
	SituationID   string          `json:"situation_id"`
	SituationType SituationType   `json:"situation_type"`
	Participants  []string        `json:"participants"`
	MemoryIDs     []string        `json:"memory_ids"`
	CreatedAt     Timestamp       `json:"created_at"`
	LastActivity  Timestamp       `json:"last_activity"`
	Status        SituationStatus `json:"status"`
}

func hex12() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}

// NewID generates a memory identifier of the form mem-<12 hex>.
func NewID() string {
	return "mem-" + hex12()
}

// NewSituationID generates a situation identifier of the form sit-<12 hex>.
func NewSituationID() string {
	return "sit-" + hex12()
}

// NormalizeEntityID strips hyphens from an entity ID so it survives the
// index tokenizer as a single tag token. The operation is idempotent.
func NormalizeEntityID(id string) string {
	return strings.ReplaceAll(id, "-", "")
}

// NormalizeWitnesses normalises and deduplicates a witness set while
// preserving the original strings and their order for display.
// Returns (originals, normalised) of equal length.
func NormalizeWitnesses(witnesses []string) ([]string, []string) {
	seen := make(map[string]bool, len(witnesses))
	originals := make([]string, 0, len(witnesses))
	normalised := make([]string, 0, len(witnesses))
	for _, w := range witnesses {
		n := NormalizeEntityID(w)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		originals = append(originals, w)
		normalised = append(normalised, n)
	}
	return originals, normalised
}

// Allow is the access predicate: an entity may see a memory only if it is
// a witness or the memory is public. There is no administrative override.
func Allow(m *Memory, requestingEntity string) bool {
	if m == nil {
		return false
	}
	if m.PrivacyLevel == PrivacyPublic {
		return true
	}
	want := NormalizeEntityID(requestingEntity)
	for _, w := range m.WitnessedBy {
		if NormalizeEntityID(w) == want {
			return true
		}
	}
	return false
}

// AllowAnonymous decides visibility on the legacy single-agent surface,
// which carries no entity identity. Only single-agent memories and public
// memories are served there; multi-entity records stay behind the witness
// predicate.
func AllowAnonymous(m *Memory) bool {
	if m == nil {
		return false
	}
	return m.SituationType == SituationLegacySingle || m.PrivacyLevel == PrivacyPublic
}

// ContentPreview returns the first n bytes of the memory text.
func (m *Memory) ContentPreview(n int) string {
	text := m.Content.Text
	if len(text) <= n {
		return text
	}
	return text[:n]
}

// LiveParents returns causality parent IDs paired with their influence,
// filtered by the exists predicate so dangling references are dropped.
func (m *Memory) LiveParents(exists func(id string) bool) ([]string, []float64) {
	if m.Causality == nil {
		return nil, nil
	}
	ids := make([]string, 0, len(m.Causality.ParentMemories))
	strengths := make([]float64, 0, len(m.Causality.ParentMemories))
	for i, p := range m.Causality.ParentMemories {
		if !exists(p) {
			continue
		}
		ids = append(ids, p)
		if i < len(m.Causality.InfluenceStrength) {
			strengths = append(strengths, m.Causality.InfluenceStrength[i])
		}
	}
	return ids, strengths
}

func (m *Memory) String() string {
	return fmt.Sprintf("Memory(%s, witnesses=%d, type=%s)", m.ID, len(m.WitnessedBy), m.Metadata.MemoryType)
}
