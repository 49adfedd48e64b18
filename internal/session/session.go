// Package session holds the per-conversation state shared between pipeline
// steps: the source registry, evaluation verdicts, report slots and the
// ordered event log. A Session is created and torn down by the server layer;
// pipeline components only read and write its slots.
package session

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/genai"
)

// Grade values for research evaluation feedback.
const (
	GradePass = "pass"
	GradeFail = "fail"
)

// SearchQuery represents a specific search query for web search.
type SearchQuery struct {
	SearchQuery string `json:"search_query"`
}

// Feedback is the structured evaluation verdict on research quality.
// FollowUpQueries is only populated when the grade is "fail".
type Feedback struct {
	Grade           string        `json:"grade"`
	Comment         string        `json:"comment"`
	FollowUpQueries []SearchQuery `json:"follow_up_queries,omitempty"`
}

// Passed reports whether the verdict allows the research loop to stop.
func (f *Feedback) Passed() bool {
	return f != nil && f.Grade == GradePass
}

// SupportedClaim is a text excerpt a source substantiates, with the
// confidence the grounding engine assigned to that support.
type SupportedClaim struct {
	TextSegment string  `json:"text_segment"`
	Confidence  float64 `json:"confidence"`
}

// SourceInfo is one record in the source registry.
type SourceInfo struct {
	ShortID         string           `json:"short_id"`
	Title           string           `json:"title"`
	URL             string           `json:"url"`
	Domain          string           `json:"domain"`
	SupportedClaims []SupportedClaim `json:"supported_claims"`
}

// Clone returns a deep copy of the record.
func (s *SourceInfo) Clone() *SourceInfo {
	if s == nil {
		return nil
	}
	out := *s
	out.SupportedClaims = append([]SupportedClaim(nil), s.SupportedClaims...)
	return &out
}

// DisplayTitle returns the best human-readable label for the source:
// title, then domain, then the short identifier.
func (s *SourceInfo) DisplayTitle() string {
	if s.Title != "" {
		return s.Title
	}
	if s.Domain != "" {
		return s.Domain
	}
	return s.ShortID
}

// EventActions carries control signals attached to an event.
type EventActions struct {
	Escalate bool `json:"escalate,omitempty"`
}

// Event is one entry in a session's conversation log. Grounding carries the
// web-citation metadata returned by the model for grounded generations.
type Event struct {
	ID        string                   `json:"id"`
	Author    string                   `json:"author"`
	Timestamp time.Time                `json:"timestamp"`
	Content   string                   `json:"content,omitempty"`
	Grounding *genai.GroundingMetadata `json:"grounding_metadata,omitempty"`
	Actions   EventActions             `json:"actions,omitempty"`
}

// NewEvent builds an event with a fresh ID and the current time.
func NewEvent(author string) Event {
	return Event{ID: uuid.NewString(), Author: author, Timestamp: time.Now()}
}

// state is the serialized slot layout. Slot names on the wire are part of
// the API; clients read them from session snapshots.
type state struct {
	URLToShortID             map[string]string      `json:"url_to_short_id"`
	Sources                  map[string]*SourceInfo `json:"sources"`
	ResearchEvaluation       *Feedback              `json:"research_evaluation,omitempty"`
	FinalCitedReport         string                 `json:"final_cited_report,omitempty"`
	FinalReportWithCitations string                 `json:"final_report_with_citations,omitempty"`
	Extra                    map[string]string      `json:"extra,omitempty"`
}

// Session is the shared mutable state for one research conversation.
//
// The server may snapshot a session while a pipeline run is mutating it, so
// every accessor takes the mutex: registry mutation goes through
// UpdateRegistry under the write lock, and the map accessors return copies.
type Session struct {
	mu        sync.RWMutex
	id        string
	createdAt time.Time
	updatedAt time.Time
	state     state
	events    []Event
}

// New creates an empty session with a fresh ID.
func New() *Session {
	now := time.Now()
	return &Session{
		id:        uuid.NewString(),
		createdAt: now,
		updatedAt: now,
		state: state{
			URLToShortID: make(map[string]string),
			Sources:      make(map[string]*SourceInfo),
			Extra:        make(map[string]string),
		},
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// CreatedAt returns the session creation time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// AddEvent appends an event to the session log.
func (s *Session) AddEvent(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	s.updatedAt = time.Now()
}

// Events returns the event log in arrival order. The returned slice is a
// copy; the events themselves are shared.
func (s *Session) Events() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// URLToShortID returns a copy of the URL to short-identifier index. Every
// key here has a corresponding record in Sources and vice versa.
func (s *Session) URLToShortID() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.state.URLToShortID))
	for k, v := range s.state.URLToShortID {
		out[k] = v
	}
	return out
}

// Sources returns a copy of the source registry keyed by short identifier.
// The records are shared; mutate them only through UpdateRegistry.
func (s *Session) Sources() map[string]*SourceInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*SourceInfo, len(s.state.Sources))
	for k, v := range s.state.Sources {
		out[k] = v
	}
	return out
}

// UpdateRegistry runs fn against the live URL index and source registry
// under the write lock. All registry mutation goes through here so snapshots
// taken mid-run never race a writer.
func (s *Session) UpdateRegistry(fn func(urlToShortID map[string]string, sources map[string]*SourceInfo)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.state.URLToShortID, s.state.Sources)
	s.updatedAt = time.Now()
}

// Source looks up a registry record by short identifier.
func (s *Session) Source(shortID string) (*SourceInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src, ok := s.state.Sources[shortID]
	return src, ok
}

// ResearchEvaluation returns the current evaluation verdict, or nil when no
// evaluation has run yet.
func (s *Session) ResearchEvaluation() *Feedback {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.ResearchEvaluation
}

// SetResearchEvaluation stores the evaluation verdict.
func (s *Session) SetResearchEvaluation(f *Feedback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.ResearchEvaluation = f
	s.updatedAt = time.Now()
}

// FinalCitedReport returns the composed report with raw citation markers.
func (s *Session) FinalCitedReport() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.FinalCitedReport
}

// SetFinalCitedReport stores the composed report before citation rewriting.
func (s *Session) SetFinalCitedReport(report string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.FinalCitedReport = report
	s.updatedAt = time.Now()
}

// FinalReportWithCitations returns the report after markers were resolved
// into formatted links.
func (s *Session) FinalReportWithCitations() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.FinalReportWithCitations
}

// SetFinalReportWithCitations stores the rewritten report.
func (s *Session) SetFinalReportWithCitations(report string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.FinalReportWithCitations = report
	s.updatedAt = time.Now()
}

// Get reads a free-form text slot (research plan, section findings, ...).
func (s *Session) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.state.Extra[key]
	return v, ok
}

// Set writes a free-form text slot.
func (s *Session) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Extra == nil {
		s.state.Extra = make(map[string]string)
	}
	s.state.Extra[key] = value
	s.updatedAt = time.Now()
}

// Snapshot is a point-in-time serializable view of a session.
type Snapshot struct {
	ID                       string                 `json:"id"`
	CreatedAt                time.Time              `json:"created_at"`
	UpdatedAt                time.Time              `json:"updated_at"`
	URLToShortID             map[string]string      `json:"url_to_short_id"`
	Sources                  map[string]*SourceInfo `json:"sources"`
	ResearchEvaluation       *Feedback              `json:"research_evaluation,omitempty"`
	FinalCitedReport         string                 `json:"final_cited_report,omitempty"`
	FinalReportWithCitations string                 `json:"final_report_with_citations,omitempty"`
	Extra                    map[string]string      `json:"extra,omitempty"`
	Events                   []Event                `json:"events"`
}

// Snapshot copies the session into a serializable view.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		ID:                       s.id,
		CreatedAt:                s.createdAt,
		UpdatedAt:                s.updatedAt,
		URLToShortID:             make(map[string]string, len(s.state.URLToShortID)),
		Sources:                  make(map[string]*SourceInfo, len(s.state.Sources)),
		ResearchEvaluation:       s.state.ResearchEvaluation,
		FinalCitedReport:         s.state.FinalCitedReport,
		FinalReportWithCitations: s.state.FinalReportWithCitations,
		Extra:                    make(map[string]string, len(s.state.Extra)),
		Events:                   make([]Event, len(s.events)),
	}
	for k, v := range s.state.URLToShortID {
		snap.URLToShortID[k] = v
	}
	// Deep copy: a collector appending claims to a record must not race a
	// marshal of an earlier snapshot.
	for k, v := range s.state.Sources {
		snap.Sources[k] = v.Clone()
	}
	for k, v := range s.state.Extra {
		snap.Extra[k] = v
	}
	copy(snap.Events, s.events)
	return snap
}

// MarshalJSON serializes the session for storage.
func (s *Session) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Snapshot())
}

// UnmarshalJSON restores a session from storage.
func (s *Session) UnmarshalJSON(data []byte) error {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	s.id = snap.ID
	s.createdAt = snap.CreatedAt
	s.updatedAt = snap.UpdatedAt
	s.state = state{
		URLToShortID:             snap.URLToShortID,
		Sources:                  snap.Sources,
		ResearchEvaluation:       snap.ResearchEvaluation,
		FinalCitedReport:         snap.FinalCitedReport,
		FinalReportWithCitations: snap.FinalReportWithCitations,
		Extra:                    snap.Extra,
	}
	if s.state.URLToShortID == nil {
		s.state.URLToShortID = make(map[string]string)
	}
	if s.state.Sources == nil {
		s.state.Sources = make(map[string]*SourceInfo)
	}
	if s.state.Extra == nil {
		s.state.Extra = make(map[string]string)
	}
	s.events = snap.Events
	return nil
}
