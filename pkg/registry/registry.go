// Package registry keeps the canonical, deduplicated set of skills known to the
// platform. It is read-mostly: registration happens during sync, lookups happen
// on every invocation.
package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/jingkaihe/skillrt/pkg/contract"
	"github.com/jingkaihe/skillrt/pkg/logger"
	"github.com/jingkaihe/skillrt/pkg/skills"
	skilltypes "github.com/jingkaihe/skillrt/pkg/types/skills"
)

// ErrNotFound is returned for ids the registry does not hold
var ErrNotFound = errors.New("skill not found")

type entry struct {
	skill        *skilltypes.SkillContract
	enabled      bool
	incompatible bool
	internal     bool
}

// Registry is an in-memory skill registry safe for concurrent use
type Registry struct {
	mu      sync.RWMutex
	gate    contract.Gate
	entries map[string]*entry
	order   []string
}

// New creates an empty registry that gates registrations with gate
func New(gate contract.Gate) *Registry {
	return &Registry{
		gate:    gate,
		entries: make(map[string]*entry),
	}
}

// Register adds or refreshes an external skill. A skill whose contract version
// is below the platform minimum is still stored, so it can be listed and
// inspected, but it is flagged incompatible and the gate error is returned.
// Re-registering an id keeps its enabled flag.
func (r *Registry) Register(skill *skilltypes.SkillContract) error {
	return r.register(skill, false)
}

// RegisterInternal adds a platform-owned skill. Internal skills are hidden from
// List unless requested and cannot be disabled.
func (r *Registry) RegisterInternal(skill *skilltypes.SkillContract) error {
	return r.register(skill, true)
}

func (r *Registry) register(skill *skilltypes.SkillContract, internal bool) error {
	if skill == nil {
		return errors.New("cannot register a nil skill")
	}
	if strings.TrimSpace(skill.CanonicalID) == "" {
		return errors.New("cannot register a skill without a canonical id")
	}

	stored := skill.Clone()
	if internal {
		stored.Source = skilltypes.SourceInternal
	}
	gateErr := r.gate.Check(stored)
	if gateErr != nil && !contract.IsIncompatible(gateErr) {
		return gateErr
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[stored.CanonicalID]; ok {
		if existing.internal != internal {
			return errors.Errorf("skill %s is already registered as %s", stored.CanonicalID, sourceLabel(existing.internal))
		}
		existing.skill = stored
		existing.incompatible = gateErr != nil
		return gateErr
	}

	r.entries[stored.CanonicalID] = &entry{
		skill:        stored,
		enabled:      true,
		incompatible: gateErr != nil,
		internal:     internal,
	}
	r.order = append(r.order, stored.CanonicalID)
	return gateErr
}

func sourceLabel(internal bool) string {
	if internal {
		return "internal"
	}
	return "external"
}

// Lookup returns a copy of the skill with id. A disabled skill is returned
// with lifecycle status disabled.
func (r *Registry) Lookup(id string) (*skilltypes.SkillContract, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.view(), true
}

func (e *entry) view() *skilltypes.SkillContract {
	s := e.skill.Clone()
	if !e.enabled {
		s.Lifecycle.Status = skilltypes.StatusDisabled
	}
	return s
}

// Compatible reports whether the skill with id passed the contract gate
func (r *Registry) Compatible(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return ok && !e.incompatible
}

// ListOptions filters List
type ListOptions struct {
	IncludeInternal bool
	// IncludeDisabled keeps skills turned off with SetEnabled
	IncludeDisabled bool
	Kind            skilltypes.Kind
	Source          skilltypes.Source
}

// List returns copies of registered skills in registration order
func (r *Registry) List(opts ListOptions) []*skilltypes.SkillContract {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*skilltypes.SkillContract, 0, len(r.order))
	for _, id := range r.order {
		e := r.entries[id]
		if e.internal && !opts.IncludeInternal {
			continue
		}
		if !e.enabled && !opts.IncludeDisabled {
			continue
		}
		if opts.Kind != "" && e.skill.Kind != opts.Kind {
			continue
		}
		if opts.Source != "" && e.skill.Source != opts.Source {
			continue
		}
		out = append(out, e.view())
	}
	return out
}

// SetEnabled turns an external skill on or off. It takes effect for the next Lookup.
func (r *Registry) SetEnabled(id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return errors.Wrapf(ErrNotFound, "skill %s", id)
	}
	if e.internal {
		return errors.Errorf("skill %s is internal and cannot be toggled", id)
	}
	e.enabled = enabled
	return nil
}

// SearchHit is one ranked search result
type SearchHit struct {
	Skill *skilltypes.SkillContract
	Score float64
}

// Search ranks enabled skills by how many query terms appear in their id,
// name, description or category. A term found in the name weighs double.
func (r *Registry) Search(query string, limit int) []SearchHit {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return []SearchHit{}
	}

	r.mu.RLock()
	hits := []SearchHit{}
	for _, id := range r.order {
		e := r.entries[id]
		if !e.enabled {
			continue
		}
		if score := searchScore(e.skill, terms); score > 0 {
			hits = append(hits, SearchHit{Skill: e.view(), Score: score})
		}
	}
	r.mu.RUnlock()

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

func searchScore(s *skilltypes.SkillContract, terms []string) float64 {
	name := strings.ToLower(s.Name + " " + s.CanonicalID)
	rest := strings.ToLower(s.Description + " " + s.Category)
	var score float64
	for _, term := range terms {
		switch {
		case strings.Contains(name, term):
			score += 2
		case strings.Contains(rest, term):
			score++
		}
	}
	return score / float64(2*len(terms))
}

// Stats aggregates the registry contents
type Stats struct {
	Total        int                       `json:"total"`
	Enabled      int                       `json:"enabled"`
	Disabled     int                       `json:"disabled"`
	Internal     int                       `json:"internal"`
	Incompatible int                       `json:"incompatible"`
	Merged       int                       `json:"merged"`
	ByKind       map[skilltypes.Kind]int   `json:"byKind"`
	BySource     map[skilltypes.Source]int `json:"bySource"`
	ByStatus     map[skilltypes.Status]int `json:"byStatus"`
}

// Stats returns aggregate counts. Merged counts ids folded into canonical skills.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st := Stats{
		ByKind:   make(map[skilltypes.Kind]int),
		BySource: make(map[skilltypes.Source]int),
		ByStatus: make(map[skilltypes.Status]int),
	}
	for _, e := range r.entries {
		st.Total++
		if e.enabled {
			st.Enabled++
		} else {
			st.Disabled++
		}
		if e.internal {
			st.Internal++
		}
		if e.incompatible {
			st.Incompatible++
		}
		st.Merged += len(e.skill.MergedFrom)
		st.ByKind[e.skill.Kind]++
		st.BySource[e.skill.Source]++
		status := e.skill.Lifecycle.Status.Normalize()
		if !e.enabled {
			status = skilltypes.StatusDisabled
		}
		st.ByStatus[status]++
	}
	return st
}

// SyncReport summarizes one Sync call
type SyncReport struct {
	Registered   []string          `json:"registered"`
	Incompatible []string          `json:"incompatible"`
	Failed       map[string]string `json:"failed,omitempty"`
	// Renamed maps a suffixed id to the id its skill collided on
	Renamed    map[string]string       `json:"renamed,omitempty"`
	Candidates []skills.MergeCandidate `json:"-"`
	Merged     int                     `json:"merged"`
}

// Sync deduplicates a normalized batch and registers every canonical survivor.
// Failures are reported per skill and never abort the batch. A survivor whose
// id was already taken earlier in the batch is registered under the first free
// "<id>-<n>" suffix, so the first-seen skill keeps the plain id.
func (r *Registry) Sync(ctx context.Context, records []*skilltypes.SkillContract, threshold float64) SyncReport {
	dedup := skills.Deduplicate(ctx, records, threshold)
	report := SyncReport{
		Registered:   []string{},
		Incompatible: []string{},
		Failed:       map[string]string{},
		Renamed:      map[string]string{},
		Candidates:   dedup.Candidates,
	}
	for _, c := range dedup.Candidates {
		report.Merged += len(c.Duplicates)
	}

	log := logger.G(ctx)
	taken := make(map[string]bool, len(dedup.Canonical))
	for _, skill := range dedup.Canonical {
		if taken[skill.CanonicalID] {
			original := skill.CanonicalID
			skill = skill.Clone()
			skill.CanonicalID = freeID(original, taken)
			report.Renamed[skill.CanonicalID] = original
			log.WithField("canonical_id", original).
				WithField("renamed_to", skill.CanonicalID).
				WithField("origin", skill.SourceInfo.Origin).
				Warn("canonical id collision, registering under a suffixed id")
		}
		taken[skill.CanonicalID] = true

		err := r.Register(skill)
		switch {
		case err == nil:
			report.Registered = append(report.Registered, skill.CanonicalID)
		case contract.IsIncompatible(err):
			report.Incompatible = append(report.Incompatible, skill.CanonicalID)
			log.WithError(err).WithField("canonical_id", skill.CanonicalID).Warn("registered incompatible skill")
		default:
			report.Failed[skill.CanonicalID] = err.Error()
			log.WithError(err).WithField("canonical_id", skill.CanonicalID).Error("failed to register skill")
		}
	}

	log.WithField("registered", len(report.Registered)).
		WithField("incompatible", len(report.Incompatible)).
		WithField("merged", report.Merged).
		Info("skill registry synced")
	return report
}

func freeID(id string, taken map[string]bool) string {
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s-%d", id, n)
		if !taken[candidate] {
			return candidate
		}
	}
}
