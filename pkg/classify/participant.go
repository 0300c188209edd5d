// Package classify reconstructs, from a fetched snapshot, the classification
// of each group's participants into membership categories: member
// organizations, invited experts, W3C staff, and unaffiliated individuals.
package classify

import "encoding/json"

// Organization name sentinels used by the upstream data.
const (
	StaffOrgName          = "W3C"
	InvitedExpertsOrgName = "W3C Invited Experts"
)

// Participant is a derived record for one person in a classification bucket.
// Identity is the user href; NumGroups is best-effort enrichment and defaults
// to zero when the user's groups collection cannot be resolved.
type Participant struct {
	UserHref  string `json:"userHref"`
	Name      string `json:"name"`
	NumGroups int    `json:"numGroups"`
}

// ParticipantSet is an insertion-ordered set of participants keyed by user
// href. It is the explicit dedup contract for classification buckets: within
// one set a user href appears at most once, and iteration order is the order
// of first insertion.
type ParticipantSet struct {
	hrefs  []string
	byHref map[string]Participant
}

func NewParticipantSet() *ParticipantSet {
	return &ParticipantSet{byHref: make(map[string]Participant)}
}

// Add inserts the participant unless its user href is already present. It
// reports whether the set changed.
func (s *ParticipantSet) Add(p Participant) bool {
	if _, ok := s.byHref[p.UserHref]; ok {
		return false
	}
	s.hrefs = append(s.hrefs, p.UserHref)
	s.byHref[p.UserHref] = p
	return true
}

// AddAll inserts every participant from other, preserving its order.
func (s *ParticipantSet) AddAll(other *ParticipantSet) {
	if other == nil {
		return
	}
	for _, href := range other.hrefs {
		s.Add(other.byHref[href])
	}
}

// Remove deletes the participant with the given href, reporting whether it
// was present.
func (s *ParticipantSet) Remove(href string) bool {
	if _, ok := s.byHref[href]; !ok {
		return false
	}
	delete(s.byHref, href)
	for i, h := range s.hrefs {
		if h == href {
			s.hrefs = append(s.hrefs[:i], s.hrefs[i+1:]...)
			break
		}
	}
	return true
}

func (s *ParticipantSet) Has(href string) bool {
	_, ok := s.byHref[href]
	return ok
}

func (s *ParticipantSet) Get(href string) (Participant, bool) {
	p, ok := s.byHref[href]
	return p, ok
}

func (s *ParticipantSet) Len() int {
	return len(s.hrefs)
}

// Participants returns the members in insertion order.
func (s *ParticipantSet) Participants() []Participant {
	out := make([]Participant, 0, len(s.hrefs))
	for _, href := range s.hrefs {
		out = append(out, s.byHref[href])
	}
	return out
}

// Hrefs returns the member hrefs in insertion order.
func (s *ParticipantSet) Hrefs() []string {
	out := make([]string, len(s.hrefs))
	copy(out, s.hrefs)
	return out
}

// SetNumGroups updates the stored participant's group count in place.
func (s *ParticipantSet) SetNumGroups(href string, n int) {
	if p, ok := s.byHref[href]; ok {
		p.NumGroups = n
		s.byHref[href] = p
	}
}

// Intersection returns the hrefs present in both sets, in this set's order.
func (s *ParticipantSet) Intersection(other *ParticipantSet) []string {
	if other == nil {
		return nil
	}
	var out []string
	for _, href := range s.hrefs {
		if other.Has(href) {
			out = append(out, href)
		}
	}
	return out
}

// MarshalJSON renders the set as an array in insertion order.
func (s *ParticipantSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Participants())
}

// UnmarshalJSON rebuilds the set from an array, deduplicating by href.
func (s *ParticipantSet) UnmarshalJSON(data []byte) error {
	var participants []Participant
	if err := json.Unmarshal(data, &participants); err != nil {
		return err
	}
	s.hrefs = nil
	s.byHref = make(map[string]Participant, len(participants))
	for _, p := range participants {
		s.Add(p)
	}
	return nil
}
