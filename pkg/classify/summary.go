package classify

import (
	"context"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"

	"github.com/igarashi50/w3c-dash-sub000/pkg/snapshot"
	"github.com/igarashi50/w3c-dash-sub000/pkg/w3capi"
)

// SummaryName is the display name of the global aggregate.
const SummaryName = "All groups"

// Summary is the GroupInfo-shaped aggregate over every group. When the
// global affiliations registry is absent from the snapshot the summary is
// derived by unioning the per-group buckets instead, which FromGroupRollup
// reports so consumers can flag the reduced fidelity.
type Summary struct {
	GroupInfo
	FromGroupRollup bool `json:"isOnlyGroupParticipations"`
}

// Summarize builds the global summary, preferring the authoritative
// affiliations registry over the per-group rollup.
func (c *Classifier) Summarize(ctx context.Context, infos []*GroupInfo) *Summary {
	l := ctxzap.Extract(ctx)

	registry, ok := c.findAffiliationsRegistry(ctx)
	if !ok {
		l.Warn("classify: affiliations registry unavailable, building summary from group rollup")
		return c.rollupSummary(ctx, infos)
	}

	return c.authoritativeSummary(ctx, registry)
}

// findAffiliationsRegistry locates the global affiliations index in the
// snapshot: the affiliations-namespace entry carrying an affiliations
// collection.
func (c *Classifier) findAffiliationsRegistry(ctx context.Context) (*w3capi.Page, bool) {
	for _, u := range c.store.URLs(snapshot.CategoryAffiliations) {
		page, ok := c.resolver.Page(ctx, u)
		if !ok {
			continue
		}
		if _, ok := page.Links.Collection("affiliations"); ok {
			return page, true
		}
	}
	return nil, false
}

// authoritativeSummary buckets each registered organization's participants
// directly: the "W3C" organization holds staff, the "W3C Invited Experts"
// pseudo-organization holds invited experts, member organizations hold
// members, everything else holds individuals.
func (c *Classifier) authoritativeSummary(ctx context.Context, registry *w3capi.Page) *Summary {
	l := ctxzap.Extract(ctx)

	s := &Summary{GroupInfo: *newGroupInfo(SummaryName, GroupTypeOther)}

	links, _ := registry.Links.Collection("affiliations")
	for _, link := range links {
		org, ok := c.resolver.Affiliation(ctx, link.Href)
		if !ok {
			l.Warn("classify: registry organization not resolvable, skipping",
				zap.String("org", link.Href))
			continue
		}

		name := displayName(org.Name, link.Title)
		participants := c.orgParticipants(ctx, org)

		switch {
		case name == StaffOrgName:
			s.Staffs.AddAll(participants)
		case name == InvitedExpertsOrgName:
			s.InvitedExperts.AddAll(participants)
		case org.IsMember:
			s.orgBucket(name).AddAll(participants)
			s.MemberParticipants.AddAll(participants)
		default:
			s.Individuals.AddAll(participants)
		}
	}

	// Invited experts who also hold a personal affiliation record must not
	// double-count as plain individuals.
	removed := 0
	for _, href := range s.Individuals.Intersection(s.InvitedExperts) {
		s.Individuals.Remove(href)
		removed++
	}
	if removed > 0 {
		l.Info("classify: removed invited experts from summary individuals",
			zap.Int("removed", removed))
	}

	s.finalize()
	s.checkConsistency(ctx)

	return s
}

// orgParticipants resolves an organization's participants collection into a
// set; resolution failure yields an empty set.
func (c *Classifier) orgParticipants(ctx context.Context, org *w3capi.Affiliation) *ParticipantSet {
	set := NewParticipantSet()

	link, ok := org.Links.Rel("participants")
	if !ok {
		return set
	}

	page, ok := c.resolver.Page(ctx, link.Href)
	if !ok {
		ctxzap.Extract(ctx).Warn("classify: organization participants not resolvable",
			zap.String("org", org.Name),
			zap.String("url", link.Href))
		return set
	}

	links, ok := page.Links.Collection("participants")
	if !ok {
		return set
	}

	for _, l := range links {
		set.Add(c.makeParticipant(ctx, l))
	}

	return set
}

// rollupSummary unions the per-group buckets, each deduplicated
// independently by user href.
func (c *Classifier) rollupSummary(ctx context.Context, infos []*GroupInfo) *Summary {
	s := &Summary{
		GroupInfo:       *newGroupInfo(SummaryName, GroupTypeOther),
		FromGroupRollup: true,
	}

	for _, info := range infos {
		for _, org := range info.OrgNames() {
			s.orgBucket(org).AddAll(info.Members[org])
		}
		s.MemberParticipants.AddAll(info.MemberParticipants)
		s.InvitedExperts.AddAll(info.InvitedExperts)
		s.Staffs.AddAll(info.Staffs)
		s.Individuals.AddAll(info.Individuals)
	}

	s.finalize()
	s.checkConsistency(ctx)

	return s
}
