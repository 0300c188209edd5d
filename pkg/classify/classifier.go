package classify

import (
	"context"
	"net/url"
	"strings"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"

	"github.com/igarashi50/w3c-dash-sub000/pkg/snapshot"
	"github.com/igarashi50/w3c-dash-sub000/pkg/w3capi"
)

// Classifier walks a snapshot and buckets each group's participants by
// affiliation type. It performs no I/O; every lookup is a synchronous read
// against the snapshot, and any single unresolvable entry is skipped with a
// log, never aborting the enclosing group.
type Classifier struct {
	store    *snapshot.Store
	resolver *Resolver
}

func NewClassifier(store *snapshot.Store) *Classifier {
	return &Classifier{
		store:    store,
		resolver: NewResolver(store),
	}
}

// Resolver exposes the classifier's snapshot resolver.
func (c *Classifier) Resolver() *Resolver {
	return c.resolver
}

// ClassifyGroup classifies one group. Groups carrying a participations link
// classify through it; groups with only a users link classify through the
// users fallback and are flagged as exceptions. A group whose detail record
// cannot be resolved yields an empty GroupInfo carrying an error marker.
func (c *Classifier) ClassifyGroup(ctx context.Context, groupLink w3capi.Link) *GroupInfo {
	l := ctxzap.Extract(ctx)

	group, ok := c.resolver.Group(ctx, groupLink.Href)
	if !ok {
		l.Warn("classify: group detail not resolvable",
			zap.String("group", groupLink.Href))
		info := newGroupInfo(displayName(groupLink.Title, groupLink.Href), groupTypeOf("", groupLink.Href))
		info.Err = "group detail not resolvable"
		return info
	}

	info := newGroupInfo(displayName(group.Name, groupLink.Href), groupTypeOf(group.Type, groupLink.Href))
	if homepage, ok := group.Links.Rel("homepage"); ok {
		info.Homepage = homepage.Href
	}

	if participations, ok := group.Links.Rel("participations"); ok {
		c.classifyParticipations(ctx, info, participations.Href)
	} else if users, ok := group.Links.Rel("users"); ok {
		info.IsException = true
		c.classifyUsers(ctx, info, users.Href)
	} else {
		l.Warn("classify: group has neither participations nor users link",
			zap.String("group", groupLink.Href))
	}

	info.finalize()
	info.checkConsistency(ctx)

	return info
}

// classifyParticipations is the participation-based path: each participation
// is processed by exactly one of the organization-seat or person-seat
// branches, according to its individual flag.
func (c *Classifier) classifyParticipations(ctx context.Context, info *GroupInfo, href string) {
	l := ctxzap.Extract(ctx)

	page, ok := c.resolver.Page(ctx, href)
	if !ok {
		l.Warn("classify: participations collection not resolvable",
			zap.String("group", info.Name),
			zap.String("url", href))
		return
	}

	entries, ok := page.Links.Collection("participations")
	if !ok {
		return
	}

	for _, entry := range entries {
		participation, ok := c.resolver.Participation(ctx, entry.Href)
		if !ok {
			l.Warn("classify: participation not resolvable, skipping",
				zap.String("group", info.Name),
				zap.String("participation", entry.Href))
			continue
		}

		if participation.Individual {
			c.classifyPersonSeat(ctx, info, entry.Href, participation)
		} else {
			c.classifyOrgSeat(ctx, info, entry.Href, participation)
		}
	}
}

// classifyOrgSeat handles a participation held by an organization: member
// organizations contribute their seat holders to the member buckets, others
// are skipped. WG/IG seats are expected to be member organizations, so a
// non-member seat there is logged as an upstream anomaly; in other group
// types the same shape is routine.
func (c *Classifier) classifyOrgSeat(ctx context.Context, info *GroupInfo, pHref string, p *w3capi.Participation) {
	l := ctxzap.Extract(ctx)

	orgLink, ok := p.Links.Rel("organization")
	if !ok {
		l.Warn("classify: organization participation without organization link, skipping",
			zap.String("group", info.Name),
			zap.String("participation", pHref))
		return
	}

	org, ok := c.resolver.Affiliation(ctx, orgLink.Href)
	if !ok {
		l.Warn("classify: organization not resolvable, skipping participation",
			zap.String("group", info.Name),
			zap.String("org", orgLink.Href))
		return
	}

	orgTitle := displayName(org.Name, orgLink.Title)
	if !org.IsMember {
		if info.GroupType.expectsMemberSeats() {
			l.Warn("classify: non-member organization holds a seat",
				zap.String("group", info.Name),
				zap.String("groupType", string(info.GroupType)),
				zap.String("org", orgTitle))
		} else {
			l.Debug("classify: skipping non-member organization seat",
				zap.String("group", info.Name),
				zap.String("org", orgTitle))
		}
		return
	}

	participantsLink, ok := p.Links.Rel("participants")
	if !ok {
		l.Debug("classify: member seat without participants link",
			zap.String("group", info.Name),
			zap.String("org", orgTitle))
		return
	}

	page, ok := c.resolver.Page(ctx, participantsLink.Href)
	if !ok {
		l.Warn("classify: seat participants not resolvable",
			zap.String("group", info.Name),
			zap.String("org", orgTitle),
			zap.String("url", participantsLink.Href))
		return
	}

	links, ok := page.Links.Collection("participants")
	if !ok {
		return
	}

	bucket := info.orgBucket(orgTitle)
	for _, link := range links {
		participant := c.makeParticipant(ctx, link)
		bucket.Add(participant)
		info.MemberParticipants.Add(participant)
	}
}

// classifyPersonSeat handles a participation held by a person. The
// participation's own invited-expert flag wins; otherwise the person's
// affiliations decide the bucket with staff taking precedence over member
// over individual.
func (c *Classifier) classifyPersonSeat(ctx context.Context, info *GroupInfo, pHref string, p *w3capi.Participation) {
	l := ctxzap.Extract(ctx)

	userLink, ok := p.Links.Rel("user")
	if !ok {
		l.Warn("classify: individual participation without user link, skipping",
			zap.String("group", info.Name),
			zap.String("participation", pHref))
		return
	}

	participant := c.makeParticipant(ctx, userLink)

	if p.InvitedExpert {
		info.InvitedExperts.Add(participant)
		return
	}

	user, ok := c.resolver.User(ctx, userLink.Href)
	if !ok {
		l.Debug("classify: user detail not resolvable, skipping",
			zap.String("group", info.Name),
			zap.String("user", userLink.Href))
		return
	}

	affiliationsLink, ok := user.Links.Rel("affiliations")
	if !ok {
		// Expected for pure individual participants.
		l.Debug("classify: user has no affiliations link",
			zap.String("group", info.Name),
			zap.String("user", userLink.Href))
		return
	}

	res := c.resolver.CheckAffiliations(ctx, affiliationsLink.Href)
	switch {
	case res.IsStaff:
		info.Staffs.Add(participant)
	case res.IsMember:
		if info.GroupType.expectsMemberSeats() {
			// Members of WG/IG groups should arrive through their
			// organization's seat, not as individual participations.
			l.Warn("classify: member classified via individual participation",
				zap.String("group", info.Name),
				zap.String("groupType", string(info.GroupType)),
				zap.String("user", userLink.Href))
		}
		info.MemberParticipants.Add(participant)
		info.orgBucket(res.MemberOrgs[0]).Add(participant)
	default:
		info.Individuals.Add(participant)
	}
}

// classifyUsers is the users-based fallback path for groups without a
// participations link.
func (c *Classifier) classifyUsers(ctx context.Context, info *GroupInfo, href string) {
	l := ctxzap.Extract(ctx)

	page, ok := c.resolver.Page(ctx, href)
	if !ok {
		l.Warn("classify: users collection not resolvable",
			zap.String("group", info.Name),
			zap.String("url", href))
		return
	}

	entries, ok := page.Links.Collection("users")
	if !ok {
		return
	}

	for _, link := range entries {
		participant := c.makeParticipant(ctx, link)

		var res AffiliationResult
		invitedExpert := false
		if user, ok := c.resolver.User(ctx, link.Href); ok {
			invitedExpert = user.InvitedExpert
			if affiliationsLink, ok := user.Links.Rel("affiliations"); ok {
				res = c.resolver.CheckAffiliations(ctx, affiliationsLink.Href)
			}
		}

		switch {
		case res.IsMember:
			if len(res.Affiliations) != 1 {
				// Ambiguous organization attribution is unclassifiable on
				// this path, not an error.
				l.Warn("classify: member user with multiple affiliations, skipping",
					zap.String("group", info.Name),
					zap.String("user", link.Href),
					zap.Int("affiliations", len(res.Affiliations)))
				continue
			}
			info.orgBucket(res.Affiliations[0]).Add(participant)
			info.MemberParticipants.Add(participant)
		case invitedExpert:
			if info.GroupType.expectsMemberSeats() {
				l.Warn("classify: invited expert classified via users fallback",
					zap.String("group", info.Name),
					zap.String("groupType", string(info.GroupType)),
					zap.String("user", link.Href))
			}
			info.InvitedExperts.Add(participant)
		case res.IsStaff:
			info.Staffs.Add(participant)
		default:
			if info.GroupType == GroupTypeWG {
				l.Warn("classify: unaffiliated individual in a working group",
					zap.String("group", info.Name),
					zap.String("user", link.Href))
			}
			info.Individuals.Add(participant)
		}
	}
}

// makeParticipant builds a participant from a user link. NumGroups stays
// zero here; it is filled by the enrichment pass so classification never
// depends on that lookup succeeding.
func (c *Classifier) makeParticipant(ctx context.Context, link w3capi.Link) Participant {
	name := link.Title
	if name == "" {
		if user, ok := c.resolver.User(ctx, link.Href); ok {
			name = user.Name
		}
	}

	return Participant{
		UserHref: link.Href,
		Name:     name,
	}
}

// displayName returns the first non-empty name.
func displayName(name, fallback string) string {
	if name != "" {
		return name
	}
	return fallback
}

// groupTypeOf normalizes the group type from the record's discriminator,
// falling back to the path segment after "groups" in the group's href.
func groupTypeOf(recordType, href string) GroupType {
	if recordType != "" {
		return ParseGroupType(recordType)
	}

	u, err := url.Parse(href)
	if err != nil {
		return GroupTypeOther
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, segment := range segments {
		if segment == "groups" && i+1 < len(segments) {
			return ParseGroupType(segments[i+1])
		}
	}

	return GroupTypeOther
}
