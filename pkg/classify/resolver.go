package classify

import (
	"context"
	"encoding/json"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"

	"github.com/igarashi50/w3c-dash-sub000/pkg/snapshot"
	"github.com/igarashi50/w3c-dash-sub000/pkg/w3capi"
)

// AffiliationResult reports a user-or-org's resolved affiliation status.
// IsInvitedExpert is never set by the resolver: invited-expert status is a
// property of the participation or user record, not of affiliation
// membership, and is determined by the classifier.
type AffiliationResult struct {
	IsMember        bool
	IsStaff         bool
	IsInvitedExpert bool
	// Affiliations are the resolved organization names, in collection order.
	Affiliations []string
	// MemberOrgs are the names of member organizations, staff excluded.
	MemberOrgs []string
}

// Resolver answers affiliation questions against the snapshot. All lookups
// are synchronous map reads; failures resolve to partial results, never to
// errors, since upstream data is routinely incomplete.
type Resolver struct {
	store *snapshot.Store
}

func NewResolver(store *snapshot.Store) *Resolver {
	return &Resolver{store: store}
}

// CheckAffiliations resolves the affiliations collection at the given href
// and derives membership and staff status from the organizations it links.
// Unresolvable organizations are skipped with a warning.
func (r *Resolver) CheckAffiliations(ctx context.Context, affiliationsHref string) AffiliationResult {
	l := ctxzap.Extract(ctx)
	res := AffiliationResult{}

	if affiliationsHref == "" {
		return res
	}

	page, ok := r.Page(ctx, affiliationsHref)
	if !ok {
		return res
	}

	links, ok := page.Links.Collection("affiliations")
	if !ok {
		return res
	}

	for _, link := range links {
		org, ok := r.Affiliation(ctx, link.Href)
		if !ok {
			l.Warn("classify: affiliation organization not resolvable, skipping",
				zap.String("org", link.Href),
				zap.String("collection", affiliationsHref))
			continue
		}

		name := org.Name
		if name == "" {
			name = link.Title
		}
		res.Affiliations = append(res.Affiliations, name)

		if name == StaffOrgName {
			res.IsStaff = true
			continue
		}
		if org.IsMember {
			res.IsMember = true
			res.MemberOrgs = append(res.MemberOrgs, name)
		}
	}

	return res
}

// Page resolves a URL to a pagination envelope.
func (r *Resolver) Page(ctx context.Context, href string) (*w3capi.Page, bool) {
	var page w3capi.Page
	if !r.decode(ctx, href, &page) {
		return nil, false
	}
	return &page, true
}

// Group resolves a group detail record.
func (r *Resolver) Group(ctx context.Context, href string) (*w3capi.Group, bool) {
	var group w3capi.Group
	if !r.decode(ctx, href, &group) {
		return nil, false
	}
	return &group, true
}

// Participation resolves a participation detail record.
func (r *Resolver) Participation(ctx context.Context, href string) (*w3capi.Participation, bool) {
	var participation w3capi.Participation
	if !r.decode(ctx, href, &participation) {
		return nil, false
	}
	return &participation, true
}

// Affiliation resolves an organization record.
func (r *Resolver) Affiliation(ctx context.Context, href string) (*w3capi.Affiliation, bool) {
	var affiliation w3capi.Affiliation
	if !r.decode(ctx, href, &affiliation) {
		return nil, false
	}
	return &affiliation, true
}

// User resolves a user detail record.
func (r *Resolver) User(ctx context.Context, href string) (*w3capi.User, bool) {
	var user w3capi.User
	if !r.decode(ctx, href, &user) {
		return nil, false
	}
	return &user, true
}

func (r *Resolver) decode(ctx context.Context, href string, target any) bool {
	if href == "" {
		return false
	}

	raw := r.store.Get(ctx, href)
	if raw == nil {
		return false
	}

	if err := json.Unmarshal(raw, target); err != nil {
		ctxzap.Extract(ctx).Warn("classify: malformed snapshot payload",
			zap.String("url", href),
			zap.Error(err))
		return false
	}

	return true
}

// CollectionLen resolves a collection URL purely for its item count; any
// failure counts as zero.
func (r *Resolver) CollectionLen(ctx context.Context, href, key string) int {
	page, ok := r.Page(ctx, href)
	if !ok {
		return 0
	}
	links, ok := page.Links.Collection(key)
	if !ok {
		return 0
	}
	return len(links)
}
