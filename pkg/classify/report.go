package classify

import (
	"context"
	"fmt"
	"time"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"

	"github.com/igarashi50/w3c-dash-sub000/pkg/snapshot"
	"github.com/igarashi50/w3c-dash-sub000/pkg/w3capi"
)

// Report is the final structure handed to presentation: every group's
// classification plus the global summary.
type Report struct {
	GeneratedAt time.Time    `json:"generatedAt"`
	Groups      []*GroupInfo `json:"groups"`
	Summary     *Summary     `json:"summary"`
}

// BuildReport classifies every group found in the snapshot's group index,
// builds the global summary, and runs the group-count enrichment pass. It
// fails only when the snapshot contains no group index at all.
func BuildReport(ctx context.Context, store *snapshot.Store) (*Report, error) {
	l := ctxzap.Extract(ctx)

	c := NewClassifier(store)

	groups := c.GroupIndex(ctx)
	if len(groups) == 0 {
		return nil, fmt.Errorf("w3c-dash: snapshot contains no group index")
	}

	infos := make([]*GroupInfo, 0, len(groups))
	for _, link := range groups {
		infos = append(infos, c.ClassifyGroup(ctx, link))
	}

	summary := c.Summarize(ctx, infos)
	c.EnrichNumGroups(ctx, infos, summary)

	l.Info("classify: report built",
		zap.Int("groups", len(infos)),
		zap.Int("summaryParticipants", summary.AllParticipants.Len()),
		zap.Bool("fromGroupRollup", summary.FromGroupRollup))

	return &Report{
		GeneratedAt: time.Now().UTC(),
		Groups:      infos,
		Summary:     summary,
	}, nil
}

// GroupIndex collects the group links from every index page stored in the
// groups namespace, deduplicated by href. Index pages are visited in sorted
// URL order, so the result is stable for a given snapshot.
func (c *Classifier) GroupIndex(ctx context.Context) []w3capi.Link {
	seen := make(map[string]struct{})
	var out []w3capi.Link

	for _, u := range c.store.URLs(snapshot.CategoryGroups) {
		page, ok := c.resolver.Page(ctx, u)
		if !ok {
			continue
		}
		links, ok := page.Links.Collection("groups")
		if !ok {
			continue
		}
		for _, link := range links {
			if _, dup := seen[link.Href]; dup {
				continue
			}
			seen[link.Href] = struct{}{}
			out = append(out, link)
		}
	}

	return out
}

// EnrichNumGroups fills NumGroups on every classified participant by
// counting the user's own groups collection. This is best-effort
// enrichment layered after classification: a user whose groups collection
// cannot be resolved keeps a zero count and stays in its bucket.
func (c *Classifier) EnrichNumGroups(ctx context.Context, infos []*GroupInfo, summary *Summary) {
	counts := make(map[string]int)
	countFor := func(href string) int {
		if n, ok := counts[href]; ok {
			return n
		}
		n := 0
		if user, ok := c.resolver.User(ctx, href); ok {
			if groupsLink, ok := user.Links.Rel("groups"); ok {
				n = c.resolver.CollectionLen(ctx, groupsLink.Href, "groups")
			}
		}
		counts[href] = n
		return n
	}

	apply := func(set *ParticipantSet) {
		for _, href := range set.Hrefs() {
			set.SetNumGroups(href, countFor(href))
		}
	}

	for _, info := range infos {
		for _, set := range info.buckets() {
			apply(set)
		}
	}
	if summary != nil {
		for _, set := range summary.buckets() {
			apply(set)
		}
	}
}
