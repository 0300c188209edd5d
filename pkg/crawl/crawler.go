// Package crawl walks the remote API and records every visited resource
// into a snapshot recorder. The walk is sequential and paced by the client;
// it can be interrupted between requests without corrupting anything, since
// the snapshot is only persisted as a whole after the run.
package crawl

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"

	"github.com/igarashi50/w3c-dash-sub000/pkg/snapshot"
	"github.com/igarashi50/w3c-dash-sub000/pkg/w3capi"
)

// DefaultGroupTypes lists the group type indexes crawled when none are
// configured.
var DefaultGroupTypes = []string{"wg", "ig", "cg", "tf", "other"}

type Crawler struct {
	client     *w3capi.Client
	rec        *snapshot.Recorder
	groupTypes []string
}

func New(client *w3capi.Client, rec *snapshot.Recorder, groupTypes []string) *Crawler {
	if len(groupTypes) == 0 {
		groupTypes = DefaultGroupTypes
	}
	return &Crawler{
		client:     client,
		rec:        rec,
		groupTypes: groupTypes,
	}
}

// Run crawls every configured group type index, each group's classification
// graph, and the global affiliations registry. Individual fetch failures are
// recorded as error markers and the walk continues; only cancellation stops
// it.
func (c *Crawler) Run(ctx context.Context) error {
	l := ctxzap.Extract(ctx)

	for _, groupType := range c.groupTypes {
		if err := ctx.Err(); err != nil {
			return err
		}

		indexURL := "/groups/" + groupType
		page, ok := c.fetchPage(ctx, indexURL)
		if !ok {
			l.Warn("crawl: group index not fetchable", zap.String("url", indexURL))
			continue
		}

		links, ok := page.Links.Collection("groups")
		if !ok {
			continue
		}

		l.Info("crawl: walking groups",
			zap.String("groupType", groupType),
			zap.Int("count", len(links)))

		for _, link := range links {
			if err := ctx.Err(); err != nil {
				return err
			}
			c.crawlGroup(ctx, link.Href)
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	c.crawlAffiliationsRegistry(ctx)

	return ctx.Err()
}

func (c *Crawler) crawlGroup(ctx context.Context, href string) {
	var group w3capi.Group
	if !c.fetchResource(ctx, href, &group) {
		return
	}

	if participations, ok := group.Links.Rel("participations"); ok {
		page, ok := c.fetchPage(ctx, participations.Href)
		if !ok {
			return
		}
		if links, ok := page.Links.Collection("participations"); ok {
			for _, link := range links {
				if ctx.Err() != nil {
					return
				}
				c.crawlParticipation(ctx, link.Href)
			}
		}
		return
	}

	if users, ok := group.Links.Rel("users"); ok {
		page, ok := c.fetchPage(ctx, users.Href)
		if !ok {
			return
		}
		if links, ok := page.Links.Collection("users"); ok {
			for _, link := range links {
				if ctx.Err() != nil {
					return
				}
				c.crawlUser(ctx, link.Href)
			}
		}
	}
}

func (c *Crawler) crawlParticipation(ctx context.Context, href string) {
	var participation w3capi.Participation
	if !c.fetchResource(ctx, href, &participation) {
		return
	}

	if participation.Individual {
		if user, ok := participation.Links.Rel("user"); ok {
			c.crawlUser(ctx, user.Href)
		}
		return
	}

	if org, ok := participation.Links.Rel("organization"); ok {
		var orgRecord w3capi.Affiliation
		c.fetchResource(ctx, org.Href, &orgRecord)
	}

	if participants, ok := participation.Links.Rel("participants"); ok {
		page, ok := c.fetchPage(ctx, participants.Href)
		if !ok {
			return
		}
		if links, ok := page.Links.Collection("participants"); ok {
			for _, link := range links {
				if ctx.Err() != nil {
					return
				}
				c.crawlUser(ctx, link.Href)
			}
		}
	}
}

// crawlUser fetches a user's detail record, affiliation graph, and groups
// collection (the latter only feeds the group-count enrichment).
func (c *Crawler) crawlUser(ctx context.Context, href string) {
	if c.rec.Has(href) {
		return
	}

	var user w3capi.User
	if !c.fetchResource(ctx, href, &user) {
		return
	}

	if affiliations, ok := user.Links.Rel("affiliations"); ok {
		if page, ok := c.fetchPage(ctx, affiliations.Href); ok {
			if links, ok := page.Links.Collection("affiliations"); ok {
				for _, link := range links {
					if ctx.Err() != nil {
						return
					}
					var org w3capi.Affiliation
					c.fetchResource(ctx, link.Href, &org)
				}
			}
		}
	}

	if groups, ok := user.Links.Rel("groups"); ok {
		c.fetchPage(ctx, groups.Href)
	}
}

func (c *Crawler) crawlAffiliationsRegistry(ctx context.Context) {
	l := ctxzap.Extract(ctx)

	page, ok := c.fetchPage(ctx, "/affiliations")
	if !ok {
		l.Warn("crawl: affiliations registry not fetchable; summary will fall back to group rollup")
		return
	}

	links, ok := page.Links.Collection("affiliations")
	if !ok {
		return
	}

	l.Info("crawl: walking affiliations registry", zap.Int("count", len(links)))

	for _, link := range links {
		if ctx.Err() != nil {
			return
		}

		var org w3capi.Affiliation
		if !c.fetchResource(ctx, link.Href, &org) {
			continue
		}

		if participants, ok := org.Links.Rel("participants"); ok {
			if page, ok := c.fetchPage(ctx, participants.Href); ok {
				if people, ok := page.Links.Collection("participants"); ok {
					for _, person := range people {
						if ctx.Err() != nil {
							return
						}
						c.crawlUser(ctx, person.Href)
					}
				}
			}
		}
	}
}

// fetchPage fetches a collection with pagination merging, recording the
// merged payload (or an error marker) under the logical URL.
func (c *Crawler) fetchPage(ctx context.Context, rawURL string) (*w3capi.Page, bool) {
	raw, ok := c.fetchRaw(ctx, rawURL, true)
	if !ok {
		return nil, false
	}

	page, err := w3capi.ParsePage(raw)
	if err != nil || page.Links == nil {
		ctxzap.Extract(ctx).Warn("crawl: expected a collection envelope",
			zap.String("url", rawURL))
		return nil, false
	}

	return page, true
}

// fetchResource fetches a detail record and decodes it into target.
func (c *Crawler) fetchResource(ctx context.Context, rawURL string, target any) bool {
	raw, ok := c.fetchRaw(ctx, rawURL, false)
	if !ok {
		return false
	}

	if err := json.Unmarshal(raw, target); err != nil {
		ctxzap.Extract(ctx).Warn("crawl: malformed resource",
			zap.String("url", rawURL),
			zap.Error(err))
		return false
	}

	return true
}

func (c *Crawler) fetchRaw(ctx context.Context, rawURL string, paginated bool) (json.RawMessage, bool) {
	if data, found, ok := c.rec.Data(rawURL); found {
		return data, ok
	}

	var (
		raw json.RawMessage
		err error
	)
	if paginated {
		raw, err = c.client.FetchPaginated(ctx, rawURL)
	} else {
		raw, err = c.client.Fetch(ctx, rawURL)
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, false
		}
		c.recordFailure(ctx, rawURL, err)
		return nil, false
	}

	c.rec.Record(ctx, rawURL, raw)
	return raw, true
}

func (c *Crawler) recordFailure(ctx context.Context, rawURL string, err error) {
	ctxzap.Extract(ctx).Warn("crawl: fetch failed",
		zap.String("url", rawURL),
		zap.Error(err))

	var reqErr *w3capi.RequestError
	if errors.As(err, &reqErr) {
		c.rec.RecordError(ctx, rawURL, reqErr.StatusCode, reqErr.Message)
		return
	}
	c.rec.RecordError(ctx, rawURL, 0, err.Error())
}
