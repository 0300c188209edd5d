package classify

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/igarashi50/w3c-dash-sub000/pkg/snapshot"
)

// storeFor seals a url→payload fixture into an immutable snapshot store.
func storeFor(t *testing.T, fixture map[string]any) *snapshot.Store {
	t.Helper()

	rec := snapshot.NewRecorder()
	for u, payload := range fixture {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		rec.Record(context.Background(), u, data)
	}
	return rec.Store()
}

func link(href, title string) map[string]any {
	l := map[string]any{"href": href}
	if title != "" {
		l["title"] = title
	}
	return l
}

func page(links map[string]any) map[string]any {
	return map[string]any{
		"page":   1,
		"limit":  500,
		"pages":  1,
		"total":  1,
		"_links": links,
	}
}

func hrefs(s *ParticipantSet) []string {
	return s.Hrefs()
}

// memberGroupFixture is the §8 base scenario: a working group with one
// organization seat held by a member organization.
func memberGroupFixture(isMember bool) map[string]any {
	return map[string]any{
		"/groups/wg": page(map[string]any{
			"groups": []any{link("/groups/wg/g1", "G1")},
		}),
		"/groups/wg/g1": map[string]any{
			"name": "G1",
			"type": "working group",
			"_links": map[string]any{
				"participations": link("/groups/wg/g1/participations", ""),
				"homepage":       link("https://www.w3.org/groups/wg/g1/", ""),
			},
		},
		"/groups/wg/g1/participations": page(map[string]any{
			"participations": []any{link("/participations/p1", "Acme Corp")},
		}),
		"/participations/p1": map[string]any{
			"individual":     false,
			"invited-expert": false,
			"_links": map[string]any{
				"organization": link("/affiliations/100", "Acme Corp"),
				"participants": link("/participations/p1/participants", ""),
			},
		},
		"/affiliations/100": map[string]any{
			"name":      "Acme Corp",
			"is-member": isMember,
		},
		"/participations/p1/participants": page(map[string]any{
			"participants": []any{link("/users/1", "Alice")},
		}),
	}
}

func classifyFirstGroup(t *testing.T, store *snapshot.Store) *GroupInfo {
	t.Helper()

	c := NewClassifier(store)
	groups := c.GroupIndex(context.Background())
	require.NotEmpty(t, groups)
	return c.ClassifyGroup(context.Background(), groups[0])
}

func TestClassifyMemberOrganizationSeat(t *testing.T) {
	store := storeFor(t, memberGroupFixture(true))
	info := classifyFirstGroup(t, store)

	assert.Equal(t, "G1", info.Name)
	assert.Equal(t, GroupTypeWG, info.GroupType)
	assert.False(t, info.IsException)
	assert.Empty(t, info.Err)

	require.Contains(t, info.Members, "Acme Corp")
	assert.Equal(t, []string{"/users/1"}, hrefs(info.Members["Acme Corp"]))
	assert.Equal(t, []string{"/users/1"}, hrefs(info.MemberParticipants))

	alice, ok := info.MemberParticipants.Get("/users/1")
	require.True(t, ok)
	assert.Equal(t, "Alice", alice.Name)

	assert.Zero(t, info.InvitedExperts.Len())
	assert.Zero(t, info.Staffs.Len())
	assert.Zero(t, info.Individuals.Len())
	assert.Equal(t, []string{"/users/1"}, hrefs(info.AllParticipants))
}

func TestClassifyNonMemberOrganizationSeatSkipped(t *testing.T) {
	store := storeFor(t, memberGroupFixture(false))
	info := classifyFirstGroup(t, store)

	assert.Empty(t, info.Members)
	assert.Zero(t, info.MemberParticipants.Len())
	assert.Zero(t, info.AllParticipants.Len())
}

func TestClassifyInvitedExpertSeat(t *testing.T) {
	fixture := memberGroupFixture(true)
	fixture["/groups/wg/g1/participations"] = page(map[string]any{
		"participations": []any{link("/participations/p2", "Bob")},
	})
	fixture["/participations/p2"] = map[string]any{
		"individual":     true,
		"invited-expert": true,
		"_links": map[string]any{
			"user": link("/users/2", "Bob"),
		},
	}

	info := classifyFirstGroup(t, storeFor(t, fixture))

	assert.Equal(t, []string{"/users/2"}, hrefs(info.InvitedExperts))
	assert.Zero(t, info.Individuals.Len())
	assert.Zero(t, info.MemberParticipants.Len())
}

func TestClassifyStaffPrecedence(t *testing.T) {
	fixture := memberGroupFixture(true)
	fixture["/groups/wg/g1/participations"] = page(map[string]any{
		"participations": []any{link("/participations/p3", "Carol")},
	})
	fixture["/participations/p3"] = map[string]any{
		"individual":     true,
		"invited-expert": false,
		"_links": map[string]any{
			"user": link("/users/3", "Carol"),
		},
	}
	fixture["/users/3"] = map[string]any{
		"name": "Carol",
		"_links": map[string]any{
			"affiliations": link("/users/3/affiliations", ""),
		},
	}
	fixture["/users/3/affiliations"] = page(map[string]any{
		"affiliations": []any{
			link("/affiliations/1", "W3C"),
			link("/affiliations/100", "Acme Corp"),
		},
	})
	fixture["/affiliations/1"] = map[string]any{
		"name":      "W3C",
		"is-member": false,
	}

	info := classifyFirstGroup(t, storeFor(t, fixture))

	// A user affiliated with the W3C organization is staff, member
	// affiliations notwithstanding.
	assert.Equal(t, []string{"/users/3"}, hrefs(info.Staffs))
	assert.Zero(t, info.Individuals.Len())
	assert.Zero(t, info.MemberParticipants.Len())
	assert.Empty(t, info.Members)
}

func TestClassifyMemberViaIndividualParticipation(t *testing.T) {
	fixture := memberGroupFixture(true)
	fixture["/groups/wg/g1/participations"] = page(map[string]any{
		"participations": []any{link("/participations/p4", "Dave")},
	})
	fixture["/participations/p4"] = map[string]any{
		"individual":     true,
		"invited-expert": false,
		"_links": map[string]any{
			"user": link("/users/4", "Dave"),
		},
	}
	fixture["/users/4"] = map[string]any{
		"name": "Dave",
		"_links": map[string]any{
			"affiliations": link("/users/4/affiliations", ""),
		},
	}
	fixture["/users/4/affiliations"] = page(map[string]any{
		"affiliations": []any{link("/affiliations/100", "Acme Corp")},
	})

	info := classifyFirstGroup(t, storeFor(t, fixture))

	assert.Equal(t, []string{"/users/4"}, hrefs(info.MemberParticipants))
	require.Contains(t, info.Members, "Acme Corp")
	assert.Equal(t, []string{"/users/4"}, hrefs(info.Members["Acme Corp"]))
}

func usersFallbackFixture() map[string]any {
	return map[string]any{
		"/groups/cg": page(map[string]any{
			"groups": []any{link("/groups/cg/g2", "G2")},
		}),
		"/groups/cg/g2": map[string]any{
			"name": "G2",
			"type": "community group",
			"_links": map[string]any{
				"users": link("/groups/cg/g2/users", ""),
			},
		},
		"/groups/cg/g2/users": page(map[string]any{
			"users": []any{
				link("/users/10", "Mona"),
				link("/users/11", "Nick"),
				link("/users/12", "Olga"),
			},
		}),
		// Mona: member with exactly one affiliation.
		"/users/10": map[string]any{
			"name": "Mona",
			"_links": map[string]any{
				"affiliations": link("/users/10/affiliations", ""),
			},
		},
		"/users/10/affiliations": page(map[string]any{
			"affiliations": []any{link("/affiliations/100", "Acme Corp")},
		}),
		// Nick: member with two affiliations, unclassifiable on this path.
		"/users/11": map[string]any{
			"name": "Nick",
			"_links": map[string]any{
				"affiliations": link("/users/11/affiliations", ""),
			},
		},
		"/users/11/affiliations": page(map[string]any{
			"affiliations": []any{
				link("/affiliations/100", "Acme Corp"),
				link("/affiliations/200", "Globex"),
			},
		}),
		// Olga: no affiliations link at all.
		"/users/12": map[string]any{
			"name":   "Olga",
			"_links": map[string]any{},
		},
		"/affiliations/100": map[string]any{
			"name":      "Acme Corp",
			"is-member": true,
		},
		"/affiliations/200": map[string]any{
			"name":      "Globex",
			"is-member": true,
		},
	}
}

func TestClassifyUsersFallback(t *testing.T) {
	info := classifyFirstGroup(t, storeFor(t, usersFallbackFixture()))

	assert.True(t, info.IsException)
	assert.Equal(t, GroupTypeCG, info.GroupType)

	require.Contains(t, info.Members, "Acme Corp")
	assert.Equal(t, []string{"/users/10"}, hrefs(info.Members["Acme Corp"]))
	assert.Equal(t, []string{"/users/10"}, hrefs(info.MemberParticipants))

	// Nick is in no bucket at all.
	assert.False(t, info.AllParticipants.Has("/users/11"))

	assert.Equal(t, []string{"/users/12"}, hrefs(info.Individuals))
}

func TestClassifyGroupDetailUnresolvable(t *testing.T) {
	fixture := map[string]any{
		"/groups/wg": page(map[string]any{
			"groups": []any{link("/groups/wg/gone", "Gone WG")},
		}),
	}

	info := classifyFirstGroup(t, storeFor(t, fixture))

	assert.NotEmpty(t, info.Err)
	assert.Equal(t, "Gone WG", info.Name)
	assert.Zero(t, info.AllParticipants.Len())
	assert.Zero(t, info.MemberParticipants.Len())
}

func TestClassifyIsIdempotent(t *testing.T) {
	store := storeFor(t, memberGroupFixture(true))
	c := NewClassifier(store)
	groups := c.GroupIndex(context.Background())
	require.NotEmpty(t, groups)

	first := c.ClassifyGroup(context.Background(), groups[0])
	second := c.ClassifyGroup(context.Background(), groups[0])

	assert.Equal(t, hrefs(first.AllParticipants), hrefs(second.AllParticipants))
	assert.Equal(t, hrefs(first.MemberParticipants), hrefs(second.MemberParticipants))
	assert.Equal(t, first.OrgNames(), second.OrgNames())
	for _, org := range first.OrgNames() {
		assert.Equal(t, hrefs(first.Members[org]), hrefs(second.Members[org]))
	}
}

func TestAllParticipantsCoverageWithCrossOrgSeats(t *testing.T) {
	fixture := memberGroupFixture(true)
	// Alice also holds Globex's seat in the same group.
	fixture["/groups/wg/g1/participations"] = page(map[string]any{
		"participations": []any{
			link("/participations/p1", "Acme Corp"),
			link("/participations/p5", "Globex"),
		},
	})
	fixture["/participations/p5"] = map[string]any{
		"individual":     false,
		"invited-expert": false,
		"_links": map[string]any{
			"organization": link("/affiliations/200", "Globex"),
			"participants": link("/participations/p5/participants", ""),
		},
	}
	fixture["/affiliations/200"] = map[string]any{
		"name":      "Globex",
		"is-member": true,
	}
	fixture["/participations/p5/participants"] = page(map[string]any{
		"participants": []any{link("/users/1", "Alice")},
	})

	info := classifyFirstGroup(t, storeFor(t, fixture))

	// Cross-org duplication is legitimate in the per-org buckets but never
	// within one bucket.
	assert.Equal(t, []string{"/users/1"}, hrefs(info.Members["Acme Corp"]))
	assert.Equal(t, []string{"/users/1"}, hrefs(info.Members["Globex"]))
	assert.Equal(t, []string{"/users/1"}, hrefs(info.MemberParticipants))
	assert.Equal(t, []string{"/users/1"}, hrefs(info.AllParticipants))
	assert.Equal(t, 2, info.flattenedMemberCount())
}

func TestGroupTypeOf(t *testing.T) {
	assert.Equal(t, GroupTypeWG, groupTypeOf("working group", ""))
	assert.Equal(t, GroupTypeIG, groupTypeOf("ig", ""))
	assert.Equal(t, GroupTypeCG, groupTypeOf("", "/groups/cg/names"))
	assert.Equal(t, GroupTypeOther, groupTypeOf("coordination group", ""))
	assert.Equal(t, GroupTypeOther, groupTypeOf("", "/groups"))
}

func TestCheckAffiliationsNeverSetsInvitedExpert(t *testing.T) {
	fixture := map[string]any{
		"/users/20/affiliations": page(map[string]any{
			"affiliations": []any{
				link("/affiliations/1", "W3C"),
				link("/affiliations/100", "Acme Corp"),
			},
		}),
		"/affiliations/1":   map[string]any{"name": "W3C", "is-member": false},
		"/affiliations/100": map[string]any{"name": "Acme Corp", "is-member": true},
	}

	r := NewResolver(storeFor(t, fixture))
	res := r.CheckAffiliations(context.Background(), "/users/20/affiliations")

	assert.True(t, res.IsStaff)
	assert.True(t, res.IsMember)
	assert.False(t, res.IsInvitedExpert)
	assert.Equal(t, []string{"W3C", "Acme Corp"}, res.Affiliations)
	assert.Equal(t, []string{"Acme Corp"}, res.MemberOrgs)
}

func TestCheckAffiliationsSkipsUnresolvableOrgs(t *testing.T) {
	fixture := map[string]any{
		"/users/21/affiliations": page(map[string]any{
			"affiliations": []any{
				link("/affiliations/404", "Missing Org"),
				link("/affiliations/100", "Acme Corp"),
			},
		}),
		"/affiliations/100": map[string]any{"name": "Acme Corp", "is-member": true},
	}

	r := NewResolver(storeFor(t, fixture))
	res := r.CheckAffiliations(context.Background(), "/users/21/affiliations")

	assert.True(t, res.IsMember)
	assert.Equal(t, []string{"Acme Corp"}, res.Affiliations)
}
