package w3capi

import "encoding/json"

// Link is a hyperlink as it appears inside a resource's _links object or
// inside an array-valued link collection.
type Link struct {
	Href  string `json:"href"`
	Title string `json:"title,omitempty"`
	Name  string `json:"name,omitempty"`
	Type  string `json:"type,omitempty"`
}

// Links holds the raw _links object of a resource. Values are kept as raw
// JSON because the same object mixes single links (self, next, up) with
// array-valued resource collections (groups, users, participants, ...).
type Links map[string]json.RawMessage

// Rel returns the single link stored under the given relation name.
func (l Links) Rel(name string) (Link, bool) {
	raw, ok := l[name]
	if !ok {
		return Link{}, false
	}

	var link Link
	if err := json.Unmarshal(raw, &link); err != nil || link.Href == "" {
		return Link{}, false
	}

	return link, true
}

// Collection returns the array-valued link collection stored under the given
// relation name. It reports false if the relation is absent or not an array.
func (l Links) Collection(name string) ([]Link, bool) {
	raw, ok := l[name]
	if !ok || !isJSONArray(raw) {
		return nil, false
	}

	var links []Link
	if err := json.Unmarshal(raw, &links); err != nil {
		return nil, false
	}

	return links, true
}

// CollectionKey returns the name of the first array-valued relation in the
// links object, scanning the given candidate order first so merging is
// stable across pages regardless of JSON key order.
func (l Links) CollectionKey(candidates ...string) (string, bool) {
	for _, name := range candidates {
		if raw, ok := l[name]; ok && isJSONArray(raw) {
			return name, true
		}
	}

	for name, raw := range l {
		if isJSONArray(raw) {
			return name, true
		}
	}

	return "", false
}

func isJSONArray(raw json.RawMessage) bool {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		case '[':
			return true
		default:
			return false
		}
	}
	return false
}

// Page is the pagination envelope wrapping every collection resource:
// {page, limit, pages, total, _links}.
type Page struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Pages int   `json:"pages"`
	Total int   `json:"total"`
	Links Links `json:"_links"`
}

// Group is a group detail record.
type Group struct {
	ID          int64  `json:"id,omitempty"`
	Name        string `json:"name"`
	Type        string `json:"type,omitempty"`
	Description string `json:"description,omitempty"`
	IsClosed    bool   `json:"is-closed,omitempty"`
	Links       Links  `json:"_links"`
}

// Participation is one organization's or individual's attachment to a group.
// Organization seats carry an "organization" link, person seats a "user"
// link; organization seats additionally link the people filling the seat
// under "participants".
type Participation struct {
	Individual    bool  `json:"individual"`
	InvitedExpert bool  `json:"invited-expert"`
	Links         Links `json:"_links"`
}

// Affiliation is an organization record from the affiliations namespace.
type Affiliation struct {
	ID       int64  `json:"id,omitempty"`
	Name     string `json:"name"`
	IsMember bool   `json:"is-member"`
	Links    Links  `json:"_links"`
}

// User is a user detail record.
type User struct {
	ID            int64  `json:"id,omitempty"`
	Name          string `json:"name"`
	InvitedExpert bool   `json:"invited-expert,omitempty"`
	Links         Links  `json:"_links"`
}
