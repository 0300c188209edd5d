package w3capi

import (
	"fmt"
	"net/url"
)

type Vars interface {
	Apply(params *url.Values)
}

// Pagination vars are used for paginating results from the API.
type PaginationVars struct {
	Items uint `json:"items"`
	Page  uint `json:"page"`
}

func NewPaginationVars(items, page uint) *PaginationVars {
	return &PaginationVars{
		Items: items,
		Page:  page,
	}
}

func (p *PaginationVars) Apply(params *url.Values) {
	if p.Items > 0 {
		params.Set("items", fmt.Sprintf("%d", p.Items))
	}
	if p.Page > 0 {
		params.Set("page", fmt.Sprintf("%d", p.Page))
	}
}

type CommonVars struct {
	Vars map[string]string `json:"vars"`
}

func (c *CommonVars) Apply(params *url.Values) {
	for k, v := range c.Vars {
		params.Set(k, v)
	}
}

// WithEmbedVar asks the API to embed linked resources in list responses.
func WithEmbedVar() Vars {
	return &CommonVars{
		Vars: map[string]string{
			"embed": "true",
		},
	}
}
