package http

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/samirrijal/souq/internal/core/usecases"
)

// PaginatedResponse wraps list results with pagination metadata.
type PaginatedResponse struct {
	Data       interface{} `json:"data"`
	Pagination Pagination  `json:"pagination"`
}

// Pagination contains offset-based pagination info. Listings are filtered
// after the query, so the total is unknown and Count may be lower than
// Limit even when HasMore is set. Offsets step by Limit.
type Pagination struct {
	Offset  int  `json:"offset"`
	Limit   int  `json:"limit"`
	Count   int  `json:"count"`
	HasMore bool `json:"has_more"`
}

// pageFromQuery reads offset and limit, clamped to the service limits.
func pageFromQuery(c *fiber.Ctx) usecases.Page {
	offset := c.QueryInt("offset", 0)
	limit := c.QueryInt("limit", 20)
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return usecases.Page{Offset: offset, Limit: limit}
}

func newPagination(page usecases.Page, count int, hasMore bool) Pagination {
	return Pagination{
		Offset:  page.Offset,
		Limit:   page.Limit,
		Count:   count,
		HasMore: hasMore,
	}
}

// SetLinkHeaders adds RFC 8288 Link headers for paginated responses.
// Query parameters other than offset and limit are preserved.
func SetLinkHeaders(c *fiber.Ctx, p Pagination) {
	params := url.Values{}
	for k, v := range c.Queries() {
		if k != "offset" && k != "limit" {
			params.Set(k, v)
		}
	}

	link := func(offset int, rel string) string {
		q := url.Values{}
		for k, v := range params {
			q[k] = v
		}
		q.Set("offset", fmt.Sprint(offset))
		q.Set("limit", fmt.Sprint(p.Limit))
		return fmt.Sprintf(`<%s?%s>; rel="%s"`, c.Path(), q.Encode(), rel)
	}

	links := []string{link(0, "first")}
	if p.Offset > 0 {
		prev := p.Offset - p.Limit
		if prev < 0 {
			prev = 0
		}
		links = append(links, link(prev, "prev"))
	}
	if p.HasMore {
		links = append(links, link(p.Offset+p.Limit, "next"))
	}

	c.Set("Link", strings.Join(links, ", "))
}
