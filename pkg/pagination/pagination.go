package pagination

import (
	"fmt"
	"strconv"

	"realtime-core/pkg/constants"
)

// Params is an offset window over a newest-first listing
type Params struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// Page describes the window that was returned
type Page struct {
	Limit      int  `json:"limit"`
	Offset     int  `json:"offset"`
	Count      int  `json:"count"`
	HasMore    bool `json:"has_more"`
	NextOffset *int `json:"next_offset,omitempty"`
}

// Parse reads limit and offset query values. Empty values take defaults;
// limit is clamped to [1, MaxPageSize] and a negative offset becomes 0.
func Parse(limitStr, offsetStr string) (Params, error) {
	p := Params{Limit: constants.DefaultPageSize}

	if limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil {
			return Params{}, fmt.Errorf("invalid limit parameter: %w", err)
		}
		p.Limit = Clamp(l)
	}

	if offsetStr != "" {
		o, err := strconv.Atoi(offsetStr)
		if err != nil {
			return Params{}, fmt.Errorf("invalid offset parameter: %w", err)
		}
		if o > 0 {
			p.Offset = o
		}
	}

	return p, nil
}

// Clamp bounds a requested page size
func Clamp(limit int) int {
	switch {
	case limit < 1:
		return constants.DefaultPageSize
	case limit > constants.MaxPageSize:
		return constants.MaxPageSize
	default:
		return limit
	}
}

// Page builds the response window for count returned items. A full page
// implies there may be more.
func (p Params) Page(count int) Page {
	page := Page{Limit: p.Limit, Offset: p.Offset, Count: count}
	if count >= p.Limit {
		next := p.Offset + count
		page.HasMore = true
		page.NextOffset = &next
	}
	return page
}
