package orders

const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100
)

// ListParams is a 1-indexed page request. Zero Page/Limit fall back to the defaults.
type ListParams struct {
	Page   int
	Limit  int
	Status Status
}

func (p ListParams) normalize() (ListParams, error) {
	if p.Page == 0 {
		p.Page = DefaultPage
	}
	if p.Limit == 0 {
		p.Limit = DefaultLimit
	}
	if p.Page < 1 {
		return p, validationf("page must be at least 1")
	}
	if p.Limit < 1 || p.Limit > MaxLimit {
		return p, validationf("limit must be between 1 and %d", MaxLimit)
	}
	if p.Status != "" && !p.Status.Valid() {
		return p, validationf("invalid status filter %q", p.Status)
	}
	return p, nil
}

func (p ListParams) offset() int { return (p.Page - 1) * p.Limit }

type PageMeta struct {
	Total           int  `json:"total"`
	Page            int  `json:"page"`
	Limit           int  `json:"limit"`
	TotalPages      int  `json:"totalPages"`
	HasNextPage     bool `json:"hasNextPage"`
	HasPreviousPage bool `json:"hasPreviousPage"`
}

func NewPageMeta(total, page, limit int) PageMeta {
	pages := 0
	if limit > 0 {
		pages = (total + limit - 1) / limit
	}
	return PageMeta{
		Total:           total,
		Page:            page,
		Limit:           limit,
		TotalPages:      pages,
		HasNextPage:     page < pages,
		HasPreviousPage: page > 1,
	}
}

type OrderPage struct {
	Data []OrderView `json:"data"`
	Meta PageMeta    `json:"meta"`
}
