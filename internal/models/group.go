package models

// Group is a neighborhood group users can join.
type Group struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Slug        string `json:"slug,omitempty"`
	Description string `json:"description,omitempty"`
	MemberCount int    `json:"member_count"`
	Joined      bool   `json:"joined"`
}

// Stats holds admin dashboard counters keyed by metric name.
type Stats map[string]int64

// PageInfo is the pagination metadata reported by list endpoints.
type PageInfo struct {
	Page       int
	Limit      int
	TotalPages int
	HasMore    bool
}

// ListParams selects one page of a list endpoint.
type ListParams struct {
	Page  int
	Limit int
	// Search is ignored when blank.
	Search string
}
