package types

// ResponseMeta conveys non-blocking notices attached to successful responses,
// such as deprecation warnings.
type ResponseMeta struct {
	Warnings []string `json:"warnings,omitempty"`
}

// PageInfo describes cursor pagination state for list responses.
type PageInfo struct {
	NextCursor string `json:"next_cursor,omitempty"`
	HasMore    bool   `json:"has_more"`
	Count      int    `json:"count"`
}

// ListResponse is the standard envelope for paginated collections.
type ListResponse[T any] struct {
	Items []T      `json:"items"`
	Page  PageInfo `json:"page"`
}

// NewListResponse builds a ListResponse from a fetched page. The repository
// fetches limit+1 rows; when more rows came back than the limit, the extra row
// is dropped and HasMore is set with the cursor of the last returned item.
func NewListResponse[T any](items []T, limit int, cursorOf func(T) string) ListResponse[T] {
	resp := ListResponse[T]{Items: items}
	if limit > 0 && len(items) > limit {
		resp.Items = items[:limit]
		resp.Page.HasMore = true
		resp.Page.NextCursor = cursorOf(resp.Items[len(resp.Items)-1])
	}
	if resp.Items == nil {
		resp.Items = []T{}
	}
	resp.Page.Count = len(resp.Items)
	return resp
}
