package normalize

import "areahood/internal/models"

var (
	listKeys = []string{"data", "items", "results", "records"}
	itemKeys = []string{"data", "item", "result", "record"}
	metaKeys = []string{"pagination", "meta", "page_info", "pageInfo", "paging"}
)

// List unwraps a list response. The data array may sit at the root, under
// one of the generic keys, or under one of the entity keys given. requested
// fills in pagination fields the server did not report.
func List(body any, requested models.ListParams, entityKeys ...string) ([]Record, models.PageInfo) {
	var items []any
	var meta Record

	switch x := body.(type) {
	case []any:
		items = x
	case map[string]any:
		items, meta = listFrom(x, entityKeys)
	}

	records := make([]Record, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			records = append(records, m)
		}
	}
	return records, pageInfo(meta, requested, len(records))
}

func listFrom(body Record, entityKeys []string) ([]any, Record) {
	keys := append(append([]string{}, entityKeys...), listKeys...)
	meta, _ := Object(body, metaKeys...)
	if meta == nil && hasAny(body, "page", "current_page", "total_pages", "totalPages", "has_more", "hasMore") {
		meta = body
	}

	if items, ok := Array(body, keys...); ok {
		return items, meta
	}
	// {"data": {"posts": [...], "pagination": {...}}}
	if inner, ok := Object(body, listKeys...); ok {
		items, innerMeta := listFrom(inner, entityKeys)
		if innerMeta != nil {
			meta = innerMeta
		}
		return items, meta
	}
	return nil, meta
}

func pageInfo(meta Record, requested models.ListParams, n int) models.PageInfo {
	info := models.PageInfo{Page: requested.Page, Limit: requested.Limit}
	if meta == nil {
		meta = Record{}
	}
	if v, ok := Int(meta, "page", "current_page", "currentPage", "page_number"); ok && v > 0 {
		info.Page = v
	}
	if v, ok := Int(meta, "limit", "per_page", "perPage", "page_size", "pageSize"); ok && v > 0 {
		info.Limit = v
	}
	if v, ok := Int(meta, "total_pages", "totalPages", "pages", "last_page", "lastPage"); ok && v > 0 {
		info.TotalPages = v
	}

	if v, ok := Bool(meta, "has_more", "hasMore", "has_next", "hasNext", "has_next_page", "hasNextPage"); ok {
		info.HasMore = v
	} else if info.TotalPages > 0 {
		info.HasMore = info.Page < info.TotalPages
	} else if info.Limit > 0 {
		info.HasMore = n >= info.Limit
	}
	return info
}

// Item unwraps a single-record response. When no wrapper key matches the
// body itself is returned.
func Item(body any, entityKeys ...string) Record {
	m, ok := body.(map[string]any)
	if !ok {
		return Record{}
	}
	keys := append(append([]string{}, entityKeys...), itemKeys...)
	for _, k := range keys {
		inner, ok := m[k].(map[string]any)
		if !ok {
			continue
		}
		if ID(inner) == "" {
			// {"data": {"post": {...}}}
			for _, ek := range entityKeys {
				if nested, ok := inner[ek].(map[string]any); ok {
					return nested
				}
			}
		}
		return inner
	}
	return m
}

func hasAny(r Record, keys ...string) bool {
	for _, k := range keys {
		if _, ok := r[k]; ok {
			return true
		}
	}
	return false
}
