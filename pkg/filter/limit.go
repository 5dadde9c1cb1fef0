package filter

import "sort"

// Comparator orders two values for pagination purposes.
type Comparator func(a, b any) int

// LimitFilter is a stateful pagination wrapper around another filter,
// carrying page size, page index, an optional comparator, top/bottom
// anchor entries, and an opaque cookie (spec.md §4.4).
//
// Paging protocol (spec.md §4.4, invariant 5):
//   - Page(0) resets both anchors.
//   - Page(n+1) slides forward: the previous bottom becomes the new top,
//     the new bottom is cleared.
//   - Page(n-1) slides backward symmetrically.
//   - An arbitrary jump clears both anchors.
type LimitFilter struct {
	Sub        Filter
	PageSize   int
	comparator Comparator

	page       int
	topAnchor  *any
	bottomAnchor *any
	cookie     string
}

// NewLimitFilter creates a limit filter over sub with the given page
// size. comparator may be nil, in which case ExtractPage assumes its
// input is already in a stable, meaningful order.
func NewLimitFilter(sub Filter, pageSize int, comparator Comparator) *LimitFilter {
	return &LimitFilter{Sub: sub, PageSize: pageSize, comparator: comparator}
}

func (f *LimitFilter) Evaluate(v any) bool { return f.Sub.Evaluate(v) }

func (f *LimitFilter) Equal(o Filter) bool {
	other, ok := o.(*LimitFilter)
	return ok && f.Sub.Equal(other.Sub) && f.PageSize == other.PageSize
}

func (f *LimitFilter) Hash() uint64 {
	return hashCombine(hashBytes("limit"), f.Sub.Hash())
}

// Page moves the cursor to page n, implementing the anchor-sliding rules
// above. Page is 0-indexed.
func (f *LimitFilter) Page(n int) {
	switch {
	case n == 0:
		f.topAnchor = nil
		f.bottomAnchor = nil
	case n == f.page+1:
		f.topAnchor = f.bottomAnchor
		f.bottomAnchor = nil
	case n == f.page-1:
		f.bottomAnchor = f.topAnchor
		f.topAnchor = nil
	default:
		f.topAnchor = nil
		f.bottomAnchor = nil
	}
	f.page = n
}

// Next advances to the next page; Previous returns to the prior one.
// Next() followed by Previous() must return to the same anchor state
// (spec.md §8 invariant 5).
func (f *LimitFilter) Next() { f.Page(f.page + 1) }
func (f *LimitFilter) Previous() {
	if f.page > 0 {
		f.Page(f.page - 1)
	}
}

// Cookie returns the opaque pagination cookie, echoed back by a server
// that needs to remember cursor state across requests.
func (f *LimitFilter) Cookie() string { return f.cookie }

// SetCookie installs a server-supplied opaque cursor token.
func (f *LimitFilter) SetCookie(cookie string) { f.cookie = cookie }

// ExtractPage returns exactly PageSize entries from entries (or fewer on
// the last page). With a comparator present, it binary-searches for the
// anchor in the sorted slice; when both anchors are present (a repeat of
// the current page) the heading anchor is inclusive of its own match.
func (f *LimitFilter) ExtractPage(entries []any) []any {
	if f.PageSize <= 0 || len(entries) == 0 {
		return nil
	}

	start := 0
	if f.comparator != nil && f.topAnchor != nil {
		start = sort.Search(len(entries), func(i int) bool {
			return f.comparator(entries[i], *f.topAnchor) >= 0
		})
		matchesAnchor := start < len(entries) && f.comparator(entries[start], *f.topAnchor) == 0
		repeatOfSamePage := f.bottomAnchor != nil
		if matchesAnchor && !repeatOfSamePage {
			start++ // exclusive: anchor already delivered on the prior page
		}
		// else: inclusive rule for a same-page repeat (both anchors set)
	} else if f.topAnchor == nil && f.bottomAnchor != nil {
		// Heading anchor only (e.g. jumped to last known bottom): wrap
		// by searching for the bottom and starting after it, or from 0
		// if it isn't found (ring-buffer style wrap).
		if f.comparator != nil {
			idx := sort.Search(len(entries), func(i int) bool {
				return f.comparator(entries[i], *f.bottomAnchor) >= 0
			})
			if idx < len(entries) {
				start = idx + 1
			} else {
				start = 0
			}
		}
	}

	end := start + f.PageSize
	if end > len(entries) {
		end = len(entries)
	}
	if start >= end {
		return nil
	}

	page := make([]any, end-start)
	copy(page, entries[start:end])

	if len(page) > 0 {
		top := page[0]
		bottom := page[len(page)-1]
		f.topAnchor = &top
		f.bottomAnchor = &bottom
	}

	return page
}
