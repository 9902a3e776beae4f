// Package selector renders long option lists as fixed-size pages with
// navigation tokens, and validates the opaque tokens that come back.
package selector

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"paybot/pkg/chat"
)

// DefaultPageSize is the number of options shown per page.
const DefaultPageSize = 6

// MaxTokenLen bounds selection tokens; chat transports cap callback payloads.
const MaxTokenLen = 64

// tokenPattern is the whitelist for inbound selection tokens. Anything
// outside it is dropped before flow dispatch.
var tokenPattern = regexp.MustCompile(`^[a-z0-9:_-]+$`)

// ValidToken reports whether a raw inbound token is acceptable at all.
func ValidToken(tok string) bool {
	return tok != "" && len(tok) <= MaxTokenLen && tokenPattern.MatchString(tok)
}

// Item is one selectable option.
type Item struct {
	Label string
	Token string
}

// Page is one rendered window over an item list.
type Page struct {
	Items   []Item
	Index   int // zero-based
	Total   int // total pages
	HasPrev bool
	HasNext bool
}

// Paginate slices items into the page at index, clamping out-of-range
// indexes to the nearest valid page.
func Paginate(items []Item, index, size int) Page {
	if size <= 0 {
		size = DefaultPageSize
	}
	total := (len(items) + size - 1) / size
	if total == 0 {
		total = 1
	}
	if index < 0 {
		index = 0
	}
	if index >= total {
		index = total - 1
	}
	lo := index * size
	hi := lo + size
	if hi > len(items) {
		hi = len(items)
	}
	return Page{
		Items:   items[lo:hi],
		Index:   index,
		Total:   total,
		HasPrev: index > 0,
		HasNext: index < total-1,
	}
}

// NavToken builds the navigation token for a page under the given prefix.
func NavToken(prefix string, index int) string {
	return fmt.Sprintf("%s:page:%d", prefix, index)
}

// ParseNavToken extracts the page index from a navigation token belonging to
// prefix. Returns false for any other token.
func ParseNavToken(prefix, tok string) (int, bool) {
	rest, ok := strings.CutPrefix(tok, prefix+":page:")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// Keyboard renders a page as choice rows: one item per row, then a
// navigation row when more than one page exists.
func (p Page) Keyboard(prefix string) [][]chat.Choice {
	rows := make([][]chat.Choice, 0, len(p.Items)+1)
	for _, it := range p.Items {
		rows = append(rows, []chat.Choice{{Label: it.Label, Token: it.Token}})
	}
	if p.Total > 1 {
		var nav []chat.Choice
		if p.HasPrev {
			nav = append(nav, chat.Choice{Label: "« Prev", Token: NavToken(prefix, p.Index-1)})
		}
		nav = append(nav, chat.Choice{Label: fmt.Sprintf("%d/%d", p.Index+1, p.Total), Token: NavToken(prefix, p.Index)})
		if p.HasNext {
			nav = append(nav, chat.Choice{Label: "Next »", Token: NavToken(prefix, p.Index+1)})
		}
		rows = append(rows, nav)
	}
	return rows
}

// ListContext snapshots the option list a user was last shown, so that a
// selection arriving later can be checked against what was actually offered.
type ListContext struct {
	Prefix    string    `json:"prefix"`
	Tokens    []string  `json:"tokens"`
	Page      int       `json:"page"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewListContext records the full token set behind a rendered list.
func NewListContext(prefix string, items []Item, page int, now time.Time) *ListContext {
	toks := make([]string, len(items))
	for i, it := range items {
		toks[i] = it.Token
	}
	return &ListContext{Prefix: prefix, Tokens: toks, Page: page, CreatedAt: now}
}

// Expired reports whether the snapshot is older than ttl.
func (lc *ListContext) Expired(ttl time.Duration, now time.Time) bool {
	return now.Sub(lc.CreatedAt) > ttl
}

// Offered reports whether tok was part of the offered set.
func (lc *ListContext) Offered(tok string) bool {
	for _, t := range lc.Tokens {
		if t == tok {
			return true
		}
	}
	return false
}
