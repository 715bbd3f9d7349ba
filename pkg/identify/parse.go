package identify

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/menta2k/bookshelf-analyzer/pkg/types"
)

var (
	reBlockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reLineComment  = regexp.MustCompile(`(?m)^\s*//.*$`)
	reTrailing     = regexp.MustCompile(`,(\s*[}\]])`)
)

// ParseBooks turns a raw model reply into exactly n books.
//
// The reply may be wrapped in code fences, carry comments or trailing
// commas, or be an object holding a "books" array or a single book.
// Entries that are not objects or lack a field become unknown sentinels.
// A reply with no usable list yields a failed result.
func ParseBooks(raw string, n int) types.IdentifyResult {
	items, ok := extractItems(raw)
	if !ok {
		return types.FailedResult(n)
	}

	res := types.IdentifyResult{
		Books:  make([]types.IdentifiedBook, 0, len(items)),
		Status: types.IdentifyComplete,
	}
	for _, item := range items {
		book, ok := parseItem(item)
		if !ok {
			res.Status = types.IdentifyPartial
		}
		res.Books = append(res.Books, book)
	}
	return res.Conform(n)
}

func parseItem(item json.RawMessage) (types.IdentifiedBook, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(item, &fields); err != nil || fields == nil {
		return types.UnknownBook(), false
	}

	title, okTitle := stringField(fields, "title")
	author, okAuthor := stringField(fields, "author")
	return types.IdentifiedBook{
		Title:  types.CleanField(title, types.UnknownTitle),
		Author: types.CleanField(author, types.UnknownAuthor),
	}, okTitle && okAuthor
}

func stringField(fields map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := fields[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// extractItems finds the list of entries in the reply
func extractItems(raw string) ([]json.RawMessage, bool) {
	clean := sanitizeModelJSON(raw)

	var items []json.RawMessage
	if err := json.Unmarshal([]byte(clean), &items); err == nil {
		return items, true
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(clean), &obj); err == nil && obj != nil {
		if books, ok := obj["books"]; ok {
			if err := json.Unmarshal(books, &items); err == nil {
				return items, true
			}
		}
		if _, ok := obj["title"]; ok {
			return []json.RawMessage{json.RawMessage(clean)}, true
		}
	}

	// Fall back to the outermost [...] anywhere in the text
	if start := strings.Index(clean, "["); start >= 0 {
		if end := strings.LastIndex(clean, "]"); end > start {
			if err := json.Unmarshal([]byte(clean[start:end+1]), &items); err == nil {
				return items, true
			}
		}
	}
	return nil, false
}

// sanitizeModelJSON strips the usual decorations models wrap JSON in
func sanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	// Strip triple-backtick fences if present
	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.TrimSpace(raw)
	raw = strings.Trim(raw, "`")

	raw = reBlockComment.ReplaceAllString(raw, "")
	raw = reLineComment.ReplaceAllString(raw, "")
	raw = reTrailing.ReplaceAllString(raw, "$1")

	return strings.TrimSpace(raw)
}
