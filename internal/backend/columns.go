package backend

import (
	"fmt"
	"strings"
)

// Embed is a one-level joined sub-select parsed from a Columns expression:
// "alias:fk_column(col1,col2)" attaches the row referenced by fk_column under
// the alias key, restricted to the listed columns ("*" for all).
type Embed struct {
	Alias    string
	FKColumn string
	Columns  []string // nil means all columns
}

// ParseColumns splits a select expression into plain columns and embeds.
// An empty expression means "*".
func ParseColumns(expr string) (columns []string, embeds []Embed, err error) {
	if strings.TrimSpace(expr) == "" {
		return []string{"*"}, nil, nil
	}
	for _, part := range splitTopLevel(expr) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		open := strings.IndexByte(part, '(')
		if open < 0 {
			columns = append(columns, part)
			continue
		}
		if !strings.HasSuffix(part, ")") {
			return nil, nil, fmt.Errorf("malformed embed %q", part)
		}
		head := part[:open]
		alias, fk, ok := strings.Cut(head, ":")
		if !ok {
			// No alias: the fk column doubles as the key.
			alias, fk = head, head
		}
		var cols []string
		inner := part[open+1 : len(part)-1]
		if strings.TrimSpace(inner) != "*" && strings.TrimSpace(inner) != "" {
			for _, c := range strings.Split(inner, ",") {
				cols = append(cols, strings.TrimSpace(c))
			}
		}
		embeds = append(embeds, Embed{Alias: alias, FKColumn: fk, Columns: cols})
	}
	return columns, embeds, nil
}

// splitTopLevel splits on commas that are not inside parentheses.
func splitTopLevel(s string) []string {
	var parts []string
	depth, start := 0, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, s[start:])
	return parts
}
