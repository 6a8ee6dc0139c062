package assistant

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/sqldesk/sqldesk/pkg/models"
)

var (
	fencedSQL   = regexp.MustCompile("(?is)```(?:sql)?\\s*(.*?)```")
	withClause  = regexp.MustCompile(`(?is)\bWITH\b\s+\w+\s+AS\s*\(.*?;`)
	selectQuery = regexp.MustCompile(`(?is)\bSELECT\b.*?(?:;|$)`)
	listMarker  = regexp.MustCompile(`^\s*(?:\d+[.)]|[-*•])\s*`)
)

// ExtractSQL pulls the query out of an LLM reply: a fenced block, then a
// WITH ... ; statement, then the first SELECT. Anything else is returned as is.
func ExtractSQL(reply string) string {
	if m := fencedSQL.FindStringSubmatch(reply); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := withClause.FindString(reply); m != "" {
		return strings.TrimSpace(m)
	}
	if m := selectQuery.FindString(reply); m != "" {
		return strings.TrimSpace(m)
	}
	return strings.TrimSpace(reply)
}

// IsSQLValid reports whether sql is a read query.
func IsSQLValid(sql string) bool {
	s := strings.ToUpper(strings.TrimSpace(sql))
	return strings.HasPrefix(s, "SELECT") || strings.HasPrefix(s, "WITH")
}

// ShouldGenerateChart reports whether a frame is worth charting: more than one
// row and at least one numeric column.
func ShouldGenerateChart(f *models.Frame) bool {
	if f == nil || f.Len() <= 1 {
		return false
	}
	for i := range f.Columns {
		if f.IsNumeric(i) {
			return true
		}
	}
	return false
}

// parseQuestionList splits a numbered or bulleted reply into questions.
func parseQuestionList(reply string) []string {
	var out []string
	for _, line := range strings.Split(reply, "\n") {
		q := strings.TrimSpace(listMarker.ReplaceAllString(line, ""))
		if q == "" {
			continue
		}
		out = append(out, q)
	}
	return out
}

// stripFences removes a surrounding markdown code fence of any language.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

func keywords(s string) map[string]bool {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	out := make(map[string]bool, len(words))
	for _, w := range words {
		if len(w) > 2 {
			out[w] = true
		}
	}
	return out
}

// rank orders items by keyword overlap with question, best first, keeping at
// most limit. Ties keep their original order.
func rank(question string, items []models.TrainingData, limit int) []models.TrainingData {
	q := keywords(question)
	type scored struct {
		item  models.TrainingData
		score int
	}
	all := make([]scored, len(items))
	for i, it := range items {
		n := 0
		for w := range keywords(it.Question + " " + it.Content) {
			if q[w] {
				n++
			}
		}
		all[i] = scored{it, n}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].score > all[j].score })
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	out := make([]models.TrainingData, len(all))
	for i, s := range all {
		out[i] = s.item
	}
	return out
}
