package schema

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/ontoloom/ontoloom/internal/domain"
	"go.uber.org/zap"
)

// placeholder tokens inside a regexp.QuoteMeta-escaped template
var placeholderRe = regexp.MustCompile(`\\\{([A-Za-z_][A-Za-z0-9_]*)\\\}`)

// parameter tokens inside a pattern's query template
var paramRe = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`)

// PatternMatch is a successfully matched query pattern with its bound
// parameters and the rendered executable query.
type PatternMatch struct {
	Name    string              `json:"name"`
	Pattern domain.QueryPattern `json:"pattern"`
	Params  map[string]string   `json:"params"`
	Query   string              `json:"query"`
}

// MatchQueryPattern matches a user query against the schema's query patterns
// and returns the first match, or nil when nothing matches. Patterns are
// tried in sorted name order so matching is deterministic.
func (m *Manager) MatchQueryPattern(ctx context.Context, userQuery string) (*PatternMatch, error) {
	if err := m.ready(ctx); err != nil {
		return nil, err
	}

	// Matching is case-insensitive via the compiled (?i) regexps, but captures
	// bind from the original input so parameter casing survives.
	trimmed := strings.TrimSpace(userQuery)
	if trimmed == "" {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.schema.QueryPatterns))
	for name := range m.schema.QueryPatterns {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		pattern := m.schema.QueryPatterns[name]
		re, placeholders, err := compileTemplate(pattern.Template)
		if err != nil {
			m.logger.Warn("skipping uncompilable query pattern",
				zap.String("pattern", name), zap.Error(err))
			continue
		}

		groups := re.FindStringSubmatch(trimmed)
		if groups == nil {
			continue
		}

		params := make(map[string]string, len(placeholders))
		for i, placeholder := range placeholders {
			params[placeholder] = strings.TrimSpace(groups[i+1])
		}

		return &PatternMatch{
			Name:    name,
			Pattern: pattern,
			Params:  params,
			Query:   renderQuery(pattern.Query, params),
		}, nil
	}

	return nil, nil
}

// compileTemplate turns "who works on {project}" into a case-insensitive
// anchored regexp with one capture group per placeholder: all regex
// metacharacters in the template are escaped first, then the escaped
// placeholder tokens become (.+?) groups. Placeholder names are returned in
// encounter order for capture binding.
func compileTemplate(template string) (*regexp.Regexp, []string, error) {
	quoted := regexp.QuoteMeta(strings.TrimSpace(template))

	var placeholders []string
	expr := placeholderRe.ReplaceAllStringFunc(quoted, func(tok string) string {
		sub := placeholderRe.FindStringSubmatch(tok)
		placeholders = append(placeholders, sub[1])
		return `(.+?)`
	})

	re, err := regexp.Compile(`(?i)^` + expr + `$`)
	if err != nil {
		return nil, nil, err
	}
	return re, placeholders, nil
}

// renderQuery substitutes $name tokens with sanitized single-quoted
// literals. Unbound tokens are left untouched.
func renderQuery(queryTemplate string, params map[string]string) string {
	return paramRe.ReplaceAllStringFunc(queryTemplate, func(tok string) string {
		value, ok := params[tok[1:]]
		if !ok {
			return tok
		}
		return "'" + sanitizeLiteral(value) + "'"
	})
}

// sanitizeLiteral escapes backslashes and quotes and strips control
// characters so a bound parameter can never terminate the quoted literal
// early. This escaping contract is the security boundary of the pattern
// compiler; keep it in sync with the graph backend's string syntax.
func sanitizeLiteral(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			continue
		}
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '\'':
			b.WriteString(`\'`)
		case '"':
			b.WriteString(`\"`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
