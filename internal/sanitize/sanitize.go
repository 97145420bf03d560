package sanitize

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

// Sanitizer cleans user supplied chat content before it is stored or
// broadcast. Markup is reduced to <img> tags (the emoji picker inserts
// them), script and style bodies are dropped and sensitive words are
// masked.
type Sanitizer struct {
	policy *bluemonday.Policy
	words  *regexp.Regexp
}

// New builds a Sanitizer masking the given words case-insensitively.
func New(sensitiveWords []string) *Sanitizer {
	p := bluemonday.NewPolicy()
	p.AllowElements("img")
	p.AllowAttrs("src", "alt", "title", "class", "width", "height").OnElements("img")
	p.AllowURLSchemes("http", "https")
	p.AllowRelativeURLs(true)

	return &Sanitizer{
		policy: p,
		words:  compileWords(sensitiveWords),
	}
}

// Clean returns the sanitized form of s. Sensitive words are masked in
// text only, never inside tags, attribute values or character references.
func (s *Sanitizer) Clean(content string) string {
	out := strings.TrimSpace(s.policy.Sanitize(content))
	if s.words == nil {
		return out
	}
	return s.maskText(out)
}

func (s *Sanitizer) maskText(markup string) string {
	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(markup))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return b.String()
		case html.TextToken:
			text := s.words.ReplaceAllStringFunc(string(z.Text()), func(m string) string {
				return strings.Repeat("*", utf8.RuneCountInString(m))
			})
			b.WriteString(html.EscapeString(text))
		default:
			b.Write(z.Raw())
		}
	}
}

func compileWords(words []string) *regexp.Regexp {
	uniq := make(map[string]struct{}, len(words))
	for _, w := range words {
		if w = strings.TrimSpace(w); w != "" {
			uniq[strings.ToLower(w)] = struct{}{}
		}
	}
	if len(uniq) == 0 {
		return nil
	}

	list := make([]string, 0, len(uniq))
	for w := range uniq {
		list = append(list, w)
	}
	// Longest first so "badword" wins over "bad".
	sort.Slice(list, func(i, j int) bool {
		if len(list[i]) != len(list[j]) {
			return len(list[i]) > len(list[j])
		}
		return list[i] < list[j]
	})

	quoted := make([]string, len(list))
	for i, w := range list {
		quoted[i] = regexp.QuoteMeta(w)
	}
	return regexp.MustCompile("(?i)" + strings.Join(quoted, "|"))
}
