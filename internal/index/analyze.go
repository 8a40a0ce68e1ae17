package index

import (
	"regexp"
	"strings"

	"github.com/Dryxio/auto-re-agent/internal/config"
	"github.com/Dryxio/auto-re-agent/internal/models"
)

var (
	callRe      = regexp.MustCompile(`\b[A-Za-z_]\w*(?:(?:::|\.|->)~?[A-Za-z_]\w*)*(?:<[^<>;(){}]*>)?\s*\(`)
	controlRe   = regexp.MustCompile(`\b(?:if|for|while|switch)\s*\(`)
	returnValRe = regexp.MustCompile(`\breturn\s+[^;\s]`)
	floatLitRe  = regexp.MustCompile(`\b\d+\.\d+f?\b`)
	floatTypeRe = regexp.MustCompile(`\b(?:float|double)\b`)
	forwarderRe = regexp.MustCompile(`(?s)^\s*(?:return\s+)?[\w:~]+(?:(?:::|\.|->)~?[\w~]+)*(?:<[^<>;]*>)?\s*\(.*\)\s*;\s*$`)
)

// callKeywords are identifiers the call regex matches that are not calls.
var callKeywords = map[string]bool{
	"if": true, "for": true, "while": true, "switch": true,
	"return": true, "sizeof": true, "catch": true, "new": true,
}

// Analyzer derives structural features from function body text. It is pure;
// the same body always yields the same features.
type Analyzer struct {
	stubMarkers   []string
	wrapperPrefix string
}

// NewAnalyzer builds an Analyzer from the source configuration.
func NewAnalyzer(cfg config.Source) *Analyzer {
	wp := cfg.WrapperPrefix
	if wp == "" {
		wp = "plugin::Call"
	}
	return &Analyzer{
		stubMarkers:   cfg.StubMarkers,
		wrapperPrefix: wp,
	}
}

// Features computes the derived features for a body (statement text between
// the definition's outer braces).
func (a *Analyzer) Features(body string) models.SourceFeatures {
	var f models.SourceFeatures

	for _, line := range strings.Split(body, "\n") {
		if strings.TrimSpace(line) != "" {
			f.LineCount++
		}
	}

	f.PluginCalls = strings.Count(body, a.wrapperPrefix)

	for _, m := range callRe.FindAllString(body, -1) {
		name := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(m), "("))
		head := name
		if i := strings.IndexAny(head, ":.->"); i > 0 {
			head = head[:i]
		}
		if callKeywords[head] {
			continue
		}
		if strings.HasPrefix(name, a.wrapperPrefix) {
			continue
		}
		f.PlainCalls++
	}

	f.ControlFlow = len(controlRe.FindAllString(body, -1)) + len(returnValRe.FindAllString(body, -1))
	f.FloatOps = len(floatLitRe.FindAllString(body, -1)) + len(floatTypeRe.FindAllString(body, -1))

	for _, marker := range a.stubMarkers {
		if marker != "" && strings.Contains(body, marker) {
			f.HasStubMarker = true
			break
		}
	}
	f.HasNaNHandling = strings.Contains(body, "isnan") || strings.Contains(body, "NAN(")
	f.IsForwarder = f.TotalCalls() == 1 && forwarderRe.MatchString(strings.TrimSpace(body))

	return f
}

// Record builds a FunctionRecord for arbitrary body text under the given
// identity. Used for review candidates, which never come from the indexed
// tree. Candidates arriving as full definitions are reduced to their inner
// statement text first so features line up with indexed records.
func (a *Analyzer) Record(key models.FunctionKey, text string) *models.FunctionRecord {
	body := text
	if inner, ok := innerBody(text); ok {
		body = inner
	}
	return &models.FunctionRecord{
		Address:  key.Address,
		Class:    key.Class,
		Function: key.Function,
		HasBody:  strings.TrimSpace(body) != "",
		Body:     body,
		Features: a.Features(body),
	}
}

// innerBody extracts the statement text between the outermost braces of a
// full function definition. Returns ok=false when text has no brace block,
// in which case the text already is statement text.
func innerBody(text string) (string, bool) {
	open := strings.Index(text, "{")
	if open < 0 {
		return "", false
	}
	end, ok := matchBrace(text, open)
	if !ok {
		return "", false
	}
	return strings.Trim(text[open+1:end], "\n"), true
}

// matchBrace returns the index of the brace closing the one at open,
// skipping string literals, character literals, and comments.
func matchBrace(text string, open int) (int, bool) {
	depth := 0
	i := open
	for i < len(text) {
		c := text[i]
		switch c {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		case '"', '\'':
			quote := c
			i++
			for i < len(text) && text[i] != quote {
				if text[i] == '\\' {
					i++
				}
				i++
			}
		case '/':
			if i+1 < len(text) {
				switch text[i+1] {
				case '/':
					for i < len(text) && text[i] != '\n' {
						i++
					}
					continue
				case '*':
					end := strings.Index(text[i+2:], "*/")
					if end < 0 {
						return 0, false
					}
					i += end + 4
					continue
				}
			}
		}
		i++
	}
	return 0, false
}

// extractBody finds the definition of class::function in file text and
// returns its inner statement text. ok=false when no definition exists;
// declared=true when a declaration-only match (prototype) was seen.
func extractBody(text, class, function string) (body string, ok, declared bool) {
	var namePat string
	if class != "" {
		namePat = regexp.QuoteMeta(class) + `::` + regexp.QuoteMeta(function)
	} else {
		namePat = regexp.QuoteMeta(function)
	}
	re, err := regexp.Compile(`\b` + namePat + `\s*\(`)
	if err != nil {
		return "", false, false
	}

	for _, loc := range re.FindAllStringIndex(text, -1) {
		parenOpen := strings.Index(text[loc[0]:loc[1]], "(") + loc[0]
		parenClose, found := matchParen(text, parenOpen)
		if !found {
			continue
		}

		// Skip qualifiers and a constructor initializer list between the
		// parameter list and the opening brace.
		i := parenClose + 1
		i = skipQualifiers(text, i)
		if i < len(text) && text[i] == ':' && (i+1 >= len(text) || text[i+1] != ':') {
			brace := strings.Index(text[i:], "{")
			semi := strings.Index(text[i:], ";")
			if brace < 0 || (semi >= 0 && semi < brace) {
				declared = true
				continue
			}
			i += brace
		}

		if i < len(text) && text[i] == ';' {
			declared = true
			continue
		}
		if i >= len(text) || text[i] != '{' {
			continue
		}

		end, found := matchBrace(text, i)
		if !found {
			continue
		}
		return strings.Trim(text[i+1:end], "\n"), true, declared
	}
	return "", false, declared
}

// matchParen returns the index of the parenthesis closing the one at open.
func matchParen(text string, open int) (int, bool) {
	depth := 0
	for i := open; i < len(text); i++ {
		switch text[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

// skipQualifiers advances past whitespace and the qualifier keywords that
// may sit between a parameter list and the function body.
func skipQualifiers(text string, i int) int {
	for {
		for i < len(text) && (text[i] == ' ' || text[i] == '\t' || text[i] == '\n' || text[i] == '\r') {
			i++
		}
		rest := text[i:]
		matched := false
		for _, q := range []string{"const", "noexcept", "override", "final"} {
			if strings.HasPrefix(rest, q) {
				after := len(q)
				if after >= len(rest) || !isWordChar(rest[after]) {
					i += after
					matched = true
					break
				}
			}
		}
		if !matched {
			return i
		}
	}
}

func isWordChar(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
