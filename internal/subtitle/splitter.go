package subtitle

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/lingosub/internal/config"
)

// ClauseAnalyzer decides whether a clause stands on its own, i.e. carries
// both a subject and a predicate.
type ClauseAnalyzer interface {
	Independent(clause string, spaced bool) bool
}

// Splitter breaks recognized text into subtitle-length lines.
type Splitter struct {
	cfg      config.SplitConfig
	analyzer ClauseAnalyzer

	connectorsCJK    []string
	connectorsSpaced map[string]bool
}

// NewSplitter builds a splitter from the split heuristics. The built-in clause
// analyzer is used when cfg.Linguistic is set; otherwise commas always break.
func NewSplitter(cfg config.SplitConfig) *Splitter {
	s := &Splitter{
		cfg:              cfg,
		connectorsSpaced: make(map[string]bool, len(cfg.ConnectorsSpaced)),
	}
	if cfg.Linguistic {
		s.analyzer = keywordAnalyzer{}
	}

	s.connectorsCJK = append([]string(nil), cfg.ConnectorsCJK...)
	// longest first so 但是 wins over 但
	sort.SliceStable(s.connectorsCJK, func(i, j int) bool {
		return utf8.RuneCountInString(s.connectorsCJK[i]) > utf8.RuneCountInString(s.connectorsCJK[j])
	})
	for _, c := range cfg.ConnectorsSpaced {
		s.connectorsSpaced[strings.ToLower(c)] = true
	}
	return s
}

// WithAnalyzer replaces the clause analyzer. A nil analyzer disables
// clause analysis.
func (s *Splitter) WithAnalyzer(a ClauseAnalyzer) *Splitter {
	s.analyzer = a
	return s
}

// MaxLen returns the configured line length for the language of text.
func (s *Splitter) MaxLen(languageHint, text string) int {
	if IsSpaceDelimited(languageHint, text) {
		return s.cfg.MaxLenSpaced
	}
	return s.cfg.MaxLenCJK
}

// Split returns lines of at most maxLen runes whose concatenation, ignoring
// whitespace at the breaks, is text. A maxLen of zero selects the configured
// length for the language.
func (s *Splitter) Split(text string, maxLen int, languageHint string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if maxLen <= 0 {
		maxLen = s.MaxLen(languageHint, text)
	}
	if runeLen(text) <= maxLen {
		return []string{text}
	}

	spaced := IsSpaceDelimited(languageHint, text)

	var lines []string
	if first, second, ok := splitRepeatedRun(text, spaced); ok {
		lines = append(lines, s.Split(first, maxLen, languageHint)...)
		lines = append(lines, s.Split(second, maxLen, languageHint)...)
		return nonEmptyOr(lines, text)
	}

	for _, sentence := range splitSentences(text) {
		if runeLen(sentence) <= maxLen {
			lines = append(lines, sentence)
			continue
		}
		lines = append(lines, s.pack(s.tokenize(sentence, spaced), maxLen)...)
	}
	return nonEmptyOr(lines, text)
}

type token struct {
	text        string
	clause      int
	clauseStart bool // a comma break is allowed before this token
	connector   bool
}

// tokenize cuts a sentence into words (spaced scripts) or characters, keeping
// connectives and embedded latin words whole.
func (s *Splitter) tokenize(sentence string, spaced bool) []token {
	clauses := splitClauses(sentence)

	var tokens []token
	for i, clause := range clauses {
		breakable := i > 0 && s.commaBreak(clauses[i-1], clause, spaced)
		var parts []string
		if spaced {
			parts = wordTokens(clause)
		} else {
			parts = s.charTokens(clause)
		}
		for j, p := range parts {
			tokens = append(tokens, token{
				text:        p,
				clause:      i,
				clauseStart: j == 0 && breakable,
				connector:   s.isConnector(p, spaced),
			})
		}
	}
	return tokens
}

func (s *Splitter) commaBreak(left, right string, spaced bool) bool {
	if s.analyzer == nil {
		return true
	}
	if !s.longEnough(left, spaced) || !s.longEnough(right, spaced) {
		return false
	}
	return s.analyzer.Independent(left, spaced) && s.analyzer.Independent(right, spaced)
}

func (s *Splitter) longEnough(clause string, spaced bool) bool {
	if spaced {
		return len(strings.Fields(stripPunct(clause))) >= s.cfg.MinClauseWords
	}
	return runeLen(stripPunct(clause)) >= s.cfg.MinClauseRunes
}

func (s *Splitter) isConnector(tok string, spaced bool) bool {
	if spaced {
		return s.connectorsSpaced[strings.ToLower(stripPunct(tok))]
	}
	for _, c := range s.connectorsCJK {
		if tok == c {
			return true
		}
	}
	return false
}

// pack greedily fills lines. Clause boundaries are taken when the next clause
// would overflow the line, connectives once the line is past half full, and
// token boundaries as the last resort.
func (s *Splitter) pack(tokens []token, maxLen int) []string {
	clauseText := map[int]string{}
	for _, t := range tokens {
		clauseText[t.clause] += t.text
	}

	var lines []string
	var cur strings.Builder
	flush := func() {
		if line := strings.TrimSpace(cur.String()); line != "" {
			lines = append(lines, line)
		}
		cur.Reset()
	}

	for _, t := range tokens {
		curLen := runeLen(strings.TrimSpace(cur.String()))
		if curLen > 0 {
			switch {
			case t.clauseStart && runeLen(strings.TrimSpace(cur.String()+clauseText[t.clause])) > maxLen:
				flush()
			case t.connector && curLen*2 > maxLen:
				flush()
			case runeLen(strings.TrimSpace(cur.String()+t.text)) > maxLen:
				flush()
			}
		}

		word := strings.TrimSpace(t.text)
		if runeLen(word) > maxLen {
			flush()
			chunks := hardCut(word, maxLen)
			for _, c := range chunks[:len(chunks)-1] {
				lines = append(lines, c)
			}
			cur.WriteString(chunks[len(chunks)-1])
			cur.WriteString(t.text[len(strings.TrimRightFunc(t.text, unicode.IsSpace)):])
			continue
		}
		cur.WriteString(t.text)
	}
	flush()
	return lines
}

func hardCut(word string, maxLen int) []string {
	runes := []rune(word)
	var out []string
	for len(runes) > maxLen {
		out = append(out, string(runes[:maxLen]))
		runes = runes[maxLen:]
	}
	return append(out, string(runes))
}

func isMajorTerminator(r rune) bool {
	switch r {
	case '。', '！', '？', '；', '.', '!', '?', ';':
		return true
	}
	return false
}

func isMinorPunct(r rune) bool {
	switch r {
	case '，', ',', '、':
		return true
	}
	return false
}

func isClosing(r rune) bool {
	switch r {
	case '"', '\'', '”', '’', '」', '』', ')', '）', '》':
		return true
	}
	return false
}

// splitSentences breaks after major terminators. ASCII terminators only count
// when followed by whitespace or the end of text so decimals and
// abbreviations such as "3.5" stay intact.
func splitSentences(text string) []string {
	runes := []rune(text)
	var out []string
	start := 0
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if !isMajorTerminator(r) {
			continue
		}
		end := i + 1
		for end < len(runes) && (isMajorTerminator(runes[end]) || isClosing(runes[end])) {
			end++
		}
		if r < utf8.RuneSelf && end < len(runes) && !unicode.IsSpace(runes[end]) {
			continue
		}
		if s := strings.TrimSpace(string(runes[start:end])); s != "" {
			out = append(out, s)
		}
		start = end
		i = end - 1
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}

// splitClauses breaks after minor punctuation; each clause keeps its
// punctuation and the whitespace that follows it.
func splitClauses(sentence string) []string {
	runes := []rune(sentence)
	var out []string
	start := 0
	for i := 0; i < len(runes); i++ {
		if !isMinorPunct(runes[i]) {
			continue
		}
		end := i + 1
		for end < len(runes) && unicode.IsSpace(runes[end]) {
			end++
		}
		if end == len(runes) {
			break
		}
		out = append(out, string(runes[start:end]))
		start = end
		i = end - 1
	}
	return append(out, string(runes[start:]))
}

// wordTokens splits on whitespace; every token carries its trailing spaces.
func wordTokens(s string) []string {
	var out []string
	start := 0
	inSpace := false
	for i, r := range s {
		space := unicode.IsSpace(r)
		if inSpace && !space {
			out = append(out, s[start:i])
			start = i
		}
		inSpace = space
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

// charTokens yields single characters, except that connectives and runs of
// latin letters or digits are kept as one token.
func (s *Splitter) charTokens(clause string) []string {
	var out []string
	rest := clause
	for rest != "" {
		if c := s.connectorPrefix(rest); c != "" {
			out = append(out, c)
			rest = rest[len(c):]
			continue
		}
		r, size := utf8.DecodeRuneInString(rest)
		if r < utf8.RuneSelf && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			end := size
			for end < len(rest) {
				next, n := utf8.DecodeRuneInString(rest[end:])
				if next >= utf8.RuneSelf || !(unicode.IsLetter(next) || unicode.IsDigit(next) || next == '\'') {
					break
				}
				end += n
			}
			for end < len(rest) && rest[end] == ' ' {
				end++
			}
			out = append(out, rest[:end])
			rest = rest[end:]
			continue
		}
		out = append(out, rest[:size])
		rest = rest[size:]
	}
	return out
}

func (s *Splitter) connectorPrefix(text string) string {
	for _, c := range s.connectorsCJK {
		if strings.HasPrefix(text, c) {
			return c
		}
	}
	return ""
}

// splitRepeatedRun detects text made of one short unit (a character or a
// word, or a short group of them) repeated, and splits it at the midpoint.
func splitRepeatedRun(text string, spaced bool) (string, string, bool) {
	if spaced {
		words := wordTokens(text)
		keys := make([]string, len(words))
		for i, w := range words {
			keys[i] = strings.ToLower(stripPunct(w))
		}
		p := repeatPeriod(keys, 3)
		if p == 0 {
			return "", "", false
		}
		mid := (len(words) / 2 / p) * p
		return strings.TrimSpace(strings.Join(words[:mid], "")), strings.TrimSpace(strings.Join(words[mid:], "")), true
	}

	runes := []rune(text)
	keys := make([]string, len(runes))
	for i, r := range runes {
		keys[i] = string(r)
	}
	p := repeatPeriod(keys, 4)
	if p == 0 {
		return "", "", false
	}
	mid := (len(runes) / 2 / p) * p
	return string(runes[:mid]), string(runes[mid:]), true
}

// repeatPeriod returns the smallest period up to maxPeriod with which units
// repeat at least twice, or 0.
func repeatPeriod(units []string, maxPeriod int) int {
	for p := 1; p <= maxPeriod && 2*p <= len(units); p++ {
		ok := true
		for i := p; i < len(units); i++ {
			if units[i] != units[i-p] || units[i] == "" {
				ok = false
				break
			}
		}
		if ok {
			return p
		}
	}
	return 0
}

func nonEmptyOr(lines []string, fallback string) []string {
	out := lines[:0]
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	if len(out) == 0 {
		return []string{fallback}
	}
	return out
}

func stripPunct(s string) string {
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			return -1
		}
		return r
	}, s))
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }

// keywordAnalyzer is a small closed-class word heuristic: a clause is
// independent when it has a subject word and a predicate word.
type keywordAnalyzer struct{}

var (
	englishSubjects = map[string]bool{
		"i": true, "you": true, "he": true, "she": true, "it": true, "we": true, "they": true,
		"this": true, "that": true, "there": true, "people": true, "everyone": true,
		"someone": true, "everybody": true, "nobody": true, "who": true,
	}
	englishDeterminers = map[string]bool{
		"the": true, "a": true, "an": true, "my": true, "your": true, "his": true,
		"her": true, "our": true, "their": true, "its": true,
	}
	englishPredicates = map[string]bool{
		"is": true, "are": true, "was": true, "were": true, "be": true, "been": true, "am": true,
		"have": true, "has": true, "had": true, "do": true, "does": true, "did": true,
		"will": true, "would": true, "can": true, "could": true, "should": true, "may": true,
		"might": true, "must": true, "go": true, "went": true, "get": true, "got": true,
		"make": true, "made": true, "know": true, "knew": true, "think": true, "thought": true,
		"see": true, "saw": true, "want": true, "like": true, "say": true, "said": true,
		"need": true, "come": true, "came": true, "take": true, "took": true, "look": true,
		"feel": true, "felt": true, "give": true, "gave": true, "tell": true, "told": true,
		"stay": true, "stayed": true, "left": true, "love": true,
	}
	cjkSubjects   = []rune("我你您他她它们咱这那谁家人")
	cjkPredicates = []rune("是有在会要能说想看做去来了过着得觉知让给用")
)

func (keywordAnalyzer) Independent(clause string, spaced bool) bool {
	if !spaced {
		return strings.ContainsAny(clause, string(cjkSubjects)) && strings.ContainsAny(clause, string(cjkPredicates))
	}

	subject, predicate := false, false
	for i, raw := range strings.Fields(strings.ToLower(clause)) {
		w := stripPunct(raw)
		switch {
		case englishSubjects[w], englishDeterminers[w]:
			subject = true
		case strings.ContainsAny(raw, "'’"):
			// contractions such as i'm, don't, she's carry a verb
			predicate = true
			subject = subject || i == 0
		case englishPredicates[w], len(w) > 3 && strings.HasSuffix(w, "ed"):
			predicate = subject || predicate
		}
	}
	return subject && predicate
}
