// Package trigger resolves transcript text against user-configured
// trigger cards into a final output text.
package trigger

import (
	"regexp"
	"strings"
	"unicode"

	"vtt-keyboard/internal/domain"
)

// ValuePlaceholder marks the capture point in keywords and templates.
const ValuePlaceholder = "{value}"

// sentenceDelimiters covers both half-width and full-width punctuation.
const sentenceDelimiters = ",，。.!！?？;；:："

// Result is the outcome of resolving one transcript.
type Result struct {
	FinalText string
	Matches   []domain.TriggerMatch
}

// Resolve evaluates cards in configured order against the transcript.
// Every matching card is recorded, but only the first match's
// instantiated template becomes the final text. With no match the
// transcript passes through unchanged.
func Resolve(transcript string, cards []domain.TriggerCard) Result {
	sentences := splitSentences(transcript)
	res := Result{FinalText: transcript}

	for _, card := range cards {
		if !card.Enabled {
			continue
		}

		value, byKeyword, ok := matchCard(card, sentences)
		if !ok {
			if !card.AutoApply {
				continue
			}
			// Auto-apply cards always fire, capturing the whole
			// transcript as the value.
			value = strings.TrimSpace(transcript)
			byKeyword = false
			ok = true
		}

		mode := domain.TriggerMatchAuto
		if byKeyword {
			mode = domain.TriggerMatchKeyword
		}
		res.Matches = append(res.Matches, domain.TriggerMatch{
			TriggerID:    card.ID,
			TriggerTitle: card.Title,
			Keyword:      card.Keyword,
			MatchedValue: value,
			Mode:         mode,
		})

		if len(res.Matches) == 1 {
			res.FinalText = instantiate(card.PromptTemplate, value)
		}
	}
	return res
}

// instantiate substitutes every placeholder occurrence with the value.
func instantiate(template, value string) string {
	out := strings.ReplaceAll(template, ValuePlaceholder, value)
	out = strings.ReplaceAll(out, "{language}", value)
	out = strings.ReplaceAll(out, "{style}", value)
	return strings.TrimSpace(out)
}

func splitSentences(input string) []string {
	parts := strings.FieldsFunc(input, func(r rune) bool {
		return strings.ContainsRune(sentenceDelimiters, r)
	})
	var out []string
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// matchCard reports the captured value for a keyword match, falling
// back to the card's variables when the sentence names none.
func matchCard(card domain.TriggerCard, sentences []string) (value string, byKeyword, ok bool) {
	keyword := strings.TrimSpace(card.Keyword)
	if keyword == "" {
		return "", false, false
	}

	if prefix, suffix, hasPlaceholder := splitKeyword(keyword); hasPlaceholder {
		re, err := compileTriggerPattern(prefix, suffix)
		if err != nil {
			return "", false, false
		}
		for _, sentence := range sentences {
			if captured, ok := captureValue(re, sentence); ok {
				return captured, true, true
			}
		}
		return "", false, false
	}

	normalizedKeyword := normalizeForCompare(keyword)
	if normalizedKeyword == "" {
		return "", false, false
	}
	for _, sentence := range sentences {
		if !strings.Contains(normalizeForCompare(sentence), normalizedKeyword) {
			continue
		}
		if v, ok := matchVariableInSentence(sentence, card.Variables); ok {
			return v, true, true
		}
		if v, ok := firstNonEmptyVariable(card.Variables); ok {
			return v, true, true
		}
		return "", false, false
	}
	return "", false, false
}

// splitKeyword separates the keyword around a single placeholder.
func splitKeyword(keyword string) (prefix, suffix string, ok bool) {
	parts := strings.Split(keyword, ValuePlaceholder)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// compileTriggerPattern builds a case-insensitive pattern that matches
// the keyword's literal characters with flexible whitespace and
// captures the value run between prefix and suffix.
func compileTriggerPattern(prefix, suffix string) (*regexp.Regexp, error) {
	prefixPattern := normalizeForPattern(prefix)
	suffixPattern := normalizeForPattern(suffix)

	valuePattern := `[^,，。！？!?.;；:：]+`
	if suffixPattern != "" {
		valuePattern += "?"
	}
	return regexp.Compile(`(?i)` + prefixPattern + `\s*(?P<value>` + valuePattern + `)\s*` + suffixPattern)
}

func captureValue(re *regexp.Regexp, sentence string) (string, bool) {
	match := re.FindStringSubmatch(sentence)
	if match == nil {
		return "", false
	}
	for i, name := range re.SubexpNames() {
		if name == "value" {
			if v := normalizeValue(match[i]); v != "" {
				return v, true
			}
		}
	}
	return "", false
}

// matchVariableInSentence finds the variable occurring earliest in the
// sentence, preferring the longer one on position ties.
func matchVariableInSentence(sentence string, variables []string) (string, bool) {
	normalizedSentence := normalizeForCompare(sentence)
	if normalizedSentence == "" {
		return "", false
	}

	bestStart, bestLen := -1, 0
	best := ""
	for _, variable := range variables {
		trimmed := strings.TrimSpace(variable)
		if trimmed == "" {
			continue
		}
		normalized := normalizeForCompare(trimmed)
		if normalized == "" {
			continue
		}

		start := strings.Index(normalizedSentence, normalized)
		if start < 0 {
			continue
		}
		length := len([]rune(normalized))
		if bestStart < 0 || start < bestStart || (start == bestStart && length > bestLen) {
			bestStart, bestLen, best = start, length, trimmed
		}
	}
	if bestStart < 0 {
		return "", false
	}
	return best, true
}

func firstNonEmptyVariable(variables []string) (string, bool) {
	for _, variable := range variables {
		if trimmed := strings.TrimSpace(variable); trimmed != "" {
			return trimmed, true
		}
	}
	return "", false
}

// normalizeForPattern renders literal text as a pattern tolerating
// whitespace between characters.
func normalizeForPattern(text string) string {
	var b strings.Builder
	for _, r := range text {
		nr, ok := normalizeMatchRune(r)
		if !ok {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(`\s*`)
		}
		b.WriteString(regexp.QuoteMeta(string(nr)))
	}
	return b.String()
}

// normalizeForCompare folds width, strips whitespace, and lowercases
// so "Ｔｒａｎｓｌａｔｅ" compares equal to "translate".
func normalizeForCompare(text string) string {
	var b strings.Builder
	for _, r := range text {
		if nr, ok := normalizeMatchRune(r); ok {
			b.WriteRune(nr)
		}
	}
	return b.String()
}

func normalizeValue(value string) string {
	trimmed := strings.TrimSpace(value)
	trimmed = strings.Trim(trimmed, "-_.,")
	return strings.TrimSpace(trimmed)
}

// normalizeMatchRune maps full-width forms to ASCII, lowercases, and
// drops whitespace.
func normalizeMatchRune(r rune) (rune, bool) {
	if r == '　' {
		r = ' '
	} else if r >= '！' && r <= '～' {
		r -= 0xFEE0
	}
	if unicode.IsSpace(r) {
		return 0, false
	}
	if r >= 'A' && r <= 'Z' {
		r += 'a' - 'A'
	}
	return r, true
}
