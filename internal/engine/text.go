package engine

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Number conversion bounds.
const (
	numberBaseTen      = 10
	numberBaseTwenty   = 20
	numberBaseHundred  = 100
	numberBaseThousand = 1000
	maxNumberForWords  = 999999
)

// Regex patterns for text normalization.
const (
	numberRegexPattern     = `\d+`
	whitespaceRegexPattern = `\s+`
)

var (
	onesWords = []string{
		"", "one", "two", "three", "four", "five",
		"six", "seven", "eight", "nine",
	}
	teensWords = []string{
		"ten", "eleven", "twelve", "thirteen", "fourteen",
		"fifteen", "sixteen", "seventeen", "eighteen", "nineteen",
	}
	tensWords = []string{
		"", "", "twenty", "thirty", "forty", "fifty",
		"sixty", "seventy", "eighty", "ninety",
	}
)

// Normalizer prepares job text for the speech engine. It expands common
// abbreviations, spells out integers, strips control characters, normalizes
// quote and dash variants, collapses whitespace, and terminates the final
// sentence.
type Normalizer struct {
	numberPattern        *regexp.Regexp
	whitespacePattern    *regexp.Regexp
	abbreviationReplacer *strings.Replacer
	punctuationReplacer  *strings.Replacer
}

// NewNormalizer creates a normalizer with compiled patterns and replacers.
func NewNormalizer() *Normalizer {
	abbreviations := []string{
		"Mr.", "Mister",
		"Mrs.", "Misses",
		"Ms.", "Miss",
		"Dr.", "Doctor",
		"St.", "Saint",
		"Co.", "Company",
		"Ltd.", "Limited",
		"Corp.", "Corporation",
		"Inc.", "Incorporated",
	}

	punctuation := []string{
		"—", "-",
		"–", "-",
		"‒", "-",
		"…", "...",
		"“", `"`,
		"”", `"`,
		"‘", "'",
		"’", "'",
	}

	return &Normalizer{
		numberPattern:        regexp.MustCompile(numberRegexPattern),
		whitespacePattern:    regexp.MustCompile(whitespaceRegexPattern),
		abbreviationReplacer: strings.NewReplacer(abbreviations...),
		punctuationReplacer:  strings.NewReplacer(punctuation...),
	}
}

// Normalize runs the full normalization pipeline. Cheaper transformations run
// first; whitespace-only input normalizes to the empty string.
func (n *Normalizer) Normalize(text string) string {
	if text == "" {
		return ""
	}

	normalized := n.abbreviationReplacer.Replace(text)
	normalized = n.normalizeNumbers(normalized)
	normalized = stripControlRunes(normalized)
	normalized = collapseRepeatedPunctuation(normalized)
	normalized = n.punctuationReplacer.Replace(normalized)
	normalized = n.whitespacePattern.ReplaceAllString(normalized, " ")

	normalized = strings.TrimSpace(normalized)
	if normalized == "" {
		return ""
	}

	return ensureTerminalPunctuation(normalized)
}

// normalizeNumbers finds all integers in the text and converts them to words.
func (n *Normalizer) normalizeNumbers(text string) string {
	return n.numberPattern.ReplaceAllStringFunc(text, func(s string) string {
		num, err := strconv.Atoi(s)
		if err != nil {
			return s
		}

		return integerToWords(num)
	})
}

// stripControlRunes removes control characters while keeping newlines and
// tabs for the whitespace collapse that follows.
func stripControlRunes(text string) string {
	var builder strings.Builder

	builder.Grow(len(text))

	for _, r := range text {
		if r == '\n' || r == '\t' {
			builder.WriteRune(r)

			continue
		}

		if r < 32 || r == 127 {
			continue
		}

		builder.WriteRune(r)
	}

	return builder.String()
}

// collapseRepeatedPunctuation reduces runs of the same punctuation mark to a
// single occurrence. Dots are exempt so ellipses survive.
func collapseRepeatedPunctuation(text string) string {
	var (
		result   []rune
		lastRune rune
	)

	for _, r := range text {
		if unicode.IsPunct(r) && r == lastRune && r != '.' {
			continue
		}

		result = append(result, r)
		lastRune = r
	}

	return string(result)
}

// ensureTerminalPunctuation ends the text with sentence-final punctuation.
// Closing quotes are looked through, so `He said, "Hello."` is left alone.
func ensureTerminalPunctuation(text string) string {
	trimmed := strings.TrimRight(text, `"'`)

	lastRune, _ := utf8.DecodeLastRuneInString(trimmed)
	switch lastRune {
	case '.', '!', '?':
		return text
	default:
		return text + "."
	}
}

// integerToWords converts an integer into its English word representation.
// Numbers outside [0, maxNumberForWords] are returned as digits.
func integerToWords(number int) string {
	if number < 0 || number > maxNumberForWords {
		return strconv.Itoa(number)
	}

	if number == 0 {
		return "zero"
	}

	var parts []string

	thousands := number / numberBaseThousand
	if thousands > 0 {
		parts = append(parts, underThousandToWords(thousands)+" thousand")
		number %= numberBaseThousand
	}

	if number > 0 {
		parts = append(parts, underThousandToWords(number))
	}

	return strings.Join(parts, " ")
}

func underThousandToWords(number int) string {
	var parts []string

	hundreds := number / numberBaseHundred
	if hundreds > 0 {
		parts = append(parts, onesWords[hundreds]+" hundred")
		number %= numberBaseHundred
	}

	if number > 0 {
		parts = append(parts, underHundredToWords(number))
	}

	return strings.Join(parts, " ")
}

func underHundredToWords(number int) string {
	if number < numberBaseTen {
		return onesWords[number]
	}

	if number < numberBaseTwenty {
		return teensWords[number-numberBaseTen]
	}

	result := tensWords[number/numberBaseTen]
	if number%numberBaseTen > 0 {
		result += " " + onesWords[number%numberBaseTen]
	}

	return result
}
