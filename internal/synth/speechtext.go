package synth

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Bounds for spelling integers out as words.
const (
	baseTen           = 10
	baseTwenty        = 20
	baseHundred       = 100
	baseThousand      = 1000
	maxNumberForWords = 999999
)

var (
	numberPattern     = regexp.MustCompile(`\d{1,3}(?:,\d{3})+(?:\.\d+)?|\d+(?:\.\d+)?`)
	whitespacePattern = regexp.MustCompile(`\s+`)
	emphasisPattern   = regexp.MustCompile(`[*_#~` + "`" + `]+`)

	typographyReplacer = strings.NewReplacer(
		"—", " - ",
		"–", "-",
		"‒", "-",
		"…", "...",
		"“", `"`, "”", `"`,
		"‘", "'", "’", "'",
	)

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

// SpeechText rewrites a generated story into plain prose for the speech
// model. Typographic quotes and dashes become ASCII, markdown markers are
// dropped, integers are spelled out and the text ends with a full stop.
func SpeechText(story string) string {
	text := typographyReplacer.Replace(story)
	text = emphasisPattern.ReplaceAllString(text, "")
	text = numberPattern.ReplaceAllStringFunc(text, numberToWords)
	text = whitespacePattern.ReplaceAllString(text, " ")
	text = collapseRepeatedPunctuation(strings.TrimSpace(text))

	return ensureSentenceEnding(text)
}

// collapseRepeatedPunctuation keeps the first mark of every run, except that
// an ASCII ellipsis survives intact.
func collapseRepeatedPunctuation(text string) string {
	var builder strings.Builder

	var previous rune

	for _, char := range text {
		if unicode.IsPunct(char) && char == previous && char != '.' {
			continue
		}

		builder.WriteRune(char)

		previous = char
	}

	return builder.String()
}

func ensureSentenceEnding(text string) string {
	if text == "" {
		return ""
	}

	last, _ := utf8.DecodeLastRuneInString(text)
	switch last {
	case '.', '!', '?', '"', '\'':
		return text
	default:
		return text + "."
	}
}

// numberToWords spells out a matched number. Thousands separators are
// dropped and decimals are read digit by digit after "point". Numbers too
// large to spell keep their original form.
func numberToWords(match string) string {
	whole, fraction, hasFraction := strings.Cut(strings.ReplaceAll(match, ",", ""), ".")

	number, err := strconv.Atoi(whole)
	if err != nil || number > maxNumberForWords {
		return match
	}

	words := integerToWords(number)
	if !hasFraction {
		return words
	}

	digits := make([]string, 0, len(fraction))
	for _, digit := range fraction {
		digits = append(digits, integerToWords(int(digit-'0')))
	}

	return words + " point " + strings.Join(digits, " ")
}

// integerToWords spells out 0..999999 in English; larger values keep their
// digits.
func integerToWords(number int) string {
	if number < 0 || number > maxNumberForWords {
		return strconv.Itoa(number)
	}

	if number == 0 {
		return "zero"
	}

	var parts []string

	if thousands := number / baseThousand; thousands > 0 {
		parts = append(parts, underThousand(thousands)+" thousand")
	}

	if remainder := number % baseThousand; remainder > 0 {
		parts = append(parts, underThousand(remainder))
	}

	return strings.Join(parts, " ")
}

func underThousand(number int) string {
	hundreds, remainder := number/baseHundred, number%baseHundred

	switch {
	case hundreds == 0:
		return underHundred(remainder)
	case remainder == 0:
		return onesWords[hundreds] + " hundred"
	default:
		return onesWords[hundreds] + " hundred " + underHundred(remainder)
	}
}

func underHundred(number int) string {
	switch {
	case number < baseTen:
		return onesWords[number]
	case number < baseTwenty:
		return teensWords[number-baseTen]
	case number%baseTen == 0:
		return tensWords[number/baseTen]
	default:
		return tensWords[number/baseTen] + " " + onesWords[number%baseTen]
	}
}
