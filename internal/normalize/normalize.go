// Package normalize provides locale-tolerant parsing for the numeric and
// text fields found in vehicle-listing markup. Listing sites mix French and
// English formatting: thousands separated by plain spaces, periods, or
// narrow no-break spaces, and commas used as decimal points.
package normalize

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	// At most one separator inside the quantity, so "05/2018 116 200 km"
	// yields 116 200 rather than a run starting at the year.
	numberPattern  = regexp.MustCompile(`\d+(?:[.,]\d+)?`)
	mileagePattern = regexp.MustCompile(`(?i)(\d+[.,\s\x{00A0}\x{202F}]?\d*)[\s\x{00A0}\x{202F}]*km`)
	yearPattern    = regexp.MustCompile(`(\d{2})/(\d{4})`)

	// Separator runes that may appear inside a thousand-separated number.
	spaceStripper = strings.NewReplacer(
		" ", "",
		"\t", "",
		" ", "", // no-break space
		" ", "", // narrow no-break space
		" ", "", // thin space
	)
)

// CleanText collapses all whitespace runs to single spaces and trims the
// result.
func CleanText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// ParseNumber extracts the first number from free-form text. Space-like
// thousand separators are removed, a comma is read as the decimal point,
// and a period followed by exactly three digits is read as a thousand
// separator. Returns nil when the text contains no digits.
func ParseNumber(text string) *float64 {
	stripped := spaceStripper.Replace(text)

	match := numberPattern.FindString(stripped)
	if match == "" {
		return nil
	}

	if i := strings.IndexByte(match, ','); i >= 0 {
		match = strings.Replace(match, ",", ".", 1)
	} else if i := strings.IndexByte(match, '.'); i >= 0 {
		if len(match)-i-1 == 3 {
			match = match[:i] + match[i+1:]
		}
	}

	value, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return nil
	}
	return &value
}

// ParseMileage extracts a mileage value from text containing a quantity
// followed by "km" in any casing, for example "116 200 km" or "116.200KM".
// Returns nil when no such quantity is present.
func ParseMileage(text string) *float64 {
	match := mileagePattern.FindStringSubmatch(text)
	if match == nil {
		return nil
	}
	return ParseNumber(match[1])
}

// ParseYear extracts the year from the first MM/YYYY substring. Returns nil
// when no such substring is present.
func ParseYear(text string) *int {
	match := yearPattern.FindStringSubmatch(text)
	if match == nil {
		return nil
	}
	year, err := strconv.Atoi(match[2])
	if err != nil {
		return nil
	}
	return &year
}
