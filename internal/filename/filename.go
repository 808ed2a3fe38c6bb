// Package filename renders the filename templates used by filesystem destinations.
//
// A template is plain text with %-tokens:
//
//	%y   year (4 digits)        %ts  YYYY-MM-DD_HH-MM-SS
//	%mo  month (2 digits)       %t   HH-MM-SS
//	%d   day (2 digits)         %i   counter
//	%h   hour (2 digits)        %rN  N random alphanumeric characters
//	%m   minute (2 digits)
//	%s   second (2 digits)
//
// All time fields are UTC. Unknown tokens are left as-is, and so is a %rN
// whose N exceeds MaxRandomLength.
package filename

import (
	"fmt"
	"math/rand"
	"regexp"
	"strconv"
	"time"
)

// DefaultRandomLength is the length of the name generated for an empty template.
const DefaultRandomLength = 12

// MaxRandomLength is the longest random token Render expands. It matches the
// usual filesystem limit for a single path component.
const MaxRandomLength = 255

// Alphabet is the character set random tokens draw from.
const Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

var (
	// Longer tokens precede their prefixes so %mo and %ts win over %m and %t.
	tokenPattern  = regexp.MustCompile(`%(mo|ts|y|d|h|m|s|t|i)`)
	randomPattern = regexp.MustCompile(`%r(\d+)`)
)

// Render expands pattern using counter and now. An empty pattern yields a
// random name of DefaultRandomLength characters.
//
// Date and counter tokens are replaced in a single pass, so replacement text
// is never rescanned. Random tokens are expanded in a second pass over that
// result, each occurrence independently.
func Render(pattern string, counter uint64, now time.Time) string {
	if pattern == "" {
		return RandomString(DefaultRandomLength)
	}

	now = now.UTC()
	result := tokenPattern.ReplaceAllStringFunc(pattern, func(token string) string {
		switch token[1:] {
		case "y":
			return fmt.Sprintf("%04d", now.Year())
		case "mo":
			return fmt.Sprintf("%02d", int(now.Month()))
		case "d":
			return fmt.Sprintf("%02d", now.Day())
		case "h":
			return fmt.Sprintf("%02d", now.Hour())
		case "m":
			return fmt.Sprintf("%02d", now.Minute())
		case "s":
			return fmt.Sprintf("%02d", now.Second())
		case "ts":
			return now.Format("2006-01-02_15-04-05")
		case "t":
			return now.Format("15-04-05")
		case "i":
			return strconv.FormatUint(counter, 10)
		}
		return token
	})

	return randomPattern.ReplaceAllStringFunc(result, func(token string) string {
		n, err := strconv.Atoi(token[2:])
		if err != nil || n > MaxRandomLength {
			return token
		}
		return RandomString(n)
	})
}

// RandomString returns n characters drawn uniformly from Alphabet.
func RandomString(n int) string {
	if n <= 0 {
		return ""
	}
	b := make([]byte, n)
	for i := range b {
		b[i] = Alphabet[rand.Intn(len(Alphabet))]
	}
	return string(b)
}
