package textutil

import (
	"regexp"
	"strings"
)

var whitespaceRegex = regexp.MustCompile(`\s+`)

// NormalizeTitle lowercases a loan title and strips all whitespace so
// user-supplied filters match regardless of casing or spacing quirks
// in the portal's table cells.
func NormalizeTitle(title string) string {
	title = strings.ToLower(title)
	title = strings.Trim(title, " \n\t")
	title = whitespaceRegex.ReplaceAllString(title, "")
	return title
}

var innerWhitespace = regexp.MustCompile(`\s\s+`)

// CollapseSpace trims a scraped cell's text and collapses inner runs
// of whitespace into single spaces. The portal pads cells with
// newlines and nbsp-adjacent junk.
func CollapseSpace(s string) string {
	s = strings.Trim(s, " \t\n ")
	return innerWhitespace.ReplaceAllString(s, " ")
}
