package utils

import "github.com/microcosm-cc/bluemonday"

// Post and comment text is plain text; strip all markup instead of
// allowing a UGC subset.
var sanitizer = bluemonday.StrictPolicy()

// Sanitize removes any HTML from user submitted text.
func Sanitize(input string) string {
	return sanitizer.Sanitize(input)
}
