package utils

import "github.com/microcosm-cc/bluemonday"

var strict = bluemonday.StrictPolicy()

// SanitizePlain strips all markup from user-supplied text fields such as
// usernames and signatures before they are stored or broadcast.
func SanitizePlain(input string) string {
	return strict.Sanitize(input)
}
