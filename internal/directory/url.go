// Package directory maps company identities onto profile URLs of the public
// company directory site.
package directory

import (
	"strings"
)

// DefaultBaseURL is the directory site profiles are looked up on.
const DefaultBaseURL = "https://mcamasterdata.com"

// BuildURL returns the profile URL for a company. Both inputs are trimmed and
// upper-cased and spaces in the name become hyphens. Other characters are not
// escaped, so names with punctuation may yield URLs the site does not serve.
func BuildURL(base, name, cin string) string {
	if base == "" {
		base = DefaultBaseURL
	}
	slug := strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(name)), " ", "-")
	id := strings.ToUpper(strings.TrimSpace(cin))
	return strings.TrimRight(base, "/") + "/company/" + slug + "/" + id
}
