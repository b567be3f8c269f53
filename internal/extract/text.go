package extract

import (
	"html"
	"net/url"
	"strings"
)

// scanText returns every email-like substring of s, after undoing HTML
// entity and percent encoding of the @ sign. Literal '+' is kept, so
// plus-addressed emails survive.
func scanText(s string) []string {
	s = html.UnescapeString(s)
	if strings.Contains(s, "%40") {
		if dec, err := url.PathUnescape(s); err == nil {
			s = dec
		} else {
			s = strings.ReplaceAll(s, "%40", "@")
		}
	}
	return emailRe.FindAllString(s, -1)
}
