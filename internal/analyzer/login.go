package analyzer

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// LoginSignals summarizes how much a page looks like a sign-in page.
type LoginSignals struct {
	PasswordFields int         `json:"passwordFields"`
	EmailFields    int         `json:"emailFields"`
	OAuthButtons   int         `json:"oauthButtons"`
	TermHits       []TermMatch `json:"termHits,omitempty"`
	IsLogin        bool        `json:"isLogin"`
}

var oauthHints = []string{"accounts.google.com", "appleid.apple.com", "login.microsoftonline.com", "github.com/login/oauth", "facebook.com/dialog/oauth"}

// ScoreLoginPage classifies an HTML document. A page counts as a login page
// when it has a password field, or an identity field alongside either a
// login term or an identity-provider button.
func ScoreLoginPage(html []byte, url string, terms []string) LoginSignals {
	var sig LoginSignals
	if len(html) == 0 {
		return sig
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return sig
	}

	sig.PasswordFields = doc.Find(`input[type="password"]`).Length()
	doc.Find("input").Each(func(_ int, s *goquery.Selection) {
		typ := strings.ToLower(s.AttrOr("type", "text"))
		ac := strings.ToLower(s.AttrOr("autocomplete", ""))
		name := strings.ToLower(s.AttrOr("name", "") + " " + s.AttrOr("id", ""))
		switch {
		case typ == "email":
			sig.EmailFields++
		case ac == "username" || ac == "email":
			sig.EmailFields++
		case typ == "text" && (strings.Contains(name, "email") || strings.Contains(name, "user") || strings.Contains(name, "login")):
			sig.EmailFields++
		}
	})
	doc.Find("a[href], form[action]").Each(func(_ int, s *goquery.Selection) {
		target := strings.ToLower(s.AttrOr("href", s.AttrOr("action", "")))
		for _, h := range oauthHints {
			if strings.Contains(target, h) {
				sig.OAuthButtons++
				return
			}
		}
	})

	text := doc.Find("title, h1, h2, button, label, a, input[type=submit]").Map(func(_ int, s *goquery.Selection) string {
		return strings.TrimSpace(s.Text() + " " + s.AttrOr("value", ""))
	})
	sig.TermHits = FindTermMatches(text, url, terms)

	sig.IsLogin = sig.PasswordFields > 0 ||
		(sig.EmailFields > 0 && (len(sig.TermHits) > 0 || sig.OAuthButtons > 0))
	return sig
}
