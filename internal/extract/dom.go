package extract

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

var identityAutocomplete = map[string]bool{
	"email":    true,
	"username": true,
}

const profileSelector = `[class*="user"], [class*="account"], [class*="profile"], [id*="user"], [aria-label*="ccount"]`

func (e *Extractor) fromDOM(body []byte) [][]string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}

	return [][]string{
		emailInputs(doc),
		e.keyedInputs(doc),
		emailAttributes(doc),
		profileText(doc),
		mailtoLinks(doc),
		scanText(spacedText(doc.Find("body"))),
	}
}

// emailInputs reads values of <input type="email">.
func emailInputs(doc *goquery.Document) []string {
	var out []string
	doc.Find(`input[type="email"]`).Each(func(_ int, s *goquery.Selection) {
		if v := strings.TrimSpace(s.AttrOr("value", "")); v != "" {
			out = append(out, v)
		}
	})
	return out
}

// keyedInputs reads inputs whose name, id or autocomplete hint is an
// identity field.
func (e *Extractor) keyedInputs(doc *goquery.Document) []string {
	var out []string
	doc.Find("input, textarea").Each(func(_ int, s *goquery.Selection) {
		v := strings.TrimSpace(s.AttrOr("value", ""))
		if v == "" {
			return
		}
		if identityAutocomplete[strings.ToLower(s.AttrOr("autocomplete", ""))] ||
			e.rules.IsFieldKey(s.AttrOr("name", "")) ||
			e.rules.IsFieldKey(s.AttrOr("id", "")) {
			out = append(out, v)
		}
	})
	return out
}

// emailAttributes reads data-* and meta attributes that carry an email.
func emailAttributes(doc *goquery.Document) []string {
	var out []string
	doc.Find("meta[content]").Each(func(_ int, s *goquery.Selection) {
		name := strings.ToLower(s.AttrOr("name", "") + s.AttrOr("property", ""))
		if strings.Contains(name, "email") || strings.Contains(name, "user") {
			out = append(out, scanText(s.AttrOr("content", ""))...)
		}
	})
	doc.Find("*").Each(func(_ int, s *goquery.Selection) {
		for _, n := range s.Nodes {
			for _, a := range n.Attr {
				k := strings.ToLower(a.Key)
				if strings.HasPrefix(k, "data-") && (strings.Contains(k, "email") || strings.Contains(k, "user")) {
					out = append(out, scanText(a.Val)...)
				}
			}
		}
	})
	return out
}

// profileText scans account/profile widgets, where signed-in pages
// usually show the current address.
func profileText(doc *goquery.Document) []string {
	var out []string
	doc.Find(profileSelector).Each(func(_ int, s *goquery.Selection) {
		out = append(out, scanText(spacedText(s))...)
		if title, ok := s.Attr("title"); ok {
			out = append(out, scanText(title)...)
		}
	})
	return out
}

func mailtoLinks(doc *goquery.Document) []string {
	var out []string
	doc.Find(`a[href^="mailto:"]`).Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimPrefix(strings.ToLower(s.AttrOr("href", "")), "mailto:")
		if i := strings.IndexByte(href, '?'); i >= 0 {
			href = href[:i]
		}
		if href != "" {
			out = append(out, href)
		}
	})
	return out
}

// spacedText is Selection.Text with a space between text nodes, so text in
// adjacent elements never runs together into one token.
func spacedText(s *goquery.Selection) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				if b.Len() > 0 {
					b.WriteByte(' ')
				}
				b.WriteString(t)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range s.Nodes {
		walk(n)
	}
	return b.String()
}
