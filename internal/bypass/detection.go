// Package bypass recognizes bot-protection walls so the scanner can skip
// challenge pages instead of mining them for emails.
package bypass

import (
	"bytes"
	"net/http"
	"slices"
	"strings"
)

// Response is the part of a fetched page the detectors look at.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Verdict is the result of running the detectors.
type Verdict struct {
	Detected bool
	Source   string // e.g. "Cloudflare", "Akamai", "PerimeterX", "DataDome"
}

// Detector reports whether res is a block or challenge page and who served it.
type Detector func(res Response) (detected bool, source string)

// Vendor describes one bot-protection product's block page. A response with
// one of Statuses is a hit when the Server header contains any of Servers,
// any of Headers is present, or the body contains every marker of any one
// group in Markers.
type Vendor struct {
	Name     string
	Statuses []int
	Servers  []string
	Headers  []string
	Markers  [][]string
}

var forbidden = []int{http.StatusForbidden}

// Vendors lists the block pages recognized by DefaultDetectors, in order.
var Vendors = []Vendor{
	{
		Name:     "Cloudflare",
		Statuses: []int{http.StatusForbidden, http.StatusServiceUnavailable},
		Servers:  []string{"cloudflare"},
		Headers:  []string{"Cf-Mitigated"},
		Markers:  [][]string{{"cf-browser-verification"}, {"cloudflare-nginx"}, {"cf-turnstile"}, {"Attention Required! | Cloudflare"}},
	},
	{
		Name:     "Akamai",
		Statuses: forbidden,
		Servers:  []string{"akamai"},
		Markers:  [][]string{{"Reference #", "Access Denied"}},
	},
	{
		Name:     "DataDome",
		Statuses: forbidden,
		Servers:  []string{"datadome"},
		Headers:  []string{"X-DataDome", "X-DataDome-Response"},
		Markers:  [][]string{{"geo.captcha-delivery.com"}, {"datadome"}},
	},
	{
		Name:     "PerimeterX",
		Statuses: forbidden,
		Headers:  []string{"X-Px-Captcha"},
		Markers:  [][]string{{"client.perimeterx.net"}, {"px-captcha"}, {"_pxBlock"}},
	},
}

// Detector returns v as a Detector.
func (v Vendor) Detector() Detector {
	return func(res Response) (bool, string) {
		if !slices.Contains(v.Statuses, res.StatusCode) {
			return false, ""
		}
		server := strings.ToLower(res.Headers.Get("Server"))
		for _, s := range v.Servers {
			if strings.Contains(server, s) {
				return true, v.Name
			}
		}
		for _, h := range v.Headers {
			if res.Headers.Get(h) != "" {
				return true, v.Name
			}
		}
		for _, group := range v.Markers {
			if containsAll(res.Body, group) {
				return true, v.Name
			}
		}
		return false, ""
	}
}

func containsAll(body []byte, markers []string) bool {
	for _, m := range markers {
		if !bytes.Contains(body, []byte(m)) {
			return false
		}
	}
	return len(markers) > 0
}

// DefaultDetectors returns the vendor detectors followed by the generic
// captcha-wall and throttling checks.
func DefaultDetectors() []Detector {
	out := make([]Detector, 0, len(Vendors)+2)
	for _, v := range Vendors {
		out = append(out, v.Detector())
	}
	return append(out, captchaWall, rateLimited)
}

// Analyze runs res through detectors and returns the first hit.
func Analyze(res Response, detectors []Detector) Verdict {
	for _, d := range detectors {
		if detected, source := d(res); detected {
			return Verdict{Detected: true, Source: source}
		}
	}
	return Verdict{}
}

// captchaWall catches interstitials that show only a captcha widget. Login
// forms that embed a captcha next to real inputs are not walls.
func captchaWall(res Response) (bool, string) {
	lower := bytes.ToLower(res.Body)
	if !bytes.Contains(lower, []byte("g-recaptcha")) && !bytes.Contains(lower, []byte("h-captcha")) {
		return false, ""
	}
	if res.StatusCode == http.StatusForbidden || res.StatusCode == http.StatusServiceUnavailable ||
		!bytes.Contains(lower, []byte("<input")) {
		return true, "Captcha"
	}
	return false, ""
}

func rateLimited(res Response) (bool, string) {
	if res.StatusCode == http.StatusTooManyRequests {
		return true, "RateLimited"
	}
	return false, ""
}
