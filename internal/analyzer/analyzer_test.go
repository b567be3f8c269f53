package analyzer

import (
	"testing"
)

func TestFindTermMatches(t *testing.T) {
	snippets := []string{"Sign in", "Forgot   password?", "", "New here? Sign in with SSO or sign in with Google"}

	got := FindTermMatches(snippets, "https://acme.io/login", []string{"sign in", "forgot password", "missing", " "})
	if len(got) != 2 {
		t.Fatalf("expected 2 matches, got %d: %+v", len(got), got)
	}
	if got[0].Term != "sign in" || got[0].Count != 3 || len(got[0].Snippets) != 2 {
		t.Errorf("unexpected first match: %+v", got[0])
	}
	if got[1].Snippets[0] != "Forgot password?" {
		t.Errorf("whitespace not collapsed: %q", got[1].Snippets)
	}
	if got[1].URL != "https://acme.io/login" {
		t.Errorf("URL not carried: %q", got[1].URL)
	}

	if FindTermMatches([]string{" ", ""}, "u", []string{"x"}) != nil {
		t.Error("expected nil for blank snippets")
	}
}

func TestScoreLoginPage(t *testing.T) {
	tests := []struct {
		name      string
		html      string
		wantLogin bool
	}{
		{
			name:      "password form",
			html:      `<form><input name="u"><input type="password"></form>`,
			wantLogin: true,
		},
		{
			name:      "identifier first with terms",
			html:      `<h1>Sign in</h1><form><input type="email" name="identifier"><button>Next</button></form>`,
			wantLogin: true,
		},
		{
			name:      "identifier with provider button",
			html:      `<input autocomplete="username"><a href="https://accounts.google.com/o/oauth2/auth?x=1">Google</a>`,
			wantLogin: true,
		},
		{
			name:      "newsletter box",
			html:      `<h2>Our newsletter</h2><input type="email" name="newsletter">`,
			wantLogin: false,
		},
		{
			name:      "article",
			html:      `<article><p>How to sign in to anything.</p></article>`,
			wantLogin: false,
		},
		{
			name:      "empty",
			html:      ``,
			wantLogin: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := ScoreLoginPage([]byte(tt.html), "https://example.com", loginTerms)
			if sig.IsLogin != tt.wantLogin {
				t.Errorf("IsLogin = %v, want %v (signals %+v)", sig.IsLogin, tt.wantLogin, sig)
			}
		})
	}
}
