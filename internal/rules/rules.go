// Package rules holds the single heuristic ruleset shared by the extractor,
// validator, observer and record store.
package rules

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Ruleset enumerates every tunable heuristic constant.
type Ruleset struct {
	Denylist          []string      `mapstructure:"denylist" json:"denylist" validate:"dive,required"`
	ProviderAllowlist []string      `mapstructure:"provider_allowlist" json:"provider_allowlist" validate:"dive,required,fqdn"`
	MultiPartSuffixes []string      `mapstructure:"multi_part_suffixes" json:"multi_part_suffixes" validate:"dive,required,contains=."`
	FieldKeys         []string      `mapstructure:"field_keys" json:"field_keys" validate:"min=1,dive,required"`
	OAuthPatterns     []string      `mapstructure:"oauth_patterns" json:"oauth_patterns" validate:"min=1,dive,required"`
	LoginTerms        []string      `mapstructure:"login_terms" json:"login_terms" validate:"dive,required"`
	RecordCap         int           `mapstructure:"record_cap" json:"record_cap" validate:"min=1,max=100"`
	SettleDelay       time.Duration `mapstructure:"settle_delay" json:"settle_delay" validate:"min=0"`
	MaxJSONDepth      int           `mapstructure:"max_json_depth" json:"max_json_depth" validate:"min=1,max=256"`
}

// Default returns the built-in ruleset.
func Default() Ruleset {
	return Ruleset{
		Denylist: []string{
			"noreply", "support", "admin", "test", "example", "placeholder",
			"token", "session", "auth", "key", "secret", "hash", "digest", "signature",
		},
		ProviderAllowlist: []string{
			"gmail.com", "yahoo.com", "outlook.com", "hotmail.com", "icloud.com",
			"protonmail.com", "mail.com", "yandex.com", "zoho.com", "aol.com",
		},
		MultiPartSuffixes: []string{
			"co.uk", "org.uk", "ac.uk", "gov.uk", "com.au", "net.au", "org.au",
			"co.nz", "co.jp", "co.in", "com.br", "com.cn", "com.mx", "co.za", "com.sg",
		},
		FieldKeys: []string{
			"email", "username", "login", "user", "mail", "userEmail", "user_email",
			"emailAddress", "email_address", "login_hint", "identifier", "account",
		},
		OAuthPatterns: []string{
			"/oauth", "/authorize", "/login", "/signin", "/sign-in", "/sign_in",
			"/auth/callback", "/callback", "/sso", "/session", "/token",
			"accounts.google.com", "login.microsoftonline.com", "login.live.com",
			"appleid.apple.com", "github.com/login", "facebook.com/dialog/oauth",
			"api.twitter.com/oauth", `re:[?&](code|state|id_token)=`,
		},
		LoginTerms: []string{
			"sign in", "log in", "login", "signin", "password", "forgot password",
			"continue with google", "continue with apple", "create account",
		},
		RecordCap:    5,
		SettleDelay:  1500 * time.Millisecond,
		MaxJSONDepth: 32,
	}
}

// Validate checks the ruleset using its struct tags.
func (r Ruleset) Validate() error {
	if err := validator.New().Struct(r); err != nil {
		return fmt.Errorf("invalid ruleset: %w", err)
	}
	return nil
}

// WithDefaults fills zero-valued fields from Default.
func (r Ruleset) WithDefaults() Ruleset {
	d := Default()
	if len(r.Denylist) == 0 {
		r.Denylist = d.Denylist
	}
	if len(r.ProviderAllowlist) == 0 {
		r.ProviderAllowlist = d.ProviderAllowlist
	}
	if len(r.MultiPartSuffixes) == 0 {
		r.MultiPartSuffixes = d.MultiPartSuffixes
	}
	if len(r.FieldKeys) == 0 {
		r.FieldKeys = d.FieldKeys
	}
	if len(r.OAuthPatterns) == 0 {
		r.OAuthPatterns = d.OAuthPatterns
	}
	if len(r.LoginTerms) == 0 {
		r.LoginTerms = d.LoginTerms
	}
	if r.RecordCap == 0 {
		r.RecordCap = d.RecordCap
	}
	if r.SettleDelay == 0 {
		r.SettleDelay = d.SettleDelay
	}
	if r.MaxJSONDepth == 0 {
		r.MaxJSONDepth = d.MaxJSONDepth
	}
	return r
}

// IsFieldKey reports whether name matches one of the field keys,
// ignoring case, dashes and underscores.
func (r Ruleset) IsFieldKey(name string) bool {
	n := foldKey(name)
	if n == "" {
		return false
	}
	for _, k := range r.FieldKeys {
		if foldKey(k) == n {
			return true
		}
	}
	return false
}

// FieldKeyRank returns the position of name in FieldKeys, or -1.
func (r Ruleset) FieldKeyRank(name string) int {
	n := foldKey(name)
	for i, k := range r.FieldKeys {
		if foldKey(k) == n {
			return i
		}
	}
	return -1
}

func foldKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer("_", "", "-", "").Replace(s)
}
