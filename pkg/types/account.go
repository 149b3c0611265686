package types

import (
	"fmt"
	"strings"
)

// NegotiationProfile selects how a session talks to a provider after login.
type NegotiationProfile string

const (
	// ProfileStandard needs nothing beyond RFC 3501 LOGIN.
	ProfileStandard NegotiationProfile = "standard"
	// ProfilePostLoginHandshake requires an ID announcement immediately
	// after LOGIN, before any other command.
	ProfilePostLoginHandshake NegotiationProfile = "post-login-handshake"
)

// handshakeDomains are providers known to reject sessions without an ID
// announcement. Only used to suggest a profile for accounts that do not
// configure one.
var handshakeDomains = []string{
	"163.com",
	"126.com",
	"yeah.net",
	"188.com",
}

// ParseProfile parses a configured profile name. The empty string parses
// to the empty profile so callers can fall back to SuggestProfile.
func ParseProfile(s string) (NegotiationProfile, error) {
	switch p := NegotiationProfile(strings.ToLower(strings.TrimSpace(s))); p {
	case "", ProfileStandard, ProfilePostLoginHandshake:
		return p, nil
	default:
		return "", fmt.Errorf("unknown negotiation profile %q", s)
	}
}

// SuggestProfile picks a profile from the server host or the account
// address domain.
func SuggestProfile(host, email string) NegotiationProfile {
	domain := email
	if i := strings.LastIndexByte(email, '@'); i >= 0 {
		domain = email[i+1:]
	}
	host = strings.ToLower(host)
	domain = strings.ToLower(domain)
	for _, d := range handshakeDomains {
		if domain == d || host == "imap."+d || strings.HasSuffix(host, "."+d) {
			return ProfilePostLoginHandshake
		}
	}
	return ProfileStandard
}

// Account is a mail account reference. Credentials are never stored here.
type Account struct {
	ID                 string             `json:"id"`
	Name               string             `json:"name"`
	Email              string             `json:"email"`
	IMAPHost           string             `json:"imap_host"`
	IMAPPort           int                `json:"imap_port"`
	SMTPHost           string             `json:"smtp_host"`
	SMTPPort           int                `json:"smtp_port"`
	Profile            NegotiationProfile `json:"profile"`
	InsecureSkipVerify bool               `json:"insecure_skip_verify"`
}

// IMAPAddr returns host:port of the IMAP endpoint.
func (a *Account) IMAPAddr() string {
	return fmt.Sprintf("%s:%d", a.IMAPHost, a.IMAPPort)
}

// PasswordKey is the secret-store entry name of the account password.
func (a *Account) PasswordKey() string {
	return "mailflow:email:password:" + a.ID
}

// EffectiveProfile returns the configured profile, or the suggested one if
// none is configured.
func (a *Account) EffectiveProfile() NegotiationProfile {
	if a.Profile != "" {
		return a.Profile
	}
	return SuggestProfile(a.IMAPHost, a.Email)
}
