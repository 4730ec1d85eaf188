package models

import "time"

// AuthURL is what an adapter hands back when starting an authorization flow.
// CodeVerifier is empty for providers that don't use PKCE.
type AuthURL struct {
	URL          string
	State        string
	CodeVerifier string
}

// AuthTokenDetails is the outcome of a code exchange plus profile fetch.
// On failure only Error and Code are set.
type AuthTokenDetails struct {
	ID           string `json:"id,omitempty"`
	Name         string `json:"name,omitempty"`
	Picture      string `json:"picture,omitempty"`
	Username     string `json:"username,omitempty"`
	AccessToken  string `json:"-"`
	RefreshToken string `json:"-"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	Error        string `json:"error,omitempty"`
	Code         string `json:"code,omitempty"`
}

func (d *AuthTokenDetails) Failed() bool {
	return d == nil || d.Error != ""
}

func NewAuthTokenError(err error, code string) *AuthTokenDetails {
	return &AuthTokenDetails{Error: err.Error(), Code: code}
}

type OAuthTokens struct {
	AccessToken  string `json:"-"`
	RefreshToken string `json:"-"`
	ExpiresIn    int64  `json:"expires_in"`
}

type MediaType string

const (
	MediaTypeImage MediaType = "image"
	MediaTypeVideo MediaType = "video"
)

type PostMedia struct {
	URL  string    `json:"url"`
	Type MediaType `json:"type"`
}

// PostDetails is the provider-agnostic content of a post.
type PostDetails struct {
	Text          string      `json:"text"`
	Title         string      `json:"title,omitempty"`
	Media         []PostMedia `json:"media,omitempty"`
	ReplySettings string      `json:"reply_settings,omitempty"`
	Privacy       string      `json:"privacy,omitempty"`
}

type PostResult struct {
	Success     bool   `json:"success"`
	PostID      string `json:"post_id,omitempty"`
	ReleaseURL  string `json:"release_url,omitempty"`
	Error       string `json:"error,omitempty"`
	NeedsReauth bool   `json:"needs_reauth,omitempty"`
}

func NewPostFailure(err error, needsReauth bool) *PostResult {
	return &PostResult{Success: false, Error: err.Error(), NeedsReauth: needsReauth}
}

// IntegrationStatus describes whether a user has a usable connection for one provider.
type IntegrationStatus struct {
	ProviderIdentifier ProviderIdentifier `json:"provider_identifier"`
	Connected          bool               `json:"connected"`
	NeedsReconnect     bool               `json:"needs_reconnect"`
	TokenExpiration    *time.Time         `json:"token_expiration,omitempty"`
}
