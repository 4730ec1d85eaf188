package api

import (
	"time"
)

// UserModel represents the user data returned by the API
type UserModel struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IntegrationModel is the public view of a connected account. Tokens are never included.
type IntegrationModel struct {
	ID                 string     `json:"id"`
	ProviderIdentifier string     `json:"providerIdentifier"`
	InternalID         string     `json:"internalId"`
	Name               string     `json:"name"`
	Picture            string     `json:"picture"`
	Profile            string     `json:"profile"`
	TokenExpiration    *time.Time `json:"tokenExpiration"`
	RefreshNeeded      bool       `json:"refreshNeeded"`
	Disabled           bool       `json:"disabled"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

type CreatePostRequest struct {
	Text          string           `json:"text"`
	Title         string           `json:"title,omitempty"`
	Media         []PostMediaModel `json:"media,omitempty"`
	ReplySettings string           `json:"replySettings,omitempty"`
	Privacy       string           `json:"privacy,omitempty"`
}

type PostMediaModel struct {
	URL  string `json:"url"`
	Type string `json:"type"`
}

type PostResultModel struct {
	PostID     string `json:"postId,omitempty"`
	ReleaseURL string `json:"releaseURL,omitempty"`
}

type RefreshResultModel struct {
	ProviderIdentifier string `json:"providerIdentifier"`
	ExpiresIn          int64  `json:"expiresIn"`
}

type IntegrationStatusModel struct {
	ProviderIdentifier string     `json:"providerIdentifier"`
	Connected          bool       `json:"connected"`
	NeedsReconnect     bool       `json:"needsReconnect"`
	TokenExpiration    *time.Time `json:"tokenExpiration,omitempty"`
}

type AuthorizeModel struct {
	URL string `json:"url"`
}

type CallbackModel struct {
	ProviderIdentifier string `json:"providerIdentifier"`
	RedirectURL        string `json:"redirectUrl"`
}

type DeleteIntegrationModel struct {
	ID string `json:"id"`
}
