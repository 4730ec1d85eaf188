package models

import (
	"time"
)

type ProviderIdentifier string

const (
	ProviderTwitter   ProviderIdentifier = "twitter"
	ProviderLinkedIn  ProviderIdentifier = "linkedin"
	ProviderYouTube   ProviderIdentifier = "youtube"
	ProviderInstagram ProviderIdentifier = "instagram"
	ProviderTikTok    ProviderIdentifier = "tiktok"
)

func (p ProviderIdentifier) String() string {
	return string(p)
}

// Integration is one connected third-party account. Tokens never leave the backend.
type Integration struct {
	ID                 string             `db:"id"                  json:"id"`
	UserID             string             `db:"user_id"             json:"user_id"`
	ProviderIdentifier ProviderIdentifier `db:"provider_identifier" json:"provider_identifier"`
	InternalID         string             `db:"internal_id"         json:"internal_id"`
	Name               *string            `db:"name"                json:"name"`
	Picture            *string            `db:"picture"             json:"picture"`
	Profile            *string            `db:"profile"             json:"profile"`
	Token              string             `db:"token"               json:"-"`
	RefreshToken       *string            `db:"refresh_token"       json:"-"`
	TokenExpiration    *time.Time         `db:"token_expiration"    json:"token_expiration"`
	TokenVersion       int64              `db:"token_version"       json:"-"`
	RefreshNeeded      bool               `db:"refresh_needed"      json:"refresh_needed"`
	Disabled           bool               `db:"disabled"            json:"disabled"`
	DeletedAt          *time.Time         `db:"deleted_at"          json:"deleted_at"`
	CreatedAt          time.Time          `db:"created_at"          json:"created_at"`
	UpdatedAt          time.Time          `db:"updated_at"          json:"updated_at"`
}

func (i *Integration) IsDeleted() bool {
	return i.DeletedAt != nil
}

// IsExpired reports whether the stored access token can no longer be trusted at now.
// A record flagged for refresh is treated as expired regardless of its expiration.
func (i *Integration) IsExpired(now time.Time) bool {
	if i.RefreshNeeded {
		return true
	}
	if i.TokenExpiration == nil {
		return false
	}
	return !now.Before(*i.TokenExpiration)
}

func (i *Integration) HasRefreshToken() bool {
	return i.RefreshToken != nil && *i.RefreshToken != ""
}
