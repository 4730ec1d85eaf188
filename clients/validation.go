package clients

import (
	"fmt"
	"net/url"

	"socialbackend/core"
	"socialbackend/models"
)

// ValidateMedia checks that every media item has an absolute http(s) URL and a known type
func ValidateMedia(media []models.PostMedia) error {
	for i, m := range media {
		if m.Type != models.MediaTypeImage && m.Type != models.MediaTypeVideo {
			return fmt.Errorf("%w: media %d has unsupported type %q", core.ErrInvalidPost, i, m.Type)
		}
		parsed, err := url.Parse(m.URL)
		if err != nil || !parsed.IsAbs() || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			return fmt.Errorf("%w: media %d needs an absolute http(s) URL", core.ErrInvalidPost, i)
		}
	}
	return nil
}

// PostFailure turns an error into a failed result, flagging credential rejections for reconnection
func PostFailure(err error) *models.PostResult {
	if IsAuthFailure(err) {
		return models.NewPostFailure(fmt.Errorf("%w: %v", core.ErrPublishNeedsReauth, err), true)
	}
	return models.NewPostFailure(fmt.Errorf("%w: %v", core.ErrPublishFailed, err), false)
}
