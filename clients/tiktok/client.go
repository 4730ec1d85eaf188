package tiktok

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"socialbackend/clients"
	"socialbackend/core"
	"socialbackend/models"
)

var scopes = []string{"user.info.basic", "video.publish", "video.upload"}

var privacyLevels = map[string]string{
	"":         "SELF_ONLY",
	"private":  "SELF_ONLY",
	"public":   "PUBLIC_TO_EVERYONE",
	"unlisted": "MUTUAL_FOLLOW_FRIENDS",
}

type Endpoints struct {
	AuthURL    string
	APIBaseURL string
}

var DefaultEndpoints = Endpoints{
	AuthURL:    "https://www.tiktok.com/v2/auth/authorize/",
	APIBaseURL: "https://open.tiktokapis.com",
}

// TikTokAdapter talks to the TikTok v2 open API. TikTok calls the client id a client key
// and answers some failures with 200 plus an error body, so it doesn't go through oauth2.Config.
type TikTokAdapter struct {
	cfg        clients.ProviderConfig
	endpoints  Endpoints
	httpClient *http.Client
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	ExpiresIn        int64  `json:"expires_in"`
	RefreshExpiresIn int64  `json:"refresh_expires_in"`
	OpenID           string `json:"open_id"`
	Scope            string `json:"scope"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	LogID   string `json:"log_id"`
}

func (e apiError) failed() bool {
	return e.Code != "" && e.Code != "ok"
}

type userInfoResponse struct {
	Data struct {
		User struct {
			OpenID      string `json:"open_id"`
			DisplayName string `json:"display_name"`
			AvatarURL   string `json:"avatar_url"`
			Username    string `json:"username"`
		} `json:"user"`
	} `json:"data"`
	Error apiError `json:"error"`
}

type publishInitResponse struct {
	Data struct {
		PublishID string `json:"publish_id"`
	} `json:"data"`
	Error apiError `json:"error"`
}

type publishStatusResponse struct {
	Data struct {
		Status                   string  `json:"status"`
		FailReason               string  `json:"fail_reason"`
		PubliclyAvailablePostIDs []int64 `json:"publicaly_available_post_id"`
	} `json:"data"`
	Error apiError `json:"error"`
}

func NewTikTokAdapter(cfg clients.ProviderConfig, endpoints Endpoints, httpClient *http.Client) *TikTokAdapter {
	if httpClient == nil {
		httpClient = clients.NewHTTPClient()
	}
	return &TikTokAdapter{cfg: cfg, endpoints: endpoints, httpClient: httpClient}
}

func (a *TikTokAdapter) Identifier() models.ProviderIdentifier {
	return models.ProviderTikTok
}

func (a *TikTokAdapter) GenerateAuthURL() (*models.AuthURL, error) {
	state, err := clients.NewState()
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("client_key", a.cfg.ClientID)
	query.Set("response_type", "code")
	query.Set("scope", strings.Join(scopes, ","))
	query.Set("redirect_uri", a.cfg.RedirectURI)
	query.Set("state", state)

	return &models.AuthURL{URL: a.endpoints.AuthURL + "?" + query.Encode(), State: state}, nil
}

func (a *TikTokAdapter) Authenticate(ctx context.Context, code, _ string) (*models.AuthTokenDetails, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", a.cfg.RedirectURI)

	token, err := a.requestToken(ctx, form)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrTokenExchangeFailed, err)
	}

	req, err := clients.NewJSONRequest(
		ctx,
		http.MethodGet,
		a.endpoints.APIBaseURL+"/v2/user/info/?fields=open_id,avatar_url,display_name,username",
		token.AccessToken,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrProfileFetchFailed, err)
	}

	var info userInfoResponse
	if err := clients.DoJSON(a.httpClient, req, &info); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrProfileFetchFailed, err)
	}
	if info.Error.failed() {
		return nil, fmt.Errorf("%w: %s: %s", core.ErrProfileFetchFailed, info.Error.Code, info.Error.Message)
	}

	openID := info.Data.User.OpenID
	if openID == "" {
		openID = token.OpenID
	}

	return &models.AuthTokenDetails{
		ID:           openID,
		Name:         info.Data.User.DisplayName,
		Picture:      info.Data.User.AvatarURL,
		Username:     info.Data.User.Username,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresIn:    token.ExpiresIn,
	}, nil
}

func (a *TikTokAdapter) RefreshToken(ctx context.Context, refreshToken string) (*models.OAuthTokens, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	token, err := a.requestToken(ctx, form)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrTokenRefreshRejected, err)
	}

	return &models.OAuthTokens{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresIn:    token.ExpiresIn,
	}, nil
}

func ValidatePost(details *models.PostDetails) error {
	if details == nil || len(details.Media) == 0 {
		return fmt.Errorf("%w: tiktok posts need a video or photos", core.ErrInvalidPost)
	}
	if _, ok := privacyLevels[details.Privacy]; !ok {
		return fmt.Errorf("%w: unsupported privacy %q", core.ErrInvalidPost, details.Privacy)
	}
	videos := 0
	for _, m := range details.Media {
		if m.Type == models.MediaTypeVideo {
			videos++
		}
	}
	if videos > 0 && len(details.Media) > 1 {
		return fmt.Errorf("%w: a tiktok video post takes exactly one video", core.ErrInvalidPost)
	}
	return clients.ValidateMedia(details.Media)
}

// Post asks TikTok to pull the media from its URL, then checks the publish status once.
func (a *TikTokAdapter) Post(
	ctx context.Context,
	accessToken, internalID string,
	details *models.PostDetails,
) *models.PostResult {
	if err := ValidatePost(details); err != nil {
		return models.NewPostFailure(err, false)
	}

	path, payload := a.publishPayload(details)
	req, err := clients.NewJSONRequest(ctx, http.MethodPost, a.endpoints.APIBaseURL+path, accessToken, payload)
	if err != nil {
		return clients.PostFailure(err)
	}

	var initResp publishInitResponse
	if err := clients.DoJSON(a.httpClient, req, &initResp); err != nil {
		return clients.PostFailure(err)
	}
	if initResp.Error.failed() {
		return a.apiFailure(initResp.Error)
	}

	statusReq, err := clients.NewJSONRequest(
		ctx,
		http.MethodPost,
		a.endpoints.APIBaseURL+"/v2/post/publish/status/fetch/",
		accessToken,
		map[string]string{"publish_id": initResp.Data.PublishID},
	)
	if err != nil {
		return clients.PostFailure(err)
	}

	var status publishStatusResponse
	if err := clients.DoJSON(a.httpClient, statusReq, &status); err != nil {
		return clients.PostFailure(err)
	}
	if status.Error.failed() {
		return a.apiFailure(status.Error)
	}
	if status.Data.Status == "FAILED" {
		return clients.PostFailure(fmt.Errorf("publish failed: %s", status.Data.FailReason))
	}

	result := &models.PostResult{Success: true, PostID: initResp.Data.PublishID}
	if len(status.Data.PubliclyAvailablePostIDs) > 0 {
		result.PostID = fmt.Sprintf("%d", status.Data.PubliclyAvailablePostIDs[0])
		result.ReleaseURL = fmt.Sprintf("https://www.tiktok.com/video/%s", result.PostID)
	}
	return result
}

func (a *TikTokAdapter) publishPayload(details *models.PostDetails) (string, map[string]any) {
	privacy := privacyLevels[details.Privacy]

	if details.Media[0].Type == models.MediaTypeVideo {
		return "/v2/post/publish/video/init/", map[string]any{
			"post_info": map[string]any{
				"title":         details.Text,
				"privacy_level": privacy,
			},
			"source_info": map[string]any{
				"source":    "PULL_FROM_URL",
				"video_url": details.Media[0].URL,
			},
		}
	}

	images := make([]string, 0, len(details.Media))
	for _, m := range details.Media {
		images = append(images, m.URL)
	}
	return "/v2/post/publish/content/init/", map[string]any{
		"media_type": "PHOTO",
		"post_mode":  "DIRECT_POST",
		"post_info": map[string]any{
			"title":         details.Title,
			"description":   details.Text,
			"privacy_level": privacy,
		},
		"source_info": map[string]any{
			"source":            "PULL_FROM_URL",
			"photo_images":      images,
			"photo_cover_index": 0,
		},
	}
}

func (a *TikTokAdapter) apiFailure(apiErr apiError) *models.PostResult {
	err := fmt.Errorf("%s: %s", apiErr.Code, apiErr.Message)
	if apiErr.Code == "access_token_invalid" || apiErr.Code == "scope_not_authorized" {
		return models.NewPostFailure(fmt.Errorf("%w: %v", core.ErrPublishNeedsReauth, err), true)
	}
	return models.NewPostFailure(fmt.Errorf("%w: %v", core.ErrPublishFailed, err), false)
}

func (a *TikTokAdapter) requestToken(ctx context.Context, form url.Values) (*tokenResponse, error) {
	form.Set("client_key", a.cfg.ClientID)
	form.Set("client_secret", a.cfg.ClientSecret)

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		a.endpoints.APIBaseURL+"/v2/oauth/token/",
		strings.NewReader(form.Encode()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var token tokenResponse
	if err := clients.DoJSON(a.httpClient, req, &token); err != nil {
		return nil, err
	}
	if token.Error != "" {
		return nil, fmt.Errorf("%s: %s", token.Error, token.ErrorDescription)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("token response has no access token")
	}
	return &token, nil
}
