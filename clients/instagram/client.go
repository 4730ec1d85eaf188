package instagram

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"socialbackend/clients"
	"socialbackend/core"
	"socialbackend/models"
)

// Long-lived Facebook user tokens last 60 days; store a day less.
const longLivedTokenTTL = 59 * 24 * 60 * 60

var scopes = []string{
	"instagram_basic",
	"pages_show_list",
	"pages_read_engagement",
	"business_management",
	"instagram_content_publish",
	"instagram_manage_comments",
	"instagram_manage_insights",
}

type Endpoints struct {
	AuthURL      string
	GraphBaseURL string
}

var DefaultEndpoints = Endpoints{
	AuthURL:      "https://www.facebook.com/v20.0/dialog/oauth",
	GraphBaseURL: "https://graph.facebook.com/v20.0",
}

// InstagramAdapter publishes to an Instagram business account reached through a Facebook page.
type InstagramAdapter struct {
	cfg         clients.ProviderConfig
	oauthConfig *oauth2.Config
	endpoints   Endpoints
	httpClient  *http.Client
}

type accessTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type pagesResponse struct {
	Data []struct {
		ID                       string `json:"id"`
		Name                     string `json:"name"`
		Username                 string `json:"username"`
		InstagramBusinessAccount *struct {
			ID string `json:"id"`
		} `json:"instagram_business_account"`
		Picture struct {
			Data struct {
				URL string `json:"url"`
			} `json:"data"`
		} `json:"picture"`
	} `json:"data"`
}

type idResponse struct {
	ID string `json:"id"`
}

type permalinkResponse struct {
	Permalink string `json:"permalink"`
}

func NewInstagramAdapter(cfg clients.ProviderConfig, endpoints Endpoints, httpClient *http.Client) *InstagramAdapter {
	if httpClient == nil {
		httpClient = clients.NewHTTPClient()
	}
	return &InstagramAdapter{
		cfg: cfg,
		oauthConfig: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Endpoint: oauth2.Endpoint{
				AuthURL:   endpoints.AuthURL,
				TokenURL:  endpoints.GraphBaseURL + "/oauth/access_token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		endpoints:  endpoints,
		httpClient: httpClient,
	}
}

func (a *InstagramAdapter) Identifier() models.ProviderIdentifier {
	return models.ProviderInstagram
}

func (a *InstagramAdapter) GenerateAuthURL() (*models.AuthURL, error) {
	state, err := clients.NewState()
	if err != nil {
		return nil, err
	}
	// Facebook expects a comma separated scope list
	return &models.AuthURL{
		URL:   a.oauthConfig.AuthCodeURL(state, oauth2.SetAuthURLParam("scope", strings.Join(scopes, ","))),
		State: state,
	}, nil
}

// Authenticate runs the whole Facebook dance: code -> short-lived token -> long-lived token ->
// page discovery. Nothing is returned unless a page with an Instagram business account exists.
func (a *InstagramAdapter) Authenticate(ctx context.Context, code, _ string) (*models.AuthTokenDetails, error) {
	shortLived, err := a.oauthConfig.Exchange(clients.WithHTTPClient(ctx, a.httpClient), code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrTokenExchangeFailed, err)
	}

	longLived, err := a.exchangeLongLived(ctx, shortLived.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("%w: long-lived token exchange: %v", core.ErrTokenExchangeFailed, err)
	}

	query := url.Values{}
	query.Set("fields", "id,instagram_business_account,username,name,picture.type(large)")
	query.Set("limit", "500")
	query.Set("access_token", longLived.AccessToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.endpoints.GraphBaseURL+"/me/accounts?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var pages pagesResponse
	if err := clients.DoJSON(a.httpClient, req, &pages); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrProfileFetchFailed, err)
	}

	for _, page := range pages.Data {
		if page.InstagramBusinessAccount == nil || page.InstagramBusinessAccount.ID == "" {
			continue
		}
		return &models.AuthTokenDetails{
			ID:           page.InstagramBusinessAccount.ID,
			Name:         page.Name,
			Picture:      page.Picture.Data.URL,
			Username:     page.Username,
			AccessToken:  longLived.AccessToken,
			RefreshToken: longLived.AccessToken,
			ExpiresIn:    longLivedTokenTTL,
		}, nil
	}

	return nil, fmt.Errorf("%w: no Instagram Business account found", core.ErrProfileFetchFailed)
}

// RefreshToken re-exchanges the long-lived token. The new token is also the next refresh token.
func (a *InstagramAdapter) RefreshToken(ctx context.Context, refreshToken string) (*models.OAuthTokens, error) {
	token, err := a.exchangeLongLived(ctx, refreshToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrTokenRefreshRejected, err)
	}

	expiresIn := token.ExpiresIn
	if expiresIn == 0 {
		expiresIn = longLivedTokenTTL
	}

	return &models.OAuthTokens{
		AccessToken:  token.AccessToken,
		RefreshToken: token.AccessToken,
		ExpiresIn:    expiresIn,
	}, nil
}

func ValidatePost(details *models.PostDetails) error {
	if details == nil || len(details.Media) == 0 {
		return fmt.Errorf("%w: instagram posts need at least one media item", core.ErrInvalidPost)
	}
	if len(details.Media) > 10 {
		return fmt.Errorf("%w: instagram carousels take at most 10 items", core.ErrInvalidPost)
	}
	return clients.ValidateMedia(details.Media)
}

// Post creates media containers and then publishes them. Containers that are never published
// expire on their own, so a failed publish leaves no visible post.
func (a *InstagramAdapter) Post(
	ctx context.Context,
	accessToken, internalID string,
	details *models.PostDetails,
) *models.PostResult {
	if err := ValidatePost(details); err != nil {
		return models.NewPostFailure(err, false)
	}

	var creationID string
	if len(details.Media) == 1 {
		id, err := a.createContainer(ctx, accessToken, internalID, details.Media[0], details.Text, false)
		if err != nil {
			return clients.PostFailure(err)
		}
		creationID = id
	} else {
		children := make([]string, 0, len(details.Media))
		for _, m := range details.Media {
			id, err := a.createContainer(ctx, accessToken, internalID, m, "", true)
			if err != nil {
				return clients.PostFailure(err)
			}
			children = append(children, id)
		}

		form := url.Values{}
		form.Set("media_type", "CAROUSEL")
		form.Set("children", strings.Join(children, ","))
		form.Set("caption", details.Text)
		var carousel idResponse
		if err := a.postForm(ctx, fmt.Sprintf("/%s/media", internalID), accessToken, form, &carousel); err != nil {
			return clients.PostFailure(fmt.Errorf("failed to create carousel container: %w", err))
		}
		creationID = carousel.ID
	}

	form := url.Values{}
	form.Set("creation_id", creationID)
	var published idResponse
	if err := a.postForm(ctx, fmt.Sprintf("/%s/media_publish", internalID), accessToken, form, &published); err != nil {
		return clients.PostFailure(fmt.Errorf("failed to publish media: %w", err))
	}

	return &models.PostResult{
		Success:    true,
		PostID:     published.ID,
		ReleaseURL: a.permalink(ctx, accessToken, published.ID),
	}
}

func (a *InstagramAdapter) createContainer(
	ctx context.Context,
	accessToken, internalID string,
	media models.PostMedia,
	caption string,
	carouselItem bool,
) (string, error) {
	form := url.Values{}
	if media.Type == models.MediaTypeVideo {
		form.Set("media_type", "REELS")
		form.Set("video_url", media.URL)
	} else {
		form.Set("image_url", media.URL)
	}
	if caption != "" {
		form.Set("caption", caption)
	}
	if carouselItem {
		form.Set("is_carousel_item", "true")
		if media.Type == models.MediaTypeVideo {
			form.Set("media_type", "VIDEO")
		}
	}

	var container idResponse
	if err := a.postForm(ctx, fmt.Sprintf("/%s/media", internalID), accessToken, form, &container); err != nil {
		return "", fmt.Errorf("failed to create media container: %w", err)
	}
	if container.ID == "" {
		return "", fmt.Errorf("media container response has no id")
	}
	return container.ID, nil
}

// permalink is best effort; a missing link doesn't fail an already published post
func (a *InstagramAdapter) permalink(ctx context.Context, accessToken, mediaID string) string {
	query := url.Values{}
	query.Set("fields", "permalink")
	query.Set("access_token", accessToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/%s?%s", a.endpoints.GraphBaseURL, mediaID, query.Encode()), nil)
	if err != nil {
		return ""
	}
	var resp permalinkResponse
	if err := clients.DoJSON(a.httpClient, req, &resp); err != nil {
		return ""
	}
	return resp.Permalink
}

func (a *InstagramAdapter) exchangeLongLived(ctx context.Context, token string) (*accessTokenResponse, error) {
	query := url.Values{}
	query.Set("grant_type", "fb_exchange_token")
	query.Set("client_id", a.cfg.ClientID)
	query.Set("client_secret", a.cfg.ClientSecret)
	query.Set("fb_exchange_token", token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.endpoints.GraphBaseURL+"/oauth/access_token?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var resp accessTokenResponse
	if err := clients.DoJSON(a.httpClient, req, &resp); err != nil {
		return nil, err
	}
	if resp.AccessToken == "" {
		return nil, fmt.Errorf("token response has no access token")
	}
	return &resp, nil
}

func (a *InstagramAdapter) postForm(ctx context.Context, path, accessToken string, form url.Values, out any) error {
	form.Set("access_token", accessToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoints.GraphBaseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return clients.DoJSON(a.httpClient, req, out)
}
