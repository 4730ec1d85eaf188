package linkedin

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"golang.org/x/oauth2"

	"socialbackend/clients"
	"socialbackend/core"
	"socialbackend/models"
)

const internalIDPrefix = "linkedin_"

var scopes = []string{"r_liteprofile", "r_emailaddress", "w_member_social"}

type Endpoints struct {
	AuthURL    string
	TokenURL   string
	APIBaseURL string
	WebBaseURL string
}

var DefaultEndpoints = Endpoints{
	AuthURL:    "https://www.linkedin.com/oauth/v2/authorization",
	TokenURL:   "https://www.linkedin.com/oauth/v2/accessToken",
	APIBaseURL: "https://api.linkedin.com",
	WebBaseURL: "https://www.linkedin.com",
}

// LinkedInAdapter uses the v2 member APIs. LinkedIn does not take PKCE for web apps, state only.
type LinkedInAdapter struct {
	oauthConfig *oauth2.Config
	endpoints   Endpoints
	httpClient  *http.Client
	mediaClient *http.Client
	maxMedia    int64
}

type localizedName struct {
	Localized       map[string]string `json:"localized"`
	PreferredLocale struct {
		Country  string `json:"country"`
		Language string `json:"language"`
	} `json:"preferredLocale"`
}

func (n localizedName) value() string {
	preferred := n.PreferredLocale.Language + "_" + n.PreferredLocale.Country
	if v, ok := n.Localized[preferred]; ok {
		return v
	}
	keys := make([]string, 0, len(n.Localized))
	for k := range n.Localized {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) == 0 {
		return ""
	}
	return n.Localized[keys[0]]
}

type profileResponse struct {
	ID             string        `json:"id"`
	FirstName      localizedName `json:"firstName"`
	LastName       localizedName `json:"lastName"`
	ProfilePicture struct {
		DisplayImage struct {
			Elements []struct {
				Data struct {
					StillImage struct {
						DisplaySize struct {
							Width  float64 `json:"width"`
							Height float64 `json:"height"`
						} `json:"displaySize"`
					} `json:"com.linkedin.digitalmedia.mediaartifact.StillImage"`
				} `json:"data"`
				Identifiers []struct {
					Identifier string `json:"identifier"`
				} `json:"identifiers"`
			} `json:"elements"`
		} `json:"displayImage~"`
	} `json:"profilePicture"`
}

// picture returns the largest available avatar
func (p *profileResponse) picture() string {
	best, bestArea := "", -1.0
	for _, el := range p.ProfilePicture.DisplayImage.Elements {
		if len(el.Identifiers) == 0 {
			continue
		}
		size := el.Data.StillImage.DisplaySize
		if area := size.Width * size.Height; area > bestArea {
			best, bestArea = el.Identifiers[0].Identifier, area
		}
	}
	return best
}

type emailResponse struct {
	Elements []struct {
		Handle struct {
			EmailAddress string `json:"emailAddress"`
		} `json:"handle~"`
	} `json:"elements"`
}

type registerUploadResponse struct {
	Value struct {
		Asset           string `json:"asset"`
		UploadMechanism struct {
			MediaUpload struct {
				UploadURL string `json:"uploadUrl"`
			} `json:"com.linkedin.digitalmedia.uploading.MediaUploadHttpRequest"`
		} `json:"uploadMechanism"`
	} `json:"value"`
}

type ugcPostResponse struct {
	ID string `json:"id"`
}

func NewLinkedInAdapter(cfg clients.ProviderConfig, endpoints Endpoints, httpClient *http.Client) *LinkedInAdapter {
	if httpClient == nil {
		httpClient = clients.NewHTTPClient()
	}
	return &LinkedInAdapter{
		oauthConfig: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   endpoints.AuthURL,
				TokenURL:  endpoints.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		endpoints:   endpoints,
		httpClient:  httpClient,
		mediaClient: clients.MediaHTTPClient(httpClient),
		maxMedia:    clients.MaxMediaBytes,
	}
}

func (a *LinkedInAdapter) Identifier() models.ProviderIdentifier {
	return models.ProviderLinkedIn
}

func (a *LinkedInAdapter) GenerateAuthURL() (*models.AuthURL, error) {
	state, err := clients.NewState()
	if err != nil {
		return nil, err
	}
	return &models.AuthURL{
		URL:   a.oauthConfig.AuthCodeURL(state),
		State: state,
	}, nil
}

func (a *LinkedInAdapter) Authenticate(ctx context.Context, code, _ string) (*models.AuthTokenDetails, error) {
	token, err := a.oauthConfig.Exchange(clients.WithHTTPClient(ctx, a.httpClient), code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrTokenExchangeFailed, err)
	}

	profile, err := a.getProfile(ctx, token.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrProfileFetchFailed, err)
	}

	// Email is optional display metadata
	email, err := a.getEmail(ctx, token.AccessToken)
	if err != nil {
		email = ""
	}

	name := strings.TrimSpace(profile.FirstName.value() + " " + profile.LastName.value())
	if name == "" {
		name = "LinkedIn User"
	}

	return &models.AuthTokenDetails{
		ID:           internalIDPrefix + profile.ID,
		Name:         name,
		Picture:      profile.picture(),
		Username:     email,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresIn:    clients.ExpiresIn(token),
	}, nil
}

func (a *LinkedInAdapter) RefreshToken(ctx context.Context, refreshToken string) (*models.OAuthTokens, error) {
	token, err := a.oauthConfig.TokenSource(
		clients.WithHTTPClient(ctx, a.httpClient),
		&oauth2.Token{RefreshToken: refreshToken},
	).Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrTokenRefreshRejected, err)
	}

	return &models.OAuthTokens{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresIn:    clients.ExpiresIn(token),
	}, nil
}

func ValidatePost(details *models.PostDetails) error {
	if details == nil || strings.TrimSpace(details.Text) == "" {
		return fmt.Errorf("%w: post text is required", core.ErrInvalidPost)
	}
	return clients.ValidateMedia(details.Media)
}

// Post shares on the member's feed. With media the asset is registered, uploaded and only then
// referenced by the post, so a failed upload never leaves a post behind.
func (a *LinkedInAdapter) Post(
	ctx context.Context,
	accessToken, internalID string,
	details *models.PostDetails,
) *models.PostResult {
	if err := ValidatePost(details); err != nil {
		return models.NewPostFailure(err, false)
	}

	author := "urn:li:person:" + strings.TrimPrefix(internalID, internalIDPrefix)
	shareContent := map[string]any{
		"shareCommentary":    map[string]string{"text": details.Text},
		"shareMediaCategory": "NONE",
	}

	if len(details.Media) > 0 {
		item := details.Media[0]
		asset, err := a.uploadMedia(ctx, accessToken, author, item)
		if err != nil {
			return clients.PostFailure(err)
		}
		category := "IMAGE"
		if item.Type == models.MediaTypeVideo {
			category = "VIDEO"
		}
		shareContent["shareMediaCategory"] = category
		shareContent["media"] = []map[string]any{{
			"status":      "READY",
			"description": map[string]string{"text": ""},
			"media":       asset,
			"title":       map[string]string{"text": details.Title},
		}}
	}

	payload := map[string]any{
		"author":         author,
		"lifecycleState": "PUBLISHED",
		"specificContent": map[string]any{
			"com.linkedin.ugc.ShareContent": shareContent,
		},
		"visibility": map[string]string{
			"com.linkedin.ugc.MemberNetworkVisibility": "PUBLIC",
		},
	}

	req, err := clients.NewJSONRequest(ctx, http.MethodPost, a.endpoints.APIBaseURL+"/v2/ugcPosts", accessToken, payload)
	if err != nil {
		return clients.PostFailure(err)
	}
	req.Header.Set("X-Restli-Protocol-Version", "2.0.0")

	var resp ugcPostResponse
	if err := clients.DoJSON(a.httpClient, req, &resp); err != nil {
		return clients.PostFailure(err)
	}

	return &models.PostResult{
		Success:    true,
		PostID:     resp.ID,
		ReleaseURL: fmt.Sprintf("%s/feed/update/%s", a.endpoints.WebBaseURL, resp.ID),
	}
}

func (a *LinkedInAdapter) uploadMedia(ctx context.Context, accessToken, owner string, item models.PostMedia) (string, error) {
	recipe := "urn:li:digitalmediaRecipe:feedshare-image"
	if item.Type == models.MediaTypeVideo {
		recipe = "urn:li:digitalmediaRecipe:feedshare-video"
	}

	req, err := clients.NewJSONRequest(
		ctx,
		http.MethodPost,
		a.endpoints.APIBaseURL+"/v2/assets?action=registerUpload",
		accessToken,
		map[string]any{
			"registerUploadRequest": map[string]any{
				"recipes": []string{recipe},
				"owner":   owner,
				"serviceRelationships": []map[string]string{{
					"relationshipType": "OWNER",
					"identifier":       "urn:li:userGeneratedContent",
				}},
			},
		},
	)
	if err != nil {
		return "", err
	}

	var registered registerUploadResponse
	if err := clients.DoJSON(a.httpClient, req, &registered); err != nil {
		return "", fmt.Errorf("failed to register upload: %w", err)
	}
	uploadURL := registered.Value.UploadMechanism.MediaUpload.UploadURL
	if registered.Value.Asset == "" || uploadURL == "" {
		return "", fmt.Errorf("register upload response is missing the asset or upload URL")
	}

	mediaCtx, cancel := context.WithTimeout(ctx, clients.MediaTransferTimeout)
	defer cancel()

	content, err := a.download(mediaCtx, item.URL)
	if err != nil {
		return "", fmt.Errorf("failed to fetch media: %w", err)
	}

	uploadReq, err := http.NewRequestWithContext(mediaCtx, http.MethodPut, uploadURL, bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("failed to create upload request: %w", err)
	}
	uploadReq.Header.Set("Authorization", "Bearer "+accessToken)
	uploadReq.Header.Set("Content-Type", "application/octet-stream")
	if err := clients.DoJSON(a.mediaClient, uploadReq, nil); err != nil {
		return "", fmt.Errorf("failed to upload media: %w", err)
	}

	return registered.Value.Asset, nil
}

func (a *LinkedInAdapter) download(ctx context.Context, mediaURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.mediaClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("media URL returned status %d", resp.StatusCode)
	}
	if resp.ContentLength > a.maxMedia {
		return nil, fmt.Errorf("%w: media is %d bytes, limit %d", core.ErrInvalidPost, resp.ContentLength, a.maxMedia)
	}
	return clients.ReadMedia(resp.Body, a.maxMedia)
}

func (a *LinkedInAdapter) getProfile(ctx context.Context, accessToken string) (*profileResponse, error) {
	req, err := clients.NewJSONRequest(
		ctx,
		http.MethodGet,
		a.endpoints.APIBaseURL+"/v2/me?projection=(id,firstName,lastName,profilePicture(displayImage~:playableStreams))",
		accessToken,
		nil,
	)
	if err != nil {
		return nil, err
	}

	var profile profileResponse
	if err := clients.DoJSON(a.httpClient, req, &profile); err != nil {
		return nil, err
	}
	if profile.ID == "" {
		return nil, fmt.Errorf("profile response has no member id")
	}
	return &profile, nil
}

func (a *LinkedInAdapter) getEmail(ctx context.Context, accessToken string) (string, error) {
	req, err := clients.NewJSONRequest(
		ctx,
		http.MethodGet,
		a.endpoints.APIBaseURL+"/v2/emailAddress?q=members&projection=(elements*(handle~))",
		accessToken,
		nil,
	)
	if err != nil {
		return "", err
	}

	var resp emailResponse
	if err := clients.DoJSON(a.httpClient, req, &resp); err != nil {
		return "", err
	}
	if len(resp.Elements) == 0 {
		return "", nil
	}
	return resp.Elements[0].Handle.EmailAddress, nil
}
