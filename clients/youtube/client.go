package youtube

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"socialbackend/clients"
	"socialbackend/core"
	"socialbackend/models"
)

const maxTitleLength = 100

var scopes = []string{yt.YoutubeUploadScope, yt.YoutubeReadonlyScope}

var validPrivacy = map[string]bool{"public": true, "private": true, "unlisted": true}

type Endpoints struct {
	AuthURL    string
	TokenURL   string
	APIBaseURL string
	WebBaseURL string
}

var DefaultEndpoints = Endpoints{
	AuthURL:    "https://accounts.google.com/o/oauth2/auth",
	TokenURL:   "https://oauth2.googleapis.com/token",
	APIBaseURL: "https://youtube.googleapis.com/",
	WebBaseURL: "https://www.youtube.com",
}

// YouTubeAdapter uses Google's OAuth with PKCE and the YouTube Data API v3.
type YouTubeAdapter struct {
	oauthConfig *oauth2.Config
	endpoints   Endpoints
	httpClient  *http.Client
	mediaClient *http.Client
}

func NewYouTubeAdapter(cfg clients.ProviderConfig, endpoints Endpoints, httpClient *http.Client) *YouTubeAdapter {
	if httpClient == nil {
		httpClient = clients.NewHTTPClient()
	}
	return &YouTubeAdapter{
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
	}
}

func (a *YouTubeAdapter) Identifier() models.ProviderIdentifier {
	return models.ProviderYouTube
}

func (a *YouTubeAdapter) GenerateAuthURL() (*models.AuthURL, error) {
	state, err := clients.NewState()
	if err != nil {
		return nil, err
	}
	verifier, _ := clients.NewPKCE()

	// prompt=consent makes Google issue a refresh token on every connection
	authURL := a.oauthConfig.AuthCodeURL(
		state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
		oauth2.S256ChallengeOption(verifier),
	)
	return &models.AuthURL{URL: authURL, State: state, CodeVerifier: verifier}, nil
}

func (a *YouTubeAdapter) Authenticate(ctx context.Context, code, codeVerifier string) (*models.AuthTokenDetails, error) {
	if codeVerifier == "" {
		return nil, fmt.Errorf("%w: code verifier is required", core.ErrMissingCallbackParameters)
	}

	token, err := a.oauthConfig.Exchange(clients.WithHTTPClient(ctx, a.httpClient), code, oauth2.VerifierOption(codeVerifier))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrTokenExchangeFailed, err)
	}

	service, err := a.service(ctx, a.httpClient, token.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrProfileFetchFailed, err)
	}

	channels, err := service.Channels.List([]string{"snippet"}).Mine(true).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrProfileFetchFailed, err)
	}
	if len(channels.Items) == 0 {
		return nil, fmt.Errorf("%w: account has no YouTube channel", core.ErrProfileFetchFailed)
	}

	channel := channels.Items[0]
	details := &models.AuthTokenDetails{
		ID:           channel.Id,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresIn:    clients.ExpiresIn(token),
	}
	if channel.Snippet != nil {
		details.Name = channel.Snippet.Title
		details.Username = channel.Snippet.CustomUrl
		if channel.Snippet.Thumbnails != nil && channel.Snippet.Thumbnails.Default != nil {
			details.Picture = channel.Snippet.Thumbnails.Default.Url
		}
	}
	return details, nil
}

// RefreshToken keeps the previous refresh token when Google doesn't rotate it.
func (a *YouTubeAdapter) RefreshToken(ctx context.Context, refreshToken string) (*models.OAuthTokens, error) {
	token, err := a.oauthConfig.TokenSource(
		clients.WithHTTPClient(ctx, a.httpClient),
		&oauth2.Token{RefreshToken: refreshToken},
	).Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrTokenRefreshRejected, err)
	}

	newRefreshToken := token.RefreshToken
	if newRefreshToken == "" {
		newRefreshToken = refreshToken
	}
	return &models.OAuthTokens{
		AccessToken:  token.AccessToken,
		RefreshToken: newRefreshToken,
		ExpiresIn:    clients.ExpiresIn(token),
	}, nil
}

func ValidatePost(details *models.PostDetails) error {
	if details == nil {
		return fmt.Errorf("%w: post details are required", core.ErrInvalidPost)
	}
	if videoOf(details) == nil {
		return fmt.Errorf("%w: youtube posts need a video", core.ErrInvalidPost)
	}
	if details.Privacy != "" && !validPrivacy[details.Privacy] {
		return fmt.Errorf("%w: unsupported privacy status %q", core.ErrInvalidPost, details.Privacy)
	}
	if strings.TrimSpace(details.Title) == "" && strings.TrimSpace(details.Text) == "" {
		return fmt.Errorf("%w: a title or description is required", core.ErrInvalidPost)
	}
	return clients.ValidateMedia(details.Media)
}

// Post streams the video from its URL into a videos.insert upload.
func (a *YouTubeAdapter) Post(
	ctx context.Context,
	accessToken, internalID string,
	details *models.PostDetails,
) *models.PostResult {
	if err := ValidatePost(details); err != nil {
		return models.NewPostFailure(err, false)
	}

	ctx, cancel := context.WithTimeout(ctx, clients.MediaTransferTimeout)
	defer cancel()

	service, err := a.service(ctx, a.mediaClient, accessToken)
	if err != nil {
		return clients.PostFailure(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, videoOf(details).URL, nil)
	if err != nil {
		return clients.PostFailure(fmt.Errorf("failed to create media request: %w", err))
	}
	resp, err := a.mediaClient.Do(req)
	if err != nil {
		return clients.PostFailure(fmt.Errorf("failed to fetch video: %w", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return clients.PostFailure(fmt.Errorf("video URL returned status %d", resp.StatusCode))
	}

	privacy := details.Privacy
	if privacy == "" {
		privacy = "private"
	}

	video := &yt.Video{
		Snippet: &yt.VideoSnippet{
			Title:       titleOf(details),
			Description: details.Text,
			ChannelId:   internalID,
		},
		Status: &yt.VideoStatus{PrivacyStatus: privacy},
	}

	uploaded, err := service.Videos.Insert([]string{"snippet", "status"}, video).Media(resp.Body).Context(ctx).Do()
	if err != nil {
		return clients.PostFailure(asStatusError(err))
	}

	return &models.PostResult{
		Success:    true,
		PostID:     uploaded.Id,
		ReleaseURL: fmt.Sprintf("%s/watch?v=%s", a.endpoints.WebBaseURL, uploaded.Id),
	}
}

func (a *YouTubeAdapter) service(ctx context.Context, httpClient *http.Client, accessToken string) (*yt.Service, error) {
	authedClient := oauth2.NewClient(
		clients.WithHTTPClient(ctx, httpClient),
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}),
	)
	service, err := yt.NewService(ctx, option.WithHTTPClient(authedClient), option.WithEndpoint(a.endpoints.APIBaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to create youtube service: %w", err)
	}
	return service, nil
}

func videoOf(details *models.PostDetails) *models.PostMedia {
	for i := range details.Media {
		if details.Media[i].Type == models.MediaTypeVideo {
			return &details.Media[i]
		}
	}
	return nil
}

func titleOf(details *models.PostDetails) string {
	title := strings.TrimSpace(details.Title)
	if title == "" {
		title = strings.TrimSpace(details.Text)
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		title = string([]rune(title)[:maxTitleLength])
	}
	return title
}

// asStatusError lets clients.IsAuthFailure see Google API status codes
func asStatusError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w", &clients.HTTPStatusError{StatusCode: apiErr.Code, Body: apiErr.Message})
	}
	return err
}
