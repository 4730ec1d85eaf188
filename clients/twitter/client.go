package twitter

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"unicode/utf8"

	"golang.org/x/oauth2"

	"socialbackend/clients"
	"socialbackend/core"
	"socialbackend/models"
)

const maxTweetLength = 280

var scopes = []string{"tweet.read", "tweet.write", "users.read", "offline.access"}

var validReplySettings = map[string]bool{
	"everyone":       true,
	"mentionedUsers": true,
	"following":      true,
}

// Endpoints lets tests point the adapter at a fake X API
type Endpoints struct {
	AuthURL    string
	TokenURL   string
	APIBaseURL string
	WebBaseURL string
}

var DefaultEndpoints = Endpoints{
	AuthURL:    "https://twitter.com/i/oauth2/authorize",
	TokenURL:   "https://api.twitter.com/2/oauth2/token",
	APIBaseURL: "https://api.twitter.com",
	WebBaseURL: "https://twitter.com",
}

// TwitterAdapter talks to the X API v2. The authorization flow requires PKCE.
type TwitterAdapter struct {
	oauthConfig *oauth2.Config
	endpoints   Endpoints
	httpClient  *http.Client
}

type userResponse struct {
	Data struct {
		ID              string `json:"id"`
		Name            string `json:"name"`
		Username        string `json:"username"`
		ProfileImageURL string `json:"profile_image_url"`
	} `json:"data"`
}

type tweetRequest struct {
	Text          string `json:"text"`
	ReplySettings string `json:"reply_settings,omitempty"`
}

type tweetResponse struct {
	Data struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"data"`
}

func NewTwitterAdapter(cfg clients.ProviderConfig, endpoints Endpoints, httpClient *http.Client) *TwitterAdapter {
	if httpClient == nil {
		httpClient = clients.NewHTTPClient()
	}
	return &TwitterAdapter{
		oauthConfig: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   endpoints.AuthURL,
				TokenURL:  endpoints.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		endpoints:  endpoints,
		httpClient: httpClient,
	}
}

func (a *TwitterAdapter) Identifier() models.ProviderIdentifier {
	return models.ProviderTwitter
}

func (a *TwitterAdapter) GenerateAuthURL() (*models.AuthURL, error) {
	state, err := clients.NewState()
	if err != nil {
		return nil, err
	}
	verifier, _ := clients.NewPKCE()

	return &models.AuthURL{
		URL:          a.oauthConfig.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier)),
		State:        state,
		CodeVerifier: verifier,
	}, nil
}

func (a *TwitterAdapter) Authenticate(ctx context.Context, code, codeVerifier string) (*models.AuthTokenDetails, error) {
	if codeVerifier == "" {
		return nil, fmt.Errorf("%w: code verifier is required", core.ErrMissingCallbackParameters)
	}

	token, err := a.oauthConfig.Exchange(
		clients.WithHTTPClient(ctx, a.httpClient),
		code,
		oauth2.VerifierOption(codeVerifier),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrTokenExchangeFailed, err)
	}

	user, err := a.getMe(ctx, token.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrProfileFetchFailed, err)
	}

	return &models.AuthTokenDetails{
		ID:           "x_" + user.Data.ID,
		Name:         user.Data.Name,
		Picture:      user.Data.ProfileImageURL,
		Username:     user.Data.Username,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresIn:    clients.ExpiresIn(token),
	}, nil
}

func (a *TwitterAdapter) RefreshToken(ctx context.Context, refreshToken string) (*models.OAuthTokens, error) {
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

// ValidatePost checks tweet text length and reply settings
func ValidatePost(details *models.PostDetails) error {
	if details == nil {
		return fmt.Errorf("%w: post details are required", core.ErrInvalidPost)
	}
	length := utf8.RuneCountInString(details.Text)
	if length == 0 || length > maxTweetLength {
		return fmt.Errorf("%w: tweet text must be between 1 and %d characters", core.ErrInvalidPost, maxTweetLength)
	}
	if details.ReplySettings != "" && !validReplySettings[details.ReplySettings] {
		return fmt.Errorf("%w: unsupported reply settings %q", core.ErrInvalidPost, details.ReplySettings)
	}
	return clients.ValidateMedia(details.Media)
}

func (a *TwitterAdapter) Post(
	ctx context.Context,
	accessToken, internalID string,
	details *models.PostDetails,
) *models.PostResult {
	if err := ValidatePost(details); err != nil {
		return models.NewPostFailure(err, false)
	}

	// A token without user context can't post, so check it before building the tweet
	if _, err := a.getMe(ctx, accessToken); err != nil {
		log.Printf("⚠️ X token validation failed for %s (token %s): %v", internalID, clients.RedactToken(accessToken), err)
		return clients.PostFailure(fmt.Errorf("token validation failed: %w", err))
	}

	if len(details.Media) > 0 {
		log.Printf("⚠️ X media upload is not supported, posting text only for %s", internalID)
	}

	req, err := clients.NewJSONRequest(ctx, http.MethodPost, a.endpoints.APIBaseURL+"/2/tweets", accessToken, tweetRequest{
		Text:          details.Text,
		ReplySettings: details.ReplySettings,
	})
	if err != nil {
		return clients.PostFailure(err)
	}

	var resp tweetResponse
	if err := clients.DoJSON(a.httpClient, req, &resp); err != nil {
		return clients.PostFailure(err)
	}

	return &models.PostResult{
		Success:    true,
		PostID:     resp.Data.ID,
		ReleaseURL: fmt.Sprintf("%s/i/web/status/%s", a.endpoints.WebBaseURL, resp.Data.ID),
	}
}

func (a *TwitterAdapter) getMe(ctx context.Context, accessToken string) (*userResponse, error) {
	req, err := clients.NewJSONRequest(
		ctx,
		http.MethodGet,
		a.endpoints.APIBaseURL+"/2/users/me?user.fields=profile_image_url,name,username",
		accessToken,
		nil,
	)
	if err != nil {
		return nil, err
	}

	var user userResponse
	if err := clients.DoJSON(a.httpClient, req, &user); err != nil {
		return nil, err
	}
	if user.Data.ID == "" {
		return nil, fmt.Errorf("profile response has no user id")
	}
	return &user, nil
}
