package youtube

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"socialbackend/clients"
	"socialbackend/core"
	"socialbackend/models"
)

type fakeGoogle struct {
	server       *httptest.Server
	refreshBody  string
	uploadStatus int
	uploads      int
	mediaDelay   time.Duration
}

func newFakeGoogle(t *testing.T) *fakeGoogle {
	f := &fakeGoogle{
		uploadStatus: http.StatusOK,
		refreshBody:  `{"access_token":"yt-tok2","expires_in":3599,"token_type":"Bearer"}`,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		w.Header().Set("Content-Type", "application/json")
		switch r.PostForm.Get("grant_type") {
		case "authorization_code":
			if r.PostForm.Get("code_verifier") != "verifier" {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte(`{"error":"invalid_grant"}`))
				return
			}
			w.Write([]byte(`{"access_token":"yt-tok","refresh_token":"yt-rtok","expires_in":3599,"token_type":"Bearer"}`))
		case "refresh_token":
			w.Write([]byte(f.refreshBody))
		}
	})
	mux.HandleFunc("/youtube/v3/channels", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer yt-tok", r.Header.Get("Authorization"))
		assert.Equal(t, "true", r.URL.Query().Get("mine"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"items":[{"id":"UC123","snippet":{"title":"Cooking Channel","customUrl":"@cooking",
			"thumbnails":{"default":{"url":"https://yt/thumb.jpg"}}}}]}`))
	})
	upload := func(w http.ResponseWriter, r *http.Request) {
		f.uploads++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.uploadStatus)
		if f.uploadStatus == http.StatusOK {
			w.Write([]byte(`{"id":"vid1","status":{"privacyStatus":"private"}}`))
		} else {
			w.Write([]byte(`{"error":{"code":401,"message":"Invalid Credentials"}}`))
		}
	}
	mux.HandleFunc("/upload/youtube/v3/videos", upload)
	mux.HandleFunc("/youtube/v3/videos", upload)
	mux.HandleFunc("/media/clip.mp4", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("mp4-"))
		w.(http.Flusher).Flush()
		time.Sleep(f.mediaDelay)
		w.Write([]byte("bytes"))
	})
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeGoogle) adapter() *YouTubeAdapter {
	return f.adapterWithClient(f.server.Client())
}

func (f *fakeGoogle) adapterWithClient(httpClient *http.Client) *YouTubeAdapter {
	return NewYouTubeAdapter(
		clients.ProviderConfig{ClientID: "client-id", ClientSecret: "client-secret", RedirectURI: "https://app/cb"},
		Endpoints{
			AuthURL:    f.server.URL + "/auth",
			TokenURL:   f.server.URL + "/token",
			APIBaseURL: f.server.URL + "/",
			WebBaseURL: "https://www.youtube.com",
		},
		httpClient,
	)
}

func TestGenerateAuthURL(t *testing.T) {
	adapter := NewYouTubeAdapter(clients.ProviderConfig{ClientID: "id", ClientSecret: "s", RedirectURI: "https://app/cb"}, DefaultEndpoints, nil)

	authURL, err := adapter.GenerateAuthURL()
	require.NoError(t, err)
	require.NotEmpty(t, authURL.CodeVerifier)

	parsed, err := url.Parse(authURL.URL)
	require.NoError(t, err)
	q := parsed.Query()
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "consent", q.Get("prompt"))
	assert.True(t, clients.ChallengeMatchesVerifier(q.Get("code_challenge"), authURL.CodeVerifier))
	assert.Contains(t, q.Get("scope"), "youtube.upload")
}

func TestAuthenticate(t *testing.T) {
	t.Run("reads the channel", func(t *testing.T) {
		fake := newFakeGoogle(t)

		details, err := fake.adapter().Authenticate(context.Background(), "code", "verifier")
		require.NoError(t, err)
		assert.Equal(t, "UC123", details.ID)
		assert.Equal(t, "Cooking Channel", details.Name)
		assert.Equal(t, "@cooking", details.Username)
		assert.Equal(t, "https://yt/thumb.jpg", details.Picture)
		assert.Equal(t, "yt-rtok", details.RefreshToken)
	})

	t.Run("wrong verifier", func(t *testing.T) {
		fake := newFakeGoogle(t)

		_, err := fake.adapter().Authenticate(context.Background(), "code", "other")
		assert.ErrorIs(t, err, core.ErrTokenExchangeFailed)
	})
}

func TestRefreshTokenKeepsRefreshToken(t *testing.T) {
	fake := newFakeGoogle(t)

	tokens, err := fake.adapter().RefreshToken(context.Background(), "yt-rtok")
	require.NoError(t, err)
	assert.Equal(t, "yt-tok2", tokens.AccessToken)
	assert.Equal(t, "yt-rtok", tokens.RefreshToken)

	fake.refreshBody = `{"access_token":"yt-tok3","refresh_token":"yt-rtok-rotated","expires_in":3599,"token_type":"Bearer"}`
	tokens, err = fake.adapter().RefreshToken(context.Background(), "yt-rtok")
	require.NoError(t, err)
	assert.Equal(t, "yt-rtok-rotated", tokens.RefreshToken)
}

func TestPost(t *testing.T) {
	t.Run("uploads video", func(t *testing.T) {
		fake := newFakeGoogle(t)

		result := fake.adapter().Post(context.Background(), "yt-tok", "UC123", &models.PostDetails{
			Title: "Bread",
			Text:  "How to bake bread",
			Media: []models.PostMedia{{URL: fake.server.URL + "/media/clip.mp4", Type: models.MediaTypeVideo}},
		})
		require.True(t, result.Success, result.Error)
		assert.Equal(t, "vid1", result.PostID)
		assert.Equal(t, "https://www.youtube.com/watch?v=vid1", result.ReleaseURL)
	})

	t.Run("slow video stream may outlast the API client timeout", func(t *testing.T) {
		fake := newFakeGoogle(t)
		fake.mediaDelay = 200 * time.Millisecond
		httpClient := fake.server.Client()
		httpClient.Timeout = 50 * time.Millisecond

		result := fake.adapterWithClient(httpClient).Post(context.Background(), "yt-tok", "UC123", &models.PostDetails{
			Title: "Bread",
			Media: []models.PostMedia{{URL: fake.server.URL + "/media/clip.mp4", Type: models.MediaTypeVideo}},
		})
		require.True(t, result.Success, result.Error)
		assert.Equal(t, "vid1", result.PostID)
	})

	t.Run("rejected credentials need reauth", func(t *testing.T) {
		fake := newFakeGoogle(t)
		fake.uploadStatus = http.StatusUnauthorized

		result := fake.adapter().Post(context.Background(), "yt-tok", "UC123", &models.PostDetails{
			Title: "Bread",
			Media: []models.PostMedia{{URL: fake.server.URL + "/media/clip.mp4", Type: models.MediaTypeVideo}},
		})
		assert.False(t, result.Success)
		assert.True(t, result.NeedsReauth)
	})

	t.Run("video is required", func(t *testing.T) {
		fake := newFakeGoogle(t)

		result := fake.adapter().Post(context.Background(), "yt-tok", "UC123", &models.PostDetails{
			Title: "Bread",
			Media: []models.PostMedia{{URL: "https://cdn/bread.jpg", Type: models.MediaTypeImage}},
		})
		assert.False(t, result.Success)
		assert.Zero(t, fake.uploads)
	})
}

func TestTitleOf(t *testing.T) {
	assert.Equal(t, "Explicit", titleOf(&models.PostDetails{Title: "Explicit", Text: "desc"}))
	assert.Equal(t, "desc", titleOf(&models.PostDetails{Text: " desc "}))
	assert.Len(t, []rune(titleOf(&models.PostDetails{Text: strings.Repeat("é", 150)})), maxTitleLength)
}
