// Package corpus is the HTTP client for the corpus submission service:
// sentences to read, contributor accounts, bearer credentials and audio
// uploads.
package corpus

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Adriatogi/common-voice-offline/internal/common"
	"github.com/Adriatogi/common-voice-offline/internal/netx"
	"github.com/Adriatogi/common-voice-offline/internal/server/auth"
	"github.com/Adriatogi/common-voice-offline/internal/server/models"
)

// Service is what the rest of the bot needs from the corpus.
type Service interface {
	FetchSentences(ctx context.Context, token, language string, limit, offset int) ([]models.Sentence, error)
	CreateAccount(ctx context.Context, token, email, username string) (*Account, error)
	RefreshCredential(ctx context.Context, refreshToken string) (*Credential, error)
	SubmitRecording(ctx context.Context, token string, s *Submission) error
}

// Credential is a bearer token plus what is needed to renew it.
type Credential struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Account is a freshly created corpus identity.
type Account struct {
	UserID       string
	RefreshToken string
}

// Submission is one scripted recording.
type Submission struct {
	UserID   string
	Language string
	TextID   string
	Text     string
	Hash     string
	Age      string
	Gender   string
	Filename string
	Audio    []byte
}

// Config contains corpus client configuration.
type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
	// DefaultTTL is assumed when a token carries no expiry of its own.
	DefaultTTL time.Duration
}

type Client struct {
	config     Config
	httpClient *http.Client
	now        func() time.Time
}

func NewClient(config Config) (*Client, error) {
	if config.BaseURL == "" {
		return nil, errors.New("base url cannot be empty")
	}
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("base url: %w", err)
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = time.Hour
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		now: time.Now,
	}, nil
}

type sentencesResponse struct {
	Data []models.Sentence `json:"data"`
}

func (c *Client) FetchSentences(ctx context.Context, token, language string, limit, offset int) ([]models.Sentence, error) {
	q := url.Values{}
	q.Set("datasetCode", language)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/text/sentences?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	var out sentencesResponse
	if err := c.do(req, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

type createUserRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
}

type createUserResponse struct {
	Data struct {
		UserID       string `json:"userId"`
		RefreshToken string `json:"refreshToken"`
	} `json:"data"`
}

// CreateAccount registers a contributor. A 409 means the email or username
// is taken and yields common.ErrDuplicateIdentity.
func (c *Client) CreateAccount(ctx context.Context, token, email, username string) (*Account, error) {
	req, err := c.jsonRequest(ctx, http.MethodPost, "/auth/users", createUserRequest{Email: email, Username: username})
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	var out createUserResponse
	err = c.do(req, http.StatusCreated, &out)
	if rej, ok := IsRejected(err); ok && rej.StatusCode == http.StatusConflict {
		return nil, fmt.Errorf("%w: %s", common.ErrDuplicateIdentity, rej.Detail)
	}
	if err != nil {
		return nil, err
	}
	if out.Data.UserID == "" {
		return nil, errors.New("create account: response has no userId")
	}
	return &Account{UserID: out.Data.UserID, RefreshToken: out.Data.RefreshToken}, nil
}

type tokenRequest struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
	GrantType    string `json:"grantType,omitempty"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

type tokenResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int    `json:"expiresIn"`
}

// RefreshCredential exchanges refreshToken for a new bearer token. An empty
// refreshToken uses the client-credentials grant.
func (c *Client) RefreshCredential(ctx context.Context, refreshToken string) (*Credential, error) {
	body := tokenRequest{ClientID: c.config.ClientID, ClientSecret: c.config.ClientSecret}
	if refreshToken != "" {
		body.GrantType = "refresh_token"
		body.RefreshToken = refreshToken
	}

	req, err := c.jsonRequest(ctx, http.MethodPost, "/auth/token", body)
	if err != nil {
		return nil, err
	}

	var out tokenResponse
	if err := c.do(req, http.StatusOK, &out); err != nil {
		return nil, err
	}
	if out.Token == "" {
		return nil, errors.New("refresh credential: no token in response")
	}

	cred := &Credential{AccessToken: out.Token, RefreshToken: out.RefreshToken}
	switch {
	case out.ExpiresIn > 0:
		cred.ExpiresAt = c.now().Add(time.Duration(out.ExpiresIn) * time.Second)
	default:
		if exp, err := auth.ExpiryFromToken(out.Token); err == nil {
			cred.ExpiresAt = exp
		} else {
			cred.ExpiresAt = c.now().Add(c.config.DefaultTTL)
		}
	}
	if cred.RefreshToken == "" {
		cred.RefreshToken = refreshToken
	}
	return cred, nil
}

// SubmitRecording uploads one scripted recording as multipart/form-data.
// It returns nil, a *RejectedError or a *TransientError.
func (c *Client) SubmitRecording(ctx context.Context, token string, s *Submission) error {
	body, contentType, err := createMultipartRequest(s)
	if err != nil {
		return fmt.Errorf("failed to create multipart request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/audio", body)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)

	return c.do(req, 0, nil)
}

func createMultipartRequest(s *Submission) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	filename := s.Filename
	if filename == "" {
		filename = "recording.ogg"
	}
	fileWriter, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := fileWriter.Write(s.Audio); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	fields := [][2]string{
		{"resource", "scripted"},
		{"datasetCode", s.Language},
		{"textId", s.TextID},
		{"text", s.Text},
		{"hash", s.Hash},
		{"userId", s.UserID},
	}
	if s.Age != "" {
		fields = append(fields, [2]string{"age", s.Age})
	}
	if s.Gender != "" {
		fields = append(fields, [2]string{"gender", s.Gender})
	}
	for _, f := range fields {
		if err := writer.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", f[0], err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}
	return &buf, writer.FormDataContentType(), nil
}

func (c *Client) jsonRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// do performs req and classifies the outcome. want == 0 accepts any 2xx.
// Transport errors and retryable statuses become *TransientError, any
// other non-success status becomes *RejectedError.
func (c *Client) do(req *http.Request, want int, out any) error {
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if netx.IsTransientError(err) {
			return &TransientError{Err: err}
		}
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransientError{StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	ok := resp.StatusCode == want
	if want == 0 {
		ok = resp.StatusCode >= 200 && resp.StatusCode < 300
	}
	if !ok {
		detail := errorDetail(respBody)
		if netx.IsTransientStatus(resp.StatusCode) {
			return &TransientError{
				StatusCode: resp.StatusCode,
				RetryAfter: netx.RetryAfter(resp.Header, c.now()),
				Err:        fmt.Errorf("HTTP error %d: %s", resp.StatusCode, detail),
			}
		}
		return &RejectedError{StatusCode: resp.StatusCode, Detail: detail}
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response JSON: %w", err)
	}
	return nil
}

// errorDetail pulls a human readable reason out of an error body.
func errorDetail(body []byte) string {
	var e struct {
		Detail  string          `json:"detail"`
		Message string          `json:"message"`
		Errors  json.RawMessage `json:"errors"`
	}
	if err := json.Unmarshal(body, &e); err != nil {
		s := strings.TrimSpace(string(body))
		if len(s) > 200 {
			s = s[:200]
		}
		return s
	}
	switch {
	case e.Detail != "":
		return e.Detail
	case e.Message != "":
		return e.Message
	case len(e.Errors) > 0 && string(e.Errors) != "null":
		return string(e.Errors)
	}
	return ""
}
