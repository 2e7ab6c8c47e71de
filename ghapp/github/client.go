// Package github implements the parts of the GitHub REST API used to manage installation tokens.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/distribution-auth/ghapp/ghapp"
	"github.com/distribution-auth/ghapp/ghapp/metrics"
)

// apiVersion is the GitHub REST API version header.
const apiVersion = "2022-11-28"

// DefaultTimeout bounds a single request including reading the response.
const DefaultTimeout = 30 * time.Second

// maxResponseSize limits the size of response bodies read into memory.
const maxResponseSize = 10 << 20

// NewHTTPClient returns an HTTP client with bounded connect, handshake and total timeouts.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext
	transport.TLSHandshakeTimeout = 10 * time.Second

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}

// APIURL returns the REST API root of a GitHub server (eg. https://api.github.com for https://github.com).
func APIURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server url %q: %w", serverURL, err)
	}

	if u.Host == "" {
		return "", fmt.Errorf("invalid server url %q: missing host", serverURL)
	}

	u.Host = "api." + u.Host
	u.Path = ""
	u.RawQuery = ""
	u.Fragment = ""

	return u.String(), nil
}

// Client is a ghapp.PlatformAPI talking to GitHub over HTTP.
type Client struct {
	httpClient *http.Client
	apiURL     func(serverURL string) (string, error)
	logger     *zap.Logger
}

// ClientOption configures a Client.
type ClientOption interface {
	applyClient(c *Client)
}

type clientOptionFunc func(c *Client)

func (fn clientOptionFunc) applyClient(c *Client) {
	fn(c)
}

// WithHTTPClient sets the HTTP client. Defaults to NewHTTPClient(DefaultTimeout).
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return clientOptionFunc(func(c *Client) {
		c.httpClient = httpClient
	})
}

// WithAPIURL sets the function resolving the API root of a server. Defaults to APIURL.
func WithAPIURL(fn func(serverURL string) (string, error)) ClientOption {
	return clientOptionFunc(func(c *Client) {
		c.apiURL = fn
	})
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) ClientOption {
	return clientOptionFunc(func(c *Client) {
		c.logger = logger
	})
}

// NewClient returns a new Client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{}

	for _, opt := range opts {
		opt.applyClient(c)
	}

	if c.httpClient == nil {
		c.httpClient = NewHTTPClient(DefaultTimeout)
	}

	if c.apiURL == nil {
		c.apiURL = APIURL
	}

	if c.logger == nil {
		c.logger = zap.NewNop()
	}

	return c
}

type account struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
}

type installation struct {
	ID      int64   `json:"id"`
	Account account `json:"account"`
}

// ListInstallations lists every installation of the application, following pagination links.
func (c *Client) ListInstallations(ctx context.Context, connection ghapp.Connection, assertion string) ([]ghapp.Installation, error) {
	apiURL, err := c.apiURL(connection.ServerURL)
	if err != nil {
		return nil, err
	}

	next := apiURL + "/app/installations?per_page=100"

	installations := []ghapp.Installation{}

	for next != "" {
		var page []installation

		header, err := c.do(ctx, "list_installations", http.MethodGet, next, "Bearer "+assertion, nil, &page)
		if err != nil {
			return nil, err
		}

		for _, item := range page {
			installations = append(installations, ghapp.Installation{
				Account: item.Account.Login,
				ID:      strconv.FormatInt(item.ID, 10),
			})
		}

		next = parseLinkNext(header.Get("Link"))
	}

	return installations, nil
}

type createTokenRequest struct {
	Repositories []string          `json:"repositories"`
	Permissions  ghapp.Permissions `json:"permissions,omitempty"`
}

type createTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CreateInstallationToken mints an installation token restricted to a single repository.
func (c *Client) CreateInstallationToken(
	ctx context.Context,
	connection ghapp.Connection,
	installationID string,
	repository ghapp.Repository,
	assertion string,
	permissions ghapp.Permissions,
) (ghapp.IssuedToken, error) {
	apiURL, err := c.apiURL(connection.ServerURL)
	if err != nil {
		return ghapp.IssuedToken{}, err
	}

	endpoint := fmt.Sprintf("%s/app/installations/%s/access_tokens", apiURL, url.PathEscape(installationID))

	body := createTokenRequest{
		Repositories: []string{repository.Name},
		Permissions:  permissions,
	}

	var response createTokenResponse

	if _, err := c.do(ctx, "create_token", http.MethodPost, endpoint, "Bearer "+assertion, body, &response); err != nil {
		return ghapp.IssuedToken{}, err
	}

	if response.Token == "" {
		return ghapp.IssuedToken{}, &ghapp.TokenGenerationError{Message: "API response does not contain token"}
	}

	c.logger.Debug(
		"installation token created",
		zap.String("app_id", connection.AppID),
		zap.String("repository", repository.FullName()),
		zap.Time("expires_at", response.ExpiresAt),
	)

	return ghapp.IssuedToken{
		ServerURL: connection.ServerURL,
		AppID:     connection.AppID,
		Token:     response.Token,
	}, nil
}

// RevokeInstallationToken revokes an installation token using the token itself for authentication.
func (c *Client) RevokeInstallationToken(ctx context.Context, token ghapp.IssuedToken) error {
	apiURL, err := c.apiURL(token.ServerURL)
	if err != nil {
		return err
	}

	_, err = c.do(ctx, "revoke_token", http.MethodDelete, apiURL+"/installation/token", "token "+token.Token, nil, nil)

	return err
}

type appConfiguration struct {
	ID            int64   `json:"id"`
	Slug          string  `json:"slug"`
	PEM           string  `json:"pem"`
	WebhookSecret string  `json:"webhook_secret"`
	Owner         account `json:"owner"`
}

// AppConfiguration exchanges the code received at the end of the app manifest flow for the new application's configuration.
func (c *Client) AppConfiguration(ctx context.Context, serverURL string, code string) (ghapp.AppConfiguration, error) {
	apiURL, err := c.apiURL(serverURL)
	if err != nil {
		return ghapp.AppConfiguration{}, err
	}

	endpoint := fmt.Sprintf("%s/app-manifests/%s/conversions", apiURL, url.PathEscape(code))

	var response appConfiguration

	if _, err := c.do(ctx, "app_configuration", http.MethodPost, endpoint, "", nil, &response); err != nil {
		return ghapp.AppConfiguration{}, err
	}

	return ghapp.AppConfiguration{
		ID:            strconv.FormatInt(response.ID, 10),
		PEM:           response.PEM,
		WebhookSecret: response.WebhookSecret,
		Slug:          response.Slug,
		Owner: ghapp.AppOwner{
			ID:    strconv.FormatInt(response.Owner.ID, 10),
			Login: response.Owner.Login,
		},
	}, nil
}

type errorResponse struct {
	Message string `json:"message"`
}

func (c *Client) do(
	ctx context.Context,
	operation string,
	method string,
	endpoint string,
	authorization string,
	requestBody any,
	result any,
) (http.Header, error) {
	header, err := c.doRequest(ctx, method, endpoint, authorization, requestBody, result)

	metrics.IncrementAPIRequests(operation, err == nil)

	if err != nil {
		c.logger.Debug("github request failed", zap.String("operation", operation), zap.Error(err))
	}

	return header, err
}

func (c *Client) doRequest(
	ctx context.Context,
	method string,
	endpoint string,
	authorization string,
	requestBody any,
	result any,
) (http.Header, error) {
	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return nil, fmt.Errorf("github: encoding request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("github: creating request: %w", err)
	}

	request.Header.Set("Accept", "application/vnd.github+json")
	request.Header.Set("X-GitHub-Api-Version", apiVersion)
	if authorization != "" {
		request.Header.Set("Authorization", authorization)
	}
	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, &ghapp.RemoteAPIError{Method: method, URL: endpoint, Err: err}
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, maxResponseSize))
	if err != nil {
		return nil, &ghapp.RemoteAPIError{Method: method, URL: endpoint, Err: err}
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		var errResponse errorResponse
		_ = json.Unmarshal(body, &errResponse)

		message := errResponse.Message
		if message == "" {
			message = http.StatusText(response.StatusCode)
		}

		return nil, &ghapp.RemoteAPIError{
			Method:     method,
			URL:        endpoint,
			StatusCode: response.StatusCode,
			Message:    message,
		}
	}

	if result != nil && len(body) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			return nil, fmt.Errorf("github: decoding %s %s response: %w", method, endpoint, err)
		}
	}

	return response.Header, nil
}

// parseLinkNext extracts the URL with rel="next" from a Link header.
func parseLinkNext(header string) string {
	for _, link := range strings.Split(header, ",") {
		parts := strings.Split(link, ";")
		if len(parts) < 2 {
			continue
		}

		target := strings.TrimSpace(parts[0])
		if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
			continue
		}

		for _, param := range parts[1:] {
			if strings.TrimSpace(param) == `rel="next"` {
				return strings.TrimSuffix(strings.TrimPrefix(target, "<"), ">")
			}
		}
	}

	return ""
}
