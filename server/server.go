package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/schema"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/distribution-auth/ghapp/ghapp"
	"github.com/distribution-auth/ghapp/ghapp/connection"
)

// Set a Decoder instance as a package global, because it caches
// meta-data about structs, and an instance can be shared safely.
var decoder = schema.NewDecoder()

func init() {
	decoder.IgnoreUnknownKeys(true)
}

// maxKeySize limits the size of an uploaded private key.
const maxKeySize = 1 << 20

// ConnectionService manages GitHub App connections.
type ConnectionService interface {
	AllConnections(ctx context.Context) ([]ghapp.Connection, error)
	FindConnectionByAppID(ctx context.Context, appID string) (ghapp.Connection, bool, error)
	AddApplicationConnection(ctx context.Context, connection ghapp.Connection, key []byte) error
	RemoveConnection(ctx context.Context, appID string) error
	AppGenerationLink(ctx context.Context, serverURL string, owner string, isOrganisation bool) (string, error)
	FinishConnection(ctx context.Context, tempID string, code string) (ghapp.Connection, error)
}

// TokenService issues and revokes installation tokens for builds.
type TokenService interface {
	ParametersForBuild(ctx context.Context, build ghapp.Build) map[string]string
	OnBuildFinished(ctx context.Context, buildID int64)
}

// Server exposes connection management and build hooks over HTTP.
type Server struct {
	Connections ConnectionService
	Tokens      TokenService
	Builds      *BuildTracker

	// Authenticator guards every route except the manifest callback and metrics.
	// Requests are not authenticated when it is nil.
	Authenticator PasswordAuthenticator

	// Gatherer is exposed on /metrics when set.
	Gatherer prometheus.Gatherer

	Logger *zap.Logger
}

// Handler returns the routes of the server.
func (s Server) Handler() http.Handler {
	router := mux.NewRouter()

	if s.Gatherer != nil {
		router.Path("/metrics").Methods(http.MethodGet).Handler(promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{}))
	}

	router.Path(connection.FinishPath + "{tempId}").Methods(http.MethodGet).HandlerFunc(s.FinishConnectionHandler)

	admin := router.NewRoute().Subrouter()
	if s.Authenticator != nil {
		admin.Use(BasicAuth(s.Authenticator, "ghapp"))
	}

	admin.Path("/connections").Methods(http.MethodGet).HandlerFunc(s.ListConnectionsHandler)
	admin.Path("/connections").Methods(http.MethodPost).HandlerFunc(s.AddConnectionHandler)
	admin.Path("/connections/link").Methods(http.MethodGet).HandlerFunc(s.AppGenerationLinkHandler)
	admin.Path("/connections/{appId}").Methods(http.MethodGet).HandlerFunc(s.ConnectionHandler)
	admin.Path("/connections/{appId}").Methods(http.MethodDelete).HandlerFunc(s.RemoveConnectionHandler)
	admin.Path("/builds/{id:[0-9]+}").Methods(http.MethodPost).HandlerFunc(s.BuildStartedHandler)
	admin.Path("/builds/{id:[0-9]+}/finish").Methods(http.MethodPost).HandlerFunc(s.BuildFinishedHandler)

	return router
}

func (s Server) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}

	return s.Logger
}

type badRequestError struct {
	msg string
}

func (e badRequestError) Error() string {
	return e.msg
}

func (s Server) handleError(err error, w http.ResponseWriter) {
	var keyErr *ghapp.KeyParseError
	var badRequest badRequestError
	var multiErr schema.MultiError

	switch {
	case errors.As(err, &keyErr):
		http.Error(w, "malformed private key", http.StatusBadRequest)

	case errors.As(err, &badRequest), errors.As(err, &multiErr):
		http.Error(w, err.Error(), http.StatusBadRequest)

	case errors.Is(err, connection.ErrConnectionExists):
		http.Error(w, err.Error(), http.StatusConflict)

	case ghapp.IsNotFound(err):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)

	default:
		s.logger().Error("request failed", zap.Error(err))

		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ConnectionResponse describes a connection without its secrets.
type ConnectionResponse struct {
	ServerURL   string `json:"serverUrl"`
	Owner       string `json:"owner"`
	AppID       string `json:"appId"`
	AppName     string `json:"appName,omitempty"`
	OwnerID     string `json:"ownerId,omitempty"`
	Reserved    bool   `json:"reserved,omitempty"`
	Description string `json:"description"`
}

func newConnectionResponse(c ghapp.Connection) ConnectionResponse {
	return ConnectionResponse{
		ServerURL:   c.ServerURL,
		Owner:       c.Owner,
		AppID:       c.AppID,
		AppName:     c.AppName,
		OwnerID:     c.OwnerID,
		Reserved:    c.Reserved,
		Description: c.Description(),
	}
}

// ListConnectionsHandler lists every connection.
func (s Server) ListConnectionsHandler(w http.ResponseWriter, r *http.Request) {
	connections, err := s.Connections.AllConnections(r.Context())
	if err != nil {
		s.handleError(err, w)
		return
	}

	response := make([]ConnectionResponse, 0, len(connections))
	for _, c := range connections {
		response = append(response, newConnectionResponse(c))
	}

	writeJSON(w, http.StatusOK, response)
}

// ConnectionHandler returns a single connection.
func (s Server) ConnectionHandler(w http.ResponseWriter, r *http.Request) {
	appID := mux.Vars(r)["appId"]

	c, ok, err := s.Connections.FindConnectionByAppID(r.Context(), appID)
	if err != nil {
		s.handleError(err, w)
		return
	}

	if !ok {
		s.handleError(ghapp.ErrNotFound, w)
		return
	}

	writeJSON(w, http.StatusOK, newConnectionResponse(c))
}

// AddConnectionRequest is the form of a new connection.
//
// The owner is given either with ServerURL and Owner or with OwnerURL.
type AddConnectionRequest struct {
	ServerURL     string `schema:"serverUrl"`
	Owner         string `schema:"owner"`
	OwnerURL      string `schema:"ownerUrl"`
	AppID         string `schema:"appId"`
	WebhookSecret string `schema:"webhookSecret"`
}

func (req *AddConnectionRequest) normalize() error {
	if req.OwnerURL != "" {
		serverURL, owner, err := ghapp.ParseOwnerURL(req.OwnerURL)
		if err != nil {
			return badRequestError{err.Error()}
		}

		req.ServerURL = serverURL
		req.Owner = owner
	}

	if req.ServerURL == "" || req.Owner == "" {
		return badRequestError{"server url and owner are required"}
	}

	return nil
}

// AddConnectionHandler connects an existing application from a multipart form carrying its private key.
func (s Server) AddConnectionHandler(w http.ResponseWriter, r *http.Request) {
	err := r.ParseMultipartForm(32 << 20)
	if err != nil {
		s.handleError(badRequestError{err.Error()}, w)
		return
	}

	var req AddConnectionRequest

	err = decoder.Decode(&req, r.PostForm)
	if err != nil {
		s.handleError(err, w)
		return
	}

	if err := req.normalize(); err != nil {
		s.handleError(err, w)
		return
	}

	if req.AppID == "" {
		s.handleError(badRequestError{"app id is required"}, w)
		return
	}

	file, _, err := r.FormFile("key")
	if err != nil {
		s.handleError(badRequestError{"private key is required"}, w)
		return
	}
	defer file.Close()

	key, err := io.ReadAll(io.LimitReader(file, maxKeySize))
	if err != nil {
		s.handleError(err, w)
		return
	}

	c := ghapp.Connection{
		ServerURL:     req.ServerURL,
		Owner:         req.Owner,
		AppID:         req.AppID,
		WebhookSecret: req.WebhookSecret,
	}

	err = s.Connections.AddApplicationConnection(r.Context(), c, key)
	if err != nil {
		s.handleError(err, w)
		return
	}

	writeJSON(w, http.StatusCreated, newConnectionResponse(c))
}

// RemoveConnectionHandler disconnects an application.
func (s Server) RemoveConnectionHandler(w http.ResponseWriter, r *http.Request) {
	appID := mux.Vars(r)["appId"]

	err := s.Connections.RemoveConnection(r.Context(), appID)
	if err != nil {
		s.handleError(err, w)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// AppGenerationLinkRequest asks for a link creating a new application on GitHub.
type AppGenerationLinkRequest struct {
	ServerURL    string `schema:"serverUrl"`
	Owner        string `schema:"owner"`
	OwnerURL     string `schema:"ownerUrl"`
	Organisation bool   `schema:"organisation"`
}

// AppGenerationLinkHandler redirects to the application creation page of GitHub.
func (s Server) AppGenerationLinkHandler(w http.ResponseWriter, r *http.Request) {
	var req AppGenerationLinkRequest

	err := decoder.Decode(&req, r.URL.Query())
	if err != nil {
		s.handleError(err, w)
		return
	}

	owner := AddConnectionRequest{ServerURL: req.ServerURL, Owner: req.Owner, OwnerURL: req.OwnerURL}
	if err := owner.normalize(); err != nil {
		s.handleError(err, w)
		return
	}

	link, err := s.Connections.AppGenerationLink(r.Context(), owner.ServerURL, owner.Owner, req.Organisation)
	if err != nil {
		s.handleError(err, w)
		return
	}

	http.Redirect(w, r, link, http.StatusFound)
}

type finishConnectionRequest struct {
	Code string `schema:"code"`
}

// FinishConnectionHandler receives GitHub's redirect after an application was created from a manifest.
func (s Server) FinishConnectionHandler(w http.ResponseWriter, r *http.Request) {
	var req finishConnectionRequest

	err := decoder.Decode(&req, r.URL.Query())
	if err != nil {
		s.handleError(err, w)
		return
	}

	if req.Code == "" {
		s.handleError(badRequestError{"code is required"}, w)
		return
	}

	c, err := s.Connections.FinishConnection(r.Context(), mux.Vars(r)["tempId"], req.Code)
	if err != nil {
		s.handleError(err, w)
		return
	}

	writeJSON(w, http.StatusCreated, newConnectionResponse(c))
}

// BuildStartedRequest describes a running build.
type BuildStartedRequest struct {
	RootURL    string            `json:"rootUrl"`
	Parameters map[string]string `json:"parameters"`
}

// BuildStartedHandler records a running build and returns the parameters to inject into it.
//
// Reporting a running build again renews its lease.
func (s Server) BuildStartedHandler(w http.ResponseWriter, r *http.Request) {
	buildID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		s.handleError(badRequestError{"invalid build id"}, w)
		return
	}

	var req BuildStartedRequest

	err = json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		s.handleError(badRequestError{"invalid request body: " + err.Error()}, w)
		return
	}

	build := ghapp.Build{
		ID:         buildID,
		RootURL:    req.RootURL,
		Parameters: req.Parameters,
	}

	err = s.Builds.Start(r.Context(), build.ID)
	if err != nil {
		s.handleError(err, w)
		return
	}

	writeJSON(w, http.StatusOK, s.Tokens.ParametersForBuild(r.Context(), build))
}

// BuildFinishedHandler revokes the token of a finished build.
func (s Server) BuildFinishedHandler(w http.ResponseWriter, r *http.Request) {
	buildID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		s.handleError(badRequestError{"invalid build id"}, w)
		return
	}

	err = s.Builds.Finish(r.Context(), buildID)

	// the token is revoked even if the build could not be forgotten
	s.Tokens.OnBuildFinished(r.Context(), buildID)

	if err != nil {
		s.handleError(err, w)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
