package ghapp

import (
	"fmt"
	"net/url"
	"strings"
)

var supportedProtocols = map[string]bool{
	"https": true,
	"http":  true,
	"ssh":   true,
	"git":   true,
	"":      true,
}

// Repository describes a GitHub repository a build fetches its sources from.
type Repository struct {
	Protocol string
	Host     string
	Owner    string
	Name     string
}

// FullName returns the repository name in owner/name form.
func (r Repository) FullName() string {
	return r.Owner + "/" + r.Name
}

// ServerURL returns the web URL of the GitHub instance hosting the repository.
func (r Repository) ServerURL() string {
	protocol := r.Protocol
	if protocol != "http" {
		protocol = "https"
	}

	return protocol + "://" + r.Host
}

// ParseRepository extracts repository information from a VCS fetch URL.
func ParseRepository(link string) (Repository, error) {
	rawURL := link
	if !strings.Contains(rawURL, "://") {
		rawURL = "//" + rawURL
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return Repository{}, fmt.Errorf("parsing repository url %q: %w", link, err)
	}

	if !supportedProtocols[u.Scheme] {
		return Repository{}, fmt.Errorf("unsupported repository url protocol %q", u.Scheme)
	}

	if u.Hostname() == "" {
		return Repository{}, fmt.Errorf("repository url %q has no host", link)
	}

	path := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(path) < 2 || path[0] == "" || path[1] == "" {
		return Repository{}, fmt.Errorf("repository url %q has no owner and name", link)
	}

	return Repository{
		Protocol: u.Scheme,
		Host:     u.Hostname(),
		Owner:    path[0],
		Name:     strings.TrimSuffix(path[1], ".git"),
	}, nil
}

// ParseOwnerURL splits an owner URL (eg. https://github.com/acme) into the server URL and the owner login.
func ParseOwnerURL(link string) (string, string, error) {
	u, err := url.Parse(link)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", "", fmt.Errorf("owner url is malformed: %q", link)
	}

	owner := strings.Split(strings.Trim(u.Path, "/"), "/")[0]
	if owner == "" {
		return "", "", fmt.Errorf("owner url is malformed: %q", link)
	}

	return u.Scheme + "://" + u.Host, owner, nil
}
