// Package store provides durable storage for connections, issued tokens and running builds.
package store

import (
	"io"

	"github.com/distribution-auth/ghapp/ghapp"
)

// Store persists connections, issued tokens and running builds.
type Store interface {
	ghapp.ConnectionStore
	ghapp.TokenStore
	ghapp.BuildStore
	io.Closer
}
