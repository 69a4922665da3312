package core

import (
	"errors"

	"github.com/surge-downloader/hlsget/internal/engine/types"
)

// ErrUnknownAsset is returned for names that are neither registered, running
// nor known to the service.
var ErrUnknownAsset = errors.New("unknown asset")

// ErrInvalidName is returned when an asset name is empty.
var ErrInvalidName = errors.New("asset name must not be empty")

// ErrInvalidURL is returned for URLs that are not absolute http(s) URLs.
var ErrInvalidURL = errors.New("invalid stream url")

// Service is the front-end view of the download coordinator.
// The CLI talks either to an embedded coordinator (LocalService) or to a
// running daemon (RemoteService).
type Service interface {
	// Add starts downloading url under name. Already downloaded or running
	// assets are left as they are.
	Add(url, name string) (*types.AssetStatus, error)

	// Cancel stops the running download of name.
	Cancel(name string) error

	// Delete removes the downloaded artifact of name and forgets it.
	Delete(name string) error

	// Status returns the snapshot of one asset.
	Status(name string) (*types.AssetStatus, error)

	// List returns every registered, running or known asset sorted by name.
	List() ([]types.AssetStatus, error)

	// Shutdown releases the service.
	Shutdown() error
}
