package broadcast

import "errors"

// Domain errors for the broadcast service.
var (
	// ErrMaxClients is returned by Hub.Register when every listener slot
	// is taken.
	ErrMaxClients = errors.New("501 Max Clients")

	// ErrHubClosed is returned by Hub.Register after Close.
	ErrHubClosed = errors.New("hub closed")
)
