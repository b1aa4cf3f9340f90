package upsdk

import (
	"fmt"
	"runtime"

	"github.com/boxkite/boxkite/internal/version"
)

const (
	HeaderUserAgent     = "User-Agent"
	HeaderClientVersion = "X-Boxkite-Version"
	HeaderRequestId     = "X-Request-Id"
)

var BoxkiteUserAgent = fmt.Sprintf("Boxkite/%s (%s; %s; %s)", version.Version, version.Revision, runtime.GOOS, runtime.GOARCH)

// StoragePolicy names the backend configuration for an upload destination and
// selects how chunk bytes travel there.
type StoragePolicy string

const (
	// PolicyRelay sends chunk bytes through the application's own relay
	// endpoint, which streams them to final storage.
	PolicyRelay StoragePolicy = "relay"

	// PolicyDirect sends chunk bytes straight to a pre-authorized third-party
	// endpoint, bypassing the relay.
	PolicyDirect StoragePolicy = "direct"
)
