package app

import "github.com/kart-io/version"

// GetVersion returns the git version injected at build time.
func GetVersion() string {
	return version.Get().GitVersion
}
