// Package version provides build and version information for SentientLock.
package version

// Version is the current release version of SentientLock.
// This can be overridden at build time using:
//
//	go build -ldflags "-X github.com/AaronLay10/SentientLock/internal/version.Version=x.y.z"
var Version = "0.3.0"
