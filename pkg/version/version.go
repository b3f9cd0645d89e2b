// Package version holds the build version of speakline.
package version

// Version is overridden at build time via -ldflags "-X speakline/pkg/version.Version=...".
var Version = "0.3.0-dev"
