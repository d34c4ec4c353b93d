package version

// EmberSemVer is the canonical version of the ember daemon. It is
// overridden at build time via -ldflags for release builds.
var EmberSemVer = "0.1.0-dev"
