// Package cli parses command-line arguments into an app.Config. It is
// deliberately thin: validation of values happens here, everything else
// in the app package.
package cli
