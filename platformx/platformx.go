// Package platformx contains platform specific code
package platformx

// WarnIfNotFullySupported will emit a warning if the platform has no ss
// with TCP internals, i.e. is not Linux.
func WarnIfNotFullySupported() {
	maybeEmitWarning()
}
