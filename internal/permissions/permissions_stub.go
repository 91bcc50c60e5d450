//go:build !darwin

package permissions

// EnsureMicrophone is a no-op outside macOS.
func EnsureMicrophone() error {
	return nil
}
