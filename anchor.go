package hotdeploy

import (
	"fmt"
	"os"
	"path/filepath"
)

// AnchorBlurb is the fixed human-readable content of every anchor marker.
// External deployment tooling watches for the marker's removal, so the text
// tells an operator what deleting the file does.
const AnchorBlurb = "Delete this file while the runtime is running to undeploy this app in a clean way."

// writeAnchor creates the anchor marker for an application. Exactly one
// marker exists per application name while it is installed.
func writeAnchor(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%w: %w", ErrAnchorWrite, err)
	}
	if err := os.WriteFile(path, []byte(AnchorBlurb), 0o644); err != nil {
		return fmt.Errorf("%w: %w", ErrAnchorWrite, err)
	}
	return nil
}

// removeAnchor deletes the anchor marker if present. Called on undeploy;
// a marker that is already gone is not an error.
func removeAnchor(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove anchor file %s: %w", path, err)
	}
	return nil
}
