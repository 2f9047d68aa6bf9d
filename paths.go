package hotdeploy

import (
	"fmt"
	"os"
	"path/filepath"
)

// PathResolver maps descriptor-relative resource names to absolute paths
// under a fixed installation root. The layout mirrors the on-disk contract
// read by deployment tooling:
//
//	<root>/apps/<name>/          application resources
//	<root>/apps/<name>-anchor.txt  anchor marker
//	<root>/domains/<name>/       shared domain resources
//	<root>/lib/                  host-level shared resources
type PathResolver struct {
	root string
}

// NewPathResolver creates a resolver rooted at the given installation directory.
func NewPathResolver(root string) *PathResolver {
	return &PathResolver{root: root}
}

// Root returns the installation root directory.
func (r *PathResolver) Root() string { return r.root }

// AppsDir returns the directory holding one subdirectory per application.
func (r *PathResolver) AppsDir() string { return filepath.Join(r.root, "apps") }

// AppDir returns the application's install directory.
func (r *PathResolver) AppDir(appName string) string {
	return filepath.Join(r.root, "apps", appName)
}

// DomainDir returns the directory backing a shared domain.
func (r *PathResolver) DomainDir(domain string) string {
	return filepath.Join(r.root, "domains", domain)
}

// LibDir returns the host-level shared resource directory.
func (r *PathResolver) LibDir() string { return filepath.Join(r.root, "lib") }

// AnchorPath returns the location of the application's anchor marker file.
func (r *PathResolver) AnchorPath(appName string) string {
	return filepath.Join(r.root, "apps", fmt.Sprintf("%s-anchor.txt", appName))
}

// Resolve converts descriptor-relative resource identifiers into absolute
// paths and verifies each one exists. A missing resource fails the whole
// resolution with an InstallationError naming the application and the path.
// This check is deliberately cheap and runs before any boundary or runtime
// context construction.
func (r *PathResolver) Resolve(appName string, resources []string) ([]string, error) {
	absolute := make([]string, 0, len(resources))
	for _, resource := range resources {
		path := filepath.Join(r.AppDir(appName), resource)
		if _, err := os.Stat(path); err != nil {
			return nil, &InstallationError{
				App: appName,
				Err: fmt.Errorf("%w: config for app '%s' not found: %s", ErrResourceNotFound, appName, path),
			}
		}
		absolute = append(absolute, path)
	}
	return absolute, nil
}
