package hotdeploy

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Default descriptor values applied when an application ships no descriptor
// file, or ships one that omits a field.
const (
	DefaultConfigResource  = "app.conf"
	DefaultBuilderSelector = "auto"

	descriptorFileTOML = "app-deploy.toml"
	descriptorFileYAML = "app-deploy.yaml"
)

// ApplicationDescriptor is the immutable record produced once per install
// cycle. It is replaced wholesale on redeploy, never mutated in place.
type ApplicationDescriptor struct {
	Name                string
	ConfigResources     []string
	Domain              string
	ConfigBuilder       string
	Properties          map[string]string
	PackagesToScan      []string
	RedeploymentEnabled bool
}

// DescriptorResolver locates and parses an application's deployment
// descriptor.
type DescriptorResolver interface {
	Resolve(appName string) (*ApplicationDescriptor, error)
}

// descriptorFile is the on-disk descriptor schema, shared between the TOML
// and YAML encodings.
type descriptorFile struct {
	Name         string            `toml:"name" yaml:"name"`
	Resources    []string          `toml:"resources" yaml:"resources"`
	Domain       string            `toml:"domain" yaml:"domain"`
	Builder      string            `toml:"builder" yaml:"builder"`
	Redeployment *bool             `toml:"redeployment" yaml:"redeployment"`
	Packages     []string          `toml:"packages" yaml:"packages"`
	Properties   map[string]string `toml:"properties" yaml:"properties"`
}

// FileDescriptorResolver reads `app-deploy.toml` (preferred) or
// `app-deploy.yaml` from the application's install directory. An application
// without a descriptor file gets the defaults: the default domain, the auto
// builder, one config resource named app.conf, and redeployment enabled.
type FileDescriptorResolver struct {
	paths *PathResolver
}

// NewFileDescriptorResolver creates a resolver over the given installation root.
func NewFileDescriptorResolver(paths *PathResolver) *FileDescriptorResolver {
	return &FileDescriptorResolver{paths: paths}
}

// Resolve implements DescriptorResolver.
func (r *FileDescriptorResolver) Resolve(appName string) (*ApplicationDescriptor, error) {
	var raw descriptorFile

	tomlPath := filepath.Join(r.paths.AppDir(appName), descriptorFileTOML)
	yamlPath := filepath.Join(r.paths.AppDir(appName), descriptorFileYAML)

	switch {
	case fileExists(tomlPath):
		if _, err := toml.DecodeFile(tomlPath, &raw); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDescriptorParse, err)
		}
	case fileExists(yamlPath):
		data, err := os.ReadFile(yamlPath)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDescriptorParse, err)
		}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDescriptorParse, err)
		}
	}

	// the name field is optional; when present it must agree with the
	// directory the app was deployed from
	if raw.Name != "" && raw.Name != appName {
		return nil, fmt.Errorf("%w: descriptor says '%s', app is '%s'", ErrDescriptorNameSet, raw.Name, appName)
	}

	return descriptorFromFile(appName, raw), nil
}

func descriptorFromFile(appName string, raw descriptorFile) *ApplicationDescriptor {
	desc := &ApplicationDescriptor{
		Name:                appName,
		ConfigResources:     raw.Resources,
		Domain:              raw.Domain,
		ConfigBuilder:       raw.Builder,
		PackagesToScan:      raw.Packages,
		Properties:          make(map[string]string, len(raw.Properties)),
		RedeploymentEnabled: true,
	}
	for k, v := range raw.Properties {
		desc.Properties[k] = v
	}
	if len(desc.ConfigResources) == 0 {
		desc.ConfigResources = []string{DefaultConfigResource}
	}
	if desc.ConfigBuilder == "" {
		desc.ConfigBuilder = DefaultBuilderSelector
	}
	if raw.Redeployment != nil {
		desc.RedeploymentEnabled = *raw.Redeployment
	}
	return desc
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
