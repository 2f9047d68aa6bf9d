package hotdeploy

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"

	"github.com/golobby/cast"
)

// Implicit properties injected by the properties builder so later builders
// and application code can locate themselves on disk.
const (
	AppHomeProperty = "app.home"
	AppNameProperty = "app.name"
)

// ExtensionsCapability is the boundary capability marker that enables the
// optional extensions builder in the assembled chain.
const ExtensionsCapability = "extensions"

// BuildEnvironment carries everything a configuration builder needs: the
// resolved resource paths, the application's isolation boundary, and the
// property set accumulated by earlier builders in the chain. The boundary is
// an explicit field here rather than ambient state, so builder code resolves
// resources against it without any thread-bound context.
type BuildEnvironment struct {
	AppName       string
	AppHome       string
	ResourcePaths []string
	Boundary      ApplicationBoundary
	Properties    *PropertySet
}

// ConfigurationBuilder contributes one slice of an application's runtime
// configuration. Builders run in chain order against a shared BuildEnvironment.
type ConfigurationBuilder interface {
	// Configure applies this builder's configuration to the environment.
	Configure(env *BuildEnvironment) error

	// Configured reports whether the builder is already self-sufficient.
	// A self-configured primary builder is used standalone, skipping the
	// rest of the chain.
	Configured() bool
}

// BuilderFactory creates a configuration builder for the given resolved
// resource paths.
type BuilderFactory func(resourcePaths []string) (ConfigurationBuilder, error)

// BuilderRegistry maps descriptor builder selectors to factories.
type BuilderRegistry struct {
	mu        sync.RWMutex
	factories map[string]BuilderFactory
}

// NewBuilderRegistry creates a registry pre-populated with the built-in
// "auto" and "properties" selectors.
func NewBuilderRegistry() *BuilderRegistry {
	r := &BuilderRegistry{factories: make(map[string]BuilderFactory)}
	r.Register(DefaultBuilderSelector, func(paths []string) (ConfigurationBuilder, error) {
		return &autoBuilder{resourcePaths: paths}, nil
	})
	r.Register("properties", func(paths []string) (ConfigurationBuilder, error) {
		return NewPropertiesBuilder(nil), nil
	})
	return r
}

// Register binds a selector to a factory, replacing any previous binding.
func (r *BuilderRegistry) Register(selector string, factory BuilderFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[selector] = factory
}

// Registered reports whether a factory is bound to the selector.
func (r *BuilderRegistry) Registered(selector string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[selector]
	return ok
}

// New instantiates the builder bound to the selector.
func (r *BuilderRegistry) New(selector string, resourcePaths []string) (ConfigurationBuilder, error) {
	r.mu.RLock()
	factory, ok := r.factories[selector]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", ErrBuilderNotRegistered, selector)
	}
	builder, err := factory(resourcePaths)
	if err != nil {
		return nil, fmt.Errorf("builder factory '%s' failed: %w", selector, err)
	}
	if builder == nil {
		return nil, fmt.Errorf("%w: '%s'", ErrBuilderNil, selector)
	}
	return builder, nil
}

// assembleBuilders decides the builder line-up for one init cycle. If the
// primary builder reports itself configured it is used standalone. Otherwise
// the chain is: properties builder first (so later builders can read resolved
// properties), the extensions builder if the boundary advertises that
// capability, the package-scan builder if the descriptor lists packages, and
// the primary builder last. Once an optional builder's enabling condition
// holds, a failure to instantiate it is fatal.
func assembleBuilders(desc *ApplicationDescriptor, resourcePaths []string, appHome string, boundary ApplicationBoundary, registry *BuilderRegistry) ([]ConfigurationBuilder, error) {
	primary, err := registry.New(desc.ConfigBuilder, resourcePaths)
	if err != nil {
		return nil, err
	}
	if primary.Configured() {
		return []ConfigurationBuilder{primary}, nil
	}

	props := make(map[string]string, len(desc.Properties)+2)
	for k, v := range desc.Properties {
		props[k] = v
	}
	props[AppHomeProperty] = appHome
	props[AppNameProperty] = desc.Name

	builders := []ConfigurationBuilder{NewPropertiesBuilder(props)}

	if boundary != nil && boundary.HasCapability(ExtensionsCapability) {
		// the capability is advertised, so a missing factory is fatal rather
		// than a silent downgrade
		if !registry.Registered(ExtensionsCapability) {
			return nil, fmt.Errorf("%w: '%s'", ErrBuilderNotRegistered, ExtensionsCapability)
		}
		ext, err := registry.New(ExtensionsCapability, resourcePaths)
		if err != nil {
			return nil, err
		}
		builders = append(builders, ext)
	}

	if len(desc.PackagesToScan) > 0 {
		builders = append(builders, NewScanBuilder(desc.PackagesToScan))
	}

	return append(builders, primary), nil
}

// PropertySet is the string-keyed property map accumulated by a builder
// chain, with typed accessors backed by golobby/cast.
type PropertySet struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewPropertySet creates an empty property set.
func NewPropertySet() *PropertySet {
	return &PropertySet{values: make(map[string]string)}
}

// Set stores a property value.
func (p *PropertySet) Set(key, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values[key] = value
}

// Get returns a property value and whether it was present.
func (p *PropertySet) Get(key string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.values[key]
	return v, ok
}

// Int returns a property converted to int.
func (p *PropertySet) Int(key string) (int, error) {
	raw, ok := p.Get(key)
	if !ok {
		return 0, fmt.Errorf("property '%s' not set", key)
	}
	v, err := cast.FromType(raw, reflect.TypeOf(0))
	if err != nil {
		return 0, fmt.Errorf("property '%s' is not an int: %w", key, err)
	}
	return v.(int), nil
}

// Bool returns a property converted to bool.
func (p *PropertySet) Bool(key string) (bool, error) {
	raw, ok := p.Get(key)
	if !ok {
		return false, fmt.Errorf("property '%s' not set", key)
	}
	v, err := cast.FromType(raw, reflect.TypeOf(false))
	if err != nil {
		return false, fmt.Errorf("property '%s' is not a bool: %w", key, err)
	}
	return v.(bool), nil
}

// Len returns the number of properties.
func (p *PropertySet) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.values)
}

// PropertiesBuilder seeds the build environment with a fixed property map.
// It always runs first in an assembled chain.
type PropertiesBuilder struct {
	properties map[string]string
}

// NewPropertiesBuilder creates a builder over the given properties.
func NewPropertiesBuilder(properties map[string]string) *PropertiesBuilder {
	return &PropertiesBuilder{properties: properties}
}

// Configure copies the seeded properties into the environment.
func (b *PropertiesBuilder) Configure(env *BuildEnvironment) error {
	for k, v := range b.properties {
		env.Properties.Set(k, v)
	}
	return nil
}

// Configured always reports false; a properties builder is never
// self-sufficient.
func (b *PropertiesBuilder) Configured() bool { return false }

// ScanBuilder verifies the descriptor's packages-to-scan exist under the
// application boundary and records the list for the runtime context.
type ScanBuilder struct {
	packages []string
}

// NewScanBuilder creates a builder for the given package list.
func NewScanBuilder(packages []string) *ScanBuilder {
	return &ScanBuilder{packages: packages}
}

// Configure resolves each scan package through the boundary and records the
// joined list under the "scan.packages" property.
func (b *ScanBuilder) Configure(env *BuildEnvironment) error {
	for _, pkg := range b.packages {
		if _, err := env.Boundary.Resolve(pkg); err != nil {
			return fmt.Errorf("scan package '%s' not found for app '%s': %w", pkg, env.AppName, err)
		}
	}
	env.Properties.Set("scan.packages", strings.Join(b.packages, ","))
	return nil
}

// Configured always reports false.
func (b *ScanBuilder) Configured() bool { return false }

// autoBuilder is the default primary builder. It loads every resolved config
// resource it understands: key=value pairs from .conf and .properties files.
// Resources in other formats are left to the runtime context.
type autoBuilder struct {
	resourcePaths []string
}

func (b *autoBuilder) Configure(env *BuildEnvironment) error {
	for _, path := range b.resourcePaths {
		switch filepath.Ext(path) {
		case ".conf", ".properties":
			if err := loadPropertiesFile(path, env.Properties); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *autoBuilder) Configured() bool { return false }

func loadPropertiesFile(path string, into *PropertySet) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config resource %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		into.Set(strings.TrimSpace(key), strings.TrimSpace(value))
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read config resource %s: %w", path, err)
	}
	return nil
}
