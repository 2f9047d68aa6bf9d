package hotdeploy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/cucumber/godog"
)

// deployBDDContext carries state across BDD steps.
type deployBDDContext struct {
	root      string
	service   *DeploymentService
	factory   *mockContextFactory
	lastErr   error
	firstCtxs map[string]RuntimeContext
}

func (c *deployBDDContext) reset() error {
	if c.service != nil {
		c.service.Stop()
	}
	root, err := os.MkdirTemp("", "hotdeploy-bdd-")
	if err != nil {
		return err
	}
	c.root = root
	c.factory = &mockContextFactory{}
	c.service = NewDeploymentService(root,
		WithApplicationOptions(WithContextFactory(c.factory)))
	c.lastErr = nil
	c.firstCtxs = make(map[string]RuntimeContext)
	return nil
}

func (c *deployBDDContext) anInstallationRoot() error {
	if c.root == "" {
		return errors.New("installation root not prepared")
	}
	return nil
}

func (c *deployBDDContext) anApplicationWithAConfigResource(name string) error {
	path := filepath.Join(c.root, "apps", name, DefaultConfigResource)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte("k = v\n"), 0o644)
}

func (c *deployBDDContext) anApplicationWithoutItsConfigResource(name string) error {
	return os.MkdirAll(filepath.Join(c.root, "apps", name), 0o755)
}

func (c *deployBDDContext) iDeploy(name string) error {
	if err := c.service.Deploy(name); err != nil {
		return err
	}
	app, _ := c.service.Application(name)
	c.firstCtxs[name] = app.RuntimeContext()
	return nil
}

func (c *deployBDDContext) iTryToDeploy(name string) error {
	c.lastErr = c.service.Deploy(name)
	return nil
}

func (c *deployBDDContext) iRedeploy(name string) error {
	return c.service.Redeploy(name)
}

func (c *deployBDDContext) iUndeploy(name string) error {
	return c.service.Undeploy(name)
}

func (c *deployBDDContext) theApplicationShouldBeStarted(name string) error {
	app, ok := c.service.Application(name)
	if !ok {
		return fmt.Errorf("application '%s' not deployed", name)
	}
	if app.State() != StateStarted {
		return fmt.Errorf("application '%s' is %s, expected started", name, app.State())
	}
	return nil
}

func (c *deployBDDContext) theApplicationShouldNotBeDeployed(name string) error {
	if _, ok := c.service.Application(name); ok {
		return fmt.Errorf("application '%s' is unexpectedly deployed", name)
	}
	return nil
}

func (c *deployBDDContext) anAnchorFileShouldExist(name string) error {
	path := filepath.Join(c.root, "apps", name+"-anchor.txt")
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("anchor file missing for '%s': %w", name, err)
	}
	if string(data) != AnchorBlurb {
		return fmt.Errorf("anchor content mismatch: %q", string(data))
	}
	return nil
}

func (c *deployBDDContext) noAnchorFileShouldExist(name string) error {
	path := filepath.Join(c.root, "apps", name+"-anchor.txt")
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("anchor file for '%s' still exists", name)
	}
	return nil
}

func (c *deployBDDContext) theApplicationShouldRunAFreshRuntimeContext(name string) error {
	app, ok := c.service.Application(name)
	if !ok {
		return fmt.Errorf("application '%s' not deployed", name)
	}
	if app.RuntimeContext() == c.firstCtxs[name] {
		return fmt.Errorf("application '%s' still runs its original context", name)
	}
	return nil
}

func (c *deployBDDContext) theDeploymentShouldFailNamingTheMissingResource() error {
	var installErr *InstallationError
	if !errors.As(c.lastErr, &installErr) {
		return fmt.Errorf("expected an installation error, got %v", c.lastErr)
	}
	if !errors.Is(c.lastErr, ErrResourceNotFound) {
		return fmt.Errorf("expected a missing resource cause, got %v", c.lastErr)
	}
	return nil
}

// InitializeDeploymentScenario wires the deployment lifecycle BDD steps.
func InitializeDeploymentScenario(ctx *godog.ScenarioContext) {
	testCtx := &deployBDDContext{}

	ctx.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
		return ctx, testCtx.reset()
	})
	ctx.After(func(ctx context.Context, _ *godog.Scenario, _ error) (context.Context, error) {
		if testCtx.service != nil {
			testCtx.service.Stop()
		}
		if testCtx.root != "" {
			os.RemoveAll(testCtx.root)
		}
		return ctx, nil
	})

	ctx.Step(`^an installation root$`, testCtx.anInstallationRoot)
	ctx.Step(`^an application "([^"]*)" with a config resource$`, testCtx.anApplicationWithAConfigResource)
	ctx.Step(`^an application "([^"]*)" without its config resource$`, testCtx.anApplicationWithoutItsConfigResource)
	ctx.Step(`^I deploy "([^"]*)"$`, testCtx.iDeploy)
	ctx.Step(`^I try to deploy "([^"]*)"$`, testCtx.iTryToDeploy)
	ctx.Step(`^I redeploy "([^"]*)"$`, testCtx.iRedeploy)
	ctx.Step(`^I undeploy "([^"]*)"$`, testCtx.iUndeploy)
	ctx.Step(`^the application "([^"]*)" should be started$`, testCtx.theApplicationShouldBeStarted)
	ctx.Step(`^the application "([^"]*)" should not be deployed$`, testCtx.theApplicationShouldNotBeDeployed)
	ctx.Step(`^an anchor file should exist for "([^"]*)" with the standard blurb$`, testCtx.anAnchorFileShouldExist)
	ctx.Step(`^no anchor file should exist for "([^"]*)"$`, testCtx.noAnchorFileShouldExist)
	ctx.Step(`^the application "([^"]*)" should run a fresh runtime context$`, testCtx.theApplicationShouldRunAFreshRuntimeContext)
	ctx.Step(`^the deployment should fail naming the missing resource$`, testCtx.theDeploymentShouldFailNamingTheMissingResource)
}

// TestDeploymentLifecycle runs the BDD suite for the deployment lifecycle.
func TestDeploymentLifecycle(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeDeploymentScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features/deployment_lifecycle.feature"},
			TestingT: t,
			Strict:   true,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
