package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/3leaps/clipqueue/pkg/media"
)

// signalHealthChecker reports the process is responsive.
type signalHealthChecker struct{}

func (signalHealthChecker) CheckHealth(ctx context.Context) error {
	return nil
}

// identityHealthChecker verifies the application identity is complete.
type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (c identityHealthChecker) CheckHealth(ctx context.Context) error {
	switch {
	case c.binaryName == "":
		return errors.New("identity missing binary name")
	case c.envPrefix == "":
		return errors.New("identity missing env prefix")
	case c.configName == "":
		return errors.New("identity missing config name")
	}
	return nil
}

// toolHealthChecker verifies an external binary is on the execution path.
type toolHealthChecker struct {
	path string
}

func (c toolHealthChecker) CheckHealth(ctx context.Context) error {
	_, err := media.LookTool(c.path)
	return err
}

// dirHealthChecker verifies a directory exists or can be created, and is
// writable.
type dirHealthChecker struct {
	dir string
}

func (c dirHealthChecker) CheckHealth(ctx context.Context) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", c.dir, err)
	}
	f, err := os.CreateTemp(c.dir, ".health-*")
	if err != nil {
		return fmt.Errorf("%s not writable: %w", c.dir, err)
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

// workerHealthChecker fails once the worker loop has exited.
type workerHealthChecker struct {
	done <-chan struct{}
}

func (c workerHealthChecker) CheckHealth(ctx context.Context) error {
	select {
	case <-c.done:
		return errors.New("worker stopped")
	default:
		return nil
	}
}
