// Package testutil holds fixtures and assertion helpers shared across the
// Configuration Management Core's package tests, generalized from the
// teacher's internal/testutil (MinimalConfig/MockSSHClient helpers built
// for internal/config.Config and SSH-exec mocking) onto this module's own
// schema/transport types.
package testutil

import (
	"testing"

	"github.com/lakowske/netcore/internal/schema"
	"github.com/lakowske/netcore/internal/transport"
)

// MinimalEnvironment returns a minimally valid, enabled environment named
// "testing" rooted at basePath.
func MinimalEnvironment(basePath string) schema.Environment {
	return schema.Environment{
		Name:     "testing",
		BasePath: basePath,
		Domain:   "example.test",
		Enabled:  true,
	}
}

// MinimalServiceConfig returns a minimally valid, non-SSL service
// definition for containerRef.
func MinimalServiceConfig(containerRef string) schema.ServiceConfig {
	return schema.ServiceConfig{
		ContainerRef: containerRef,
		Image:        containerRef + ":latest",
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Errorf("expected no error, got: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Error("expected an error, got nil")
	}
}

// AssertEqual fails the test if expected != actual.
func AssertEqual(t *testing.T, expected, actual interface{}) {
	t.Helper()
	if expected != actual {
		t.Errorf("expected %v, got %v", expected, actual)
	}
}

// MockExecCall records one call made to a MockExecClient.
type MockExecCall struct {
	Host    string
	Command string
}

// MockExecClient is a shared fake for the execClient seam every
// transport.Client-driving component (internal/supervisor, internal/reload)
// depends on, so package tests don't each reinvent the same recorder.
type MockExecClient struct {
	// ExecuteFunc is called when Execute is invoked; if nil, Execute
	// returns a zero-value successful Result.
	ExecuteFunc func(host, cmd string) (*transport.Result, error)

	Calls []MockExecCall
}

// Execute implements the execClient interface every such component
// depends on.
func (m *MockExecClient) Execute(host, cmd string) (*transport.Result, error) {
	m.Calls = append(m.Calls, MockExecCall{Host: host, Command: cmd})
	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(host, cmd)
	}
	return &transport.Result{ExitCode: 0}, nil
}

// Reset clears every recorded call.
func (m *MockExecClient) Reset() {
	m.Calls = nil
}
