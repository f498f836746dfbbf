// Package git reads repository metadata from a local checkout so commands can
// default to the repository in the working directory.
package git

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/joescharf/prreview/internal/github"
)

// ErrNoRemote is returned when the checkout has no origin remote.
var ErrNoRemote = errors.New("no origin remote")

// Client defines the git operations used against a local checkout.
type Client interface {
	RepoRoot(path string) (string, error)
	CurrentBranch(path string) (string, error)
	RemoteURL(path string) (string, error)
}

// RealClient implements Client using real git commands.
type RealClient struct{}

// NewClient returns a new RealClient.
func NewClient() *RealClient {
	return &RealClient{}
}

func gitCmd(path string, args ...string) (string, error) {
	fullArgs := append([]string{"-C", path}, args...)
	out, err := exec.Command("git", fullArgs...).Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("git %s: %s", strings.Join(args, " "), strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (c *RealClient) RepoRoot(path string) (string, error) {
	return gitCmd(path, "rev-parse", "--show-toplevel")
}

func (c *RealClient) CurrentBranch(path string) (string, error) {
	return gitCmd(path, "rev-parse", "--abbrev-ref", "HEAD")
}

func (c *RealClient) RemoteURL(path string) (string, error) {
	out, err := gitCmd(path, "remote", "get-url", "origin")
	if err != nil || out == "" {
		return "", ErrNoRemote
	}
	return out, nil
}

// DetectRepo returns the owner/repo of the origin remote of the checkout at path.
func DetectRepo(c Client, path string) (string, error) {
	root, err := c.RepoRoot(path)
	if err != nil {
		return "", fmt.Errorf("not a git repository: %s", path)
	}
	remote, err := c.RemoteURL(root)
	if err != nil {
		return "", fmt.Errorf("%s: %w", root, err)
	}
	owner, repo, err := github.ParseRepo(remote)
	if err != nil {
		return "", fmt.Errorf("origin is not a GitHub remote: %s", remote)
	}
	return owner + "/" + repo, nil
}
