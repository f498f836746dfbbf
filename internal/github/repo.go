package github

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	httpsRemoteRe = regexp.MustCompile(`^https?://(?:www\.)?github\.com/([^/\s]+)/([^/\s]+?)/?$`)
	sshRemoteRe   = regexp.MustCompile(`^git@github\.com:([^/\s]+)/([^/\s]+)$`)
	shortRepoRe   = regexp.MustCompile(`^([A-Za-z0-9_.-]+)/([A-Za-z0-9_.-]+)$`)
)

// ParseRepo extracts owner and repository name from a github.com https URL,
// a github.com SSH remote or an "owner/repo" shorthand.
func ParseRepo(repoURL string) (owner, repo string, err error) {
	s := strings.TrimSpace(repoURL)
	s = strings.TrimSuffix(s, "/")
	s = strings.TrimSuffix(s, ".git")

	for _, re := range []*regexp.Regexp{httpsRemoteRe, sshRemoteRe, shortRepoRe} {
		m := re.FindStringSubmatch(s)
		if len(m) != 3 {
			continue
		}
		if !validSegment(m[1]) || !validSegment(m[2]) {
			break
		}
		return m[1], m[2], nil
	}
	return "", "", fmt.Errorf("cannot parse GitHub owner/repo from %q", repoURL)
}

func validSegment(s string) bool {
	return s != "" && s != "." && s != ".."
}
