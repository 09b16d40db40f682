package scm

import (
	"regexp"
	"strconv"

	"github.com/sakif/ghostwriter/internal/apperror"
)

var prURLPattern = regexp.MustCompile(`github\.com/([^/]+)/([^/]+)/pull/(\d+)`)

// PRRef identifies a pull request.
type PRRef struct {
	Owner  string
	Repo   string
	Number int
}

// ParsePRURL extracts owner, repo and number from a pull request URL such as
// https://github.com/acme/widgets/pull/42.
func ParsePRURL(raw string) (PRRef, error) {
	m := prURLPattern.FindStringSubmatch(raw)
	if m == nil {
		return PRRef{}, apperror.ValidationFailed("prUrl", "Invalid GitHub PR URL format")
	}
	n, err := strconv.Atoi(m[3])
	if err != nil || n <= 0 {
		return PRRef{}, apperror.ValidationFailed("prUrl", "Invalid pull request number")
	}
	return PRRef{Owner: m[1], Repo: m[2], Number: n}, nil
}
