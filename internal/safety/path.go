package safety

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

var repoNameRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidateRepoName rejects dataset names that could escape a URL path
// segment or a destination directory.
func ValidateRepoName(repo string) error {
	if !repoNameRegex.MatchString(repo) || strings.Contains(repo, "..") {
		return fmt.Errorf("invalid repository name %q", repo)
	}
	return nil
}

// DatasetPath returns where the database archive for repo is written
// inside dir.
func DatasetPath(dir, repo string) (string, error) {
	if err := ValidateRepoName(repo); err != nil {
		return "", err
	}
	return EnsureUnderRoot(dir, filepath.Join(dir, repo+".db.tar.gz"))
}

// EnsureUnderRoot verifies candidate resolves under root and returns
// an absolute normalized path.
func EnsureUnderRoot(root, candidate string) (string, error) {
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}
	candAbs, err := filepath.Abs(candidate)
	if err != nil {
		return "", fmt.Errorf("resolve candidate: %w", err)
	}

	rel, err := filepath.Rel(rootAbs, candAbs)
	if err != nil {
		return "", fmt.Errorf("compare paths: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes root: %q", candidate)
	}
	return candAbs, nil
}
