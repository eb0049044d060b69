// Package worktree manages git worktrees so each branch runs in its own
// checkout under the repository's worktrees directory.
package worktree

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/pochihq/pochi/internal/common/logger"
)

// DefaultDir is the worktrees directory name under a repository folder.
const DefaultDir = ".pochi-worktrees"

// Manager creates and reuses worktrees. Git operations on the same
// repository are serialized with a per-repo lock.
type Manager struct {
	log *logger.Logger

	repoLockMu sync.Mutex
	repoLocks  map[string]*sync.Mutex
}

// NewManager creates a worktree manager.
func NewManager(log *logger.Logger) *Manager {
	return &Manager{
		log:       log.WithFields(zap.String("component", "worktree-manager")),
		repoLocks: make(map[string]*sync.Mutex),
	}
}

func (m *Manager) repoLock(repoPath string) *sync.Mutex {
	m.repoLockMu.Lock()
	defer m.repoLockMu.Unlock()
	lock, ok := m.repoLocks[repoPath]
	if !ok {
		lock = &sync.Mutex{}
		m.repoLocks[repoPath] = lock
	}
	return lock
}

// SanitizeBranch normalizes a user-supplied branch name into one git
// accepts: spaces become hyphens, leading slashes are stripped, repeated
// separators collapse, and trailing slashes and dots are dropped.
func SanitizeBranch(name string) string {
	s := strings.TrimSpace(name)
	s = strings.ReplaceAll(s, " ", "-")
	s = strings.TrimLeft(s, "/")
	for {
		next := strings.ReplaceAll(s, "..", ".")
		next = strings.ReplaceAll(next, "//", "/")
		next = strings.ReplaceAll(next, "--", "-")
		if next == s {
			break
		}
		s = next
	}
	return strings.TrimRight(s, "/.")
}

// Path returns where the worktree for a branch lives: slashes in the
// branch name map to "__" so nested branches stay one directory deep.
func Path(repoPath, worktreesDir, branch string) string {
	if worktreesDir == "" {
		worktreesDir = DefaultDir
	}
	return filepath.Join(repoPath, worktreesDir, strings.ReplaceAll(branch, "/", "__"))
}

// Ensure returns a checkout of branch under repoPath's worktrees
// directory, creating the worktree and, when needed, the branch. New
// branches start from origin/<base>, then local <base>, then HEAD.
func (m *Manager) Ensure(ctx context.Context, repoPath, worktreesDir, branch, base string) (string, error) {
	branch = SanitizeBranch(branch)
	if branch == "" {
		return "", fmt.Errorf("empty branch name after sanitizing")
	}

	lock := m.repoLock(repoPath)
	lock.Lock()
	defer lock.Unlock()

	path := Path(repoPath, worktreesDir, branch)
	if m.isWorktree(ctx, path) {
		m.log.Debug("reusing worktree",
			zap.String("branch", branch),
			zap.String("path", path))
		return path, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("create worktrees dir: %w", err)
	}

	switch {
	case m.refExists(ctx, repoPath, branch):
		if _, err := m.git(ctx, repoPath, "worktree", "add", path, branch); err != nil {
			return "", err
		}
	case m.refExists(ctx, repoPath, "origin/"+branch):
		if _, err := m.git(ctx, repoPath, "worktree", "add", "-b", branch, path, "origin/"+branch); err != nil {
			return "", err
		}
	default:
		start := m.startPoint(ctx, repoPath, base)
		if _, err := m.git(ctx, repoPath, "worktree", "add", "-b", branch, path, start); err != nil {
			return "", err
		}
	}

	m.log.Info("worktree created",
		zap.String("branch", branch),
		zap.String("path", path))
	return path, nil
}

// Remove deletes a worktree checkout, keeping the branch.
func (m *Manager) Remove(ctx context.Context, repoPath, worktreesDir, branch string) error {
	lock := m.repoLock(repoPath)
	lock.Lock()
	defer lock.Unlock()

	path := Path(repoPath, worktreesDir, SanitizeBranch(branch))
	if _, err := m.git(ctx, repoPath, "worktree", "remove", "--force", path); err != nil {
		return err
	}
	_, _ = m.git(ctx, repoPath, "worktree", "prune")
	return nil
}

// startPoint picks the ref new branches start from.
func (m *Manager) startPoint(ctx context.Context, repoPath, base string) string {
	if base != "" {
		if m.refExists(ctx, repoPath, "origin/"+base) {
			return "origin/" + base
		}
		if m.refExists(ctx, repoPath, base) {
			return base
		}
	}
	return "HEAD"
}

func (m *Manager) isWorktree(ctx context.Context, path string) bool {
	if info, err := os.Stat(path); err != nil || !info.IsDir() {
		return false
	}
	_, err := m.git(ctx, path, "rev-parse", "--is-inside-work-tree")
	return err == nil
}

func (m *Manager) refExists(ctx context.Context, repoPath, ref string) bool {
	_, err := m.git(ctx, repoPath, "rev-parse", "--verify", "--quiet", ref)
	return err == nil
}

func (m *Manager) git(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}
