// Package gitstore is the artifact store: revision-addressed storage of
// project documents over a git object model. It is the only writer of
// artifact content; every mutation is an optimistic commit keyed by the base
// revision the caller observed.
package gitstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"syscall"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"steward/core/internal/fault"
	"steward/core/internal/textdiff"
)

const mainBranch = "main"

type CommitInfo struct {
	Revision  string
	Message   string
	Author    string
	CreatedAt time.Time
}

type Options struct {
	// LockWait bounds how long a writer queues for a project lock before
	// failing with Busy.
	LockWait time.Duration
	// Retries and Backoff govern transient I/O retry.
	Retries int
	Backoff time.Duration
}

func (o Options) withDefaults() Options {
	if o.LockWait <= 0 {
		o.LockWait = 5 * time.Second
	}
	if o.Retries <= 0 {
		o.Retries = 3
	}
	if o.Backoff <= 0 {
		o.Backoff = 50 * time.Millisecond
	}
	return o
}

type Store struct {
	baseDir string
	opts    Options

	lockMu sync.Mutex
	locks  map[string]chan struct{}
}

func New(baseDir string, opts Options) *Store {
	return &Store{
		baseDir: baseDir,
		opts:    opts.withDefaults(),
		locks:   make(map[string]chan struct{}),
	}
}

// EnsureProjectRepo initializes a project's repository with an empty baseline
// commit so the head revision exists before the first proposal. Idempotent.
func (s *Store) EnsureProjectRepo(ctx context.Context, projectKey, author string) error {
	release, err := s.acquire(ctx, projectKey)
	if err != nil {
		return err
	}
	defer release()

	path := s.repoPath(projectKey)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fault.Wrap(fault.CodeStorageUnavailable, "stat repo path", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return fault.Wrap(fault.CodeStorageUnavailable, "create repo dir", err)
	}
	repo, err := git.PlainInit(path, false)
	if err != nil {
		return fault.Wrap(fault.CodeStorageUnavailable, "init repo", err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	marker := filepath.Join(path, ".steward")
	if err := os.WriteFile(marker, []byte(projectKey+"\n"), 0o644); err != nil {
		return fault.Wrap(fault.CodeStorageUnavailable, "write project marker", err)
	}
	if _, err := worktree.Add(".steward"); err != nil {
		return fmt.Errorf("git add project marker: %w", err)
	}
	hash, err := worktree.Commit("Initialize project "+projectKey, &git.CommitOptions{
		Author: signature(author),
	})
	if err != nil {
		return fmt.Errorf("commit baseline: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName(mainBranch), hash)); err != nil {
		return fmt.Errorf("set main branch ref: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(mainBranch))); err != nil {
		return fmt.Errorf("set HEAD to main: %w", err)
	}
	return nil
}

// Read returns an artifact's current bytes together with the revision they
// were read at. Content and revision come from the same commit object, so the
// pair is a consistent snapshot even while writers queue.
func (s *Store) Read(ctx context.Context, projectKey, path string) ([]byte, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	repo, err := s.open(projectKey)
	if err != nil {
		return nil, "", err
	}
	commitObj, err := headCommit(repo)
	if err != nil {
		return nil, "", err
	}
	content, err := fileAtCommit(commitObj, path)
	if err != nil {
		return nil, "", err
	}
	return content, commitObj.Hash.String(), nil
}

// CurrentRevision is the cheap head lookup used to detect drift.
func (s *Store) CurrentRevision(ctx context.Context, projectKey string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	repo, err := s.open(projectKey)
	if err != nil {
		return "", err
	}
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(mainBranch), true)
	if err != nil {
		return "", fault.Wrap(fault.CodeStorageUnavailable, "resolve main", err)
	}
	return ref.Hash().String(), nil
}

// Commit writes one or more path changes as a single commit, but only if the
// head still equals baseRevision. A drifted head fails with StaleBase and
// leaves the repository untouched; retrying is the caller's decision, made by
// a human, not this store.
func (s *Store) Commit(ctx context.Context, projectKey string, changes map[string][]byte, message, author, baseRevision string) (string, error) {
	release, err := s.acquire(ctx, projectKey)
	if err != nil {
		return "", err
	}
	defer release()

	if len(changes) == 0 {
		return "", fault.New(fault.CodeInvalidInput, "commit has no changes")
	}

	var revision string
	err = s.withRetry(ctx, func() error {
		repo, err := s.open(projectKey)
		if err != nil {
			return err
		}
		ref, err := repo.Reference(plumbing.NewBranchReferenceName(mainBranch), true)
		if err != nil {
			return fault.Wrap(fault.CodeStorageUnavailable, "resolve main", err)
		}
		if ref.Hash().String() != baseRevision {
			return fault.Newf(fault.CodeStaleBase, "head is %s, base was %s",
				ref.Hash().String(), baseRevision)
		}

		worktree, err := repo.Worktree()
		if err != nil {
			return fmt.Errorf("open worktree: %w", err)
		}
		if err := worktree.Checkout(&git.CheckoutOptions{Branch: plumbing.NewBranchReferenceName(mainBranch), Force: true}); err != nil {
			return fmt.Errorf("checkout main: %w", err)
		}

		root := worktree.Filesystem.Root()
		for _, path := range sortedPaths(changes) {
			full := filepath.Join(root, filepath.FromSlash(path))
			if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
				return fault.Wrap(fault.CodeStorageUnavailable, "create artifact dir", err)
			}
			if err := os.WriteFile(full, changes[path], 0o644); err != nil {
				return fault.Wrap(fault.CodeStorageUnavailable, "write artifact "+path, err)
			}
			if _, err := worktree.Add(path); err != nil {
				return fmt.Errorf("git add %s: %w", path, err)
			}
		}

		// Identical content is a valid write: the commit still records who
		// approved it and the head still advances.
		hash, err := worktree.Commit(message, &git.CommitOptions{
			AllowEmptyCommits: true,
			Author:            signature(author),
		})
		if err != nil {
			return fmt.Errorf("commit changes: %w", err)
		}
		revision = hash.String()
		return nil
	})
	if err != nil {
		return "", err
	}
	return revision, nil
}

// Diff renders the canonical unified diff of one path between two revisions.
// Byte-identical across invocations with identical inputs.
func (s *Store) Diff(ctx context.Context, projectKey, path, fromRevision, toRevision string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	repo, err := s.open(projectKey)
	if err != nil {
		return "", err
	}
	fromCommit, err := repo.CommitObject(plumbing.NewHash(fromRevision))
	if err != nil {
		return "", fault.Newf(fault.CodeNotFound, "revision %s not found", fromRevision)
	}
	toCommit, err := repo.CommitObject(plumbing.NewHash(toRevision))
	if err != nil {
		return "", fault.Newf(fault.CodeNotFound, "revision %s not found", toRevision)
	}
	// A path absent at one side is a creation or deletion, diffed against
	// empty content.
	from, err := fileAtCommit(fromCommit, path)
	if err != nil && !fault.IsCode(err, fault.CodeNotFound) {
		return "", err
	}
	to, err := fileAtCommit(toCommit, path)
	if err != nil && !fault.IsCode(err, fault.CodeNotFound) {
		return "", err
	}
	return textdiff.Unified(path, from, to)
}

// History lists commits from the head backwards, newest first.
func (s *Store) History(ctx context.Context, projectKey string, limit int) ([]CommitInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	repo, err := s.open(projectKey)
	if err != nil {
		return nil, err
	}
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(mainBranch), true)
	if err != nil {
		return nil, fault.Wrap(fault.CodeStorageUnavailable, "resolve main", err)
	}
	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]CommitInfo, 0, limit)
	count := 0
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, CommitInfo{
			Revision:  commitObj.Hash.String(),
			Message:   commitObj.Message,
			Author:    commitObj.Author.Name,
			CreatedAt: commitObj.Author.When,
		})
		count++
		if limit > 0 && count >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// Snapshot returns every artifact at the current head, keyed by path. Used by
// archival when a project closes.
func (s *Store) Snapshot(ctx context.Context, projectKey string) (map[string][]byte, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	repo, err := s.open(projectKey)
	if err != nil {
		return nil, "", err
	}
	commitObj, err := headCommit(repo)
	if err != nil {
		return nil, "", err
	}
	files := make(map[string][]byte)
	iter, err := commitObj.Files()
	if err != nil {
		return nil, "", fmt.Errorf("list commit files: %w", err)
	}
	err = iter.ForEach(func(file *object.File) error {
		reader, err := file.Reader()
		if err != nil {
			return fmt.Errorf("open %s: %w", file.Name, err)
		}
		defer reader.Close()
		content, err := io.ReadAll(reader)
		if err != nil {
			return fmt.Errorf("read %s: %w", file.Name, err)
		}
		files[file.Name] = content
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return files, commitObj.Hash.String(), nil
}

func (s *Store) repoPath(projectKey string) string {
	return filepath.Join(s.baseDir, projectKey)
}

func (s *Store) open(projectKey string) (*git.Repository, error) {
	repo, err := git.PlainOpen(s.repoPath(projectKey))
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, fault.Newf(fault.CodeNotFound, "project %s has no artifact store", projectKey)
		}
		return nil, fault.Wrap(fault.CodeStorageUnavailable, "open repo", err)
	}
	return repo, nil
}

// withRetry retries fn a bounded number of times on transient I/O failures.
// StaleBase and other domain errors propagate immediately.
func (s *Store) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < s.opts.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * s.opts.Backoff):
			}
		}
		err = fn()
		if err == nil || !isTransient(err) {
			return err
		}
	}
	return fault.Wrap(fault.CodeStorageUnavailable, "retries exhausted", err)
}

func isTransient(err error) bool {
	if fault.Code(err) != "" {
		return false
	}
	return errors.Is(err, syscall.EAGAIN) ||
		errors.Is(err, syscall.EBUSY) ||
		errors.Is(err, syscall.EINTR) ||
		os.IsTimeout(err)
}

func headCommit(repo *git.Repository) (*object.Commit, error) {
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(mainBranch), true)
	if err != nil {
		return nil, fault.Wrap(fault.CodeStorageUnavailable, "resolve main", err)
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fault.Wrap(fault.CodeStorageUnavailable, "load head commit", err)
	}
	return commitObj, nil
}

func fileAtCommit(commitObj *object.Commit, path string) ([]byte, error) {
	file, err := commitObj.File(path)
	if err != nil {
		if errors.Is(err, object.ErrFileNotFound) {
			return nil, fault.Newf(fault.CodeNotFound, "artifact %s not found", path)
		}
		return nil, fmt.Errorf("load %s from commit: %w", path, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return nil, fmt.Errorf("open content reader: %w", err)
	}
	defer reader.Close()
	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read content bytes: %w", err)
	}
	return content, nil
}

func signature(author string) *object.Signature {
	return &object.Signature{
		Name:  author,
		Email: sanitizeEmail(author) + "@local.steward.dev",
		When:  time.Now(),
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}

func sortedPaths(changes map[string][]byte) []string {
	paths := make([]string, 0, len(changes))
	for path := range changes {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}
