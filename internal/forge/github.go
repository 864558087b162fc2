package forge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"

	"github.com/dohr-michael/foundry/internal/config"
)

const defaultTreeDepth = 3

// GitHub implements Client against the GitHub REST API.
type GitHub struct {
	client *github.Client
	owner  string
	repo   string
	base   string
	retry  RetryConfig
}

// NewGitHub creates a GitHub forge client from config.
func NewGitHub(ctx context.Context, cfg config.ForgeConfig) (*GitHub, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("forge token not set")
	}
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, fmt.Errorf("forge owner and repo must be set")
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
	client := github.NewClient(oauth2.NewClient(ctx, ts))

	if cfg.BaseURL != "" {
		var err error
		client, err = client.WithEnterpriseURLs(cfg.BaseURL, cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("forge base url: %w", err)
		}
	}

	base := cfg.BaseBranch
	if base == "" {
		base = "main"
	}

	return &GitHub{
		client: client,
		owner:  cfg.Owner,
		repo:   cfg.Repo,
		base:   base,
		retry:  defaultRetryConfig(),
	}, nil
}

// BaseBranch returns the branch change requests target.
func (g *GitHub) BaseBranch() string { return g.base }

func (g *GitHub) CreateBranch(ctx context.Context, name string) error {
	var baseRef *github.Reference
	err := withRetry(ctx, g.retry, func() (*github.Response, error) {
		ref, resp, err := g.client.Git.GetRef(ctx, g.owner, g.repo, "heads/"+g.base)
		baseRef = ref
		return resp, err
	})
	if err != nil {
		return fmt.Errorf("resolve base branch %s: %w", g.base, err)
	}

	err = withRetry(ctx, g.retry, func() (*github.Response, error) {
		_, resp, err := g.client.Git.CreateRef(ctx, g.owner, g.repo, &github.Reference{
			Ref:    github.String("refs/heads/" + name),
			Object: &github.GitObject{SHA: baseRef.Object.SHA},
		})
		return resp, err
	})
	if err != nil {
		if statusOf(err) == http.StatusUnprocessableEntity {
			slog.Info("branch already exists", "branch", name)
			return nil
		}
		return fmt.Errorf("create branch %s: %w", name, err)
	}

	slog.Info("created branch", "branch", name, "base", g.base)
	return nil
}

func (g *GitHub) ReadFile(ctx context.Context, path, ref string) (string, bool, error) {
	if ref == "" {
		ref = g.base
	}

	var file *github.RepositoryContent
	err := withRetry(ctx, g.retry, func() (*github.Response, error) {
		f, _, resp, err := g.client.Repositories.GetContents(ctx, g.owner, g.repo, path,
			&github.RepositoryContentGetOptions{Ref: ref})
		file = f
		return resp, err
	})
	if err != nil {
		if statusOf(err) == http.StatusNotFound {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read %s@%s: %w", path, ref, err)
	}
	if file == nil {
		// Path is a directory.
		return "", false, nil
	}

	content, err := file.GetContent()
	if err != nil {
		return "", false, fmt.Errorf("decode %s@%s: %w", path, ref, err)
	}
	return content, true, nil
}

func (g *GitHub) ListDirectory(ctx context.Context, path, ref string) ([]string, error) {
	if ref == "" {
		ref = g.base
	}

	var file *github.RepositoryContent
	var dir []*github.RepositoryContent
	err := withRetry(ctx, g.retry, func() (*github.Response, error) {
		f, d, resp, err := g.client.Repositories.GetContents(ctx, g.owner, g.repo, path,
			&github.RepositoryContentGetOptions{Ref: ref})
		file, dir = f, d
		return resp, err
	})
	if err != nil {
		if statusOf(err) == http.StatusNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s@%s: %w", path, ref, err)
	}

	if dir == nil {
		if file != nil {
			return []string{file.GetPath()}, nil
		}
		return nil, nil
	}

	paths := make([]string, 0, len(dir))
	for _, entry := range dir {
		paths = append(paths, entry.GetPath())
	}
	return paths, nil
}

func (g *GitHub) TreePaths(ctx context.Context, path, ref string, maxDepth int) ([]string, error) {
	if ref == "" {
		ref = g.base
	}
	if maxDepth <= 0 {
		maxDepth = defaultTreeDepth
	}

	var tree *github.Tree
	err := withRetry(ctx, g.retry, func() (*github.Response, error) {
		t, resp, err := g.client.Git.GetTree(ctx, g.owner, g.repo, ref, true)
		tree = t
		return resp, err
	})
	if err != nil {
		if statusOf(err) == http.StatusNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("tree %s@%s: %w", path, ref, err)
	}

	prefix := strings.Trim(path, "/")
	var paths []string
	for _, entry := range tree.Entries {
		if entry.GetType() != "blob" {
			continue
		}
		p := entry.GetPath()
		rel := p
		if prefix != "" {
			if !strings.HasPrefix(p, prefix+"/") {
				continue
			}
			rel = p[len(prefix)+1:]
		}
		if strings.Count(rel, "/") > maxDepth {
			continue
		}
		paths = append(paths, p)
	}
	return paths, nil
}

func (g *GitHub) WriteFile(ctx context.Context, path, content, message, branch string) (string, error) {
	if branch == "" {
		branch = g.base
	}

	var existing *github.RepositoryContent
	err := withRetry(ctx, g.retry, func() (*github.Response, error) {
		f, _, resp, err := g.client.Repositories.GetContents(ctx, g.owner, g.repo, path,
			&github.RepositoryContentGetOptions{Ref: branch})
		existing = f
		return resp, err
	})
	if err != nil && statusOf(err) != http.StatusNotFound {
		return "", fmt.Errorf("stat %s@%s: %w", path, branch, err)
	}

	opts := &github.RepositoryContentFileOptions{
		Message: github.String(message),
		Content: []byte(content),
		Branch:  github.String(branch),
	}

	var result *github.RepositoryContentResponse
	if existing != nil {
		opts.SHA = existing.SHA
		err = withRetry(ctx, g.retry, func() (*github.Response, error) {
			r, resp, err := g.client.Repositories.UpdateFile(ctx, g.owner, g.repo, path, opts)
			result = r
			return resp, err
		})
	} else {
		err = withRetry(ctx, g.retry, func() (*github.Response, error) {
			r, resp, err := g.client.Repositories.CreateFile(ctx, g.owner, g.repo, path, opts)
			result = r
			return resp, err
		})
	}
	if err != nil {
		return "", fmt.Errorf("commit %s@%s: %w", path, branch, err)
	}

	sha := result.Commit.GetSHA()
	slog.Info("committed file", "path", path, "branch", branch, "sha", shortSHA(sha))
	return sha, nil
}

func (g *GitHub) DeleteFile(ctx context.Context, path, message, branch string) (string, error) {
	if branch == "" {
		branch = g.base
	}

	var existing *github.RepositoryContent
	err := withRetry(ctx, g.retry, func() (*github.Response, error) {
		f, _, resp, err := g.client.Repositories.GetContents(ctx, g.owner, g.repo, path,
			&github.RepositoryContentGetOptions{Ref: branch})
		existing = f
		return resp, err
	})
	if err != nil {
		return "", fmt.Errorf("stat %s@%s: %w", path, branch, err)
	}
	if existing == nil {
		return "", fmt.Errorf("delete %s@%s: path is a directory", path, branch)
	}

	var result *github.RepositoryContentResponse
	err = withRetry(ctx, g.retry, func() (*github.Response, error) {
		r, resp, err := g.client.Repositories.DeleteFile(ctx, g.owner, g.repo, path,
			&github.RepositoryContentFileOptions{
				Message: github.String(message),
				SHA:     existing.SHA,
				Branch:  github.String(branch),
			})
		result = r
		return resp, err
	})
	if err != nil {
		return "", fmt.Errorf("delete %s@%s: %w", path, branch, err)
	}

	sha := result.Commit.GetSHA()
	slog.Info("deleted file", "path", path, "branch", branch, "sha", shortSHA(sha))
	return sha, nil
}

func (g *GitHub) OpenChangeRequest(ctx context.Context, spec ChangeRequestSpec) (*ChangeRequest, error) {
	var pr *github.PullRequest
	err := withRetry(ctx, g.retry, func() (*github.Response, error) {
		p, resp, err := g.client.PullRequests.Create(ctx, g.owner, g.repo, &github.NewPullRequest{
			Title: github.String(spec.Title),
			Body:  github.String(spec.Body),
			Head:  github.String(spec.Branch),
			Base:  github.String(g.base),
		})
		pr = p
		return resp, err
	})
	if err != nil {
		return nil, fmt.Errorf("open change request for %s: %w", spec.Branch, err)
	}

	result := &ChangeRequest{
		Number: pr.GetNumber(),
		URL:    pr.GetHTMLURL(),
		Title:  pr.GetTitle(),
	}
	slog.Info("opened change request", "number", result.Number, "title", result.Title)

	if spec.AutoIntegrate {
		merge, _, err := g.client.PullRequests.Merge(ctx, g.owner, g.repo, pr.GetNumber(), "",
			&github.PullRequestOptions{MergeMethod: "squash"})
		switch {
		case err != nil:
			result.MergeError = err.Error()
			slog.Warn("auto-merge failed", "number", result.Number, "error", err)
		case !merge.GetMerged():
			result.MergeError = merge.GetMessage()
			slog.Warn("auto-merge refused", "number", result.Number, "message", merge.GetMessage())
		default:
			result.Merged = true
			slog.Info("auto-merged change request", "number", result.Number)
		}
	}

	return result, nil
}

// statusOf extracts the HTTP status from a go-github error, 0 when absent.
func statusOf(err error) int {
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		return ghErr.Response.StatusCode
	}
	return 0
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}

var _ Client = (*GitHub)(nil)
