// Package forge talks to the source-hosting service: branches, file commits
// and change requests. The pipeline only depends on the Client interface;
// the GitHub implementation lives alongside it.
package forge

import "context"

// ChangeRequestSpec describes a change request to open.
type ChangeRequestSpec struct {
	Branch        string
	Title         string
	Body          string
	AutoIntegrate bool
}

// ChangeRequest reports an opened change request. Merged and MergeError only
// matter when auto-integration was requested; a failed merge is not an error,
// the request stays open for a human.
type ChangeRequest struct {
	Number     int
	URL        string
	Title      string
	Merged     bool
	MergeError string
}

// Client is the source-hosting surface the pipeline needs. An empty ref or
// branch means the configured base branch.
type Client interface {
	// CreateBranch creates a branch off the base branch. A branch that
	// already exists is success.
	CreateBranch(ctx context.Context, name string) error

	// ReadFile returns a file's content at ref. found is false when the path
	// does not exist or is a directory.
	ReadFile(ctx context.Context, path, ref string) (content string, found bool, err error)

	// ListDirectory returns the entry paths directly under path at ref.
	// Missing paths list as empty.
	ListDirectory(ctx context.Context, path, ref string) ([]string, error)

	// TreePaths returns all file paths under path at ref, descending at most
	// maxDepth directory levels.
	TreePaths(ctx context.Context, path, ref string, maxDepth int) ([]string, error)

	// WriteFile creates or updates a file on branch and returns the commit
	// revision. Idempotent per path: rewriting identical content is allowed.
	WriteFile(ctx context.Context, path, content, message, branch string) (string, error)

	// DeleteFile removes a file on branch and returns the commit revision.
	DeleteFile(ctx context.Context, path, message, branch string) (string, error)

	// OpenChangeRequest opens a change request from spec.Branch to the base
	// branch, optionally auto-integrating it.
	OpenChangeRequest(ctx context.Context, spec ChangeRequestSpec) (*ChangeRequest, error)
}
