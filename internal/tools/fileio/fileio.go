// Package fileio provides the two file-system tools offered to the model:
// "list_files" and "read_file".
//
// Relative paths resolve against the configured root directory; absolute
// paths are used as given. The only access control is the filename-prefix
// [Filter], which hides matching entries from listings and refuses to read
// them. Tool output is plain text intended for the model, and the path is
// always echoed back exactly as the model supplied it.
//
// All handlers are safe for concurrent use.
package fileio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/MrWong99/fileagent/internal/tools"
	"github.com/MrWong99/fileagent/pkg/types"
)

// Sentinel errors returned (wrapped) by the tool handlers. Use [errors.Is] to
// classify a handler error.
var (
	ErrPathNotFound  = errors.New("fileio: path not found")
	ErrAccessDenied  = errors.New("fileio: access denied")
	ErrIsADirectory  = errors.New("fileio: is a directory")
	ErrNotADirectory = errors.New("fileio: not a directory")
	ErrTooLarge      = errors.New("fileio: file too large")
)

// toolError carries the text shown to the model while still matching one of
// the sentinels above.
type toolError struct {
	msg string
	err error
}

func (e *toolError) Error() string { return e.msg }
func (e *toolError) Unwrap() error { return e.err }

func newToolError(sentinel error, format string, args ...any) error {
	return &toolError{msg: fmt.Sprintf(format, args...), err: sentinel}
}

// Options configures [NewTools].
type Options struct {
	// Root is the directory relative paths resolve against. Empty means the
	// process working directory.
	Root string

	// Filter decides which names are hidden and unreadable.
	Filter Filter

	// MaxReadBytes caps the size of a file read_file returns. Zero or
	// negative means unbounded.
	MaxReadBytes int64
}

type listFilesArgs struct {
	Path string
}

type readFileArgs struct {
	Filepath string
}

// NewTools constructs the list_files and read_file tools.
func NewTools(opts Options) []tools.Tool {
	return []tools.Tool{
		{
			Definition: types.ToolDefinition{
				Name:        "list_files",
				Description: "List files and directories in a given path (excludes files starting with .env for security)",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"path": map[string]any{
							"type":        "string",
							"description": "The directory path to list files from (default: current directory)",
						},
					},
					"required": []string{},
				},
			},
			Handler: makeListFilesHandler(opts),
		},
		{
			Definition: types.ToolDefinition{
				Name:        "read_file",
				Description: "Read the contents of a file (cannot read files starting with .env for security)",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"filepath": map[string]any{
							"type":        "string",
							"description": "The path to the file to read",
						},
					},
					"required": []string{"filepath"},
				},
			},
			Handler: makeReadFileHandler(opts),
		},
	}
}

// resolve maps a model-supplied path onto the file system.
func resolve(root, p string) string {
	if root == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}

func makeListFilesHandler(opts Options) func(context.Context, string) (string, error) {
	return func(ctx context.Context, args string) (string, error) {
		a, err := parseListFilesArgs(args)
		if err != nil {
			return "", err
		}

		// Check for context cancellation before doing I/O.
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("fileio: list_files: %w", err)
		}

		full := resolve(opts.Root, a.Path)
		if opts.Filter.Restricted(a.Path) {
			return "", newToolError(ErrAccessDenied, "Access to '%s' is restricted for security reasons", a.Path)
		}
		info, err := os.Stat(full)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return "", newToolError(ErrPathNotFound, "Path '%s' does not exist", a.Path)
			}
			return "", fmt.Errorf("fileio: list_files: %w", err)
		}
		if opts.Filter.RestrictedPath(full) {
			return "", newToolError(ErrAccessDenied, "Access to '%s' is restricted for security reasons", a.Path)
		}
		if !info.IsDir() {
			return "", newToolError(ErrNotADirectory, "'%s' is not a directory", a.Path)
		}

		entries, err := os.ReadDir(full)
		if err != nil {
			return "", fmt.Errorf("fileio: list_files: %w", err)
		}
		if len(entries) == 0 {
			return fmt.Sprintf("Directory '%s' is empty", a.Path), nil
		}

		var dirs, files []string
		hidden := 0
		for _, e := range entries {
			entryPath := filepath.Join(full, e.Name())
			if opts.Filter.Restricted(e.Name()) || opts.Filter.RestrictedPath(entryPath) {
				hidden++
				continue
			}
			if isDir(e, entryPath) {
				dirs = append(dirs, "📁 "+e.Name()+"/")
			} else {
				files = append(files, "📄 "+e.Name())
			}
		}

		var b strings.Builder
		fmt.Fprintf(&b, "Contents of '%s':\n", a.Path)
		if len(dirs) > 0 {
			b.WriteString("\nDirectories:\n")
			b.WriteString(strings.Join(dirs, "\n"))
		}
		if len(files) > 0 {
			b.WriteString("\nFiles:\n")
			b.WriteString(strings.Join(files, "\n"))
		}
		if hidden > 0 {
			fmt.Fprintf(&b, "\n\n(Hidden %d file(s) for security reasons)", hidden)
		}
		return b.String(), nil
	}
}

// isDir reports whether the entry is a directory, following symlinks.
func isDir(e fs.DirEntry, path string) bool {
	if e.Type()&fs.ModeSymlink == 0 {
		return e.IsDir()
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func makeReadFileHandler(opts Options) func(context.Context, string) (string, error) {
	return func(ctx context.Context, args string) (string, error) {
		a, err := parseReadFileArgs(args)
		if err != nil {
			return "", err
		}

		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("fileio: read_file: %w", err)
		}

		if opts.Filter.Restricted(a.Filepath) {
			return "", newToolError(ErrAccessDenied, "Access to '%s' is restricted for security reasons", a.Filepath)
		}
		full := resolve(opts.Root, a.Filepath)
		info, err := os.Stat(full)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return "", newToolError(ErrPathNotFound, "File '%s' does not exist", a.Filepath)
			}
			return "", fmt.Errorf("fileio: read_file: %w", err)
		}
		if opts.Filter.RestrictedPath(full) {
			return "", newToolError(ErrAccessDenied, "Access to '%s' is restricted for security reasons", a.Filepath)
		}
		if info.IsDir() {
			return "", newToolError(ErrIsADirectory, "'%s' is a directory, not a file", a.Filepath)
		}
		if opts.MaxReadBytes > 0 && info.Size() > opts.MaxReadBytes {
			return "", newToolError(ErrTooLarge, "File '%s' is too large (%d bytes, max %d)",
				a.Filepath, info.Size(), opts.MaxReadBytes)
		}

		data, err := os.ReadFile(full)
		if err != nil {
			return "", fmt.Errorf("fileio: read_file: %w", err)
		}
		if !utf8.Valid(data) {
			return "", fmt.Errorf("'%s' is not valid UTF-8 text", a.Filepath)
		}
		return fmt.Sprintf("Contents of '%s':\n```\n%s\n```", a.Filepath, data), nil
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Argument decoding
// ─────────────────────────────────────────────────────────────────────────────

func parseListFilesArgs(args string) (listFilesArgs, error) {
	fields, err := decodeArgs(args)
	if err != nil {
		return listFilesArgs{}, fmt.Errorf("fileio: list_files: failed to parse arguments: %w", err)
	}
	p, ok := stringArg(fields, "path")
	if !ok || p == "" {
		p = "."
	}
	return listFilesArgs{Path: p}, nil
}

func parseReadFileArgs(args string) (readFileArgs, error) {
	fields, err := decodeArgs(args)
	if err != nil {
		return readFileArgs{}, fmt.Errorf("fileio: read_file: failed to parse arguments: %w", err)
	}
	p, ok := stringArg(fields, "filepath")
	if !ok || p == "" {
		return readFileArgs{}, errors.New("Missing required argument 'filepath'")
	}
	return readFileArgs{Filepath: p}, nil
}

func decodeArgs(args string) (map[string]json.RawMessage, error) {
	fields := map[string]json.RawMessage{}
	if strings.TrimSpace(args) == "" {
		return fields, nil
	}
	if err := json.Unmarshal([]byte(args), &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// stringArg returns the named argument as text. Non-string JSON values are
// coerced to their literal text; null counts as absent.
func stringArg(fields map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := fields[key]
	if !ok {
		return "", false
	}
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "null" {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	return trimmed, true
}
