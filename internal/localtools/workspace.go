package localtools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aideny-kr/chatcore/internal/tool"
)

// WorkspaceRoot is the read-only filesystem view the workspace agent's
// tools operate against: one SDF project checkout per tenant, mounted
// read-only so list/read/search can never escape it and propose_patch never
// writes through it.
type WorkspaceRoot struct {
	Root string
}

func (w WorkspaceRoot) resolve(rel string) (string, error) {
	full := filepath.Join(w.Root, rel)
	if !strings.HasPrefix(full, filepath.Clean(w.Root)+string(filepath.Separator)) && full != filepath.Clean(w.Root) {
		return "", fmt.Errorf("workspace: path %q escapes the workspace root", rel)
	}
	return full, nil
}

// ListFilesDefinition lists every file under a (optionally relative)
// directory within the workspace root.
func ListFilesDefinition(root WorkspaceRoot) tool.Definition {
	return tool.Definition{
		Name:        "workspace.list_files",
		Description: "List files in the SDF project workspace, optionally under a subdirectory.",
		Schema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"path": map[string]any{"type": "string"}},
		},
		Execute: func(ctx context.Context, tc tool.Context, params map[string]any) (any, error) {
			rel, _ := params["path"].(string)
			dir, err := root.resolve(rel)
			if err != nil {
				return nil, err
			}

			var files []string
			err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if d.IsDir() {
					return nil
				}
				relPath, relErr := filepath.Rel(root.Root, path)
				if relErr != nil {
					return relErr
				}
				files = append(files, filepath.ToSlash(relPath))
				return nil
			})
			if err != nil {
				return nil, fmt.Errorf("workspace.list_files: %w", err)
			}
			return map[string]any{"files": files}, nil
		},
	}
}

// maxReadBytes caps a single file read so a multi-megabyte generated file
// can't blow the context window of the calling agent.
const maxReadBytes = 200_000

// ReadFileDefinition reads one file's contents from the workspace root.
func ReadFileDefinition(root WorkspaceRoot) tool.Definition {
	return tool.Definition{
		Name:        "workspace.read_file",
		Description: "Read the full contents of one file in the SDF project workspace.",
		Schema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"path": map[string]any{"type": "string"}},
			"required":   []string{"path"},
		},
		Execute: func(ctx context.Context, tc tool.Context, params map[string]any) (any, error) {
			rel, _ := params["path"].(string)
			if rel == "" {
				return nil, fmt.Errorf("workspace.read_file: path is required")
			}
			full, err := root.resolve(rel)
			if err != nil {
				return nil, err
			}
			data, err := os.ReadFile(full)
			if err != nil {
				return nil, fmt.Errorf("workspace.read_file: %w", err)
			}
			if len(data) > maxReadBytes {
				data = data[:maxReadBytes]
			}
			return map[string]any{"path": rel, "content": string(data)}, nil
		},
	}
}

// SearchDefinition does a case-insensitive substring scan across every file
// under the workspace root, returning matching lines with their file and
// line number. It is a grep substitute, not a code-intelligence index — the
// workspace corpus (an SDF project) is small enough that this is fast
// enough in practice.
func SearchDefinition(root WorkspaceRoot) tool.Definition {
	return tool.Definition{
		Name:        "workspace.search",
		Description: "Search workspace files for a literal substring, case-insensitive.",
		Schema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"query": map[string]any{"type": "string"}},
			"required":   []string{"query"},
		},
		Execute: func(ctx context.Context, tc tool.Context, params map[string]any) (any, error) {
			query, _ := params["query"].(string)
			if query == "" {
				return nil, fmt.Errorf("workspace.search: query is required")
			}
			needle := strings.ToLower(query)

			type match struct {
				Path string `json:"path"`
				Line int    `json:"line"`
				Text string `json:"text"`
			}
			var matches []match

			walkErr := filepath.WalkDir(root.Root, func(path string, d os.DirEntry, err error) error {
				if err != nil || d.IsDir() {
					return err
				}
				data, readErr := os.ReadFile(path)
				if readErr != nil {
					return nil // skip unreadable files rather than failing the whole search
				}
				relPath, relErr := filepath.Rel(root.Root, path)
				if relErr != nil {
					return relErr
				}
				for i, line := range strings.Split(string(data), "\n") {
					if strings.Contains(strings.ToLower(line), needle) {
						matches = append(matches, match{Path: filepath.ToSlash(relPath), Line: i + 1, Text: strings.TrimSpace(line)})
						if len(matches) >= 200 {
							return filepath.SkipAll
						}
					}
				}
				return nil
			})
			if walkErr != nil {
				return nil, fmt.Errorf("workspace.search: %w", walkErr)
			}
			return map[string]any{"matches": matches}, nil
		},
	}
}

// ProposePatchDefinition stages a proposed code change. It never writes to
// the workspace: the patch content is returned to the caller as structured
// output and lands in the governed dispatcher's audit event for the call,
// which is the changeset record a human reviewer later approves out of
// core.
func ProposePatchDefinition() tool.Definition {
	return tool.Definition{
		Name:        "workspace.propose_patch",
		Description: "Propose a code change as a unified diff for human review. Never writes to the workspace directly.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":        map[string]any{"type": "string"},
				"diff":        map[string]any{"type": "string"},
				"explanation": map[string]any{"type": "string"},
			},
			"required": []string{"path", "diff"},
		},
		Execute: func(ctx context.Context, tc tool.Context, params map[string]any) (any, error) {
			path, _ := params["path"].(string)
			diff, _ := params["diff"].(string)
			if path == "" || diff == "" {
				return nil, fmt.Errorf("workspace.propose_patch: path and diff are required")
			}
			return map[string]any{
				"status":      "proposed",
				"path":        path,
				"diff":        diff,
				"explanation": params["explanation"],
			}, nil
		},
	}
}
