package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/aideny-kr/chatcore/internal/localtools"
	"github.com/aideny-kr/chatcore/internal/tenant"
)

// maxImportFileBytes caps a single workspace file import. Oversized files
// are skipped, never errored — a generated bundle in an SDF project must not
// abort the rest of the import.
const maxImportFileBytes = 256 * 1024

// importChunkSize is the per-chunk character budget for imported files.
const importChunkSize = 4000

// ImportSummary is what a workspace import run reports back: how many chunks
// landed and how many files were passed over, by reason.
type ImportSummary struct {
	FilesImported   int `json:"files_imported"`
	ChunksWritten   int `json:"chunks_written"`
	SkippedOversize int `json:"skipped_oversize"`
	SkippedBinary   int `json:"skipped_binary"`
}

// ImportWorkspaceFiles walks root and imports every readable text file into
// the tenant's doc_chunks corpus so rag_search can retrieve workspace code
// alongside documentation. Files over maxImportFileBytes and files whose
// content is not valid UTF-8 are skipped, not errored. Re-importing a path
// replaces its previous chunks.
func ImportWorkspaceFiles(ctx context.Context, db *sql.DB, tenantID uuid.UUID, root string) (*ImportSummary, error) {
	summary := &ImportSummary{}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		info, err := d.Info()
		if err != nil {
			return nil // vanished mid-walk; skip
		}
		if info.Size() > maxImportFileBytes {
			summary.SkippedOversize++
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		if !utf8.Valid(data) {
			summary.SkippedBinary++
			return nil
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		sourcePath := filepath.ToSlash(relPath)

		written, err := replaceFileChunks(ctx, db, tenantID, sourcePath, string(data))
		if err != nil {
			return fmt.Errorf("import %s: %w", sourcePath, err)
		}
		summary.FilesImported++
		summary.ChunksWritten += written
		return nil
	})
	if err != nil {
		return summary, fmt.Errorf("worker: import workspace files: %w", err)
	}
	return summary, nil
}

func replaceFileChunks(ctx context.Context, db *sql.DB, tenantID uuid.UUID, sourcePath, content string) (int, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM doc_chunks WHERE tenant_id = $1 AND source_path = $2`,
		tenantID, sourcePath); err != nil {
		return 0, err
	}

	chunks := splitChunks(content, importChunkSize)
	now := time.Now()
	for i, chunk := range chunks {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO doc_chunks (id, tenant_id, source_path, title, chunk_index, content, token_count, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			uuid.New(), tenantID, sourcePath, filepath.Base(sourcePath), i, chunk, len(chunk)/4, now,
		); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(chunks), nil
}

// splitChunks breaks content on line boundaries into pieces of at most size
// characters. A single line longer than size becomes its own chunk rather
// than being split mid-line.
func splitChunks(content string, size int) []string {
	if len(content) <= size {
		if strings.TrimSpace(content) == "" {
			return nil
		}
		return []string{content}
	}

	var chunks []string
	var b strings.Builder
	for _, line := range strings.SplitAfter(content, "\n") {
		if b.Len() > 0 && b.Len()+len(line) > size {
			chunks = append(chunks, b.String())
			b.Reset()
		}
		b.WriteString(line)
	}
	if strings.TrimSpace(b.String()) != "" {
		chunks = append(chunks, b.String())
	}
	return chunks
}

// NewWorkspaceImportJob builds the on-demand job that (re)imports a tenant's
// workspace checkout into its retrieval corpus. The tenant id comes from the
// context RunJob bound, never from a parameter a caller could cross-wire.
func NewWorkspaceImportJob(db *sql.DB, root string) Job {
	return Job{
		Name: "workspace_import",
		Run: func(ctx context.Context) (map[string]any, error) {
			tenantIDStr, err := tenant.FromContext(ctx)
			if err != nil {
				return nil, err
			}
			tenantID, err := uuid.Parse(tenantIDStr)
			if err != nil {
				return nil, fmt.Errorf("worker: parse bound tenant id: %w", err)
			}
			summary, err := ImportWorkspaceFiles(ctx, db, tenantID, root)
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"files_imported":   summary.FilesImported,
				"chunks_written":   summary.ChunksWritten,
				"skipped_oversize": summary.SkippedOversize,
				"skipped_binary":   summary.SkippedBinary,
			}, nil
		},
	}
}

// fieldDiscoveryQuery pulls every custom transaction body field; SELECT
// fields carry the customlist their values resolve through.
const fieldDiscoveryQuery = `SELECT scriptid, name, fieldtype, fieldvaluetype FROM transactionbodycustomfield`

// DiscoverMetadata re-reads the tenant's NetSuite custom-field surface —
// transaction body fields plus the values of every customlist a SELECT field
// draws from — and caches it on the connection row's metadata blob. The
// SuiteQL agent reads this cache to resolve display text to list ids.
func DiscoverMetadata(ctx context.Context, db *sql.DB, tenantID uuid.UUID, run localtools.SuiteQLRunner) (map[string]any, error) {
	fields, _, err := run(ctx, tenantID, fieldDiscoveryQuery)
	if err != nil {
		return nil, fmt.Errorf("worker: discover custom fields: %w", err)
	}

	customLists := map[string][]map[string]any{}
	for _, f := range fields {
		fieldType, _ := f["fieldtype"].(string)
		listID, _ := f["fieldvaluetype"].(string)
		if fieldType != "SELECT" || !strings.HasPrefix(listID, "customlist") {
			continue
		}
		if _, seen := customLists[listID]; seen {
			continue
		}
		values, _, err := run(ctx, tenantID, fmt.Sprintf("SELECT id, name FROM %s", listID))
		if err != nil {
			// A single unreadable list must not abort the rest of discovery.
			customLists[listID] = nil
			continue
		}
		customLists[listID] = values
	}

	snapshot := map[string]any{
		"transaction_body_fields": fields,
		"custom_lists":            customLists,
		"discovered_at":           time.Now().UTC().Format(time.RFC3339),
	}

	blob, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("worker: marshal metadata snapshot: %w", err)
	}
	if _, err := db.ExecContext(ctx, `
		UPDATE connections SET metadata = $1, updated_at = $2
		WHERE tenant_id = $3 AND provider = 'netsuite' AND status = 'active'`,
		blob, time.Now(), tenantID); err != nil {
		return nil, fmt.Errorf("worker: persist metadata snapshot: %w", err)
	}

	return map[string]any{
		"fields_discovered": len(fields),
		"lists_discovered":  len(customLists),
	}, nil
}

// NewMetadataDiscoveryJob builds the on-demand metadata re-discovery job the
// admin surface and the netsuite_refresh_metadata tool both trigger.
func NewMetadataDiscoveryJob(db *sql.DB, run localtools.SuiteQLRunner) Job {
	return Job{
		Name: "metadata_discovery",
		Run: func(ctx context.Context) (map[string]any, error) {
			tenantIDStr, err := tenant.FromContext(ctx)
			if err != nil {
				return nil, err
			}
			tenantID, err := uuid.Parse(tenantIDStr)
			if err != nil {
				return nil, fmt.Errorf("worker: parse bound tenant id: %w", err)
			}
			return DiscoverMetadata(ctx, db, tenantID, run)
		},
	}
}
