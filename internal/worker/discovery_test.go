package worker

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/google/uuid"
)

func setupDiscoveryDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE doc_chunks (
		id TEXT PRIMARY KEY, tenant_id TEXT, source_path TEXT, title TEXT,
		chunk_index INTEGER, content TEXT, token_count INTEGER, created_at TEXT
	)`)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE connections (
		id TEXT PRIMARY KEY, tenant_id TEXT, provider TEXT, status TEXT,
		metadata TEXT, updated_at TEXT
	)`)
	require.NoError(t, err)
	return db
}

func writeWorkspace(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(root, "small.js"), []byte("define([], () => {});\n"), 0o644))

	require.NoError(t, os.MkdirAll(filepath.Join(root, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "nested.js"), []byte("const x = 1;\n"), 0o644))

	// Oversized text file: valid UTF-8, but past the import cap.
	require.NoError(t, os.WriteFile(filepath.Join(root, "bundle.js"), bytes.Repeat([]byte("a"), 300*1024), 0o644))

	// Binary file: not valid UTF-8.
	require.NoError(t, os.WriteFile(filepath.Join(root, "logo.png"), []byte{0x89, 0x50, 0xff, 0xfe, 0x00}, 0o644))

	// Dot-directories (VCS internals) are never imported.
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".git", "config"), []byte("[core]\n"), 0o644))

	return root
}

func TestImportWorkspaceFiles_SkipsOversizeAndBinary(t *testing.T) {
	db := setupDiscoveryDB(t)
	root := writeWorkspace(t)
	tenantID := uuid.New()

	summary, err := ImportWorkspaceFiles(context.Background(), db, tenantID, root)
	require.NoError(t, err)
	require.Equal(t, 2, summary.FilesImported)
	require.Equal(t, 1, summary.SkippedOversize)
	require.Equal(t, 1, summary.SkippedBinary)

	var paths []string
	rows, err := db.Query(`SELECT DISTINCT source_path FROM doc_chunks WHERE tenant_id = $1 ORDER BY source_path`, tenantID)
	require.NoError(t, err)
	defer rows.Close()
	for rows.Next() {
		var p string
		require.NoError(t, rows.Scan(&p))
		paths = append(paths, p)
	}
	require.Equal(t, []string{"small.js", "src/nested.js"}, paths)
}

func TestImportWorkspaceFiles_ReimportReplacesChunks(t *testing.T) {
	db := setupDiscoveryDB(t)
	root := t.TempDir()
	tenantID := uuid.New()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.js"), []byte("version one\n"), 0o644))

	_, err := ImportWorkspaceFiles(context.Background(), db, tenantID, root)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.js"), []byte("version two\n"), 0o644))
	_, err = ImportWorkspaceFiles(context.Background(), db, tenantID, root)
	require.NoError(t, err)

	var count int
	var content string
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM doc_chunks WHERE tenant_id = $1`, tenantID).Scan(&count))
	require.Equal(t, 1, count)
	require.NoError(t, db.QueryRow(`SELECT content FROM doc_chunks WHERE tenant_id = $1`, tenantID).Scan(&content))
	require.Contains(t, content, "version two")
}

func TestSplitChunks(t *testing.T) {
	require.Nil(t, splitChunks("", 100))
	require.Equal(t, []string{"short"}, splitChunks("short", 100))

	lines := strings.Repeat("0123456789\n", 30)
	chunks := splitChunks(lines, 100)
	require.Greater(t, len(chunks), 1)
	require.Equal(t, lines, strings.Join(chunks, ""))
	for _, c := range chunks {
		require.LessOrEqual(t, len(c), 110)
	}

	// A single line longer than the budget stays whole.
	oneLine := strings.Repeat("x", 150)
	require.Equal(t, []string{oneLine}, splitChunks(oneLine, 100))
}

func TestDiscoverMetadata(t *testing.T) {
	db := setupDiscoveryDB(t)
	tenantID := uuid.New()
	_, err := db.Exec(`INSERT INTO connections (id, tenant_id, provider, status) VALUES ($1, $2, 'netsuite', 'active')`,
		uuid.New(), tenantID)
	require.NoError(t, err)

	run := func(ctx context.Context, tid uuid.UUID, query string) ([]map[string]any, int, error) {
		switch {
		case strings.Contains(query, "transactionbodycustomfield"):
			return []map[string]any{
				{"scriptid": "custbody_status", "name": "Status", "fieldtype": "SELECT", "fieldvaluetype": "customlist_order_status"},
				{"scriptid": "custbody_note", "name": "Note", "fieldtype": "TEXT", "fieldvaluetype": ""},
			}, 2, nil
		case strings.Contains(query, "customlist_order_status"):
			return []map[string]any{{"id": "1", "name": "Pending"}, {"id": "2", "name": "Failed"}}, 2, nil
		default:
			return nil, 0, fmt.Errorf("unexpected query %q", query)
		}
	}

	summary, err := DiscoverMetadata(context.Background(), db, tenantID, run)
	require.NoError(t, err)
	require.Equal(t, 2, summary["fields_discovered"])
	require.Equal(t, 1, summary["lists_discovered"])

	var blob string
	require.NoError(t, db.QueryRow(`SELECT metadata FROM connections WHERE tenant_id = $1`, tenantID).Scan(&blob))
	require.Contains(t, blob, "custbody_status")
	require.Contains(t, blob, "Pending")
}
