package localtools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/google/uuid"

	"github.com/aideny-kr/chatcore/internal/tool"
)

func testWorkspace(t *testing.T) WorkspaceRoot {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "ue_order.js"), []byte("define(['N/record'], (record) => {\n  // beforeSubmit\n});\n"), 0o644))
	return WorkspaceRoot{Root: root}
}

func TestWorkspaceResolve_RejectsEscape(t *testing.T) {
	ws := testWorkspace(t)
	_, err := ws.resolve("../../etc/passwd")
	require.Error(t, err)

	full, err := ws.resolve("src/ue_order.js")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(full, ws.Root))
}

func TestReadFile_ReturnsContent(t *testing.T) {
	ws := testWorkspace(t)
	def := ReadFileDefinition(ws)
	out, err := def.Execute(context.Background(), tool.Context{}, map[string]any{"path": "src/ue_order.js"})
	require.NoError(t, err)
	result := out.(map[string]any)
	require.Contains(t, result["content"].(string), "beforeSubmit")
}

func TestSearch_FindsMatchesWithLineNumbers(t *testing.T) {
	ws := testWorkspace(t)
	def := SearchDefinition(ws)
	out, err := def.Execute(context.Background(), tool.Context{}, map[string]any{"query": "BEFORESUBMIT"})
	require.NoError(t, err)
	result := out.(map[string]any)
	matches := result["matches"]
	require.NotEmpty(t, matches)
}

func TestProposePatch_NeverWritesAndRequiresFields(t *testing.T) {
	def := ProposePatchDefinition()

	_, err := def.Execute(context.Background(), tool.Context{}, map[string]any{"path": "a.js"})
	require.Error(t, err, "diff is required")

	out, err := def.Execute(context.Background(), tool.Context{}, map[string]any{
		"path": "src/ue_order.js",
		"diff": "--- a\n+++ b\n@@ -1 +1 @@\n-old\n+new\n",
	})
	require.NoError(t, err)
	require.Equal(t, "proposed", out.(map[string]any)["status"])
}

func TestConnectivityCheck_ReportsFailureAsPayloadNotError(t *testing.T) {
	failing := SuiteQLRunner(func(ctx context.Context, tenantID uuid.UUID, query string) ([]map[string]any, int, error) {
		return nil, 0, fmt.Errorf("credentials expired")
	})
	def := ConnectivityCheckDefinition(failing)
	out, err := def.Execute(context.Background(), tool.Context{TenantID: uuid.New()}, nil)
	require.NoError(t, err)
	result := out.(map[string]any)
	require.Equal(t, false, result["connected"])
	require.Contains(t, result["error"].(string), "credentials expired")

	working := SuiteQLRunner(func(ctx context.Context, tenantID uuid.UUID, query string) ([]map[string]any, int, error) {
		return []map[string]any{{"id": "1"}}, 1, nil
	})
	out, err = ConnectivityCheckDefinition(working).Execute(context.Background(), tool.Context{TenantID: uuid.New()}, nil)
	require.NoError(t, err)
	require.Equal(t, true, out.(map[string]any)["connected"])
}

func TestRefreshMetadata_ReturnsTriggerSummary(t *testing.T) {
	trigger := DiscoveryTrigger(func(ctx context.Context, tenantID uuid.UUID) (map[string]any, error) {
		return map[string]any{"fields_discovered": 3}, nil
	})
	def := RefreshMetadataDefinition(trigger)
	out, err := def.Execute(context.Background(), tool.Context{TenantID: uuid.New()}, nil)
	require.NoError(t, err)
	require.Equal(t, 3, out.(map[string]any)["fields_discovered"])
}
