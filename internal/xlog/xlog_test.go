package xlog

import (
	"bytes"
	"context"
	"log/slog"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
}

func TestNewFiltersThirdPartyAboveDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Level: slog.LevelInfo, Format: "json", Output: &buf})

	// A record whose caller is a standard-library function stands in for a
	// dependency's log line; outside the chatcore module path, it is
	// suppressed at Info level.
	pc := reflect.ValueOf(strings.ToUpper).Pointer()
	record := slog.NewRecord(time.Now(), slog.LevelInfo, "should be filtered", pc)
	require.NoError(t, logger.Handler().Handle(context.Background(), record))
	assert.Empty(t, buf.String())
}

func TestFromContextAttachesIDs(t *testing.T) {
	var buf bytes.Buffer
	base := New(Options{Level: slog.LevelDebug, Format: "json", Output: &buf})

	ctx := WithCorrelationID(WithTenantID(context.Background(), "tenant-1"), "corr-1")
	l := FromContext(ctx, base)
	l.Info("turn started")

	out := buf.String()
	require.NotEmpty(t, out)
	assert.Contains(t, out, "tenant-1")
	assert.Contains(t, out, "corr-1")
}
