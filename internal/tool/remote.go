package tool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aideny-kr/chatcore/internal/mcpclient"
	"github.com/aideny-kr/chatcore/internal/model"
)

// ConnectorStore is the narrow read slice of tenant connector storage the
// dispatcher needs to resolve a remote tool call: the connector row plus a
// decrypted bearer/API-key credential ready to attach to the session.
type ConnectorStore interface {
	GetConnector(ctx context.Context, tenantID, connectorID uuid.UUID) (*model.McpConnector, error)
	DecryptedAuthHeader(ctx context.Context, c *model.McpConnector) (string, error)
}

// SessionPool dials and caches one live mcpclient.Session per connector.
// A cached session is reused until Invalidate drops it; the pool does not
// itself detect rotated credentials or a stale session. Remote OAuth2 tokens are refreshed by
// DecryptedAuthHeader inside a 60s pre-expiry window before every dial; the
// pool itself just avoids a re-dial per call.
type SessionPool struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*mcpclient.Session
	store    ConnectorStore
	timeout  time.Duration
}

// NewSessionPool constructs an empty pool. timeout bounds every call_tool
// invocation dispatched through sessions it dials; a non-positive timeout
// falls back to defaultTimeout.
func NewSessionPool(store ConnectorStore, timeout time.Duration) *SessionPool {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &SessionPool{
		sessions: make(map[uuid.UUID]*mcpclient.Session),
		store:    store,
		timeout:  timeout,
	}
}

// Get returns a live session for the tenant's connector, dialing lazily and
// caching for subsequent calls.
func (p *SessionPool) Get(ctx context.Context, tenantID, connectorID uuid.UUID) (*mcpclient.Session, error) {
	p.mu.Lock()
	if s, ok := p.sessions[connectorID]; ok {
		p.mu.Unlock()
		return s, nil
	}
	p.mu.Unlock()

	conn, err := p.store.GetConnector(ctx, tenantID, connectorID)
	if err != nil {
		return nil, fmt.Errorf("tool: resolve connector %s: %w", connectorID, err)
	}
	if !conn.IsEnabled {
		return nil, fmt.Errorf("tool: connector %s is disabled", connectorID)
	}

	authHeader, err := p.store.DecryptedAuthHeader(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("tool: decrypt connector %s credentials: %w", connectorID, err)
	}

	sess, err := mcpclient.Dial(ctx, connectorID.String(), conn.ServerURL, authHeader, p.timeout)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.sessions[connectorID] = sess
	p.mu.Unlock()
	return sess, nil
}

// Invalidate drops a cached session (e.g. after an auth failure) so the next
// Get redials with freshly decrypted credentials.
func (p *SessionPool) Invalidate(connectorID uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.sessions[connectorID]; ok {
		_ = s.Close()
		delete(p.sessions, connectorID)
	}
}
