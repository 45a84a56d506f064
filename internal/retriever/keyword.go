package retriever

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// minTokenLen excludes short stopword-ish tokens ("a", "of", "is") from the
// keyword fallback so they don't swamp the OR-of-LIKE score with noise.
const minTokenLen = 3

// KeywordSearcher is the SQL-backed fallback retriever: every query token
// becomes a `LOWER(content) LIKE '%token%'` clause, and a chunk's score is
// the count of tokens it matches.
type KeywordSearcher struct {
	db *sql.DB
}

// NewKeywordSearcher wraps a DB handle for keyword fallback search.
func NewKeywordSearcher(db *sql.DB) *KeywordSearcher {
	return &KeywordSearcher{db: db}
}

// Tokenize lowercases query and splits on non-letter/digit runs, discarding
// tokens shorter than minTokenLen.
func Tokenize(query string) []string {
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() >= minTokenLen {
			tokens = append(tokens, cur.String())
		}
		cur.Reset()
	}
	for _, r := range query {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			cur.WriteRune(unicode.ToLower(r))
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

// Search scores doc_chunks (tenant-scoped) and domain_knowledge_chunks
// (system-wide) by the number of query tokens each chunk's content contains,
// returning the topK highest-scoring chunks across both sources.
func (k *KeywordSearcher) Search(ctx context.Context, tenantID uuid.UUID, query string, topK int, sourcePrefix string) ([]Chunk, error) {
	tokens := Tokenize(query)
	if len(tokens) == 0 {
		return nil, nil
	}

	docChunks, err := k.searchDocChunks(ctx, tenantID, tokens, topK, sourcePrefix)
	if err != nil {
		return nil, fmt.Errorf("retriever: keyword search doc_chunks: %w", err)
	}
	domainChunks, err := k.searchDomainKnowledge(ctx, tokens, topK)
	if err != nil {
		return nil, fmt.Errorf("retriever: keyword search domain_knowledge: %w", err)
	}

	all := append(docChunks, domainChunks...)
	sortByScoreDesc(all)
	if len(all) > topK {
		all = all[:topK]
	}
	return all, nil
}

func (k *KeywordSearcher) searchDocChunks(ctx context.Context, tenantID uuid.UUID, tokens []string, topK int, sourcePrefix string) ([]Chunk, error) {
	scoreExpr, args := tokenScoreExpr(tokens)
	args = append(args, tenantID)
	where := "tenant_id = ?"
	if sourcePrefix != "" {
		where += " AND source_path LIKE ?"
		args = append(args, sourcePrefix+"%")
	}
	args = append(args, topK)

	query := fmt.Sprintf(`
		SELECT id, title, content, score FROM (
			SELECT id, title, content, (%s) AS score
			FROM doc_chunks
			WHERE %s
		) AS scored
		WHERE score > 0
		ORDER BY score DESC
		LIMIT ?`, scoreExpr, where)

	rows, err := k.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Chunk
	for rows.Next() {
		var c Chunk
		var score int
		if err := rows.Scan(&c.SourceID, &c.Title, &c.Content, &score); err != nil {
			return nil, err
		}
		c.SourceType = "doc_chunk"
		c.Score = float32(score)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (k *KeywordSearcher) searchDomainKnowledge(ctx context.Context, tokens []string, topK int) ([]Chunk, error) {
	scoreExpr, args := tokenScoreExprColumn(tokens, "raw_text")
	args = append(args, topK)

	query := fmt.Sprintf(`
		SELECT id, raw_text, score FROM (
			SELECT id, raw_text, (%s) AS score
			FROM domain_knowledge_chunks
			WHERE is_deprecated = 0
		) AS scored
		WHERE score > 0
		ORDER BY score DESC
		LIMIT ?`, scoreExpr)

	rows, err := k.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Chunk
	for rows.Next() {
		var c Chunk
		var score int
		if err := rows.Scan(&c.SourceID, &c.Content, &score); err != nil {
			return nil, err
		}
		c.SourceType = "domain_knowledge"
		c.Score = float32(score)
		out = append(out, c)
	}
	return out, rows.Err()
}

// tokenScoreExpr builds a SQL expression summing one point per query token
// found in the doc_chunks.content column, and the LIKE arguments for it.
func tokenScoreExpr(tokens []string) (string, []any) {
	return tokenScoreExprColumn(tokens, "content")
}

func tokenScoreExprColumn(tokens []string, column string) (string, []any) {
	parts := make([]string, 0, len(tokens))
	args := make([]any, 0, len(tokens))
	for _, t := range tokens {
		parts = append(parts, fmt.Sprintf("(CASE WHEN LOWER(%s) LIKE ? THEN 1 ELSE 0 END)", column))
		args = append(args, "%"+t+"%")
	}
	return strings.Join(parts, " + "), args
}
