package notes

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	_ "github.com/mattn/go-sqlite3"
)

// timeLayout is RFC 3339 with fixed-width fractional seconds. Trailing
// zeros are kept so the TEXT timestamps sort correctly under ORDER BY.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Input limits. Oversized fields are rejected with a ValidationError
// rather than truncated.
const (
	maxTitleLength    = 200
	maxContentLength  = 50000
	maxTags           = 20
	maxTagLength      = 50
	maxCategoryLength = 50

	// DefaultCategory is assigned when a note is created without one.
	DefaultCategory = "general"

	defaultListLimit   = 50
	defaultSearchLimit = 10
	maxLimit           = 200
)

// Note is a stored note.
type Note struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Tags      []string  `json:"tags"`
	Category  string    `json:"category"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SearchResult is a note matched by full-text search. Score is
// relevance, higher is better. Snippet highlights matched content
// when the FTS index is available.
type SearchResult struct {
	Note    Note    `json:"note"`
	Score   float64 `json:"score"`
	Snippet string  `json:"snippet,omitempty"`
}

// CreateRequest holds the fields for a new note.
type CreateRequest struct {
	Title    string
	Content  string
	Tags     []string
	Category string
}

// UpdateRequest holds a partial update. Nil fields are left unchanged.
type UpdateRequest struct {
	Title    *string
	Content  *string
	Tags     *[]string
	Category *string
}

func (r UpdateRequest) empty() bool {
	return r.Title == nil && r.Content == nil && r.Tags == nil && r.Category == nil
}

// ListOptions filters and pages a note listing.
type ListOptions struct {
	Category string
	Tag      string
	Limit    int
	Offset   int
}

// Store is a SQLite-backed note store with FTS5 full-text search.
// When FTS5 is not compiled into the driver, search degrades to a
// slower LIKE scan with the same column weighting.
type Store struct {
	db         *sql.DB
	logger     *slog.Logger
	ftsEnabled bool
}

// NewStore opens (or creates) the notes database at dbPath.
func NewStore(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open notes database: %w", err)
	}

	s := &Store{db: db, logger: logger.With("component", "notes")}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("notes migrate: %w", err)
	}

	s.ftsEnabled = s.tryEnableFTS()
	if s.ftsEnabled {
		s.logger.Info("notes store initialized", "path", dbPath, "fts5", true)
	} else {
		s.logger.Warn("notes store: FTS5 not available, search will use slower LIKE fallback. "+
			"Rebuild SQLite with FTS5 enabled for full-text search capability.",
			"path", dbPath, "fts5", false)
	}

	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS notes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			title TEXT NOT NULL,
			content TEXT NOT NULL,
			tags TEXT NOT NULL DEFAULT '[]',
			category TEXT NOT NULL DEFAULT 'general',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_notes_updated ON notes(updated_at DESC);
		CREATE INDEX IF NOT EXISTS idx_notes_category ON notes(category);
	`)
	return err
}

// tryEnableFTS attempts to create the FTS5 virtual table.
// Returns true if FTS5 is available, false otherwise.
//
// The index is external-content over the notes table and is kept in
// sync explicitly, inside the same transaction as every row mutation.
// No triggers: a failed index write must roll the row change back too.
func (s *Store) tryEnableFTS() bool {
	_, err := s.db.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS notes_fts USING fts5(
			title,
			content,
			tags,
			content=notes,
			content_rowid=id
		)
	`)
	return err == nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create validates and stores a new note, returning it with its
// assigned ID and timestamps.
func (s *Store) Create(ctx context.Context, req CreateRequest) (*Note, error) {
	title := strings.TrimSpace(req.Title)
	content := req.Content
	if err := validateTitle(title); err != nil {
		return nil, err
	}
	if err := validateContent(content); err != nil {
		return nil, err
	}

	tags, err := normalizeTags(req.Tags)
	if err != nil {
		return nil, err
	}

	category, err := normalizeCategory(req.Category)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	tagsJSON := marshalTags(tags)

	// Once the write starts it runs to completion even if the caller
	// disconnects, so the index never drifts from the base table.
	ctx = context.WithoutCancel(ctx)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &StorageError{Op: "create", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO notes (title, content, tags, category, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, title, content, tagsJSON, category,
		now.Format(timeLayout), now.Format(timeLayout))
	if err != nil {
		return nil, &StorageError{Op: "create", Err: err}
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, &StorageError{Op: "create", Err: err}
	}

	if s.ftsEnabled {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO notes_fts(rowid, title, content, tags)
			VALUES (?, ?, ?, ?)
		`, id, title, content, tagsJSON)
		if err != nil {
			return nil, &StorageError{Op: "create: fts sync", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, &StorageError{Op: "create", Err: err}
	}

	s.logger.Debug("note created", "id", id, "title", title, "category", category)

	return &Note{
		ID:        id,
		Title:     title,
		Content:   content,
		Tags:      tags,
		Category:  category,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Get retrieves a note by ID.
func (s *Store) Get(ctx context.Context, id int64) (*Note, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, content, tags, category, created_at, updated_at
		FROM notes WHERE id = ?
	`, id)

	note, err := scanNote(row)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{ID: id}
	}
	if err != nil {
		return nil, &StorageError{Op: "get", Err: err}
	}
	return note, nil
}

// Update applies a partial update to a note. The updated_at timestamp
// advances even when the new values equal the old ones.
func (s *Store) Update(ctx context.Context, id int64, req UpdateRequest) (*Note, error) {
	if req.empty() {
		return nil, &ValidationError{Field: "update", Reason: "no fields to update"}
	}

	ctx = context.WithoutCancel(ctx)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &StorageError{Op: "update", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		SELECT id, title, content, tags, category, created_at, updated_at
		FROM notes WHERE id = ?
	`, id)
	old, err := scanNote(row)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{ID: id}
	}
	if err != nil {
		return nil, &StorageError{Op: "update", Err: err}
	}

	updated := *old
	if req.Title != nil {
		updated.Title = strings.TrimSpace(*req.Title)
		if err := validateTitle(updated.Title); err != nil {
			return nil, err
		}
	}
	if req.Content != nil {
		updated.Content = *req.Content
		if err := validateContent(updated.Content); err != nil {
			return nil, err
		}
	}
	if req.Tags != nil {
		tags, err := normalizeTags(*req.Tags)
		if err != nil {
			return nil, err
		}
		updated.Tags = tags
	}
	if req.Category != nil {
		category, err := normalizeCategory(*req.Category)
		if err != nil {
			return nil, err
		}
		updated.Category = category
	}
	updated.UpdatedAt = time.Now().UTC()

	newTagsJSON := marshalTags(updated.Tags)

	_, err = tx.ExecContext(ctx, `
		UPDATE notes SET title = ?, content = ?, tags = ?, category = ?, updated_at = ?
		WHERE id = ?
	`, updated.Title, updated.Content, newTagsJSON, updated.Category,
		updated.UpdatedAt.Format(timeLayout), id)
	if err != nil {
		return nil, &StorageError{Op: "update", Err: err}
	}

	if s.ftsEnabled {
		// External-content FTS needs the old values to remove the stale
		// index entry before inserting the new one.
		_, err = tx.ExecContext(ctx, `
			INSERT INTO notes_fts(notes_fts, rowid, title, content, tags)
			VALUES ('delete', ?, ?, ?, ?)
		`, id, old.Title, old.Content, marshalTags(old.Tags))
		if err != nil {
			return nil, &StorageError{Op: "update: fts delete", Err: err}
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO notes_fts(rowid, title, content, tags)
			VALUES (?, ?, ?, ?)
		`, id, updated.Title, updated.Content, newTagsJSON)
		if err != nil {
			return nil, &StorageError{Op: "update: fts insert", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, &StorageError{Op: "update", Err: err}
	}

	s.logger.Debug("note updated", "id", id)
	return &updated, nil
}

// Delete permanently removes a note and its index entry. It is
// idempotent: deleting a missing id is not an error, and the return
// value reports whether a row existed.
func (s *Store) Delete(ctx context.Context, id int64) (bool, error) {
	// Aborted chat turns must not leave the index out of sync with the
	// base table, so the delete runs to completion once started.
	ctx = context.WithoutCancel(ctx)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, &StorageError{Op: "delete", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		SELECT id, title, content, tags, category, created_at, updated_at
		FROM notes WHERE id = ?
	`, id)
	old, err := scanNote(row)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, &StorageError{Op: "delete", Err: err}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM notes WHERE id = ?`, id); err != nil {
		return false, &StorageError{Op: "delete", Err: err}
	}

	if s.ftsEnabled {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO notes_fts(notes_fts, rowid, title, content, tags)
			VALUES ('delete', ?, ?, ?, ?)
		`, id, old.Title, old.Content, marshalTags(old.Tags))
		if err != nil {
			return false, &StorageError{Op: "delete: fts sync", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return false, &StorageError{Op: "delete", Err: err}
	}

	s.logger.Debug("note deleted", "id", id)
	return true, nil
}

// List returns notes ordered by most recently updated, with optional
// category and tag filters. The tag filter is case-insensitive.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]Note, error) {
	limit := clampLimit(opts.Limit, defaultListLimit)
	if opts.Offset < 0 {
		opts.Offset = 0
	}

	query := `
		SELECT id, title, content, tags, category, created_at, updated_at
		FROM notes
	`
	var conditions []string
	var args []any

	if opts.Category != "" {
		conditions = append(conditions, "category = ?")
		args = append(args, strings.ToLower(strings.TrimSpace(opts.Category)))
	}
	if opts.Tag != "" {
		conditions = append(conditions, `EXISTS (
			SELECT 1 FROM json_each(notes.tags)
			WHERE lower(json_each.value) = lower(?)
		)`)
		args = append(args, strings.TrimSpace(opts.Tag))
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY updated_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &StorageError{Op: "list", Err: err}
	}
	defer rows.Close()

	var result []Note
	for rows.Next() {
		note, err := scanNoteRow(rows)
		if err != nil {
			return nil, &StorageError{Op: "list: scan", Err: err}
		}
		result = append(result, *note)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "list", Err: err}
	}
	return result, nil
}

// Search performs full-text search across titles, content, and tags.
// Title matches rank above tag matches, which rank above content
// matches. The last query term matches as a prefix, so search works
// while the user is still typing. Results are relevance-ordered with
// ties broken by most recent update.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	tokens := tokenize(query)
	if len(tokens) == 0 {
		return nil, &ValidationError{Field: "query", Reason: "must contain at least one searchable term"}
	}
	limit = clampLimit(limit, defaultSearchLimit)

	if s.ftsEnabled {
		return s.searchFTS(ctx, tokens, limit)
	}
	return s.searchLike(ctx, tokens, limit)
}

func (s *Store) searchFTS(ctx context.Context, tokens []string, limit int) ([]SearchResult, error) {
	match := buildMatchQuery(tokens)

	rows, err := s.db.QueryContext(ctx, `
		SELECT n.id, n.title, n.content, n.tags, n.category, n.created_at, n.updated_at,
		       bm25(notes_fts, 5.0, 1.0, 3.0) AS score,
		       snippet(notes_fts, 1, '**', '**', '...', 32) AS snip
		FROM notes_fts
		JOIN notes n ON notes_fts.rowid = n.id
		WHERE notes_fts MATCH ?
		ORDER BY score ASC, n.updated_at DESC
		LIMIT ?
	`, match, limit)
	if err != nil {
		return nil, &StorageError{Op: "search", Err: err}
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var n Note
		var tagsJSON, createdStr, updatedStr, snip string
		var score float64

		err := rows.Scan(&n.ID, &n.Title, &n.Content, &tagsJSON, &n.Category,
			&createdStr, &updatedStr, &score, &snip)
		if err != nil {
			return nil, &StorageError{Op: "search: scan", Err: err}
		}

		n.Tags = unmarshalTags(tagsJSON)
		n.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		n.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedStr)

		// bm25 returns more-negative for better matches. Negate so
		// callers see higher = more relevant.
		results = append(results, SearchResult{Note: n, Score: -score, Snippet: snip})
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "search", Err: err}
	}
	return results, nil
}

// searchLike is the degraded path when FTS5 is unavailable. Every
// token must match at least one column; the score applies the same
// title > tags > content weighting that bm25 gets via column weights.
func (s *Store) searchLike(ctx context.Context, tokens []string, limit int) ([]SearchResult, error) {
	var scoreParts []string
	var conditions []string
	var args []any

	for _, tok := range tokens {
		pattern := "%" + tok + "%"
		scoreParts = append(scoreParts, `
			(CASE WHEN lower(title) LIKE ? THEN 5.0 ELSE 0 END
			 + CASE WHEN lower(tags) LIKE ? THEN 3.0 ELSE 0 END
			 + CASE WHEN lower(content) LIKE ? THEN 1.0 ELSE 0 END)`)
		conditions = append(conditions,
			"(lower(title) LIKE ? OR lower(tags) LIKE ? OR lower(content) LIKE ?)")
		args = append(args, pattern, pattern, pattern)
	}
	// WHERE placeholders come after the score placeholders in the query.
	for _, tok := range tokens {
		pattern := "%" + tok + "%"
		args = append(args, pattern, pattern, pattern)
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT id, title, content, tags, category, created_at, updated_at,
		       %s AS score
		FROM notes
		WHERE %s
		ORDER BY score DESC, updated_at DESC
		LIMIT ?
	`, strings.Join(scoreParts, " + "), strings.Join(conditions, " AND "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &StorageError{Op: "search", Err: err}
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var n Note
		var tagsJSON, createdStr, updatedStr string
		var score float64

		err := rows.Scan(&n.ID, &n.Title, &n.Content, &tagsJSON, &n.Category,
			&createdStr, &updatedStr, &score)
		if err != nil {
			return nil, &StorageError{Op: "search: scan", Err: err}
		}

		n.Tags = unmarshalTags(tagsJSON)
		n.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		n.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedStr)

		results = append(results, SearchResult{Note: n, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "search", Err: err}
	}
	return results, nil
}

// RebuildIndex regenerates the FTS index from the notes table. Use
// after bulk imports or suspected index corruption. No-op when FTS5
// is unavailable.
func (s *Store) RebuildIndex(ctx context.Context) error {
	if !s.ftsEnabled {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO notes_fts(notes_fts) VALUES ('rebuild')`)
	if err != nil {
		return &StorageError{Op: "rebuild index", Err: err}
	}
	s.logger.Info("notes search index rebuilt")
	return nil
}

// Stats returns note storage statistics.
func (s *Store) Stats(ctx context.Context) map[string]any {
	var total int
	_ = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notes`).Scan(&total)

	byCategory := make(map[string]int)
	rows, err := s.db.QueryContext(ctx, `SELECT category, COUNT(*) FROM notes GROUP BY category`)
	if err == nil {
		defer rows.Close()
		for rows.Next() {
			var cat string
			var count int
			if err := rows.Scan(&cat, &count); err != nil {
				continue
			}
			byCategory[cat] = count
		}
	}

	return map[string]any{
		"total_notes": total,
		"by_category": byCategory,
		"fts5":        s.ftsEnabled,
		"storage":     "sqlite",
	}
}

// --- validation and helpers ---

func validateTitle(title string) error {
	if title == "" {
		return &ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if len(title) > maxTitleLength {
		return &ValidationError{Field: "title", Reason: fmt.Sprintf("must be at most %d characters", maxTitleLength)}
	}
	return nil
}

// validateContent bounds length only. Empty content is a valid note
// body; the create tool requires content, the store does not.
func validateContent(content string) error {
	if len(content) > maxContentLength {
		return &ValidationError{Field: "content", Reason: fmt.Sprintf("must be at most %d characters", maxContentLength)}
	}
	return nil
}

// normalizeTags trims whitespace, drops empty entries, and removes
// case-insensitive duplicates while preserving the first-seen casing.
func normalizeTags(tags []string) ([]string, error) {
	if len(tags) == 0 {
		return []string{}, nil
	}

	seen := make(map[string]bool, len(tags))
	var result []string
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if len(tag) > maxTagLength {
			return nil, &ValidationError{Field: "tags", Reason: fmt.Sprintf("tag %q exceeds %d characters", tag, maxTagLength)}
		}
		key := strings.ToLower(tag)
		if seen[key] {
			continue
		}
		seen[key] = true
		result = append(result, tag)
	}

	if len(result) > maxTags {
		return nil, &ValidationError{Field: "tags", Reason: fmt.Sprintf("at most %d tags allowed", maxTags)}
	}
	if result == nil {
		result = []string{}
	}
	return result, nil
}

func normalizeCategory(category string) (string, error) {
	category = strings.ToLower(strings.TrimSpace(category))
	if category == "" {
		return DefaultCategory, nil
	}
	if len(category) > maxCategoryLength {
		return "", &ValidationError{Field: "category", Reason: fmt.Sprintf("must be at most %d characters", maxCategoryLength)}
	}
	return category, nil
}

func marshalTags(tags []string) string {
	if len(tags) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(tags)
	return string(b)
}

func unmarshalTags(tagsJSON string) []string {
	var tags []string
	if err := json.Unmarshal([]byte(tagsJSON), &tags); err != nil || tags == nil {
		return []string{}
	}
	return tags
}

func clampLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

// tokenize splits a query on non-alphanumeric runes and lowercases
// the terms. Keeping tokenization simple matches the FTS unicode61
// tokenizer closely enough for query purposes.
func tokenize(query string) []string {
	return strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// buildMatchQuery quotes each token against FTS5 syntax and marks the
// last one as a prefix. Terms are implicitly ANDed.
func buildMatchQuery(tokens []string) string {
	quoted := make([]string, len(tokens))
	for i, tok := range tokens {
		tok = strings.ReplaceAll(tok, `"`, `""`)
		quoted[i] = `"` + tok + `"`
	}
	quoted[len(quoted)-1] += "*"
	return strings.Join(quoted, " ")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNote(row rowScanner) (*Note, error) {
	var n Note
	var tagsJSON, createdStr, updatedStr string

	err := row.Scan(&n.ID, &n.Title, &n.Content, &tagsJSON, &n.Category, &createdStr, &updatedStr)
	if err != nil {
		return nil, err
	}

	n.Tags = unmarshalTags(tagsJSON)
	n.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	n.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedStr)
	return &n, nil
}

func scanNoteRow(rows *sql.Rows) (*Note, error) {
	return scanNote(rows)
}
