package notes

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "notes.db"), nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func mustCreate(t *testing.T, store *Store, req CreateRequest) *Note {
	t.Helper()
	note, err := store.Create(context.Background(), req)
	if err != nil {
		t.Fatalf("Create(%q): %v", req.Title, err)
	}
	return note
}

func TestCreateAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created := mustCreate(t, store, CreateRequest{
		Title:   "Grocery list",
		Content: "milk, eggs, bread",
		Tags:    []string{"shopping", "food"},
	})

	if created.ID == 0 {
		t.Error("expected assigned ID")
	}
	if created.Category != DefaultCategory {
		t.Errorf("category = %q, want %q", created.Category, DefaultCategory)
	}
	if created.CreatedAt.IsZero() || !created.CreatedAt.Equal(created.UpdatedAt) {
		t.Errorf("timestamps: created=%v updated=%v", created.CreatedAt, created.UpdatedAt)
	}

	got, err := store.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Title != "Grocery list" || got.Content != "milk, eggs, bread" {
		t.Errorf("roundtrip mismatch: %+v", got)
	}
	if len(got.Tags) != 2 || got.Tags[0] != "shopping" {
		t.Errorf("tags = %v", got.Tags)
	}
}

func TestGetNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), 9999)
	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("err = %v, want NotFoundError", err)
	}
	if notFound.ID != 9999 {
		t.Errorf("ID = %d", notFound.ID)
	}
}

func TestCreateValidation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		req   CreateRequest
		field string
	}{
		{"empty title", CreateRequest{Content: "x"}, "title"},
		{"whitespace title", CreateRequest{Title: "   ", Content: "x"}, "title"},
		{"long title", CreateRequest{Title: strings.Repeat("a", maxTitleLength+1), Content: "x"}, "title"},
		{"long content", CreateRequest{Title: "t", Content: strings.Repeat("a", maxContentLength+1)}, "content"},
		{"long tag", CreateRequest{Title: "t", Content: "x", Tags: []string{strings.Repeat("a", maxTagLength+1)}}, "tags"},
		{"too many tags", CreateRequest{Title: "t", Content: "x", Tags: manyTags(maxTags + 1)}, "tags"},
		{"long category", CreateRequest{Title: "t", Content: "x", Category: strings.Repeat("a", maxCategoryLength+1)}, "category"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Create(ctx, tt.req)
			var invalid *ValidationError
			if !errors.As(err, &invalid) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
			if invalid.Field != tt.field {
				t.Errorf("field = %q, want %q", invalid.Field, tt.field)
			}
		})
	}
}

func TestCreateEmptyContent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Empty content is a valid note body. Only the title is mandatory.
	created, err := store.Create(ctx, CreateRequest{Title: "placeholder"})
	if err != nil {
		t.Fatalf("Create with empty content: %v", err)
	}

	got, err := store.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Content != "" {
		t.Errorf("content = %q, want empty", got.Content)
	}
}

func manyTags(n int) []string {
	tags := make([]string, n)
	for i := range tags {
		tags[i] = "tag" + strings.Repeat("x", i+1)
	}
	return tags
}

func TestTagNormalization(t *testing.T) {
	store := newTestStore(t)

	note := mustCreate(t, store, CreateRequest{
		Title:   "t",
		Content: "x",
		Tags:    []string{" Work ", "work", "WORK", "", "home"},
	})

	// Case-insensitive dedupe keeps the first-seen casing.
	want := []string{"Work", "home"}
	if len(note.Tags) != len(want) {
		t.Fatalf("tags = %v, want %v", note.Tags, want)
	}
	for i := range want {
		if note.Tags[i] != want[i] {
			t.Errorf("tags[%d] = %q, want %q", i, note.Tags[i], want[i])
		}
	}
}

func TestCategoryNormalized(t *testing.T) {
	store := newTestStore(t)

	note := mustCreate(t, store, CreateRequest{Title: "t", Content: "x", Category: "  Work  "})
	if note.Category != "work" {
		t.Errorf("category = %q, want lowercase trimmed", note.Category)
	}
}

func TestUpdatePartial(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created := mustCreate(t, store, CreateRequest{
		Title:   "Original",
		Content: "original content",
		Tags:    []string{"a"},
	})

	time.Sleep(10 * time.Millisecond)

	newContent := "revised content"
	updated, err := store.Update(ctx, created.ID, UpdateRequest{Content: &newContent})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	if updated.Title != "Original" {
		t.Errorf("title changed unexpectedly: %q", updated.Title)
	}
	if updated.Content != "revised content" {
		t.Errorf("content = %q", updated.Content)
	}
	if len(updated.Tags) != 1 || updated.Tags[0] != "a" {
		t.Errorf("tags changed unexpectedly: %v", updated.Tags)
	}
	if !updated.UpdatedAt.After(created.UpdatedAt) {
		t.Errorf("updated_at did not advance: %v -> %v", created.UpdatedAt, updated.UpdatedAt)
	}
	if !updated.CreatedAt.Equal(created.CreatedAt) {
		t.Errorf("created_at changed: %v -> %v", created.CreatedAt, updated.CreatedAt)
	}
}

func TestUpdateValidation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created := mustCreate(t, store, CreateRequest{Title: "t", Content: "x"})

	// No fields.
	if _, err := store.Update(ctx, created.ID, UpdateRequest{}); err == nil {
		t.Error("empty update should fail")
	}

	// Invalid new title leaves the note untouched.
	empty := ""
	if _, err := store.Update(ctx, created.ID, UpdateRequest{Title: &empty}); err == nil {
		t.Error("empty title should be rejected")
	}
	got, err := store.Get(ctx, created.ID)
	if err != nil || got.Title != "t" {
		t.Errorf("note mutated by failed update: %+v, %v", got, err)
	}

	// Missing note.
	title := "new"
	_, err = store.Update(ctx, 9999, UpdateRequest{Title: &title})
	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Errorf("err = %v, want NotFoundError", err)
	}
}

func TestTimestampTextOrdering(t *testing.T) {
	// Timestamps are TEXT columns compared lexicographically by ORDER
	// BY, so the stored form must keep trailing zeros. A trimmed
	// fractional second would make "...T12:00:01Z" sort before
	// "...T12:00:00.9Z".
	earlier := time.Date(2026, 1, 2, 12, 0, 0, 900000000, time.UTC)
	later := time.Date(2026, 1, 2, 12, 0, 1, 0, time.UTC)

	a := earlier.Format(timeLayout)
	b := later.Format(timeLayout)
	if len(a) != len(b) {
		t.Fatalf("layout is not fixed width: %q vs %q", a, b)
	}
	if a >= b {
		t.Errorf("text order disagrees with time order: %q >= %q", a, b)
	}

	// Stored values still parse with the reader's flexible layout.
	parsed, err := time.Parse(time.RFC3339Nano, b)
	if err != nil {
		t.Fatalf("Parse(%q): %v", b, err)
	}
	if !parsed.Equal(later) {
		t.Errorf("roundtrip = %v, want %v", parsed, later)
	}
}

func TestDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created := mustCreate(t, store, CreateRequest{Title: "doomed", Content: "x"})

	existed, err := store.Delete(ctx, created.ID)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !existed {
		t.Error("first delete reported no row")
	}

	_, err = store.Get(ctx, created.ID)
	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Errorf("Get after delete: err = %v, want NotFoundError", err)
	}

	// Deleting again is not an error, just a no-op.
	existed, err = store.Delete(ctx, created.ID)
	if err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if existed {
		t.Error("second delete reported a row")
	}
}

func TestList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mustCreate(t, store, CreateRequest{Title: "first", Content: "x", Category: "work"})
	time.Sleep(5 * time.Millisecond)
	mustCreate(t, store, CreateRequest{Title: "second", Content: "x", Tags: []string{"Urgent"}})
	time.Sleep(5 * time.Millisecond)
	mustCreate(t, store, CreateRequest{Title: "third", Content: "x", Category: "work"})

	all, err := store.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d notes, want 3", len(all))
	}
	if all[0].Title != "third" || all[2].Title != "first" {
		t.Errorf("order: %s, %s, %s (want newest first)", all[0].Title, all[1].Title, all[2].Title)
	}

	work, err := store.List(ctx, ListOptions{Category: "work"})
	if err != nil {
		t.Fatalf("List(category): %v", err)
	}
	if len(work) != 2 {
		t.Errorf("work notes = %d, want 2", len(work))
	}

	// Tag filter is case-insensitive.
	urgent, err := store.List(ctx, ListOptions{Tag: "urgent"})
	if err != nil {
		t.Fatalf("List(tag): %v", err)
	}
	if len(urgent) != 1 || urgent[0].Title != "second" {
		t.Errorf("urgent notes = %+v", urgent)
	}

	limited, err := store.List(ctx, ListOptions{Limit: 1})
	if err != nil {
		t.Fatalf("List(limit): %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("limited = %d, want 1", len(limited))
	}
}

func TestSearch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mustCreate(t, store, CreateRequest{Title: "Vacation planning", Content: "book flights to Lisbon"})
	time.Sleep(5 * time.Millisecond)
	mustCreate(t, store, CreateRequest{Title: "Reading list", Content: "a novel about a vacation gone wrong"})
	mustCreate(t, store, CreateRequest{Title: "Unrelated", Content: "nothing of interest"})

	results, err := store.Search(ctx, "vacation", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	// Title match outranks content match.
	if results[0].Note.Title != "Vacation planning" {
		t.Errorf("top result = %q, want title match first", results[0].Note.Title)
	}
	if results[0].Score < results[1].Score {
		t.Errorf("scores not descending: %v then %v", results[0].Score, results[1].Score)
	}
}

func TestSearchPrefix(t *testing.T) {
	store := newTestStore(t)

	mustCreate(t, store, CreateRequest{Title: "Kubernetes migration", Content: "move the cluster"})

	results, err := store.Search(context.Background(), "kuber", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("prefix search found %d results, want 1", len(results))
	}
}

func TestSearchMultipleTermsAllRequired(t *testing.T) {
	store := newTestStore(t)

	mustCreate(t, store, CreateRequest{Title: "Project alpha", Content: "budget review for Q3"})
	mustCreate(t, store, CreateRequest{Title: "Project beta", Content: "launch timeline"})

	results, err := store.Search(context.Background(), "project budget", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Note.Title != "Project alpha" {
		t.Errorf("results = %+v, want only the note matching both terms", results)
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	store := newTestStore(t)

	for _, q := range []string{"", "   ", "!!!"} {
		_, err := store.Search(context.Background(), q, 10)
		var invalid *ValidationError
		if !errors.As(err, &invalid) {
			t.Errorf("query %q: err = %v, want ValidationError", q, err)
		}
	}
}

func TestSearchReflectsUpdate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created := mustCreate(t, store, CreateRequest{Title: "Draft", Content: "about penguins"})

	newContent := "about flamingos"
	if _, err := store.Update(ctx, created.ID, UpdateRequest{Content: &newContent}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if results, _ := store.Search(ctx, "penguins", 10); len(results) != 0 {
		t.Errorf("stale index: old term still matches %d notes", len(results))
	}
	results, err := store.Search(ctx, "flamingos", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("new term matches %d notes, want 1", len(results))
	}
}

func TestSearchReflectsDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created := mustCreate(t, store, CreateRequest{Title: "Ephemeral", Content: "soon gone"})
	if _, err := store.Delete(ctx, created.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if results, _ := store.Search(ctx, "ephemeral", 10); len(results) != 0 {
		t.Errorf("deleted note still searchable: %d results", len(results))
	}
}

func TestSearchTagMatch(t *testing.T) {
	store := newTestStore(t)

	mustCreate(t, store, CreateRequest{Title: "Plain", Content: "body text", Tags: []string{"finances"}})

	results, err := store.Search(context.Background(), "finances", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("tag search found %d results, want 1", len(results))
	}
}

func TestRebuildIndex(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mustCreate(t, store, CreateRequest{Title: "Indexed", Content: "findable text"})

	if err := store.RebuildIndex(ctx); err != nil {
		t.Fatalf("RebuildIndex: %v", err)
	}

	results, err := store.Search(ctx, "findable", 10)
	if err != nil {
		t.Fatalf("Search after rebuild: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("got %d results after rebuild, want 1", len(results))
	}
}

func TestStats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mustCreate(t, store, CreateRequest{Title: "a", Content: "x", Category: "work"})
	mustCreate(t, store, CreateRequest{Title: "b", Content: "x", Category: "work"})
	mustCreate(t, store, CreateRequest{Title: "c", Content: "x"})

	stats := store.Stats(ctx)
	if stats["total_notes"] != 3 {
		t.Errorf("total_notes = %v", stats["total_notes"])
	}
	byCategory, ok := stats["by_category"].(map[string]int)
	if !ok || byCategory["work"] != 2 || byCategory[DefaultCategory] != 1 {
		t.Errorf("by_category = %v", stats["by_category"])
	}
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"hello world", []string{"hello", "world"}},
		{"Mixed-Case_Terms!", []string{"mixed", "case", "terms"}},
		{"  a  ", []string{"a"}},
		{"...", nil},
	}
	for _, tt := range tests {
		got := tokenize(tt.in)
		if len(got) != len(tt.want) {
			t.Errorf("tokenize(%q) = %v, want %v", tt.in, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("tokenize(%q)[%d] = %q, want %q", tt.in, i, got[i], tt.want[i])
			}
		}
	}
}

func TestBuildMatchQuery(t *testing.T) {
	got := buildMatchQuery([]string{"hello", "wor"})
	want := `"hello" "wor"*`
	if got != want {
		t.Errorf("buildMatchQuery = %q, want %q", got, want)
	}
}

func TestConcurrentCreates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	const writers = 8
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		go func(n int) {
			_, err := store.Create(ctx, CreateRequest{
				Title:   fmt.Sprintf("concurrent note %d", n),
				Content: "written in parallel",
			})
			errs <- err
		}(i)
	}
	for i := 0; i < writers; i++ {
		if err := <-errs; err != nil {
			t.Errorf("concurrent create: %v", err)
		}
	}

	results, err := store.Search(ctx, "concurrent", 50)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != writers {
		t.Errorf("searchable notes = %d, want %d", len(results), writers)
	}
}
