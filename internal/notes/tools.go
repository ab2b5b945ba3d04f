package notes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/autoyou/autoyou-agent/internal/tools"
)

// RegisterTools adds the note management tools to a registry.
func RegisterTools(r *tools.Registry, store *Store) {
	r.Register(&tools.Tool{
		Name:        "create_note",
		Description: "Create a new note. Use when the user asks to save, remember, or write down information.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"title": map[string]any{
					"type":        "string",
					"description": "Short title for the note",
				},
				"content": map[string]any{
					"type":        "string",
					"description": "The note body",
				},
				"tags": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Optional tags for organizing and filtering",
				},
				"category": map[string]any{
					"type":        "string",
					"description": "Optional category (e.g., work, personal, shopping). Defaults to 'general'.",
				},
			},
			"required": []string{"title", "content"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			title, _ := args["title"].(string)
			content, _ := args["content"].(string)
			category, _ := args["category"].(string)
			if strings.TrimSpace(content) == "" {
				return "", fmt.Errorf("content is required")
			}

			note, err := store.Create(ctx, CreateRequest{
				Title:    title,
				Content:  content,
				Tags:     stringSlice(args["tags"]),
				Category: category,
			})
			if err != nil {
				return "", toolError(err)
			}
			return fmt.Sprintf("Note saved with ID %d: %s", note.ID, note.Title), nil
		},
	})

	r.Register(&tools.Tool{
		Name:        "get_note",
		Description: "Retrieve a single note by its ID, including the full content.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"note_id": map[string]any{
					"type":        "integer",
					"description": "The note ID",
				},
			},
			"required": []string{"note_id"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			id, ok := noteID(args)
			if !ok {
				return "", fmt.Errorf("note_id is required")
			}
			note, err := store.Get(ctx, id)
			if err != nil {
				return "", toolError(err)
			}
			return formatNote(note), nil
		},
	})

	r.Register(&tools.Tool{
		Name:        "search_notes",
		Description: "Full-text search across note titles, content, and tags. Use to find previously saved information.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Search terms. All terms must match; the last term matches as a prefix.",
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum number of results (default 10)",
				},
			},
			"required": []string{"query"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			query, _ := args["query"].(string)
			limit := intArg(args, "limit", defaultSearchLimit)

			results, err := store.Search(ctx, query, limit)
			if err != nil {
				return "", toolError(err)
			}
			if len(results) == 0 {
				return fmt.Sprintf("No notes matched %q.", query), nil
			}

			var sb strings.Builder
			fmt.Fprintf(&sb, "Found %d note(s):\n", len(results))
			for _, res := range results {
				fmt.Fprintf(&sb, "- [%d] %s (category: %s", res.Note.ID, res.Note.Title, res.Note.Category)
				if len(res.Note.Tags) > 0 {
					fmt.Fprintf(&sb, ", tags: %s", strings.Join(res.Note.Tags, ", "))
				}
				sb.WriteString(")")
				if res.Snippet != "" {
					fmt.Fprintf(&sb, ": %s", res.Snippet)
				}
				sb.WriteString("\n")
			}
			return sb.String(), nil
		},
	})

	r.Register(&tools.Tool{
		Name:        "list_notes",
		Description: "List notes, most recently updated first. Optionally filter by category or tag.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"category": map[string]any{
					"type":        "string",
					"description": "Only notes in this category",
				},
				"tag": map[string]any{
					"type":        "string",
					"description": "Only notes carrying this tag",
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum number of notes to return (default 50)",
				},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			category, _ := args["category"].(string)
			tag, _ := args["tag"].(string)

			list, err := store.List(ctx, ListOptions{
				Category: category,
				Tag:      tag,
				Limit:    intArg(args, "limit", defaultListLimit),
			})
			if err != nil {
				return "", toolError(err)
			}
			if len(list) == 0 {
				return "No notes found.", nil
			}

			var sb strings.Builder
			fmt.Fprintf(&sb, "Found %d note(s):\n", len(list))
			for _, n := range list {
				fmt.Fprintf(&sb, "- [%d] %s (category: %s, updated: %s)\n",
					n.ID, n.Title, n.Category, n.UpdatedAt.Format("2006-01-02 15:04"))
			}
			return sb.String(), nil
		},
	})

	r.Register(&tools.Tool{
		Name:        "update_note",
		Description: "Update an existing note. Only the provided fields change; omit a field to leave it as is.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"note_id": map[string]any{
					"type":        "integer",
					"description": "The note ID",
				},
				"title": map[string]any{
					"type":        "string",
					"description": "New title",
				},
				"content": map[string]any{
					"type":        "string",
					"description": "New content (replaces the previous content)",
				},
				"tags": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "New tag list (replaces the previous tags)",
				},
				"category": map[string]any{
					"type":        "string",
					"description": "New category",
				},
			},
			"required": []string{"note_id"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			id, ok := noteID(args)
			if !ok {
				return "", fmt.Errorf("note_id is required")
			}

			var req UpdateRequest
			if v, ok := args["title"].(string); ok {
				req.Title = &v
			}
			if v, ok := args["content"].(string); ok {
				req.Content = &v
			}
			if _, ok := args["tags"]; ok {
				tags := stringSlice(args["tags"])
				req.Tags = &tags
			}
			if v, ok := args["category"].(string); ok {
				req.Category = &v
			}

			note, err := store.Update(ctx, id, req)
			if err != nil {
				return "", toolError(err)
			}
			return fmt.Sprintf("Note %d updated: %s", note.ID, note.Title), nil
		},
	})

	r.Register(&tools.Tool{
		Name:        "delete_note",
		Description: "Permanently delete a note by ID. This cannot be undone.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"note_id": map[string]any{
					"type":        "integer",
					"description": "The note ID",
				},
			},
			"required": []string{"note_id"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			id, ok := noteID(args)
			if !ok {
				return "", fmt.Errorf("note_id is required")
			}
			existed, err := store.Delete(ctx, id)
			if err != nil {
				return "", toolError(err)
			}
			if !existed {
				return fmt.Sprintf("Note %d does not exist.", id), nil
			}
			return fmt.Sprintf("Note %d deleted.", id), nil
		},
	})
}

// formatNote renders a note for the model.
func formatNote(n *Note) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Note %d: %s\n", n.ID, n.Title)
	fmt.Fprintf(&sb, "Category: %s\n", n.Category)
	if len(n.Tags) > 0 {
		fmt.Fprintf(&sb, "Tags: %s\n", strings.Join(n.Tags, ", "))
	}
	fmt.Fprintf(&sb, "Updated: %s\n\n", n.UpdatedAt.Format("2006-01-02 15:04"))
	sb.WriteString(n.Content)
	return sb.String()
}

// toolError strips the typed wrappers so the model sees a plain,
// actionable message.
func toolError(err error) error {
	var notFound *NotFoundError
	if errors.As(err, &notFound) {
		return fmt.Errorf("note %d does not exist", notFound.ID)
	}
	var invalid *ValidationError
	if errors.As(err, &invalid) {
		return fmt.Errorf("invalid %s: %s", invalid.Field, invalid.Reason)
	}
	return err
}

// noteID extracts the note_id argument. JSON numbers decode as
// float64; some models send the ID as a string instead.
func noteID(args map[string]any) (int64, bool) {
	switch v := args["note_id"].(type) {
	case float64:
		return int64(v), true
	case json.Number:
		id, err := v.Int64()
		return id, err == nil
	case string:
		var id int64
		_, err := fmt.Sscanf(v, "%d", &id)
		return id, err == nil
	}
	return 0, false
}

func intArg(args map[string]any, key string, fallback int) int {
	if v, ok := args[key].(float64); ok {
		return int(v)
	}
	return fallback
}

func stringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	var result []string
	for _, item := range items {
		if s, ok := item.(string); ok {
			result = append(result, s)
		}
	}
	return result
}
