package notion

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// databaseSchema is the resolved property layout of one database: which
// property holds the title, the status, and so on. Notion property names are
// user-chosen, so resolution goes by property type first and name second.
type databaseSchema struct {
	titleProp       string
	statusProp      string
	statusOptions   []string
	descriptionProp string
	dateProp        string
}

type schemaProperty struct {
	Type   string `json:"type"`
	Status *struct {
		Options []struct {
			Name string `json:"name"`
		} `json:"options"`
	} `json:"status"`
}

func (a *Adapter) schema(ctx context.Context, databaseID string) (*databaseSchema, error) {
	if s, ok := a.schemaCache[databaseID]; ok {
		return s, nil
	}

	var db notionDatabase
	status, err := a.call(ctx, "GET", "/databases/"+url.PathEscape(databaseID), nil, &db)
	if err != nil {
		return nil, err
	}
	if status == 404 {
		return nil, fmt.Errorf("notion: database %s not found", databaseID)
	}

	s, err := parseSchema(db.Properties)
	if err != nil {
		return nil, err
	}
	a.schemaCache[databaseID] = s
	return s, nil
}

func parseSchema(raw json.RawMessage) (*databaseSchema, error) {
	var props map[string]schemaProperty
	if err := json.Unmarshal(raw, &props); err != nil {
		return nil, fmt.Errorf("notion decode schema: %w", err)
	}

	s := &databaseSchema{}
	for name, prop := range props {
		switch prop.Type {
		case "title":
			s.titleProp = name
		case "status":
			if s.statusProp != "" {
				continue
			}
			s.statusProp = name
			if prop.Status != nil {
				for _, o := range prop.Status.Options {
					s.statusOptions = append(s.statusOptions, o.Name)
				}
			}
		case "rich_text":
			// Prefer an explicitly named description column over any text one.
			if s.descriptionProp == "" || strings.EqualFold(name, "description") {
				s.descriptionProp = name
			}
		case "date":
			if s.dateProp == "" || strings.EqualFold(name, "due") {
				s.dateProp = name
			}
		}
	}
	if s.titleProp == "" {
		return nil, fmt.Errorf("notion: database has no title property")
	}
	return s, nil
}

// pickStatusOption returns the first candidate the status property defines.
func (s *databaseSchema) pickStatusOption(candidates []string) (string, bool) {
	for _, want := range candidates {
		for _, have := range s.statusOptions {
			if strings.EqualFold(have, want) {
				return have, true
			}
		}
	}
	return "", false
}
