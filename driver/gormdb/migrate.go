package gormdb

import (
	"context"
	"fmt"
	"strings"

	"github.com/jacentio/arbor/schema"
)

// Migrate creates a table for every registered type, including the
// foreign key columns implied by associations. Existing tables are
// left alone.
func (b *Backend) Migrate(ctx context.Context) error {
	for _, t := range b.registry.AllTypes() {
		ddl, err := b.createTableSQL(t)
		if err != nil {
			return err
		}
		if err := b.db.WithContext(ctx).Exec(ddl).Error; err != nil {
			return fmt.Errorf("create table %s: %w", t.Table, err)
		}
	}
	return nil
}

func (b *Backend) createTableSQL(t *schema.Type) (string, error) {
	cols := make([]string, 0, len(t.Fields)+4)
	seen := make(map[string]bool, len(t.Fields)+4)

	idKind := schema.String
	if f, ok := t.Field(t.IDField); ok {
		idKind = f.Kind
	}
	cols = append(cols, fmt.Sprintf("%s %s PRIMARY KEY", quoteIdent(t.IDField), columnType(idKind)))
	seen[t.IDField] = true

	for _, f := range t.Fields {
		if seen[f.Name] {
			continue
		}
		col := fmt.Sprintf("%s %s", quoteIdent(f.Name), columnType(f.Kind))
		if f.Required {
			col += " NOT NULL"
		}
		cols = append(cols, col)
		seen[f.Name] = true
	}

	// Foreign key columns live on the table of the association target,
	// so this table carries one column per association that points at
	// it from elsewhere in the registry.
	for _, owner := range b.registry.AllTypes() {
		for _, assoc := range owner.Associations {
			if assoc.Target != t.Name || seen[assoc.ForeignKey] {
				continue
			}
			ownerIDKind := schema.String
			if f, ok := owner.Field(owner.IDField); ok {
				ownerIDKind = f.Kind
			}
			cols = append(cols, fmt.Sprintf("%s %s REFERENCES %s(%s)",
				quoteIdent(assoc.ForeignKey), columnType(ownerIDKind), quoteIdent(owner.Table), quoteIdent(owner.IDField)))
			seen[assoc.ForeignKey] = true
		}
	}

	for _, name := range []string{"created_at", "updated_at"} {
		if !seen[name] {
			cols = append(cols, fmt.Sprintf("%s %s", quoteIdent(name), columnType(schema.Time)))
		}
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)",
		quoteIdent(t.Table), strings.Join(cols, ", ")), nil
}

func columnType(k schema.FieldKind) string {
	switch k {
	case schema.Int:
		return "INTEGER"
	case schema.Float:
		return "REAL"
	case schema.Bool:
		return "BOOLEAN"
	case schema.Time:
		return "TIMESTAMP"
	default:
		return "TEXT"
	}
}
