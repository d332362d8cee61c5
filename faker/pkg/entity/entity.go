package entity

import (
	"context"
	"log/slog"
)

// Entity is one meter or device to generate rows for.
type Entity struct {
	ID        string
	Namespace string
	Table     string
}

// Source lists the entities of a run.
type Source interface {
	List(ctx context.Context) ([]Entity, error)
}

// Static is a fixed entity list.
type Static []Entity

func (s Static) List(ctx context.Context) ([]Entity, error) {
	return append([]Entity(nil), s...), nil
}

// FromIDs builds entities sharing one namespace and table.
func FromIDs(namespace, table string, ids ...string) Static {
	out := make(Static, 0, len(ids))
	for _, id := range ids {
		out = append(out, Entity{ID: id, Namespace: namespace, Table: table})
	}
	return out
}

// Dedupe drops repeated (namespace, table, id) entries, keeping the first.
func Dedupe(log *slog.Logger, entities []Entity) []Entity {
	seen := make(map[Entity]struct{}, len(entities))
	out := entities[:0:0]
	for _, e := range entities {
		if _, dup := seen[e]; dup {
			if log != nil {
				log.Warn("entity: dropping duplicate", "entity_id", e.ID, "namespace", e.Namespace, "table", e.Table)
			}
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	return out
}
