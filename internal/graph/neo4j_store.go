package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/albionforge/itemgraph/internal/platform/logger"
	"github.com/albionforge/itemgraph/internal/platform/neo4jdb"
)

// Neo4jStore implements Store on a Neo4j database. All statements are
// UNWIND + MERGE batches keyed on the spec's unique property, so replays
// are safe. Labels and property names come from compile-time specs, never
// from input data.
type Neo4jStore struct {
	client *neo4jdb.Client
	log    *logger.Logger
}

func NewNeo4jStore(client *neo4jdb.Client, log *logger.Logger) *Neo4jStore {
	return &Neo4jStore{client: client, log: log.With("component", "Neo4jStore")}
}

// EnsureSchema creates uniqueness constraints for each node spec.
// Best-effort: a failure is logged and skipped, the MERGE statements stay
// correct without the constraints.
func (s *Neo4jStore) EnsureSchema(ctx context.Context, specs []NodeSpec) error {
	session := s.session(ctx)
	defer session.Close(ctx)

	for _, spec := range specs {
		q := fmt.Sprintf(
			`CREATE CONSTRAINT %s_%s_unique IF NOT EXISTS FOR (n:%s) REQUIRE n.%s IS UNIQUE`,
			strings.ToLower(spec.Label), spec.KeyProp, spec.Label, spec.KeyProp,
		)
		if res, err := session.Run(ctx, q, nil); err != nil {
			s.log.Warn("schema init failed (continuing)", "label", spec.Label, "error", err)
		} else {
			_, _ = res.Consume(ctx)
		}
	}
	return nil
}

func (s *Neo4jStore) UpsertNodes(ctx context.Context, spec NodeSpec, rows []map[string]any) error {
	if len(rows) == 0 {
		return nil
	}
	session := s.session(ctx)
	defer session.Close(ctx)

	query := fmt.Sprintf(`
UNWIND $rows AS row
MERGE (n:%s {%s: row.%s})
SET n += row
`, spec.Label, spec.KeyProp, spec.KeyProp)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, map[string]any{"rows": rows})
		if err != nil {
			return nil, err
		}
		if _, err := res.Consume(ctx); err != nil {
			return nil, err
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("upsert %s nodes: %w", spec.Label, err)
	}
	return nil
}

func (s *Neo4jStore) UpsertEdges(ctx context.Context, spec EdgeSpec, rows []EdgeRow) error {
	if len(rows) == 0 {
		return nil
	}
	session := s.session(ctx)
	defer session.Close(ctx)

	params := make([]map[string]any, 0, len(rows))
	for _, r := range rows {
		params = append(params, map[string]any{
			"from":  r.FromKey,
			"to":    r.ToKey,
			"props": normalizeProps(r.Props),
		})
	}

	query := fmt.Sprintf(`
UNWIND $rows AS row
MATCH (a:%s {%s: row.from})
MATCH (b:%s {%s: row.to})
MERGE (a)-[e:%s]->(b)
SET e += row.props
`, spec.From.Label, spec.From.KeyProp, spec.To.Label, spec.To.KeyProp, spec.Type)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, map[string]any{"rows": params})
		if err != nil {
			return nil, err
		}
		if _, err := res.Consume(ctx); err != nil {
			return nil, err
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("upsert %s edges: %w", spec.Type, err)
	}
	return nil
}

func (s *Neo4jStore) session(ctx context.Context) neo4j.SessionWithContext {
	return s.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.client.Database,
	})
}

// normalizeProps keeps `SET e += row.props` valid when a row carries no
// properties; Cypher rejects += with null.
func normalizeProps(props map[string]any) map[string]any {
	if props == nil {
		return map[string]any{}
	}
	return props
}
