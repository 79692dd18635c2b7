package graph

import "context"

// NodeSpec names a node label and the property its uniqueness key lives in.
type NodeSpec struct {
	Label   string
	KeyProp string
}

// EdgeSpec names a relationship type and the node endpoints it connects.
type EdgeSpec struct {
	Type string
	From NodeSpec
	To   NodeSpec
}

// EdgeRow is one edge instance addressed by endpoint keys.
type EdgeRow struct {
	FromKey any
	ToKey   any
	Props   map[string]any
}

// Store is the upsert contract the pipeline consumes. Both operations must
// be idempotent: repeating a call with identical arguments never duplicates
// a node or edge. Node rows must include the spec's key property.
type Store interface {
	EnsureSchema(ctx context.Context, specs []NodeSpec) error
	UpsertNodes(ctx context.Context, spec NodeSpec, rows []map[string]any) error
	UpsertEdges(ctx context.Context, spec EdgeSpec, rows []EdgeRow) error
}
