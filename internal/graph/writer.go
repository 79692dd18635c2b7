package graph

import (
	"context"
	"time"

	"github.com/albionforge/itemgraph/internal/domain"
	"github.com/albionforge/itemgraph/internal/platform/logger"
	"github.com/albionforge/itemgraph/internal/taxonomy"
)

const (
	defaultWriteBatchSize = 25
	maxWriteBatchSize     = 50
)

var (
	itemSpec        = NodeSpec{Label: "Item", KeyProp: "id"}
	categorySpec    = NodeSpec{Label: "Category", KeyProp: "name"}
	subcategorySpec = NodeSpec{Label: "Subcategory", KeyProp: "name"}
	tierSpec        = NodeSpec{Label: "Tier", KeyProp: "level"}
	itemTypeSpec    = NodeSpec{Label: "ItemType", KeyProp: "name"}

	belongsToCategory    = EdgeSpec{Type: "BELONGS_TO", From: itemSpec, To: categorySpec}
	belongsToSubcategory = EdgeSpec{Type: "BELONGS_TO", From: itemSpec, To: subcategorySpec}
	hasTier              = EdgeSpec{Type: "HAS_TIER", From: itemSpec, To: tierSpec}
	isType               = EdgeSpec{Type: "IS_TYPE", From: itemSpec, To: itemTypeSpec}
	enchantedFrom        = EdgeSpec{Type: "ENCHANTED_FROM", From: itemSpec, To: itemSpec}
)

// WriteStats reports sub-batch outcomes for one WriteItems call.
type WriteStats struct {
	SubBatches int
	Failed     int
}

// Writer upserts validated items and their taxonomy relationships. Write
// batches are smaller than validation batches because each sub-batch is a
// transactional graph write; a failed sub-batch is logged and counted but
// never blocks the ones after it.
type Writer struct {
	store     Store
	log       *logger.Logger
	batchSize int

	schemaReady bool
}

func NewWriter(store Store, batchSize int, log *logger.Logger) *Writer {
	if batchSize <= 0 {
		batchSize = defaultWriteBatchSize
	}
	if batchSize > maxWriteBatchSize {
		batchSize = maxWriteBatchSize
	}
	return &Writer{
		store:     store,
		log:       log.With("component", "GraphWriter"),
		batchSize: batchSize,
	}
}

// WriteItems upserts the given items in sub-batches. Idempotent end to end:
// every node and edge is MERGEd on its key, so replaying a batch after a
// resume cannot duplicate anything.
func (w *Writer) WriteItems(ctx context.Context, items []domain.ItemRecord) (WriteStats, error) {
	var stats WriteStats
	if len(items) == 0 {
		return stats, nil
	}

	if !w.schemaReady {
		specs := []NodeSpec{itemSpec, categorySpec, subcategorySpec, tierSpec, itemTypeSpec}
		if err := w.store.EnsureSchema(ctx, specs); err != nil {
			w.log.Warn("graph schema init failed (continuing)", "error", err)
		}
		w.schemaReady = true
	}

	// Enchanted items link to their base only when the base is part of the
	// same write set.
	present := make(map[string]struct{}, len(items))
	for _, it := range items {
		present[it.Identifier] = struct{}{}
	}

	// ENCHANTED_FROM rows are collected across the whole call and flushed
	// after the last sub-batch: the edge MATCH can only bind a base node
	// that has already been upserted, and the base may sit in a later
	// sub-batch than the enchanted item.
	var enchEdges []EdgeRow

	for start := 0; start < len(items); start += w.batchSize {
		end := start + w.batchSize
		if end > len(items) {
			end = len(items)
		}
		stats.SubBatches++
		edges, err := w.writeSubBatch(ctx, items[start:end], present)
		if err != nil {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			stats.Failed++
			w.log.Error("graph sub-batch write failed, skipping",
				"start", start, "size", end-start, "error", err)
			continue
		}
		enchEdges = append(enchEdges, edges...)
	}

	if len(enchEdges) > 0 {
		if err := w.store.UpsertEdges(ctx, enchantedFrom, enchEdges); err != nil {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			stats.Failed++
			w.log.Error("enchantment edge write failed, skipping",
				"edges", len(enchEdges), "error", err)
		}
	}
	return stats, nil
}

// writeSubBatch upserts one sub-batch's nodes and taxonomy edges and returns
// the ENCHANTED_FROM rows it contributes for the deferred flush.
func (w *Writer) writeSubBatch(ctx context.Context, items []domain.ItemRecord, present map[string]struct{}) ([]EdgeRow, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	itemRows := make([]map[string]any, 0, len(items))
	categories := make(map[string]struct{})
	subcategories := make(map[string]struct{})
	tiers := make(map[int]struct{})
	types := make(map[string]struct{})

	var catEdges, subcatEdges, tierEdges, typeEdges, enchEdges []EdgeRow

	for _, it := range items {
		itemRows = append(itemRows, map[string]any{
			"id":                it.Identifier,
			"name":              it.CanonicalName,
			"raw_name":          it.RawDisplayName,
			"category":          it.Category,
			"subcategory":       it.Subcategory,
			"tier":              int64(it.Tier),
			"enchantment_level": int64(it.EnchantmentLevel),
			"type_label":        it.TypeLabel,
			"synced_at":         now,
		})
		categories[it.Category] = struct{}{}
		subcategories[it.Subcategory] = struct{}{}
		tiers[it.Tier] = struct{}{}
		types[it.TypeLabel] = struct{}{}

		catEdges = append(catEdges, EdgeRow{FromKey: it.Identifier, ToKey: it.Category})
		subcatEdges = append(subcatEdges, EdgeRow{FromKey: it.Identifier, ToKey: it.Subcategory})
		tierEdges = append(tierEdges, EdgeRow{FromKey: it.Identifier, ToKey: int64(it.Tier)})
		typeEdges = append(typeEdges, EdgeRow{FromKey: it.Identifier, ToKey: it.TypeLabel})

		if it.EnchantmentLevel > 0 {
			base := taxonomy.StripEnchantment(it.Identifier)
			if _, ok := present[base]; ok {
				enchEdges = append(enchEdges, EdgeRow{
					FromKey: it.Identifier,
					ToKey:   base,
					Props:   map[string]any{"levels": int64(it.EnchantmentLevel)},
				})
			}
		}
	}

	if err := w.store.UpsertNodes(ctx, itemSpec, itemRows); err != nil {
		return nil, err
	}
	if err := w.store.UpsertNodes(ctx, categorySpec, nameRows(categories)); err != nil {
		return nil, err
	}
	if err := w.store.UpsertNodes(ctx, subcategorySpec, nameRows(subcategories)); err != nil {
		return nil, err
	}
	if err := w.store.UpsertNodes(ctx, tierSpec, tierRows(tiers)); err != nil {
		return nil, err
	}
	if err := w.store.UpsertNodes(ctx, itemTypeSpec, nameRows(types)); err != nil {
		return nil, err
	}

	if err := w.store.UpsertEdges(ctx, belongsToCategory, catEdges); err != nil {
		return nil, err
	}
	if err := w.store.UpsertEdges(ctx, belongsToSubcategory, subcatEdges); err != nil {
		return nil, err
	}
	if err := w.store.UpsertEdges(ctx, hasTier, tierEdges); err != nil {
		return nil, err
	}
	if err := w.store.UpsertEdges(ctx, isType, typeEdges); err != nil {
		return nil, err
	}
	return enchEdges, nil
}

func nameRows(names map[string]struct{}) []map[string]any {
	rows := make([]map[string]any, 0, len(names))
	for name := range names {
		rows = append(rows, map[string]any{"name": name})
	}
	return rows
}

func tierRows(levels map[int]struct{}) []map[string]any {
	rows := make([]map[string]any, 0, len(levels))
	for level := range levels {
		rows = append(rows, map[string]any{"level": int64(level)})
	}
	return rows
}
