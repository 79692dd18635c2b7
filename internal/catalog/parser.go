package catalog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/albionforge/itemgraph/internal/platform/logger"
)

// ErrCatalogNotFound is returned only when the catalog path does not exist.
// Every other problem (malformed entries, unknown shapes) degrades to
// warnings and skipped lines.
var ErrCatalogNotFound = fmt.Errorf("catalog file not found")

// Entry is one normalized catalog record in file order.
type Entry struct {
	Identifier  string
	DisplayName string
}

// jsonEntry matches the game's dumped item list: a unique identifier plus a
// locale keyed name map.
type jsonEntry struct {
	UniqueName     string            `json:"UniqueName"`
	LocalizedNames map[string]string `json:"LocalizedNames"`
}

type Parser struct {
	log    *logger.Logger
	locale string
}

func NewParser(log *logger.Logger, locale string) *Parser {
	if locale == "" {
		locale = "EN-US"
	}
	return &Parser{log: log.With("component", "CatalogParser"), locale: locale}
}

// Parse reads the catalog at path. The JSON record format is tried first,
// then the line-oriented text formats. Duplicate identifiers keep the first
// occurrence so graph keys stay unique.
func (p *Parser) Parse(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrCatalogNotFound, path)
		}
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var entries []Entry
	if looksLikeJSON(data) {
		entries, err = p.parseJSON(data)
		if err != nil {
			p.log.Warn("catalog JSON parse failed, falling back to line format", "error", err)
			entries = nil
		}
	}
	if entries == nil {
		entries = p.parseLines(data)
	}

	return dedupe(entries, p.log), nil
}

func looksLikeJSON(data []byte) bool {
	trimmed := strings.TrimLeft(string(data), " \t\r\n")
	return strings.HasPrefix(trimmed, "[") || strings.HasPrefix(trimmed, "{")
}

func (p *Parser) parseJSON(data []byte) ([]Entry, error) {
	var raw []jsonEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(raw))
	for i, rec := range raw {
		id := strings.TrimSpace(rec.UniqueName)
		if id == "" {
			p.log.Warn("catalog entry missing identifier, skipping", "index", i)
			continue
		}
		entries = append(entries, Entry{
			Identifier:  id,
			DisplayName: p.pickName(id, rec.LocalizedNames),
		})
	}
	return entries, nil
}

func (p *Parser) pickName(id string, names map[string]string) string {
	if name := strings.TrimSpace(names[p.locale]); name != "" {
		return name
	}
	for _, name := range names {
		if name = strings.TrimSpace(name); name != "" {
			return name
		}
	}
	return id
}

// parseLines handles the two text shapes: modern "index: id : name" and
// legacy "id|name|category|tier|subcategory".
func (p *Parser) parseLines(data []byte) []Entry {
	var entries []Entry
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		entry, ok := parseLine(line)
		if !ok {
			p.log.Warn("malformed catalog line, skipping", "line", lineNo)
			continue
		}
		entries = append(entries, entry)
	}
	return entries
}

func parseLine(line string) (Entry, bool) {
	if strings.Contains(line, "|") {
		parts := strings.Split(line, "|")
		if len(parts) < 2 {
			return Entry{}, false
		}
		id := strings.TrimSpace(parts[0])
		name := strings.TrimSpace(parts[1])
		if id == "" {
			return Entry{}, false
		}
		if name == "" {
			name = id
		}
		return Entry{Identifier: id, DisplayName: name}, true
	}

	parts := strings.SplitN(line, ":", 3)
	if len(parts) != 3 {
		return Entry{}, false
	}
	id := strings.TrimSpace(parts[1])
	name := strings.TrimSpace(parts[2])
	if id == "" {
		return Entry{}, false
	}
	if name == "" {
		name = id
	}
	return Entry{Identifier: id, DisplayName: name}, true
}

func dedupe(entries []Entry, log *logger.Logger) []Entry {
	seen := make(map[string]struct{}, len(entries))
	out := entries[:0]
	for _, e := range entries {
		if _, dup := seen[e.Identifier]; dup {
			log.Warn("duplicate identifier in catalog, keeping first", "identifier", e.Identifier)
			continue
		}
		seen[e.Identifier] = struct{}{}
		out = append(out, e)
	}
	return out
}
