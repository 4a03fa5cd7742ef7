package registry

import (
	"fmt"
	"sort"
	"strings"

	"idx-signals/filestore"
	"idx-signals/observability"
)

// symbolAliases are the header names, in priority order, accepted as the
// ticker column. Indonesian vendors ship several of these.
var symbolAliases = []string{
	"symbol", "symbols", "ticker", "code", "tickercode",
	"kode", "kodesaham", "stock", "stocksymbol", "emiten", "kodeemiten",
}

// sniffMinRatio is the minimum fraction of ticker-like cells a column
// needs before it can be adopted without a recognized header.
const sniffMinRatio = 0.6

// SchemaError indicates a registry file whose columns could not be
// understood. The Columns field carries the headers seen, for operators.
type SchemaError struct {
	Path    string
	Columns []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("no ticker column found in %s (columns: %s)",
		e.Path, strings.Join(e.Columns, ", "))
}

// EmptyRegistryError indicates a structurally valid registry file that
// yielded zero usable symbols. Running the pipeline against an empty
// universe is always a mistake upstream.
type EmptyRegistryError struct {
	Path string
}

func (e *EmptyRegistryError) Error() string {
	return fmt.Sprintf("registry %s contains no symbols", e.Path)
}

// Load reads the ticker universe from a CSV file. The ticker column is
// resolved by header alias first, then by content sniffing, then by a
// single-column fallback. Symbols are normalized (uppercased, .JK suffix
// stripped), deduplicated, and returned sorted.
func Load(path string) ([]string, error) {
	header, rows, err := filestore.ReadCSVTable(path)
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	if len(header) == 0 {
		return nil, &EmptyRegistryError{Path: path}
	}

	colIdx, how := resolveSymbolColumn(path, header, rows)
	if colIdx < 0 {
		return nil, &SchemaError{Path: path, Columns: header}
	}
	observability.Debug("registry column resolved",
		"path", path, "column", header[colIdx], "method", how)

	seen := make(map[string]struct{}, len(rows))
	symbols := make([]string, 0, len(rows))

	// Headerless single-column files put a ticker in the header slot.
	if how == "single-column" {
		if sym := filestore.NormalizeSymbol(header[0]); filestore.IsTickerLike(sym) {
			seen[sym] = struct{}{}
			symbols = append(symbols, sym)
		}
	}

	for _, row := range rows {
		if colIdx >= len(row) {
			continue
		}
		sym := filestore.NormalizeSymbol(row[colIdx])
		if sym == "" || !filestore.IsTickerLike(sym) {
			continue
		}
		if _, dup := seen[sym]; dup {
			continue
		}
		seen[sym] = struct{}{}
		symbols = append(symbols, sym)
	}
	if len(symbols) == 0 {
		return nil, &EmptyRegistryError{Path: path}
	}

	sort.Strings(symbols)
	return symbols, nil
}

// resolveSymbolColumn returns the index of the ticker column and the
// method that found it, or -1 when nothing qualifies.
func resolveSymbolColumn(path string, header []string, rows [][]string) (int, string) {
	if idx, ok := filestore.ResolveColumn(header, symbolAliases...); ok {
		return idx, "alias"
	}

	// Sniff: score each column by the fraction of ticker-like cells.
	// Ties break to the leftmost column.
	best, bestRatio := -1, 0.0
	for col := range header {
		values := make([]string, 0, len(rows))
		for _, row := range rows {
			if col < len(row) && strings.TrimSpace(row[col]) != "" {
				values = append(values, row[col])
			}
		}
		ratio := filestore.TickerLikeRatio(values)
		if len(values) > 0 && ratio > bestRatio {
			best, bestRatio = col, ratio
		}
	}
	if best >= 0 && bestRatio >= sniffMinRatio {
		return best, "sniff"
	}

	// A one-column file is taken at face value even when its contents
	// scored low; the per-cell ticker filter still drops the garbage.
	if len(header) == 1 {
		return 0, "single-column"
	}
	return -1, ""
}
