// Package codes looks up the clinical catalogs used when filing a radicado:
// CIE-10 diagnoses, CUPS procedures and medicamentos (CUM).
package codes

import (
	"errors"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	ErrUnknownCatalog = errors.New("unknown catalog")
	ErrCodeNotFound   = errors.New("code not found")
	ErrNoEmbedder     = errors.New("semantic search not configured")
)

// Catalog names a code table.
type Catalog string

const (
	CatalogCIE10        Catalog = "cie10"
	CatalogCUPS         Catalog = "cups"
	CatalogMedicamentos Catalog = "medicamentos"

	DefaultLimit = 20
	MaxLimit     = 50
)

// Catalogs lists every supported catalog.
var Catalogs = []Catalog{CatalogCIE10, CatalogCUPS, CatalogMedicamentos}

type catalogTable struct {
	table    string
	codeCol  string
	textExpr string
	detail   string
}

var catalogTables = map[Catalog]catalogTable{
	CatalogCIE10: {
		table:    "cie10",
		codeCol:  "codigo",
		textExpr: "descripcion",
		detail:   "''",
	},
	CatalogCUPS: {
		table:    "cups",
		codeCol:  "codigo",
		textExpr: "descripcion",
		detail:   "seccion",
	},
	CatalogMedicamentos: {
		table:    "medicamentos",
		codeCol:  "codigo_cum",
		textExpr: "principio_activo || ' ' || descripcion",
		detail:   "trim(forma || ' ' || concentracion)",
	},
}

// ParseCatalog validates a catalog name.
func ParseCatalog(s string) (Catalog, error) {
	c := Catalog(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := catalogTables[c]; !ok {
		return "", ErrUnknownCatalog
	}
	return c, nil
}

// Code is one catalog entry.
type Code struct {
	Catalog     Catalog  `json:"catalog"`
	Codigo      string   `json:"codigo"`
	Descripcion string   `json:"descripcion"`
	Detalle     string   `json:"detalle,omitempty"`
	Distance    *float64 `json:"distance,omitempty"`
}

var accentStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize lowercases, strips accents and collapses whitespace.
func Normalize(s string) string {
	out, _, err := transform.String(accentStripper, s)
	if err != nil {
		out = s
	}
	return strings.Join(strings.Fields(strings.ToLower(out)), " ")
}

// Tokens returns the normalized search tokens of q.
func Tokens(q string) []string {
	return strings.Fields(Normalize(q))
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}
