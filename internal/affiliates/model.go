package affiliates

import (
	"errors"
	"strconv"
	"strings"
	"unicode"

	"github.com/portalsalud/portal-colaboradores/internal/codes"
)

var (
	// ErrQueryTooShort keeps the search box idle until enough input exists.
	ErrQueryTooShort = errors.New("query must have at least 3 characters")
	// ErrAfiliadoNotFound is returned by exact lookups.
	ErrAfiliadoNotFound = errors.New("afiliado not found")
)

const (
	MinQueryLength = 3
	DefaultLimit   = 10
	MaxLimit       = 25
)

// Afiliado is an EPS member who can be the subject of a radicado.
type Afiliado struct {
	ID              string `json:"id"`
	TipoDocumento   string `json:"tipo_documento"`
	NumeroDocumento string `json:"numero_documento"`
	Nombres         string `json:"nombres"`
	Apellidos       string `json:"apellidos"`
	EPS             string `json:"eps"`
	Regimen         string `json:"regimen"`
	Estado          string `json:"estado"`
	Telefono        string `json:"telefono,omitempty"`
	Email           string `json:"email,omitempty"`
	Municipio       string `json:"municipio,omitempty"`
}

// NombreCompleto joins names and surnames.
func (a *Afiliado) NombreCompleto() string {
	return strings.TrimSpace(a.Nombres + " " + a.Apellidos)
}

// Query is a normalized search request.
type Query struct {
	Raw     string
	Tokens  []string
	Numeric bool
	Limit   int
}

// ParseQuery trims the input, enforces the minimum length and decides between
// document-prefix and name-token matching.
func ParseQuery(raw string, limit int) (Query, error) {
	raw = strings.Join(strings.Fields(raw), " ")
	if len([]rune(raw)) < MinQueryLength {
		return Query{}, ErrQueryTooShort
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	q := Query{Raw: raw, Limit: limit, Numeric: isDigits(raw)}
	if !q.Numeric {
		// Folded like unaccent() so every repository matches alike.
		q.Tokens = codes.Tokens(raw)
	}
	return q, nil
}

// CacheKey is stable across casing, accents and spacing.
func (q Query) CacheKey() string {
	if q.Numeric {
		return q.Raw + "|" + strconv.Itoa(q.Limit)
	}
	return strings.Join(q.Tokens, " ") + "|" + strconv.Itoa(q.Limit)
}

func isDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}
