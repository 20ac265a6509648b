// Package soportes stores the documents attached to a radicado, mirrors
// them to OneDrive and extracts their text with OCR.
package soportes

import (
	"bytes"
	"errors"
	"net/http"
	"path"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

type OCRStatus string

const (
	OCRPending OCRStatus = "pending"
	OCRDone    OCRStatus = "done"
	OCRFailed  OCRStatus = "failed"
)

// Soporte is one uploaded document.
type Soporte struct {
	ID            string    `json:"id"`
	RadicadoID    string    `json:"radicado_id"`
	NombreArchivo string    `json:"nombre_archivo"`
	ContentType   string    `json:"content_type"`
	TamanoBytes   int64     `json:"tamano_bytes"`
	StorageKey    string    `json:"storage_key"`
	OneDrivePath  string    `json:"onedrive_path,omitempty"`
	OCRStatus     OCRStatus `json:"ocr_status"`
	OCRText       string    `json:"ocr_text,omitempty"`
	OCRConfidence float32   `json:"ocr_confidence"`
	SubidoPor     string    `json:"subido_por"`
	CreatedAt     time.Time `json:"created_at"`
}

// Upload is a file received from a collaborator.
type Upload struct {
	Filename    string
	ContentType string
	Content     []byte
}

// InspectReport compares stored rows with the objects in the bucket.
type InspectReport struct {
	Numero     string    `json:"numero"`
	RadicadoID string    `json:"radicado_id"`
	Rows       int       `json:"rows"`
	Objects    int       `json:"objects"`
	Missing    []Soporte `json:"missing"`
	Orphans    []string  `json:"orphans"`
}

// Consistent reports whether every row has an object and vice versa.
func (r InspectReport) Consistent() bool {
	return len(r.Missing) == 0 && len(r.Orphans) == 0
}

var (
	ErrSoporteNotFound  = errors.New("soportes: soporte not found")
	ErrEmptyFile        = errors.New("soportes: file is empty")
	ErrTooLarge         = errors.New("soportes: file exceeds size limit")
	ErrUnsupportedType  = errors.New("soportes: unsupported file type")
	ErrRadicadoClosed   = errors.New("soportes: radicado no longer accepts documents")
	ErrOCRNotConfigured = errors.New("soportes: ocr is not configured")
	ErrMissingActor     = errors.New("soportes: collaborator required")
)

var allowedTypes = map[string]string{
	"application/pdf": ".pdf",
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/tiff":      ".tiff",
}

var (
	tiffLE = []byte("II*\x00")
	tiffBE = []byte("MM\x00*")
)

// DetectType sniffs content and returns one of the accepted MIME types.
// The type declared by the client is ignored.
func DetectType(content []byte) (string, error) {
	if bytes.HasPrefix(content, tiffLE) || bytes.HasPrefix(content, tiffBE) {
		return "image/tiff", nil
	}
	ct := http.DetectContentType(content)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	if _, ok := allowedTypes[ct]; !ok {
		return "", ErrUnsupportedType
	}
	return ct, nil
}

var stripMarks = runes.Remove(runes.In(unicode.Mn))

// SanitizeFilename keeps a readable, storage-safe base name: accents are
// folded, anything outside [A-Za-z0-9._-] becomes '_', and the extension is
// forced to match contentType.
func SanitizeFilename(name, contentType string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	folded, _, err := transform.String(transform.Chain(norm.NFD, stripMarks, norm.NFC), name)
	if err == nil {
		name = folded
	}
	ext := allowedTypes[contentType]
	stem := strings.TrimSuffix(name, path.Ext(name))

	var b strings.Builder
	for _, r := range stem {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)), r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	clean := strings.Trim(b.String(), "._")
	if clean == "" {
		clean = "soporte"
	}
	if len(clean) > 100 {
		clean = clean[:100]
	}
	return clean + ext
}

// StorageKey places a soporte under its radicado's prefix.
func StorageKey(numero, id, sanitized string) string {
	return Prefix(numero) + id + "-" + sanitized
}

// Prefix is the bucket prefix holding every soporte of numero.
func Prefix(numero string) string {
	return "radicados/" + numero + "/"
}
