// Package ocr extracts text from soportes with Google Document AI.
package ocr

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	documentai "google.golang.org/api/documentai/v1"
	"google.golang.org/api/option"
)

var (
	ErrEmptyContent  = errors.New("ocr: content is empty")
	ErrNoProcessor   = errors.New("ocr: document ai processor is required")
	ErrUnsupportedMT = errors.New("ocr: unsupported mime type")
)

var supportedMimeTypes = map[string]bool{
	"application/pdf": true,
	"image/jpeg":      true,
	"image/png":       true,
	"image/tiff":      true,
}

// Result is the extracted text of one document.
type Result struct {
	Text       string  `json:"text"`
	Pages      int     `json:"pages"`
	Confidence float64 `json:"confidence"`
}

// Client calls a single Document AI processor.
type Client struct {
	svc       *documentai.Service
	processor string
}

// NewClient builds a processor client. processor is the full resource name
// (projects/*/locations/*/processors/*). endpoint selects the regional host.
func NewClient(ctx context.Context, processor, endpoint, credentialsJSON string, extra ...option.ClientOption) (*Client, error) {
	processor = strings.TrimSpace(processor)
	if processor == "" {
		return nil, ErrNoProcessor
	}
	opts := []option.ClientOption{}
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	if credentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(credentialsJSON)))
	}
	opts = append(opts, extra...)
	svc, err := documentai.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("ocr: create document ai service: %w", err)
	}
	return &Client{svc: svc, processor: processor}, nil
}

// Process runs OCR over content. Confidence is the mean page layout confidence.
func (c *Client) Process(ctx context.Context, content []byte, mimeType string) (*Result, error) {
	if len(content) == 0 {
		return nil, ErrEmptyContent
	}
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if !supportedMimeTypes[mimeType] {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMT, mimeType)
	}

	req := &documentai.GoogleCloudDocumentaiV1ProcessRequest{
		RawDocument: &documentai.GoogleCloudDocumentaiV1RawDocument{
			Content:  base64.StdEncoding.EncodeToString(content),
			MimeType: mimeType,
		},
		SkipHumanReview: true,
	}
	resp, err := c.svc.Projects.Locations.Processors.Process(c.processor, req).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("ocr: process document: %w", err)
	}
	return resultFrom(resp.Document), nil
}

func resultFrom(doc *documentai.GoogleCloudDocumentaiV1Document) *Result {
	if doc == nil {
		return &Result{}
	}
	res := &Result{Text: doc.Text, Pages: len(doc.Pages)}
	var sum float64
	var n int
	for _, p := range doc.Pages {
		if p == nil || p.Layout == nil {
			continue
		}
		sum += p.Layout.Confidence
		n++
	}
	if n > 0 {
		res.Confidence = sum / float64(n)
	}
	return res
}
