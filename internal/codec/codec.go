// Package codec reads and writes roster documents.
package codec

import (
	"fmt"
	"io"
	"strings"
	"time"

	"meshroster/internal/domain"
)

// DocumentVersion is written into every exported document
const DocumentVersion = 1

// Document is a portable copy of the roster
type Document struct {
	Version    int                   `json:"version" yaml:"version"`
	ExportedAt time.Time             `json:"exported_at" yaml:"exported_at"`
	Devices    []domain.DeviceRecord `json:"devices" yaml:"devices"`
}

// NewDocument wraps devices for export
func NewDocument(devices []domain.DeviceRecord, at time.Time) *Document {
	if devices == nil {
		devices = []domain.DeviceRecord{}
	}
	return &Document{Version: DocumentVersion, ExportedAt: at.UTC(), Devices: devices}
}

// Importer interface for reading roster documents
type Importer interface {
	Parse(r io.Reader) (*Document, error)
	Format() string
}

// Exporter interface for writing roster documents
type Exporter interface {
	Export(doc *Document, w io.Writer) error
	Format() string
}

// Codec both reads and writes one format
type Codec interface {
	Importer
	Exporter
}

// ForFormat returns the codec for a format name ("json", "yaml" or "yml")
func ForFormat(format string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		return NewJSONCodec(), nil
	case "yaml", "yml":
		return NewYAMLCodec(), nil
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
}

// ContentType returns the MIME type for an export format
func ContentType(format string) string {
	if format == "json" {
		return "application/json"
	}
	return "application/yaml"
}

func validate(doc *Document) error {
	seen := make(map[string]bool, len(doc.Devices))
	for i, d := range doc.Devices {
		if d.NodeID == "" {
			return fmt.Errorf("device %d: node_id is required", i)
		}
		if seen[d.NodeID] {
			return fmt.Errorf("device %s listed twice", d.NodeID)
		}
		seen[d.NodeID] = true
		if d.Role != "" && !d.Role.Valid() {
			return fmt.Errorf("device %s: unknown role %q", d.NodeID, d.Role)
		}
	}
	return nil
}
