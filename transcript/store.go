package transcript

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/pkg/llms"
	"sigs.k8s.io/yaml"
)

// Format of the transcript files
type Format string

const (
	// FormatJSON writes indented JSON files
	FormatJSON Format = "json"
	// FormatYAML writes YAML files
	FormatYAML Format = "yaml"
)

// ErrUnsupportedFormat is returned for unknown transcript formats
var ErrUnsupportedFormat = errors.New("unsupported transcript format")

// ParseFormat returns the Format, empty value defaults to FormatJSON
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case "":
		return FormatJSON, nil
	case FormatJSON, FormatYAML:
		return f, nil
	}
	return "", errors.WithMessagef(ErrUnsupportedFormat, "%q", s)
}

// Record is the transcript of one query
type Record struct {
	ID         string         `json:"id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Model      string         `json:"model,omitempty"`
	Query      string         `json:"query"`
	Error      string         `json:"error,omitempty"`
	Messages   []llms.Message `json:"messages"`
}

// Store saves transcripts
type Store interface {
	// Save stores the record and returns its location
	Save(ctx context.Context, rec *Record) (string, error)
}

// FileStore writes one file per record into a folder
type FileStore struct {
	dir    string
	format Format
}

// NewFileStore returns a FileStore, the folder is created if it does not exist.
func NewFileStore(dir string, format Format) (*FileStore, error) {
	if format != FormatJSON && format != FormatYAML {
		return nil, errors.WithMessagef(ErrUnsupportedFormat, "%q", format)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create transcript folder %s", dir)
	}
	return &FileStore{dir: dir, format: format}, nil
}

// Dir returns the transcript folder
func (s *FileStore) Dir() string {
	return s.dir
}

// FileName returns the file name of the record:
// conversation-<timestamp>-<id>.<format>
func (s *FileStore) FileName(rec *Record) string {
	return fmt.Sprintf("conversation-%s-%s.%s",
		rec.StartedAt.UTC().Format("20060102T150405Z"), rec.ID, s.format)
}

// Save writes the record file
func (s *FileStore) Save(_ context.Context, rec *Record) (string, error) {
	data, err := Encode(rec, s.format)
	if err != nil {
		return "", err
	}

	path := filepath.Join(s.dir, s.FileName(rec))
	if err = os.WriteFile(path, data, 0o600); err != nil {
		return "", errors.Wrapf(err, "failed to write transcript %s", path)
	}
	return path, nil
}

// Encode returns the record in the format
func Encode(rec *Record, format Format) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	switch format {
	case FormatJSON:
		data, err = json.MarshalIndent(rec, "", "  ")
	case FormatYAML:
		data, err = yaml.Marshal(rec)
	default:
		return nil, errors.WithMessagef(ErrUnsupportedFormat, "%q", format)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to encode transcript %s", rec.ID)
	}
	return data, nil
}

// Decode parses the record from JSON or YAML
func Decode(data []byte) (*Record, error) {
	rec := new(Record)
	// YAML is a superset of JSON
	if err := yaml.Unmarshal(data, rec); err != nil {
		return nil, errors.Wrap(err, "failed to decode transcript")
	}
	return rec, nil
}

// MemoryStore keeps the records in memory
type MemoryStore struct {
	mu      sync.RWMutex
	records []*Record
}

// NewMemoryStore returns an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Save appends the record, the location is the record ID
func (m *MemoryStore) Save(_ context.Context, rec *Record) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return rec.ID, nil
}

// Records returns the saved records in order
func (m *MemoryStore) Records() []*Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.records)
}
