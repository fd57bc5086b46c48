package trace

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

var ErrTraceNotFound = goerr.New("trace not found")

// Repository is the interface for persisting trace data.
type Repository interface {
	Save(ctx context.Context, trace *Trace) error
	Get(ctx context.Context, traceID string) (*Trace, error)
	// List returns stored trace IDs in lexical order. With UUIDv7 episode IDs
	// this is also creation order.
	List(ctx context.Context) ([]string, error)
}

// FileRepository persists trace data as JSON files.
type FileRepository struct {
	dir string
}

// NewFileRepository creates a new FileRepository that writes to the given directory.
func NewFileRepository(dir string) *FileRepository {
	return &FileRepository{dir: dir}
}

// Save writes the trace as JSON to {dir}/{trace_id}.json.
func (r *FileRepository) Save(_ context.Context, trace *Trace) error {
	if err := os.MkdirAll(r.dir, 0750); err != nil {
		return goerr.Wrap(err, "failed to create trace directory", goerr.V("dir", r.dir))
	}

	data, err := json.MarshalIndent(trace, "", "  ")
	if err != nil {
		return goerr.Wrap(err, "failed to marshal trace")
	}

	filePath := filepath.Join(r.dir, trace.TraceID+".json")
	if err := os.WriteFile(filePath, data, 0600); err != nil {
		return goerr.Wrap(err, "failed to write trace file", goerr.V("path", filePath))
	}

	return nil
}

// Get reads {dir}/{trace_id}.json.
func (r *FileRepository) Get(_ context.Context, traceID string) (*Trace, error) {
	if traceID == "" || strings.ContainsAny(traceID, `/\`) || strings.Contains(traceID, "..") {
		return nil, goerr.Wrap(ErrTraceNotFound, "invalid trace id", goerr.V("trace_id", traceID))
	}

	filePath := filepath.Join(r.dir, traceID+".json")
	data, err := os.ReadFile(filePath) // #nosec G304
	if os.IsNotExist(err) {
		return nil, goerr.Wrap(ErrTraceNotFound, "no trace file", goerr.V("path", filePath))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read trace file", goerr.V("path", filePath))
	}

	var t Trace
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, goerr.Wrap(err, "failed to parse trace file", goerr.V("path", filePath))
	}
	return &t, nil
}

// List returns the IDs of all trace files in the directory.
func (r *FileRepository) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read trace directory", goerr.V("dir", r.dir))
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}
