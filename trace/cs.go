package trace

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sort"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/iterator"
)

// CSRepository stores traces as {prefix}{trace_id}.json objects in a Cloud
// Storage bucket.
type CSRepository struct {
	bucket string
	prefix string
	client *storage.Client
}

// NewCSRepository creates a CSRepository with application default credentials.
func NewCSRepository(ctx context.Context, bucket, prefix string) (*CSRepository, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create Cloud Storage client")
	}
	return &CSRepository{
		bucket: bucket,
		prefix: prefix,
		client: client,
	}, nil
}

// Close releases the storage client.
func (r *CSRepository) Close() error {
	return r.client.Close()
}

func (r *CSRepository) objectName(traceID string) string {
	return r.prefix + traceID + ".json"
}

func (r *CSRepository) Save(ctx context.Context, trace *Trace) error {
	data, err := json.Marshal(trace)
	if err != nil {
		return goerr.Wrap(err, "failed to marshal trace")
	}

	name := r.objectName(trace.TraceID)
	w := r.client.Bucket(r.bucket).Object(name).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return goerr.Wrap(err, "failed to write trace object",
			goerr.V("bucket", r.bucket),
			goerr.V("object", name),
		)
	}
	if err := w.Close(); err != nil {
		return goerr.Wrap(err, "failed to finalize trace object",
			goerr.V("bucket", r.bucket),
			goerr.V("object", name),
		)
	}
	return nil
}

func (r *CSRepository) Get(ctx context.Context, traceID string) (*Trace, error) {
	name := r.objectName(traceID)
	reader, err := r.client.Bucket(r.bucket).Object(name).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, goerr.Wrap(ErrTraceNotFound, "no trace object", goerr.V("object", name))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read trace object",
			goerr.V("bucket", r.bucket),
			goerr.V("object", name),
		)
	}
	defer func() { _ = reader.Close() }()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read trace data", goerr.V("object", name))
	}

	var t Trace
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, goerr.Wrap(err, "failed to parse trace data", goerr.V("object", name))
	}
	return &t, nil
}

func (r *CSRepository) List(ctx context.Context) ([]string, error) {
	it := r.client.Bucket(r.bucket).Objects(ctx, &storage.Query{Prefix: r.prefix})

	var ids []string
	for {
		attr, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to list trace objects",
				goerr.V("bucket", r.bucket),
				goerr.V("prefix", r.prefix),
			)
		}

		name := strings.TrimPrefix(attr.Name, r.prefix)
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		// skip directory-like entries
		if id == "" || strings.Contains(id, "/") {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

var (
	_ Repository = (*FileRepository)(nil)
	_ Repository = (*CSRepository)(nil)
)
