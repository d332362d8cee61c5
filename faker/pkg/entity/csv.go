package entity

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/klauspost/compress/zstd"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
)

var idColumns = []string{"id", "entity_id", "meter_id", "device_id"}

// CSVSource reads entities from a metadata CSV. Location is a local path or
// a blob URL (file://, s3://, gs://, mem://); a ".zst" suffix means the file
// is zstd compressed.
type CSVSource struct {
	Logger    *slog.Logger
	Location  string
	Namespace string
	Table     string
}

func (s *CSVSource) List(ctx context.Context) ([]Entity, error) {
	bucketURL, key, err := SplitLocation(s.Location)
	if err != nil {
		return nil, err
	}
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open bucket %s: %w", bucketURL, err)
	}
	defer bucket.Close()

	rc, err := bucket.NewReader(ctx, key, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", s.Location, err)
	}
	defer rc.Close()

	var r io.Reader = rc
	if strings.HasSuffix(key, ".zst") {
		dec, err := zstd.NewReader(rc, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("create zstd decoder: %w", err)
		}
		defer dec.Close()
		r = dec
	}

	entities, err := ParseCSV(r, s.Namespace, s.Table)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", s.Location, err)
	}
	return Dedupe(s.Logger, entities), nil
}

// SplitLocation turns a metadata location into a bucket URL and object key.
func SplitLocation(location string) (bucketURL, key string, err error) {
	if location == "" {
		return "", "", errors.New("empty metadata location")
	}
	u, err := url.Parse(location)
	if err != nil || len(u.Scheme) < 2 {
		// Plain path; a one-letter scheme is a windows drive.
		abs, err := filepath.Abs(location)
		if err != nil {
			return "", "", err
		}
		return "file://" + filepath.ToSlash(filepath.Dir(abs)), filepath.Base(abs), nil
	}

	if u.Host == "" {
		dir, base := path.Split(u.Path)
		if base == "" {
			return "", "", fmt.Errorf("location %q has no object key", location)
		}
		out := url.URL{Scheme: u.Scheme, Path: strings.TrimSuffix(dir, "/"), RawQuery: u.RawQuery}
		if out.Path == "" {
			out.Path = "/"
		}
		return out.String(), base, nil
	}
	key = strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", "", fmt.Errorf("location %q has no object key", location)
	}
	out := url.URL{Scheme: u.Scheme, Host: u.Host, RawQuery: u.RawQuery}
	return out.String(), key, nil
}

// ParseCSV reads a header row naming an id column (id, entity_id, meter_id
// or device_id) and optional namespace and table columns. Empty namespace or
// table cells fall back to the defaults. Lines starting with '#' are skipped.
func ParseCSV(r io.Reader, namespace, table string) ([]Entity, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	idIdx, nsIdx, tableIdx := -1, -1, -1
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		switch {
		case idIdx < 0 && slices.Contains(idColumns, h):
			idIdx = i
		case h == "namespace":
			nsIdx = i
		case h == "table" || h == "table_name":
			tableIdx = i
		}
	}
	if idIdx < 0 {
		return nil, fmt.Errorf("header %v has no id column (one of %v)", header, idColumns)
	}

	var out []Entity
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		e := Entity{ID: field(rec, idIdx), Namespace: field(rec, nsIdx), Table: field(rec, tableIdx)}
		if e.ID == "" {
			continue
		}
		if e.Namespace == "" {
			e.Namespace = namespace
		}
		if e.Table == "" {
			e.Table = table
		}
		out = append(out, e)
	}
	return out, nil
}

func field(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}
