package pipeline

import (
	"context"
	"io"
	"log/slog"
	"math/rand/v2"

	"go-dataset-pipeline/internal/datafile"
	"go-dataset-pipeline/internal/model"
	"go-dataset-pipeline/internal/store"

	"github.com/pkg/errors"
)

const (
	// DefaultSampleSize is the number of rows the schematizer samples
	DefaultSampleSize = 4000
	// maxDistinctValues caps the values kept per field while sampling
	maxDistinctValues = 1000
)

// SchematizeStage infers field types on a random sample of the raw rows
// and merges the result into the published schema.
type SchematizeStage struct {
	Layout     datafile.Layout
	Sniffer    Sniffer
	SampleSize int
	Logger     *slog.Logger
}

func (s *SchematizeStage) Name() string         { return StageSchematize }
func (s *SchematizeStage) Filter() store.Filter { return Filters()[StageSchematize] }

func (s *SchematizeStage) Process(ctx context.Context, d *model.Dataset) (*model.Patch, error) {
	if d.File == nil {
		return nil, model.Fatal(errors.Wrapf(model.ErrInvalidInput, "dataset %s has no file", d.ID))
	}
	size := s.SampleSize
	if size <= 0 {
		size = DefaultSampleSize
	}
	r, err := datafile.OpenCSV(s.Layout.Original(d), d.File)
	if err != nil {
		return nil, err
	}
	sample, err := reservoir(ctx, r, size+1)
	r.Close()
	if err != nil {
		return nil, err
	}
	if len(sample) == 0 {
		return nil, model.Fatal(errors.Wrapf(model.ErrEmptySample, "dataset %s", d.ID))
	}

	// the held-out row fixes the field set together with the sample
	values := make(map[string]map[string]bool)
	for _, row := range sample {
		for k, v := range row {
			set, ok := values[k]
			if !ok {
				set = make(map[string]bool)
				values[k] = set
			}
			if len(set) < maxDistinctValues {
				set[toString(v)] = true
			}
		}
	}

	attachments, err := s.Layout.Attachments(d)
	if err != nil {
		return nil, err
	}
	sniffer := s.Sniffer
	if sniffer == nil {
		sniffer = DefaultSniffer{}
	}

	file := *d.File
	file.Schema = model.CloneSchema(d.File.Schema)
	for key, set := range values {
		i := fieldIndex(file.Schema, key)
		if i < 0 {
			return nil, model.Fatal(errors.Wrapf(model.ErrUnknownField, "field %q found in data but absent from the file schema", key))
		}
		list := make([]string, 0, len(set))
		for v := range set {
			list = append(list, v)
		}
		sniffed := sniffer.Sniff(list, attachments)
		f := &file.Schema[i]
		f.Type, f.Format = sniffed.Type, sniffed.Format
		if sniffed.RefersTo != "" {
			f.RefersTo = sniffed.RefersTo
		}
	}

	s.logger().DebugContext(ctx, "schema inferred", "dataset", d.ID, "sample", len(sample), "fields", len(values))
	return &model.Patch{
		Status: model.StatusSchematized,
		File:   &file,
		Schema: MergeSchema(d.Schema, file.Schema),
	}, nil
}

func (s *SchematizeStage) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// MergeSchema merges the raw file schema into the published schema:
// extension fields are kept, fields gone from the file are dropped, new
// file fields are appended and changed types or formats are updated.
// Titles and other published metadata are kept.
func MergeSchema(published, file []model.Field) []model.Field {
	out := make([]model.Field, 0, len(published)+len(file))
	for _, f := range model.CloneSchema(published) {
		if f.Extension != "" {
			out = append(out, f)
			continue
		}
		i := fieldIndex(file, f.Key)
		if i < 0 {
			continue
		}
		f.Type, f.Format = file[i].Type, file[i].Format
		out = append(out, f)
	}
	for _, f := range model.CloneSchema(file) {
		if fieldIndex(out, f.Key) < 0 {
			out = append(out, f)
		}
	}
	return out
}

func fieldIndex(schema []model.Field, key string) int {
	for i := range schema {
		if schema[i].Key == key {
			return i
		}
	}
	return -1
}

// reservoir draws a uniform random sample of up to size rows.
func reservoir(ctx context.Context, r datafile.RowReader, size int) ([]datafile.Row, error) {
	sample := make([]datafile.Row, 0, size)
	for seen := 0; ; seen++ {
		if seen%1000 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		row, err := r.Next()
		if err == io.EOF {
			return sample, nil
		}
		if err != nil {
			return nil, err
		}
		if len(sample) < size {
			sample = append(sample, row)
		} else if j := rand.IntN(seen + 1); j < size {
			sample[j] = row
		}
	}
}
