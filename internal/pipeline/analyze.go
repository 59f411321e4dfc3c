package pipeline

import (
	"context"
	"log/slog"

	"go-dataset-pipeline/internal/datafile"
	"go-dataset-pipeline/internal/model"
	"go-dataset-pipeline/internal/store"
	"go-dataset-pipeline/pkg/utils"

	"github.com/pkg/errors"
)

// AnalyzeStage reads the head of the raw file to detect its encoding and
// delimiter and builds the raw per-column schema from its header.
type AnalyzeStage struct {
	Layout datafile.Layout
	Logger *slog.Logger
}

func (s *AnalyzeStage) Name() string         { return StageAnalyze }
func (s *AnalyzeStage) Filter() store.Filter { return Filters()[StageAnalyze] }

func (s *AnalyzeStage) Process(ctx context.Context, d *model.Dataset) (*model.Patch, error) {
	if d.File == nil {
		return nil, model.Fatal(errors.Wrapf(model.ErrInvalidInput, "dataset %s has no file", d.ID))
	}
	path := s.Layout.Original(d)
	head, err := datafile.Head(path)
	if err != nil {
		return nil, err
	}

	file := *d.File
	file.Encoding = datafile.SniffEncoding(head)
	file.Props.Delimiter = string(datafile.SniffDelimiter(head))
	file.Props.Header = true
	file.Schema = nil
	if file.MimeType == "" {
		file.MimeType = utils.GetMimeType(file.Name)
	}
	if size, err := utils.GetFileSize(path); err == nil {
		file.Size = size
	}

	r, err := datafile.OpenCSV(path, &file)
	if err != nil {
		return nil, model.Fatal(err)
	}
	header := r.Header()
	r.Close()
	if len(header) == 0 {
		return nil, model.Fatal(errors.Wrap(model.ErrInvalidInput, "file has no header"))
	}

	keys := utils.UniqueKeys(header)
	file.Schema = make([]model.Field, len(header))
	for i, h := range header {
		file.Schema[i] = model.Field{Key: keys[i], Type: model.TypeString, OriginalName: h}
	}

	// rows extended from a previous version of the file are stale
	if err := s.Layout.RemoveFull(d); err != nil {
		return nil, err
	}

	s.logger().DebugContext(ctx, "file analyzed", "dataset", d.ID,
		"encoding", file.Encoding, "delimiter", file.Props.Delimiter, "columns", len(header))
	return &model.Patch{Status: model.StatusAnalyzed, File: &file}, nil
}

func (s *AnalyzeStage) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}
