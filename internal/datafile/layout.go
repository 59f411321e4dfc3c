package datafile

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"go-dataset-pipeline/internal/model"
	"go-dataset-pipeline/pkg/utils"

	"github.com/pkg/errors"
)

var (
	_ RowReader = (*CSVReader)(nil)
	_ RowReader = (*NDJSONReader)(nil)
)

// Layout resolves where the files of a dataset live.
type Layout struct {
	Dir *utils.DataDir
}

// NewLayout returns a Layout rooted at baseDir.
func NewLayout(baseDir string) Layout {
	return Layout{Dir: utils.NewDataDir(baseDir)}
}

// Original returns the path of the raw file of d.
func (l Layout) Original(d *model.Dataset) string {
	name := ""
	if d.File != nil {
		name = d.File.Name
	}
	return l.Dir.OriginalFilePath(string(d.Owner.Type), d.Owner.ID, d.ID, name)
}

// Full returns the path of the extended rows of d.
func (l Layout) Full(d *model.Dataset) string {
	return l.Dir.FullFilePath(string(d.Owner.Type), d.Owner.ID, d.ID)
}

// HasFull reports whether the extension stage wrote rows for d.
func (l Layout) HasFull(d *model.Dataset) bool {
	return utils.FileExists(l.Full(d))
}

// RemoveFull deletes the extended rows of d, if any.
func (l Layout) RemoveFull(d *model.Dataset) error {
	err := os.Remove(l.Full(d))
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "removing extended file")
	}
	return nil
}

// Attachments lists the attachment file paths of d, relative to its
// attachments directory.
func (l Layout) Attachments(d *model.Dataset) (map[string]bool, error) {
	root := l.Dir.AttachmentsDir(string(d.Owner.Type), d.Owner.ID, d.ID)
	out := make(map[string]bool)
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == root {
				return filepath.SkipDir
			}
			return err
		}
		if entry.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		out[filepath.ToSlash(rel)] = true
		return nil
	})
	return out, errors.Wrap(err, "listing attachments")
}

// Remove deletes every file of d.
func (l Layout) Remove(d *model.Dataset) error {
	return errors.Wrap(l.Dir.RemoveDatasetDir(string(d.Owner.Type), d.Owner.ID, d.ID), "removing dataset files")
}

// Prepare creates the directories of d and returns the raw file path.
func (l Layout) Prepare(d *model.Dataset) (string, error) {
	path := l.Original(d)
	if _, err := l.Dir.CreateDatasetDir(string(d.Owner.Type), d.Owner.ID, d.ID); err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", errors.Wrap(err, "creating raw directory")
	}
	return path, nil
}

// WriteOriginal stores the content of r as the raw file name of d and
// returns the description of that file. A previous raw file of d with
// another name and the extended rows are removed.
func (l Layout) WriteOriginal(d *model.Dataset, name string, r io.Reader) (*model.File, error) {
	next := d.Clone()
	next.File = &model.File{Name: filepath.Base(name)}
	dst, err := l.Prepare(next)
	if err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return nil, errors.Wrap(err, "creating raw file")
	}
	size, err := io.Copy(tmp, r)
	if err == nil {
		err = tmp.Close()
	} else {
		tmp.Close()
	}
	if err != nil {
		os.Remove(tmp.Name())
		return nil, errors.Wrap(err, "writing raw file")
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return nil, errors.Wrap(err, "committing raw file")
	}
	next.File.Size = size

	if d.File != nil {
		if prev := l.Original(d); prev != dst {
			if err := os.Remove(prev); err != nil && !os.IsNotExist(err) {
				return nil, errors.Wrap(err, "removing previous raw file")
			}
		}
	}
	if err := l.RemoveFull(d); err != nil {
		return nil, err
	}
	return next.File, nil
}

// OpenRows reads the extended rows of d when they exist, the raw file otherwise.
func (l Layout) OpenRows(d *model.Dataset) (RowReader, error) {
	if l.HasFull(d) {
		r, err := OpenNDJSON(l.Full(d))
		if err != nil {
			return nil, err
		}
		return r, nil
	}
	if d.File == nil {
		return nil, errors.Errorf("dataset %s has no file", d.ID)
	}
	r, err := OpenCSV(l.Original(d), d.File)
	if err != nil {
		return nil, err
	}
	return r, nil
}
