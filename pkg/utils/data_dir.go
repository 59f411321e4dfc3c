package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DataDir handles the on-disk organization of dataset files
type DataDir struct {
	BaseDir string
}

// NewDataDir creates a new data dir rooted at baseDir
func NewDataDir(baseDir string) *DataDir {
	return &DataDir{
		BaseDir: baseDir,
	}
}

// DatasetDir returns the directory holding every file of a dataset
func (dd *DataDir) DatasetDir(ownerType, ownerID, datasetID string) string {
	return filepath.Join(dd.BaseDir, filepath.Base(ownerType), filepath.Base(ownerID), filepath.Base(datasetID))
}

// CreateDatasetDir creates the directory of a dataset if it doesn't exist
func (dd *DataDir) CreateDatasetDir(ownerType, ownerID, datasetID string) (string, error) {
	dir := dd.DatasetDir(ownerType, ownerID, datasetID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create dataset directory: %w", err)
	}
	return dir, nil
}

// OriginalFilePath returns where the uploaded file of a dataset is kept
func (dd *DataDir) OriginalFilePath(ownerType, ownerID, datasetID, fileName string) string {
	return filepath.Join(dd.DatasetDir(ownerType, ownerID, datasetID), "raw", filepath.Base(fileName))
}

// FullFilePath returns where the extended rows of a dataset are written
func (dd *DataDir) FullFilePath(ownerType, ownerID, datasetID string) string {
	return filepath.Join(dd.DatasetDir(ownerType, ownerID, datasetID), "full.ndjson")
}

// AttachmentsDir returns where the files referenced by dataset rows are kept
func (dd *DataDir) AttachmentsDir(ownerType, ownerID, datasetID string) string {
	return filepath.Join(dd.DatasetDir(ownerType, ownerID, datasetID), "attachments")
}

// RemoveDatasetDir deletes every file of a dataset
func (dd *DataDir) RemoveDatasetDir(ownerType, ownerID, datasetID string) error {
	return os.RemoveAll(dd.DatasetDir(ownerType, ownerID, datasetID))
}

// GetMimeType determines the file type based on extension
func GetMimeType(fileName string) string {
	ext := strings.ToLower(filepath.Ext(fileName))
	switch ext {
	case ".csv":
		return "text/csv"
	case ".tsv":
		return "text/tab-separated-values"
	case ".txt":
		return "text/plain"
	case ".geojson":
		return "application/geo+json"
	case ".json":
		return "application/json"
	case ".ndjson":
		return "application/x-ndjson"
	default:
		return "application/octet-stream"
	}
}

// GetFileSize returns the size of a file in bytes
func GetFileSize(filePath string) (int64, error) {
	fileInfo, err := os.Stat(filePath)
	if err != nil {
		return 0, err
	}
	return fileInfo.Size(), nil
}

// FileExists reports whether path exists and is a regular file
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
