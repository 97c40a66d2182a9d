package http

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// BuildMultipartBody encodes files (field name to path) and plain form
// fields as multipart/form-data. Relative paths resolve against baseDir and
// may not leave it. Fields are written in name order.
func BuildMultipartBody(files, fields map[string]string, baseDir string) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	for _, name := range sortedKeys(fields) {
		if err := writer.WriteField(name, fields[name]); err != nil {
			return nil, "", err
		}
	}

	for _, name := range sortedKeys(files) {
		filePath := files[name]
		if !filepath.IsAbs(filePath) && baseDir != "" {
			filePath = filepath.Join(baseDir, filePath)
			if err := validatePathWithinBase(filePath, baseDir); err != nil {
				return nil, "", err
			}
		}

		file, err := os.Open(filePath)
		if err != nil {
			return nil, "", fmt.Errorf("multipart field %q: %w", name, err)
		}

		part, err := writer.CreateFormFile(name, filepath.Base(filePath))
		if err != nil {
			file.Close()
			return nil, "", err
		}

		_, err = io.Copy(part, file)
		file.Close()
		if err != nil {
			return nil, "", err
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return body, writer.FormDataContentType(), nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// validatePathWithinBase checks that the resolved path stays within the base directory
func validatePathWithinBase(path, baseDir string) error {
	if baseDir == "" {
		return nil
	}

	cleanBase, err := filepath.Abs(baseDir)
	if err != nil {
		return fmt.Errorf("failed to resolve base directory: %v", err)
	}

	cleanPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %v", err)
	}

	if !strings.HasPrefix(cleanPath, cleanBase+string(filepath.Separator)) && cleanPath != cleanBase {
		return fmt.Errorf("path traversal detected: %s is outside allowed directory %s", path, baseDir)
	}

	return nil
}
