package launcher

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// extractBundle unpacks a function's zip bundle into targetDir so the
// container can mount it as its task root
func extractBundle(data []byte, targetDir string) error {
	reader := bytes.NewReader(data)
	zipReader, err := zip.NewReader(reader, int64(len(data)))
	if err != nil {
		return fmt.Errorf("failed to read bundle: %w", err)
	}

	for _, file := range zipReader.File {
		if err := extractFile(file, targetDir); err != nil {
			return err
		}
	}

	return nil
}

func extractFile(file *zip.File, targetDir string) error {
	targetPath := filepath.Join(targetDir, file.Name)

	// Prevent directory traversal out of the staging dir
	if !filepath.HasPrefix(targetPath, filepath.Clean(targetDir)+string(os.PathSeparator)) {
		return fmt.Errorf("invalid file path in bundle: %s", file.Name)
	}

	if file.FileInfo().IsDir() {
		return os.MkdirAll(targetPath, file.Mode())
	}

	if err := os.MkdirAll(filepath.Dir(targetPath), 0755); err != nil {
		return err
	}

	srcFile, err := file.Open()
	if err != nil {
		return err
	}
	defer srcFile.Close()

	dstFile, err := os.OpenFile(targetPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, file.Mode())
	if err != nil {
		return err
	}
	defer dstFile.Close()

	_, err = io.Copy(dstFile, srcFile)
	return err
}
