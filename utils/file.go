package utils

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore keeps uploads on disk. It backs avatar uploads when R2 is not
// configured; the server exposes Dir under BaseURL.
type LocalStore struct {
	Dir     string
	BaseURL string
}

func NewLocalStore(dir, baseURL string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return nil, err
	}
	return &LocalStore{Dir: dir, BaseURL: baseURL}, nil
}

// UploadFile copies the upload to Dir/key and returns its public URL.
func (s *LocalStore) UploadFile(_ context.Context, fh *multipart.FileHeader, key string) (string, error) {
	dest, err := s.path(key)
	if err != nil {
		return "", err
	}
	if err := SaveFile(fh, dest); err != nil {
		return "", err
	}
	return PublicURL(s.BaseURL, key), nil
}

func (s *LocalStore) path(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	if clean == "/" || strings.Contains(key, "..") {
		return "", errors.New("invalid upload key")
	}
	return filepath.Join(s.Dir, clean), nil
}

// SaveFile saves the uploaded file to the given destination path.
func SaveFile(fileHeader *multipart.FileHeader, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), os.ModePerm); err != nil {
		return err
	}

	file, err := fileHeader.Open()
	if err != nil {
		return err
	}
	defer file.Close()

	dst, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, file)
	return err
}
