package utils

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Amirkhan012/yatube/config"
)

// Image uploads larger than this are rejected outright.
const maxImageSize = 10 * 1024 * 1024

var (
	// ErrNotImage is returned when the uploaded bytes do not sniff as an image.
	ErrNotImage = errors.New("uploaded file is not an image")
	// ErrImageTooLarge is returned when the upload exceeds the size limit.
	ErrImageTooLarge = errors.New("image exceeds size limit")
)

// SaveImage validates an uploaded file as an image and stores it under the
// media directory, returning the public URL. Content is sniffed, not
// trusted from the filename or declared content type.
func SaveImage(fh *multipart.FileHeader) (string, error) {
	if fh.Size > maxImageSize {
		return "", ErrImageTooLarge
	}

	src, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()

	head := make([]byte, 512)
	n, err := io.ReadFull(src, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", err
	}
	head = head[:n]
	if !strings.HasPrefix(http.DetectContentType(head), "image/") {
		return "", ErrNotImage
	}

	now := time.Now()
	relDir := filepath.Join("posts", now.Format("2006"), now.Format("01"), now.Format("02"))
	baseDir := filepath.Join(config.Get().MediaDir, relDir)
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return "", err
	}

	ext := strings.ToLower(filepath.Ext(filepath.Base(fh.Filename)))
	name := uuid.NewString() + ext
	dstPath := filepath.Join(baseDir, name)

	dst, err := os.Create(dstPath)
	if err != nil {
		return "", err
	}
	defer dst.Close()

	if _, err := dst.Write(head); err != nil {
		_ = os.Remove(dstPath)
		return "", err
	}
	if _, err := io.Copy(dst, io.LimitReader(src, maxImageSize)); err != nil {
		_ = os.Remove(dstPath)
		return "", err
	}

	return fmt.Sprintf("/media/%s/%s", filepath.ToSlash(relDir), name), nil
}
