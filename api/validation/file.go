package validation

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"strings"
)

type FileType string

const (
	FileTypePNG  FileType = "png"
	FileTypeJPEG FileType = "jpeg"
	FileTypeGIF  FileType = "gif"
	FileTypeWebP FileType = "webp"
)

var magicBytes = map[FileType][]byte{
	FileTypePNG:  {0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A},
	FileTypeJPEG: {0xFF, 0xD8, 0xFF},
	FileTypeGIF:  {0x47, 0x49, 0x46, 0x38},
}

// DetectFileType sniffs the leading bytes and rewinds the reader.
func DetectFileType(file io.ReadSeeker) (FileType, error) {
	buffer := make([]byte, 512)
	n, err := io.ReadFull(file, buffer)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return "", err
	}

	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", err
	}

	for fileType, signature := range magicBytes {
		if bytes.HasPrefix(buffer[:n], signature) {
			return fileType, nil
		}
	}
	if n >= 12 && bytes.Equal(buffer[0:4], []byte("RIFF")) && bytes.Equal(buffer[8:12], []byte("WEBP")) {
		return FileTypeWebP, nil
	}

	return "", ErrInvalidFileType
}

// IsAllowedImageType reports whether the generation service accepts the type.
func IsAllowedImageType(fileType FileType) bool {
	switch fileType {
	case FileTypePNG, FileTypeJPEG:
		return true
	default:
		return false
	}
}

// ValidateUpload checks the declared content type, the size limit and the
// actual content of an uploaded image.
func ValidateUpload(header *multipart.FileHeader, file io.ReadSeeker, maxSize int64) (FileType, error) {
	if !strings.HasPrefix(header.Header.Get("Content-Type"), "image/") {
		return "", ErrInvalidFileType
	}

	if header.Size > maxSize {
		return "", fmt.Errorf("%w: %d bytes, limit %d", ErrFileTooLarge, header.Size, maxSize)
	}

	fileType, err := DetectFileType(file)
	if err != nil {
		return "", err
	}
	if !IsAllowedImageType(fileType) {
		return fileType, ErrUnsupportedFormat
	}

	return fileType, nil
}
