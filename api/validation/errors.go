package validation

import "errors"

var (
	ErrInvalidFileType   = errors.New("uploaded file is not an image")
	ErrFileTooLarge      = errors.New("file size exceeds limit")
	ErrUnsupportedFormat = errors.New("unsupported image format, use PNG or JPEG")
	ErrInvalidOptions    = errors.New("invalid generation options")
	ErrInvalidEmail      = errors.New("invalid email address")
)
