package imaging

import (
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
)

// ErrImageSave indicates the frame could not be written to its destination.
var ErrImageSave = errors.New("image save failed")

// Save writes the image in the format implied by the path's extension.
// Quality (0..100) is forwarded to formats that accept one; out-of-range
// values select the encoder default.
func Save(img image.Image, path string, quality int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrImageSave, err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		opts := &jpeg.Options{Quality: jpeg.DefaultQuality}
		if quality >= 0 && quality <= 100 {
			opts.Quality = quality
		}
		err = jpeg.Encode(f, img, opts)
	case ".png":
		err = png.Encode(f, img)
	default:
		err = fmt.Errorf("unsupported extension %q", filepath.Ext(path))
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrImageSave, path, err)
	}
	return nil
}

// SaveRaw writes the frame payload bytes verbatim, bypassing decode and
// re-encode entirely.
func SaveRaw(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("%w: %v", ErrImageSave, err)
	}
	return nil
}
