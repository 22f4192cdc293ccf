package media

import (
	"os"
	"time"

	"github.com/rwcarlsen/goexif/exif"
)

// TakenTime reads the EXIF capture time (DateTimeOriginal, falling back to
// DateTime) of the image at path. Returns nil for non-images, files without
// EXIF, or unreadable files — the caller falls back to other ordering.
func TakenTime(path string) *time.Time {
	if Detect(path) != FileTypeImage {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if err != nil {
		return nil // no EXIF — not an error
	}
	t, err := x.DateTime()
	if err != nil {
		return nil
	}
	return &t
}

// Orientation returns the EXIF orientation tag value (1–8), or 1 (normal)
// when absent. Thumbnail rendering uses it to rotate camera images upright.
func Orientation(path string) int {
	f, err := os.Open(path)
	if err != nil {
		return 1
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	v, err := tag.Int(0)
	if err != nil || v < 1 || v > 8 {
		return 1
	}
	return v
}
