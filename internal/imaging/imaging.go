// Package imaging turns uploaded medicine photos into the square JPEGs shown
// on inventory cards.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"

	"golang.org/x/image/draw"
)

// CardSize is the edge length of a stored card photo.
const CardSize = 480

// MaxUploadBytes caps how much of an upload is read.
const MaxUploadBytes = 8 << 20

// JPEGQuality is the compression quality of stored photos.
const JPEGQuality = 80

var (
	// ErrTooLarge is returned for uploads over MaxUploadBytes.
	ErrTooLarge = errors.New("image exceeds upload limit")

	// ErrUnsupportedFormat is returned for anything but JPEG and PNG.
	ErrUnsupportedFormat = errors.New("unsupported image format, use JPEG or PNG")
)

var accepted = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
}

// Photo is a processed card photo.
type Photo struct {
	Data []byte
	MIME string
}

// CardPhoto reads an upload, checks its real type, crops it to the centred
// square and scales that down to CardSize. Output is always JPEG.
func CardPhoto(r io.Reader) (*Photo, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxUploadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading upload: %w", err)
	}
	if len(data) > MaxUploadBytes {
		return nil, ErrTooLarge
	}

	if mime := http.DetectContentType(data); !accepted[mime] {
		return nil, fmt.Errorf("%w: got %s", ErrUnsupportedFormat, mime)
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}

	card := fitSquare(src, CardSize)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, card, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, fmt.Errorf("encoding JPEG: %w", err)
	}
	return &Photo{Data: buf.Bytes(), MIME: "image/jpeg"}, nil
}

// centerSquare returns the largest centred square inside r.
func centerSquare(r image.Rectangle) image.Rectangle {
	side := min(r.Dx(), r.Dy())
	x0 := r.Min.X + (r.Dx()-side)/2
	y0 := r.Min.Y + (r.Dy()-side)/2
	return image.Rect(x0, y0, x0+side, y0+side)
}

// fitSquare crops src to its centred square and scales it to at most size
// pixels a side. Small squares keep their size.
func fitSquare(src image.Image, size int) image.Image {
	crop := centerSquare(src.Bounds())
	side := min(crop.Dx(), size)

	dst := image.NewRGBA(image.Rect(0, 0, side, side))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, crop, draw.Over, nil)
	return dst
}

func init() {
	image.RegisterFormat("jpeg", "\xff\xd8", jpeg.Decode, jpeg.DecodeConfig)
	image.RegisterFormat("png", "\x89PNG", png.Decode, png.DecodeConfig)
}
