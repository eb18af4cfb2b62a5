package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/gif"
	"path"
	"regexp"
	"strings"

	"github.com/disintegration/imaging"
	"golang.org/x/image/webp"
)

// OriginalKeyPattern matches the storage namespace all originals must
// live under: albums/<albumID>/original/<name>.
var OriginalKeyPattern = regexp.MustCompile(`^albums/[^/]+/original/`)

// MIMEJPEG is the content type of every derivative this package emits.
const MIMEJPEG = "image/jpeg"

// ThumbExt is the extension of every derivative.
const ThumbExt = ".jpg"

// Config for thumbnail normalization.
type Config struct {
	MaxSide int // longest side of the derivative (default 960)
	Quality int // JPEG quality 1-100 (default 82)
}

// DefaultConfig returns the default normalization config.
func DefaultConfig() Config {
	return Config{
		MaxSide: 960,
		Quality: 82,
	}
}

// Derivative is the single normalized representation of an original.
type Derivative struct {
	Data   []byte
	Width  int
	Height int
	MIME   string
}

// AnimatedError marks a multi-frame source. The pipeline produces only
// static derivatives, so these are terminal.
type AnimatedError struct {
	Format string
}

func (e *AnimatedError) Error() string {
	return fmt.Sprintf("animated_%s_not_supported", e.Format)
}

// Processor normalizes uploaded originals into thumbnails.
type Processor struct {
	config Config
}

// NewProcessor creates a thumbnail processor.
func NewProcessor(config Config) *Processor {
	if config.MaxSide <= 0 {
		config.MaxSide = DefaultConfig().MaxSide
	}
	if config.Quality <= 0 || config.Quality > 100 {
		config.Quality = DefaultConfig().Quality
	}
	return &Processor{config: config}
}

// Normalize decodes an original, rejects animated sources, applies the
// embedded orientation, fits the image inside MaxSide x MaxSide without
// upscaling and re-encodes as baseline JPEG. Re-encoding drops the
// orientation tag along with the rest of the metadata.
func (p *Processor) Normalize(data []byte) (*Derivative, error) {
	if format, animated := animatedFormat(data); animated {
		return nil, &AnimatedError{Format: format}
	}

	img, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	img = applyOrientation(img, orientationOf(data))

	// Fit scales down only; smaller images pass through unchanged.
	img = imaging.Fit(img, p.config.MaxSide, p.config.MaxSide, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(p.config.Quality)); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}

	return &Derivative{
		Data:   buf.Bytes(),
		Width:  img.Bounds().Dx(),
		Height: img.Bounds().Dy(),
		MIME:   MIMEJPEG,
	}, nil
}

// decode tries the standard decoders first, then a webp salvage pass
// for sources the registered formats cannot handle.
func decode(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err == nil {
		return img, nil
	}

	if salvaged, werr := webp.Decode(bytes.NewReader(data)); werr == nil {
		return salvaged, nil
	}
	return nil, err
}

// animatedFormat detects multi-frame GIF and animated WebP from the
// raw bytes before any decode work happens.
func animatedFormat(data []byte) (string, bool) {
	if bytes.HasPrefix(data, []byte("GIF8")) {
		g, err := gif.DecodeAll(bytes.NewReader(data))
		if err == nil && len(g.Image) > 1 {
			return "gif", true
		}
		return "", false
	}

	// RIFF....WEBP with a VP8X chunk carrying the animation flag.
	if len(data) >= 21 &&
		bytes.Equal(data[0:4], []byte("RIFF")) &&
		bytes.Equal(data[8:12], []byte("WEBP")) &&
		bytes.Equal(data[12:16], []byte("VP8X")) &&
		data[20]&0x02 != 0 {
		return "webp", true
	}

	return "", false
}

// ThumbKey derives the derivative's storage key from the original's:
// the original path segment becomes thumb and the extension becomes
// the derivative extension.
func ThumbKey(keyOriginal string) string {
	dir, name := path.Split(keyOriginal)
	dir = strings.Replace(dir, "/original/", "/thumb/", 1)
	return dir + strings.TrimSuffix(name, path.Ext(name)) + ThumbExt
}
