package imaging

import (
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"strings"

	_ "golang.org/x/image/tiff"

	"sectionvolume/pkg/errs"
)

// Channel is one color channel of an RGB section image.
type Channel int

const (
	Red Channel = iota
	Green
	Blue
)

func (c Channel) String() string {
	switch c {
	case Red:
		return "red"
	case Green:
		return "green"
	case Blue:
		return "blue"
	}
	return fmt.Sprintf("Channel(%d)", int(c))
}

// ParseChannel accepts "red", "green" or "blue".
func ParseChannel(s string) (Channel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "red":
		return Red, nil
	case "green":
		return Green, nil
	case "blue":
		return Blue, nil
	}
	return 0, fmt.Errorf("unknown channel %q (want red, green or blue)", s)
}

// FromChannel converts one channel of img into a 2D Uint8 image with unit
// spacing and zero origin. Row 0 of img is y index 0.
func FromChannel(img image.Image, ch Channel) (*Image, error) {
	b := img.Bounds()
	out, err := New(Uint8, b.Dx(), b.Dy())
	if err != nil {
		return nil, err
	}
	for y := 0; y < b.Dy(); y++ {
		row := out.data[y*b.Dx() : (y+1)*b.Dx()]
		for x := 0; x < b.Dx(); x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			var v uint32
			switch ch {
			case Red:
				v = r
			case Green:
				v = g
			default:
				v = bl
			}
			row[x] = float32(v >> 8)
		}
	}
	return out, nil
}

// ReadSection decodes a section image file and returns the chosen channel.
// A missing or unreadable file is an errs.NotFound error.
func ReadSection(path string, ch Channel) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errs.Wrap(errs.NotFound, path, err)
		}
		return nil, errs.Wrap(errs.NotFound, path, fmt.Errorf("unreadable: %w", err))
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, errs.Wrap(errs.NotFound, path, fmt.Errorf("cannot decode image: %w", err))
	}
	return FromChannel(img, ch)
}

// InvertIntensity replaces every value v with max - v, where max is the
// upper end of the pixel type range (255 for Uint8). Float images use the
// largest value present.
func InvertIntensity(im *Image) {
	max := 0.0
	if im.ptype.Integral() {
		_, max = im.ptype.Range()
	} else {
		for _, v := range im.data {
			if float64(v) > max {
				max = float64(v)
			}
		}
	}
	for i, v := range im.data {
		im.data[i] = im.ptype.Cast(max - float64(v))
	}
}
