package imaging

import (
	"image"
	"image/color"
	"image/draw"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

const (
	// defaultInsetX and defaultInsetY offset the caption from the frame
	// edge at its configured grid position.
	defaultInsetX = 10
	defaultInsetY = 6
	// fallbackInset replaces a computed position that left the frame.
	fallbackInset = 4

	dateLayout   = "02 January 2006"
	time24Layout = "15:04"
	time12Layout = "03:04"
)

// CaptionSpec describes the overlay text composited onto a frame after its
// statistics are taken.
//
// Location is a two-digit grid code. The units digit picks the column
// (2 center, 3 right, anything else left) and the tens digit the row
// (2 middle, 3 top, anything else bottom), so 33 is top-right and 11 is
// bottom-left.
type CaptionSpec struct {
	Text       string
	ShowDate   bool
	ShowTime   bool
	TwelveHour bool
	Location   int

	// Color is the text color; a zero alpha selects opaque white.
	Color color.RGBA

	// FontSize in points; zero selects 16.
	FontSize float64

	// FontPaths is an ordered list of font files. The first one that loads
	// wins; when none load a built-in bitmap face is used.
	FontPaths []string

	// InsetX and InsetY override the default edge offsets when positive.
	InsetX int
	InsetY int

	// Now supplies the timestamp for the date and time stamps. Nil means
	// the wall clock.
	Now func() time.Time
}

// render builds the final caption string.
func (c CaptionSpec) render() string {
	parts := make([]string, 0, 3)
	if c.Text != "" {
		parts = append(parts, c.Text)
	}
	if c.ShowDate || c.ShowTime {
		now := time.Now()
		if c.Now != nil {
			now = c.Now()
		}
		if c.ShowDate {
			parts = append(parts, now.Format(dateLayout))
		}
		if c.ShowTime {
			layout := time24Layout
			if c.TwelveHour {
				layout = time12Layout
			}
			parts = append(parts, now.Format(layout))
		}
	}
	return strings.Join(parts, " ")
}

// loadFace returns the first usable face from the configured font list,
// falling back to the built-in bitmap face.
func (c CaptionSpec) loadFace() font.Face {
	size := c.FontSize
	if size <= 0 {
		size = 16
	}
	for _, path := range c.FontPaths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		parsed, err := opentype.Parse(data)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "CaptionSpec.loadFace",
				"font":     path,
				"error":    err,
			}).Warn("font file unusable")
			continue
		}
		face, err := opentype.NewFace(parsed, &opentype.FaceOptions{
			Size:    size,
			DPI:     72,
			Hinting: font.HintingFull,
		})
		if err != nil {
			continue
		}
		return face
	}
	return basicfont.Face7x13
}

// Annotate composites the caption onto the frame and returns the annotated
// image. An empty rendered caption returns the input unchanged.
func Annotate(img image.Image, spec CaptionSpec) image.Image {
	text := spec.render()
	if text == "" {
		return img
	}

	bounds := img.Bounds()
	canvas := image.NewRGBA(bounds)
	draw.Draw(canvas, bounds, img, bounds.Min, draw.Src)

	col := spec.Color
	if col.A == 0 {
		col = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	}
	face := spec.loadFace()
	drawer := &font.Drawer{
		Dst:  canvas,
		Src:  image.NewUniform(col),
		Face: face,
	}

	width := drawer.MeasureString(text).Ceil()
	metrics := face.Metrics()
	ascent := metrics.Ascent.Ceil()
	descent := metrics.Descent.Ceil()

	insetX := spec.InsetX
	if insetX <= 0 {
		insetX = defaultInsetX
	}
	insetY := spec.InsetY
	if insetY <= 0 {
		insetY = defaultInsetY
	}

	var x int
	switch spec.Location % 10 {
	case 2:
		x = bounds.Min.X + (bounds.Dx()-width)/2
	case 3:
		x = bounds.Max.X - width - insetX
	default:
		x = bounds.Min.X + insetX
	}

	var y int
	switch (spec.Location / 10) % 10 {
	case 2:
		y = bounds.Min.Y + (bounds.Dy()-ascent-descent)/2 + ascent
	case 3:
		y = bounds.Min.Y + insetY + ascent
	default:
		y = bounds.Max.Y - insetY - descent
	}

	if x < bounds.Min.X || x+width > bounds.Max.X {
		x = bounds.Min.X + fallbackInset
	}
	if y-ascent < bounds.Min.Y || y+descent > bounds.Max.Y {
		y = bounds.Min.Y + fallbackInset + ascent
	}

	drawer.Dot = fixed.P(x, y)
	drawer.DrawString(text)
	return canvas
}
