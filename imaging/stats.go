package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"math"

	// Frame payloads arrive as compressed still images; register the
	// decoders the capture formats produce.
	_ "image/jpeg"
	_ "image/png"
)

// ErrImageDecode indicates the frame payload could not be decoded. The
// statistics for that cycle are unavailable but the device is not broken.
var ErrImageDecode = errors.New("image decode failed")

// FrameStatistics are the per-frame photometric measurements driving the
// tuning loop. Each field is nominally in [0,255]; -1 means unavailable.
type FrameStatistics struct {
	Brightness float64
	Contrast   float64
	Saturation float64
}

// Unavailable returns the all-unavailable sentinel statistics.
func Unavailable() FrameStatistics {
	return FrameStatistics{Brightness: -1, Contrast: -1, Saturation: -1}
}

// Available reports whether every field carries a real measurement.
func (s FrameStatistics) Available() bool {
	return s.Brightness >= 0 && s.Contrast >= 0 && s.Saturation >= 0
}

// Decode parses a compressed frame payload into pixel data.
func Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageDecode, err)
	}
	return img, nil
}

// Statistics measures one decoded frame. Brightness is the mean value
// channel and saturation the mean saturation channel of a hue-saturation-
// value view, both on a 0..255 scale; contrast is the mean of the three
// per-channel standard deviations in the red-green-blue view.
func Statistics(img image.Image) FrameStatistics {
	bounds := img.Bounds()
	pixels := float64(bounds.Dx() * bounds.Dy())
	if pixels == 0 {
		return Unavailable()
	}

	var sumV, sumS float64
	var sum, sumSq [3]float64

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r32, g32, b32, _ := img.At(x, y).RGBA()
			r := float64(r32 >> 8)
			g := float64(g32 >> 8)
			b := float64(b32 >> 8)

			maxC := math.Max(r, math.Max(g, b))
			minC := math.Min(r, math.Min(g, b))
			sumV += maxC
			if maxC > 0 {
				sumS += (maxC - minC) / maxC * 255
			}

			sum[0] += r
			sum[1] += g
			sum[2] += b
			sumSq[0] += r * r
			sumSq[1] += g * g
			sumSq[2] += b * b
		}
	}

	var contrast float64
	for c := 0; c < 3; c++ {
		mean := sum[c] / pixels
		variance := sumSq[c]/pixels - mean*mean
		if variance > 0 {
			contrast += math.Sqrt(variance)
		}
	}
	contrast /= 3

	return FrameStatistics{
		Brightness: sumV / pixels,
		Contrast:   contrast,
		Saturation: sumS / pixels,
	}
}
