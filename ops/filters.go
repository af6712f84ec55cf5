package ops

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
)

// decode/encode PNG so every filter operates on a real image.Image rather
// than raw opaque bytes; PNG is lossless, which matters for invert_color's
// apply-twice-is-identity contract.

func decode(f Frame) (*image.NRGBA, error) {
	img, err := png.Decode(bytes.NewReader(f.Data))
	if err != nil {
		return nil, err
	}
	nrgba := image.NewNRGBA(img.Bounds())
	draw.Draw(nrgba, nrgba.Bounds(), img, image.Point{}, draw.Src)
	return nrgba, nil
}

func encode(img *image.NRGBA) (Frame, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return Frame{}, err
	}
	b := img.Bounds()
	return Frame{Width: b.Dx(), Height: b.Dy(), Data: buf.Bytes()}, nil
}

func applyInvertColor(src Frame, _ Args) (Frame, error) {
	img, err := decode(src)
	if err != nil {
		return Frame{}, err
	}
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := img.NRGBAAt(x, y)
			img.SetNRGBA(x, y, color.NRGBA{
				R: 255 - c.R,
				G: 255 - c.G,
				B: 255 - c.B,
				A: c.A,
			})
		}
	}
	return encode(img)
}

// reverseInvertColor mirrors OpenCVUpdateProcessor._reverse_invert_color in
// the original system: inversion is its own inverse, so the reversed
// arguments are the same operation applied again.
func reverseInvertColor(args Args) (Args, error) {
	return Args{FunctionName: args.FunctionName, Kwargs: map[string]any{}}, nil
}

func applyGrayscale(src Frame, _ Args) (Frame, error) {
	img, err := decode(src)
	if err != nil {
		return Frame{}, err
	}
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := img.NRGBAAt(x, y)
			gray := color.GrayModel.Convert(c).(color.Gray).Y
			img.SetNRGBA(x, y, color.NRGBA{R: gray, G: gray, B: gray, A: c.A})
		}
	}
	return encode(img)
}

func applyContrastBrightness(src Frame, args Args) (Frame, error) {
	img, err := decode(src)
	if err != nil {
		return Frame{}, err
	}

	contrast := floatKwarg(args, "contrast", 1.0)
	brightness := floatKwarg(args, "brightness", 0.0)

	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := img.NRGBAAt(x, y)
			img.SetNRGBA(x, y, color.NRGBA{
				R: scaleChannel(c.R, contrast, brightness),
				G: scaleChannel(c.G, contrast, brightness),
				B: scaleChannel(c.B, contrast, brightness),
				A: c.A,
			})
		}
	}
	return encode(img)
}

func applyGaussianBlur(src Frame, args Args) (Frame, error) {
	img, err := decode(src)
	if err != nil {
		return Frame{}, err
	}

	radius := intKwarg(args, "radius", 1)
	kernel := gaussianKernel(radius)

	out := image.NewNRGBA(img.Bounds())
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			var r, g, bl, a, wsum float64
			for ky := -radius; ky <= radius; ky++ {
				for kx := -radius; kx <= radius; kx++ {
					px, py := x+kx, y+ky
					if !(image.Pt(px, py).In(b)) {
						continue
					}
					w := kernel[ky+radius][kx+radius]
					c := img.NRGBAAt(px, py)
					r += float64(c.R) * w
					g += float64(c.G) * w
					bl += float64(c.B) * w
					a += float64(c.A) * w
					wsum += w
				}
			}
			out.SetNRGBA(x, y, color.NRGBA{
				R: uint8(r / wsum),
				G: uint8(g / wsum),
				B: uint8(bl / wsum),
				A: uint8(a / wsum),
			})
		}
	}
	return encode(out)
}

func applyResize(src Frame, args Args) (Frame, error) {
	img, err := decode(src)
	if err != nil {
		return Frame{}, err
	}

	newW := intKwarg(args, "width", img.Bounds().Dx())
	newH := intKwarg(args, "height", img.Bounds().Dy())
	if newW <= 0 || newH <= 0 {
		return Frame{}, nil
	}

	srcB := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, newW, newH))
	for y := 0; y < newH; y++ {
		sy := srcB.Min.Y + y*srcB.Dy()/newH
		for x := 0; x < newW; x++ {
			sx := srcB.Min.X + x*srcB.Dx()/newW
			out.SetNRGBA(x, y, img.NRGBAAt(sx, sy))
		}
	}
	return encode(out)
}

func scaleChannel(v uint8, contrast, brightness float64) uint8 {
	f := float64(v)*contrast + brightness
	if f < 0 {
		f = 0
	}
	if f > 255 {
		f = 255
	}
	return uint8(f)
}

func gaussianKernel(radius int) [][]float64 {
	size := 2*radius + 1
	sigma := float64(radius)/2 + 0.5
	kernel := make([][]float64, size)
	for i := range kernel {
		kernel[i] = make([]float64, size)
	}
	for y := -radius; y <= radius; y++ {
		for x := -radius; x <= radius; x++ {
			exp := -float64(x*x+y*y) / (2 * sigma * sigma)
			kernel[y+radius][x+radius] = math.Exp(exp) / (2 * math.Pi * sigma * sigma)
		}
	}
	return kernel
}

func floatKwarg(args Args, key string, def float64) float64 {
	v, ok := args.Kwargs[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int8:
		return float64(n)
	}
	return def
}

func intKwarg(args Args, key string, def int) int {
	v, ok := args.Kwargs[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int8:
		return int(n)
	case float64:
		return int(n)
	}
	return def
}
