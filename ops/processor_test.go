package ops

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"
)

func solidPNG(t *testing.T, c color.NRGBA) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestInvertColorIsReversible(t *testing.T) {
	p := NewProcessor()
	args := Args{FunctionName: "invert_color"}
	require.True(t, p.IsReversible(args))

	src := Frame{Width: 4, Height: 4, Data: solidPNG(t, color.NRGBA{R: 10, G: 200, B: 50, A: 255})}

	once, err := p.Apply(src, args)
	require.NoError(t, err)

	reversed, err := p.Reverse(args)
	require.NoError(t, err)

	twice, err := p.Apply(once, reversed)
	require.NoError(t, err)

	require.Equal(t, src.Data, twice.Data)
}

func TestGrayscaleIsNotReversible(t *testing.T) {
	p := NewProcessor()
	require.False(t, p.IsReversible(Args{FunctionName: "grayscale"}))

	_, err := p.Reverse(Args{FunctionName: "grayscale"})
	require.ErrorIs(t, err, ErrNotReversible)
}

func TestApplyUnknownOperation(t *testing.T) {
	p := NewProcessor()
	_, err := p.Apply(Frame{}, Args{FunctionName: "does_not_exist"})
	require.ErrorIs(t, err, ErrUnknownOperation)
}

func TestContrastBrightnessScalesChannels(t *testing.T) {
	p := NewProcessor()
	src := Frame{Width: 4, Height: 4, Data: solidPNG(t, color.NRGBA{R: 100, G: 100, B: 100, A: 255})}

	out, err := p.Apply(src, Args{FunctionName: "contrast_brightness", Kwargs: map[string]any{"contrast": 1.0, "brightness": 50.0}})
	require.NoError(t, err)
	require.NotEqual(t, src.Data, out.Data)
}
