// Package ops is the update processor (C2): it applies named frame filter
// operations and reports/exploits their reversibility. It stands in for the
// out-of-scope "image operation library" named in spec.md §1 — concrete
// operations are implemented with Go's standard image/color packages, since
// no third-party imaging library appears anywhere in the example pack this
// module was grounded on (see DESIGN.md).
package ops

import (
	"errors"
	"fmt"
)

// ErrNotReversible is returned by Reverse when the named operation has no
// inverse.
var ErrNotReversible = errors.New("ops: operation is not reversible")

// ErrUnknownOperation is returned by Apply when the operation name is not
// registered. IsReversible reports false for such a name, and Reverse
// returns ErrNotReversible.
var ErrUnknownOperation = errors.New("ops: unknown operation")

// Frame is one frame's opaque image bytes together with its pixel
// dimensions, since several operations (grayscale, contrast) need to
// interpret the bytes as an image.
type Frame struct {
	Width  int
	Height int
	Data   []byte
}

// Args is the minimal view of catalog.UpdateArgs the processor needs: the
// operation name and its named parameters. Kept decoupled from package
// catalog so ops has no import cycle with the packages that depend on it.
type Args struct {
	FunctionName string
	Kwargs       map[string]any
}

type applyFunc func(Frame, Args) (Frame, error)
type reverseFunc func(Args) (Args, error)

// Processor applies named frame operations and knows which are reversible.
type Processor struct {
	apply    map[string]applyFunc
	reversed map[string]reverseFunc
}

// NewProcessor returns a processor wired with the built-in filter library:
// invert_color (reversible), grayscale, gaussian_blur, contrast_brightness
// and resize (none of these last four are reversible).
func NewProcessor() *Processor {
	p := &Processor{
		apply:    map[string]applyFunc{},
		reversed: map[string]reverseFunc{},
	}

	p.apply["invert_color"] = applyInvertColor
	p.apply["grayscale"] = applyGrayscale
	p.apply["gaussian_blur"] = applyGaussianBlur
	p.apply["contrast_brightness"] = applyContrastBrightness
	p.apply["resize"] = applyResize

	p.reversed["invert_color"] = reverseInvertColor

	return p
}

// Apply runs the named operation over the source frame.
func (p *Processor) Apply(src Frame, args Args) (Frame, error) {
	fn, ok := p.apply[args.FunctionName]
	if !ok {
		return Frame{}, fmt.Errorf("%w: %s", ErrUnknownOperation, args.FunctionName)
	}
	return fn(src, args)
}

// IsReversible reports whether args names an operation this processor can
// invert.
func (p *Processor) IsReversible(args Args) bool {
	_, ok := p.reversed[args.FunctionName]
	return ok
}

// Reverse returns args' such that Apply(Apply(x, args), args') == x for
// every frame x, or ErrNotReversible if args names a non-reversible
// operation.
func (p *Processor) Reverse(args Args) (Args, error) {
	fn, ok := p.reversed[args.FunctionName]
	if !ok {
		return Args{}, fmt.Errorf("%w: %s", ErrNotReversible, args.FunctionName)
	}
	return fn(args)
}
