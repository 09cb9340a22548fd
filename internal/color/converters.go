// Copyright 2019 Lanikai Labs. All rights reserved.

// Package color converts decoded frames between raw pixel layouts.
package color

import (
	"image"

	errors "golang.org/x/xerrors"

	"github.com/lanikai/alohadec/internal/decoder"
)

// ErrUnsupported is returned for layouts without a converter.
var ErrUnsupported = errors.New("color: unsupported conversion")

// I420Size returns the size of a planar 4:2:0 frame.
func I420Size(width, height int) int {
	cw, ch := (width+1)/2, (height+1)/2
	return width*height + 2*cw*ch
}

// NewI420 wraps a planar 4:2:0 buffer as an image.
func NewI420(buf []byte, r image.Rectangle) *image.YCbCr {
	w, h := r.Dx(), r.Dy()
	cw, ch := (w+1)/2, (h+1)/2
	return &image.YCbCr{
		Y:              buf[:w*h],
		Cb:             buf[w*h : w*h+cw*ch],
		Cr:             buf[w*h+cw*ch : w*h+2*cw*ch],
		YStride:        w,
		CStride:        cw,
		SubsampleRatio: image.YCbCrSubsampleRatio420,
		Rect:           r,
	}
}

type YUYV struct {
	Packed []uint8
	Rect   image.Rectangle
	Stride int
}

// NewYUYV allocates and returns a YUYV image
func NewYUYV(r image.Rectangle) *YUYV {
	return &YUYV{
		Packed: make([]byte, 2*r.Dx()*r.Dy()),
		Rect:   r,
		Stride: 2 * r.Dx(),
	}
}

// YUYVToYUV420P converts YUYV (i.e. YUY2) packed to YUV420 planar format.
// Chroma is taken from the even rows.
func YUYVToYUV420P(dst *image.YCbCr, src *YUYV) {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	for row := 0; row < h; row++ {
		line := src.Packed[row*src.Stride:]
		y := dst.Y[row*dst.YStride:]
		for col := 0; col < w; col++ {
			y[col] = line[2*col]
		}
		if row%2 != 0 {
			continue
		}
		cb := dst.Cb[row/2*dst.CStride:]
		cr := dst.Cr[row/2*dst.CStride:]
		for col := 0; col < w/2; col++ {
			cb[col] = line[4*col+1]
			cr[col] = line[4*col+3]
		}
	}
}

// semiPlanarToYUV420P splits the interleaved chroma plane of NV12 (cbFirst)
// or NV21.
func semiPlanarToYUV420P(dst *image.YCbCr, src []byte, cbFirst bool) {
	w, h := dst.Rect.Dx(), dst.Rect.Dy()
	copy(dst.Y, src[:w*h])

	uv := src[w*h:]
	cw, ch := (w+1)/2, (h+1)/2
	for row := 0; row < ch; row++ {
		line := uv[row*2*cw:]
		for col := 0; col < cw; col++ {
			u, v := line[2*col], line[2*col+1]
			if !cbFirst {
				u, v = v, u
			}
			dst.Cb[row*dst.CStride+col] = u
			dst.Cr[row*dst.CStride+col] = v
		}
	}
}

// ToI420 converts a tightly packed frame of the given layout to planar
// 4:2:0, writing into dst if it is large enough.
func ToI420(dst, src []byte, f decoder.PixelFormat, width, height int) ([]byte, error) {
	size := I420Size(width, height)
	if cap(dst) < size {
		dst = make([]byte, size)
	}
	dst = dst[:size]

	r := image.Rect(0, 0, width, height)
	img := NewI420(dst, r)
	luma, chroma := width*height, (width+1)/2*((height+1)/2)

	switch f {
	case decoder.I420:
		if len(src) < size {
			return nil, errors.Errorf("color: short %v frame (%d < %d bytes)", f, len(src), size)
		}
		copy(dst, src[:size])
	case decoder.YV12:
		if len(src) < size {
			return nil, errors.Errorf("color: short %v frame (%d < %d bytes)", f, len(src), size)
		}
		copy(img.Y, src[:luma])
		copy(img.Cr, src[luma:luma+chroma])
		copy(img.Cb, src[luma+chroma:])
	case decoder.NV12, decoder.NV21:
		if len(src) < size {
			return nil, errors.Errorf("color: short %v frame (%d < %d bytes)", f, len(src), size)
		}
		semiPlanarToYUV420P(img, src, f == decoder.NV12)
	case decoder.YUYV:
		if len(src) < 2*width*height {
			return nil, errors.Errorf("color: short %v frame (%d < %d bytes)", f, len(src), 2*width*height)
		}
		YUYVToYUV420P(img, &YUYV{Packed: src, Rect: r, Stride: 2 * width})
	default:
		return nil, errors.Errorf("%v: %w", f, ErrUnsupported)
	}
	return dst, nil
}
