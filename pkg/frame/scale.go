package frame

import "fmt"

// Scale resamples planar src into dst. Shrinking averages the covered source
// area (box filter); enlarging repeats the nearest sample. Both frames must
// use the same planar format.
func Scale(dst, src *VideoFrame) error {
	if !src.Format.IsPlanar() || dst.Format != src.Format {
		return fmt.Errorf("%w: scale %v to %v", ErrUnsupportedFormat, src.Format, dst.Format)
	}
	bps := src.Format.BytesPerSample()
	if err := checkGeometry(src, bps, 0); err != nil {
		return err
	}
	if err := checkGeometry(dst, bps, 0); err != nil {
		return err
	}

	for p := 0; p < 3; p++ {
		sw, sh, dw, dh := src.Width, src.Height, dst.Width, dst.Height
		if p > 0 {
			sw, sh, dw, dh = sw/2, sh/2, dw/2, dh/2
		}
		if bps == 1 {
			scalePlane(dst.Data[p], src.Data[p], dw, dh, dst.Stride[p], sw, sh, src.Stride[p])
		} else {
			d := samples16(dst.Data[p])
			scalePlane(d, samples16(src.Data[p]), dw, dh, dst.Stride[p]/2, sw, sh, src.Stride[p]/2)
			store16(dst.Data[p], d)
		}
	}
	dst.PTS = src.PTS
	return nil
}

// scalePlane maps each destination sample to the source rectangle
// [x0,x1)x[y0,y1) and stores its average. Strides are in samples.
func scalePlane[T sample](dst, src []T, dstW, dstH, dstStride, srcW, srcH, srcStride int) {
	for dy := 0; dy < dstH; dy++ {
		y0 := dy * srcH / dstH
		y1 := max((dy+1)*srcH/dstH, y0+1)
		row := dst[dy*dstStride : dy*dstStride+dstW]

		for dx := range row {
			x0 := dx * srcW / dstW
			x1 := max((dx+1)*srcW/dstW, x0+1)

			var sum uint32
			for sy := y0; sy < y1; sy++ {
				for _, v := range src[sy*srcStride+x0 : sy*srcStride+x1] {
					sum += uint32(v)
				}
			}
			row[dx] = T(sum / uint32((y1-y0)*(x1-x0)))
		}
	}
}
