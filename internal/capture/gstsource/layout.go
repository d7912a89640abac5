package gstsource

// Layout is GStreamer's default I420 plane layout for a frame size.
// Rows are padded to 4 bytes; chroma planes cover the rounded-up half size.
type Layout struct {
	Width    int
	Height   int
	YStride  int
	UVStride int
	ChromaW  int
	ChromaH  int
	UOffset  int
	VOffset  int
	Size     int
}

func roundUp(n, to int) int {
	return (n + to - 1) / to * to
}

// I420Layout computes the layout videoconvert produces without video meta.
func I420Layout(width, height int) Layout {
	l := Layout{
		Width:    width,
		Height:   height,
		YStride:  roundUp(width, 4),
		UVStride: roundUp(roundUp(width, 2)/2, 4),
		ChromaW:  (width + 1) / 2,
		ChromaH:  roundUp(height, 2) / 2,
	}
	l.UOffset = l.YStride * roundUp(height, 2)
	l.VOffset = l.UOffset + l.UVStride*l.ChromaH
	l.Size = l.VOffset + l.UVStride*l.ChromaH
	return l
}

// Packed reports whether the layout has no row or plane padding.
func (l Layout) Packed() bool {
	return l.YStride == l.Width && l.UVStride == l.ChromaW && l.Height%2 == 0
}

// CopyPacked copies a padded I420 buffer into dst as tightly packed planes.
// Returns false if src is shorter than the layout.
func (l Layout) CopyPacked(dst, src []byte) bool {
	if len(src) < l.Size {
		return false
	}
	if l.Packed() {
		copy(dst, src)
		return true
	}

	n := 0
	for y := 0; y < l.Height; y++ {
		n += copy(dst[n:n+l.Width], src[y*l.YStride:])
	}
	for _, off := range []int{l.UOffset, l.VOffset} {
		for y := 0; y < l.ChromaH; y++ {
			row := off + y*l.UVStride
			n += copy(dst[n:n+l.ChromaW], src[row:row+l.ChromaW])
		}
	}
	return true
}
