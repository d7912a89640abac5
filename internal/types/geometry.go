package types

import (
	"fmt"
	"image"
)

// BoundingBox is a face rectangle in frame coordinates.
// Right and Bottom are exclusive.
type BoundingBox struct {
	Left   int `json:"left" msgpack:"left"`
	Top    int `json:"top" msgpack:"top"`
	Right  int `json:"right" msgpack:"right"`
	Bottom int `json:"bottom" msgpack:"bottom"`
}

// Width of the box in pixels
func (b BoundingBox) Width() int { return b.Right - b.Left }

// Height of the box in pixels
func (b BoundingBox) Height() int { return b.Bottom - b.Top }

// Within reports whether 0 <= left < right <= width and 0 <= top < bottom <= height.
func (b BoundingBox) Within(width, height int) bool {
	return b.Left >= 0 && b.Top >= 0 &&
		b.Left < b.Right && b.Top < b.Bottom &&
		b.Right <= width && b.Bottom <= height
}

// Rect converts the box to an image.Rectangle
func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(b.Left, b.Top, b.Right, b.Bottom)
}

func (b BoundingBox) String() string {
	return fmt.Sprintf("[%d,%d %d,%d]", b.Left, b.Top, b.Right, b.Bottom)
}

// Face is one detection reported by the face detector.
type Face struct {
	Box BoundingBox `json:"box" msgpack:"box"`
	// Score is the detector's own quality figure, not an emotion confidence
	Score float32 `json:"score" msgpack:"score"`
}
