package types

import "time"

// ConfidenceThreshold is the minimum confidence (exclusive) for a score to be published.
const ConfidenceThreshold float32 = 0.30

// Label is one of the seven emotion classes the model predicts.
type Label string

const (
	LabelAngry    Label = "angry"
	LabelDisgust  Label = "disgust"
	LabelFear     Label = "fear"
	LabelHappy    Label = "happy"
	LabelNeutral  Label = "neutral"
	LabelSad      Label = "sad"
	LabelSurprise Label = "surprise"
)

// Labels is the model's output order. Output index i maps to Labels[i].
var Labels = [...]Label{
	LabelAngry,
	LabelDisgust,
	LabelFear,
	LabelHappy,
	LabelNeutral,
	LabelSad,
	LabelSurprise,
}

// EmotionScore pairs a label with its confidence in [0,1].
type EmotionScore struct {
	Label      Label   `json:"label" msgpack:"label"`
	Confidence float32 `json:"confidence" msgpack:"confidence"`
}

// Snapshot is one published result list.
//
// Results is never mutated after publication; publishers replace the whole snapshot.
type Snapshot struct {
	Results []EmotionScore `json:"results" msgpack:"results"`
	// Seq is the frame sequence that produced the list (0 for a clear)
	Seq uint64 `json:"seq" msgpack:"seq"`
	// Faces is how many faces contributed to Results
	Faces   int       `json:"faces" msgpack:"faces"`
	TraceID string    `json:"trace_id,omitempty" msgpack:"trace_id,omitempty"`
	At      time.Time `json:"at" msgpack:"at"`
}
