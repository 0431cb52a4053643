package detection

// Detection represents a detected object
type Detection struct {
	Class      string    `json:"class"`
	ClassID    int       `json:"class_id"`
	Confidence float32   `json:"confidence"`
	BBox       []float32 `json:"bbox"` // [x1, y1, x2, y2]
}

// DetectionResult represents the full detection response
type DetectionResult struct {
	Detections      []Detection `json:"detections"`
	Count           int         `json:"count"`
	InferenceTimeMs float32     `json:"inference_time_ms"`
	Device          string      `json:"device"`
}

// Persons returns the person detections at or above minConfidence
func (r *DetectionResult) Persons(minConfidence float32) []Detection {
	if r == nil {
		return nil
	}
	persons := make([]Detection, 0, len(r.Detections))
	for _, d := range r.Detections {
		if d.Class != "person" || d.Confidence < minConfidence || len(d.BBox) < 4 {
			continue
		}
		persons = append(persons, d)
	}
	return persons
}
