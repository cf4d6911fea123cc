package sensor

import "github.com/cyclopcam/syncdetect/pkg/nn"

// Detection is a single detected object, as published on the detections channel
type Detection struct {
	Label      string  `cbor:"label" json:"label"`           // Human readable class name
	ClassID    int     `cbor:"classID" json:"classID"`       // Index of the class in the label index
	Confidence float32 `cbor:"confidence" json:"confidence"` // 0..1
	Box        nn.Rect `cbor:"box" json:"box"`               // In pixels of the color frame
}

// DetectionArray is all of the objects detected in one color frame.
// The header is copied from the color frame.
type DetectionArray struct {
	Header      Header      `cbor:"header" json:"header"`
	ImageWidth  int         `cbor:"imageWidth" json:"imageWidth"`
	ImageHeight int         `cbor:"imageHeight" json:"imageHeight"`
	Detections  []Detection `cbor:"detections" json:"detections"`
}

// MakeDetectionArray builds the message from a detection result, resolving class names through 'labels'
func MakeDetectionArray(header Header, result *nn.DetectionResult, labels *nn.LabelIndex) *DetectionArray {
	msg := &DetectionArray{
		Header:      header,
		ImageWidth:  result.ImageWidth,
		ImageHeight: result.ImageHeight,
		Detections:  make([]Detection, 0, len(result.Objects)),
	}
	for _, obj := range result.Objects {
		msg.Detections = append(msg.Detections, Detection{
			Label:      labels.Name(obj.Class),
			ClassID:    obj.Class,
			Confidence: obj.Confidence,
			Box:        obj.Box,
		})
	}
	return msg
}
