package sensor

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Messages travel over the wire as CBOR

var decMode cbor.DecMode

func init() {
	var err error
	decMode, err = cbor.DecOptions{
		MaxByteStringLen: 256 * 1024 * 1024,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// Marshal encodes any of our messages into CBOR
func Marshal(msg any) ([]byte, error) {
	return cbor.Marshal(msg)
}

func UnmarshalImage(b []byte) (*Image, error) {
	m := &Image{}
	if err := decMode.Unmarshal(b, m); err != nil {
		return nil, fmt.Errorf("Invalid image message: %w", err)
	}
	if m.Width < 0 || m.Height < 0 || m.Step < 0 {
		return nil, fmt.Errorf("Invalid image dimensions %v x %v, step %v", m.Width, m.Height, m.Step)
	}
	if err := m.checkLimits(); err != nil {
		return nil, err
	}
	return m, nil
}

func UnmarshalPointCloud(b []byte) (*PointCloud, error) {
	c := &PointCloud{}
	if err := decMode.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("Invalid point cloud message: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func UnmarshalDetectionArray(b []byte) (*DetectionArray, error) {
	d := &DetectionArray{}
	if err := decMode.Unmarshal(b, d); err != nil {
		return nil, fmt.Errorf("Invalid detection message: %w", err)
	}
	return d, nil
}
