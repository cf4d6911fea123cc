package nn

import (
	"fmt"
	"os"
	"strings"
)

// ObjectDetection is an object that a neural network has found in an image
type ObjectDetection struct {
	Class      int     `json:"class"`
	Confidence float32 `json:"confidence"`
	Box        Rect    `json:"box"`
}

// Name used for a class that is outside of the label index
const UnknownClassName = "N/A"

// Prefix of a label file name that refers to a built-in class list, eg "builtin:coco"
const BuiltinLabelPrefix = "builtin:"

// LabelIndex resolves NN class indices to human readable names.
// A LabelIndex is immutable once created, so it can be shared between threads.
type LabelIndex struct {
	names []string
}

// NewLabelIndex creates a label index that covers the first numClasses of 'names'.
// If numClasses is larger than len(names), then the missing classes resolve to UnknownClassName.
func NewLabelIndex(names []string, numClasses int) *LabelIndex {
	if numClasses <= 0 {
		numClasses = len(names)
	}
	idx := &LabelIndex{
		names: make([]string, numClasses),
	}
	for i := range idx.names {
		if i < len(names) {
			idx.names[i] = names[i]
		} else {
			idx.names[i] = UnknownClassName
		}
	}
	return idx
}

// LoadLabelIndex reads a label file (one class name per line), or a built-in class list
// such as "builtin:coco".
func LoadLabelIndex(labelFile string, numClasses int) (*LabelIndex, error) {
	if strings.HasPrefix(labelFile, BuiltinLabelPrefix) {
		switch strings.TrimPrefix(labelFile, BuiltinLabelPrefix) {
		case "coco":
			return NewLabelIndex(COCOClasses, numClasses), nil
		default:
			return nil, fmt.Errorf("Unknown built-in label set '%v'", labelFile)
		}
	}
	names, err := LoadClassFile(labelFile)
	if err != nil {
		return nil, fmt.Errorf("Failed to load label file '%v': %w", labelFile, err)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("Label file '%v' is empty", labelFile)
	}
	return NewLabelIndex(names, numClasses), nil
}

// Number of classes covered by the index
func (l *LabelIndex) NumClasses() int {
	return len(l.names)
}

// Name returns the name of the class, or UnknownClassName if the class is out of range
func (l *LabelIndex) Name(class int) string {
	if class < 0 || class >= len(l.names) {
		return UnknownClassName
	}
	return l.names[class]
}

// ClassOf returns the index of the named class, or -1 if the name is not in the index
func (l *LabelIndex) ClassOf(name string) int {
	for i, n := range l.names {
		if n == name {
			return i
		}
	}
	return -1
}

// LoadClassFile reads class names, one per line. Blank lines are skipped.
func LoadClassFile(filename string) ([]string, error) {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	names := []string{}
	for _, line := range strings.Split(string(raw), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}
