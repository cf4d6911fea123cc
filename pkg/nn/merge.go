package nn

import (
	flatbush "github.com/bmharper/flatbush-go"
)

// Scan all pairs of objects in 'input', and if they have a high IoU, and their classes are specified in 'mergeMap',
// then merge them into a single object.
// Returns the list of objects that should be retained.
// The map {"truck": "car"} means that a truck overlapping a car is deleted, and the car is kept.
func MergeSimilarObjects(input []ObjectDetection, mergeMap map[string]string, labels *LabelIndex, minIoU float32) []ObjectDetection {
	if len(mergeMap) == 0 || len(input) < 2 {
		return input
	}

	// Spatial index to avoid O(N^2) comparisons
	fb := flatbush.NewFlatbush[int32]()
	fb.Reserve(len(input))
	for _, b := range input {
		fb.Add(b.Box.X, b.Box.Y, b.Box.X2(), b.Box.Y2())
	}
	fb.Finish()

	deleted := map[int]bool{}
	nChanged := 1

	for nChanged != 0 {
		nChanged = 0
		for i, in := range input {
			if deleted[i] {
				continue
			}
			expectOtherClass, ok := mergeMap[labels.Name(in.Class)]
			if !ok {
				continue
			}
			for _, j := range fb.Search(in.Box.X, in.Box.Y, in.Box.X2(), in.Box.Y2()) {
				if i == j || deleted[j] {
					continue
				}
				if labels.Name(input[j].Class) != expectOtherClass {
					continue
				}
				if in.Box.IOU(input[j].Box) >= minIoU {
					deleted[i] = true
					nChanged++
					break
				}
			}
		}
	}

	retain := make([]ObjectDetection, 0, len(input))
	for i := range input {
		if !deleted[i] {
			retain = append(retain, input[i])
		}
	}
	return retain
}
