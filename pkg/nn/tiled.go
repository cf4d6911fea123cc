package nn

import (
	"sync"

	"github.com/bmharper/tiledinference"
)

// Tiles overlap by at least this many pixels, so that an object on a seam is whole in one tile
const tileMinPadding = 32

// TiledInference runs the model over an image that may be larger than the model's input.
// The image is split into overlapping tiles of the NN input size, the tiles are processed by
// up to nThreads goroutines, and boxes that were split across tile seams are merged.
// An image that fits inside the NN input is a single tile, so this is safe on any image.
// Boxes are relative to img, and the output order does not depend on thread scheduling.
func TiledInference(model ObjectDetector, img ImageCrop, params *DetectionParams, nThreads int) ([]ObjectDetection, error) {
	config := model.Config()
	nThreads = max(nThreads, 1)

	// Clip once at the end, after merging
	tileParams := *params
	tileParams.Unclipped = true

	tiling := tiledinference.MakeTiling(img.Width(), img.Height(), config.Width, config.Height, tileMinPadding)
	tiles := make([]tileOutput, tiling.NumX*tiling.NumY)

	next := make(chan int, len(tiles))
	for i := range tiles {
		next <- i
	}
	close(next)

	var wg sync.WaitGroup
	for range min(nThreads, len(tiles)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range next {
				tiles[i] = runTile(model, &tileParams, tiling, i%tiling.NumX, i/tiling.NumX, img)
			}
		}()
	}
	wg.Wait()

	var objects []ObjectDetection
	var boxes []tiledinference.Box
	for _, t := range tiles {
		if t.err != nil {
			return nil, t.err
		}
		objects = append(objects, t.objects...)
		boxes = append(boxes, t.boxes...)
	}

	bounds := MakeRect(0, 0, img.Width(), img.Height())
	if tiling.IsSingle() {
		for i := range objects {
			objects[i].Box = objects[i].Box.Intersection(bounds)
		}
		if objects == nil {
			objects = []ObjectDetection{}
		}
		return objects, nil
	}

	groups, mergedBoxes := tiledinference.MergeBoxes(tiling, boxes, nil)
	merged := make([]ObjectDetection, 0, len(groups))
	for i, group := range groups {
		obj := objects[group[0]]
		for _, j := range group[1:] {
			obj.Confidence = max(obj.Confidence, objects[j].Confidence)
		}
		r := mergedBoxes[i].Rect
		obj.Box = Rect{X: int32(r.X1), Y: int32(r.Y1), Width: int32(r.Width()), Height: int32(r.Height())}.Intersection(bounds)
		merged = append(merged, obj)
	}
	return merged, nil
}

// Detections of one tile. objects and boxes are parallel, and in img coordinates.
type tileOutput struct {
	objects []ObjectDetection
	boxes   []tiledinference.Box
	err     error
}

func runTile(model ObjectDetector, params *DetectionParams, tiling tiledinference.Tiling, tx, ty int, img ImageCrop) tileOutput {
	tr := tiling.TileRect(tx, ty)
	objects, err := model.DetectObjects(img.Crop(int(tr.X1), int(tr.Y1), int(tr.X2), int(tr.Y2)), params)
	if err != nil {
		return tileOutput{err: err}
	}
	out := tileOutput{
		objects: objects,
		boxes:   make([]tiledinference.Box, len(objects)),
	}
	for i := range objects {
		objects[i].Box.Offset(int(tr.X1), int(tr.Y1))
		b := objects[i].Box
		out.boxes[i] = tiledinference.Box{
			Rect:  tiledinference.Rect{X1: b.X, Y1: b.Y, X2: b.X2(), Y2: b.Y2()},
			Class: int32(objects[i].Class),
			Tile:  tiling.MakeTileIndex(tx, ty),
		}
	}
	return out
}
