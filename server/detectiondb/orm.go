package detectiondb

import (
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/syncdetect/pkg/sensor"
)

// BaseModel is our base class for a GORM model.
// The default GORM Model uses int, but we prefer int64
type BaseModel struct {
	ID int64 `gorm:"primaryKey" json:"id"`
}

// Detection is the result of running object detection on one color frame
type Detection struct {
	BaseModel
	Time       dbh.IntTime                 `json:"time"`       // Stamp of the color frame
	Seq        int64                       `json:"seq"`        // Sequence number of the color frame
	FrameID    string                      `json:"frameID"`    // Coordinate frame of the camera
	NumObjects int                         `json:"numObjects"` // len(Objects.Data.Objects)
	Objects    *dbh.JSONField[ObjectsJSON] `json:"objects"`    // Detected objects, with class names resolved
	ImageKey   string                      `json:"imageKey"`   // Name of the annotated frame in the archive, if it was archived
}

type ObjectsJSON struct {
	Resolution [2]int             `json:"resolution"` // Width, Height of the color frame
	Objects    []sensor.Detection `json:"objects"`
}
