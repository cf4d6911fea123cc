package sensor

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Data type of a single element of a point field
type FieldType uint8

const (
	FieldInt8    FieldType = 1
	FieldUint8   FieldType = 2
	FieldInt16   FieldType = 3
	FieldUint16  FieldType = 4
	FieldInt32   FieldType = 5
	FieldUint32  FieldType = 6
	FieldFloat32 FieldType = 7
	FieldFloat64 FieldType = 8
)

// Size in bytes of one element of the field type
func (f FieldType) Size() int {
	switch f {
	case FieldInt8, FieldUint8:
		return 1
	case FieldInt16, FieldUint16:
		return 2
	case FieldInt32, FieldUint32, FieldFloat32:
		return 4
	case FieldFloat64:
		return 8
	}
	return 0
}

// Limits on incoming point clouds
const (
	MaxCloudSide      = 1 << 24
	MaxCloudPointStep = 1 << 12
	MaxCloudRowStep   = MaxCloudSide * 16
)

// PointField describes one attribute of each point (eg "x", or "intensity")
type PointField struct {
	Name     string    `cbor:"name" json:"name"`
	Offset   int       `cbor:"offset" json:"offset"`
	Datatype FieldType `cbor:"datatype" json:"datatype"`
	Count    int       `cbor:"count" json:"count"`
}

// PointCloud is an unordered (Height == 1) or organized (Height > 1) collection of 3D points.
// Points are packed into Data, with PointStep bytes per point, and RowStep bytes per row.
type PointCloud struct {
	Header    Header       `cbor:"header" json:"header"`
	Width     int          `cbor:"width" json:"width"`
	Height    int          `cbor:"height" json:"height"`
	Fields    []PointField `cbor:"fields" json:"fields"`
	PointStep int          `cbor:"pointStep" json:"pointStep"`
	RowStep   int          `cbor:"rowStep" json:"rowStep"`
	IsDense   bool         `cbor:"isDense" json:"isDense"`
	Data      []byte       `cbor:"data" json:"-"`
}

// Clone returns a deep copy of the point cloud
func (c *PointCloud) Clone() *PointCloud {
	n := *c
	if c.Fields != nil {
		n.Fields = append([]PointField(nil), c.Fields...)
	}
	if c.Data != nil {
		n.Data = make([]byte, len(c.Data))
		copy(n.Data, c.Data)
	}
	return &n
}

// validate checks the layout of a cloud that arrived over the wire
func (c *PointCloud) validate() error {
	if c.Width < 0 || c.Height < 0 || c.PointStep < 0 || c.RowStep < 0 {
		return fmt.Errorf("Invalid point cloud dimensions %v x %v, point step %v, row step %v", c.Width, c.Height, c.PointStep, c.RowStep)
	}
	if c.Width > MaxCloudSide || c.Height > MaxCloudSide || c.PointStep > MaxCloudPointStep || c.RowStep > MaxCloudRowStep {
		return fmt.Errorf("Point cloud is too large: %v x %v, point step %v, row step %v", c.Width, c.Height, c.PointStep, c.RowStep)
	}
	for _, f := range c.Fields {
		if f.Offset < 0 || f.Offset > c.PointStep {
			return fmt.Errorf("Point field '%v' has offset %v outside of point step %v", f.Name, f.Offset, c.PointStep)
		}
	}
	return nil
}

func (c *PointCloud) NumPoints() int {
	return c.Width * c.Height
}

func (c *PointCloud) IsEmpty() bool {
	return c.NumPoints() == 0 || len(c.Data) == 0
}

// Field returns the named field, or nil
func (c *PointCloud) Field(name string) *PointField {
	for i := range c.Fields {
		if c.Fields[i].Name == name {
			return &c.Fields[i]
		}
	}
	return nil
}

// XYZ returns the position of point i, which must have float32 x,y,z fields
func (c *PointCloud) XYZ(i int) (x, y, z float32, err error) {
	if i < 0 || i >= c.NumPoints() {
		return 0, 0, 0, fmt.Errorf("Point %v out of range (%v points)", i, c.NumPoints())
	}
	row := i / c.Width
	col := i % c.Width
	base := row*c.RowStep + col*c.PointStep
	var v [3]float32
	for k, name := range []string{"x", "y", "z"} {
		f := c.Field(name)
		if f == nil || f.Datatype != FieldFloat32 {
			return 0, 0, 0, fmt.Errorf("Point cloud has no float32 '%v' field", name)
		}
		at := base + f.Offset
		if at < 0 || at+4 > len(c.Data) {
			return 0, 0, 0, fmt.Errorf("Point %v is truncated", i)
		}
		v[k] = math.Float32frombits(binary.LittleEndian.Uint32(c.Data[at:]))
	}
	return v[0], v[1], v[2], nil
}

// NewPointCloudXYZ packs an unordered list of points into a PointCloud with float32 x,y,z fields
func NewPointCloudXYZ(header Header, points [][3]float32) *PointCloud {
	const pointStep = 12
	c := &PointCloud{
		Header: header,
		Width:  len(points),
		Height: 1,
		Fields: []PointField{
			{Name: "x", Offset: 0, Datatype: FieldFloat32, Count: 1},
			{Name: "y", Offset: 4, Datatype: FieldFloat32, Count: 1},
			{Name: "z", Offset: 8, Datatype: FieldFloat32, Count: 1},
		},
		PointStep: pointStep,
		RowStep:   pointStep * len(points),
		IsDense:   true,
		Data:      make([]byte, pointStep*len(points)),
	}
	for i, p := range points {
		for k := 0; k < 3; k++ {
			binary.LittleEndian.PutUint32(c.Data[i*pointStep+k*4:], math.Float32bits(p[k]))
		}
	}
	return c
}
