package types

import (
	"fmt"
	"sort"
)

// ClassID identifies a detectable object category. The universe of ids is fixed
// by the class catalog and shared by the coordinator and every worker.
type ClassID int

// Box is an axis-aligned bounding box in pixel coordinates of the source image.
type Box struct {
	X1 float64 `msgpack:"x1"`
	Y1 float64 `msgpack:"y1"`
	X2 float64 `msgpack:"x2"`
	Y2 float64 `msgpack:"y2"`
}

// Valid reports whether the box has its corners in order.
func (b Box) Valid() bool {
	return b.X2 >= b.X1 && b.Y2 >= b.Y1
}

// Detection is one detected instance of a class.
type Detection struct {
	Class      ClassID `msgpack:"class"`
	Box        Box     `msgpack:"box"`
	Confidence float64 `msgpack:"conf"` // in [0,1]
}

// DetectionMap groups detections by class id.
type DetectionMap map[ClassID][]Detection

// Classes returns the keys of the map in ascending order.
func (m DetectionMap) Classes() []ClassID {
	ids := make([]ClassID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	SortClassIDs(ids)
	return ids
}

// Count returns the total number of detections across all classes.
func (m DetectionMap) Count() int {
	n := 0
	for _, dets := range m {
		n += len(dets)
	}
	return n
}

// Assignment is the set of class ids owned by one worker for one round.
type Assignment []ClassID

// Contains reports whether id is part of the assignment.
func (a Assignment) Contains(id ClassID) bool {
	for _, c := range a {
		if c == id {
			return true
		}
	}
	return false
}

// FrameTask is one unit of work handed to a detection worker: the shared image
// and the classes it must look for.
type FrameTask struct {
	Image   []byte
	Classes Assignment
}

// Class describes one entry of the class catalog.
type Class struct {
	ID    ClassID
	Name  string
	Color [3]uint8
}

// Catalog is the fixed universe of detectable classes.
type Catalog []Class

// IDs returns every class id of the catalog in ascending order.
func (c Catalog) IDs() []ClassID {
	ids := make([]ClassID, 0, len(c))
	for _, cl := range c {
		ids = append(ids, cl.ID)
	}
	SortClassIDs(ids)
	return ids
}

// Lookup returns the catalog entry for id.
func (c Catalog) Lookup(id ClassID) (Class, bool) {
	for _, cl := range c {
		if cl.ID == id {
			return cl, true
		}
	}
	return Class{}, false
}

// Name returns the human readable name for id, falling back to "class <id>".
func (c Catalog) Name(id ClassID) string {
	if cl, ok := c.Lookup(id); ok && cl.Name != "" {
		return cl.Name
	}
	return fmt.Sprintf("class %d", id)
}

// DefaultCatalog mirrors the four COCO classes the fog deployment was built around.
func DefaultCatalog() Catalog {
	return Catalog{
		{ID: 0, Name: "Person", Color: [3]uint8{255, 0, 0}},
		{ID: 1, Name: "Bicycle", Color: [3]uint8{0, 255, 255}},
		{ID: 2, Name: "Car", Color: [3]uint8{0, 255, 0}},
		{ID: 3, Name: "Motorcycle", Color: [3]uint8{0, 0, 255}},
	}
}

// SortClassIDs sorts ids in place in ascending order.
func SortClassIDs(ids []ClassID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
