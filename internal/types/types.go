package types

import "fmt"

// PageSize is the fixed growth unit of every region.
const PageSize = 64 * 1024

// RegionID identifies an independently addressed region of the page store.
// Assignments are persisted implicitly by position, so the values below
// must never be renumbered.
type RegionID uint8

const (
	RegionDetectionModel RegionID = iota
	RegionRecognitionModel
	RegionEmbeddings
	RegionRecords
)

// Regions lists every region the service owns, in id order.
var Regions = []RegionID{
	RegionDetectionModel,
	RegionRecognitionModel,
	RegionEmbeddings,
	RegionRecords,
}

func (r RegionID) String() string {
	switch r {
	case RegionDetectionModel:
		return "face_detection"
	case RegionRecognitionModel:
		return "face_recognition"
	case RegionEmbeddings:
		return "embeddings"
	case RegionRecords:
		return "records"
	default:
		return fmt.Sprintf("region_%d", uint8(r))
	}
}

// ParseRegion resolves a region by its name or decimal id.
func ParseRegion(s string) (RegionID, bool) {
	for _, r := range Regions {
		if s == r.String() || s == fmt.Sprintf("%d", uint8(r)) {
			return r, true
		}
	}
	return 0, false
}

// Principal is the identity of a caller. Authentication happens outside
// the core; the value is trusted as given.
type Principal string

// Anonymous is used when a transport carries no identity.
const Anonymous Principal = "anonymous"

// BoundingBox is the detected face rectangle in image coordinates.
type BoundingBox struct {
	Left   float32 `json:"left"`
	Top    float32 `json:"top"`
	Right  float32 `json:"right"`
	Bottom float32 `json:"bottom"`
}

// Person is a recognition result: the closest known label and its score.
type Person struct {
	Label string  `json:"label"`
	Score float32 `json:"score"`
}

// RegionStats reports the logical and physical size of a region.
type RegionStats struct {
	Region RegionID
	Length uint64
	Pages  uint64
}

// Capacity returns the number of bytes the allocated pages can hold.
func (s RegionStats) Capacity() uint64 {
	return s.Pages * PageSize
}
