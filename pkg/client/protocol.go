package client

import (
	"encoding/json"
	"time"
)

// DefaultSubjectPrefix is where the server's responder listens.
const DefaultSubjectPrefix = "artgate.api"

// Headers carrying caller identity and binary-request parameters.
const (
	HeaderPrincipal  = "Artgate-Principal"
	HeaderSubmission = "Artgate-Submission"
	HeaderIndex      = "Artgate-Index"
	HeaderLabel      = "Artgate-Label"
)

// Operation names, appended to the subject prefix.
const (
	OpStart       = "submissions.start"
	OpChunk       = "submissions.chunk"
	OpFinalize    = "submissions.finalize"
	OpSubmission  = "submissions.get"
	OpDetect      = "submissions.detect"
	OpVerify      = "submissions.verify"
	OpEnroll      = "faces.enroll"
	OpEnrollImage = "faces.enroll_image"
	OpRemoveFace  = "faces.remove"
	OpFaces       = "faces.list"
	OpFaceCount   = "faces.count"
	OpRecord      = "records.get"
	OpRecords     = "records.list"
	OpRecordCount = "records.count"
	OpRegions     = "regions.stats"
)

// Response is the reply envelope. Exactly one of Result or Error is set.
type Response struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
	Code   string          `json:"code,omitempty"`
}

type IDRequest struct {
	ID uint64 `json:"id"`
}

type LabelRequest struct {
	Label string `json:"label"`
}

type FinalizeRequest struct {
	ID       uint64 `json:"id"`
	MIMEType string `json:"mime_type"`
	Size     uint64 `json:"size"`
	SHA256   string `json:"sha256,omitempty"` // hex
}

type EnrollRequest struct {
	Label  string    `json:"label"`
	Vector []float32 `json:"vector"`
}

type ListRecordsRequest struct {
	Images bool `json:"images"`
}

type StartResult struct {
	ID uint64 `json:"id"`
}

type ChunkResult struct {
	Stored bool `json:"stored"`
}

type FinalizeResult struct {
	Finalized bool `json:"finalized"`
}

type VerifyResult struct {
	RecordID uint64 `json:"record_id"`
}

type EnrollResult struct {
	Label  string    `json:"label"`
	Vector []float32 `json:"vector"`
}

type LabelsResult struct {
	Labels []string `json:"labels"`
}

type CountResult struct {
	Count int `json:"count"`
}

// BoundingBox is the detected face rectangle.
type BoundingBox struct {
	Left   float32 `json:"left"`
	Top    float32 `json:"top"`
	Right  float32 `json:"right"`
	Bottom float32 `json:"bottom"`
}

// Record is an approved artwork.
type Record struct {
	ID           uint64    `json:"id"`
	Creator      string    `json:"creator"`
	Image        []byte    `json:"image,omitempty"`
	MIMEType     string    `json:"mime_type"`
	ApprovedAt   time.Time `json:"approved_at"`
	Score        float32   `json:"score"`
	SubmissionID uint64    `json:"submission_id"`
	RecognizedAs string    `json:"recognized_as"`
}

// Submission describes an open upload.
type Submission struct {
	ID        uint64 `json:"id"`
	Creator   string `json:"creator"`
	Chunks    int    `json:"chunks"`
	Size      uint64 `json:"size"`
	Finalized bool   `json:"finalized"`
	Metadata  struct {
		MIMEType string `json:"mime_type"`
		Size     uint64 `json:"size"`
		SHA256   []byte `json:"sha256,omitempty"`
	} `json:"metadata"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Region is one row of region statistics.
type Region struct {
	ID     uint8  `json:"id"`
	Name   string `json:"name"`
	Length uint64 `json:"length"`
	Pages  uint64 `json:"pages"`
}
