// Package session defines the ingestion session model: one record per
// uploaded file, its closed status enums, and the transition table every
// mutation is validated against.
package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackzampolin/scoreshelf/internal/parts"
)

// ParseStatus tracks the first pass.
type ParseStatus string

const (
	ParseAwaiting ParseStatus = "AWAITING_PARSE"
	ParseParsing  ParseStatus = "PARSING"
	ParseParsed   ParseStatus = "PARSED"
	ParseFailed   ParseStatus = "FAILED"
)

// SecondPassStatus tracks verification. The zero value means no second pass
// has ever been requested.
type SecondPassStatus string

const (
	SecondPassNone     SecondPassStatus = ""
	SecondPassQueued   SecondPassStatus = "QUEUED"
	SecondPassRunning  SecondPassStatus = "RUNNING"
	SecondPassVerified SecondPassStatus = "VERIFIED"
	SecondPassFailed   SecondPassStatus = "FAILED"
)

// MarshalJSON renders the none status as null.
func (s SecondPassStatus) MarshalJSON() ([]byte, error) {
	if s == SecondPassNone {
		return []byte("null"), nil
	}
	return json.Marshal(string(s))
}

// UnmarshalJSON accepts null as the none status.
func (s *SecondPassStatus) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*s = SecondPassNone
		return nil
	}
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	parsed, err := ParseSecondPassStatus(v)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ReviewStatus tracks human or automatic approval.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "PENDING_REVIEW"
	ReviewApproved ReviewStatus = "APPROVED"
	ReviewRejected ReviewStatus = "REJECTED"
)

// RoutingDecision records why a session went where it did.
type RoutingDecision string

const (
	RouteAutoApprove             RoutingDecision = "auto_approve"
	RouteNoParseSecondPass       RoutingDecision = "no_parse_second_pass"
	RouteLowConfidenceSecondPass RoutingDecision = "low_confidence_second_pass"
	RouteManualReview            RoutingDecision = "manual_review"
)

// ParseParseStatus validates s as a ParseStatus.
func ParseParseStatus(s string) (ParseStatus, error) {
	switch p := ParseStatus(s); p {
	case ParseAwaiting, ParseParsing, ParseParsed, ParseFailed:
		return p, nil
	}
	return "", fmt.Errorf("unknown parse status %q", s)
}

// ParseSecondPassStatus validates s as a SecondPassStatus. The empty string
// is valid and means none.
func ParseSecondPassStatus(s string) (SecondPassStatus, error) {
	switch p := SecondPassStatus(s); p {
	case SecondPassNone, SecondPassQueued, SecondPassRunning, SecondPassVerified, SecondPassFailed:
		return p, nil
	}
	return "", fmt.Errorf("unknown second pass status %q", s)
}

// ParseReviewStatus validates s as a ReviewStatus.
func ParseReviewStatus(s string) (ReviewStatus, error) {
	switch r := ReviewStatus(s); r {
	case ReviewPending, ReviewApproved, ReviewRejected:
		return r, nil
	}
	return "", fmt.Errorf("unknown review status %q", s)
}

// Metadata is what extraction learned about the piece.
type Metadata struct {
	Title           string   `json:"title,omitempty"`
	Composer        string   `json:"composer,omitempty"`
	Arranger        string   `json:"arranger,omitempty"`
	Publisher       string   `json:"publisher,omitempty"`
	InstrumentHints []string `json:"instrumentHints,omitempty"`
	Notes           []string `json:"notes,omitempty"`
}

// CuttingInstruction is one page range of the split plan. Pages are 1-based
// and inclusive.
type CuttingInstruction struct {
	Label     string `json:"label"`
	PageStart int    `json:"pageStart"`
	PageEnd   int    `json:"pageEnd"`
}

// Part is a materialized split part.
type Part struct {
	Instrument    string         `json:"instrument"`
	PartName      string         `json:"partName"`
	Chair         string         `json:"chair,omitempty"`
	Section       string         `json:"section,omitempty"`
	Transposition string         `json:"transposition,omitempty"`
	PartType      parts.PartType `json:"partType"`
	PageStart     int            `json:"pageStart"`
	PageEnd       int            `json:"pageEnd"`
	StorageKey    string         `json:"storageKey"`
	FileName      string         `json:"fileName"`
	FileSize      int64          `json:"fileSize,omitempty"`
}

// PageCount returns the number of pages in the part.
func (p Part) PageCount() int {
	if p.PageEnd < p.PageStart {
		return 0
	}
	return p.PageEnd - p.PageStart + 1
}

// Session is one ingestion attempt for one uploaded file.
type Session struct {
	ID         string `json:"sessionId"`
	StorageKey string `json:"storageKey"`
	FileName   string `json:"fileName"`
	FileSize   int64  `json:"fileSize"`
	MimeType   string `json:"mimeType"`

	ParseStatus      ParseStatus      `json:"parseStatus"`
	SecondPassStatus SecondPassStatus `json:"secondPassStatus"`
	ReviewStatus     ReviewStatus     `json:"reviewStatus"`

	Metadata            Metadata             `json:"extractedMetadata"`
	ConfidenceScore     int                  `json:"confidenceScore"`
	RoutingDecision     RoutingDecision      `json:"routingDecision,omitempty"`
	Parts               []Part               `json:"parsedParts"`
	CuttingInstructions []CuttingInstruction `json:"cuttingInstructions"`
	PageCount           int                  `json:"pageCount,omitempty"`
	AutoApproved        bool                 `json:"autoApproved"`

	FirstPassJobID  string `json:"firstPassJobId,omitempty"`
	SecondPassJobID string `json:"secondPassJobId,omitempty"`
	LastError       string `json:"lastError,omitempty"`
	RejectReason    string `json:"rejectReason,omitempty"`

	UploadedBy string     `json:"uploadedBy"`
	ReviewedBy string     `json:"reviewedBy,omitempty"`
	ReviewedAt *time.Time `json:"reviewedAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// New returns a session for a freshly uploaded file.
func New(id, storageKey, fileName string, size int64, mimeType, uploadedBy string, now time.Time) *Session {
	return &Session{
		ID:           id,
		StorageKey:   storageKey,
		FileName:     fileName,
		FileSize:     size,
		MimeType:     mimeType,
		ParseStatus:  ParseAwaiting,
		ReviewStatus: ReviewPending,
		Parts:        []Part{},
		UploadedBy:   uploadedBy,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// HasPart reports whether storageKey belongs to one of the session's parts
// or is the original upload.
func (s *Session) HasPart(storageKey string) bool {
	if storageKey == "" {
		return false
	}
	if storageKey == s.StorageKey {
		return true
	}
	for _, p := range s.Parts {
		if p.StorageKey == storageKey {
			return true
		}
	}
	return false
}
