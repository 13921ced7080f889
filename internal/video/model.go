package video

import (
	"errors"
	"time"
)

// Status of an uploaded video file.
type Status string

const (
	StatusUploaded  Status = "uploaded"
	StatusAnalyzing Status = "analyzing"
	StatusAnalyzed  Status = "analyzed"
)

// KeyPrefix is where inference uploads live in the video bucket.
const KeyPrefix = "inference/"

var (
	ErrNotFound        = errors.New("video file not found")
	ErrNotOwner        = errors.New("video file belongs to another user")
	ErrAlreadyAnalyzed = errors.New("video file already analyzed")
	ErrInProgress      = errors.New("video file analysis in progress")
)

// File matches the video_files table schema.
type File struct {
	Key        string     `json:"key"`
	UserID     string     `json:"user_id"`
	Status     Status     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	AnalyzedAt *time.Time `json:"analyzed_at,omitempty"`
}

type RegisterRequest struct {
	FileType string `json:"fileType" validate:"required,oneof=.mp4 .mov .avi"`
}

type RegisterResponse struct {
	Key      string `json:"key"`
	FileType string `json:"file_type"`
	Status   Status `json:"status"`
}
