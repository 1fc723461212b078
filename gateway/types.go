package gateway

import (
	"strings"
	"time"
)

// GenerateResult is returned by the generate stage.
type GenerateResult struct {
	Filename string `json:"filename"`
}

// ProcessResult is returned by the process stage. Older backends report the
// produced file as csvFile.
type ProcessResult struct {
	Filename string `json:"filename"`
	CSVFile  string `json:"csvFile,omitempty"`
}

// File returns whichever filename field the backend filled in.
func (r ProcessResult) File() string {
	if r.Filename != "" {
		return r.Filename
	}
	return r.CSVFile
}

// UploadResult is returned by the upload stage.
type UploadResult struct {
	Count           *int `json:"count,omitempty"`
	RecordsInserted *int `json:"recordsInserted,omitempty"`
}

// Inserted returns the inserted row count.
func (r UploadResult) Inserted() int {
	switch {
	case r.Count != nil:
		return *r.Count
	case r.RecordsInserted != nil:
		return *r.RecordsInserted
	}
	return 0
}

// Student is one persisted record.
type Student struct {
	ID           int64   `json:"id"`
	StudentID    string  `json:"studentId"`
	FirstName    string  `json:"firstName"`
	LastName     string  `json:"lastName"`
	DOB          string  `json:"dob"`
	StudentClass string  `json:"studentClass"`
	Score        float64 `json:"score"`
}

// FullName joins first and last name.
func (s Student) FullName() string {
	return strings.TrimSpace(s.FirstName + " " + s.LastName)
}

// StudentPage is one page of the students listing.
type StudentPage struct {
	Content       []Student `json:"content"`
	TotalElements int64     `json:"totalElements"`
}

// StudentQuery selects a page of students.
type StudentQuery struct {
	Page   int
	Size   int
	Search string
	Class  string
}

// Analytics is the dashboard summary.
type Analytics struct {
	TotalStudents     int64            `json:"totalStudents"`
	AverageScore      float64          `json:"averageScore"`
	HighestScore      float64          `json:"highestScore"`
	LowestScore       float64          `json:"lowestScore"`
	ClassDistribution map[string]int64 `json:"classDistribution"`
	RecentRecords     []Student        `json:"recentRecords"`
}

// ExportFormat names a download format.
type ExportFormat string

const (
	ExportExcel ExportFormat = "excel"
	ExportCSV   ExportFormat = "csv"
	ExportPDF   ExportFormat = "pdf"
)

// Extension returns the file extension used for saved exports.
func (f ExportFormat) Extension() string {
	if f == ExportExcel {
		return "xlsx"
	}
	return string(f)
}

// Valid reports whether f is a supported format.
func (f ExportFormat) Valid() bool {
	switch f {
	case ExportExcel, ExportCSV, ExportPDF:
		return true
	}
	return false
}

// ExportFilter narrows an export.
type ExportFilter struct {
	Search string
	Class  string
}

// NotificationType is the pipeline stage a notification refers to.
type NotificationType string

const (
	NotificationGeneration NotificationType = "GENERATION"
	NotificationProcessing NotificationType = "PROCESSING"
	NotificationUpload     NotificationType = "UPLOAD"
)

// Notification is a backend-owned notification.
type Notification struct {
	ID        int64            `json:"id"`
	Type      NotificationType `json:"type"`
	Message   string           `json:"message"`
	Details   string           `json:"details"`
	Read      bool             `json:"read"`
	CreatedAt string           `json:"createdAt"`
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// Created parses CreatedAt, which the backend may send without a zone.
func (n Notification) Created() (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, n.CreatedAt); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// Component is the part of the system a changelog entry touches.
type Component string

const (
	ComponentFrontend Component = "FRONTEND"
	ComponentBackend  Component = "BACKEND"
	ComponentGeneral  Component = "GENERAL"
)

// ChangelogEntry is one release note.
type ChangelogEntry struct {
	ID          int64     `json:"id"`
	Version     string    `json:"version"`
	ReleaseDate string    `json:"releaseDate"`
	Changes     string    `json:"changes"`
	Component   Component `json:"component"`
}

// FeatureRequest is submitted from the home page.
type FeatureRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Email       string `json:"email"`
}
