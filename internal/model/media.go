// Package model contains the struct definitions shared by the capture, upload
// and gallery packages.
package model

import (
	"strings"
	"time"
)

// FileType is the coarse media classification of an item.
type FileType string

const (
	FileTypeImage FileType = "image"
	FileTypeVideo FileType = "video"
)

// VideoPrefix is the declared content type prefix that marks an item as video.
const VideoPrefix = "video/"

// ClassifyContentType returns FileTypeVideo when the declared type starts with
// the video prefix and FileTypeImage for everything else.
func ClassifyContentType(contentType string) FileType {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), VideoPrefix) {
		return FileTypeVideo
	}
	return FileTypeImage
}

// StagedFile points at the bytes of a selected file on the staging disk.
type StagedFile struct {
	Path        string `json:"path"`
	Size        int64  `json:"size"`
	ContentType string `json:"contentType"`
}

// MediaItem is the client-side, pre-upload representation of one selected
// file. It only lives as long as its capture session.
type MediaItem struct {
	Index         int        `json:"index"`
	Name          string     `json:"name"`
	File          StagedFile `json:"-"`
	PreviewHandle string     `json:"previewHandle"`
	FileType      FileType   `json:"fileType"`
}

// MediaRecord is the persisted metadata entry for one uploaded file. Records
// are written once and never updated by this system.
type MediaRecord struct {
	ID           string    `json:"id"`
	URL          string    `json:"url"`
	ThumbnailURL *string   `json:"thumbnailUrl"`
	Name         string    `json:"name"`
	FileType     FileType  `json:"fileType"`
	CreatedAt    time.Time `json:"createdAt"`
	// Path and ThumbnailPath are blob store references kept for downloads.
	Path          string `json:"-"`
	ThumbnailPath string `json:"-"`
}

// HasThumbnail reports whether a generated still is attached to the record.
func (r *MediaRecord) HasThumbnail() bool {
	return r.ThumbnailURL != nil && *r.ThumbnailURL != ""
}

// ChangeKind describes what happened to a record in the collection.
type ChangeKind string

const (
	ChangeInsert ChangeKind = "insert"
	ChangeUpdate ChangeKind = "update"
	ChangeDelete ChangeKind = "delete"
)

// ChangeEvent is one push notification from the document collection.
type ChangeEvent struct {
	Kind   ChangeKind  `json:"kind"`
	Record MediaRecord `json:"record"`
}
