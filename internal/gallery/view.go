// Package gallery keeps a live, newest-first view of the media collection
// and fans it out to connected viewers.
package gallery

import (
	"time"

	"github.com/ArmandoV15/wedding-photo-gallery/internal/model"
	"github.com/ArmandoV15/wedding-photo-gallery/internal/repository"
)

// Tile is one grid cell. Src is what the grid shows: the image itself, the
// video's thumbnail, or nothing when Placeholder is set.
type Tile struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	FileType    model.FileType `json:"fileType"`
	Src         string         `json:"src,omitempty"`
	Placeholder bool           `json:"placeholder"`
	MediaURL    string         `json:"mediaUrl"`
	PreviewURL  string         `json:"previewUrl"`
	DownloadURL string         `json:"downloadUrl"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// View is the folded state of the collection.
type View struct {
	records map[string]model.MediaRecord
}

// NewView seeds a view from a snapshot.
func NewView(snapshot []model.MediaRecord) *View {
	v := &View{records: make(map[string]model.MediaRecord, len(snapshot))}
	for _, rec := range snapshot {
		v.records[rec.ID] = rec
	}
	return v
}

// Apply folds one change into the view and reports whether it changed.
func (v *View) Apply(ev model.ChangeEvent) bool {
	switch ev.Kind {
	case model.ChangeInsert, model.ChangeUpdate:
		if ev.Record.ID == "" {
			return false
		}
		v.records[ev.Record.ID] = ev.Record
		return true
	case model.ChangeDelete:
		if _, ok := v.records[ev.Record.ID]; !ok {
			return false
		}
		delete(v.records, ev.Record.ID)
		return true
	default:
		return false
	}
}

// Len is the number of records in view.
func (v *View) Len() int {
	return len(v.records)
}

// Records returns the records newest first, ties broken by id.
func (v *View) Records() []model.MediaRecord {
	out := make([]model.MediaRecord, 0, len(v.records))
	for _, rec := range v.records {
		out = append(out, rec)
	}
	repository.SortNewestFirst(out)
	return out
}

// Tiles renders the ordered grid.
func (v *View) Tiles() []Tile {
	records := v.Records()
	tiles := make([]Tile, 0, len(records))
	for _, rec := range records {
		tiles = append(tiles, TileFor(rec))
	}
	return tiles
}

// TileFor renders a single record. Videos without a thumbnail get a
// placeholder tile.
func TileFor(rec model.MediaRecord) Tile {
	t := Tile{
		ID:          rec.ID,
		Name:        rec.Name,
		FileType:    rec.FileType,
		MediaURL:    rec.URL,
		PreviewURL:  "/gallery/" + rec.ID,
		DownloadURL: "/gallery/" + rec.ID + "/download",
		CreatedAt:   rec.CreatedAt,
	}
	switch {
	case rec.FileType != model.FileTypeVideo:
		t.Src = rec.URL
	case rec.HasThumbnail():
		t.Src = *rec.ThumbnailURL
	default:
		t.Placeholder = true
	}
	return t
}
