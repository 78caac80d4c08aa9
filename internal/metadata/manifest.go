// Package metadata builds Iceberg-style table metadata describing exported
// fixture objects. It performs no I/O; callers store the documents.
package metadata

import (
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"
)

// DataFile describes a single parquet object written by an export.
type DataFile struct {
	Path        string         `json:"path"`
	FileSize    int64          `json:"file_size_in_bytes"`
	RecordCount int64          `json:"record_count"`
	Partition   map[string]any `json:"partition"`
}

// ManifestEntry mirrors the information kept in an Iceberg manifest file.
type ManifestEntry struct {
	Status   int      `json:"status"`
	DataFile DataFile `json:"data_file"`
}

// Snapshot is one committed export.
type Snapshot struct {
	SnapshotID  int64  `json:"snapshot-id"`
	TimestampMs int64  `json:"timestamp-ms"`
	Manifest    string `json:"manifest-list"`
	Files       int    `json:"added-files"`
	Records     int64  `json:"added-records"`
}

// TableMetadata represents the high level table metadata file.
type TableMetadata struct {
	FormatVersion     int        `json:"format-version"`
	TableUUID         string     `json:"table-uuid"`
	Location          string     `json:"location"`
	CurrentSnapshotID int64      `json:"current-snapshot-id"`
	Snapshots         []Snapshot `json:"snapshots"`
}

// Document is an encoded metadata object and its key relative to the
// table location.
type Document struct {
	Key  string
	Data []byte
}

const statusAdded = 1

// Generator accumulates data files and commits them as snapshots.
type Generator struct {
	location  string
	tableName string
	tableUUID string
	snapshots []Snapshot
	pending   []ManifestEntry
}

func NewGenerator(location, tableName string) *Generator {
	return &Generator{
		location:  location,
		tableName: tableName,
		tableUUID: uuid.NewString(),
	}
}

// AddFile records a written object for the next commit.
func (g *Generator) AddFile(df DataFile) {
	g.pending = append(g.pending, ManifestEntry{Status: statusAdded, DataFile: df})
}

// Pending is the number of files waiting for Commit.
func (g *Generator) Pending() int { return len(g.pending) }

// Commit turns the pending files into a snapshot taken at now and returns the
// manifest and the updated table metadata. Nothing pending yields no
// documents.
func (g *Generator) Commit(now time.Time) ([]Document, error) {
	if len(g.pending) == 0 {
		return nil, nil
	}

	snapID := now.UnixNano()
	if n := len(g.snapshots); n > 0 && snapID <= g.snapshots[n-1].SnapshotID {
		snapID = g.snapshots[n-1].SnapshotID + 1
	}
	manifestFile := fmt.Sprintf("manifest-%d.json", snapID)

	manifest, err := json.Marshal(g.pending)
	if err != nil {
		return nil, err
	}

	var records int64
	for _, e := range g.pending {
		records += e.DataFile.RecordCount
	}
	g.snapshots = append(g.snapshots, Snapshot{
		SnapshotID:  snapID,
		TimestampMs: now.UnixMilli(),
		Manifest:    manifestFile,
		Files:       len(g.pending),
		Records:     records,
	})
	g.pending = nil

	table, err := json.MarshalIndent(TableMetadata{
		FormatVersion:     2,
		TableUUID:         g.tableUUID,
		Location:          g.location,
		CurrentSnapshotID: snapID,
		Snapshots:         g.snapshots,
	}, "", "  ")
	if err != nil {
		return nil, err
	}

	return []Document{
		{Key: path.Join("metadata", manifestFile), Data: manifest},
		{Key: path.Join("metadata", "metadata.json"), Data: table},
	}, nil
}

// CatalogEntry points a catalog at the table metadata.
func (g *Generator) CatalogEntry() (Document, error) {
	b, err := json.MarshalIndent(map[string]string{
		"name":              g.tableName,
		"metadata_location": path.Join(g.location, "metadata", "metadata.json"),
	}, "", "  ")
	if err != nil {
		return Document{}, err
	}
	return Document{Key: path.Join("catalog", g.tableName+".json"), Data: b}, nil
}
