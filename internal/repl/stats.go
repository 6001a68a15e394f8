package repl

import (
	"encoding/json"
	"time"
)

// CollectionStats is the progress of one collection copy.
type CollectionStats struct {
	Namespace       string `json:"namespace"`
	DocumentsCopied int64  `json:"documentsCopied"`
	BytesCopied     int64  `json:"bytesCopied"`
	IndexesBuilt    int    `json:"indexesBuilt"`
}

// DatabaseStats is the progress of one database clone. While the clone is in
// flight the numbers are a live partial snapshot.
type DatabaseStats struct {
	Name              string            `json:"name"`
	Collections       int               `json:"collections"`
	ClonedCollections int               `json:"clonedCollections"`
	Start             time.Time         `json:"start,omitempty"`
	End               time.Time         `json:"end,omitempty"`
	CollectionStats   []CollectionStats `json:"collectionStats,omitempty"`
}

func (s DatabaseStats) clone() DatabaseStats {
	out := s
	out.CollectionStats = append([]CollectionStats(nil), s.CollectionStats...)
	return out
}

// Stats is the aggregate progress of one initial-sync attempt. Databases is
// index-aligned with the enumerated database list; the slot at index
// DatabasesCloned, if present, may hold a live snapshot of the in-flight
// clone, and every slot below it holds a finalized result.
type Stats struct {
	DatabasesCloned int             `json:"databasesCloned"`
	Databases       []DatabaseStats `json:"databases"`
}

func (s Stats) clone() Stats {
	out := s
	out.Databases = make([]DatabaseStats, len(s.Databases))
	for i, db := range s.Databases {
		out.Databases[i] = db.clone()
	}
	return out
}

func (s Stats) String() string {
	b, err := json.Marshal(s)
	if err != nil {
		return "{}"
	}
	return string(b)
}
