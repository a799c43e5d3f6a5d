package content

import (
	"strings"
	"time"
)

// Item is a content record ingested from an external producer. The pipeline
// reads the fields needed for analysis and clustering and writes derived
// fields (summary, category, keywords, importance, embedding) back.
type Item struct {
	ID          int64
	ExternalID  string
	Source      string
	Title       string
	Body        string
	Summary     string
	Translation string
	Category    string
	Keywords    []string
	Importance  int
	Embedding   []float32
	PublishedAt time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// HasEmbedding reports whether a vector has been stored for the item.
func (i *Item) HasEmbedding() bool {
	return len(i.Embedding) > 0
}

// EventCluster groups content items describing the same real-world event.
type EventCluster struct {
	ID            int64
	Title         string
	Category      string
	FirstSeenAt   time.Time
	LastUpdatedAt time.Time
	IsActive      bool
	MemberCount   int
}

// DetectionMethod records which similarity signal placed an item in a cluster.
type DetectionMethod string

const (
	DetectionRule     DetectionMethod = "rule"
	DetectionSemantic DetectionMethod = "semantic"
	DetectionHybrid   DetectionMethod = "hybrid"
)

// EventMember links a content item to a cluster. An item belongs to at most
// one active cluster; the unique index on item_id enforces it.
type EventMember struct {
	ID              int64
	ClusterID       int64
	ItemID          int64
	SimilarityScore float64
	DetectionMethod DetectionMethod
	CreatedAt       time.Time
}

// Topic is a recurring theme discovered across recent items.
type Topic struct {
	ID          int64
	Name        string
	Keywords    []string
	ItemCount   int
	WindowStart time.Time
	WindowEnd   time.Time
	CreatedAt   time.Time
}

// ActionItem is a follow-up extracted from a content item.
type ActionItem struct {
	ID          int64
	ItemID      int64
	Description string
	Owner       string
	DueHint     string
	CreatedAt   time.Time
}

// Report is a generated digest over recent clusters and actions.
type Report struct {
	ID           int64
	Period       string
	Body         string
	ClusterCount int
	ItemCount    int
	CreatedAt    time.Time
}

// ParseDetectionMethod converts a string into a known DetectionMethod.
func ParseDetectionMethod(value string) (DetectionMethod, bool) {
	switch DetectionMethod(strings.ToLower(strings.TrimSpace(value))) {
	case DetectionRule:
		return DetectionRule, true
	case DetectionSemantic:
		return DetectionSemantic, true
	case DetectionHybrid:
		return DetectionHybrid, true
	default:
		return "", false
	}
}
