package models

import (
	"fmt"
	"sort"
)

type JobStatus string

const (
	JobPending      JobStatus = "pending"
	JobResolving    JobStatus = "resolving"
	JobFetching     JobStatus = "fetching"
	JobAssembling   JobStatus = "assembling"
	JobTranscribing JobStatus = "transcribing"
	JobSynthesizing JobStatus = "synthesizing"
	JobCompleted    JobStatus = "completed"
	JobFailed       JobStatus = "failed"
)

// MediaJob is the state of one coordinator run. It is owned by that run and
// never shared; peers coordinate through the lock and result cache instead.
type MediaJob struct {
	MediaID      string
	Token        string
	ManifestURLs []string
	Segments     []SegmentDescriptor
	Workspace    string
	Status       JobStatus
}

// SegmentDescriptor identifies one fetched segment. (ManifestIndex,
// SegmentIndex) is the only ordering key used for assembly.
type SegmentDescriptor struct {
	ManifestIndex int
	SegmentIndex  int
	URL           string
	LocalPath     string
}

// Key returns a readable ordering key, e.g. "sm0-seg2".
func (s SegmentDescriptor) Key() string {
	return fmt.Sprintf("sm%d-seg%d", s.ManifestIndex, s.SegmentIndex)
}

// Less reports whether s sorts before other in assembly order.
func (s SegmentDescriptor) Less(other SegmentDescriptor) bool {
	if s.ManifestIndex != other.ManifestIndex {
		return s.ManifestIndex < other.ManifestIndex
	}
	return s.SegmentIndex < other.SegmentIndex
}

// SortSegments orders segments by (ManifestIndex, SegmentIndex) in place.
func SortSegments(segments []SegmentDescriptor) {
	sort.SliceStable(segments, func(i, j int) bool {
		return segments[i].Less(segments[j])
	})
}

// JobResult is what a finished job produces and what the result cache holds.
type JobResult struct {
	Transcript string `json:"transcript"`
	Notes      string `json:"notes"`
}
