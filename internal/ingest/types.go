// Package ingest defines core types shared across pipeline subsystems.
package ingest

import (
	"net/http"
	"time"
)

// CandidateStatus represents the lifecycle state of a discovered URL.
type CandidateStatus string

// Candidate status values persisted in candidate_links.
const (
	CandidateDiscovered CandidateStatus = "discovered"
	CandidateVerified   CandidateStatus = "verified"
	CandidateExtracted  CandidateStatus = "extracted"
	CandidateRejected   CandidateStatus = "rejected"
)

// ContentStatus represents the lifecycle state of an extracted document.
type ContentStatus string

// Content status values persisted in content_records. Transitions are
// strictly forward; only an explicit reprocess moves a row backward.
const (
	ContentExtracted ContentStatus = "extracted"
	ContentCleaned   ContentStatus = "cleaned"
	ContentLabeled   ContentStatus = "labeled"
)

// CandidateLink is a discovered URL pending verification and extraction.
type CandidateLink struct {
	ID           int64
	URL          string
	Source       string
	Status       CandidateStatus
	DiscoveredAt time.Time
}

// ContentRecord is the extracted, de-duplicated document for a URL.
type ContentRecord struct {
	ID              int64
	CandidateLinkID int64
	URL             string
	Title           string
	Text            string
	TextHash        string
	Status          ContentStatus
	ExtractedAt     time.Time
}

// Signal classifies the outcome of a fetch for the backoff controller.
type Signal string

// Fetch signals. A soft block is not an error; it is pacing input.
const (
	SignalOK        Signal = "ok"
	SignalSoftBlock Signal = "soft_block"
	SignalHardError Signal = "hard_error"
)

// Origin is the closed set of content provenance classes.
type Origin string

// Origin values, in resolution priority order.
const (
	OriginWireService         Origin = "wire_service"
	OriginSyndicatedBroadcast Origin = "syndicated_broadcaster"
	OriginLocal               Origin = "local"
)

// PatternKind identifies a class of classification rule.
type PatternKind string

// Pattern kinds stored in classification_patterns.
const (
	PatternWireService     PatternKind = "wire_service"
	PatternBroadcasterCall PatternKind = "broadcaster_callsign"
	PatternBoilerplate     PatternKind = "boilerplate"
)

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	Source      string
	URL         string
	UseHeadless bool
	Headers     http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// CuratedSample is published to the labeling workflow once an article has
// been cleaned and classified as locally authored.
type CuratedSample struct {
	ContentID int64     `json:"content_id"`
	URL       string    `json:"url"`
	Source    string    `json:"source"`
	Title     string    `json:"title"`
	TextHash  string    `json:"text_hash"`
	Origin    Origin    `json:"origin"`
	QueuedAt  time.Time `json:"queued_at"`
}
