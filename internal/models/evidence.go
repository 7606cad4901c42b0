package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type EvidenceType string

const (
	EvidenceFlag            EvidenceType = "flag"
	EvidenceMessageSnapshot EvidenceType = "message_snapshot"
	EvidenceAutoFlag        EvidenceType = "auto_flag"
)

type FlagEvidence struct {
	ReporterID uuid.UUID `json:"reporter_id"`
	Reason     string    `json:"reason"`
}

type SnapshotEvidence struct {
	Body        string   `json:"body"`
	Attachments []string `json:"attachments,omitempty"`
	FlagCount   int      `json:"flag_count"`
}

type AutoFlagEvidence struct {
	Label    string  `json:"label"`
	Detector string  `json:"detector,omitempty"`
	Score    float64 `json:"score,omitempty"`
	MediaURL string  `json:"media_url,omitempty"`
}

// EvidenceEntry is a tagged variant: exactly the payload matching Type is set.
type EvidenceEntry struct {
	Type       EvidenceType      `json:"type"`
	Flag       *FlagEvidence     `json:"flag,omitempty"`
	Snapshot   *SnapshotEvidence `json:"snapshot,omitempty"`
	AutoFlag   *AutoFlagEvidence `json:"auto_flag,omitempty"`
	CapturedAt time.Time         `json:"captured_at"`
}

func NewFlagEvidence(reporterID uuid.UUID, reason string, at time.Time) EvidenceEntry {
	return EvidenceEntry{
		Type:       EvidenceFlag,
		Flag:       &FlagEvidence{ReporterID: reporterID, Reason: reason},
		CapturedAt: at,
	}
}

func NewSnapshotEvidence(body string, attachments []string, flagCount int, at time.Time) EvidenceEntry {
	return EvidenceEntry{
		Type:       EvidenceMessageSnapshot,
		Snapshot:   &SnapshotEvidence{Body: body, Attachments: attachments, FlagCount: flagCount},
		CapturedAt: at,
	}
}

func NewAutoFlagEvidence(ev AutoFlagEvidence, at time.Time) EvidenceEntry {
	return EvidenceEntry{
		Type:       EvidenceAutoFlag,
		AutoFlag:   &ev,
		CapturedAt: at,
	}
}

// Validate checks that the payload matches the tag.
func (e EvidenceEntry) Validate() error {
	set := 0
	for _, p := range []bool{e.Flag != nil, e.Snapshot != nil, e.AutoFlag != nil} {
		if p {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("evidence %q must carry exactly one payload, has %d", e.Type, set)
	}
	switch e.Type {
	case EvidenceFlag:
		if e.Flag == nil {
			return fmt.Errorf("evidence %q is missing its flag payload", e.Type)
		}
	case EvidenceMessageSnapshot:
		if e.Snapshot == nil {
			return fmt.Errorf("evidence %q is missing its snapshot payload", e.Type)
		}
	case EvidenceAutoFlag:
		if e.AutoFlag == nil {
			return fmt.Errorf("evidence %q is missing its auto_flag payload", e.Type)
		}
	default:
		return fmt.Errorf("unknown evidence type %q", e.Type)
	}
	return nil
}

type flagMeta struct {
	ReporterID uuid.UUID `json:"reporter_id"`
}

type snapshotMeta struct {
	Attachments []string `json:"attachments"`
	FlagCount   int      `json:"flag_count"`
}

type autoFlagMeta struct {
	Detector string  `json:"detector"`
	Score    float64 `json:"score"`
	MediaURL string  `json:"media_url"`
}

// valueMeta splits the payload into the (value, meta) pair used for dedup.
func (e EvidenceEntry) valueMeta() (string, any) {
	switch {
	case e.Type == EvidenceFlag && e.Flag != nil:
		return e.Flag.Reason, flagMeta{ReporterID: e.Flag.ReporterID}
	case e.Type == EvidenceMessageSnapshot && e.Snapshot != nil:
		attachments := e.Snapshot.Attachments
		if attachments == nil {
			attachments = []string{}
		}
		return e.Snapshot.Body, snapshotMeta{Attachments: attachments, FlagCount: e.Snapshot.FlagCount}
	case e.Type == EvidenceAutoFlag && e.AutoFlag != nil:
		return e.AutoFlag.Label, autoFlagMeta{Detector: e.AutoFlag.Detector, Score: e.AutoFlag.Score, MediaURL: e.AutoFlag.MediaURL}
	}
	return "", nil
}

// Signature is a stable hash of {type, value, meta}. CapturedAt is excluded,
// so the same fact captured twice has the same signature.
func (e EvidenceEntry) Signature() string {
	value, meta := e.valueMeta()
	raw, _ := json.Marshal(struct {
		Type  EvidenceType `json:"type"`
		Value string       `json:"value"`
		Meta  any          `json:"meta"`
	}{e.Type, value, meta})
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// MergeEvidence appends the entries of incoming whose signature is not yet in
// existing, preserving arrival order. It returns the merged list and the
// number of entries added. existing is never modified.
func MergeEvidence(existing, incoming []EvidenceEntry) ([]EvidenceEntry, int) {
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	merged := make([]EvidenceEntry, 0, len(existing)+len(incoming))
	for _, e := range existing {
		seen[e.Signature()] = struct{}{}
		merged = append(merged, e)
	}

	added := 0
	for _, e := range incoming {
		sig := e.Signature()
		if _, dup := seen[sig]; dup {
			continue
		}
		seen[sig] = struct{}{}
		merged = append(merged, e)
		added++
	}
	return merged, added
}

// DedupEvidence removes duplicates from a fresh evidence list.
func DedupEvidence(entries []EvidenceEntry) []EvidenceEntry {
	merged, _ := MergeEvidence(nil, entries)
	return merged
}
