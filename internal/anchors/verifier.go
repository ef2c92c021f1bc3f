package anchors

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/txgraph/internal/textutil"
	"github.com/txgraph/internal/txerrors"
)

// Verifier re-checks anchors against the filesystem. Process-level side
// effects (reads from disk) are isolated here so the rest of the package
// can be exercised without a real source tree, per §9's isolation note.
type Verifier struct {
	store *Store
	now   func() time.Time
}

func NewVerifier(store *Store) *Verifier {
	return &Verifier{store: store, now: time.Now}
}

// Verify re-checks a single anchor, updating its status, content hash
// (for self-healed hash anchors), and verifiedAt, and appends an
// invalidation log entry whenever the status changes or a hash anchor
// self-heals. Pinned anchors still run verification but are returned with
// their stored status and content, nothing is written back and no log
// entry is appended, per §4.6's "pinned anchors are exempt from
// automatic transitions."
func (v *Verifier) Verify(a *Anchor) (*Anchor, error) {
	now := v.now().UTC()
	oldStatus := a.Status
	var newStatus Status
	var reason, detectedBy string
	var newHash *string
	var similarity *float64

	switch a.Type {
	case TypeGlob:
		newStatus, reason, detectedBy = v.verifyGlob(a)
	case TypeHash:
		newStatus, reason, detectedBy, newHash, similarity = v.verifyHash(a)
	case TypeSymbol:
		newStatus, reason, detectedBy = v.verifySymbol(a)
	case TypeLineRange:
		newStatus, reason, detectedBy = v.verifyLineRange(a)
	default:
		return nil, txerrors.New(txerrors.Validation, fmt.Sprintf("unknown anchor type %q", a.Type))
	}

	if a.Pinned {
		// return the stored status unchanged; only the in-memory
		// VerifiedAt is refreshed, and nothing is logged or written back.
		a.VerifiedAt = &now
		return a, nil
	}

	if newHash != nil {
		a.ContentHash = newHash
	}
	a.Status = newStatus
	a.VerifiedAt = &now

	if err := v.store.UpdateVerification(a, now); err != nil {
		return nil, err
	}

	if newStatus != oldStatus || detectedBy == DetectedBySelfHeal {
		entry := &InvalidationEntry{
			AnchorID:        a.ID,
			OldStatus:       oldStatus,
			NewStatus:       newStatus,
			Reason:          reason,
			DetectedBy:      detectedBy,
			SimilarityScore: similarity,
		}
		if newHash != nil {
			entry.NewContentHash = newHash
		}
		if err := v.store.AppendInvalidation(entry); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (v *Verifier) verifyGlob(a *Anchor) (Status, string, string) {
	matches, err := filepath.Glob(a.Value)
	if err != nil || len(matches) == 0 {
		return StatusInvalid, "no files match pattern", DetectedByGlobNoMatch
	}
	return StatusValid, "", ""
}

func (v *Verifier) verifyHash(a *Anchor) (status Status, reason, detectedBy string, newHash *string, similarity *float64) {
	content, err := readRegion(a.FilePath, a.LineStart, a.LineEnd)
	if err != nil {
		return StatusInvalid, "file missing or unreadable", DetectedByFileMissing, nil, nil
	}
	sum := sha256.Sum256([]byte(content))
	computed := hex.EncodeToString(sum[:])

	if a.ContentHash != nil && *a.ContentHash == computed {
		return StatusValid, "", "", nil, nil
	}

	preview := ""
	if a.ContentPreview != nil {
		preview = *a.ContentPreview
	}
	sim := textutil.Jaccard(textutil.TokenSet(preview), textutil.TokenSet(content))
	if sim >= SelfHealJaccardThreshold {
		a.ContentPreview = &content
		return StatusValid, "content drifted but remained similar", DetectedBySelfHeal, &computed, floatPtr(sim)
	}
	return StatusDrifted, "content hash mismatch", DetectedByHashMismatch, nil, floatPtr(sim)
}

func (v *Verifier) verifySymbol(a *Anchor) (Status, string, string) {
	if a.Symbol == nil || *a.Symbol == "" {
		return StatusInvalid, "symbol name is empty", DetectedBySymbolMissing
	}
	data, err := os.ReadFile(a.FilePath)
	if err != nil {
		return StatusInvalid, "file missing", DetectedByFileMissing
	}
	pattern := regexp.MustCompile(`\b` + regexp.QuoteMeta(*a.Symbol) + `\b`)
	if !pattern.Match(data) {
		return StatusInvalid, "symbol not found in file", DetectedBySymbolMissing
	}
	return StatusValid, "", ""
}

func (v *Verifier) verifyLineRange(a *Anchor) (Status, string, string) {
	if a.LineEnd == nil {
		return StatusInvalid, "line range anchor missing lineEnd", DetectedByLineRangeShort
	}
	lines, err := countLines(a.FilePath)
	if err != nil {
		return StatusInvalid, "file missing", DetectedByFileMissing
	}
	if lines < *a.LineEnd {
		return StatusDrifted, "file shorter than anchored range", DetectedByLineRangeShort
	}
	return StatusValid, "", ""
}

// Restore rolls an anchor back to the state recorded in the invalidation
// log entry before its most recent one, and appends a new manual entry.
func (v *Verifier) Restore(a *Anchor) error {
	prior, err := v.store.PriorInvalidation(a.ID)
	if err != nil {
		return err
	}
	oldStatus := a.Status
	if prior != nil {
		a.Status = prior.OldStatus
		if prior.OldContentHash != nil {
			a.ContentHash = prior.OldContentHash
		}
	} else {
		a.Status = StatusValid
	}
	now := v.now().UTC()
	a.VerifiedAt = &now
	if err := v.store.UpdateVerification(a, now); err != nil {
		return err
	}
	return v.store.AppendInvalidation(&InvalidationEntry{
		AnchorID:   a.ID,
		OldStatus:  oldStatus,
		NewStatus:  a.Status,
		Reason:     "manual restore",
		DetectedBy: DetectedByManual,
	})
}

func readRegion(path string, start, end *int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if start == nil || end == nil {
		data, err := os.ReadFile(path)
		return string(data), err
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var out []byte
	line := 0
	for scanner.Scan() {
		line++
		if line >= *start && line <= *end {
			out = append(out, scanner.Bytes()...)
			out = append(out, '\n')
		}
		if line > *end {
			break
		}
	}
	return string(out), scanner.Err()
}

func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	n := 0
	for scanner.Scan() {
		n++
	}
	return n, scanner.Err()
}

func floatPtr(f float64) *float64 { return &f }
