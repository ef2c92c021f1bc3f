package anchors

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/txgraph/internal/storage"
)

func setupAnchorStore(t *testing.T) (*Store, func()) {
	t.Helper()
	f, err := os.CreateTemp("", "anchors-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	db, err := storage.Open(f.Name())
	if err != nil {
		t.Fatal(err)
	}
	cleanup := func() {
		db.Close()
		os.Remove(f.Name())
	}
	return NewStore(db), cleanup
}

func writeSourceFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "x.ts")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// TestHashAnchorSelfHeals is spec scenario 5: a whitespace-only edit keeps
// the anchor valid via self-healing rather than flipping it to drifted.
func TestHashAnchorSelfHeals(t *testing.T) {
	store, cleanup := setupAnchorStore(t)
	defer cleanup()

	original := "function foo(a,b){return a+b;}"
	path := writeSourceFile(t, original)

	sum := sha256.Sum256([]byte(original))
	hash := hex.EncodeToString(sum[:])
	preview := original

	a := &Anchor{LearningID: 1, Type: TypeHash, FilePath: path, ContentHash: &hash, ContentPreview: &preview}
	if err := store.Create(a); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, []byte("function foo(a,b){ return a+b; }"), 0o644); err != nil {
		t.Fatal(err)
	}

	v := NewVerifier(store)
	updated, err := v.Verify(a)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if updated.Status != StatusValid {
		t.Errorf("expected status to remain valid after self-heal, got %s", updated.Status)
	}
	if updated.ContentHash == nil || *updated.ContentHash == hash {
		t.Error("expected content hash to be refreshed after self-heal")
	}

	entry, err := store.LatestInvalidation(a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if entry == nil {
		t.Fatal("expected a self_healed invalidation entry")
	}
	if entry.DetectedBy != DetectedBySelfHeal {
		t.Errorf("expected detectedBy=self_healed, got %s", entry.DetectedBy)
	}
	if entry.SimilarityScore == nil || *entry.SimilarityScore != 1.0 {
		t.Errorf("expected similarity 1.0 for a whitespace-only edit, got %v", entry.SimilarityScore)
	}
}

func TestHashAnchorDriftsBelowSimilarityThreshold(t *testing.T) {
	store, cleanup := setupAnchorStore(t)
	defer cleanup()

	original := "function foo(a,b){return a+b;}"
	path := writeSourceFile(t, original)

	sum := sha256.Sum256([]byte(original))
	hash := hex.EncodeToString(sum[:])
	preview := original

	a := &Anchor{LearningID: 1, Type: TypeHash, FilePath: path, ContentHash: &hash, ContentPreview: &preview}
	if err := store.Create(a); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, []byte("totally different content that shares nothing"), 0o644); err != nil {
		t.Fatal(err)
	}

	v := NewVerifier(store)
	updated, err := v.Verify(a)
	if err != nil {
		t.Fatal(err)
	}
	if updated.Status != StatusDrifted {
		t.Errorf("expected drifted status for dissimilar content, got %s", updated.Status)
	}
}

func TestGlobAnchorInvalidWhenNoMatch(t *testing.T) {
	store, cleanup := setupAnchorStore(t)
	defer cleanup()

	a := &Anchor{LearningID: 1, Type: TypeGlob, Value: filepath.Join(t.TempDir(), "*.nonexistent")}
	if err := store.Create(a); err != nil {
		t.Fatal(err)
	}

	v := NewVerifier(store)
	updated, err := v.Verify(a)
	if err != nil {
		t.Fatal(err)
	}
	if updated.Status != StatusInvalid {
		t.Errorf("expected invalid for a glob with no matches, got %s", updated.Status)
	}
}

func TestPinnedAnchorExemptFromTransition(t *testing.T) {
	store, cleanup := setupAnchorStore(t)
	defer cleanup()

	path := writeSourceFile(t, "keep me")
	a := &Anchor{LearningID: 1, Type: TypeSymbol, FilePath: path, Symbol: strPtr("missingSymbol"), Pinned: true, Status: StatusValid}
	if err := store.Create(a); err != nil {
		t.Fatal(err)
	}

	v := NewVerifier(store)
	if _, err := v.Verify(a); err != nil {
		t.Fatal(err)
	}

	reloaded, err := store.Get(a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Status != StatusValid {
		t.Errorf("expected pinned anchor's stored status to remain unchanged, got %s", reloaded.Status)
	}
}

func TestPruneDeletesOnlyOldInvalidAnchors(t *testing.T) {
	store, cleanup := setupAnchorStore(t)
	defer cleanup()

	a := &Anchor{LearningID: 1, Type: TypeGlob, Value: "/nonexistent/*.go", Status: StatusInvalid}
	if err := store.Create(a); err != nil {
		t.Fatal(err)
	}

	n, err := Prune(store, time.Now().UTC().Add(-1*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("expected 0 pruned for a recently-created anchor, got %d", n)
	}

	n, err = Prune(store, time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 pruned once the cutoff is in the future, got %d", n)
	}
}

func strPtr(s string) *string { return &s }
