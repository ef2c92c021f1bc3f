// Package feedback implements the helpfulness tracker: C10 of the spec.
// Grounded on internal/memory/review_board.go's AgentQualityScore pattern
// of aggregating a vote stream into a smoothed score.
package feedback

import (
	"database/sql"
	"encoding/json"
	"strconv"
	"time"

	"github.com/txgraph/internal/storage"
	"github.com/txgraph/internal/txerrors"
)

const (
	prior       = 0.5
	priorWeight = 2.0

	edgeTypeUsedInRun = "USED_IN_RUN"
	nodeTypeLearning  = "learning"
	nodeTypeRun       = "run"
)

// Tracker records usage edges and computes the Bayesian feedback score.
type Tracker struct {
	db *storage.DB
}

func NewTracker(db *storage.DB) *Tracker { return &Tracker{db: db} }

// UsageEntry is one learning's helpfulness verdict within a run.
type UsageEntry struct {
	LearningID int64
	Helpful    bool
	Position   int
}

// RecordUsage creates one USED_IN_RUN edge per learning, weight 1.0 when
// helpful, 0.0 otherwise.
func (t *Tracker) RecordUsage(runID string, entries []UsageEntry) error {
	return t.db.WithTx(func(tx *sql.Tx) error {
		now := time.Now().UTC().Format(time.RFC3339Nano)
		for _, e := range entries {
			weight := 0.0
			if e.Helpful {
				weight = 1.0
			}
			metadata, _ := json.Marshal(map[string]any{
				"position":    e.Position,
				"recordedAt": now,
			})
			_, err := tx.Exec(`INSERT INTO edges(edge_type, src_type, src_id, dst_type, dst_id, weight, metadata, created_at)
				VALUES (?,?,?,?,?,?,?,?)`,
				edgeTypeUsedInRun, nodeTypeRun, runID, nodeTypeLearning, formatID(e.LearningID),
				weight, string(metadata), now)
			if err != nil {
				return txerrors.WrapDB(err)
			}
		}
		return nil
	})
}

// GetFeedbackScore returns the Bayesian-mean helpfulness score over live
// USED_IN_RUN edges for learningID: (helpfulCount + prior*priorWeight) /
// (total + priorWeight). No edges yields the neutral 0.5.
func (t *Tracker) GetFeedbackScore(learningID int64) (float64, error) {
	var total int
	var helpfulSum float64
	err := t.db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(weight), 0)
		FROM edges WHERE edge_type = ? AND dst_type = ? AND dst_id = ? AND invalidated_at IS NULL`,
		edgeTypeUsedInRun, nodeTypeLearning, formatID(learningID)).Scan(&total, &helpfulSum)
	if err != nil {
		return 0, txerrors.WrapDB(err)
	}
	if total == 0 {
		return prior, nil
	}
	return (helpfulSum + prior*priorWeight) / (float64(total) + priorWeight), nil
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
