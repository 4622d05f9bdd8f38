package batch

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/batchforge/batchengine/store"
)

// RecordDetail describes one residual record left in the records
// namespace when a run finishes: where it is parked and under what
// status.
type RecordDetail struct {
	RecordID  string `json:"record_id"`
	StepIndex int    `json:"step_index"`
	SERID     string `json:"ser_id"`
	Status    SERStatus `json:"status"`
}

// Summary is the human-readable resume report written to
// execution-resume.json on FINISHED_* (spec §4.6).
type Summary struct {
	Status                   Phase          `json:"status"`
	IncompleteRecords        int            `json:"incomplete_records"`
	IncompleteRecordsDetails []RecordDetail `json:"incomplete_records_details,omitempty"`
	DatabasePointer          string         `json:"database_pointer,omitempty"`
}

// writeSummary scans the residual records namespace and writes
// execution-resume.json under pc.RunDir. When the residual count exceeds
// limit, the detail list is omitted in favor of a pointer at the raw
// database.
func writeSummary(ctx context.Context, pc *store.Context, phase Phase, limit int) error {
	var details []RecordDetail
	count := 0
	overLimit := false

	err := pc.ScanRecords(ctx, func(id string, value []byte) error {
		count++
		if count > limit {
			overLimit = true
			return nil
		}
		var pointer RecordPointer
		if err := json.Unmarshal(value, &pointer); err != nil {
			return err
		}
		details = append(details, RecordDetail{
			RecordID:  id,
			StepIndex: pointer.StepIndex,
			SERID:     pointer.SERID,
			Status:    pointer.Status,
		})
		return nil
	})
	if err != nil {
		return PersistenceError("scan_records for summary", err)
	}

	summary := Summary{Status: phase, IncompleteRecords: count}
	if overLimit {
		summary.DatabasePointer = filepath.Join(pc.RunDir, "records")
	} else {
		summary.IncompleteRecordsDetails = details
	}

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return PersistenceError("marshal run summary", err)
	}

	path := filepath.Join(pc.RunDir, "execution-resume.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return PersistenceError("write run summary", err)
	}
	return nil
}
