package batch

import (
	"context"
	"encoding/json"

	"github.com/batchforge/batchengine/store"
)

// checkpoint implements the SER checkpoint protocol (spec §4.3). It
// assigns ser a fresh id for this publication, durably snapshots it when
// its status is ACCUMULATING, PROCESSING or FAILED, and updates or
// finalizes every dependent record's pointer.
//
// chainLength is the total number of steps in the chain; a SUCCESSFUL ser
// at step_index == chainLength is the terminal success that triggers
// finalization instead of further persistence.
func checkpoint(ctx context.Context, pc *store.Context, ser *SER, chainLength int) error {
	id, err := newSERID()
	if err != nil {
		return PersistenceError("generate ser id", err)
	}
	ser.ID = id

	terminalSuccess := ser.Status == StatusSuccessful && ser.StepIndex == chainLength

	if ser.Status == StatusAccumulating || ser.Status == StatusProcessing || ser.Status == StatusFailed {
		snapshot, err := json.Marshal(ser)
		if err != nil {
			return PersistenceError("marshal ser snapshot", err)
		}
		if err := pc.PutStep(ctx, id, snapshot); err != nil {
			return PersistenceError("put_step", err)
		}
	}

	for _, recID := range ser.DependentRecords {
		prior, priorExists, err := getRecordPointer(ctx, pc, recID)
		if err != nil {
			return PersistenceError("get_record", err)
		}

		if terminalSuccess {
			if err := pc.DelRecord(ctx, recID); err != nil {
				return PersistenceError("del_record", err)
			}
			if priorExists {
				if err := pc.DelStep(ctx, prior.SERID); err != nil {
					return PersistenceError("del_step", err)
				}
			}
			continue
		}

		pointer := RecordPointer{StepIndex: ser.StepIndex, SERID: id, Status: ser.Status}
		value, err := json.Marshal(pointer)
		if err != nil {
			return PersistenceError("marshal record pointer", err)
		}
		if err := pc.PutRecord(ctx, recID, value); err != nil {
			return PersistenceError("put_record", err)
		}
		if priorExists {
			if err := pc.DelStep(ctx, prior.SERID); err != nil {
				return PersistenceError("del_step", err)
			}
		}
	}

	return nil
}

// getRecordPointer reads the prior record entry, returning (_, false, nil)
// when no entry exists rather than propagating a not-found error.
func getRecordPointer(ctx context.Context, pc *store.Context, recID string) (RecordPointer, bool, error) {
	raw, err := pc.GetRecord(ctx, recID)
	if err != nil {
		if err == store.ErrNotFound {
			return RecordPointer{}, false, nil
		}
		return RecordPointer{}, false, err
	}
	if raw == nil {
		return RecordPointer{}, false, nil
	}
	var pointer RecordPointer
	if err := json.Unmarshal(raw, &pointer); err != nil {
		return RecordPointer{}, false, err
	}
	return pointer, true, nil
}
