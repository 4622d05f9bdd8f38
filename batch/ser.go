package batch

import (
	"github.com/google/uuid"
)

// SERStatus is the lifecycle state of a Step Execution Result.
type SERStatus string

const (
	StatusAccumulating SERStatus = "ACCUMULATING"
	StatusProcessing   SERStatus = "PROCESSING"
	StatusSuccessful   SERStatus = "SUCCESSFUL"
	StatusFailed       SERStatus = "FAILED"
)

// SER is a Step Execution Result: the message exchanged between steps and
// the unit of checkpointing. A given SER value may be republished several
// times as it progresses through status transitions; each publication is
// assigned a fresh ID by checkpoint (see checkpoint.go), so the ID field
// here is only meaningful once it has actually been persisted.
type SER struct {
	ID               string        `json:"id"`
	StepIndex        int           `json:"step_index"`
	Status           SERStatus     `json:"status"`
	DependentRecords []string      `json:"dependent_records"`
	AccPayload       []interface{} `json:"acc_payload"`
	OutputPayload    interface{}   `json:"output_payload"`
	Error            string        `json:"error,omitempty"`
}

// newSERID returns a fresh time-ordered id for one durable publication of
// an SER, so that scans of the steps namespace recover a rough causal
// order. UUIDv1 ids are monotonically extending, which is the property
// the checkpoint protocol relies on; the value itself carries no other
// meaning.
func newSERID() (string, error) {
	id, err := uuid.NewUUID()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// bootstrapSER is the SER a Batch Job synthesizes for every fresh record
// pulled from the source: step_index 0, already SUCCESSFUL, carrying the
// record's raw payload as its sole output.
func bootstrapSER(recordID string, payload interface{}) SER {
	return SER{
		StepIndex:        0,
		Status:           StatusSuccessful,
		DependentRecords: []string{recordID},
		OutputPayload:    payload,
	}
}

// badInputSER synthesizes a FAILED SER for an aggregator that rejected its
// incoming SER. It carries no dependent records since the input itself was
// invalid and nothing was accepted into any step's buffers.
func badInputSER(stepIndex int, message string) SER {
	return SER{
		StepIndex: stepIndex,
		Status:    StatusFailed,
		Error:     BadInputError(message).Error(),
	}
}

// isValidIncoming reports whether incoming satisfies the aggregator's
// acceptance contract (spec §4.2 step 1).
func isValidIncoming(incoming SER) bool {
	if incoming.Status != StatusSuccessful {
		return false
	}
	if incoming.OutputPayload == nil {
		return false
	}
	if len(incoming.DependentRecords) == 0 {
		return false
	}
	return true
}

// RecordPointer is the value stored under a record id in the records
// namespace: "where is this record right now?"
type RecordPointer struct {
	StepIndex int    `json:"step_index"`
	SERID     string `json:"ser_id"`
	Status    SERStatus `json:"status"`
}
