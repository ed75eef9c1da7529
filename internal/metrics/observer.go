package metrics

type HubObserver interface {
	IncOnline()
	DecOnline()
	RecordPush()
}

type IngestionObserver interface {
	RecordIngest(outcome string)
	RecordIngestError(reason string)
	RecordConflictRetry()
}

type RetryObserver interface {
	RecordForwarded(count int)
	RecordBatchFinished(status string)
	RecordOperationCompleted(failed bool, messages int)
	RecordArchived(action string, count int)
}

// Nop satisfies every observer and records nothing.
type Nop struct{}

func (Nop) IncOnline()                         {}
func (Nop) DecOnline()                         {}
func (Nop) RecordPush()                        {}
func (Nop) RecordIngest(string)                {}
func (Nop) RecordIngestError(string)           {}
func (Nop) RecordConflictRetry()               {}
func (Nop) RecordForwarded(int)                {}
func (Nop) RecordBatchFinished(string)         {}
func (Nop) RecordOperationCompleted(bool, int) {}
func (Nop) RecordArchived(string, int)         {}
