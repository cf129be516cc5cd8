// Package mac implements the upper MAC.
//
// Each MAC index owns one radio (a LowerMAC) and keeps:
//
//   - A transmit queue of TxQueueSize slots, drained one frame at a time
//     with CSMA backoff, CCA retries and no-ACK retries
//   - Pending data polls towards the parent of each network
//   - An indirect queue holding frames for sleepy children until they poll
//   - Per-network radio parameters, programmed into the radio only while it
//     is idle
//   - A suspend state that drains the queue before reporting shutdown
//
// All state belongs to the goroutine running the event queue. Lower MACs
// report transmit results and received frames from their own goroutines
// through ISR-class events.
package mac

// TxStatus is the outcome of a transmission.
type TxStatus int

const (
	// TxStatusSuccess means the frame was sent (and acknowledged when an
	// acknowledgment was requested).
	TxStatusSuccess TxStatus = iota

	// TxStatusCCAFailure means the channel stayed busy for every CCA
	// attempt.
	TxStatusCCAFailure

	// TxStatusNoAck means no acknowledgment arrived after all retries.
	TxStatusNoAck

	// TxStatusAborted means the frame was abandoned before reaching the
	// radio, for example by a PrepareTransmit hook.
	TxStatusAborted

	// TxStatusDropped means the outgoing packet handoff dropped the frame.
	TxStatusDropped

	// TxStatusIndirectTimeout means a sleepy child did not poll in time.
	TxStatusIndirectTimeout

	// TxStatusPurged means the frame's child was removed.
	TxStatusPurged

	// TxStatusRadioError means the lower MAC refused the frame.
	TxStatusRadioError
)

// String returns a human-readable name for the status.
func (s TxStatus) String() string {
	switch s {
	case TxStatusSuccess:
		return "Success"
	case TxStatusCCAFailure:
		return "CCAFailure"
	case TxStatusNoAck:
		return "NoAck"
	case TxStatusAborted:
		return "Aborted"
	case TxStatusDropped:
		return "Dropped"
	case TxStatusIndirectTimeout:
		return "IndirectTimeout"
	case TxStatusPurged:
		return "Purged"
	case TxStatusRadioError:
		return "RadioError"
	default:
		return "Unknown"
	}
}

// Priority orders frames in the transmit queue.
type Priority int

const (
	PriorityNormal Priority = iota
	// PriorityHigh frames are queued ahead of every normal frame.
	PriorityHigh
)

// String returns a human-readable name for the priority.
func (p Priority) String() string {
	switch p {
	case PriorityNormal:
		return "Normal"
	case PriorityHigh:
		return "High"
	default:
		return "Unknown"
	}
}

// OperationState is the suspend state of a MAC index.
type OperationState int

const (
	OperationActive OperationState = iota
	// OperationSuspending rejects new frames while queued ones drain.
	OperationSuspending
	// OperationSuspended is entered once the queue is empty and the radio is
	// idle.
	OperationSuspended
)

// String returns a human-readable name for the state.
func (s OperationState) String() string {
	switch s {
	case OperationActive:
		return "Active"
	case OperationSuspending:
		return "Suspending"
	case OperationSuspended:
		return "Suspended"
	default:
		return "Unknown"
	}
}

// PendingTask is a bitmask of work waiting for the transmitter.
type PendingTask uint8

const (
	// TaskPollBeforeSend sends a data poll ahead of queued frames.
	TaskPollBeforeSend PendingTask = 1 << iota
	// TaskPollAfterSend sends a data poll once the queue is empty.
	TaskPollAfterSend
)

// txState tracks the frame in flight.
type txState int

const (
	txIdle txState = iota
	txBackoff
	txWaitLower
)

func (s txState) String() string {
	switch s {
	case txIdle:
		return "Idle"
	case txBackoff:
		return "Backoff"
	case txWaitLower:
		return "WaitLower"
	default:
		return "Unknown"
	}
}
