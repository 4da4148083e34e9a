package model

type PartStatus int

const (
	PartPending PartStatus = iota
	PartResuming
	PartDownloading
	PartVerifying
	PartComplete
	PartFailed
)

func (s PartStatus) String() string {
	switch s {
	case PartPending:
		return "pending"
	case PartResuming:
		return "resuming"
	case PartDownloading:
		return "downloading"
	case PartVerifying:
		return "verifying"
	case PartComplete:
		return "complete"
	case PartFailed:
		return "failed"
	}

	return "unknown"
}

// PartDownloadState tracks one part through the download state machine.
// Transitions move forward only, except Failed going back to Pending when
// a whole-part retry starts over.
type PartDownloadState struct {
	Part          PartRef
	BytesOnDisk   int64
	ExpectedBytes int64
	Status        PartStatus
}
