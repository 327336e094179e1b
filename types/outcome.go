package types

import "time"

// State is the per-video download state.
type State string

const (
	// StatePending means the video is queued and nothing was fetched yet.
	StatePending State = "Pending"
	// StateSkipped means the target file already existed.
	StateSkipped State = "Skipped"
	// StateDownloading means one or both streams are being fetched.
	StateDownloading State = "Downloading"
	// StateMerging means the muxer is combining the video and audio streams.
	StateMerging State = "Merging"
	// StateComplete means the target file is in place.
	StateComplete State = "Complete"
	// StateFailed means the video was abandoned; Outcome.Err says why.
	StateFailed State = "Failed"
)

// String returns the string representation of State
func (s State) String() string {
	return string(s)
}

// IsActive returns true while a transfer or merge is running.
func (s State) IsActive() bool {
	return s == StateDownloading || s == StateMerging
}

// IsFinished returns true for Skipped, Complete and Failed.
func (s State) IsFinished() bool {
	return s == StateSkipped || s == StateComplete || s == StateFailed
}

// Outcome records what happened to one video.
type Outcome struct {
	Index    int       `json:"index,omitempty"`
	VideoID  string    `json:"video_id,omitempty"`
	Title    string    `json:"title,omitempty"`
	State    State     `json:"state"`
	Plan     PlanKind  `json:"plan,omitempty"`
	Path     string    `json:"path,omitempty"`
	Bytes    int64     `json:"bytes,omitempty"`
	Err      error     `json:"-"`
	Error    string    `json:"error,omitempty"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
}

// Fail moves the outcome to StateFailed with err.
func (o *Outcome) Fail(err error) {
	o.State = StateFailed
	o.Err = err
	if err != nil {
		o.Error = err.Error()
	}
}
