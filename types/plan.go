package types

import (
	"path/filepath"
	"strings"
)

// MergeExt is the container extension of merged split-AV output.
const MergeExt = "mp4"

// PlanKind tags the FetchPlan variant.
type PlanKind int

const (
	// PlanProgressive downloads a single stream that already carries audio.
	PlanProgressive PlanKind = iota + 1
	// PlanSplitAV downloads video and audio separately and merges them.
	PlanSplitAV
	// PlanHighestAvailable downloads the best stream when nothing matches.
	PlanHighestAvailable
)

var planKindNames = map[PlanKind]string{
	PlanProgressive:      "progressive",
	PlanSplitAV:          "split-av",
	PlanHighestAvailable: "highest-available",
}

func (k PlanKind) String() string {
	if s, ok := planKindNames[k]; ok {
		return s
	}
	return "none"
}

// MarshalText encodes the plan kind name.
func (k PlanKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// FetchPlan says which streams to fetch for one video. Build it with
// ProgressivePlan, SplitAVPlan or HighestAvailablePlan.
type FetchPlan struct {
	Kind  PlanKind
	Video StreamDescriptor
	// Audio is set only for PlanSplitAV.
	Audio StreamDescriptor
}

// ProgressivePlan returns a plan downloading s directly.
func ProgressivePlan(s StreamDescriptor) FetchPlan {
	return FetchPlan{Kind: PlanProgressive, Video: s}
}

// SplitAVPlan returns a plan merging video and audio.
func SplitAVPlan(video, audio StreamDescriptor) FetchPlan {
	return FetchPlan{Kind: PlanSplitAV, Video: video, Audio: audio}
}

// HighestAvailablePlan returns a plan downloading s directly as a fallback.
func HighestAvailablePlan(s StreamDescriptor) FetchPlan {
	return FetchPlan{Kind: PlanHighestAvailable, Video: s}
}

// NeedsMerge reports whether executing the plan invokes the muxer.
func (p FetchPlan) NeedsMerge() bool {
	return p.Kind == PlanSplitAV
}

// Filename returns the output filename for the plan. Split-AV output is always
// an MP4 container, so the video stream's extension is replaced.
func (p FetchPlan) Filename() string {
	name := p.Video.Filename
	if p.Kind != PlanSplitAV {
		return name
	}
	base := strings.TrimSuffix(name, filepath.Ext(name))
	return base + "." + MergeExt
}
