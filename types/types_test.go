package types

import (
	"path/filepath"
	"testing"
)

func TestParseResolution(t *testing.T) {
	tests := []struct {
		label string
		want  Resolution
		ok    bool
	}{
		{"240p", Res240p, true},
		{"720p", Res720p, true},
		{"1080P", Res1080p, true},
		{" 2160p ", Res2160p, true},
		{"720p60", Res720p, true},
		{"1440p HDR", Res1440p, true},
		{"144p", ResUnknown, false},
		{"", ResUnknown, false},
		{"hd", ResUnknown, false},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			got, ok := ParseResolution(tt.label)
			if got != tt.want || ok != tt.ok {
				t.Errorf("ParseResolution(%q) = %v, %v; want %v, %v", tt.label, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestResolutionOrdering(t *testing.T) {
	for i := 1; i < len(Resolutions); i++ {
		if Resolutions[i-1] >= Resolutions[i] {
			t.Fatalf("resolutions not ascending at %d", i)
		}
	}
	if ResUnknown >= Res240p {
		t.Errorf("unknown must order below 240p")
	}
	if Res720p.String() != "720p" || ResUnknown.String() != "unknown" {
		t.Errorf("unexpected labels %q %q", Res720p, ResUnknown)
	}
}

func TestNewTargetPath(t *testing.T) {
	tp := NewTargetPath("My-List", "1. clip.mp4")
	if tp.FullPath != filepath.Join("My-List", "1. clip.mp4") {
		t.Errorf("unexpected full path %q", tp.FullPath)
	}
	if tp.Dir != "My-List" || tp.Filename != "1. clip.mp4" {
		t.Errorf("unexpected parts %+v", tp)
	}
}

func TestFetchPlanFilename(t *testing.T) {
	video := StreamDescriptor{Filename: "Clip.webm", Kind: VideoOnly}
	audio := StreamDescriptor{Filename: "Clip.m4a", Kind: AudioOnly}

	if got := SplitAVPlan(video, audio).Filename(); got != "Clip.mp4" {
		t.Errorf("split-av filename = %q, want Clip.mp4", got)
	}
	if got := HighestAvailablePlan(video).Filename(); got != "Clip.webm" {
		t.Errorf("highest filename = %q, want Clip.webm", got)
	}
	if !SplitAVPlan(video, audio).NeedsMerge() || ProgressivePlan(video).NeedsMerge() {
		t.Errorf("NeedsMerge mismatch")
	}
}

func TestStateIsFinished(t *testing.T) {
	finished := []State{StateSkipped, StateComplete, StateFailed}
	for _, s := range finished {
		if !s.IsFinished() {
			t.Errorf("%s should be finished", s)
		}
	}
	for _, s := range []State{StatePending, StateDownloading, StateMerging} {
		if s.IsFinished() {
			t.Errorf("%s should not be finished", s)
		}
	}
	if !StateMerging.IsActive() || StatePending.IsActive() {
		t.Errorf("IsActive mismatch")
	}
}
