// Package muxertest provides an in-process muxer.Muxer for tests.
package muxertest

import (
	"context"
	"os"
	"sync"
)

// Merge records one Merge call.
type Merge struct {
	Video, Audio, Output string
}

// Muxer concatenates its inputs into the output file. Set Err to make every
// merge fail without writing output.
type Muxer struct {
	Unavailable bool
	Err         error

	mu     sync.Mutex
	merges []Merge
}

func (m *Muxer) Available() bool {
	return !m.Unavailable
}

func (m *Muxer) Merge(ctx context.Context, videoPath, audioPath, outputPath string) error {
	m.mu.Lock()
	m.merges = append(m.merges, Merge{Video: videoPath, Audio: audioPath, Output: outputPath})
	m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	v, err := os.ReadFile(videoPath)
	if err != nil {
		return err
	}
	a, err := os.ReadFile(audioPath)
	if err != nil {
		return err
	}
	return os.WriteFile(outputPath, append(append(v, '+'), a...), 0o644)
}

// Merges returns the merges attempted so far.
func (m *Muxer) Merges() []Merge {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Merge(nil), m.merges...)
}
