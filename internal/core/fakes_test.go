package core

import (
	"context"
	"sync"
)

var (
	pngHeader  = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01")
	jpegHeader = []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00\x01\x01\x00\x00\x01\x00\x01\x00\x00")
)

// fakeVision replays scripted responses, one per call; the last one repeats.
type fakeVision struct {
	mu        sync.Mutex
	responses []VisionResponse
	errs      []error
	calls     int
	requests  []VisionRequest
}

func (f *fakeVision) Name() string  { return "fake" }
func (f *fakeVision) Model() string { return "fake-model" }

func (f *fakeVision) Evaluate(_ context.Context, req VisionRequest) (VisionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	i := f.calls
	f.calls++
	f.requests = append(f.requests, req)
	if len(f.errs) > 0 {
		err := f.errs[min(i, len(f.errs)-1)]
		if err != nil {
			return VisionResponse{}, err
		}
	}
	if len(f.responses) == 0 {
		return VisionResponse{}, nil
	}
	return f.responses[min(i, len(f.responses)-1)], nil
}

func (f *fakeVision) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeArchiver struct {
	key   string
	err   error
	calls int
}

func (a *fakeArchiver) Archive(_ context.Context, _ []byte, _ string) (string, error) {
	a.calls++
	return a.key, a.err
}
