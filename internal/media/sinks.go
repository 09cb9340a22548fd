//////////////////////////////////////////////////////////////////////////////
//
// Decoded frame sinks
//
// Copyright 2019 Lanikai Labs. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package media

import (
	"bufio"
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"

	"github.com/lanikai/alohadec/internal/decoder"
)

// FileSink writes raw decoded frames back to back, e.g. for playback with
// `ffplay -f rawvideo`.
type FileSink struct {
	mu     sync.Mutex
	w      *bufio.Writer
	closer io.Closer
	frames int
}

// NewFileSink creates (or truncates) filename. "-" writes to stdout.
func NewFileSink(filename string) (*FileSink, error) {
	if filename == "-" {
		return NewWriterSink(nopCloser{os.Stdout}), nil
	}
	f, err := os.Create(filename)
	if err != nil {
		return nil, err
	}
	return NewWriterSink(f), nil
}

func NewWriterSink(w io.WriteCloser) *FileSink {
	return &FileSink{w: bufio.NewWriterSize(w, 1<<20), closer: w}
}

func (s *FileSink) SetOutputState(state *decoder.OutputState) error {
	log.Debug("File sink: %v", state.Format)
	return nil
}

func (s *FileSink) PushFrame(frame *decoder.DecodedFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.w.Write(frame.Data); err != nil {
		return errors.Wrap(err, "writing frame")
	}
	s.frames++
	return nil
}

// Frames returns the number of frames written so far.
func (s *FileSink) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Close flushes buffered frames and closes the file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.w.Flush()
	if cerr := s.closer.Close(); err == nil {
		err = cerr
	}
	return err
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

// Tee forwards output states and frames to every sink in turn. The first
// error stops delivery.
func Tee(sinks ...decoder.Sink) decoder.Sink {
	if len(sinks) == 1 {
		return sinks[0]
	}
	return tee(sinks)
}

type tee []decoder.Sink

func (t tee) SetOutputState(state *decoder.OutputState) error {
	for _, s := range t {
		if err := s.SetOutputState(state); err != nil {
			return err
		}
	}
	return nil
}

func (t tee) PushFrame(frame *decoder.DecodedFrame) error {
	for _, s := range t {
		if err := s.PushFrame(frame); err != nil {
			return err
		}
	}
	return nil
}
