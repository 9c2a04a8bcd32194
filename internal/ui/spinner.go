package ui

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
)

// Spinner is a single-line blocking spinner for steps that run before the
// live session view starts, such as server discovery.
type Spinner struct {
	out    io.Writer
	frames spinner.Spinner

	mu      sync.Mutex
	message string
	done    chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
}

// NewSpinner creates a spinner for general loading operations (Dot style).
func NewSpinner(message string) *Spinner {
	return newSpinner(os.Stdout, spinner.Dot, message)
}

// NewSearchSpinner creates a spinner for network lookups (Globe style).
func NewSearchSpinner(message string) *Spinner {
	return newSpinner(os.Stdout, spinner.Globe, message)
}

func newSpinner(out io.Writer, frames spinner.Spinner, message string) *Spinner {
	return &Spinner{
		out:     out,
		frames:  frames,
		message: message,
		done:    make(chan struct{}),
	}
}

// Start draws frames until Stop is called.
func (s *Spinner) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.frames.FPS)
		defer ticker.Stop()

		for i := 0; ; i++ {
			s.mu.Lock()
			frame := SpinnerStyle.Render(s.frames.Frames[i%len(s.frames.Frames)])
			fmt.Fprintf(s.out, "\r%s %s", frame, s.message)
			s.mu.Unlock()

			select {
			case <-s.done:
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop clears the spinner line. It is safe to call more than once.
func (s *Spinner) Stop() {
	s.stopped.Do(func() {
		close(s.done)
		s.wg.Wait()
		fmt.Fprint(s.out, "\r\033[K")
	})
}

func (s *Spinner) Success(message string) {
	s.Stop()
	fmt.Fprintf(s.out, "%s %s\n", SuccessStyle.Render(IconSuccess), message)
}

func (s *Spinner) Error(message string) {
	s.Stop()
	fmt.Fprintf(s.out, "%s %s\n", ErrorStyle.Render(IconError), message)
}

func (s *Spinner) UpdateMessage(message string) {
	s.mu.Lock()
	s.message = message
	s.mu.Unlock()
}
