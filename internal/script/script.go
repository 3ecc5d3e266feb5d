// Package script runs timed sequences of gimbal commands described in YAML.
//
//	name: zoom sweep
//	steps:
//	  - {family: zoom, mode: in, wait: 5s}
//	  - {family: zoom, mode: out, wait: 5s}
//	  - {family: zoom, mode: stop}
//	  - family: ptz_control
//	    mode: yaw_angle
//	    params: {angle_value: -50, rate_value: 50}
package script

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"gimbal-remote/internal/gimbal"
	"gimbal-remote/internal/logging"
	"gimbal-remote/internal/tpu"
)

// Step is one command followed by an optional wait.
type Step struct {
	tpu.Command `yaml:",inline"`
	Wait        time.Duration `yaml:"wait,omitempty"`
}

// Script is a named list of steps.
type Script struct {
	Name  string `yaml:"name"`
	Steps []Step `yaml:"steps"`
}

// Load decodes a script and checks that every step resolves.
func Load(r io.Reader) (*Script, error) {
	var s Script
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("decode script: %w", err)
	}
	if len(s.Steps) == 0 {
		return nil, errors.New("script has no steps")
	}
	for i, st := range s.Steps {
		if _, err := tpu.Resolve(st.Command); err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		if st.Wait < 0 {
			return nil, fmt.Errorf("step %d: negative wait %s", i+1, st.Wait)
		}
	}
	return &s, nil
}

// LoadFile loads a script from path.
func LoadFile(path string) (*Script, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}

// Result records the outcome of one step.
type Result struct {
	Step    int
	Command tpu.Command
	Reply   []byte
	Err     error
}

// Runner executes scripts against a gimbal.
type Runner struct {
	link gimbal.Sender
	log  *zap.Logger
	wait func(ctx context.Context, d time.Duration) error
}

// NewRunner creates a runner that sends through link.
func NewRunner(link gimbal.Sender, log *zap.Logger) *Runner {
	return &Runner{link: link, log: logging.OrNop(log), wait: sleepCtx}
}

// Run executes the steps in order. A short query reply is recorded and the
// script continues; any other error stops it.
func (r *Runner) Run(ctx context.Context, s *Script) ([]Result, error) {
	results := make([]Result, 0, len(s.Steps))
	for i, st := range s.Steps {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		reply, err := r.link.Send(st.Command)
		results = append(results, Result{Step: i + 1, Command: st.Command, Reply: reply, Err: err})
		if err != nil && !errors.Is(err, gimbal.ErrShortRead) {
			r.log.Error("script step failed", zap.String("script", s.Name), zap.Int("step", i+1), zap.Error(err))
			return results, fmt.Errorf("step %d (%s): %w", i+1, st.Command, err)
		}
		r.log.Info("script step done", zap.String("script", s.Name), zap.Int("step", i+1),
			zap.Stringer("cmd", st.Command), zap.ByteString("reply", reply))

		if st.Wait > 0 {
			if err := r.wait(ctx, st.Wait); err != nil {
				return results, err
			}
		}
	}
	return results, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
