package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/peterh/liner"

	"gimbal-remote/internal/tpu"
)

const historyFile = ".gimbalctl_history"

func (a *app) shell() error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	line.SetCompleter(complete)

	history := historyPath()
	if f, err := os.Open(history); err == nil {
		_, _ = line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.Create(history); err == nil {
			_, _ = line.WriteHistory(f)
			f.Close()
		}
	}()

	fmt.Fprintln(a.out, "gimbal shell: FAMILY MODE [key=value...], \"modes [FAMILY]\", \"quit\"")
	for {
		input, err := line.Prompt("gimbal> ")
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		fields := strings.Fields(input)
		if len(fields) == 0 {
			continue
		}
		line.AppendHistory(input)

		switch fields[0] {
		case "quit", "exit":
			return nil
		case "modes":
			err = printModes(a.out, fields[1:])
		default:
			var cmd tpu.Command
			if cmd, err = parseCommand(fields); err == nil {
				err = a.send(cmd)
			}
		}
		if err != nil {
			fmt.Fprintln(a.out, "error:", err)
		}
	}
}

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return historyFile
	}
	return filepath.Join(home, historyFile)
}

// complete offers family names for the first word, mode names for the
// second and parameter names or enumeration values after that.
func complete(input string) []string {
	fields := strings.Fields(input)
	if strings.HasSuffix(input, " ") || len(fields) == 0 {
		fields = append(fields, "")
	}
	prefix := strings.Join(fields[:len(fields)-1], " ")
	if prefix != "" {
		prefix += " "
	}
	word := fields[len(fields)-1]

	var candidates []string
	switch len(fields) {
	case 1:
		for _, f := range tpu.Families() {
			candidates = append(candidates, string(f))
		}
		candidates = append(candidates, "modes", "quit")
	case 2:
		candidates = tpu.Modes(tpu.Family(fields[0]))
	default:
		f, m := tpu.Family(fields[0]), fields[1]
		if opts := tpu.Options(f, m); opts != nil {
			for _, o := range opts {
				candidates = append(candidates, "value="+o)
			}
		} else if params, err := tpu.ModeParams(f, m); err == nil {
			for _, p := range params {
				candidates = append(candidates, p+"=")
			}
		}
	}

	var out []string
	for _, c := range candidates {
		if strings.HasPrefix(c, word) {
			out = append(out, prefix+c)
		}
	}
	sort.Strings(out)
	return out
}
