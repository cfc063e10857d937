package health

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
)

// Binary returns a checker passing when the executable can be resolved,
// either as a path or through PATH.
func Binary(name, binary string) Checker {
	return Checker{Name: name, Check: func(context.Context) error {
		if _, err := exec.LookPath(binary); err != nil {
			return fmt.Errorf("%s not found: %w", binary, err)
		}
		return nil
	}}
}

// WritableDir returns a checker passing when dir exists and a file can be
// created in it.
func WritableDir(name, dir string) Checker {
	return Checker{Name: name, Check: func(context.Context) error {
		st, err := os.Stat(dir)
		if err != nil {
			return err
		}
		if !st.IsDir() {
			return fmt.Errorf("%s is not a directory", dir)
		}
		f, err := os.CreateTemp(dir, ".readyz-*")
		if err != nil {
			return fmt.Errorf("%s is not writable: %w", dir, err)
		}
		return errors.Join(f.Close(), os.Remove(f.Name()))
	}}
}

// Ready returns a checker reporting failure with msg while ready returns
// false.
func Ready(name, msg string, ready func() bool) Checker {
	return Checker{Name: name, Check: func(context.Context) error {
		if !ready() {
			return errors.New(msg)
		}
		return nil
	}}
}
