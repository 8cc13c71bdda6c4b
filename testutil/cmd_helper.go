/*
Copyright 2024 The InfraWeave Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package testutil

import (
	"fmt"
	"os/exec"
	"strings"
	"testing"
)

// FakeCmd scripts a sequence of expected commands. Each expectation is
// consumed in order; a mismatch or a leftover expectation fails the test.
type FakeCmd struct {
	t    *testing.T
	runs []run
}

type run struct {
	command string
	stdout  []byte
	err     error
}

func NewFakeCmd(t *testing.T) *FakeCmd {
	f := &FakeCmd{t: t}
	t.Cleanup(func() {
		if len(f.runs) > 0 {
			t.Errorf("expected %d more command(s), first: %s", len(f.runs), f.runs[0].command)
		}
	})
	return f
}

func (f *FakeCmd) AndRun(command string) *FakeCmd {
	return f.addRun(run{command: command})
}

func (f *FakeCmd) AndRunErr(command string, err error) *FakeCmd {
	return f.addRun(run{command: command, err: err})
}

func (f *FakeCmd) AndRunOut(command string, output string) *FakeCmd {
	return f.addRun(run{command: command, stdout: []byte(output)})
}

func (f *FakeCmd) AndRunOutErr(command string, output string, err error) *FakeCmd {
	return f.addRun(run{command: command, stdout: []byte(output), err: err})
}

func (f *FakeCmd) addRun(r run) *FakeCmd {
	f.runs = append(f.runs, r)
	return f
}

func (f *FakeCmd) popRun(actual string) (run, error) {
	if len(f.runs) == 0 {
		return run{}, fmt.Errorf("unexpected command: %s", actual)
	}
	r := f.runs[0]
	f.runs = f.runs[1:]
	if r.command != actual {
		return run{}, fmt.Errorf("expected: %s. Got: %s", r.command, actual)
	}
	return r, nil
}

func (f *FakeCmd) RunCmdOut(cmd *exec.Cmd) ([]byte, error) {
	r, err := f.popRun(strings.Join(cmd.Args, " "))
	if err != nil {
		f.t.Error(err)
		return nil, err
	}
	return r.stdout, r.err
}

func (f *FakeCmd) RunCmd(cmd *exec.Cmd) error {
	r, err := f.popRun(strings.Join(cmd.Args, " "))
	if err != nil {
		f.t.Error(err)
		return err
	}
	if r.stdout != nil && cmd.Stdout != nil {
		if _, err := cmd.Stdout.Write(r.stdout); err != nil {
			return err
		}
	}
	return r.err
}
