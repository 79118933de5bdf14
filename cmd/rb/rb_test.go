package main

import (
	"flag"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmdtest"
	"github.com/pkg/fileutils"
)

var update = flag.Bool("update", false, "update test files with results")

func TestCLI(t *testing.T) {
	ts, err := cmdtest.Read("testdata")
	if err != nil {
		t.Fatal(err)
	}
	srcdir, err := os.Getwd()
	if err != nil {
		panic(err)
	}
	ts.Setup = func(dir string) (err error) {
		for _, fn := range []string{"book.xml", "book2.xml", "hello.txt"} {
			err = fileutils.CopyFile(filepath.Join(dir, fn), filepath.Join(srcdir, "testdata", fn))
			if err != nil {
				return
			}
		}
		return
	}
	ts.Commands["rb"] = cmdtest.InProcessProgram("rb", run)
	ts.Run(t, *update)
}

func TestInfo(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "rb")
	os.Setenv("RBDIR", dir)
	defer os.Unsetenv("RBDIR")
	args := os.Args
	defer func() { os.Args = args }()

	os.Args = []string{"rb", "init", "--backend=sqlite"}
	rc := run()
	if rc != 0 {
		t.Fatalf("init rc %d", rc)
	}
	os.Args = []string{"rb", "info"}
	rc = run()
	if rc != 0 {
		t.Fatalf("info rc %d", rc)
	}
	os.Args = []string{"rb", "init"}
	rc = run()
	if rc == 0 {
		t.Fatal("second init succeeded")
	}

	conf, err := ioutil.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(conf), `"Backend": "sqlite"`) {
		t.Fatalf("config: %s", conf)
	}
}
