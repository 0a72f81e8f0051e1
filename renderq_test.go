package renderq_test

import (
	"bufio"
	"bytes"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var (
	renderqPath string

	// tmpDir is a function used to create a tempdir
	// -test.keepdir flag says test to use os.MkdirTemp
	// default is t.TempDir, which will be cleaned up
	tmpDir func(t *testing.T) string
)

// fakeBlender answers the frame range probe and renders two frames,
// documents named broken*.blend crash before the first frame.
const fakeBlender = `#!/bin/sh
case "$2" in
*broken*) echo "Error: cannot read file" >&2; exit 1;;
*hang*) [ "$3" = "--python-expr" ] || exec sleep 30;;
esac
if [ "$3" = "--python-expr" ]; then
	echo "Blender 4.2.0"
	echo "FRAMERANGE:1-2"
	exit 0
fi
echo "Fra:1 Mem:10M"
echo "Fra:2 Mem:10M"
echo "Saved: '/tmp/out'"
exit 0
`

func TestMain(m *testing.M) {
	var keepTestDir bool
	flag.BoolVar(&keepTestDir, "test.keepdir", false, "use os.TempDir instead of t.TempDir to keep test artifacts")
	flag.Lookup("test.keepdir")

	flag.Parse()

	if testing.Short() {
		slog.Warn("integration tests with -short are ignored")
		os.Exit(0)
	}

	if !keepTestDir {
		tmpDir = func(t *testing.T) string {
			t.Helper()
			return t.TempDir()
		}
	} else {
		tmpDir = func(t *testing.T) string {
			t.Helper()
			dir, err := os.MkdirTemp("", t.Name()+"*")
			require.NoError(t, err)
			_, err = fmt.Fprintf(t.Output(), "TEMPDIR %s: -test.keepdir used, so it won't be automatically deleted", dir)
			require.NoError(t, err)
			return dir
		}
	}

	if !isExecutable("renderq-ci") {
		slog.Error("cannot locate renderq-ci binary: run go build -race -cover -covermode=atomic -o renderq-ci ./cmd/renderq/ first")
		os.Exit(1)
	}

	var err error
	renderqPath, err = filepath.Abs("renderq-ci")
	if err != nil {
		slog.Error("can't get abspath for renderq-ci", "error", err)
		os.Exit(1)
	}
	coverDir, err := filepath.Abs("coverage")
	if err != nil {
		slog.Error("can't get value for GOCOVERDIR for renderq-ci", "error", err)
		os.Exit(1)
	}
	err = rmRfMkdirp(coverDir)
	if err != nil {
		slog.Error("can't reset GOCOVERDIR for renderq-ci", "error", err, "coverdir", coverDir)
		os.Exit(1)
	}

	err = os.Setenv("GOCOVERDIR", coverDir)
	if err != nil {
		slog.Error("can't set GOCOVERDIR env variable", "error", err)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

func TestRenderq(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("fake renderer is a shell script")
	}
	dir := chDir(t)

	creat(t, "blender.sh", []byte(fakeBlender))
	require.NoError(t, os.Chmod("blender.sh", 0755))

	config := fmt.Sprintf(`
version: 0
blender: %q
verbose: false
bell: false
log_dir: logs
kill_grace: 5s
`, filepath.Join(dir, "blender.sh"))
	creat(t, "renderq.yaml", []byte(config))
	require.NoError(t, os.Mkdir("shots", 0755))
	creat(t, filepath.Join("shots", "a.blend"), nil)
	creat(t, filepath.Join("shots", "b.blend"), nil)
	creat(t, filepath.Join("shots", "notes.txt"), nil)

	stdout, stderr, err := renderq(t, "run", "--config", "renderq.yaml", "shots")
	if err != nil {
		t.Logf("%s", stderr)
		require.NoError(t, err)
	}

	// store the $TEST_NAME output
	creat(t, t.Name()+".log", []byte(stdout))

	require.Contains(t, stdout, "Detected frame range: 1 to 2")
	require.Contains(t, stdout, "a.blend (Done)")
	require.Contains(t, stdout, "b.blend (Done)")
	require.Contains(t, stdout, "Queue completed (100%)")
	require.NotContains(t, stdout, "notes")

	logs, err := filepath.Glob(filepath.Join("logs", "*.log"))
	require.NoError(t, err)
	require.Len(t, logs, 2)
}

func TestRenderqFailedJob(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("fake renderer is a shell script")
	}
	dir := chDir(t)

	creat(t, "blender.sh", []byte(fakeBlender))
	require.NoError(t, os.Chmod("blender.sh", 0755))
	creat(t, "renderq.yaml", []byte("version: 0\nbell: false\n"))
	creat(t, "broken.blend", nil)
	creat(t, "good.blend", nil)

	t.Setenv("RENDERQ_BLENDER", filepath.Join(dir, "blender.sh"))
	stdout, stderr, err := renderq(t, "run", "--config", "renderq.yaml", "broken.blend", "good.blend")
	require.Error(t, err)
	require.Contains(t, stderr, "1 of 2 jobs failed")

	require.Contains(t, stdout, "broken.blend (Failed)")
	require.Contains(t, stdout, "good.blend (Done)")
	require.Less(t, strings.Index(stdout, "broken.blend (Failed)"), strings.Index(stdout, "good.blend (Done)"))
}

func TestRenderqInterrupt(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("fake renderer is a shell script")
	}
	dir := chDir(t)

	creat(t, "blender.sh", []byte(fakeBlender))
	require.NoError(t, os.Chmod("blender.sh", 0755))
	creat(t, "renderq.yaml", []byte("version: 0\nbell: false\nkill_grace: 2s\n"))
	creat(t, "hang.blend", nil)
	creat(t, "next.blend", nil)

	ctx, cancel := context.WithTimeout(t.Context(), 60*time.Second)
	t.Cleanup(cancel)
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, renderqPath, "run", "--config", "renderq.yaml", "--blender", filepath.Join(dir, "blender.sh"), "hang.blend", "next.blend")
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	require.NoError(t, err)
	require.NoError(t, cmd.Start())

	var out strings.Builder
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		out.WriteString(scanner.Text() + "\n")
		if strings.Contains(scanner.Text(), "Detected frame range") {
			require.NoError(t, cmd.Process.Signal(os.Interrupt))
		}
	}
	err = cmd.Wait()
	require.Error(t, err, out.String())
	require.Contains(t, stderr.String(), "run cancelled")
	require.Contains(t, out.String(), "Queue cancelled")
	require.NotContains(t, out.String(), "next.blend")
}

func TestRenderqConfigBlender(t *testing.T) {
	_ = chDir(t)
	creat(t, "renderq.yaml", []byte("version: 0\n"))

	_, stderr, err := renderq(t, "config", "--config", "renderq.yaml", "blender", "/opt/blender/blender")
	if err != nil {
		t.Logf("%s", stderr)
		require.NoError(t, err)
	}

	stdout, _, err := renderq(t, "config", "--config", "renderq.yaml", "show")
	require.NoError(t, err)
	require.Contains(t, stdout, "blender: /opt/blender/blender")
}

func renderq(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 60*time.Second)
	t.Cleanup(cancel)
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, renderqPath, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().Perm()&0111 != 0
}

func rmRfMkdirp(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return nil
}

func chDir(t *testing.T) string {
	t.Helper()
	tempdir := tmpDir(t)
	t.Chdir(tempdir)
	return tempdir
}

func creat(t *testing.T, path string, content []byte) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, f.Close())
	}()
	_, err = f.Write(content)
	require.NoError(t, err)
	err = f.Sync()
	require.NoError(t, err)
}
