// Package walk turns command line arguments into render job paths.
package walk

import (
	"context"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Ext is the extension of documents picked up from directories.
const Ext = ".blend"

// Paths expands every argument to a sequence of document paths:
//   - a regular file is returned as is, whatever its extension
//   - a directory is walked recursively for *.blend files (case insensitive)
//   - an argument with glob meta characters is matched with doublestar,
//     e.g. shots/**/*.blend, only regular files are returned
//
// Order of arguments is kept, directories and globs yield lexically sorted
// paths. An error is yielded for arguments which can't be resolved, the
// iteration continues with the next one.
func Paths(ctx context.Context, args ...string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, arg := range args {
			if ctx.Err() != nil {
				return
			}
			for path, err := range expand(ctx, arg) {
				if !yield(path, err) {
					return
				}
			}
		}
	}
}

// Collect gathers all paths, the first error ends it.
func Collect(ctx context.Context, args ...string) ([]string, error) {
	var ret []string
	for path, err := range Paths(ctx, args...) {
		if err != nil {
			return nil, err
		}
		ret = append(ret, path)
	}
	return ret, nil
}

func expand(ctx context.Context, arg string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		info, statErr := os.Stat(arg)
		switch {
		case statErr == nil && info.Mode().IsRegular():
			yield(arg, nil)
		case statErr == nil && info.IsDir():
			for path, err := range dir(ctx, arg) {
				if !yield(path, err) {
					return
				}
			}
		case hasMeta(arg):
			matches, err := doublestar.FilepathGlob(arg, doublestar.WithFilesOnly())
			if err != nil {
				yield("", fmt.Errorf("matching %s: %w", arg, err))
				return
			}
			if len(matches) == 0 {
				yield("", fmt.Errorf("%s: %w", arg, fs.ErrNotExist))
				return
			}
			for _, m := range matches {
				if !yield(m, nil) {
					return
				}
			}
		case statErr != nil:
			yield("", statErr)
		default:
			yield("", fmt.Errorf("%s: not a regular file", arg))
		}
	}
}

func dir(ctx context.Context, root string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		fn := func(path string, d fs.DirEntry, err error) error {
			if ctx.Err() != nil {
				return fs.SkipAll
			}
			if err != nil {
				if !yield("", err) {
					return fs.SkipAll
				}
				return nil
			}
			if !d.Type().IsRegular() || !strings.EqualFold(filepath.Ext(path), Ext) {
				return nil
			}
			if !yield(filepath.Join(root, filepath.FromSlash(path)), nil) {
				return fs.SkipAll
			}
			return nil
		}
		_ = fs.WalkDir(os.DirFS(root), ".", fn)
	}
}

func hasMeta(s string) bool {
	return strings.ContainsAny(s, `*?[{`)
}
