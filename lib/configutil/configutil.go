package configutil

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"github.com/titanous/json5"
)

func readLayer[T any](path string, out *T) (found bool, err error) {
	contents, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(contents) == 0 {
		return false, nil
	}
	err = json5.Unmarshal(contents, out)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", path, err)
	}
	return true, nil
}

// ReadConfig reads a json5 configuration file, `name` should come with a
// file extension. a sibling `<name>.local.<ext>` file, if present, is
// merged on top so deployments can override checked-in defaults.
func ReadConfig[T any](name string) (T, error) {
	var out T

	ext := filepath.Ext(name)
	localPath := strings.TrimSuffix(name, ext) + ".local" + ext

	foundBase, err := readLayer(name, &out)
	if err != nil {
		return out, err
	}

	var local T
	foundLocal, err := readLayer(localPath, &local)
	if err != nil {
		return out, err
	}
	if foundLocal {
		err = mergo.Merge(&out, local, mergo.WithOverride)
		if err != nil {
			return out, err
		}
		slog.Info("merging config with local overrides", "local", localPath)
	}

	if !foundBase && !foundLocal {
		return out, os.ErrNotExist
	}
	return out, nil
}

// ReadRecursively behaves like ReadConfig but walks up the filesystem
// from the cwd until the root looking for a matching configuration file.
func ReadRecursively[T any](name string) (T, error) {
	var zero T

	current, err := os.Getwd()
	if err != nil {
		return zero, err
	}

	for {
		config, err := ReadConfig[T](filepath.Join(current, name))
		if err == nil {
			return config, nil
		}
		if !os.IsNotExist(err) {
			return zero, err
		}

		parent := filepath.Dir(current)
		if parent == current {
			return zero, os.ErrNotExist
		}
		current = parent
	}
}
