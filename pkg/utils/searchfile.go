package utils

import (
	"errors"
	"os"
	"path/filepath"
)

var ErrSearchFile = errors.New("could not search file")

// SearchFilePathtoUpward looks for fileName in root and its ancestors.
//
// # Returns
//
// - string: path to the file found first.
//
// - error: ErrSearchFile when it reaches filesystem root without finding.
func SearchFilePathtoUpward(root string, fileName string) (string, error) {
	for dir := root; ; {
		path := filepath.Join(dir, fileName)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", ErrSearchFile
		}
		dir = parent
	}
}
