package jitengine

import (
	"fmt"
	"os"
)

func errNoCompiler(cc string) error {
	return fmt.Errorf("jitengine: no usable C compiler (%s not found on PATH)", cc)
}

func readFileBytes(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func statSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
