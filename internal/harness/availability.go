package harness

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// LookupBinary resolves the runtime executable on PATH.
func LookupBinary(binary string) (string, error) {
	return lookupBinary(binary, exec.LookPath)
}

func lookupBinary(binary string, lookPath func(file string) (string, error)) (string, error) {
	if lookPath == nil {
		return "", errors.New("lookPath function is required")
	}
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return "", errors.New("runtime binary is required")
	}
	path, err := lookPath(binary)
	if err != nil {
		return "", fmt.Errorf("agent runtime %q not found on PATH: %w", binary, err)
	}
	return path, nil
}
