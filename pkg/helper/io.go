package helper

import (
	"io"
	"os"
	"path/filepath"
)

// ReadFile read data from file or stdin
func ReadFile(name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(os.Stdin)
	}

	return os.ReadFile(name)
}

// WriteFile write data to file or stdout
func WriteFile(name string, data []byte, perm os.FileMode) error {
	if name == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}

	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return err
	}

	if err := os.WriteFile(name, data, perm); err != nil {
		return err
	}

	// os.WriteFile does not update the mode of an existing file
	return os.Chmod(name, perm)
}
