package utils

import (
	"fmt"
	"os"
	"path/filepath"
)

func GetEnvWithKey(key string) string {
	return os.Getenv(key)
}

// GetEnvWithDefault returns the environment value or def when unset.
func GetEnvWithDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func Contains(ar []string, b string) bool {
	for _, a := range ar {
		if a == b {
			return true
		}
	}
	return false
}

func CreateFile(filePath string) (*os.File, error) {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %v", err)
	}

	file, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %v", err)
	}
	return file, nil
}

func MaskString(s string) string {
	if len(s) < 4 {
		return s
	}
	return "****" + s[len(s)-4:]
}
