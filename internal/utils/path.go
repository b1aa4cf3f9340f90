package utils

import "os"

func EnsureDir(path string) error {
	// already exists
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	return os.MkdirAll(path, 0o755)
}

func DirExists(path string) bool {
	// check if the path is a directory
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

func FileExists(path string) bool {
	// check if the path is a file
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
