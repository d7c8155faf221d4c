package appdirs

import (
	"os"
	"path/filepath"
)

const (
	appDirName = "datapilot"
)

func DataDir() (string, error) {
	if override := os.Getenv("DATAPILOT_DATA_DIR"); override != "" {
		return override, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, appDirName), nil
}

// ReportsDir holds user-exported report files.
func ReportsDir(dataDir string) string {
	return filepath.Join(dataDir, "reports")
}
