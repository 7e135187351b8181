package cmd

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/dividat/refractometer/src/refractometer/config"
)

// setupLogging builds the root logger. When toFile is set and no file is
// configured, logs go to refractometer.log in the config directory.
func setupLogging(logConfig config.LogConfig, toFile bool) (*logrus.Entry, func(), error) {
	logger := logrus.New()

	level, err := logrus.ParseLevel(strings.ToLower(logConfig.Level))
	if err != nil {
		return nil, nil, err
	}
	logger.SetLevel(level)

	if strings.ToLower(logConfig.Format) == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	path := logConfig.File
	if path == "" && toFile {
		path = filepath.Join(config.ConfigDir(), "refractometer.log")
	}

	closeLog := func() {}
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, nil, err
		}
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, err
		}
		logger.SetOutput(file)
		closeLog = func() { file.Close() }
	} else {
		logger.SetOutput(os.Stderr)
	}

	return logrus.NewEntry(logger), closeLog, nil
}
