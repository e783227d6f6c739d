// Package config loads and validates the pulse settings.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// ExpandPath expands a leading ~ and $VAR references in a path.
func ExpandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = home + path[1:]
		}
	}
	return os.ExpandEnv(path)
}

// ResolvePath expands path and anchors it at dir when it is still relative. An
// empty dir leaves relative paths to the working directory.
func ResolvePath(path, dir string) string {
	path = ExpandPath(path)
	if path == "" || dir == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

// pathSetting reads a path key. A relative path written in the config file is
// taken relative to that file, so the file works from any directory.
func pathSetting(v *viper.Viper, key string) string {
	var dir string
	if file := v.ConfigFileUsed(); file != "" && v.InConfig(key) {
		dir = filepath.Dir(file)
	}
	return ResolvePath(v.GetString(key), dir)
}
