package config

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	baseFile    = "base.yaml"
	secretsFile = "secrets.env"
)

// LoadConfig 加载配置，支持多环境
//
// The result is configDir/base.yaml, overlaid with configDir/<env>.yaml when that
// file exists, with ${NAME} placeholders filled from configDir/secrets.env.
// System environment variables are applied afterwards by the Override*FromEnv
// helpers. A missing base.yaml yields an error wrapping fs.ErrNotExist.
func LoadConfig(env string, configDir string) (map[string]interface{}, error) {
	if configDir == "" {
		configDir = "config"
	}

	merged, err := readYAML(filepath.Join(configDir, baseFile))
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", baseFile, err)
	}

	if env != "" && env != "base" {
		overlay, err := readYAML(filepath.Join(configDir, env+".yaml"))
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("failed to load %s.yaml: %w", env, err)
		default:
			merged = mergeMaps(merged, overlay)
		}
	}

	secrets, err := readEnvFile(filepath.Join(configDir, secretsFile))
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("failed to load %s: %w", secretsFile, err)
	default:
		merged = substitute(merged, secrets).(map[string]interface{})
	}

	return merged, nil
}

func readYAML(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	out := map[string]interface{}{}
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]interface{}{}
	}
	return out, nil
}

// readEnvFile parses KEY=VALUE lines. Blank lines and # comments are skipped;
// one layer of matching quotes around a value is removed.
func readEnvFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	vars := map[string]string{}
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		vars[strings.TrimSpace(key)] = unquote(strings.TrimSpace(value))
	}
	return vars, sc.Err()
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

// mergeMaps returns a new map: overlay wins, nested maps merge key by key.
func mergeMaps(base, overlay map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		baseChild, baseIsMap := out[k].(map[string]interface{})
		overlayChild, overlayIsMap := v.(map[string]interface{})
		if baseIsMap && overlayIsMap {
			out[k] = mergeMaps(baseChild, overlayChild)
			continue
		}
		out[k] = v
	}
	return out
}

// substitute replaces ${NAME} in every string of v. Unknown names are left as is.
func substitute(v interface{}, vars map[string]string) interface{} {
	switch val := v.(type) {
	case string:
		return expandPlaceholders(val, vars)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, child := range val {
			out[k] = substitute(child, vars)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, child := range val {
			out[i] = substitute(child, vars)
		}
		return out
	default:
		return v
	}
}

func expandPlaceholders(s string, vars map[string]string) string {
	var b strings.Builder
	for {
		start := strings.Index(s, "${")
		if start < 0 {
			break
		}
		end := strings.IndexByte(s[start:], '}')
		if end < 0 {
			break
		}
		end += start

		b.WriteString(s[:start])
		if value, ok := vars[s[start+2:end]]; ok {
			b.WriteString(value)
		} else {
			b.WriteString(s[start : end+1])
		}
		s = s[end+1:]
	}
	b.WriteString(s)
	return b.String()
}

// GetEnv 获取环境变量，如果未设置则返回默认值
func GetEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return defaultValue
}

// GetConfigEnv returns CONFIG_ENV, defaulting to "local".
func GetConfigEnv() string {
	return GetEnv("CONFIG_ENV", "local")
}
