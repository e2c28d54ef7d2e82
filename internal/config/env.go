package config

import (
	"encoding/json"
	"fmt"
	"net"
	"reflect"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix namespaces environment overrides: MEDREMIND_STORAGE_URI sets storage.uri.
const EnvPrefix = "MEDREMIND_"

// legacyEnv maps variable names understood by earlier deployments onto
// config paths. Prefixed variables win over these.
var legacyEnv = map[string]string{
	"SMTP_SERVER":      "notifier.smtp.host",
	"SMTP_PORT":        "notifier.smtp.port",
	"EMAIL_USER":       "notifier.smtp.username",
	"EMAIL_PASSWORD":   "notifier.smtp.password",
	"MONGODB_URI":      "storage.uri",
	"MONGODB_DB_NAME":  "storage.database",
	"DEFAULT_TIMEZONE": "reminders.default_timezone",
}

// overlayEnv layers legacy and prefixed environment variables over cfg and
// decodes the merged tree back into a fresh Config.
func overlayEnv(cfg *Config, environ []string) (*Config, error) {
	base, err := toMap(cfg)
	if err != nil {
		return nil, err
	}

	k := koanf.New(".")
	if err := k.Load(confmap.Provider(base, "."), nil); err != nil {
		return nil, fmt.Errorf("load base config: %w", err)
	}

	legacy := legacyValues(environ)
	if len(legacy) > 0 {
		if err := k.Load(confmap.Provider(legacy, "."), nil); err != nil {
			return nil, fmt.Errorf("load legacy env: %w", err)
		}
	}

	paths := envPaths()
	if err := k.Load(env.Provider(".", env.Opt{
		Prefix:      EnvPrefix,
		EnvironFunc: func() []string { return environ },
		TransformFunc: func(key, value string) (string, any) {
			name := strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
			return paths[name], value
		},
	}), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	out := &Config{}
	if err := k.UnmarshalWithConf("", out, koanf.UnmarshalConf{
		Tag: "json",
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           out,
			TagName:          "json",
			WeaklyTypedInput: true,
		},
	}); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return out, nil
}

func toMap(cfg *Config) (map[string]any, error) {
	b, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func legacyValues(environ []string) map[string]any {
	out := make(map[string]any)
	var host, port string
	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(value) == "" {
			continue
		}
		if path, known := legacyEnv[name]; known {
			out[path] = value
		}
		switch name {
		case "API_HOST":
			host = value
		case "API_PORT":
			port = value
		}
	}
	if host != "" || port != "" {
		if host == "" {
			host = "0.0.0.0"
		}
		if port == "" {
			port = "8000"
		}
		out["http.addr"] = net.JoinHostPort(host, port)
	}
	return out
}

// envPaths maps the underscore form of every config path to its dotted form
// (notifier_smtp_from_name -> notifier.smtp.from_name).
func envPaths() map[string]string {
	out := make(map[string]string)
	var walk func(t reflect.Type, prefix string)
	walk = func(t reflect.Type, prefix string) {
		for t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "" || name == "-" {
				continue
			}
			path := name
			if prefix != "" {
				path = prefix + "." + name
			}
			ft := f.Type
			for ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct {
				walk(ft, path)
				continue
			}
			out[strings.ReplaceAll(path, ".", "_")] = path
		}
	}
	walk(reflect.TypeOf(Config{}), "")
	return out
}
