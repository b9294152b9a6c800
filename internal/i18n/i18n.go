// Package i18n provides the CLI strings in the three supported UI
// languages. Bundles are YAML files embedded at build time; unknown keys
// fall back to English, then to the key itself so a missing translation
// never blanks output.
package i18n

import (
	"embed"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/vthunder/plexus/internal/logging"
)

//go:embed locales/*.yaml
var localeFS embed.FS

var (
	once    sync.Once
	bundles map[string]map[string]string
)

func load() {
	bundles = make(map[string]map[string]string)
	for _, lang := range []string{"en", "fr", "es"} {
		data, err := localeFS.ReadFile("locales/" + lang + ".yaml")
		if err != nil {
			logging.Warn("i18n", "missing locale %s: %v", lang, err)
			continue
		}
		table := make(map[string]string)
		if err := yaml.Unmarshal(data, &table); err != nil {
			logging.Warn("i18n", "bad locale %s: %v", lang, err)
			continue
		}
		bundles[lang] = table
	}
}

// T looks up key in the lang bundle and formats it with args
func T(lang, key string, args ...any) string {
	once.Do(load)
	table, ok := bundles[lang]
	if !ok {
		table = bundles["en"]
	}
	msg, ok := table[key]
	if !ok {
		if en, ok2 := bundles["en"][key]; ok2 {
			msg = en
		} else {
			msg = key
		}
	}
	if len(args) == 0 {
		return msg
	}
	return fmt.Sprintf(msg, args...)
}

// Languages lists the supported UI languages
func Languages() []string { return []string{"en", "fr", "es"} }
