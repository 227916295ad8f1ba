package cmd

import (
	"os"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	// BinaryName is the name used in usage text.
	BinaryName = "linkd"

	// DefaultConfigPath is read when no -config flag is given. A missing
	// file at this path means built-in defaults.
	DefaultConfigPath = "/etc/linkd/linkd.hcl"

	// ConfigEnv overrides DefaultConfigPath.
	ConfigEnv = "LINKD_CONFIG"
)

var supportedLangs = []language.Tag{
	language.English,
	language.German,
}

var matcher = language.NewMatcher(supportedLangs)

// Printer is the CLI message printer. Numbers are formatted for the
// user's locale.
var Printer = NewCLIPrinter()

// NewCLIPrinter returns a printer for the locale named by LC_ALL or LANG.
func NewCLIPrinter() *message.Printer {
	lang := os.Getenv("LC_ALL")
	if lang == "" {
		lang = os.Getenv("LANG")
	}
	return message.NewPrinter(matchLocale(lang))
}

// matchLocale maps a POSIX locale ("de_DE.UTF-8") to a supported tag.
func matchLocale(lang string) language.Tag {
	if i := strings.IndexAny(lang, ".@"); i != -1 {
		lang = lang[:i]
	}
	if lang == "" || lang == "C" || lang == "POSIX" {
		return language.English
	}
	tag, err := language.Parse(strings.ReplaceAll(lang, "_", "-"))
	if err != nil {
		return language.English
	}
	_, idx, _ := matcher.Match(tag)
	return supportedLangs[idx]
}
