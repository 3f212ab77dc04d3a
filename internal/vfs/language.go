package vfs

import (
	"strings"

	"github.com/GriffinCanCode/webterm/internal/shared/paths"
	"github.com/gabriel-vasile/mimetype"
)

const defaultLanguage = "plaintext"

var languageByExt = map[string]string{
	".py":   "python",
	".js":   "javascript",
	".mjs":  "javascript",
	".ts":   "typescript",
	".jsx":  "javascript",
	".tsx":  "typescript",
	".json": "json",
	".html": "html",
	".htm":  "html",
	".css":  "css",
	".md":   "markdown",
	".txt":  "plaintext",
	".sh":   "shell",
	".bash": "shell",
	".go":   "go",
	".java": "java",
	".c":    "c",
	".h":    "c",
	".cpp":  "cpp",
	".hpp":  "cpp",
	".rs":   "rust",
	".rb":   "ruby",
	".php":  "php",
	".sql":  "sql",
	".xml":  "xml",
	".yaml": "yaml",
	".yml":  "yaml",
	".toml": "toml",
	".csv":  "csv",
	".ini":  "ini",
}

var languageByMIME = map[string]string{
	"text/x-python":      "python",
	"text/x-python3":     "python",
	"text/javascript":    "javascript",
	"application/json":   "json",
	"text/html":          "html",
	"text/xml":           "xml",
	"text/x-shellscript": "shell",
	"text/x-php":         "php",
	"text/csv":           "csv",
	"text/x-lua":         "lua",
	"text/x-perl":        "perl",
	"text/x-tcl":         "tcl",
}

// LanguageForPath maps a file extension onto an editor language id
func LanguageForPath(p string) (string, bool) {
	lang, ok := languageByExt[paths.Ext(p)]
	return lang, ok
}

// DetectLanguage picks the language for a new file. The extension wins;
// content sniffing is the fallback for unknown or missing extensions.
func DetectLanguage(p, content string) string {
	if lang, ok := LanguageForPath(p); ok {
		return lang
	}
	if content == "" {
		return defaultLanguage
	}

	mtype := mimetype.Detect([]byte(content))
	for m := mtype; m != nil; m = m.Parent() {
		base, _, _ := strings.Cut(m.String(), ";")
		if lang, ok := languageByMIME[base]; ok {
			return lang
		}
	}
	return defaultLanguage
}

// IsBinary reports whether content sniffs as non-text
func IsBinary(content string) bool {
	if content == "" {
		return false
	}
	mtype := mimetype.Detect([]byte(content))
	for m := mtype; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return false
		}
	}
	return true
}
