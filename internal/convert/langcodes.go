package convert

import "strings"

// LangPlainText is the fallback language code for unknown names.
const LangPlainText = 1

// codeToName maps the service's code-block language integers to Markdown
// fence names. The table is fixed and used in both directions; codes the
// table does not know emit no language fence.
var codeToName = map[int]string{
	1:  "",
	7:  "bash",
	8:  "csharp",
	9:  "c",
	12: "cpp",
	16: "css",
	22: "dockerfile",
	24: "html",
	25: "go",
	29: "json",
	30: "java",
	31: "javascript",
	33: "kotlin",
	37: "lua",
	38: "markdown",
	43: "php",
	49: "python",
	51: "ruby",
	52: "rust",
	53: "scala",
	54: "sql",
	57: "swift",
	59: "typescript",
	62: "xml",
	63: "yaml",
}

// nameToCode is the inverse of codeToName plus common aliases.
var nameToCode = func() map[string]int {
	m := make(map[string]int, len(codeToName)+8)

	for code, name := range codeToName {
		if name != "" {
			m[name] = code
		}
	}

	// Fence-name aliases seen in the wild.
	m["sh"] = 7
	m["shell"] = 7
	m["zsh"] = 7
	m["c++"] = 12
	m["golang"] = 25
	m["js"] = 31
	m["py"] = 49
	m["rb"] = 51
	m["ts"] = 59
	m["yml"] = 63

	return m
}()

// LanguageCode returns the service code for a fence language name.
// Unknown names map to plain text.
func LanguageCode(name string) int {
	if name == "" {
		return LangPlainText
	}

	if code, ok := nameToCode[strings.ToLower(name)]; ok {
		return code
	}

	return LangPlainText
}

// LanguageName returns the fence name for a service language code.
// Unknown codes return "" (no language fence).
func LanguageName(code int) string {
	return codeToName[code]
}
