package builder

import (
	"encoding/json"
	"os"
	"path/filepath"

	"evalgo.org/deployer/models"
)

// languageMarkers lists marker files in detection priority order.
var languageMarkers = []struct {
	language models.Language
	files    []string
}{
	{models.LanguageNodeJS, []string{"package.json"}},
	{models.LanguagePython, []string{"requirements.txt", "pyproject.toml", "Pipfile"}},
	{models.LanguageRuby, []string{"Gemfile", "Rakefile"}},
	{models.LanguageGo, []string{"go.mod", "go.sum"}},
}

// DetectLanguage inspects dir for marker files. The second return value is
// false when nothing matched and the nodejs fallback was used.
func DetectLanguage(dir string) (models.Language, bool) {
	for _, m := range languageMarkers {
		for _, f := range m.files {
			if fileExists(filepath.Join(dir, f)) {
				return m.language, true
			}
		}
	}
	return models.LanguageNodeJS, false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

type nodePackageManager string

const (
	nodePMNPM  nodePackageManager = "npm"
	nodePMYarn nodePackageManager = "yarn"
	nodePMPNPM nodePackageManager = "pnpm"
)

func detectNodePackageManager(dir string) nodePackageManager {
	switch {
	case fileExists(filepath.Join(dir, "pnpm-lock.yaml")):
		return nodePMPNPM
	case fileExists(filepath.Join(dir, "yarn.lock")):
		return nodePMYarn
	default:
		return nodePMNPM
	}
}

type npmManifest struct {
	Scripts map[string]string `json:"scripts"`
	Engines map[string]string `json:"engines"`
}

func loadPackageManifest(dir string) (*npmManifest, bool) {
	data, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil {
		return nil, false
	}
	var m npmManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, false
	}
	return &m, true
}

func (m *npmManifest) hasScript(name string) bool {
	if m == nil {
		return false
	}
	_, ok := m.Scripts[name]
	return ok
}
