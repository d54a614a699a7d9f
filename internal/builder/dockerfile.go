package builder

import (
	"fmt"
	"path/filepath"
	"strings"

	"evalgo.org/deployer/models"
)

// GeneratedDockerfile is the name of the build file written into the source
// tree. A checked-in Dockerfile is never overwritten.
const GeneratedDockerfile = "Dockerfile.deployer"

// profile is the resolved build recipe for one language.
type profile struct {
	Language       models.Language
	BaseImage      string
	Version        string
	InstallCommand string
	BuildCommand   string
	StartCommand   string

	// Multi-stage go builds copy the binary into RuntimeImage
	RuntimeImage string
}

// languageProfile returns the default recipe for lang. Every Language has a case.
func languageProfile(lang models.Language, dir string) (profile, error) {
	switch lang {
	case models.LanguageNodeJS:
		pm := detectNodePackageManager(dir)
		p := profile{Language: lang, Version: "20", StartCommand: "npm start"}
		switch pm {
		case nodePMYarn:
			p.InstallCommand = "yarn install --frozen-lockfile"
			p.StartCommand = "yarn start"
		case nodePMPNPM:
			p.InstallCommand = "corepack enable && pnpm install --frozen-lockfile"
			p.StartCommand = "pnpm start"
		default:
			p.InstallCommand = "npm ci || npm install"
		}
		if manifest, ok := loadPackageManifest(dir); ok && manifest.hasScript("build") {
			p.BuildCommand = string(pm) + " run build"
		}
		p.BaseImage = "node:%s-alpine"
		return p, nil
	case models.LanguagePython:
		p := profile{
			Language:       lang,
			Version:        "3.12",
			BaseImage:      "python:%s-slim",
			InstallCommand: "pip install --no-cache-dir -r requirements.txt",
			StartCommand:   "python app.py",
		}
		switch {
		case fileExists(filepath.Join(dir, "pyproject.toml")) && !fileExists(filepath.Join(dir, "requirements.txt")):
			p.InstallCommand = "pip install --no-cache-dir ."
		case fileExists(filepath.Join(dir, "Pipfile")) && !fileExists(filepath.Join(dir, "requirements.txt")):
			p.InstallCommand = "pip install --no-cache-dir pipenv && pipenv install --system --deploy"
		}
		if fileExists(filepath.Join(dir, "main.py")) && !fileExists(filepath.Join(dir, "app.py")) {
			p.StartCommand = "python main.py"
		}
		return p, nil
	case models.LanguageRuby:
		p := profile{
			Language:       lang,
			Version:        "3.3",
			BaseImage:      "ruby:%s-slim",
			InstallCommand: "bundle install",
			StartCommand:   "bundle exec ruby app.rb",
		}
		if fileExists(filepath.Join(dir, "config.ru")) {
			p.StartCommand = "bundle exec rackup --host 0.0.0.0 --port ${PORT}"
		}
		return p, nil
	case models.LanguageGo:
		return profile{
			Language:       lang,
			Version:        "1.23",
			BaseImage:      "golang:%s-alpine",
			InstallCommand: "go mod download",
			BuildCommand:   "CGO_ENABLED=0 go build -o /out/app .",
			StartCommand:   "/app/app",
			RuntimeImage:   "alpine:3.20",
		}, nil
	}
	return profile{}, fmt.Errorf("unsupported language %q", lang)
}

// applyOverrides replaces profile defaults with explicitly configured values.
func (p profile) applyOverrides(opts *models.BuildpackOptions) profile {
	if opts == nil {
		return p
	}
	if opts.Version != "" {
		p.Version = opts.Version
	}
	if opts.InstallCommand != "" {
		p.InstallCommand = opts.InstallCommand
	}
	if opts.BuildCommand != "" {
		p.BuildCommand = opts.BuildCommand
	}
	if opts.StartCommand != "" {
		p.StartCommand = opts.StartCommand
	}
	return p
}

func (p profile) image() string {
	return fmt.Sprintf(p.BaseImage, p.Version)
}

// healthProbe is the in-image HEALTHCHECK for application containers.
func healthProbe(port int, path string) string {
	return fmt.Sprintf(
		"HEALTHCHECK --interval=30s --timeout=5s --start-period=10s --retries=3 \\\n  CMD wget -q --spider http://127.0.0.1:%d%s || exit 1\n",
		port, path)
}

// renderDockerfile produces the build file for p.
func renderDockerfile(p profile, port int, healthPath string) string {
	var b strings.Builder

	if p.RuntimeImage != "" {
		fmt.Fprintf(&b, "FROM %s AS build\n", p.image())
		b.WriteString("WORKDIR /src\n")
		b.WriteString("COPY . .\n")
		fmt.Fprintf(&b, "RUN %s\n", p.InstallCommand)
		if p.BuildCommand != "" {
			fmt.Fprintf(&b, "RUN %s\n", p.BuildCommand)
		}
		b.WriteString("\n")
		fmt.Fprintf(&b, "FROM %s\n", p.RuntimeImage)
		b.WriteString("RUN apk add --no-cache ca-certificates wget\n")
		b.WriteString("WORKDIR /app\n")
		b.WriteString("COPY --from=build /out/app /app/app\n")
	} else {
		fmt.Fprintf(&b, "FROM %s\n", p.image())
		if p.Language == models.LanguagePython || p.Language == models.LanguageRuby {
			b.WriteString("RUN apt-get update && apt-get install -y --no-install-recommends wget && rm -rf /var/lib/apt/lists/*\n")
		}
		b.WriteString("WORKDIR /app\n")
		b.WriteString("COPY . .\n")
		fmt.Fprintf(&b, "RUN %s\n", p.InstallCommand)
		if p.BuildCommand != "" {
			fmt.Fprintf(&b, "RUN %s\n", p.BuildCommand)
		}
	}

	fmt.Fprintf(&b, "ENV PORT=%d\n", port)
	fmt.Fprintf(&b, "EXPOSE %d\n", port)
	b.WriteString(healthProbe(port, healthPath))
	fmt.Fprintf(&b, "CMD [\"sh\", \"-c\", %q]\n", p.StartCommand)
	return b.String()
}
