package builder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalgo.org/deployer/models"
)

func TestRenderDockerfileNode(t *testing.T) {
	p, err := languageProfile(models.LanguageNodeJS, t.TempDir())
	require.NoError(t, err)

	out := renderDockerfile(p, 3000, "/health")
	assert.Contains(t, out, "FROM node:20-alpine\n")
	assert.Contains(t, out, "RUN npm ci || npm install\n")
	assert.Contains(t, out, "EXPOSE 3000\n")
	assert.Contains(t, out, "HEALTHCHECK --interval=30s --timeout=5s --start-period=10s --retries=3")
	assert.Contains(t, out, "http://127.0.0.1:3000/health")
	assert.Contains(t, out, `CMD ["sh", "-c", "npm start"]`)
	assert.NotContains(t, out, "RUN  \n")
}

func TestRenderDockerfileGoIsMultiStage(t *testing.T) {
	p, err := languageProfile(models.LanguageGo, t.TempDir())
	require.NoError(t, err)

	out := renderDockerfile(p, 8080, "/healthz")
	assert.Contains(t, out, "FROM golang:1.23-alpine AS build\n")
	assert.Contains(t, out, "FROM alpine:3.20\n")
	assert.Contains(t, out, "COPY --from=build /out/app /app/app\n")
	assert.Contains(t, out, "EXPOSE 8080\n")
}

func TestProfileOverrides(t *testing.T) {
	p, err := languageProfile(models.LanguagePython, t.TempDir())
	require.NoError(t, err)

	p = p.applyOverrides(&models.BuildpackOptions{
		Version:      "3.11",
		StartCommand: "gunicorn app:app",
	})
	out := renderDockerfile(p, 8000, "/health")
	assert.Contains(t, out, "FROM python:3.11-slim\n")
	assert.Contains(t, out, `CMD ["sh", "-c", "gunicorn app:app"]`)
}
