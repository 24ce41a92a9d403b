package analyzer

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

func parseManifest(kind, manifest string) ([]Dependency, []string, bool, error) {
	switch kind {
	case "go":
		return parseGoMod(manifest)
	case "node":
		return parsePackageJSON(manifest)
	case "rust":
		return parseCargoToml(manifest)
	case "zig":
		return parseBuildZig(manifest)
	default:
		return nil, nil, false, fmt.Errorf("unsupported manifest kind %q", kind)
	}
}

// parseGoMod extracts the direct require block. Indirect requires are
// not top-level dependencies.
func parseGoMod(path string) ([]Dependency, []string, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, false, err
	}
	defer f.Close()

	var deps []Dependency
	var issues []string
	inRequire := false
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "require ("):
			inRequire = true
		case inRequire && line == ")":
			inRequire = false
		case inRequire || strings.HasPrefix(line, "require "):
			entry := strings.TrimPrefix(line, "require ")
			if strings.Contains(entry, "// indirect") {
				continue
			}
			fields := strings.Fields(entry)
			if len(fields) >= 2 {
				deps = append(deps, Dependency{Name: fields[0], Version: fields[1]})
			}
		case strings.HasPrefix(line, "replace "):
			issues = append(issues, "go.mod carries a replace directive: "+line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, false, err
	}
	// Go release builds are optimised by default.
	return deps, issues, true, nil
}

func parsePackageJSON(path string) ([]Dependency, []string, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, false, err
	}
	var manifest struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
		Scripts         map[string]string `json:"scripts"`
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, nil, false, fmt.Errorf("parse package.json: %w", err)
	}
	var deps []Dependency
	for name, version := range manifest.Dependencies {
		deps = append(deps, Dependency{Name: name, Version: version})
	}
	for name, version := range manifest.DevDependencies {
		deps = append(deps, Dependency{Name: name, Version: version, Dev: true})
	}
	var issues []string
	if globs, err := workspaceGlobs(filepath.Dir(path)); err == nil && len(globs) > 0 {
		issues = append(issues, fmt.Sprintf("pnpm workspace with %d package globs; analysis covers the root package only", len(globs)))
	}
	_, optimized := manifest.Scripts["build"]
	return deps, issues, optimized, nil
}

// workspaceGlobs reads pnpm-workspace.yaml when present.
func workspaceGlobs(dir string) ([]string, error) {
	data, err := os.ReadFile(filepath.Join(dir, "pnpm-workspace.yaml"))
	if err != nil {
		return nil, err
	}
	var ws struct {
		Packages []string `yaml:"packages"`
	}
	if err := yaml.Unmarshal(data, &ws); err != nil {
		return nil, err
	}
	return ws.Packages, nil
}

// parseCargoToml walks the [dependencies] table line by line; full TOML
// parsing is out of scope and unnecessary for top-level enumeration.
func parseCargoToml(path string) ([]Dependency, []string, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, false, err
	}
	defer f.Close()

	var deps []Dependency
	optimized := false
	section := ""
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.Trim(line, "[]")
			if section == "profile.release" {
				optimized = true
			}
			continue
		}
		if section != "dependencies" && section != "dev-dependencies" {
			continue
		}
		name, rest, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		version := strings.Trim(strings.TrimSpace(rest), `"`)
		if strings.HasPrefix(version, "{") {
			// Inline table: pull the version key when present.
			if _, v, ok := strings.Cut(version, `version = "`); ok {
				version, _, _ = strings.Cut(v, `"`)
			} else {
				version = ""
			}
		}
		deps = append(deps, Dependency{
			Name:    name,
			Version: version,
			Dev:     section == "dev-dependencies",
		})
	}
	return deps, nil, optimized, scanner.Err()
}

// parseBuildZig detects dependencies through the adjacent
// build.zig.zon manifest and optimisation through ReleaseFast/Safe
// markers in the build script.
func parseBuildZig(path string) ([]Dependency, []string, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, false, err
	}
	optimized := strings.Contains(string(data), "ReleaseFast") ||
		strings.Contains(string(data), "ReleaseSafe") ||
		strings.Contains(string(data), "standardOptimizeOption")

	var deps []Dependency
	var issues []string
	zon, err := os.ReadFile(filepath.Join(filepath.Dir(path), "build.zig.zon"))
	if err == nil {
		for _, line := range strings.Split(string(zon), "\n") {
			line = strings.TrimSpace(line)
			if strings.HasPrefix(line, ".") && strings.Contains(line, "= .{") && !strings.HasPrefix(line, ".dependencies") &&
				!strings.HasPrefix(line, ".name") && !strings.HasPrefix(line, ".version") && !strings.HasPrefix(line, ".paths") {
				name := strings.TrimPrefix(strings.Fields(line)[0], ".")
				deps = append(deps, Dependency{Name: name, Version: "pinned"})
			}
		}
	} else {
		issues = append(issues, "build.zig without build.zig.zon; dependency list unavailable")
	}
	return deps, issues, optimized, nil
}
