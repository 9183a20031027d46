package services

import (
	"path"
	"strings"

	"git-context-agent/internal/logger"
)

// FilterRules decide which repository files are worth extracting. A file is
// kept when its extension is allowed or its name is explicitly included, and
// no path segment matches an excluded directory.
type FilterRules struct {
	AllowedExtensions map[string]bool
	IncludedFiles     map[string]bool
	ExcludedDirs      map[string]bool
}

// DefaultFilterRules covers the file types the analysis pipeline understands.
func DefaultFilterRules() FilterRules {
	return FilterRules{
		AllowedExtensions: map[string]bool{
			".go": true, ".py": true, ".md": true, ".txt": true,
			".yaml": true, ".yml": true, ".sh": true, ".toml": true,
		},
		IncludedFiles: map[string]bool{
			"Makefile":   true,
			"Dockerfile": true,
		},
		ExcludedDirs: map[string]bool{
			".git": true, "node_modules": true, "vendor": true,
			"venv": true, "__pycache__": true, ".idea": true,
		},
	}
}

// AnalysisService extracts filtered content from a cloned repository.
type AnalysisService struct {
	repositoryService *RepositoryService
	defaultRules      FilterRules
}

func NewAnalysisService(repositoryService *RepositoryService, rules FilterRules) *AnalysisService {
	return &AnalysisService{
		repositoryService: repositoryService,
		defaultRules:      rules,
	}
}

// ExtractRepositoryContent lists the checkout, applies the filter rules and
// reads every surviving file. The result maps relative file path to content.
func (s *AnalysisService) ExtractRepositoryContent(repositoryID string) (map[string]string, error) {
	logger.Info("Extracting repository content", "repository_id", repositoryID)

	files, err := s.repositoryService.FilesList(repositoryID)
	if err != nil {
		return nil, err
	}

	filtered := FilterFiles(files, s.defaultRules)
	logger.Info("Filtered repository files", "repository_id", repositoryID, "total", len(files), "kept", len(filtered))

	content := make(map[string]string, len(filtered))
	for _, filePath := range filtered {
		fileContent, err := s.repositoryService.FileContentRead(repositoryID, filePath)
		if err != nil {
			// Unreadable files (binary, permissions) are skipped, not fatal.
			logger.Warn("Skipping unreadable file", "file", filePath, "error", err.Error())
			continue
		}
		content[filePath] = fileContent
	}
	return content, nil
}

// FilterFiles applies the filter rules to a list of relative paths.
func FilterFiles(files []string, rules FilterRules) []string {
	var filtered []string
	for _, filePath := range files {
		if excludedDir(filePath, rules.ExcludedDirs) {
			continue
		}
		name := path.Base(filePath)
		extension := strings.ToLower(path.Ext(filePath))
		if rules.IncludedFiles[name] || rules.AllowedExtensions[extension] {
			filtered = append(filtered, filePath)
		}
	}
	return filtered
}

func excludedDir(filePath string, excludedDirs map[string]bool) bool {
	directory := path.Dir(filePath)
	if directory == "." {
		return false
	}
	for _, segment := range strings.Split(directory, "/") {
		if excludedDirs[segment] {
			return true
		}
	}
	return false
}
