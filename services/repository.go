package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	git "github.com/go-git/go-git/v5"

	"git-context-agent/internal/logger"
)

// RepositoryService manages the on-disk working copy for each repository id.
// The directory layout is <dataBaseDir>/repos/<repository_id>/repo.
type RepositoryService struct {
	dataBaseDir string
}

func NewRepositoryService(dataBaseDir string) *RepositoryService {
	return &RepositoryService{dataBaseDir: dataBaseDir}
}

func (s *RepositoryService) repositoryDir(repositoryID string) string {
	return filepath.Join(s.dataBaseDir, "repos", repositoryID)
}

func (s *RepositoryService) checkoutDir(repositoryID string) string {
	return filepath.Join(s.repositoryDir(repositoryID), "repo")
}

// Clone checks out the repository into a fresh working directory. Any
// existing directory for the id is removed first, so a retried clone always
// starts from a clean state.
func (s *RepositoryService) Clone(ctx context.Context, url, repositoryID string) error {
	repositoryDir := s.repositoryDir(repositoryID)

	logger.Info("Cloning repository", "repository_id", repositoryID)
	if err := os.RemoveAll(repositoryDir); err != nil {
		return fmt.Errorf("failed to clear working directory: %v", err)
	}
	if err := os.MkdirAll(repositoryDir, 0o755); err != nil {
		return fmt.Errorf("failed to create working directory: %v", err)
	}

	_, err := git.PlainCloneContext(ctx, s.checkoutDir(repositoryID), false, &git.CloneOptions{
		URL:   url,
		Depth: 1,
	})
	if err != nil {
		return fmt.Errorf("failed to clone %s: %v", url, err)
	}
	return nil
}

// Delete removes the working directory for a repository id.
func (s *RepositoryService) Delete(repositoryID string) error {
	repositoryDir := s.repositoryDir(repositoryID)

	logger.Info("Deleting repository working directory", "repository_id", repositoryID)
	if _, err := os.Stat(repositoryDir); err != nil {
		return fmt.Errorf("no working directory for repository %s: %v", repositoryID, err)
	}
	if err := os.RemoveAll(repositoryDir); err != nil {
		return fmt.Errorf("failed to delete working directory: %v", err)
	}
	return nil
}

// FilesList returns every file path under the checkout, relative to it.
func (s *RepositoryService) FilesList(repositoryID string) ([]string, error) {
	checkoutDir := s.checkoutDir(repositoryID)

	var files []string
	err := filepath.Walk(checkoutDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		relative, err := filepath.Rel(checkoutDir, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(relative))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list repository files: %v", err)
	}
	return files, nil
}

// FileContentRead returns the content of one file within the checkout.
func (s *RepositoryService) FileContentRead(repositoryID, filePath string) (string, error) {
	fullPath := filepath.Join(s.checkoutDir(repositoryID), filepath.FromSlash(filePath))
	content, err := os.ReadFile(fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %v", filePath, err)
	}
	return string(content), nil
}
