// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"log/slog"

	"github.com/dukex/crmflow/pkg/collaborators"
	"github.com/dukex/crmflow/pkg/registry"
)

// NewCollaborators talks to the CRM core at crmURL. Without a URL every side effect is
// only recorded, which is the dry-run mode.
func NewCollaborators(crmURL string, logger *slog.Logger) collaborators.Set {
	if crmURL == "" {
		logger.Warn("No CRM URL configured, actions run in dry-run mode")

		return collaborators.NewSet(collaborators.NewRecorder())
	}

	return collaborators.NewSet(collaborators.NewHTTPClient(crmURL, logger))
}

// NewRegistry builds the sealed registry of built-in nodes.
func NewRegistry(logger *slog.Logger, deps collaborators.Set) (*registry.Registry, error) {
	return registry.NewDefault(logger, deps)
}
