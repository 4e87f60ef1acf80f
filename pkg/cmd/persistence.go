package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/leadpilot/automation/pkg/persistence"
	"github.com/leadpilot/automation/pkg/persistence/file"
	"github.com/leadpilot/automation/pkg/persistence/postgresql"
)

var supportedPersistenceProviders = []string{"file", "postgres", "postgresql"}

// NewPersistence opens the backend named by the URL scheme. A URL without a scheme is a file path.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	provider, err := parsePersistenceProvider(databaseURL)
	if err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "opening persistence", "provider", provider)

	switch provider {
	case "postgres", "postgresql":
		p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			return nil, err
		}

		return p, nil
	default:
		p, err := file.NewPersistence(databaseURL)
		if err != nil {
			return nil, err
		}

		return p, nil
	}
}

func parsePersistenceProvider(databaseURL string) (string, error) {
	scheme, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file", nil
	}

	for _, supported := range supportedPersistenceProviders {
		if scheme == supported {
			return scheme, nil
		}
	}

	return "", fmt.Errorf("unsupported persistence provider %q", scheme)
}
