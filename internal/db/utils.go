package db

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/dtnitsch/site-harvest/models"
	dbpkg "github.com/dtnitsch/site-harvest/pkg/db"
)

// GetRunOrLatest returns the run named by the first argument (a unique ID prefix is
// enough), or the latest run if none is given.
func GetRunOrLatest(c *cli.Context, database *dbpkg.DB) (*dbpkg.Run, error) {
	if c.NArg() == 0 {
		run, err := database.LatestRun()
		if err != nil {
			return nil, fmt.Errorf("no runs found. Run 'site-harvest harvest <domain>' first: %w", err)
		}
		return run, nil
	}
	return database.GetRun(c.Args().First())
}

// ShortID is the run ID prefix shown in tables.
func ShortID(runID string) string {
	if len(runID) > 8 {
		return runID[:8]
	}
	return runID
}

// CountByPhase counts failures per phase.
func CountByPhase(failures []models.Failure) map[string]int {
	counts := make(map[string]int)
	for _, f := range failures {
		counts[f.Phase]++
	}
	return counts
}
