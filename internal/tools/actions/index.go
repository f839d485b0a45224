package actions

import (
	"context"
	"fmt"

	"github.com/aura-dev/aura/internal/tools"
)

func indexProjectContext(ctx context.Context, args map[string]any, tc *tools.ToolContext) (any, error) {
	if err := tc.VectorContext.ReindexProject(ctx); err != nil {
		return fmt.Sprintf("Error: Project indexing failed: %v", err), nil
	}
	count, err := tc.VectorContext.Count(ctx)
	if err != nil {
		return "Successfully indexed the project context.", nil
	}
	return fmt.Sprintf("Successfully indexed the project context (%d chunks).", count), nil
}
