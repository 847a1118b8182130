package engine

import (
	"context"
	"fmt"
	"io"
)

// modelPuller is implemented by backends that host their own models.
type modelPuller interface {
	HasModel(ctx context.Context, name string) bool
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}

// EnsureReady checks that the Engine is reachable. For local backends,
// missing models are pulled with progress output written to w.
func EnsureReady(ctx context.Context, e Engine, chatModel, embedModel string, w io.Writer) error {
	if !e.IsRunning(ctx) {
		return fmt.Errorf("inference backend is not reachable; check llm.base_url and llm.api_key")
	}

	puller, ok := e.(modelPuller)
	if !ok {
		return nil
	}

	models := make([]string, 0, 2)
	if chatModel != "" {
		models = append(models, chatModel)
	}
	if embedModel != "" && embedModel != chatModel {
		models = append(models, embedModel)
	}

	for _, model := range models {
		if puller.HasModel(ctx, model) {
			fmt.Fprintf(w, "model %s: ready\n", model)
			continue
		}

		fmt.Fprintf(w, "model %s: pulling...\n", model)
		err := puller.PullModel(ctx, model, func(p PullProgress) {
			if p.Total > 0 {
				pct := float64(p.Completed) / float64(p.Total) * 100
				fmt.Fprintf(w, "  %s %.0f%%\n", p.Status, pct)
			} else {
				fmt.Fprintf(w, "  %s\n", p.Status)
			}
		})
		if err != nil {
			return fmt.Errorf("pulling model %s: %w", model, err)
		}
		fmt.Fprintf(w, "model %s: ready\n", model)
	}

	return nil
}
