package llm

import (
	"context"

	"github.com/taskmill/taskmill/internal/executor"
	"github.com/taskmill/taskmill/pkg/models"
)

// WorkFunc adapts the client into the executor's work shape. The prompt is
// the task's detail, falling back to the title for tasks written without one.
func WorkFunc(client *Client) executor.WorkFunc {
	return func(ctx context.Context, task *models.Task) (*executor.Result, error) {
		prompt := task.Detail
		if prompt == "" {
			prompt = task.Title
		}

		text, tokens, err := client.Complete(ctx, prompt)
		if err != nil {
			return nil, err
		}

		return &executor.Result{Payload: text, Tokens: tokens}, nil
	}
}
