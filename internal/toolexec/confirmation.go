package toolexec

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrConfirmationRejected is returned when a human rejects a pending tool
// confirmation via the tool-server's confirmation API.
var ErrConfirmationRejected = fmt.Errorf("tool confirmation rejected")

// ConfirmationWhitelist is the default set of tools
// requiring manual-mode confirmation before execution: file_write,
// execute_code, pip_install, and similar side-effecting operations.
var ConfirmationWhitelist = map[string]bool{
	"file_write":   true,
	"execute_code": true,
	"pip_install":  true,
}

// awaitConfirmation implements the pre-execution hook: when manual mode is
// active and toolName is whitelisted, it creates a pending confirmation and
// blocks, polling the tool-server, until a human approves or rejects it.
func (e *Executor) awaitConfirmation(ctx context.Context, taskID, toolName string, arguments json.RawMessage) error {
	confirmID := uuid.NewString()
	if err := e.toolServer.CreateConfirmation(ctx, confirmID, taskID, toolName, arguments); err != nil {
		return fmt.Errorf("create confirmation: %w", err)
	}

	ticker := time.NewTicker(e.confirmationPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			status, err := e.toolServer.GetConfirmation(ctx, confirmID)
			if err != nil {
				return fmt.Errorf("poll confirmation: %w", err)
			}
			if !status.Resolved {
				continue
			}
			if !status.Approved {
				return ErrConfirmationRejected
			}
			return nil
		}
	}
}
