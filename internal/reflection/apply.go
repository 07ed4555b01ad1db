package reflection

import (
	"context"
	"fmt"
)

// ApplyResult reports which edit numbers succeeded and which failed.
type ApplyResult struct {
	Applied  []int          `json:"applied"`
	Failed   map[int]string `json:"failed,omitempty"`
	Archived bool           `json:"archived"`
}

// ApplyChanges parses the pending document for date, applies the selected
// (1-indexed) edits through the object store, re-indexes every changed
// file, and archives the document if every selected edit (and no other
// pending edit) succeeded (spec §4.8 "Apply action").
func (c *Controller) ApplyChanges(ctx context.Context, date string, selected []int, archiveOnSuccess bool) (ApplyResult, error) {
	pendingPath := pendingDir + date + ".md"
	f, err := c.store.Read(ctx, pendingPath)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("reflection: read pending document: %w", err)
	}
	if f == nil {
		return ApplyResult{}, fmt.Errorf("reflection: no pending document for date %q", date)
	}

	edits, err := ParseProposedEdits(f.Content)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("reflection: parse proposed edits: %w", err)
	}

	result := ApplyResult{Failed: map[int]string{}}
	for _, num := range selected {
		edit, ok := edits[num]
		if !ok {
			result.Failed[num] = fmt.Sprintf("no proposed edit numbered %d", num)
			continue
		}
		if err := c.applyOne(ctx, edit); err != nil {
			result.Failed[num] = err.Error()
			continue
		}
		result.Applied = append(result.Applied, num)
	}

	fullSuccess := len(result.Failed) == 0 && len(result.Applied) == len(edits)
	if archiveOnSuccess && fullSuccess {
		if err := c.staging.Archive(ctx, date); err != nil {
			return result, fmt.Errorf("reflection: archive after apply: %w", err)
		}
		result.Archived = true
	}
	if len(result.Failed) == 0 {
		result.Failed = nil
	}
	return result, nil
}

func (c *Controller) applyOne(ctx context.Context, edit ProposedEdit) error {
	switch edit.Action {
	case ActionCreate:
		if _, err := c.store.Write(ctx, edit.Path, edit.Content); err != nil {
			return err
		}
		return c.reindex(ctx, edit.Path, edit.Content)

	case ActionReplace:
		if _, err := c.store.Write(ctx, edit.Path, edit.Content); err != nil {
			return err
		}
		return c.reindex(ctx, edit.Path, edit.Content)

	case ActionAppend:
		f, err := c.store.Read(ctx, edit.Path)
		if err != nil {
			return err
		}
		var updated string
		if f == nil {
			updated = edit.Content
		} else {
			updated = f.Content + edit.Content
		}
		if _, err := c.store.Write(ctx, edit.Path, updated); err != nil {
			return err
		}
		return c.reindex(ctx, edit.Path, updated)

	case ActionDelete:
		if err := c.store.Delete(ctx, edit.Path); err != nil {
			return err
		}
		if c.indexer != nil {
			return c.indexer.Delete(ctx, edit.Path)
		}
		return nil

	default:
		return fmt.Errorf("unknown action %q", edit.Action)
	}
}

func (c *Controller) reindex(ctx context.Context, path, content string) error {
	if c.indexer == nil {
		return nil
	}
	return c.indexer.Update(ctx, path, content)
}
