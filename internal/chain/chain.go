package chain

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"taskline/internal/domain"
	"taskline/internal/store"
)

// DependsOnParent is the literal depends_on value meaning "depends on the
// task that produced this output". Anything else is ignored.
const DependsOnParent = "this"

// Follow-up blocks are expected in a fenced annotation but tolerated
// bare on a single line. First match wins.
var followupPatterns = []*regexp.Regexp{
	regexp.MustCompile("(?is)```(?:json)?\\s*(\\{[^`]*\"followups\"[^`]*\\})\\s*```"),
	regexp.MustCompile(`(?i)(\{[^` + "\n" + `]*"followups"[^` + "\n" + `]*\})`),
}

type followupBlock struct {
	Followups []json.RawMessage `json:"followups"`
}

// Parse extracts follow-up specs embedded in run output. Extraction is
// best-effort: a malformed block, a malformed item, or no block at all
// yields fewer specs, never an error.
func Parse(logs string) []domain.FollowupSpec {
	if logs == "" {
		return nil
	}
	for _, pattern := range followupPatterns {
		match := pattern.FindStringSubmatch(logs)
		if match == nil {
			continue
		}
		var block followupBlock
		if err := json.Unmarshal([]byte(match[1]), &block); err != nil {
			continue
		}
		var specs []domain.FollowupSpec
		for _, raw := range block.Followups {
			var spec domain.FollowupSpec
			if err := json.Unmarshal(raw, &spec); err != nil {
				continue
			}
			spec.Title = strings.TrimSpace(spec.Title)
			spec.Request = strings.TrimSpace(spec.Request)
			if spec.Title == "" || spec.Request == "" {
				continue
			}
			specs = append(specs, spec)
		}
		return specs
	}
	return nil
}

// Enqueue inserts follow-up tasks wired to their parent. Omitted
// repo_path and provider fall back to the parent's; depends_on becomes a
// real dependency only for the literal "this". Returns created ids in
// spec order.
func Enqueue(ctx context.Context, s store.Store, parent domain.Task, chainGroupID int64, specs []domain.FollowupSpec) ([]int64, error) {
	var created []int64
	for _, spec := range specs {
		repoPath := spec.RepoPath
		if repoPath == "" {
			repoPath = parent.RepoPath
		}
		var dependsOn *int64
		if spec.DependsOn == DependsOnParent {
			id := parent.ID
			dependsOn = &id
		}
		parentID := parent.ID
		group := chainGroupID
		id, err := s.AddTask(ctx, store.NewTask{
			Title:             spec.Title,
			RepoPath:          repoPath,
			Request:           spec.Request,
			Constraints:       optional(spec.Constraints),
			Acceptance:        optional(spec.Acceptance),
			PreferredProvider: parent.PreferredProvider,
			ParentTaskID:      &parentID,
			ChainGroupID:      &group,
			DependsOnTaskID:   dependsOn,
			Priority:          spec.Priority,
		})
		if err != nil {
			return created, err
		}
		created = append(created, id)
	}
	return created, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
