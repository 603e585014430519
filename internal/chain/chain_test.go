package chain_test

import (
	"context"
	"testing"
	"time"

	"taskline/internal/chain"
	"taskline/internal/db"
	"taskline/internal/domain"
	"taskline/internal/migrate"
	"taskline/internal/store"
)

func TestParseFencedBlock(t *testing.T) {
	logs := "work finished\n```json\n{\"followups\": [{\"title\": \"Add tests\", \"request\": \"Write unit tests\", \"depends_on\": \"this\", \"priority\": 2}]}\n```\ndone"
	specs := chain.Parse(logs)
	if len(specs) != 1 {
		t.Fatalf("specs = %+v, want 1", specs)
	}
	s := specs[0]
	if s.Title != "Add tests" || s.Request != "Write unit tests" || s.DependsOn != "this" || s.Priority != 2 {
		t.Fatalf("spec = %+v", s)
	}
}

func TestParseBareBlock(t *testing.T) {
	logs := `output line
{"followups": [{"title": "Fix lint", "request": "Run the linter and fix findings"}]}
trailing`
	specs := chain.Parse(logs)
	if len(specs) != 1 || specs[0].Title != "Fix lint" {
		t.Fatalf("specs = %+v", specs)
	}
}

func TestParseNoBlock(t *testing.T) {
	if specs := chain.Parse("plain output with no annotations"); specs != nil {
		t.Fatalf("specs = %+v, want nil", specs)
	}
	if specs := chain.Parse(""); specs != nil {
		t.Fatalf("specs = %+v, want nil", specs)
	}
}

func TestParseDropsBadItems(t *testing.T) {
	logs := "```json\n{\"followups\": [" +
		"{\"title\": \"ok\", \"request\": \"valid\"}," +
		"{\"title\": \"missing request\"}," +
		"{\"title\": \"  \", \"request\": \"blank title\"}" +
		"]}\n```"
	specs := chain.Parse(logs)
	if len(specs) != 1 || specs[0].Title != "ok" {
		t.Fatalf("specs = %+v, want only the valid item", specs)
	}
}

func TestParseMalformedJSON(t *testing.T) {
	logs := "```json\n{\"followups\": [{\"title\": \"broken\"\n```"
	if specs := chain.Parse(logs); specs != nil {
		t.Fatalf("specs = %+v, want nil", specs)
	}
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	s := store.New(conn)
	s.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return s
}

func TestEnqueueWiresParent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	parentID, err := s.AddTask(ctx, store.NewTask{Title: "parent", RepoPath: "/repo", Request: "build"})
	if err != nil {
		t.Fatalf("add parent: %v", err)
	}
	parent, err := s.GetTask(ctx, parentID)
	if err != nil {
		t.Fatalf("get parent: %v", err)
	}

	ids, err := chain.Enqueue(ctx, s, parent, parent.ChainGroup(), []domain.FollowupSpec{
		{Title: "first", Request: "do first", DependsOn: chain.DependsOnParent},
		{Title: "second", Request: "do second", RepoPath: "/other", DependsOn: "something-else"},
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("ids = %v", ids)
	}

	first, _ := s.GetTask(ctx, ids[0])
	if first.ParentTaskID == nil || *first.ParentTaskID != parentID {
		t.Fatalf("first parent = %v", first.ParentTaskID)
	}
	if first.ChainGroupID == nil || *first.ChainGroupID != parentID {
		t.Fatalf("first chain group = %v", first.ChainGroupID)
	}
	if first.DependsOnTaskID == nil || *first.DependsOnTaskID != parentID {
		t.Fatalf("first depends_on = %v", first.DependsOnTaskID)
	}
	if first.RepoPath != "/repo" {
		t.Fatalf("first repo = %q, want parent's", first.RepoPath)
	}
	if first.PreferredProvider != parent.PreferredProvider {
		t.Fatalf("first provider = %q", first.PreferredProvider)
	}

	second, _ := s.GetTask(ctx, ids[1])
	if second.DependsOnTaskID != nil {
		t.Fatalf("second depends_on = %v, want nil", second.DependsOnTaskID)
	}
	if second.RepoPath != "/other" {
		t.Fatalf("second repo = %q", second.RepoPath)
	}
}

func TestEnqueuePropagatesChainGroup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	rootID, err := s.AddTask(ctx, store.NewTask{Title: "root", RepoPath: "/repo", Request: "r"})
	if err != nil {
		t.Fatalf("add root: %v", err)
	}
	root, _ := s.GetTask(ctx, rootID)

	ids, err := chain.Enqueue(ctx, s, root, root.ChainGroup(), []domain.FollowupSpec{{Title: "child", Request: "c"}})
	if err != nil {
		t.Fatalf("enqueue child: %v", err)
	}
	child, _ := s.GetTask(ctx, ids[0])

	// A follow-up of the child stays in the root's group.
	ids, err = chain.Enqueue(ctx, s, child, child.ChainGroup(), []domain.FollowupSpec{{Title: "grandchild", Request: "g"}})
	if err != nil {
		t.Fatalf("enqueue grandchild: %v", err)
	}
	grandchild, _ := s.GetTask(ctx, ids[0])
	if grandchild.ChainGroupID == nil || *grandchild.ChainGroupID != rootID {
		t.Fatalf("grandchild chain group = %v, want %d", grandchild.ChainGroupID, rootID)
	}
}
