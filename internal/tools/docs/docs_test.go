package docs

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/vijoin/tero/internal/storage"
	"github.com/vijoin/tero/internal/tokens"
	"github.com/vijoin/tero/internal/tools"
	"github.com/vijoin/tero/pkg/models"
)

func TestSplitter(t *testing.T) {
	t.Run("short text is one chunk", func(t *testing.T) {
		got := Splitter{Size: 50}.Split("  hello world \n")
		if len(got) != 1 || got[0] != "hello world" {
			t.Fatalf("Split = %q", got)
		}
	})

	t.Run("empty text", func(t *testing.T) {
		if got := (Splitter{Size: 50}).Split(" \n\n "); len(got) != 0 {
			t.Fatalf("Split = %q", got)
		}
	})

	t.Run("chunks respect size", func(t *testing.T) {
		var b strings.Builder
		for i := 0; i < 40; i++ {
			b.WriteString("## Section\n\nSome sentence about the section goes here. Another one follows.\n\n")
		}
		chunks := Splitter{Size: 30, Overlap: 5}.Split(b.String())
		if len(chunks) < 2 {
			t.Fatalf("expected several chunks, got %d", len(chunks))
		}
		for i, c := range chunks {
			if n := tokens.Text(c); n > 30 {
				t.Errorf("chunk %d has %d tokens: %q", i, n, c)
			}
		}
	})

	t.Run("headings start chunks", func(t *testing.T) {
		text := "# One\n" + strings.Repeat("alpha ", 40) + "\n# Two\n" + strings.Repeat("beta ", 40)
		chunks := Splitter{Size: 100}.Split(text)
		if len(chunks) != 2 {
			t.Fatalf("expected 2 chunks, got %d: %q", len(chunks), chunks)
		}
		if !strings.HasPrefix(chunks[1], "# Two") {
			t.Errorf("second chunk = %q", chunks[1][:10])
		}
	})

	t.Run("overlap repeats trailing pieces", func(t *testing.T) {
		text := strings.Repeat("word ", 100)
		chunks := Splitter{Size: 20, Overlap: 6}.Split(text)
		if len(chunks) < 2 {
			t.Fatalf("expected several chunks, got %d", len(chunks))
		}
		total := 0
		for _, c := range chunks {
			total += len(strings.Fields(c))
		}
		if total <= 100 {
			t.Errorf("expected overlapping words, got %d words in chunks", total)
		}
	})
}

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"same", []float32{1, 2}, []float32{1, 2}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"length mismatch", []float32{1}, []float32{1, 0}, 0},
		{"zero", []float32{0, 0}, []float32{1, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cosine(tt.a, tt.b)
			if got < tt.want-1e-9 || got > tt.want+1e-9 {
				t.Errorf("cosine = %v, want %v", got, tt.want)
			}
		})
	}
}

// keywordEmbedder maps text onto counts of a fixed vocabulary.
type keywordEmbedder struct {
	calls int
}

var vocabulary = []string{"apple", "banana", "cherry"}

func (e *keywordEmbedder) Embed(ctx context.Context, inputs []string) (*Embeddings, error) {
	e.calls++
	out := &Embeddings{}
	for _, in := range inputs {
		lower := strings.ToLower(in)
		v := make([]float32, len(vocabulary)+1)
		for i, w := range vocabulary {
			v[i] = float32(strings.Count(lower, w))
		}
		v[len(vocabulary)] = 0.01
		out.Vectors = append(out.Vectors, v)
		out.Tokens += 10
	}
	return out, nil
}

type fixture struct {
	tool   *Tool
	stores storage.StoreSet
	agent  *models.Agent
}

func newFixture(t *testing.T, config map[string]any) *fixture {
	t.Helper()
	stores := storage.NewMemoryStores()
	agent := &models.Agent{ID: "agent-1", Name: "Agent"}
	if err := stores.Agents.Create(context.Background(), agent); err != nil {
		t.Fatalf("create agent: %v", err)
	}
	tool := New(&keywordEmbedder{}, Options{RetrieveTop: 1, EmbeddingModel: "text-embedding-3-small", CostPer1KTokens: 1})
	tool.Configure(tools.Env{
		Agent:       agent,
		UserID:      "user-1",
		Config:      config,
		Stores:      stores,
		FrontendURL: "https://tero.test",
	})
	return &fixture{tool: tool, stores: stores, agent: agent}
}

func (f *fixture) addFile(t *testing.T, name, content string) *models.File {
	t.Helper()
	ctx := context.Background()
	file := &models.File{Name: name, ContentType: "text/plain", Content: []byte(content), UserID: "user-1"}
	if err := f.stores.Files.Create(ctx, file); err != nil {
		t.Fatalf("create file: %v", err)
	}
	if err := f.stores.ToolFiles.Add(ctx, f.agent.ID, ToolID, file.ID); err != nil {
		t.Fatalf("link file: %v", err)
	}
	if err := f.tool.AddFile(ctx, file); err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	return file
}

func (f *fixture) actions(t *testing.T) []tools.Action {
	t.Helper()
	h, err := f.tool.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer h.Release()
	actions, err := h.BuildActions(context.Background())
	if err != nil {
		t.Fatalf("BuildActions: %v", err)
	}
	return actions
}

func TestTool_Setup(t *testing.T) {
	f := newFixture(t, map[string]any{"description": "Company handbook"})
	cfg, err := f.tool.Setup(context.Background(), nil)
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if cfg["description"] != "Company handbook" {
		t.Errorf("config = %v", cfg)
	}

	t.Run("without embedder", func(t *testing.T) {
		tool := New(nil, Options{})
		tool.Configure(tools.Env{Agent: f.agent, Stores: f.stores})
		_, err := tool.Setup(context.Background(), nil)
		if !tools.IsInvalidConfiguration(err) {
			t.Fatalf("expected invalid configuration, got %v", err)
		}
	})

	t.Run("description too long", func(t *testing.T) {
		g := newFixture(t, map[string]any{"description": strings.Repeat("x", 201)})
		if _, err := g.tool.Setup(context.Background(), nil); !tools.IsInvalidConfiguration(err) {
			t.Fatalf("expected invalid configuration, got %v", err)
		}
	})
}

func TestTool_NoFilesNoActions(t *testing.T) {
	f := newFixture(t, nil)
	if actions := f.actions(t); len(actions) != 0 {
		t.Fatalf("expected no actions, got %d", len(actions))
	}
}

func TestTool_RetrievesMostSimilarChunk(t *testing.T) {
	f := newFixture(t, map[string]any{"description": "Fruit facts"})
	f.addFile(t, "apples.txt", "Apple trees grow apple fruit. An apple a day.")
	bananas := f.addFile(t, "bananas.txt", "Banana plants grow banana bunches.")

	actions := f.actions(t)
	if len(actions) != 1 {
		t.Fatalf("expected 1 action, got %d", len(actions))
	}
	action := actions[0]
	if action.Name() != "docs" || action.Description() != "Fruit facts" {
		t.Errorf("action = %s: %s", action.Name(), action.Description())
	}
	var schema map[string]any
	if err := json.Unmarshal(action.Schema(), &schema); err != nil {
		t.Fatalf("schema: %v", err)
	}
	if _, ok := schema["properties"].(map[string]any)["user_query"]; !ok {
		t.Errorf("schema = %s", action.Schema())
	}

	res, err := action.Execute(context.Background(), json.RawMessage(`{"user_query":"tell me about banana"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	wantURL := "https://tero.test/agents/agent-1/tools/docs/files/" + bananas.ID
	if !strings.Contains(res.Content, wantURL) || !strings.Contains(res.Content, "Banana plants") {
		t.Errorf("content = %q", res.Content)
	}
	if strings.Contains(res.Content, "Apple trees") {
		t.Errorf("content includes more than the top chunk: %q", res.Content)
	}
	if res.Usage == nil || res.Usage.Type != models.UsageEmbeddingTokens || res.Usage.Quantity != 10 {
		t.Errorf("usage = %+v", res.Usage)
	}

	usages := f.stores.Usage.(*storage.MemoryUsageStore).List()
	if len(usages) != 2 {
		t.Fatalf("expected indexing usage per file, got %d", len(usages))
	}
	for _, u := range usages {
		if u.Type != models.UsageEmbeddingTokens || u.ModelID != "text-embedding-3-small" || u.UserID != "user-1" {
			t.Errorf("usage = %+v", u)
		}
	}
}

func TestTool_UpdateAndRemoveFile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	file := f.addFile(t, "notes.txt", "apple")

	file.Content = []byte("cherry cherry")
	if err := f.tool.UpdateFile(ctx, file); err != nil {
		t.Fatalf("UpdateFile: %v", err)
	}
	chunks, err := f.stores.Docs.ListChunks(ctx, Namespace(f.agent.ID))
	if err != nil {
		t.Fatalf("ListChunks: %v", err)
	}
	if len(chunks) != 1 || chunks[0].Content != "cherry cherry" {
		t.Fatalf("chunks after update = %+v", chunks)
	}

	if err := f.tool.RemoveFile(ctx, file); err != nil {
		t.Fatalf("RemoveFile: %v", err)
	}
	chunks, _ = f.stores.Docs.ListChunks(ctx, Namespace(f.agent.ID))
	if len(chunks) != 0 {
		t.Fatalf("chunks after remove = %d", len(chunks))
	}
}

func TestTool_RejectsBinaryFiles(t *testing.T) {
	f := newFixture(t, nil)
	file := &models.File{ID: "bin", Name: "image.bin", Content: []byte{0xff, 0xfe, 0xfd}}
	err := f.tool.AddFile(context.Background(), file)
	if !errors.Is(err, ErrUnsupportedFile) {
		t.Fatalf("expected ErrUnsupportedFile, got %v", err)
	}
}

func TestTool_CloneAndTeardown(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	original := f.addFile(t, "apples.txt", "apple")
	f.addFile(t, "bananas.txt", "banana")

	if err := f.tool.Clone(ctx, "agent-2"); err != nil {
		t.Fatalf("Clone: %v", err)
	}
	files, err := f.stores.ToolFiles.List(ctx, "agent-2", ToolID)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("cloned files = %d", len(files))
	}
	cloned, err := f.stores.Docs.ListChunks(ctx, Namespace("agent-2"))
	if err != nil {
		t.Fatalf("ListChunks: %v", err)
	}
	if len(cloned) != 2 {
		t.Fatalf("cloned chunks = %d", len(cloned))
	}
	for _, c := range cloned {
		if c.FileID == original.ID {
			t.Errorf("cloned chunk references source file %s", c.FileID)
		}
	}

	if err := f.tool.Teardown(ctx); err != nil {
		t.Fatalf("Teardown: %v", err)
	}
	left, _ := f.stores.Docs.ListChunks(ctx, Namespace(f.agent.ID))
	if len(left) != 0 {
		t.Errorf("chunks after teardown = %d", len(left))
	}
	kept, _ := f.stores.Docs.ListChunks(ctx, Namespace("agent-2"))
	if len(kept) != 2 {
		t.Errorf("teardown removed cloned chunks: %d left", len(kept))
	}
}
