// Package docs answers questions from files uploaded to an agent. Files are
// split into chunks, embedded and retrieved by cosine similarity.
package docs

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/vijoin/tero/internal/tools"
	"github.com/vijoin/tero/internal/usage"
	"github.com/vijoin/tero/pkg/models"
)

const (
	ToolID = "docs"

	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
	DefaultRetrieveTop  = 5

	defaultActionDescription = "Answers questions using the contents of the files uploaded to the agent"
)

// ErrUnsupportedFile is returned for files whose contents are not text.
var ErrUnsupportedFile = errors.New("unsupported file contents")

var configSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"description": map[string]any{
			"type":      "string",
			"title":     "Description",
			"maxLength": 200,
		},
		"files": map[string]any{
			"type":  "array",
			"title": "Files",
			"items": map[string]any{"$ref": "#/$defs/File"},
		},
	},
	"required": []any{"files"},
	"$defs": map[string]any{
		"File": map[string]any{
			"type":       "object",
			"properties": map[string]any{"id": map[string]any{"type": "string"}},
		},
	},
}

// Options tune chunking, retrieval and billing.
type Options struct {
	ChunkSize    int
	ChunkOverlap int
	RetrieveTop  int
	// EmbeddingModel is recorded on usage of file indexing.
	EmbeddingModel  string
	CostPer1KTokens float64
}

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.ChunkOverlap < 0 {
		o.ChunkOverlap = DefaultChunkOverlap
	}
	if o.RetrieveTop <= 0 {
		o.RetrieveTop = DefaultRetrieveTop
	}
	return o
}

// Tool indexes agent files and exposes the docs retrieval action.
type Tool struct {
	tools.Base
	embedder Embedder
	opts     Options
	now      func() time.Time
}

// New returns an unconfigured docs tool. embedder may be nil, in which case
// setup fails.
func New(embedder Embedder, opts Options) *Tool {
	return &Tool{
		Base:     tools.NewBase(ToolID, "Docs", "Allows to use information from uploaded files in agent responses", configSchema),
		embedder: embedder,
		opts:     opts.withDefaults(),
		now:      time.Now,
	}
}

// Namespace is the chunk namespace of an agent.
func Namespace(agentID string) string {
	return "docs_" + agentID
}

func (t *Tool) namespace() string {
	return Namespace(t.Env().Agent.ID)
}

func (t *Tool) Setup(ctx context.Context, prev *models.ToolConfig) (map[string]any, error) {
	if t.embedder == nil {
		return nil, tools.InvalidConfiguration("document embeddings are not configured")
	}
	if err := t.ValidateConfig(); err != nil {
		return nil, err
	}
	return t.Config(), nil
}

func (t *Tool) Load(ctx context.Context) (tools.Handle, error) {
	chunks, err := t.Env().Stores.Docs.ListChunks(ctx, t.namespace())
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return tools.NewStaticHandle(nil), nil
	}
	description := t.StringSetting("description")
	if description == "" {
		description = defaultActionDescription
	}
	action := tools.NewFuncAction(ToolID, description, func(ctx context.Context, p queryParams) (*tools.Result, error) {
		return t.retrieve(ctx, chunks, p.UserQuery)
	})
	return tools.NewStaticHandle(nil, action), nil
}

type queryParams struct {
	UserQuery string `json:"user_query" jsonschema:"required,description=The query from the user"`
}

type scored struct {
	chunk *models.DocChunk
	score float64
}

func (t *Tool) retrieve(ctx context.Context, chunks []*models.DocChunk, query string) (*tools.Result, error) {
	if strings.TrimSpace(query) == "" {
		return &tools.Result{Content: "user_query is required", IsError: true}, nil
	}
	emb, err := t.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(emb.Vectors) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors", len(emb.Vectors))
	}

	ranked := make([]scored, 0, len(chunks))
	for _, c := range chunks {
		ranked = append(ranked, scored{chunk: c, score: cosine(emb.Vectors[0], c.Embedding)})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	if len(ranked) > t.opts.RetrieveTop {
		ranked = ranked[:t.opts.RetrieveTop]
	}

	var b strings.Builder
	for i, r := range ranked {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "<document url=%q>\n%s\n</document>", t.fileURL(r.chunk.FileID), r.chunk.Content)
	}
	return &tools.Result{
		Content: b.String(),
		Usage: &usage.ToolUsage{
			Type:           models.UsageEmbeddingTokens,
			Quantity:       emb.Tokens,
			CostPer1KUnits: t.opts.CostPer1KTokens,
		},
	}, nil
}

func (t *Tool) fileURL(fileID string) string {
	env := t.Env()
	return fmt.Sprintf("%s/agents/%s/tools/%s/files/%s", env.FrontendURL, env.Agent.ID, ToolID, fileID)
}

// cosine returns the cosine similarity of a and b, or 0 when either is
// empty or their lengths differ.
func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// AddFile extracts, chunks and embeds file into the agent namespace.
func (t *Tool) AddFile(ctx context.Context, file *models.File) error {
	if t.embedder == nil {
		return tools.InvalidConfiguration("document embeddings are not configured")
	}
	text, err := extractText(file)
	if err != nil {
		return err
	}
	env := t.Env()
	if file.ProcessedContent != text {
		file.ProcessedContent = text
		if err := env.Stores.Files.Update(ctx, file); err != nil {
			return err
		}
	}

	pieces := Splitter{Size: t.opts.ChunkSize, Overlap: t.opts.ChunkOverlap}.Split(text)
	if len(pieces) == 0 {
		return nil
	}
	emb, err := t.embedder.Embed(ctx, pieces)
	if err != nil {
		return err
	}
	if len(emb.Vectors) != len(pieces) {
		return fmt.Errorf("embed file %s: got %d vectors for %d chunks", file.ID, len(emb.Vectors), len(pieces))
	}
	if err := t.recordUsage(ctx, file, emb.Tokens); err != nil {
		return err
	}

	chunks := make([]*models.DocChunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = &models.DocChunk{
			Namespace: t.namespace(),
			FileID:    file.ID,
			Position:  i,
			Content:   p,
			Embedding: emb.Vectors[i],
		}
	}
	if err := env.Stores.Docs.SaveChunks(ctx, chunks); err != nil {
		return err
	}
	t.Logger().Info("indexed file", "file_id", file.ID, "chunks", len(chunks), "tokens", emb.Tokens)
	return nil
}

func (t *Tool) recordUsage(ctx context.Context, file *models.File, billed int) error {
	env := t.Env()
	userID := file.UserID
	if userID == "" {
		userID = env.UserID
	}
	record := &models.Usage{
		UserID:    userID,
		AgentID:   env.Agent.ID,
		ModelID:   t.opts.EmbeddingModel,
		Timestamp: t.now().UTC(),
		Type:      models.UsageEmbeddingTokens,
	}
	record.Increment(billed, t.opts.CostPer1KTokens)
	return env.Stores.Usage.Add(ctx, record)
}

// UpdateFile reindexes file. Processed content is cleared first so a failed
// reindex never leaves stale text behind.
func (t *Tool) UpdateFile(ctx context.Context, file *models.File) error {
	env := t.Env()
	file.ProcessedContent = ""
	if err := env.Stores.Files.Update(ctx, file); err != nil {
		return err
	}
	if err := env.Stores.Docs.DeleteFileChunks(ctx, t.namespace(), file.ID); err != nil {
		return err
	}
	return t.AddFile(ctx, file)
}

// RemoveFile drops the chunks of file.
func (t *Tool) RemoveFile(ctx context.Context, file *models.File) error {
	return t.Env().Stores.Docs.DeleteFileChunks(ctx, t.namespace(), file.ID)
}

// Teardown drops every chunk of the agent.
func (t *Tool) Teardown(ctx context.Context) error {
	return t.Env().Stores.Docs.DeleteNamespace(ctx, t.namespace())
}

// Clone copies the agent's tool files and their chunks to toAgentID. Copied
// files get new ids owned by the configured user.
func (t *Tool) Clone(ctx context.Context, toAgentID string) error {
	env := t.Env()
	files, err := env.Stores.ToolFiles.List(ctx, env.Agent.ID, ToolID)
	if err != nil {
		return err
	}
	fileIDs := make(map[string]string, len(files))
	for _, f := range files {
		src, err := env.Stores.Files.Get(ctx, f.ID)
		if err != nil {
			return err
		}
		copied := *src
		copied.ID = uuid.NewString()
		copied.UserID = env.UserID
		copied.CreatedAt = t.now().UTC()
		if err := env.Stores.Files.Create(ctx, &copied); err != nil {
			return err
		}
		if err := env.Stores.ToolFiles.Add(ctx, toAgentID, ToolID, copied.ID); err != nil {
			return err
		}
		fileIDs[src.ID] = copied.ID
	}

	chunks, err := env.Stores.Docs.ListChunks(ctx, t.namespace())
	if err != nil {
		return err
	}
	cloned := make([]*models.DocChunk, 0, len(chunks))
	for _, c := range chunks {
		fileID, ok := fileIDs[c.FileID]
		if !ok {
			continue
		}
		cloned = append(cloned, &models.DocChunk{
			Namespace: Namespace(toAgentID),
			FileID:    fileID,
			Position:  c.Position,
			Content:   c.Content,
			Embedding: c.Embedding,
		})
	}
	if len(cloned) == 0 {
		return nil
	}
	return env.Stores.Docs.SaveChunks(ctx, cloned)
}

func extractText(file *models.File) (string, error) {
	if file.ProcessedContent != "" {
		return file.ProcessedContent, nil
	}
	if !utf8.Valid(file.Content) {
		return "", fmt.Errorf("%w: %s (%s)", ErrUnsupportedFile, file.Name, file.ContentType)
	}
	return strings.ReplaceAll(string(file.Content), "\r\n", "\n"), nil
}

var _ tools.FileTool = (*Tool)(nil)
