package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vijoin/tero/pkg/models"
)

// NewMemoryStores returns a StoreSet kept entirely in process memory.
func NewMemoryStores() StoreSet {
	files := NewMemoryFileStore()
	return StoreSet{
		Agents:      NewMemoryAgentStore(),
		Users:       NewMemoryUserStore(),
		Threads:     NewMemoryThreadStore(files),
		Files:       files,
		ToolConfigs: NewMemoryToolConfigStore(),
		ToolFiles:   NewMemoryToolFileStore(files),
		ToolData:    NewMemoryToolDataStore(),
		OAuth:       NewMemoryOAuthStore(),
		Usage:       NewMemoryUsageStore(),
		TestSuites:  NewMemoryTestSuiteStore(),
		Docs:        NewMemoryDocStore(),
	}
}

// MemoryAgentStore provides an in-memory AgentStore.
type MemoryAgentStore struct {
	mu     sync.RWMutex
	agents map[string]models.Agent
}

// NewMemoryAgentStore creates an in-memory agent store.
func NewMemoryAgentStore() *MemoryAgentStore {
	return &MemoryAgentStore{agents: make(map[string]models.Agent)}
}

func (s *MemoryAgentStore) Create(ctx context.Context, agent *models.Agent) error {
	if agent == nil {
		return fmt.Errorf("agent is required")
	}
	if agent.ID == "" {
		agent.ID = uuid.NewString()
	}
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.agents[agent.ID]; exists {
		return ErrAlreadyExists
	}
	s.agents[agent.ID] = *agent
	return nil
}

func (s *MemoryAgentStore) Get(ctx context.Context, id string) (*models.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	agent, ok := s.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &agent, nil
}

// MemoryUserStore provides an in-memory UserStore.
type MemoryUserStore struct {
	mu    sync.RWMutex
	users map[string]models.User
}

// NewMemoryUserStore creates an in-memory user store.
func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{users: make(map[string]models.User)}
}

func (s *MemoryUserStore) Create(ctx context.Context, user *models.User) error {
	if user == nil {
		return fmt.Errorf("user is required")
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[user.ID]; exists {
		return ErrAlreadyExists
	}
	s.users[user.ID] = *user
	return nil
}

func (s *MemoryUserStore) Get(ctx context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &user, nil
}

// MemoryFileStore provides an in-memory FileStore.
type MemoryFileStore struct {
	mu    sync.RWMutex
	files map[string]models.File
}

// NewMemoryFileStore creates an in-memory file store.
func NewMemoryFileStore() *MemoryFileStore {
	return &MemoryFileStore{files: make(map[string]models.File)}
}

func (s *MemoryFileStore) Create(ctx context.Context, file *models.File) error {
	if file == nil {
		return fmt.Errorf("file is required")
	}
	if file.ID == "" {
		file.ID = uuid.NewString()
	}
	if file.CreatedAt.IsZero() {
		file.CreatedAt = now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.files[file.ID]; exists {
		return ErrAlreadyExists
	}
	s.files[file.ID] = *file
	return nil
}

func (s *MemoryFileStore) Get(ctx context.Context, id string) (*models.File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	file, ok := s.files[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &file, nil
}

func (s *MemoryFileStore) Update(ctx context.Context, file *models.File) error {
	if file == nil {
		return fmt.Errorf("file is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.files[file.ID]
	if !ok {
		return ErrNotFound
	}
	existing.Name = file.Name
	existing.ContentType = file.ContentType
	existing.Content = file.Content
	existing.ProcessedContent = file.ProcessedContent
	s.files[file.ID] = existing
	return nil
}

func (s *MemoryFileStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, id)
	return nil
}

type memoryMessage struct {
	msg     models.Message
	fileIDs []string
}

// MemoryThreadStore provides an in-memory ThreadStore. Message files are
// resolved through the file store on read.
type MemoryThreadStore struct {
	mu       sync.RWMutex
	files    FileStore
	threads  map[string]models.Thread
	messages map[string][]memoryMessage
}

// NewMemoryThreadStore creates an in-memory thread store.
func NewMemoryThreadStore(files FileStore) *MemoryThreadStore {
	return &MemoryThreadStore{
		files:    files,
		threads:  make(map[string]models.Thread),
		messages: make(map[string][]memoryMessage),
	}
}

func (s *MemoryThreadStore) Create(ctx context.Context, thread *models.Thread) error {
	if thread == nil {
		return fmt.Errorf("thread is required")
	}
	if thread.ID == "" {
		thread.ID = uuid.NewString()
	}
	if thread.CreatedAt.IsZero() {
		thread.CreatedAt = now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.threads[thread.ID]; exists {
		return ErrAlreadyExists
	}
	s.threads[thread.ID] = *thread
	return nil
}

func (s *MemoryThreadStore) Get(ctx context.Context, id string) (*models.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	thread, ok := s.threads[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &thread, nil
}

func (s *MemoryThreadStore) UpdateName(ctx context.Context, id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	thread, ok := s.threads[id]
	if !ok {
		return ErrNotFound
	}
	thread.Name = name
	s.threads[id] = thread
	return nil
}

func (s *MemoryThreadStore) AddMessage(ctx context.Context, msg *models.Message) error {
	if msg == nil {
		return fmt.Errorf("message is required")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = now()
	}
	stored := memoryMessage{msg: *msg}
	stored.msg.Files = nil
	for _, f := range msg.Files {
		stored.fileIDs = append(stored.fileIDs, f.ID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[msg.ThreadID] = append(s.messages[msg.ThreadID], stored)
	return nil
}

func (s *MemoryThreadStore) ListMessages(ctx context.Context, threadID string) ([]*models.Message, error) {
	s.mu.RLock()
	stored := append([]memoryMessage(nil), s.messages[threadID]...)
	s.mu.RUnlock()

	sort.SliceStable(stored, func(i, j int) bool {
		return stored[i].msg.Timestamp.Before(stored[j].msg.Timestamp)
	})
	messages := make([]*models.Message, 0, len(stored))
	for _, m := range stored {
		msg := m.msg
		for _, id := range m.fileIDs {
			file, err := s.files.Get(ctx, id)
			if err != nil {
				continue
			}
			msg.Files = append(msg.Files, file)
		}
		messages = append(messages, &msg)
	}
	return messages, nil
}

type toolKey struct {
	agentID string
	toolID  string
}

type toolConfigKey struct {
	toolKey
	draft bool
}

// MemoryToolConfigStore provides an in-memory ToolConfigStore.
type MemoryToolConfigStore struct {
	mu      sync.RWMutex
	configs map[toolConfigKey]models.ToolConfig
}

// NewMemoryToolConfigStore creates an in-memory tool config store.
func NewMemoryToolConfigStore() *MemoryToolConfigStore {
	return &MemoryToolConfigStore{configs: make(map[toolConfigKey]models.ToolConfig)}
}

func (s *MemoryToolConfigStore) ListByAgent(ctx context.Context, agentID string) ([]*models.ToolConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var configs []*models.ToolConfig
	for key, cfg := range s.configs {
		if key.agentID != agentID || key.draft {
			continue
		}
		configs = append(configs, cloneToolConfig(cfg))
	}
	sort.Slice(configs, func(i, j int) bool { return configs[i].ToolID < configs[j].ToolID })
	return configs, nil
}

func (s *MemoryToolConfigStore) Find(ctx context.Context, agentID, toolID string, includeDrafts bool) (*models.ToolConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key := toolKey{agentID, toolID}
	if includeDrafts {
		if cfg, ok := s.configs[toolConfigKey{key, true}]; ok {
			return cloneToolConfig(cfg), nil
		}
	}
	cfg, ok := s.configs[toolConfigKey{key, false}]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneToolConfig(cfg), nil
}

func (s *MemoryToolConfigStore) Save(ctx context.Context, cfg *models.ToolConfig) error {
	if cfg == nil {
		return fmt.Errorf("tool config is required")
	}
	cfg.UpdatedAt = now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[toolConfigKey{toolKey{cfg.AgentID, cfg.ToolID}, cfg.Draft}] = *cloneToolConfig(*cfg)
	return nil
}

func (s *MemoryToolConfigStore) Delete(ctx context.Context, agentID, toolID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := toolKey{agentID, toolID}
	delete(s.configs, toolConfigKey{key, false})
	delete(s.configs, toolConfigKey{key, true})
	return nil
}

func (s *MemoryToolConfigStore) DeleteDrafts(ctx context.Context, agentID, toolID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.configs, toolConfigKey{toolKey{agentID, toolID}, true})
	return nil
}

func cloneToolConfig(cfg models.ToolConfig) *models.ToolConfig {
	out := cfg
	out.Config = make(map[string]any, len(cfg.Config))
	for k, v := range cfg.Config {
		out.Config[k] = v
	}
	return &out
}

// MemoryToolFileStore provides an in-memory ToolFileStore.
type MemoryToolFileStore struct {
	mu    sync.RWMutex
	files FileStore
	links map[toolKey][]string
}

// NewMemoryToolFileStore creates an in-memory tool file store.
func NewMemoryToolFileStore(files FileStore) *MemoryToolFileStore {
	return &MemoryToolFileStore{files: files, links: make(map[toolKey][]string)}
}

func (s *MemoryToolFileStore) Add(ctx context.Context, agentID, toolID, fileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := toolKey{agentID, toolID}
	for _, id := range s.links[key] {
		if id == fileID {
			return nil
		}
	}
	s.links[key] = append(s.links[key], fileID)
	return nil
}

func (s *MemoryToolFileStore) List(ctx context.Context, agentID, toolID string) ([]*models.File, error) {
	s.mu.RLock()
	ids := append([]string(nil), s.links[toolKey{agentID, toolID}]...)
	s.mu.RUnlock()

	files := make([]*models.File, 0, len(ids))
	for _, id := range ids {
		file, err := s.files.Get(ctx, id)
		if err != nil {
			continue
		}
		files = append(files, file)
	}
	return files, nil
}

func (s *MemoryToolFileStore) Remove(ctx context.Context, agentID, toolID, fileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := toolKey{agentID, toolID}
	ids := s.links[key]
	for i, id := range ids {
		if id == fileID {
			s.links[key] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	return nil
}

// MemoryToolDataStore provides an in-memory ToolDataStore.
type MemoryToolDataStore struct {
	mu   sync.RWMutex
	data map[toolKey]map[string]string
}

// NewMemoryToolDataStore creates an in-memory tool data store.
func NewMemoryToolDataStore() *MemoryToolDataStore {
	return &MemoryToolDataStore{data: make(map[toolKey]map[string]string)}
}

func (s *MemoryToolDataStore) Get(ctx context.Context, agentID, toolID, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.data[toolKey{agentID, toolID}][key]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

func (s *MemoryToolDataStore) Put(ctx context.Context, agentID, toolID, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := toolKey{agentID, toolID}
	if s.data[k] == nil {
		s.data[k] = make(map[string]string)
	}
	s.data[k][key] = value
	return nil
}

func (s *MemoryToolDataStore) DeleteAll(ctx context.Context, agentID, toolID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, toolKey{agentID, toolID})
	return nil
}

type oauthKey struct {
	userID  string
	agentID string
	toolID  string
}

type oauthStateKey struct {
	userID string
	toolID string
	state  string
}

// MemoryOAuthStore provides an in-memory OAuthStore. Secrets are held in
// plaintext.
type MemoryOAuthStore struct {
	mu      sync.RWMutex
	tokens  map[oauthKey]models.OAuthToken
	states  map[oauthStateKey]models.OAuthState
	clients map[oauthKey]models.OAuthClientInfo
}

// NewMemoryOAuthStore creates an in-memory OAuth store.
func NewMemoryOAuthStore() *MemoryOAuthStore {
	return &MemoryOAuthStore{
		tokens:  make(map[oauthKey]models.OAuthToken),
		states:  make(map[oauthStateKey]models.OAuthState),
		clients: make(map[oauthKey]models.OAuthClientInfo),
	}
}

func (s *MemoryOAuthStore) GetToken(ctx context.Context, userID, agentID, toolID string) (*models.OAuthToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tok, ok := s.tokens[oauthKey{userID, agentID, toolID}]
	if !ok {
		return nil, ErrNotFound
	}
	return &tok, nil
}

func (s *MemoryOAuthStore) SaveToken(ctx context.Context, tok *models.OAuthToken) error {
	if tok == nil {
		return fmt.Errorf("oauth token is required")
	}
	if tok.TokenType == "" {
		tok.TokenType = "bearer"
	}
	tok.UpdatedAt = now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[oauthKey{tok.UserID, tok.AgentID, tok.ToolID}] = *tok
	return nil
}

func (s *MemoryOAuthStore) DeleteToken(ctx context.Context, userID, agentID, toolID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, oauthKey{userID, agentID, toolID})
	return nil
}

func (s *MemoryOAuthStore) GetState(ctx context.Context, userID, toolID, state string) (*models.OAuthState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[oauthStateKey{userID, toolID, state}]
	if !ok {
		return nil, ErrNotFound
	}
	return &st, nil
}

func (s *MemoryOAuthStore) SaveState(ctx context.Context, st *models.OAuthState) error {
	if st == nil {
		return fmt.Errorf("oauth state is required")
	}
	st.UpdatedAt = now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[oauthStateKey{st.UserID, st.ToolID, st.State}] = *st
	return nil
}

func (s *MemoryOAuthStore) DeleteState(ctx context.Context, userID, toolID, state string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, oauthStateKey{userID, toolID, state})
	return nil
}

func (s *MemoryOAuthStore) GetClientInfo(ctx context.Context, userID, agentID, toolID string) (*models.OAuthClientInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.clients[oauthKey{userID, agentID, toolID}]
	if !ok {
		return nil, ErrNotFound
	}
	return &info, nil
}

func (s *MemoryOAuthStore) SaveClientInfo(ctx context.Context, info *models.OAuthClientInfo) error {
	if info == nil {
		return fmt.Errorf("oauth client info is required")
	}
	info.UpdatedAt = now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[oauthKey{info.UserID, info.AgentID, info.ToolID}] = *info
	return nil
}

func (s *MemoryOAuthStore) DeleteClientInfo(ctx context.Context, userID, agentID, toolID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, oauthKey{userID, agentID, toolID})
	return nil
}

func (s *MemoryOAuthStore) PruneTokens(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for key, tok := range s.tokens {
		if tok.UpdatedAt.Before(before) {
			delete(s.tokens, key)
			n++
		}
	}
	return n, nil
}

func (s *MemoryOAuthStore) PruneStates(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for key, st := range s.states {
		if st.UpdatedAt.Before(before) {
			delete(s.states, key)
			n++
		}
	}
	return n, nil
}

func (s *MemoryOAuthStore) PruneClientInfo(ctx context.Context, toolPrefix string, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for key, info := range s.clients {
		if strings.HasPrefix(key.toolID, toolPrefix) && info.UpdatedAt.Before(before) && info.ClientID != "" {
			delete(s.clients, key)
			n++
		}
	}
	return n, nil
}

// MemoryUsageStore provides an in-memory UsageStore.
type MemoryUsageStore struct {
	mu     sync.RWMutex
	usages []models.Usage
}

// NewMemoryUsageStore creates an in-memory usage store.
func NewMemoryUsageStore() *MemoryUsageStore {
	return &MemoryUsageStore{}
}

func (s *MemoryUsageStore) Add(ctx context.Context, u *models.Usage) error {
	if u == nil {
		return fmt.Errorf("usage is required")
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Timestamp.IsZero() {
		u.Timestamp = now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usages = append(s.usages, *u)
	return nil
}

func (s *MemoryUsageStore) SumUSDSince(ctx context.Context, userID string, since time.Time) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total float64
	for _, u := range s.usages {
		if u.UserID == userID && !u.Timestamp.Before(since) {
			total += u.USDCost
		}
	}
	return total, nil
}

// List returns all recorded usage, oldest first.
func (s *MemoryUsageStore) List() []models.Usage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Usage(nil), s.usages...)
}

// MemoryTestSuiteStore provides an in-memory TestSuiteStore.
type MemoryTestSuiteStore struct {
	mu      sync.RWMutex
	cases   []models.TestCase
	runs    map[string]models.TestSuiteRun
	results []models.TestCaseResult
}

// NewMemoryTestSuiteStore creates an in-memory test suite store.
func NewMemoryTestSuiteStore() *MemoryTestSuiteStore {
	return &MemoryTestSuiteStore{runs: make(map[string]models.TestSuiteRun)}
}

func (s *MemoryTestSuiteStore) CreateCase(ctx context.Context, tc *models.TestCase) error {
	if tc == nil || tc.ThreadID == "" {
		return fmt.Errorf("test case thread is required")
	}
	if tc.CreatedAt.IsZero() {
		tc.CreatedAt = now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.cases {
		if existing.ThreadID == tc.ThreadID {
			return ErrAlreadyExists
		}
	}
	s.cases = append(s.cases, *tc)
	return nil
}

func (s *MemoryTestSuiteStore) ListCases(ctx context.Context, agentID string) ([]*models.TestCase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var cases []*models.TestCase
	for _, tc := range s.cases {
		if tc.AgentID == agentID {
			c := tc
			cases = append(cases, &c)
		}
	}
	return cases, nil
}

func (s *MemoryTestSuiteStore) CreateRun(ctx context.Context, run *models.TestSuiteRun) error {
	if run == nil {
		return fmt.Errorf("test suite run is required")
	}
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.ExecutedAt.IsZero() {
		run.ExecutedAt = now()
	}
	if run.Status == "" {
		run.Status = models.SuiteRunRunning
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = *run
	return nil
}

func (s *MemoryTestSuiteStore) UpdateRun(ctx context.Context, run *models.TestSuiteRun) error {
	if run == nil {
		return fmt.Errorf("test suite run is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.runs[run.ID]
	if !ok {
		return ErrNotFound
	}
	updated := *run
	updated.AgentID = existing.AgentID
	updated.ExecutedAt = existing.ExecutedAt
	s.runs[run.ID] = updated
	return nil
}

func (s *MemoryTestSuiteStore) GetRun(ctx context.Context, id string) (*models.TestSuiteRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &run, nil
}

func (s *MemoryTestSuiteStore) ListRunning(ctx context.Context, before time.Time) ([]*models.TestSuiteRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var runs []*models.TestSuiteRun
	for _, run := range s.runs {
		if run.Status == models.SuiteRunRunning && run.ExecutedAt.Before(before) {
			r := run
			runs = append(runs, &r)
		}
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].ExecutedAt.Before(runs[j].ExecutedAt) })
	return runs, nil
}

func (s *MemoryTestSuiteStore) CreateResult(ctx context.Context, r *models.TestCaseResult) error {
	if r == nil {
		return fmt.Errorf("test case result is required")
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.ExecutedAt.IsZero() {
		r.ExecutedAt = now()
	}
	if r.Status == "" {
		r.Status = models.TestCasePending
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, *r)
	return nil
}

func (s *MemoryTestSuiteStore) UpdateResult(ctx context.Context, r *models.TestCaseResult) error {
	if r == nil {
		return fmt.Errorf("test case result is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.results {
		if s.results[i].ID == r.ID {
			s.results[i].Status = r.Status
			s.results[i].ExecutionThreadID = r.ExecutionThreadID
			s.results[i].ExecutedAt = r.ExecutedAt
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryTestSuiteStore) ListResults(ctx context.Context, runID string) ([]*models.TestCaseResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var results []*models.TestCaseResult
	for _, r := range s.results {
		if r.TestSuiteRunID == runID {
			res := r
			results = append(results, &res)
		}
	}
	return results, nil
}

// MemoryDocStore provides an in-memory DocStore.
type MemoryDocStore struct {
	mu     sync.RWMutex
	chunks map[string][]models.DocChunk
}

// NewMemoryDocStore creates an in-memory document chunk store.
func NewMemoryDocStore() *MemoryDocStore {
	return &MemoryDocStore{chunks: make(map[string][]models.DocChunk)}
}

func (s *MemoryDocStore) SaveChunks(ctx context.Context, chunks []*models.DocChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range chunks {
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		s.chunks[c.Namespace] = append(s.chunks[c.Namespace], *c)
	}
	return nil
}

func (s *MemoryDocStore) ListChunks(ctx context.Context, namespace string) ([]*models.DocChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored := s.chunks[namespace]
	chunks := make([]*models.DocChunk, 0, len(stored))
	for _, c := range stored {
		chunk := c
		chunks = append(chunks, &chunk)
	}
	sort.SliceStable(chunks, func(i, j int) bool {
		if chunks[i].FileID != chunks[j].FileID {
			return chunks[i].FileID < chunks[j].FileID
		}
		return chunks[i].Position < chunks[j].Position
	})
	return chunks, nil
}

func (s *MemoryDocStore) DeleteFileChunks(ctx context.Context, namespace, fileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.chunks[namespace][:0]
	for _, c := range s.chunks[namespace] {
		if c.FileID != fileID {
			kept = append(kept, c)
		}
	}
	s.chunks[namespace] = kept
	return nil
}

func (s *MemoryDocStore) DeleteNamespace(ctx context.Context, namespace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chunks, namespace)
	return nil
}
