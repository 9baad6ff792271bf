package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chatgraph/application/commands/bus"
	cmdhandlers "chatgraph/application/commands/handlers"
	querybus "chatgraph/application/queries/bus"
	queryhandlers "chatgraph/application/queries/handlers"
	"chatgraph/application/services"
	"chatgraph/infrastructure/persistence/memory"
	"chatgraph/interfaces/http/rest/handlers"
	"chatgraph/interfaces/http/rest/middleware"
	"chatgraph/pkg/auth"
	pkgerrors "chatgraph/pkg/errors"
	"chatgraph/pkg/observability"
)

const secret = "router-secret"

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

type apiHarness struct {
	t       *testing.T
	handler http.Handler
	tokens  *auth.JWTGenerator
}

func newAPI(t *testing.T, readiness Pinger) *apiHarness {
	t.Helper()
	logger := zap.NewNop()
	store := memory.NewStore()
	svc := services.NewConversationService(
		store,
		services.NewOwnershipAuthorizer(store, logger),
		services.NewChatLocks(time.Second),
		nil, nil, nil, nil, nil,
		logger,
	)

	commandBus := bus.NewCommandBus(bus.LoggingMiddleware(logger))
	require.NoError(t, cmdhandlers.NewConversationCommandHandlers(svc, logger).Register(commandBus))
	queryBus := querybus.NewQueryBus(querybus.LoggingMiddleware(logger))
	require.NoError(t, queryhandlers.NewConversationQueryHandlers(svc).Register(queryBus))

	validator, err := auth.NewJWTValidator(auth.JWTConfig{SecretKey: secret, Issuer: "chatgraph"})
	require.NoError(t, err)
	tokens, err := auth.NewJWTGenerator(secret, "chatgraph", nil, time.Hour)
	require.NoError(t, err)

	errHandler := pkgerrors.NewErrorHandler(logger, false)
	router := NewRouter(
		handlers.NewChatHandler(commandBus, queryBus, errHandler, logger),
		handlers.NewConversationHandler(commandBus, queryBus, errHandler, logger),
		middleware.NewAuthenticator(validator, nil, nil, false, errHandler, logger),
		errHandler,
		observability.NewCollector("chatgraph_test"),
		readiness,
		RouterConfig{EnableCORS: true},
		logger,
	)
	return &apiHarness{t: t, handler: router.Setup(), tokens: tokens}
}

func (h *apiHarness) do(user, method, path string, body interface{}) *httptest.ResponseRecorder {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
	}
	r := httptest.NewRequest(method, path, &buf)
	if user != "" {
		tok, err := h.tokens.GenerateToken(user, user+"@example.com", nil)
		require.NoError(h.t, err)
		r.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, r)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func TestRouter_ConversationLifecycle(t *testing.T) {
	api := newAPI(t, nil)

	w := api.do("alice", http.MethodPost, "/api/v2/chats", handlers.CreateChatRequest{Name: "trip"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var chat handlers.ChatResponse
	decode(t, w, &chat)
	base := "/api/v2/chats/" + chat.ID

	appendMsg := func(role, content, parent string) handlers.AppendMessageResponse {
		w := api.do("alice", http.MethodPost, base+"/messages", handlers.AppendMessageRequest{Role: role, Content: content, ParentID: parent})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		var res handlers.AppendMessageResponse
		decode(t, w, &res)
		return res
	}
	m1 := appendMsg("user", "hi", "")
	m2 := appendMsg("assistant", "hello", "")
	m3 := appendMsg("user", "weather?", "")
	m4 := appendMsg("assistant", "sunny", "")
	assert.Equal(t, m1.Branch.ID, m4.Branch.ID)

	w = api.do("alice", http.MethodPost, base+"/messages/"+m3.Message.ID+"/edit", handlers.EditMessageRequest{NewContent: "time?"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var edit handlers.EditMessageResponse
	decode(t, w, &edit)
	assert.Equal(t, "time?", edit.NewMessage.Content)
	require.NotNil(t, edit.NewMessage.OriginalMessageID)
	assert.Equal(t, m3.Message.ID, *edit.NewMessage.OriginalMessageID)
	assert.Equal(t, 4, edit.Comparison.OriginalBranch.MessageCount)
	assert.Equal(t, 3, edit.Comparison.NewBranch.MessageCount)
	assert.Equal(t, 2, edit.Comparison.Differences.DivergenceIndex)
	assert.Len(t, edit.AllBranches, 2)

	var heads handlers.HeadsResponse
	decode(t, api.do("alice", http.MethodGet, base+"/heads", nil), &heads)
	assert.Equal(t, []string{m4.Message.ID, edit.NewMessage.ID}, heads.Heads)

	var siblings handlers.SiblingsResponse
	decode(t, api.do("alice", http.MethodGet, base+"/siblings?message_id="+m3.Message.ID, nil), &siblings)
	require.Len(t, siblings.Siblings, 2)
	assert.Equal(t, m3.Message.ID, siblings.Siblings[0].ID)
	assert.Equal(t, edit.NewMessage.ID, siblings.Siblings[1].ID)

	var chain handlers.ChainResponse
	decode(t, api.do("alice", http.MethodGet, base+"/ancestor-chain?head_id="+edit.NewMessage.ID, nil), &chain)
	assert.Equal(t, []string{m1.Message.ID, m2.Message.ID, edit.NewMessage.ID}, chain.Chain)

	var graph map[string]struct {
		Parent   *string  `json:"parent"`
		Children []string `json:"children"`
	}
	decode(t, api.do("alice", http.MethodGet, base+"/graph", nil), &graph)
	assert.Len(t, graph, 5)
	assert.Nil(t, graph[m1.Message.ID].Parent)
	assert.Equal(t, []string{m3.Message.ID, edit.NewMessage.ID}, graph[m2.Message.ID].Children)

	var cmp handlers.CompareResponse
	decode(t, api.do("alice", http.MethodGet, base+"/compare?left="+m4.Message.ID+"&right="+edit.NewMessage.ID, nil), &cmp)
	assert.Equal(t, 2, cmp.DivergenceIndex)

	w = api.do("alice", http.MethodPut, base+"/branches/"+m1.Branch.ID, handlers.RetargetBranchRequest{HeadMessageID: m2.Message.ID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var edits struct {
		Items []handlers.EditRecordResponse `json:"items"`
	}
	decode(t, api.do("alice", http.MethodGet, base+"/edits", nil), &edits)
	require.Len(t, edits.Items, 1)
	assert.Equal(t, m3.Message.ID, edits.Items[0].PrevMessageID)

	var messages struct {
		Count int `json:"count"`
	}
	decode(t, api.do("alice", http.MethodGet, base+"/messages", nil), &messages)
	assert.Equal(t, 5, messages.Count)

	assert.Equal(t, http.StatusNoContent, api.do("alice", http.MethodDelete, base, nil).Code)
	assert.Equal(t, http.StatusNotFound, api.do("alice", http.MethodGet, base, nil).Code)
}

func TestRouter_ErrorMapping(t *testing.T) {
	api := newAPI(t, nil)

	w := api.do("alice", http.MethodPost, "/api/v2/chats", handlers.CreateChatRequest{Name: "x"})
	require.Equal(t, http.StatusCreated, w.Code)
	var chat handlers.ChatResponse
	decode(t, w, &chat)
	base := "/api/v2/chats/" + chat.ID

	w = api.do("alice", http.MethodPost, base+"/messages", handlers.AppendMessageRequest{Role: "assistant", Content: "hello"})
	require.Equal(t, http.StatusCreated, w.Code)
	var assistant handlers.AppendMessageResponse
	decode(t, w, &assistant)

	tests := []struct {
		name       string
		user       string
		method     string
		path       string
		body       interface{}
		wantStatus int
		wantType   string
	}{
		{"no token", "", http.MethodGet, "/api/v2/chats", nil, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"foreign chat looks missing", "mallory", http.MethodGet, base, nil, http.StatusNotFound, "UNKNOWN_CHAT"},
		{"malformed chat id", "alice", http.MethodGet, "/api/v2/chats/not-a-uuid", nil, http.StatusBadRequest, "VALIDATION"},
		{"missing head_id", "alice", http.MethodGet, base + "/ancestor-chain", nil, http.StatusBadRequest, "VALIDATION"},
		{"missing message_id", "alice", http.MethodGet, base + "/siblings", nil, http.StatusBadRequest, "VALIDATION"},
		{"unknown parent", "alice", http.MethodPost, base + "/messages",
			handlers.AppendMessageRequest{Role: "user", Content: "x", ParentID: "0b6f3c38-8f53-4c1e-9d7b-1f7b5f2c8a10"},
			http.StatusNotFound, "UNKNOWN_MESSAGE"},
		{"assistant messages are not editable", "alice", http.MethodPost, base + "/messages/" + assistant.Message.ID + "/edit",
			handlers.EditMessageRequest{NewContent: "x"}, http.StatusUnprocessableEntity, "NOT_EDITABLE"},
		{"unknown branch", "alice", http.MethodPut, base + "/branches/0b6f3c38-8f53-4c1e-9d7b-1f7b5f2c8a10",
			handlers.RetargetBranchRequest{HeadMessageID: assistant.Message.ID}, http.StatusNotFound, "UNKNOWN_BRANCH"},
		{"unknown body field", "alice", http.MethodPost, "/api/v2/chats", map[string]string{"title": "x"}, http.StatusBadRequest, "VALIDATION"},
		{"rename without name", "alice", http.MethodPatch, base, handlers.RenameRequest{}, http.StatusBadRequest, "VALIDATION"},
		{"foreign chat rename looks missing", "mallory", http.MethodPatch, base, handlers.RenameRequest{Name: "x"}, http.StatusNotFound, "UNKNOWN_CHAT"},
		{"unknown project", "alice", http.MethodGet, "/api/v2/projects/0b6f3c38-8f53-4c1e-9d7b-1f7b5f2c8a10", nil, http.StatusNotFound, "UNKNOWN_PROJECT"},
		{"chat in unknown project", "alice", http.MethodPost, "/api/v2/chats",
			handlers.CreateChatRequest{Name: "x", ProjectID: "0b6f3c38-8f53-4c1e-9d7b-1f7b5f2c8a10"}, http.StatusNotFound, "UNKNOWN_PROJECT"},
		{"project without name", "alice", http.MethodPost, "/api/v2/projects", handlers.CreateProjectRequest{}, http.StatusBadRequest, "VALIDATION"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := api.do(tt.user, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())

			var body pkgerrors.ErrorResponse
			decode(t, w, &body)
			assert.True(t, body.Error)
			assert.Equal(t, tt.wantType, body.Type)
		})
	}
}

func TestRouter_RenameChat(t *testing.T) {
	api := newAPI(t, nil)

	w := api.do("alice", http.MethodPost, "/api/v2/chats", handlers.CreateChatRequest{Name: "draft", Description: "first"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var chat handlers.ChatResponse
	decode(t, w, &chat)
	assert.Equal(t, "first", chat.Description)
	assert.Nil(t, chat.ProjectID)

	w = api.do("alice", http.MethodPatch, "/api/v2/chats/"+chat.ID, handlers.RenameRequest{Name: "final"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var renamed handlers.ChatResponse
	decode(t, w, &renamed)
	assert.Equal(t, "final", renamed.Name)
	assert.Equal(t, "first", renamed.Description)

	desc := ""
	w = api.do("alice", http.MethodPatch, "/api/v2/chats/"+chat.ID, handlers.RenameRequest{Name: "final", Description: &desc})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decode(t, w, &renamed)
	assert.Empty(t, renamed.Description)

	w = api.do("alice", http.MethodGet, "/api/v2/chats/"+chat.ID, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var stored handlers.ChatResponse
	decode(t, w, &stored)
	assert.Equal(t, "final", stored.Name)
}

func TestRouter_ProjectLifecycle(t *testing.T) {
	api := newAPI(t, nil)

	w := api.do("alice", http.MethodPost, "/api/v2/projects", handlers.CreateProjectRequest{Name: "work"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var project handlers.ProjectResponse
	decode(t, w, &project)
	assert.Equal(t, "work", project.Name)
	assert.Equal(t, "alice", project.OwnerID)
	base := "/api/v2/projects/" + project.ID

	w = api.do("alice", http.MethodPost, base+"/chats", handlers.CreateChatRequest{})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var inside handlers.ChatResponse
	decode(t, w, &inside)
	assert.Equal(t, "New Chat", inside.Name)
	require.NotNil(t, inside.ProjectID)
	assert.Equal(t, project.ID, *inside.ProjectID)

	w = api.do("alice", http.MethodPost, "/api/v2/chats", handlers.CreateChatRequest{Name: "loose"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var loose handlers.ChatResponse
	decode(t, w, &loose)

	listChats := func(path string) []handlers.ChatResponse {
		w := api.do("alice", http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var list struct {
			Items []handlers.ChatResponse `json:"items"`
			Count int                     `json:"count"`
		}
		decode(t, w, &list)
		assert.Equal(t, len(list.Items), list.Count)
		return list.Items
	}
	scoped := listChats(base + "/chats")
	require.Len(t, scoped, 1)
	assert.Equal(t, inside.ID, scoped[0].ID)
	filtered := listChats("/api/v2/chats?project_id=" + project.ID)
	require.Len(t, filtered, 1)
	assert.Equal(t, inside.ID, filtered[0].ID)
	assert.Len(t, listChats("/api/v2/chats"), 2)

	desc := "q3"
	w = api.do("alice", http.MethodPatch, base, handlers.RenameRequest{Name: "work 2026", Description: &desc})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var renamed handlers.ProjectResponse
	decode(t, w, &renamed)
	assert.Equal(t, "work 2026", renamed.Name)
	assert.Equal(t, "q3", renamed.Description)

	w = api.do("alice", http.MethodGet, "/api/v2/projects", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var projects struct {
		Items []handlers.ProjectResponse `json:"items"`
	}
	decode(t, w, &projects)
	require.Len(t, projects.Items, 1)
	assert.Equal(t, "work 2026", projects.Items[0].Name)

	w = api.do("mallory", http.MethodGet, base, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = api.do("mallory", http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = api.do("alice", http.MethodDelete, base, nil)
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = api.do("alice", http.MethodGet, "/api/v2/chats/"+inside.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	remaining := listChats("/api/v2/chats")
	require.Len(t, remaining, 1)
	assert.Equal(t, loose.ID, remaining[0].ID)
}

func TestRouter_HealthReadinessAndMetrics(t *testing.T) {
	healthy := newAPI(t, pingerFunc(func(context.Context) error { return nil }))
	assert.Equal(t, http.StatusOK, healthy.do("", http.MethodGet, "/health", nil).Code)
	assert.Equal(t, http.StatusOK, healthy.do("", http.MethodGet, "/ready", nil).Code)

	w := healthy.do("", http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "chatgraph_test_http_requests_total")

	down := newAPI(t, pingerFunc(func(context.Context) error { return errors.New("unreachable") }))
	assert.Equal(t, http.StatusServiceUnavailable, down.do("", http.MethodGet, "/ready", nil).Code)
}
