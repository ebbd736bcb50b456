package metrics

import (
	"context"
	"time"

	registrystore "github.com/chirino/carevault/internal/registry/store"
	"github.com/chirino/carevault/internal/security"
	"github.com/google/uuid"
)

// Wrap returns a CareStore that records StoreLatency for every operation.
func Wrap(inner registrystore.CareStore) registrystore.CareStore {
	return &metricsStore{inner: inner}
}

type metricsStore struct {
	inner registrystore.CareStore
}

func observe(op string, start time.Time) {
	security.ObserveStoreLatency(op, start)
}

func (m *metricsStore) RegisterUser(ctx context.Context, req registrystore.RegisterRequest) (*registrystore.UserProfile, error) {
	defer observe("register_user", time.Now())
	return m.inner.RegisterUser(ctx, req)
}

func (m *metricsStore) Authenticate(ctx context.Context, email, password string) (*registrystore.UserProfile, error) {
	defer observe("authenticate", time.Now())
	return m.inner.Authenticate(ctx, email, password)
}

func (m *metricsStore) EnsureExternalUser(ctx context.Context, id security.Identity, displayName string) error {
	defer observe("ensure_external_user", time.Now())
	return m.inner.EnsureExternalUser(ctx, id, displayName)
}

func (m *metricsStore) GetUser(ctx context.Context, caller security.Identity, userID string) (*registrystore.UserProfile, error) {
	defer observe("get_user", time.Now())
	return m.inner.GetUser(ctx, caller, userID)
}

func (m *metricsStore) SetUserRole(ctx context.Context, caller security.Identity, userID string, role security.Role) (*registrystore.UserProfile, error) {
	defer observe("set_user_role", time.Now())
	return m.inner.SetUserRole(ctx, caller, userID, role)
}

func (m *metricsStore) ListTherapists(ctx context.Context, caller security.Identity) ([]registrystore.DirectoryEntry, error) {
	defer observe("list_therapists", time.Now())
	return m.inner.ListTherapists(ctx, caller)
}

func (m *metricsStore) ListPatients(ctx context.Context, caller security.Identity) ([]registrystore.PatientSummary, error) {
	defer observe("list_patients", time.Now())
	return m.inner.ListPatients(ctx, caller)
}

func (m *metricsStore) StartConversation(ctx context.Context, caller security.Identity, peerID string) (*registrystore.ConversationView, bool, error) {
	defer observe("start_conversation", time.Now())
	return m.inner.StartConversation(ctx, caller, peerID)
}

func (m *metricsStore) ListConversations(ctx context.Context, caller security.Identity) ([]registrystore.ConversationView, error) {
	defer observe("list_conversations", time.Now())
	return m.inner.ListConversations(ctx, caller)
}

func (m *metricsStore) SendMessage(ctx context.Context, caller security.Identity, conversationID uuid.UUID, text string) (*registrystore.MessageView, error) {
	defer observe("send_message", time.Now())
	return m.inner.SendMessage(ctx, caller, conversationID, text)
}

func (m *metricsStore) GetMessages(ctx context.Context, caller security.Identity, conversationID uuid.UUID, afterCursor *string, limit int) (*registrystore.MessagePage, error) {
	defer observe("get_messages", time.Now())
	return m.inner.GetMessages(ctx, caller, conversationID, afterCursor, limit)
}

func (m *metricsStore) CreateContent(ctx context.Context, caller security.Identity, in registrystore.ContentInput) (*registrystore.ContentView, error) {
	defer observe("create_content", time.Now())
	return m.inner.CreateContent(ctx, caller, in)
}

func (m *metricsStore) ListContent(ctx context.Context, caller security.Identity, filter registrystore.ContentFilter) ([]registrystore.ContentView, error) {
	defer observe("list_content", time.Now())
	return m.inner.ListContent(ctx, caller, filter)
}

func (m *metricsStore) GetContent(ctx context.Context, caller security.Identity, recordID uuid.UUID) (*registrystore.ContentView, error) {
	defer observe("get_content", time.Now())
	return m.inner.GetContent(ctx, caller, recordID)
}

func (m *metricsStore) UpdateContent(ctx context.Context, caller security.Identity, recordID uuid.UUID, patch registrystore.ContentPatch) (*registrystore.ContentView, error) {
	defer observe("update_content", time.Now())
	return m.inner.UpdateContent(ctx, caller, recordID, patch)
}

func (m *metricsStore) DeleteContent(ctx context.Context, caller security.Identity, recordID uuid.UUID) error {
	defer observe("delete_content", time.Now())
	return m.inner.DeleteContent(ctx, caller, recordID)
}

func (m *metricsStore) ExportAll(ctx context.Context, caller security.Identity, userID string) (*registrystore.ExportBundle, error) {
	defer observe("export_all", time.Now())
	return m.inner.ExportAll(ctx, caller, userID)
}

func (m *metricsStore) EraseAll(ctx context.Context, caller security.Identity, userID, confirmation string) (*registrystore.ErasureReceipt, error) {
	defer observe("erase_all", time.Now())
	return m.inner.EraseAll(ctx, caller, userID, confirmation)
}

func (m *metricsStore) Ping(ctx context.Context) error {
	return m.inner.Ping(ctx)
}

var _ registrystore.CareStore = (*metricsStore)(nil)
