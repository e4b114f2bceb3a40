package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"amora/internal/model"
	"amora/internal/repository"

	"github.com/rs/zerolog"
)

type fakeUserRepo struct {
	users map[string]*model.User
}

func (f *fakeUserRepo) CreateUser(ctx context.Context, u *model.User) error {
	f.users[u.UserID] = u
	return nil
}

func (f *fakeUserRepo) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, nil
	}
	return u, nil
}

// fakeConversationRepo mimics the transactional semantics of the real
// repository: the quota is re-checked and the counter incremented as part of
// StartConversation.
type fakeConversationRepo struct {
	repRepo *fakeReputationRepo
	byPair  map[string]*model.Conversation
	byID    map[string]*model.Conversation
	msgs    map[string][]model.Message
	nextID  int

	startCalls []repository.StartConversationParams
}

func newFakeConversationRepo(repRepo *fakeReputationRepo) *fakeConversationRepo {
	return &fakeConversationRepo{
		repRepo: repRepo,
		byPair:  make(map[string]*model.Conversation),
		byID:    make(map[string]*model.Conversation),
		msgs:    make(map[string][]model.Message),
	}
}

func pairKey(a, b string) string {
	low, high := model.NormalizePair(a, b)
	return low + "|" + high
}

func (f *fakeConversationRepo) FindByParticipants(ctx context.Context, a, b string) (*model.Conversation, error) {
	conv, ok := f.byPair[pairKey(a, b)]
	if !ok {
		return nil, nil
	}
	return conv, nil
}

func (f *fakeConversationRepo) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	conv, ok := f.byID[id]
	if !ok {
		return nil, repository.ErrConversationNotFound
	}
	return conv, nil
}

func (f *fakeConversationRepo) StartConversation(ctx context.Context, p repository.StartConversationParams) (*model.Conversation, *model.Message, error) {
	f.startCalls = append(f.startCalls, p)

	if p.CountsTowardLimit && p.DailyLimit != model.UnlimitedConversations {
		rep := f.repRepo.records[p.SenderID]
		if rep != nil && rep.ConversationsToday(p.Day) >= p.DailyLimit {
			return nil, nil, repository.ErrDailyLimitReached
		}
	}

	key := pairKey(p.SenderID, p.RecipientID)
	if _, ok := f.byPair[key]; ok {
		return nil, nil, repository.ErrConversationExists
	}

	f.nextID++
	conv := &model.Conversation{ID: fmt.Sprintf("conv-%d", f.nextID)}
	conv.ParticipantLow, conv.ParticipantHigh = model.NormalizePair(p.SenderID, p.RecipientID)
	f.byPair[key] = conv
	f.byID[conv.ID] = conv

	msg := f.append(conv.ID, p.SenderID, p.Body)

	if p.CountsTowardLimit {
		if _, err := f.repRepo.ApplyConversationStart(ctx, p.SenderID, conv.ID, p.Day); err != nil {
			return nil, nil, err
		}
	}
	return conv, msg, nil
}

func (f *fakeConversationRepo) AppendMessage(ctx context.Context, conversationID, senderID, body string) (*model.Message, error) {
	if _, ok := f.byID[conversationID]; !ok {
		return nil, repository.ErrConversationNotFound
	}
	return f.append(conversationID, senderID, body), nil
}

func (f *fakeConversationRepo) append(conversationID, senderID, body string) *model.Message {
	msg := model.Message{
		ID:             fmt.Sprintf("msg-%d", len(f.msgs[conversationID])+1),
		ConversationID: conversationID,
		SenderID:       senderID,
		Body:           body,
		CreatedAt:      testNow,
	}
	f.msgs[conversationID] = append(f.msgs[conversationID], msg)
	return &msg
}

func (f *fakeConversationRepo) ListMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	return f.msgs[conversationID], nil
}

func (f *fakeConversationRepo) MessageCount(ctx context.Context, conversationID string) (int, error) {
	return len(f.msgs[conversationID]), nil
}

type fakePublisher struct {
	published [][]byte
	err       error
}

func (f *fakePublisher) Publish(ctx context.Context, topic string, payload []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.published = append(f.published, payload)
	return "msg-id", nil
}

type messageFixture struct {
	svc      MessageService
	repRepo  *fakeReputationRepo
	convRepo *fakeConversationRepo
	pub      *fakePublisher
}

func newMessageFixture(userIDs ...string) *messageFixture {
	repRepo := newFakeReputationRepo()
	convRepo := newFakeConversationRepo(repRepo)
	users := &fakeUserRepo{users: make(map[string]*model.User)}
	for _, id := range userIDs {
		users.users[id] = &model.User{UserID: id}
	}
	pub := &fakePublisher{}

	permSvc := newTestPermissionService(repRepo)
	svc := NewMessageService(convRepo, users, permSvc, pub, "conversation-started", zerolog.Nop()).(*messageService)
	svc.now = func() time.Time { return testNow }

	return &messageFixture{svc: svc, repRepo: repRepo, convRepo: convRepo, pub: pub}
}

func TestStartConversationHigherTierCountsOnce(t *testing.T) {
	fx := newMessageFixture("sender", "vip")
	fx.repRepo.put("sender", model.TierNew, 0, "")
	fx.repRepo.put("vip", model.TierDistinguished, 0, "")

	conv, msg, started, err := fx.svc.StartConversation(context.Background(), "sender", "vip", "hi")
	if err != nil {
		t.Fatal(err)
	}
	if !started {
		t.Error("expected a new conversation")
	}
	if msg.Body != "hi" {
		t.Errorf("message body = %q", msg.Body)
	}
	if got := fx.repRepo.records["sender"].HigherTierConversationsToday; got != 1 {
		t.Errorf("counter = %d, want 1", got)
	}
	if len(fx.pub.published) != 1 {
		t.Errorf("published %d events, want 1", len(fx.pub.published))
	}

	// Further messages in the same thread are appended, never re-counted.
	_, _, started, err = fx.svc.StartConversation(context.Background(), "sender", "vip", "hello again")
	if err != nil {
		t.Fatal(err)
	}
	if started {
		t.Error("second send must reuse the existing conversation")
	}
	if _, err := fx.svc.SendMessage(context.Background(), conv.ID, "sender", "third"); err != nil {
		t.Fatal(err)
	}
	if got := fx.repRepo.records["sender"].HigherTierConversationsToday; got != 1 {
		t.Errorf("counter after follow-ups = %d, want 1", got)
	}
	if len(fx.pub.published) != 1 {
		t.Errorf("follow-ups must not publish started events, got %d", len(fx.pub.published))
	}
}

func TestStartConversationSameTierUncounted(t *testing.T) {
	fx := newMessageFixture("sender", "peer")
	fx.repRepo.put("sender", model.TierNew, 1, testDay) // already at limit
	fx.repRepo.put("peer", model.TierNew, 0, "")

	_, _, started, err := fx.svc.StartConversation(context.Background(), "sender", "peer", "hey")
	if err != nil {
		t.Fatal(err)
	}
	if !started {
		t.Error("same-tier start should succeed even at the limit")
	}
	if got := fx.repRepo.records["sender"].HigherTierConversationsToday; got != 1 {
		t.Errorf("same-tier start mutated counter: %d", got)
	}
}

func TestStartConversationDeniedAtLimit(t *testing.T) {
	fx := newMessageFixture("sender", "vip", "vip2")
	fx.repRepo.put("sender", model.TierNew, 0, "")
	fx.repRepo.put("vip", model.TierDistinguished, 0, "")
	fx.repRepo.put("vip2", model.TierTrusted, 0, "")

	// First higher-tier start uses the single new-tier slot.
	if _, _, _, err := fx.svc.StartConversation(context.Background(), "sender", "vip", "hi"); err != nil {
		t.Fatal(err)
	}

	// Second higher-tier start the same day is denied.
	_, _, _, err := fx.svc.StartConversation(context.Background(), "sender", "vip2", "hi")
	if !errors.Is(err, ErrDailyLimitReached) {
		t.Fatalf("err = %v, want ErrDailyLimitReached", err)
	}
	if got := fx.repRepo.records["sender"].HigherTierConversationsToday; got != 1 {
		t.Errorf("denied start mutated counter: %d", got)
	}
}

func TestActiveTierThreeStartsThenDenied(t *testing.T) {
	fx := newMessageFixture("sender", "a", "b", "c", "d")
	fx.repRepo.put("sender", model.TierActive, 0, "")
	for _, id := range []string{"a", "b", "c", "d"} {
		fx.repRepo.put(id, model.TierTrusted, 0, "")
	}

	for _, id := range []string{"a", "b", "c"} {
		if _, _, _, err := fx.svc.StartConversation(context.Background(), "sender", id, "hi"); err != nil {
			t.Fatalf("start with %s: %v", id, err)
		}
	}
	if got := fx.repRepo.records["sender"].HigherTierConversationsToday; got != 3 {
		t.Errorf("counter = %d, want 3", got)
	}

	_, _, _, err := fx.svc.StartConversation(context.Background(), "sender", "d", "hi")
	if !errors.Is(err, ErrDailyLimitReached) {
		t.Fatalf("4th start err = %v, want ErrDailyLimitReached", err)
	}

	// Next calendar day the counter lazily resets and the start succeeds.
	perm := fx.svc.(*messageService).permissionSvc.(*permissionService)
	nextDay := testNow.Add(24 * time.Hour)
	perm.now = func() time.Time { return nextDay }
	if _, _, _, err := fx.svc.StartConversation(context.Background(), "sender", "d", "hi"); err != nil {
		t.Fatalf("next-day start: %v", err)
	}
	if got := fx.repRepo.records["sender"].HigherTierConversationsToday; got != 1 {
		t.Errorf("next-day counter = %d, want 1", got)
	}
}

func TestStartConversationMissingSenderRecordStillCounts(t *testing.T) {
	// Reputation rows are created with the account, but backfill lag can
	// leave a sender without one. The gate treats them as tier new, and the
	// counted start must then succeed and create the record rather than
	// failing the send.
	fx := newMessageFixture("sender", "vip")
	fx.repRepo.put("vip", model.TierTrusted, 0, "")

	_, _, started, err := fx.svc.StartConversation(context.Background(), "sender", "vip", "hi")
	if err != nil {
		t.Fatalf("gate allowed the send, so it must not fail: %v", err)
	}
	if !started {
		t.Error("expected a new conversation")
	}
	rep := fx.repRepo.records["sender"]
	if rep == nil {
		t.Fatal("counted start should create the sender's reputation record")
	}
	if rep.Tier != model.TierNew {
		t.Errorf("created tier = %s, want %s", rep.Tier, model.TierNew)
	}
	if rep.HigherTierConversationsToday != 1 {
		t.Errorf("counter = %d, want 1", rep.HigherTierConversationsToday)
	}
}

func TestStartConversationPublishFailureDoesNotBlockSend(t *testing.T) {
	fx := newMessageFixture("sender", "vip")
	fx.repRepo.put("sender", model.TierNew, 0, "")
	fx.repRepo.put("vip", model.TierTrusted, 0, "")
	fx.pub.err = errors.New("pubsub down")

	_, msg, started, err := fx.svc.StartConversation(context.Background(), "sender", "vip", "hi")
	if err != nil {
		t.Fatalf("publish failure must not fail the send: %v", err)
	}
	if !started || msg == nil {
		t.Error("send should complete despite publish failure")
	}
}

func TestStartConversationUnknownRecipient(t *testing.T) {
	fx := newMessageFixture("sender")
	fx.repRepo.put("sender", model.TierNew, 0, "")

	_, _, _, err := fx.svc.StartConversation(context.Background(), "sender", "nobody", "hi")
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("err = %v, want ErrUserNotFound", err)
	}
}

func TestSendMessageRequiresParticipant(t *testing.T) {
	fx := newMessageFixture("sender", "peer")
	fx.repRepo.put("sender", model.TierNew, 0, "")
	fx.repRepo.put("peer", model.TierNew, 0, "")

	conv, _, _, err := fx.svc.StartConversation(context.Background(), "sender", "peer", "hi")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := fx.svc.SendMessage(context.Background(), conv.ID, "stranger", "let me in"); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("err = %v, want ErrNotParticipant", err)
	}
	if _, err := fx.svc.ListMessages(context.Background(), conv.ID, "stranger", 10); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("list err = %v, want ErrNotParticipant", err)
	}
}
