// Package conversation wraps the store's per-session message log (C10)
// with two things the raw store interface doesn't provide: an ordered,
// non-blocking event queue for streaming deltas, and the summarize-then-
// clear "new chat" composite spec §6 names as `POST /agents/{id}/new-chat`.
package conversation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kestrelai/agentcore/model"
	"github.com/kestrelai/agentcore/store"
)

const (
	// serializerTimeout bounds how long after its creation a per-session
	// serializer is kept before CleanupStaleSerializers reclaims it; the
	// age counts from creation, not from the last enqueued event.
	serializerTimeout = 30 * time.Minute
	// serializerStopTimeout bounds how long Stop waits for the queue to
	// drain before giving up.
	serializerStopTimeout = 5 * time.Second
	eventQueueDepth        = 100
)

// Summarizer is the narrow C13 contract NewChat depends on.
type Summarizer interface {
	Summarize(ctx context.Context, agentID, sessionID string, throughSeq int64) (string, error)
}

// Service is the conversation-facing API the HTTP layer and reasoning loop
// use instead of talking to store.ConversationStore directly.
type Service struct {
	store store.Store

	mu          sync.Mutex
	serializers map[string]*serializer
}

func New(s store.Store) *Service {
	return &Service{store: s, serializers: map[string]*serializer{}}
}

// Append persists one message synchronously, preserving the store's
// per-session seq ordering guarantee (spec §5). The reasoning loop's
// canonical turn messages (user/assistant/tool) always go through this
// path, never through EnqueueEvent.
func (svc *Service) Append(ctx context.Context, m model.Message) (*model.Message, error) {
	return svc.store.AppendMessage(ctx, m)
}

// List returns a page of a session's message log.
func (svc *Service) List(ctx context.Context, sessionID string, since int64, limit int) ([]*model.Message, error) {
	return svc.store.ListMessages(ctx, sessionID, since, limit)
}

// Clear deletes a session's log without archiving it
// (`POST /conversation/{session}/clear`).
func (svc *Service) Clear(ctx context.Context, sessionID string) error {
	svc.stopSerializer(sessionID)
	return svc.store.DeleteSession(ctx, sessionID)
}

// NewChat implements the `new-chat` composite (spec §4.11's open question):
// summarize the session, then clear it. If summarization fails, Clear is
// not invoked and the error propagates so the caller never silently loses
// history.
func (svc *Service) NewChat(ctx context.Context, agentID, sessionID string, summ Summarizer) error {
	lastSeq, err := svc.store.LastSeq(ctx, sessionID)
	if err != nil {
		return err
	}
	if lastSeq > 0 {
		if _, err := summ.Summarize(ctx, agentID, sessionID, lastSeq); err != nil {
			return err
		}
	}
	return svc.Clear(ctx, sessionID)
}

// EnqueueEvent queues a streaming delta (thinking/content chunk) for
// ordered, non-blocking persistence, mirroring the teacher's
// eventSerializer: a full queue drops the event rather than stalling the
// SSE response. Canonical turn messages never go through this path.
func (svc *Service) EnqueueEvent(sessionID string, role model.Role, content string) bool {
	return svc.getOrCreateSerializer(sessionID).enqueue(role, content)
}

// StopSerializer drains and removes a session's event queue once its turn
// has completed.
func (svc *Service) StopSerializer(sessionID string) {
	svc.stopSerializer(sessionID)
}

// CleanupStaleSerializers reclaims serializers created more than
// serializerTimeout ago, whether or not they are still receiving events;
// callers run this periodically (e.g. via a ticker) to
// bound memory from sessions whose client disconnected mid-turn.
func (svc *Service) CleanupStaleSerializers() int {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	cleaned := 0
	now := time.Now()
	for id, s := range svc.serializers {
		if now.Sub(s.createdAt) > serializerTimeout {
			s.stop()
			delete(svc.serializers, id)
			cleaned++
		}
	}
	return cleaned
}

type queuedEvent struct {
	role    model.Role
	content string
}

// serializer persists one session's streaming events in order via a
// dedicated goroutine, so concurrent producers (e.g. thinking vs content
// deltas) never race on seq assignment.
type serializer struct {
	sessionID string
	store     store.Store
	channel   chan *queuedEvent
	stopCh    chan struct{}
	wg        sync.WaitGroup
	once      sync.Once
	createdAt time.Time
}

func newSerializer(sessionID string, s store.Store) *serializer {
	ser := &serializer{
		sessionID: sessionID,
		store:     s,
		channel:   make(chan *queuedEvent, eventQueueDepth),
		stopCh:    make(chan struct{}),
		createdAt: time.Now(),
	}
	ser.start()
	return ser
}

func (s *serializer) start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx := context.Background()
		for {
			select {
			case <-s.stopCh:
				for {
					select {
					case ev := <-s.channel:
						s.persist(ctx, ev)
					default:
						return
					}
				}
			case ev := <-s.channel:
				s.persist(ctx, ev)
			}
		}
	}()
}

func (s *serializer) persist(ctx context.Context, ev *queuedEvent) {
	_, err := s.store.AppendMessage(ctx, model.Message{
		SessionID:   s.sessionID,
		Role:        ev.role,
		Content:     ev.content,
		MessageType: model.MessageTypeInbox,
	})
	if err != nil {
		slog.Error("conversation: failed to persist queued event", "session", s.sessionID, "error", err)
	}
}

// enqueue drops the event (rather than blocking the SSE writer) when the
// queue is saturated or already stopping.
func (s *serializer) enqueue(role model.Role, content string) bool {
	select {
	case s.channel <- &queuedEvent{role: role, content: content}:
		return true
	case <-s.stopCh:
		return false
	default:
		return false
	}
}

func (s *serializer) stop() {
	s.once.Do(func() {
		close(s.stopCh)
		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(serializerStopTimeout):
			slog.Warn("conversation: serializer stop timed out, forcing shutdown", "session", s.sessionID)
		}
	})
}

func (svc *Service) getOrCreateSerializer(sessionID string) *serializer {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	if s, ok := svc.serializers[sessionID]; ok {
		return s
	}
	s := newSerializer(sessionID, svc.store)
	svc.serializers[sessionID] = s
	return s
}

func (svc *Service) stopSerializer(sessionID string) {
	svc.mu.Lock()
	s, ok := svc.serializers[sessionID]
	if ok {
		delete(svc.serializers, sessionID)
	}
	svc.mu.Unlock()
	if ok {
		s.stop()
	}
}
