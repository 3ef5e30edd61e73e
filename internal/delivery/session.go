package delivery

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"planlink/internal/chat"
	"planlink/internal/notify"
)

// phase is the per-conversation delivery state. Transitions:
//
//	Subscribing -> RealtimeActive   channel reported "subscribed"
//	Subscribing -> PollingActive    channel reported error/closed, or the
//	                                subscribe timeout fired first
//	RealtimeActive <-> PollingActive as the channel flaps
//	any -> Left                     Leave / Disconnect
type phase int

const (
	phaseSubscribing phase = iota
	phaseRealtimeActive
	phasePollingActive
	phaseLeft
)

type conversationState struct {
	id              int64
	phase           phase
	realtimeWorking bool

	sub           notify.Subscription
	fallbackTimer *time.Timer

	// polling doubles as the active-poller registry entry: at most one
	// loop runs per conversation.
	polling  bool
	pollStop chan struct{}
}

type typingTopic struct {
	sub notify.Subscription
}

// Session owns all client delivery state for one signed-in user: joined
// conversation subscriptions, polling loops, typing topics, listener
// registrations, and the deduplicator. Sessions are independent; nothing
// here is process-global.
type Session struct {
	gateway Gateway
	channel notify.Channel
	opts    Options
	logger  *slog.Logger

	dedup *Deduplicator

	mu         sync.Mutex
	connected  bool
	userID     int64
	convos     map[int64]*conversationState
	typing     map[int64]*typingTopic
	msgSubs    map[int]func(*chat.Message)
	typingSubs map[int]func(notify.TypingEvent)
	nextSubID  int
}

func NewSession(gateway Gateway, channel notify.Channel, opts Options, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		gateway:    gateway,
		channel:    channel,
		opts:       opts.withDefaults(),
		logger:     logger,
		convos:     make(map[int64]*conversationState),
		typing:     make(map[int64]*typingTopic),
		msgSubs:    make(map[int]func(*chat.Message)),
		typingSubs: make(map[int]func(notify.TypingEvent)),
	}
	s.dedup = NewDeduplicator(s.opts.DedupCapacity, gateway.GetMessage, s.dispatchMessage, logger)
	return s
}

// Connect records the session user. Connecting again as the same user is a
// no-op; a different user simply replaces the identity.
func (s *Session) Connect(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected && s.userID == userID {
		return
	}
	s.connected = true
	s.userID = userID
}

// Disconnect tears down every subscription, polling loop and typing topic.
// This is the single reclamation point for all per-conversation resources.
// Safe to call when already disconnected.
func (s *Session) Disconnect() {
	s.mu.Lock()
	ids := make([]int64, 0, len(s.convos))
	for id := range s.convos {
		ids = append(ids, id)
	}
	typing := s.typing
	s.typing = make(map[int64]*typingTopic)
	s.connected = false
	s.userID = 0
	s.mu.Unlock()

	for _, id := range ids {
		s.Leave(id)
	}
	for _, tt := range typing {
		tt.sub.Unsubscribe()
	}
}

// OnMessage registers a new-message listener and returns its unsubscribe
// function. Multiple listeners may be registered; each delivered message
// fans out to all of them.
func (s *Session) OnMessage(fn func(*chat.Message)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSubID
	s.nextSubID++
	s.msgSubs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.msgSubs, id)
	}
}

// OnTyping registers a typing listener and returns its unsubscribe function.
func (s *Session) OnTyping(fn func(notify.TypingEvent)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSubID
	s.nextSubID++
	s.typingSubs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.typingSubs, id)
	}
}

// Join opens the delivery path for a conversation: one channel subscription
// plus a timed fallback to polling. Idempotent per conversation id.
func (s *Session) Join(conversationID int64) error {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		s.logger.Warn("join before connect", "conversation_id", conversationID)
		return ErrNotConnected
	}
	if _, ok := s.convos[conversationID]; ok {
		s.mu.Unlock()
		return nil
	}
	st := &conversationState{id: conversationID, phase: phaseSubscribing}
	s.convos[conversationID] = st
	s.mu.Unlock()

	sub := s.channel.Subscribe(
		notify.MessageTopic(conversationID),
		func(payload []byte) { s.handleInsert(conversationID, payload) },
		func(status notify.SubscriptionStatus) { s.handleStatus(conversationID, status) },
	)

	// Safety net for a channel that never reports any status: if realtime
	// is still unconfirmed when this fires, polling takes over.
	timer := time.AfterFunc(s.opts.SubscribeTimeout, func() {
		s.mu.Lock()
		st, ok := s.convos[conversationID]
		working := ok && st.realtimeWorking
		s.mu.Unlock()
		if ok && !working {
			s.logger.Warn("subscription unconfirmed, falling back to polling",
				"conversation_id", conversationID)
			s.startPolling(conversationID)
		}
	})

	s.mu.Lock()
	if cur, ok := s.convos[conversationID]; ok && cur == st {
		st.sub = sub
		st.fallbackTimer = timer
		s.mu.Unlock()
		return nil
	}
	// Left while we were subscribing; reclaim immediately.
	s.mu.Unlock()
	timer.Stop()
	sub.Unsubscribe()
	return nil
}

// Leave closes the conversation's delivery path: subscription, fallback
// timer, polling loop and typing topic. Idempotent.
func (s *Session) Leave(conversationID int64) {
	s.mu.Lock()
	st, ok := s.convos[conversationID]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.convos, conversationID)
	st.phase = phaseLeft
	timer, sub, pollStop := st.fallbackTimer, st.sub, st.pollStop
	st.pollStop = nil
	tt := s.typing[conversationID]
	delete(s.typing, conversationID)
	s.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if sub != nil {
		sub.Unsubscribe()
	}
	if pollStop != nil {
		close(pollStop)
	}
	if tt != nil {
		tt.sub.Unsubscribe()
	}
}

// handleStatus drives the per-conversation state machine from channel
// status callbacks.
func (s *Session) handleStatus(conversationID int64, status notify.SubscriptionStatus) {
	s.mu.Lock()
	st, ok := s.convos[conversationID]
	if !ok {
		s.mu.Unlock()
		return
	}
	switch status {
	case notify.StatusSubscribed:
		st.realtimeWorking = true
		st.phase = phaseRealtimeActive
		s.mu.Unlock()
	case notify.StatusError, notify.StatusClosed:
		st.realtimeWorking = false
		st.phase = phasePollingActive
		s.mu.Unlock()
		s.logger.Warn("notification channel degraded, starting polling",
			"conversation_id", conversationID, "status", status.String())
		s.startPolling(conversationID)
	default:
		s.mu.Unlock()
	}
}

func (s *Session) handleInsert(conversationID int64, payload []byte) {
	var event notify.MessageEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		s.logger.Warn("malformed insert event", "conversation_id", conversationID, "error", err)
		return
	}
	if event.ConversationID == 0 {
		event.ConversationID = conversationID
	}
	s.dedup.Handle(event)
}

// startPolling begins the fixed-interval fallback loop unless realtime is
// already working or a loop is already registered for this conversation.
func (s *Session) startPolling(conversationID int64) {
	s.mu.Lock()
	st, ok := s.convos[conversationID]
	if !ok || st.realtimeWorking || st.polling {
		s.mu.Unlock()
		return
	}
	st.polling = true
	st.phase = phasePollingActive
	stop := make(chan struct{})
	st.pollStop = stop
	s.mu.Unlock()

	go s.pollLoop(conversationID, stop)
}

func (s *Session) pollLoop(conversationID int64, stop chan struct{}) {
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	cursor := time.Now()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		st, ok := s.convos[conversationID]
		if !ok || st.phase == phaseLeft {
			s.mu.Unlock()
			return
		}
		if st.realtimeWorking {
			// Push is healthy again; hand back and deregister.
			st.polling = false
			st.pollStop = nil
			s.mu.Unlock()
			s.logger.Info("realtime recovered, stopping polling",
				"conversation_id", conversationID)
			return
		}
		s.mu.Unlock()

		msgs, err := s.gateway.MessagesAfter(context.Background(), conversationID, cursor, s.opts.PollPageSize)
		if err != nil {
			// Transient fetch failures just wait for the next tick.
			s.logger.Warn("poll fetch failed", "conversation_id", conversationID, "error", err)
			continue
		}
		for _, m := range msgs {
			s.dedup.Handle(notify.MessageEvent{
				ConversationID: m.ConversationID,
				MessageID:      m.ID,
				SenderID:       m.SenderID,
				MessageText:    m.MessageText,
				CreatedAt:      m.CreatedAt,
			})
			cursor = m.CreatedAt
		}
	}
}

// SendTyping broadcasts the user's typing state on the conversation's
// typing topic, lazily opening the topic on first use. A disconnected
// session drops the signal.
func (s *Session) SendTyping(conversationID int64, isTyping bool) {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return
	}
	userID := s.userID
	if _, ok := s.typing[conversationID]; !ok {
		sub := s.channel.Subscribe(
			notify.TypingTopic(conversationID),
			func(payload []byte) { s.handleTyping(payload) },
			func(notify.SubscriptionStatus) {},
		)
		s.typing[conversationID] = &typingTopic{sub: sub}
	}
	s.mu.Unlock()

	payload, err := json.Marshal(notify.TypingEvent{
		ConversationID: conversationID,
		UserID:         userID,
		IsTyping:       isTyping,
	})
	if err != nil {
		return
	}
	if err := s.channel.Publish(context.Background(), notify.TypingTopic(conversationID), payload); err != nil {
		s.logger.Warn("typing broadcast failed", "conversation_id", conversationID, "error", err)
	}
}

func (s *Session) handleTyping(payload []byte) {
	var event notify.TypingEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return
	}

	s.mu.Lock()
	// No self-notification: our own broadcasts come back on the topic.
	if event.UserID == s.userID {
		s.mu.Unlock()
		return
	}
	subs := make([]func(notify.TypingEvent), 0, len(s.typingSubs))
	for _, fn := range s.typingSubs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(event)
	}
}

func (s *Session) dispatchMessage(msg *chat.Message) {
	s.mu.Lock()
	subs := make([]func(*chat.Message), 0, len(s.msgSubs))
	for _, fn := range s.msgSubs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(msg)
	}
}
