package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/graham924/blog-feng-yu/internal/audit"
	"github.com/graham924/blog-feng-yu/internal/domain"
	"github.com/graham924/blog-feng-yu/internal/hub"
	"github.com/graham924/blog-feng-yu/internal/metrics"
	"github.com/graham924/blog-feng-yu/internal/repository"
	"github.com/graham924/blog-feng-yu/pkg/log"
	"github.com/graham924/blog-feng-yu/pkg/pubsub"
)

// ContentFilter cleans chat text before it is stored.
type ContentFilter interface {
	Clean(content string) string
}

// VoiceUploader stores a voice clip and returns its URL.
type VoiceUploader interface {
	Upload(ctx context.Context, fileName string, content []byte) (string, error)
}

// RecallAuthorizer decides whether c may recall a record. Returning an
// error rejects the recall.
type RecallAuthorizer func(ctx context.Context, c *hub.Client, p *domain.RecallPayload) error

// AllowAllRecalls lets any connection recall any record.
func AllowAllRecalls(context.Context, *hub.Client, *domain.RecallPayload) error {
	return nil
}

// ChatOption customizes a chat service.
type ChatOption func(*chatServiceImpl)

// WithRecallAuthorizer replaces AllowAllRecalls.
func WithRecallAuthorizer(a RecallAuthorizer) ChatOption {
	return func(s *chatServiceImpl) {
		if a != nil {
			s.authorizeRecall = a
		}
	}
}

// WithPublisher forwards chat activity to p. Without it nothing is published.
func WithPublisher(p pubsub.Publisher) ChatOption {
	return func(s *chatServiceImpl) {
		s.publisher = p
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) ChatOption {
	return func(s *chatServiceImpl) {
		s.now = now
	}
}

type chatServiceImpl struct {
	registry    *hub.Registry
	broadcaster *hub.Broadcaster
	repo        repository.ChatRecordRepository
	filter      ContentFilter
	uploader    VoiceUploader
	metrics     *metrics.Metrics
	window      time.Duration

	publisher       pubsub.Publisher
	authorizeRecall RecallAuthorizer
	now             func() time.Time
}

// NewChatService creates the chat service. History replay covers the last
// window of records.
func NewChatService(
	registry *hub.Registry,
	broadcaster *hub.Broadcaster,
	repo repository.ChatRecordRepository,
	filter ContentFilter,
	uploader VoiceUploader,
	m *metrics.Metrics,
	window time.Duration,
	opts ...ChatOption,
) ChatService {
	s := &chatServiceImpl{
		registry:        registry,
		broadcaster:     broadcaster,
		repo:            repo,
		filter:          filter,
		uploader:        uploader,
		metrics:         m,
		window:          window,
		authorizeRecall: AllowAllRecalls,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *chatServiceImpl) Open(ctx context.Context, c *hub.Client) error {
	if !s.registry.Register(c) {
		return fmt.Errorf("register connection %s: %w", c.ID, hub.ErrClientClosed)
	}
	if !c.Activate() {
		// Closed between registration and activation.
		s.registry.Unregister(c)
		return fmt.Errorf("activate connection %s: %w", c.ID, hub.ErrClientClosed)
	}

	s.metrics.ConnectionOpened()
	audit.LogWithDetail(ctx, audit.ActionChatConnect, "", c.RemoteIP, "chat connection opened")

	s.broadcastOnlineCount(ctx)

	err := s.broadcaster.SendTo(c, domain.ChatHistoryRecord, s.history(ctx, c))
	if err == nil || errors.Is(err, domain.ErrTransport) {
		return err
	}
	l := log.Ctx(ctx)
	l.Error().Err(err).Str(log.FieldConnID, c.ID).Msg("failed to encode chat history, sending empty history")
	return s.broadcaster.SendTo(c, domain.ChatHistoryRecord, &domain.HistoryRecord{
		ChatRecords: []domain.ChatRecord{},
		IPAddress:   c.RemoteIP,
	})
}

func (s *chatServiceImpl) history(ctx context.Context, c *hub.Client) *domain.HistoryRecord {
	h := &domain.HistoryRecord{
		ChatRecords: []domain.ChatRecord{},
		IPAddress:   c.RemoteIP,
	}

	records, err := s.repo.ListSince(ctx, s.now().Add(-s.window))
	if err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldConnID, c.ID).Msg("failed to load chat history, sending empty history")
		return h
	}
	for _, r := range records {
		// An unknown type cannot be encoded and would fail the whole frame.
		if !r.Type.Valid() {
			l := log.Ctx(ctx)
			l.Warn().Str(log.FieldRecordID, r.ID).Int("type", int(r.Type)).Msg("skipping chat record with unknown type")
			continue
		}
		h.ChatRecords = append(h.ChatRecords, r)
	}
	return h
}

func (s *chatServiceImpl) HandleMessage(ctx context.Context, c *hub.Client, raw []byte) error {
	env, err := domain.Decode(raw)
	if err != nil {
		s.metrics.Message("unknown", "invalid")
		return err
	}

	if !env.Type.ClientSendable() {
		s.metrics.Message(env.Type.String(), "invalid")
		return fmt.Errorf("%w: %s cannot be sent by a client", domain.ErrValidation, env.Type)
	}

	switch env.Type {
	case domain.ChatSendMessage:
		err = s.handleSend(ctx, c, env)
	case domain.ChatRecallMessage:
		err = s.handleRecall(ctx, c, env, raw)
	case domain.ChatHeartBeat:
		err = s.broadcaster.SendTo(c, domain.ChatHeartBeat, domain.HeartBeatAck)
	}

	s.metrics.Message(env.Type.String(), resultLabel(err))
	return err
}

func (s *chatServiceImpl) handleSend(ctx context.Context, c *hub.Client, env *domain.Envelope) error {
	var data domain.SendMessageData
	if err := env.DecodeData(&data); err != nil {
		return err
	}

	record := &domain.ChatRecord{
		UserID:    data.UserID,
		Nickname:  data.Nickname,
		Avatar:    data.Avatar,
		Content:   s.filter.Clean(data.Content),
		IPAddress: c.RemoteIP,
		Type:      domain.ChatSendMessage,
		CreatedAt: s.now(),
	}

	// The record is broadcast even when it could not be stored; it is then
	// only missing from later history replays.
	persistErr := s.repo.Insert(ctx, record)
	if persistErr != nil {
		l := log.Ctx(ctx)
		l.Error().Err(persistErr).Str(log.FieldConnID, c.ID).Msg("failed to persist chat record")
	}

	if _, err := s.broadcaster.Broadcast(domain.ChatSendMessage, record); err != nil {
		return err
	}

	if persistErr == nil {
		s.publish(ctx, pubsub.EventChatSent, record)
	}
	return persistErr
}

func (s *chatServiceImpl) handleRecall(ctx context.Context, c *hub.Client, env *domain.Envelope, raw []byte) error {
	var p domain.RecallPayload
	if err := env.DecodeData(&p); err != nil {
		return err
	}
	if p.ID == "" {
		return fmt.Errorf("%w: recall without record id", domain.ErrValidation)
	}

	if err := s.authorizeRecall(ctx, c, &p); err != nil {
		return err
	}

	if err := s.repo.DeleteByID(ctx, p.ID); err != nil {
		return err
	}

	audit.LogTarget(ctx, audit.ActionChatRecall, "", p.ID, "chat record recalled")

	s.broadcaster.BroadcastRaw(raw)
	s.publish(ctx, pubsub.EventChatRecalled, &domain.ChatRecord{ID: p.ID, IPAddress: c.RemoteIP})
	return nil
}

func (s *chatServiceImpl) Close(ctx context.Context, c *hub.Client) {
	c.Close()
	if !s.registry.Unregister(c) {
		return
	}

	s.metrics.ConnectionClosed()
	audit.LogWithDetail(ctx, audit.ActionChatDisconnect, "", c.RemoteIP, "chat connection closed")

	s.broadcastOnlineCount(ctx)
}

func (s *chatServiceImpl) SendVoice(ctx context.Context, v *domain.VoiceUpload) (*domain.ChatRecord, error) {
	if len(v.Content) == 0 {
		return nil, fmt.Errorf("%w: empty voice clip", domain.ErrValidation)
	}

	url, err := s.uploader.Upload(ctx, v.FileName, v.Content)
	if err != nil {
		return nil, err
	}

	ip := v.IPAddress
	if ip == "" {
		ip = domain.UnknownIP
	}
	record := &domain.ChatRecord{
		UserID:    v.UserID,
		Nickname:  v.Nickname,
		Avatar:    v.Avatar,
		IPAddress: ip,
		Type:      domain.ChatVoiceMessage,
		VoiceURL:  url,
		CreatedAt: s.now(),
	}
	if err := s.repo.Insert(ctx, record); err != nil {
		return nil, err
	}

	audit.LogTarget(ctx, audit.ActionChatVoice, v.UserID, record.ID, "voice message sent")

	if _, err := s.broadcaster.Broadcast(domain.ChatVoiceMessage, record); err != nil {
		return nil, err
	}
	s.metrics.Message(domain.ChatVoiceMessage.String(), "ok")
	s.publish(ctx, pubsub.EventChatVoice, record)

	return record, nil
}

func (s *chatServiceImpl) OnlineCount() int {
	return s.registry.Count()
}

func (s *chatServiceImpl) broadcastOnlineCount(ctx context.Context) {
	if _, err := s.broadcaster.Broadcast(domain.ChatOnlineCount, s.registry.Count()); err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Msg("failed to broadcast online count")
	}
}

// publish forwards a chat event. Failures are logged; chat delivery never
// depends on the event stream.
func (s *chatServiceImpl) publish(ctx context.Context, eventType string, r *domain.ChatRecord) {
	if s.publisher == nil {
		return
	}

	l := log.Ctx(ctx)
	event, err := pubsub.NewEvent(eventType, r.ID, &pubsub.ChatEventPayload{
		RecordID:  r.ID,
		UserID:    r.UserID,
		IPAddress: r.IPAddress,
		VoiceURL:  r.VoiceURL,
	})
	if err != nil {
		l.Error().Err(err).Str(log.FieldRecordID, r.ID).Msg("failed to build chat event")
		return
	}
	if err := s.publisher.Publish(ctx, pubsub.ChannelChatEvents, event); err != nil {
		l.Warn().Err(err).Str(log.FieldRecordID, r.ID).Str("event", eventType).Msg("failed to publish chat event")
	}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrValidation):
		return "invalid"
	case errors.Is(err, domain.ErrStorage):
		return "storage_error"
	case errors.Is(err, domain.ErrTransport):
		return "transport_error"
	}
	return "error"
}
