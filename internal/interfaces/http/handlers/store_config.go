package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/chatdesk/chatdesk/console/internal/domain/entity"
)

// ===== Channels =====

func (s *Store) channelView(r *channelRecord, withSecrets bool) entity.Channel {
	out := r.Channel
	out.TypeInfo = ChannelTypes[r.ChannelType]
	out.HasCredentials = entity.Flag(len(r.credentials) > 0)
	if withSecrets && len(r.credentials) > 0 {
		out.MaskedCredentials = make(map[string]string, len(r.credentials))
		secret := map[string]bool{}
		for _, f := range out.TypeInfo.CredentialFields {
			secret[f.Key] = f.Secret()
		}
		for k, v := range r.credentials {
			if secret[k] {
				v = MaskSecret(v)
			}
			out.MaskedCredentials[k] = v
		}
	}
	return out
}

// Channels 渠道列表
func (s *Store) Channels() []entity.Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]entity.Channel, 0, len(s.channels))
	for _, r := range s.channels {
		out = append(out, s.channelView(r, false))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Channel returns one channel with masked credentials.
func (s *Store) Channel(id int64) (entity.Channel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.channels[id]
	if !ok {
		return entity.Channel{}, false
	}
	return s.channelView(r, true), true
}

// CreateChannel 创建渠道
func (s *Store) CreateChannel(in entity.ChannelInput) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := &channelRecord{Channel: entity.Channel{
		ID:          s.id(),
		OrgID:       s.admin.OrgID,
		ChannelType: in.ChannelType,
		Name:        in.Name,
		IsActive:    true,
		CreatedAt:   s.stamp(),
		UpdatedAt:   s.stamp(),
	}, credentials: map[string]string{}}
	if in.IsActive != nil {
		r.IsActive = entity.Flag(*in.IsActive)
	}
	s.channels[r.ID] = r
	return r.ID
}

// UpdateChannel renames or toggles a channel.
func (s *Store) UpdateChannel(id int64, in entity.ChannelInput) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.channels[id]
	if !ok {
		return false
	}
	if in.Name != "" {
		r.Name = in.Name
	}
	if in.IsActive != nil {
		r.IsActive = entity.Flag(*in.IsActive)
	}
	r.UpdatedAt = s.stamp()
	return true
}

// DeleteChannel 删除渠道
func (s *Store) DeleteChannel(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[id]; !ok {
		return false
	}
	delete(s.channels, id)
	return true
}

// SetCredentials merges values into the channel's credentials. Keys that are
// not part of the channel type are rejected.
func (s *Store) SetCredentials(id int64, values map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.channels[id]
	if !ok {
		return errNotFound
	}
	known := map[string]bool{}
	for _, f := range ChannelTypes[r.ChannelType].CredentialFields {
		known[f.Key] = true
	}
	for k := range values {
		if !known[k] {
			return fmt.Errorf("unknown credential field %q", k)
		}
	}
	for k, v := range values {
		r.credentials[k] = v
	}
	r.UpdatedAt = s.stamp()
	return nil
}

// VerifyChannel succeeds when every credential field of the type is filled.
func (s *Store) VerifyChannel(id int64) (entity.VerifyResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.channels[id]
	if !ok {
		return entity.VerifyResult{}, false
	}
	for _, f := range ChannelTypes[r.ChannelType].CredentialFields {
		if r.credentials[f.Key] == "" {
			return entity.VerifyResult{Success: false, Message: "missing " + f.Label}, true
		}
	}
	return entity.VerifyResult{Success: true, Message: "Connected to " + r.Name}, true
}

// ===== AI providers =====

func (s *Store) providerView(r *providerRecord) entity.AIProvider {
	out := r.AIProvider
	out.ProviderInfo = AIProviderTypes[r.ProviderType]
	out.MaskedAPIKey = MaskSecret(r.apiKey)
	return out
}

// AIProviders AI 服务列表
func (s *Store) AIProviders() []entity.AIProvider {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]entity.AIProvider, 0, len(s.providers))
	for _, r := range s.providers {
		out = append(out, s.providerView(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CreateAIProvider 创建 AI 服务
func (s *Store) CreateAIProvider(in entity.AIProviderInput) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := &providerRecord{AIProvider: entity.AIProvider{
		ID:           s.id(),
		OrgID:        s.admin.OrgID,
		ProviderType: in.ProviderType,
		Name:         in.Name,
		ModelName:    in.ModelName,
		SystemPrompt: in.SystemPrompt,
		MaxTokens:    500,
		Temperature:  0.7,
		IsActive:     true,
		CreatedAt:    s.stamp(),
	}, apiKey: in.APIKey}
	if r.ModelName == "" {
		r.ModelName = AIProviderTypes[in.ProviderType].DefaultModel
	}
	s.applyProvider(r, in)
	if len(s.providers) == 0 {
		r.IsDefault = true
	}
	s.providers[r.ID] = r
	return r.ID
}

// applyProvider copies the optional fields. Caller holds the lock.
func (s *Store) applyProvider(r *providerRecord, in entity.AIProviderInput) {
	if in.Name != "" {
		r.Name = in.Name
	}
	if in.ModelName != "" {
		r.ModelName = in.ModelName
	}
	if in.SystemPrompt != "" {
		r.SystemPrompt = in.SystemPrompt
	}
	if in.MaxTokens > 0 {
		r.MaxTokens = in.MaxTokens
	}
	if in.Temperature != nil {
		r.Temperature = *in.Temperature
	}
	if in.APIKey != "" {
		r.apiKey = in.APIKey
	}
	if in.IsActive != nil {
		r.IsActive = entity.Flag(*in.IsActive)
	}
	if in.IsDefault != nil && *in.IsDefault {
		for _, other := range s.providers {
			other.IsDefault = false
		}
		r.IsDefault = true
	}
}

// UpdateAIProvider 更新 AI 服务; an empty key keeps the stored one.
func (s *Store) UpdateAIProvider(id int64, in entity.AIProviderInput) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.providers[id]
	if !ok {
		return false
	}
	s.applyProvider(r, in)
	return true
}

// DeleteAIProvider 删除 AI 服务
func (s *Store) DeleteAIProvider(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.providers[id]; !ok {
		return false
	}
	delete(s.providers, id)
	return true
}

// TestAIProvider checks that a key is stored; the sandbox never calls out.
func (s *Store) TestAIProvider(id int64) (entity.VerifyResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.providers[id]
	if !ok {
		return entity.VerifyResult{}, false
	}
	if r.apiKey == "" {
		return entity.VerifyResult{Success: false, Message: "AI provider API key is invalid."}, true
	}
	return entity.VerifyResult{Success: true, Message: "Model " + r.ModelName + " responded"}, true
}

// ===== Notifications =====

// AddNotification stores a notification for the admin and returns it.
func (s *Store) AddNotification(kind, title, body string, conversationID int64) entity.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := entity.Notification{
		ID:               s.id(),
		OrgID:            s.admin.OrgID,
		AdminID:          s.admin.AdminID,
		NotificationType: kind,
		Title:            title,
		Body:             body,
		CreatedAt:        s.stamp(),
	}
	if conversationID > 0 {
		ref := conversationID
		n.ReferenceType = "conversation"
		n.ReferenceID = &ref
	}
	s.notifications = append(s.notifications, n)
	return n
}

// Notifications newest first.
func (s *Store) Notifications(unreadOnly bool) []entity.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []entity.Notification{}
	for i := len(s.notifications) - 1; i >= 0; i-- {
		n := s.notifications[i]
		if unreadOnly && bool(n.IsRead) {
			continue
		}
		out = append(out, n)
	}
	return out
}

// MarkNotificationRead 标记已读
func (s *Store) MarkNotificationRead(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.notifications {
		if s.notifications[i].ID == id {
			s.notifications[i].IsRead = true
			return true
		}
	}
	return false
}

// MarkAllNotificationsRead 全部已读
func (s *Store) MarkAllNotificationsRead() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.notifications {
		s.notifications[i].IsRead = true
	}
}

// ===== Settings =====

// Settings 组织设置
func (s *Store) Settings() entity.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// SetAIAutoReply 开关 AI 自动回复
func (s *Store) SetAIAutoReply(enabled bool) {
	s.mu.Lock()
	s.settings.AIAutoReplyEnabled = enabled
	s.mu.Unlock()
}

// SetPublicURL 设置公网地址
func (s *Store) SetPublicURL(u string) {
	s.mu.Lock()
	s.settings.PublicBaseURL = u
	s.mu.Unlock()
}

// ===== Backups =====

// snapshot is what a sandbox backup contains.
type snapshot struct {
	Conversations []entity.Conversation       `json:"conversations"`
	Messages      map[string][]entity.Message `json:"messages"`
	Contacts      []entity.Contact            `json:"contacts"`
	Templates     []entity.Template           `json:"templates"`
	Settings      entity.Settings             `json:"settings"`
}

// CreateBackup snapshots conversations, messages, contacts and templates.
func (s *Store) CreateBackup() (entity.Backup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := snapshot{Messages: map[string][]entity.Message{}, Settings: s.settings}
	for _, c := range s.convs {
		snap.Conversations = append(snap.Conversations, *c)
		snap.Messages[strconv.FormatInt(c.ID, 10)] = s.messages[c.ID]
	}
	for _, c := range s.contacts {
		snap.Contacts = append(snap.Contacts, *c)
	}
	for _, t := range s.templates {
		snap.Templates = append(snap.Templates, *t)
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return entity.Backup{}, err
	}

	now := s.now()
	name := "backup_" + now.Format("20060102_150405") + ".db"
	for _, b := range s.backups {
		if b.Filename == name {
			return entity.Backup{}, fmt.Errorf("backup %s already exists", name)
		}
	}
	b := backupRecord{Backup: entity.Backup{
		Filename:  name,
		SizeMB:    float64(len(data)) / (1024 * 1024),
		CreatedAt: entity.NewTimestamp(now),
	}, data: data}
	s.backups = append(s.backups, b)
	return b.Backup, nil
}

// Backups newest first.
func (s *Store) Backups() []entity.Backup {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []entity.Backup{}
	for i := len(s.backups) - 1; i >= 0; i-- {
		out = append(out, s.backups[i].Backup)
	}
	return out
}

// BackupData 备份内容
func (s *Store) BackupData(name string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.backups {
		if b.Filename == name {
			return b.data, true
		}
	}
	return nil, false
}

// RestoreBackup replaces conversations, messages, contacts and templates.
func (s *Store) RestoreBackup(name string) error {
	data, ok := s.BackupData(name)
	if !ok {
		return errNotFound
	}
	var snap snapshot
	if err := json.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return fmt.Errorf("corrupt backup: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs = make(map[int64]*entity.Conversation)
	s.messages = make(map[int64][]entity.Message)
	for i := range snap.Conversations {
		c := snap.Conversations[i]
		s.convs[c.ID] = &c
		s.messages[c.ID] = snap.Messages[strconv.FormatInt(c.ID, 10)]
	}
	s.contacts = make(map[int64]*entity.Contact)
	for i := range snap.Contacts {
		c := snap.Contacts[i]
		s.contacts[c.ID] = &c
	}
	s.templates = make(map[int64]*entity.Template)
	for i := range snap.Templates {
		t := snap.Templates[i]
		s.templates[t.ID] = &t
	}
	s.settings = snap.Settings
	return nil
}

// ===== Analytics =====

// Overview 概览统计
func (s *Store) Overview() entity.AnalyticsOverview {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := entity.AnalyticsOverview{
		TotalConversations: len(s.convs),
		TotalContacts:      len(s.contacts),
		Channels:           len(s.channels),
	}
	for id, c := range s.convs {
		if c.Status != entity.StatusResolved {
			out.OpenConversations++
		}
		for _, m := range s.messages[id] {
			out.TotalMessages++
			if m.SenderType == entity.SenderContact && !bool(m.IsRead) {
				out.UnreadMessages++
			}
		}
	}
	return out
}

var weekdays = []string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}

// Behavior 客户行为分析, computed from inbound messages.
func (s *Store) Behavior() entity.CustomerBehavior {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := entity.CustomerBehavior{
		HourlyActivity:    map[string]int{},
		ProductCategories: map[string]int{},
	}
	daily := make([]int, 7)
	monthly := map[string]int{}
	perContact := map[int64]int{}
	lastAt := map[int64]entity.Timestamp{}

	var replyTotal float64
	var replies int
	for id, c := range s.convs {
		var pending entity.Timestamp
		for _, m := range s.messages[id] {
			t := m.CreatedAt.Time
			if m.SenderType == entity.SenderContact {
				out.HourlyActivity[strconv.Itoa(t.Hour())]++
				daily[int(t.Weekday())]++
				monthly[t.Format("2006-01")]++
				perContact[c.ContactID]++
				lastAt[c.ContactID] = m.CreatedAt
				if pending.IsZero() {
					pending = m.CreatedAt
				}
				continue
			}
			if m.SenderType == entity.SenderAdmin && !pending.IsZero() {
				replyTotal += t.Sub(pending.Time).Seconds()
				replies++
				pending = entity.Timestamp{}
			}
		}
		for _, tag := range c.Tags {
			out.ProductCategories[tag]++
		}
	}
	for d, n := range daily {
		out.DailyActivity = append(out.DailyActivity, entity.DailyActivity{Day: weekdays[d], Dow: d, Count: n})
	}
	for m, n := range monthly {
		out.MonthlyTrend = append(out.MonthlyTrend, entity.MonthlyCount{Month: m, Count: n})
	}
	sort.Slice(out.MonthlyTrend, func(i, j int) bool { return out.MonthlyTrend[i].Month < out.MonthlyTrend[j].Month })

	for id, n := range perContact {
		c, ok := s.contacts[id]
		if !ok {
			continue
		}
		out.TopContacts = append(out.TopContacts, entity.TopContact{
			ID:             c.ID,
			DisplayName:    c.DisplayName,
			PlatformUserID: c.PlatformUserID,
			CustomerCode:   c.CustomerCode,
			MessageCount:   n,
			FirstSeenAt:    c.FirstSeenAt,
			LastSeenAt:     c.LastSeenAt,
			LastMessageAt:  lastAt[id],
		})
	}
	sort.Slice(out.TopContacts, func(i, j int) bool {
		if out.TopContacts[i].MessageCount != out.TopContacts[j].MessageCount {
			return out.TopContacts[i].MessageCount > out.TopContacts[j].MessageCount
		}
		return out.TopContacts[i].ID < out.TopContacts[j].ID
	})
	if len(out.TopContacts) > 10 {
		out.TopContacts = out.TopContacts[:10]
	}
	if replies > 0 {
		out.AvgResponseTimeSeconds = replyTotal / float64(replies)
	}
	return out
}
