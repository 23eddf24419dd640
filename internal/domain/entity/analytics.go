package entity

// AnalyticsOverview 概览统计, 由服务端计算
type AnalyticsOverview struct {
	TotalConversations int `json:"total_conversations"`
	OpenConversations  int `json:"open_conversations"`
	TotalMessages      int `json:"total_messages"`
	TotalContacts      int `json:"total_contacts"`
	Channels           int `json:"channels"`
	UnreadMessages     int `json:"unread_messages"`
}

// DailyActivity is the inbound count for one weekday (0 = Sunday).
type DailyActivity struct {
	Day   string `json:"day"`
	Dow   int    `json:"dow"`
	Count int    `json:"count"`
}

// MonthlyCount is the inbound count for one "YYYY-MM" month.
type MonthlyCount struct {
	Month string `json:"month"`
	Count int    `json:"count"`
}

// TopContact is one row of the most active contacts table.
type TopContact struct {
	ID             int64     `json:"id"`
	DisplayName    string    `json:"display_name"`
	PlatformUserID string    `json:"platform_user_id"`
	CustomerCode   string    `json:"customer_code"`
	MessageCount   int       `json:"message_count"`
	FirstSeenAt    Timestamp `json:"first_seen_at"`
	LastSeenAt     Timestamp `json:"last_seen_at"`
	LastMessageAt  Timestamp `json:"last_message_at"`
}

// CustomerBehavior 客户行为分析
type CustomerBehavior struct {
	HourlyActivity         map[string]int  `json:"hourly_activity"`
	DailyActivity          []DailyActivity `json:"daily_activity"`
	TopContacts            []TopContact    `json:"top_contacts"`
	ProductCategories      map[string]int  `json:"product_categories"`
	MonthlyTrend           []MonthlyCount  `json:"monthly_trend"`
	AvgResponseTimeSeconds float64         `json:"avg_response_time_seconds"`
}

// PeakHour returns the busiest hour of day, or -1 with no activity.
func (b *CustomerBehavior) PeakHour() int {
	peak, best := -1, 0
	for h := 0; h < 24; h++ {
		if c := b.HourlyActivity[itoa(int64(h))]; c > best {
			peak, best = h, c
		}
	}
	return peak
}
