package model

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Account status of a user. Only active users are enumerated by the
// dispatcher; paused and suspended users keep their rows and preferences.
const (
	UserStatusActive    = "active"
	UserStatusPaused    = "paused"
	UserStatusSuspended = "suspended"
)

const (
	DigestFrequencyDaily = "daily"

	// Bounds on how many articles a single digest may carry.
	MinArticleCount = 1
	MaxArticleCount = 20
)

/*

User is a digest subscriber

Id: primary key, use to identify a user
CreatedAt: time when entity is created

Email: delivery address, handed opaquely to the send collaborator
Status: active | paused | suspended, soft status change instead of deletion

DeliveryHour: local hour-of-day (0-23) the user wants the digest at
DeliveryMinute: local minute, stored for display only. Scheduling matches on
		hour granularity: a user asking for 08:30 is dispatched during hour 8.
Timezone: IANA timezone name, e.g. "America/New_York"
DeliveryDays: JSON array of ISO weekdays (1=Monday .. 7=Sunday)
DigestFrequency: currently always "daily"
ArticleCount: desired digest size, clamped to [1, 20]

SubscribedCompanies: explicit company opt-ins, serialized string separated by ","
SubscribedIndustries: explicit industry opt-ins, serialized string separated by ","
SubscribedTopics: explicit topic opt-ins, serialized string separated by ","
*/
type User struct {
	Id                   string `gorm:"primaryKey"`
	CreatedAt            time.Time
	Email                string
	Status               string
	DeliveryHour         int
	DeliveryMinute       int
	Timezone             string
	DeliveryDays         datatypes.JSON
	DigestFrequency      string
	ArticleCount         int
	SubscribedCompanies  string
	SubscribedIndustries string
	SubscribedTopics     string
}

// DeliveryDayList deserializes the DeliveryDays column. A missing or
// malformed column means every day.
func (u *User) DeliveryDayList() []int {
	if len(u.DeliveryDays) == 0 {
		return []int{1, 2, 3, 4, 5, 6, 7}
	}
	var days []int
	if err := json.Unmarshal(u.DeliveryDays, &days); err != nil || len(days) == 0 {
		return []int{1, 2, 3, 4, 5, 6, 7}
	}
	return days
}

// DeliversOn reports whether the user receives digests on the given weekday.
func (u *User) DeliversOn(wd time.Weekday) bool {
	iso := int(wd)
	if wd == time.Sunday {
		iso = 7
	}
	for _, d := range u.DeliveryDayList() {
		if d == iso {
			return true
		}
	}
	return false
}

// BoundedArticleCount clamps the configured digest size into [1, 20].
func (u *User) BoundedArticleCount() int {
	if u.ArticleCount < MinArticleCount {
		return MinArticleCount
	}
	if u.ArticleCount > MaxArticleCount {
		return MaxArticleCount
	}
	return u.ArticleCount
}

func (u *User) SubscribedCompanyList() []string {
	return splitTags(u.SubscribedCompanies)
}

func (u *User) SubscribedIndustryList() []string {
	return splitTags(u.SubscribedIndustries)
}

func (u *User) SubscribedTopicList() []string {
	return splitTags(u.SubscribedTopics)
}

// MarshalDeliveryDays serializes an ISO weekday list into the stored form.
func MarshalDeliveryDays(days []int) datatypes.JSON {
	b, _ := json.Marshal(days)
	return datatypes.JSON(b)
}
