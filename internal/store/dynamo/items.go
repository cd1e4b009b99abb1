package dynamo

import (
	"time"

	"github.com/mailspace/mailspace/internal/domain"
)

// Single-table key layout:
//
//	CAMPAIGN#<id>       / METADATA
//	SENDER#<id>         / META
//	RECIPIENT#<email>   / PROFILE
//	SUPPRESSION#<email> / EMAIL
//
// Timestamps are stored as fixed-width UTC strings so DynamoDB string
// comparison in condition and filter expressions orders them correctly.
const (
	campaignSK    = "METADATA"
	senderSK      = "META"
	profileSK     = "PROFILE"
	suppressionSK = "EMAIL"

	campaignPrefix    = "CAMPAIGN#"
	senderPrefix      = "SENDER#"
	recipientPrefix   = "RECIPIENT#"
	suppressionPrefix = "SUPPRESSION#"

	timeFormat = "2006-01-02T15:04:05Z"
	dayFormat  = "2006-01-02"
)

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeFormat, s)
	return t
}

type campaignItem struct {
	PK                 string   `dynamodbav:"PK"`
	SK                 string   `dynamodbav:"SK"`
	ID                 string   `dynamodbav:"ID"`
	Name               string   `dynamodbav:"Name"`
	Subject            string   `dynamodbav:"Subject"`
	Body               string   `dynamodbav:"Body"`
	Recipients         []string `dynamodbav:"Recipients"`
	SenderIDs          []string `dynamodbav:"SenderIDs"`
	Status             string   `dynamodbav:"Status"`
	SendAt             string   `dynamodbav:"SendAt"`
	Timezone           string   `dynamodbav:"Timezone"`
	NextRecipientIndex int      `dynamodbav:"NextRecipientIndex"`
	LastSentAt         string   `dynamodbav:"LastSentAt,omitempty"`
	SentCount          int      `dynamodbav:"SentCount"`
	CreatedAt          string   `dynamodbav:"CreatedAt"`
	UpdatedAt          string   `dynamodbav:"UpdatedAt"`
}

func toCampaignItem(c *domain.Campaign) campaignItem {
	item := campaignItem{
		PK:                 campaignPrefix + c.ID,
		SK:                 campaignSK,
		ID:                 c.ID,
		Name:               c.Name,
		Subject:            c.Subject,
		Body:               c.Body,
		Recipients:         c.Recipients,
		SenderIDs:          c.SenderIDs,
		Status:             string(c.Status),
		SendAt:             formatTime(c.SendAt),
		Timezone:           c.Timezone,
		NextRecipientIndex: c.NextRecipientIndex,
		SentCount:          c.SentCount,
		CreatedAt:          formatTime(c.CreatedAt),
		UpdatedAt:          formatTime(c.UpdatedAt),
	}
	if c.LastSentAt != nil {
		item.LastSentAt = formatTime(*c.LastSentAt)
	}
	return item
}

func (i campaignItem) toDomain() domain.Campaign {
	c := domain.Campaign{
		ID:                 i.ID,
		Name:               i.Name,
		Subject:            i.Subject,
		Body:               i.Body,
		Recipients:         i.Recipients,
		SenderIDs:          i.SenderIDs,
		Status:             domain.CampaignStatus(i.Status),
		SendAt:             parseTime(i.SendAt),
		Timezone:           i.Timezone,
		NextRecipientIndex: i.NextRecipientIndex,
		SentCount:          i.SentCount,
		CreatedAt:          parseTime(i.CreatedAt),
		UpdatedAt:          parseTime(i.UpdatedAt),
	}
	if i.LastSentAt != "" {
		t := parseTime(i.LastSentAt)
		c.LastSentAt = &t
	}
	return c
}

type senderItem struct {
	PK           string `dynamodbav:"PK"`
	SK           string `dynamodbav:"SK"`
	ID           string `dynamodbav:"ID"`
	Host         string `dynamodbav:"Host"`
	Port         int    `dynamodbav:"Port"`
	Username     string `dynamodbav:"Username"`
	Password     string `dynamodbav:"Password"`
	FromName     string `dynamodbav:"FromName"`
	FromEmail    string `dynamodbav:"FromEmail"`
	DailyLimit   int    `dynamodbav:"DailyLimit"`
	SentToday    int    `dynamodbav:"SentToday"`
	LastReset    string `dynamodbav:"LastReset"`
	LastResetDay string `dynamodbav:"LastResetDay"`
	CreatedAt    string `dynamodbav:"CreatedAt"`
	UpdatedAt    string `dynamodbav:"UpdatedAt"`
}

func toSenderItem(a *domain.SenderAccount) senderItem {
	return senderItem{
		PK:           senderPrefix + a.ID,
		SK:           senderSK,
		ID:           a.ID,
		Host:         a.Host,
		Port:         a.Port,
		Username:     a.Username,
		Password:     a.Password,
		FromName:     a.FromName,
		FromEmail:    a.FromEmail,
		DailyLimit:   a.DailyLimit,
		SentToday:    a.SentToday,
		LastReset:    formatTime(a.LastReset),
		LastResetDay: a.LastReset.UTC().Format(dayFormat),
		CreatedAt:    formatTime(a.CreatedAt),
		UpdatedAt:    formatTime(a.UpdatedAt),
	}
}

func (i senderItem) toDomain() domain.SenderAccount {
	return domain.SenderAccount{
		ID:         i.ID,
		Host:       i.Host,
		Port:       i.Port,
		Username:   i.Username,
		Password:   i.Password,
		FromName:   i.FromName,
		FromEmail:  i.FromEmail,
		DailyLimit: i.DailyLimit,
		SentToday:  i.SentToday,
		LastReset:  parseTime(i.LastReset),
		CreatedAt:  parseTime(i.CreatedAt),
		UpdatedAt:  parseTime(i.UpdatedAt),
	}
}

type profileItem struct {
	PK        string `dynamodbav:"PK"`
	SK        string `dynamodbav:"SK"`
	Email     string `dynamodbav:"Email"`
	FirstName string `dynamodbav:"FirstName"`
	LastName  string `dynamodbav:"LastName"`
	CreatedAt string `dynamodbav:"CreatedAt"`
	UpdatedAt string `dynamodbav:"UpdatedAt"`
}

type suppressionItem struct {
	PK        string `dynamodbav:"PK"`
	SK        string `dynamodbav:"SK"`
	Email     string `dynamodbav:"Email"`
	Reason    string `dynamodbav:"Reason"`
	CreatedAt string `dynamodbav:"CreatedAt"`
}
