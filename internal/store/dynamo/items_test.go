package dynamo

import (
	"reflect"
	"testing"
	"time"

	"github.com/mailspace/mailspace/internal/domain"
)

func TestCampaignItemRoundTrip(t *testing.T) {
	sentAt := time.Date(2026, 3, 10, 11, 58, 0, 0, time.UTC)
	c := domain.Campaign{
		ID:                 "c1",
		Name:               "promo",
		Subject:            "subj",
		Body:               "body",
		Recipients:         []string{"a@x.com", "b@x.com"},
		SenderIDs:          []string{"s1", "s2"},
		Status:             domain.CampaignProcessing,
		SendAt:             time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
		Timezone:           "America/New_York",
		NextRecipientIndex: 2,
		LastSentAt:         &sentAt,
		SentCount:          2,
		CreatedAt:          time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC),
		UpdatedAt:          time.Date(2026, 3, 10, 11, 58, 0, 0, time.UTC),
	}

	got := toCampaignItem(&c).toDomain()
	if !reflect.DeepEqual(got, c) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, c)
	}
}

func TestCampaignItemKeys(t *testing.T) {
	item := toCampaignItem(&domain.Campaign{ID: "abc"})
	if item.PK != "CAMPAIGN#abc" || item.SK != "METADATA" {
		t.Errorf("keys = %s / %s", item.PK, item.SK)
	}
}

func TestCampaignItemNilLastSentAt(t *testing.T) {
	item := toCampaignItem(&domain.Campaign{ID: "c1"})
	if item.LastSentAt != "" {
		t.Errorf("LastSentAt = %q, want empty", item.LastSentAt)
	}
	if got := item.toDomain(); got.LastSentAt != nil {
		t.Errorf("LastSentAt = %v, want nil", got.LastSentAt)
	}
}

func TestSenderItemResetDay(t *testing.T) {
	a := domain.SenderAccount{
		ID:        "s1",
		LastReset: time.Date(2026, 3, 9, 23, 30, 0, 0, time.UTC),
	}
	item := toSenderItem(&a)
	if item.PK != "SENDER#s1" || item.SK != "META" {
		t.Errorf("keys = %s / %s", item.PK, item.SK)
	}
	if item.LastResetDay != "2026-03-09" {
		t.Errorf("LastResetDay = %q, want 2026-03-09", item.LastResetDay)
	}
}

func TestTimeFormatSortsLexicographically(t *testing.T) {
	early := formatTime(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	late := formatTime(time.Date(2026, 3, 10, 21, 0, 0, 0, time.UTC))
	if !(early < late) {
		t.Errorf("%q should sort before %q", early, late)
	}
}
