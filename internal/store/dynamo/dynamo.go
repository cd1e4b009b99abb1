// Package dynamo implements store.Store on a DynamoDB single table.
//
// Conditional writes carry the concurrency guarantees: campaign claims
// are UpdateItem calls with a ConditionExpression on Status, and quota
// resets condition on the stored reset day. A failed condition is a
// lost race, not an error.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/mailspace/mailspace/internal/domain"
	"github.com/mailspace/mailspace/internal/store"
)

// Store is a DynamoDB-backed store.Store.
type Store struct {
	client    *dynamodb.Client
	tableName string
	now       func() time.Time
}

// New creates a DynamoDB store against the given table.
func New(ctx context.Context, tableName, region, profile string) (*Store, error) {
	var cfg aws.Config
	var err error

	if profile != "" {
		cfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(region),
			awsconfig.WithSharedConfigProfile(profile),
		)
	} else {
		cfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(region),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return &Store{
		client:    dynamodb.NewFromConfig(cfg),
		tableName: tableName,
		now:       time.Now,
	}, nil
}

// NewWithClient wraps an existing client, for tests against DynamoDB Local.
func NewWithClient(client *dynamodb.Client, tableName string) *Store {
	return &Store{client: client, tableName: tableName, now: time.Now}
}

func conditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

func (s *Store) key(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

func (s *Store) putItem(ctx context.Context, item any) error {
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("marshaling item: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("putting item: %w", err)
	}
	return nil
}

func (s *Store) getItem(ctx context.Context, pk, sk string, out any) error {
	res, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key:       s.key(pk, sk),
	})
	if err != nil {
		return fmt.Errorf("getting item: %w", err)
	}
	if len(res.Item) == 0 {
		return store.ErrNotFound
	}
	if err := attributevalue.UnmarshalMap(res.Item, out); err != nil {
		return fmt.Errorf("unmarshaling item: %w", err)
	}
	return nil
}

func (s *Store) deleteItem(ctx context.Context, pk, sk string) error {
	res, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:    aws.String(s.tableName),
		Key:          s.key(pk, sk),
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return fmt.Errorf("deleting item: %w", err)
	}
	if len(res.Attributes) == 0 {
		return store.ErrNotFound
	}
	return nil
}

// scanPrefix pages through all items whose PK begins with the prefix.
func (s *Store) scanPrefix(ctx context.Context, prefix string) ([]map[string]types.AttributeValue, error) {
	var items []map[string]types.AttributeValue
	var startKey map[string]types.AttributeValue
	for {
		res, err := s.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:        aws.String(s.tableName),
			FilterExpression: aws.String("begins_with(PK, :prefix)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":prefix": &types.AttributeValueMemberS{Value: prefix},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("scanning %s items: %w", prefix, err)
		}
		items = append(items, res.Items...)
		if res.LastEvaluatedKey == nil {
			return items, nil
		}
		startKey = res.LastEvaluatedKey
	}
}

// ---- campaigns ----

func (s *Store) CreateCampaign(ctx context.Context, c *domain.Campaign) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	now := s.now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	av, err := attributevalue.MarshalMap(toCampaignItem(c))
	if err != nil {
		return fmt.Errorf("marshaling campaign: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if conditionFailed(err) {
		return store.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("creating campaign: %w", err)
	}
	return nil
}

func (s *Store) GetCampaign(ctx context.Context, id string) (*domain.Campaign, error) {
	var item campaignItem
	if err := s.getItem(ctx, campaignPrefix+id, campaignSK, &item); err != nil {
		return nil, err
	}
	c := item.toDomain()
	return &c, nil
}

func (s *Store) ListCampaigns(ctx context.Context) ([]domain.Campaign, error) {
	raw, err := s.scanPrefix(ctx, campaignPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Campaign, 0, len(raw))
	for _, av := range raw {
		var item campaignItem
		if err := attributevalue.UnmarshalMap(av, &item); err != nil {
			continue
		}
		out = append(out, item.toDomain())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) SearchCampaigns(ctx context.Context, query string) ([]domain.Campaign, error) {
	all, err := s.ListCampaigns(ctx)
	if err != nil {
		return nil, err
	}
	if query == "" {
		return all, nil
	}
	q := strings.ToLower(query)
	out := make([]domain.Campaign, 0, len(all))
	for _, c := range all {
		if strings.Contains(strings.ToLower(c.Name), q) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Store) UpdateCampaign(ctx context.Context, c *domain.Campaign) error {
	c.UpdatedAt = s.now().UTC()
	av, err := attributevalue.MarshalMap(toCampaignItem(c))
	if err != nil {
		return fmt.Errorf("marshaling campaign: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_exists(PK)"),
	})
	if conditionFailed(err) {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("updating campaign: %w", err)
	}
	return nil
}

func (s *Store) DeleteCampaign(ctx context.Context, id string) error {
	return s.deleteItem(ctx, campaignPrefix+id, campaignSK)
}

func (s *Store) DueCampaigns(ctx context.Context, now time.Time) ([]domain.Campaign, error) {
	var items []map[string]types.AttributeValue
	var startKey map[string]types.AttributeValue
	for {
		res, err := s.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:        aws.String(s.tableName),
			FilterExpression: aws.String("begins_with(PK, :prefix) AND #st = :scheduled AND SendAt <= :now"),
			ExpressionAttributeNames: map[string]string{
				"#st": "Status",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":prefix":    &types.AttributeValueMemberS{Value: campaignPrefix},
				":scheduled": &types.AttributeValueMemberS{Value: string(domain.CampaignScheduled)},
				":now":       &types.AttributeValueMemberS{Value: formatTime(now)},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("scanning due campaigns: %w", err)
		}
		items = append(items, res.Items...)
		if res.LastEvaluatedKey == nil {
			break
		}
		startKey = res.LastEvaluatedKey
	}

	out := make([]domain.Campaign, 0, len(items))
	for _, av := range items {
		var item campaignItem
		if err := attributevalue.UnmarshalMap(av, &item); err != nil {
			continue
		}
		out = append(out, item.toDomain())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SendAt.Before(out[j].SendAt) })
	return out, nil
}

func (s *Store) ClaimCampaign(ctx context.Context, id string, from, to domain.CampaignStatus) (bool, error) {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.tableName),
		Key:                 s.key(campaignPrefix+id, campaignSK),
		UpdateExpression:    aws.String("SET #st = :to, UpdatedAt = :now"),
		ConditionExpression: aws.String("attribute_exists(PK) AND #st = :from"),
		ExpressionAttributeNames: map[string]string{
			"#st": "Status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":from": &types.AttributeValueMemberS{Value: string(from)},
			":to":   &types.AttributeValueMemberS{Value: string(to)},
			":now":  &types.AttributeValueMemberS{Value: formatTime(s.now())},
		},
	})
	if conditionFailed(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("claiming campaign: %w", err)
	}
	return true, nil
}

func (s *Store) ReclaimStale(ctx context.Context, id string, cutoff time.Time) (bool, error) {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.tableName),
		Key:                 s.key(campaignPrefix+id, campaignSK),
		UpdateExpression:    aws.String("SET UpdatedAt = :now"),
		ConditionExpression: aws.String("attribute_exists(PK) AND #st = :processing AND UpdatedAt <= :cutoff"),
		ExpressionAttributeNames: map[string]string{
			"#st": "Status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":processing": &types.AttributeValueMemberS{Value: string(domain.CampaignProcessing)},
			":cutoff":     &types.AttributeValueMemberS{Value: formatTime(cutoff)},
			":now":        &types.AttributeValueMemberS{Value: formatTime(s.now())},
		},
	})
	if conditionFailed(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reclaiming campaign: %w", err)
	}
	return true, nil
}

func (s *Store) SaveDispatchProgress(ctx context.Context, id string, nextIndex int, lastSentAt *time.Time, sentCount int) error {
	expr := "SET NextRecipientIndex = :idx, SentCount = :sent, UpdatedAt = :now"
	values := map[string]types.AttributeValue{
		":idx":  &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", nextIndex)},
		":sent": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", sentCount)},
		":now":  &types.AttributeValueMemberS{Value: formatTime(s.now())},
	}
	if lastSentAt != nil {
		expr += ", LastSentAt = :last"
		values[":last"] = &types.AttributeValueMemberS{Value: formatTime(*lastSentAt)}
	}

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.tableName),
		Key:                       s.key(campaignPrefix+id, campaignSK),
		UpdateExpression:          aws.String(expr),
		ConditionExpression:       aws.String("attribute_exists(PK)"),
		ExpressionAttributeValues: values,
	})
	if conditionFailed(err) {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("saving dispatch progress: %w", err)
	}
	return nil
}

// ---- senders ----

func (s *Store) CreateSender(ctx context.Context, a *domain.SenderAccount) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	now := s.now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	if a.LastReset.IsZero() {
		a.LastReset = now
	}

	av, err := attributevalue.MarshalMap(toSenderItem(a))
	if err != nil {
		return fmt.Errorf("marshaling sender: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if conditionFailed(err) {
		return store.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("creating sender: %w", err)
	}
	return nil
}

func (s *Store) GetSender(ctx context.Context, id string) (*domain.SenderAccount, error) {
	var item senderItem
	if err := s.getItem(ctx, senderPrefix+id, senderSK, &item); err != nil {
		return nil, err
	}
	a := item.toDomain()
	return &a, nil
}

func (s *Store) ListSenders(ctx context.Context) ([]domain.SenderAccount, error) {
	raw, err := s.scanPrefix(ctx, senderPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]domain.SenderAccount, 0, len(raw))
	for _, av := range raw {
		var item senderItem
		if err := attributevalue.UnmarshalMap(av, &item); err != nil {
			continue
		}
		out = append(out, item.toDomain())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) UpdateSender(ctx context.Context, a *domain.SenderAccount) error {
	existing, err := s.GetSender(ctx, a.ID)
	if err != nil {
		return err
	}
	// Quota state is owned by the quota operations, never by edits.
	a.SentToday = existing.SentToday
	a.LastReset = existing.LastReset
	a.CreatedAt = existing.CreatedAt
	a.UpdatedAt = s.now().UTC()

	av, err := attributevalue.MarshalMap(toSenderItem(a))
	if err != nil {
		return fmt.Errorf("marshaling sender: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_exists(PK)"),
	})
	if conditionFailed(err) {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("updating sender: %w", err)
	}
	return nil
}

func (s *Store) DeleteSender(ctx context.Context, id string) error {
	return s.deleteItem(ctx, senderPrefix+id, senderSK)
}

func (s *Store) ResetQuotaIfNewDay(ctx context.Context, id string, now time.Time) (*domain.SenderAccount, error) {
	day := now.UTC().Format(dayFormat)
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.tableName),
		Key:                 s.key(senderPrefix+id, senderSK),
		UpdateExpression:    aws.String("SET SentToday = :zero, LastReset = :now, LastResetDay = :day, UpdatedAt = :now"),
		ConditionExpression: aws.String("attribute_exists(PK) AND LastResetDay < :day"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":zero": &types.AttributeValueMemberN{Value: "0"},
			":now":  &types.AttributeValueMemberS{Value: formatTime(now)},
			":day":  &types.AttributeValueMemberS{Value: day},
		},
	})
	if err != nil && !conditionFailed(err) {
		return nil, fmt.Errorf("resetting quota: %w", err)
	}
	// Condition failure means the counter already belongs to today.
	return s.GetSender(ctx, id)
}

func (s *Store) IncrementSentCount(ctx context.Context, id string) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.tableName),
		Key:                 s.key(senderPrefix+id, senderSK),
		UpdateExpression:    aws.String("ADD SentToday :one SET UpdatedAt = :now"),
		ConditionExpression: aws.String("attribute_exists(PK)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
			":now": &types.AttributeValueMemberS{Value: formatTime(s.now())},
		},
	})
	if conditionFailed(err) {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("incrementing sent count: %w", err)
	}
	return nil
}

func (s *Store) ResetAllQuotas(ctx context.Context, now time.Time) (int, error) {
	senders, err := s.ListSenders(ctx)
	if err != nil {
		return 0, err
	}
	day := now.UTC().Format(dayFormat)
	count := 0
	for _, a := range senders {
		_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:        aws.String(s.tableName),
			Key:              s.key(senderPrefix+a.ID, senderSK),
			UpdateExpression: aws.String("SET SentToday = :zero, LastReset = :now, LastResetDay = :day, UpdatedAt = :now"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":zero": &types.AttributeValueMemberN{Value: "0"},
				":now":  &types.AttributeValueMemberS{Value: formatTime(now)},
				":day":  &types.AttributeValueMemberS{Value: day},
			},
		})
		if err != nil {
			return count, fmt.Errorf("resetting quota for %s: %w", a.ID, err)
		}
		count++
	}
	return count, nil
}

// ---- recipient profiles ----

func (s *Store) UpsertProfile(ctx context.Context, p *domain.RecipientProfile) error {
	p.Email = domain.NormalizeEmail(p.Email)
	now := s.now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	return s.putItem(ctx, profileItem{
		PK:        recipientPrefix + p.Email,
		SK:        profileSK,
		Email:     p.Email,
		FirstName: p.FirstName,
		LastName:  p.LastName,
		CreatedAt: formatTime(p.CreatedAt),
		UpdatedAt: formatTime(p.UpdatedAt),
	})
}

func (s *Store) GetProfile(ctx context.Context, email string) (*domain.RecipientProfile, error) {
	var item profileItem
	if err := s.getItem(ctx, recipientPrefix+domain.NormalizeEmail(email), profileSK, &item); err != nil {
		return nil, err
	}
	return &domain.RecipientProfile{
		Email:     item.Email,
		FirstName: item.FirstName,
		LastName:  item.LastName,
		CreatedAt: parseTime(item.CreatedAt),
		UpdatedAt: parseTime(item.UpdatedAt),
	}, nil
}

func (s *Store) ListProfiles(ctx context.Context) ([]domain.RecipientProfile, error) {
	raw, err := s.scanPrefix(ctx, recipientPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]domain.RecipientProfile, 0, len(raw))
	for _, av := range raw {
		var item profileItem
		if err := attributevalue.UnmarshalMap(av, &item); err != nil {
			continue
		}
		out = append(out, domain.RecipientProfile{
			Email:     item.Email,
			FirstName: item.FirstName,
			LastName:  item.LastName,
			CreatedAt: parseTime(item.CreatedAt),
			UpdatedAt: parseTime(item.UpdatedAt),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (s *Store) DeleteProfile(ctx context.Context, email string) error {
	return s.deleteItem(ctx, recipientPrefix+domain.NormalizeEmail(email), profileSK)
}

// ---- suppressions ----

func (s *Store) Suppress(ctx context.Context, e *domain.SuppressionEntry) error {
	e.Email = domain.NormalizeEmail(e.Email)
	if e.Reason == "" {
		e.Reason = domain.ReasonManual
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now().UTC()
	}
	// Unconditional put: re-suppressing is a no-op either way.
	return s.putItem(ctx, suppressionItem{
		PK:        suppressionPrefix + e.Email,
		SK:        suppressionSK,
		Email:     e.Email,
		Reason:    string(e.Reason),
		CreatedAt: formatTime(e.CreatedAt),
	})
}

func (s *Store) IsSuppressed(ctx context.Context, email string) (bool, error) {
	var item suppressionItem
	err := s.getItem(ctx, suppressionPrefix+domain.NormalizeEmail(email), suppressionSK, &item)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) ListSuppressions(ctx context.Context) ([]domain.SuppressionEntry, error) {
	raw, err := s.scanPrefix(ctx, suppressionPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]domain.SuppressionEntry, 0, len(raw))
	for _, av := range raw {
		var item suppressionItem
		if err := attributevalue.UnmarshalMap(av, &item); err != nil {
			continue
		}
		out = append(out, domain.SuppressionEntry{
			Email:     item.Email,
			Reason:    domain.SuppressionReason(item.Reason),
			CreatedAt: parseTime(item.CreatedAt),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (s *Store) Unsuppress(ctx context.Context, email string) error {
	return s.deleteItem(ctx, suppressionPrefix+domain.NormalizeEmail(email), suppressionSK)
}

// Ping verifies the table is reachable.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.tableName),
	})
	return err
}

// Close is a no-op; the SDK client holds no persistent connections.
func (s *Store) Close() error { return nil }
