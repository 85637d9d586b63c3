// SPDX-FileCopyrightText: 2025 Exedra Development, S.L.
// SPDX-License-Identifier: Apache-2.0

// Package dynamodb persists the catalog in a single DynamoDB table keyed by
// (principal#kind, id). Rows carry the record as a JSON document; filtering
// beyond the partition happens in application code.
package dynamodb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/exedra-dev/xrgate/catalog"
	"github.com/exedra-dev/xrgate/catalog/db/metric"
	"github.com/exedra-dev/xrgate/model"
	"github.com/google/uuid"
	"github.com/xmidt-org/sallust"
	"go.uber.org/zap"
)

const (
	defaultTable      = "xrgate"
	defaultMaxRetries = 3

	// batchLimit is the DynamoDB cap on BatchWriteItem requests.
	batchLimit = 25
)

// Record kinds, the second half of the partition key.
const (
	kindConfig      = "config"
	kindCertificate = "certificate"
	kindProvider    = "provider"
	kindService     = "service"
	kindEndpoint    = "endpoint"
	kindGrant       = "grant"
	kindFileRule    = "filerule"
)

type Config struct {
	Table      string
	Endpoint   string
	Region     string
	MaxRetries int
	AccessKey  string
	SecretKey  string
}

// row is the single table shape. data holds the record as JSON so the model
// can evolve without table migrations.
type row struct {
	PK   string `dynamodbav:"pk"`
	SK   string `dynamodbav:"sk"`
	Data []byte `dynamodbav:"data"`
}

type api interface {
	GetItem(ctx context.Context, params *awsdynamodb.GetItemInput, optFns ...func(*awsdynamodb.Options)) (*awsdynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *awsdynamodb.PutItemInput, optFns ...func(*awsdynamodb.Options)) (*awsdynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *awsdynamodb.DeleteItemInput, optFns ...func(*awsdynamodb.Options)) (*awsdynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *awsdynamodb.QueryInput, optFns ...func(*awsdynamodb.Options)) (*awsdynamodb.QueryOutput, error)
	BatchWriteItem(ctx context.Context, params *awsdynamodb.BatchWriteItemInput, optFns ...func(*awsdynamodb.Options)) (*awsdynamodb.BatchWriteItemOutput, error)
}

type DynamoStore struct {
	client   api
	table    string
	measures metric.Measures
	logger   *zap.Logger
	now      func() time.Time
}

var _ catalog.Store = (*DynamoStore)(nil)

func validateConfig(config *Config) {
	if config.Table == "" {
		config.Table = defaultTable
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = defaultMaxRetries
	}
}

func NewDynamoStore(ctx context.Context, config Config, measures metric.Measures, logger *zap.Logger) (*DynamoStore, error) {
	validateConfig(&config)
	if logger == nil {
		logger = sallust.Default()
	}

	loadOptions := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(config.Region),
		awsconfig.WithRetryMaxAttempts(config.MaxRetries),
	}
	if config.AccessKey != "" {
		loadOptions = append(loadOptions,
			awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(config.AccessKey, config.SecretKey, "")))
	}
	awsConfig, err := awsconfig.LoadDefaultConfig(ctx, loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed loading aws configuration: %w", err)
	}

	client := awsdynamodb.NewFromConfig(awsConfig, func(o *awsdynamodb.Options) {
		if config.Endpoint != "" {
			o.BaseEndpoint = aws.String(config.Endpoint)
		}
	})
	return newDynamoStore(client, config.Table, measures, logger), nil
}

func newDynamoStore(client api, table string, measures metric.Measures, logger *zap.Logger) *DynamoStore {
	return &DynamoStore{
		client:   client,
		table:    table,
		measures: measures,
		logger:   logger,
		now:      time.Now,
	}
}

func partition(owner model.PrincipalRef, kind string) string {
	return string(owner) + "#" + kind
}

func (s *DynamoStore) observe(queryType string, start time.Time, err error) {
	s.measures.QueryDurations.WithLabelValues(queryType).Observe(time.Since(start).Seconds())
	if err != nil {
		s.measures.QueryFailureCount.WithLabelValues(queryType).Add(1.0)
		return
	}
	s.measures.QuerySuccessCount.WithLabelValues(queryType).Add(1.0)
}

// getOne fetches a single row and unmarshals its JSON payload into out.
func (s *DynamoStore) getOne(ctx context.Context, pk, sk, kind string, out interface{}) error {
	start := s.now()
	output, err := s.client.GetItem(ctx, &awsdynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: pk},
			"sk": &types.AttributeValueMemberS{Value: sk},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		s.observe(catalog.ReadType, start, err)
		return fmt.Errorf("dynamodb get failed: %w", err)
	}
	if output.Item == nil {
		s.observe(catalog.ReadType, start, nil)
		return catalog.RecordNotFoundError{Kind: kind, Key: pk + "/" + sk}
	}

	var r row
	if err := attributevalue.UnmarshalMap(output.Item, &r); err != nil {
		s.observe(catalog.ReadType, start, err)
		return fmt.Errorf("failed unmarshaling dynamodb item: %w", err)
	}
	if err := json.Unmarshal(r.Data, out); err != nil {
		s.observe(catalog.ReadType, start, err)
		return fmt.Errorf("corrupt %s row %s/%s: %w", kind, pk, sk, err)
	}
	s.observe(catalog.ReadType, start, nil)
	return nil
}

func (s *DynamoStore) putOne(ctx context.Context, pk, sk string, record interface{}) error {
	start := s.now()
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed encoding record: %w", err)
	}
	item, err := attributevalue.MarshalMap(row{PK: pk, SK: sk, Data: data})
	if err != nil {
		return fmt.Errorf("failed marshaling dynamodb item: %w", err)
	}
	_, err = s.client.PutItem(ctx, &awsdynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	s.observe(catalog.InsertType, start, err)
	if err != nil {
		return fmt.Errorf("dynamodb put failed: %w", err)
	}
	return nil
}

// queryPartition pages through a full partition and hands each payload to
// collect.
func (s *DynamoStore) queryPartition(ctx context.Context, pk string, collect func(data []byte) error) error {
	start := s.now()
	var exclusiveStart map[string]types.AttributeValue
	for {
		output, err := s.client.Query(ctx, &awsdynamodb.QueryInput{
			TableName:              aws.String(s.table),
			KeyConditionExpression: aws.String("pk = :pk"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk": &types.AttributeValueMemberS{Value: pk},
			},
			ExclusiveStartKey: exclusiveStart,
		})
		if err != nil {
			s.observe(catalog.ReadType, start, err)
			return fmt.Errorf("dynamodb query failed: %w", err)
		}
		for _, item := range output.Items {
			var r row
			if err := attributevalue.UnmarshalMap(item, &r); err != nil {
				s.observe(catalog.ReadType, start, err)
				return fmt.Errorf("failed unmarshaling dynamodb item: %w", err)
			}
			if err := collect(r.Data); err != nil {
				s.observe(catalog.ReadType, start, err)
				return err
			}
		}
		if output.LastEvaluatedKey == nil {
			break
		}
		exclusiveStart = output.LastEvaluatedKey
	}
	s.observe(catalog.ReadType, start, nil)
	return nil
}

// deletePartition removes every row in a partition in BatchWriteItem chunks.
func (s *DynamoStore) deletePartition(ctx context.Context, pk string) error {
	var keys []string
	err := s.queryPartitionKeys(ctx, pk, &keys)
	if err != nil {
		return err
	}

	start := s.now()
	for len(keys) > 0 {
		chunk := keys
		if len(chunk) > batchLimit {
			chunk = chunk[:batchLimit]
		}
		keys = keys[len(chunk):]

		requests := make([]types.WriteRequest, 0, len(chunk))
		for _, sk := range chunk {
			requests = append(requests, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{
					Key: map[string]types.AttributeValue{
						"pk": &types.AttributeValueMemberS{Value: pk},
						"sk": &types.AttributeValueMemberS{Value: sk},
					},
				},
			})
		}
		_, err := s.client.BatchWriteItem(ctx, &awsdynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{s.table: requests},
		})
		if err != nil {
			s.observe(catalog.DeleteType, start, err)
			return fmt.Errorf("dynamodb batch delete failed: %w", err)
		}
	}
	s.observe(catalog.DeleteType, start, nil)
	return nil
}

func (s *DynamoStore) queryPartitionKeys(ctx context.Context, pk string, out *[]string) error {
	start := s.now()
	var exclusiveStart map[string]types.AttributeValue
	for {
		output, err := s.client.Query(ctx, &awsdynamodb.QueryInput{
			TableName:              aws.String(s.table),
			KeyConditionExpression: aws.String("pk = :pk"),
			ProjectionExpression:   aws.String("sk"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk": &types.AttributeValueMemberS{Value: pk},
			},
			ExclusiveStartKey: exclusiveStart,
		})
		if err != nil {
			s.observe(catalog.ReadType, start, err)
			return fmt.Errorf("dynamodb key query failed: %w", err)
		}
		for _, item := range output.Items {
			var r struct {
				SK string `dynamodbav:"sk"`
			}
			if err := attributevalue.UnmarshalMap(item, &r); err != nil {
				s.observe(catalog.ReadType, start, err)
				return fmt.Errorf("failed unmarshaling dynamodb key: %w", err)
			}
			*out = append(*out, r.SK)
		}
		if output.LastEvaluatedKey == nil {
			break
		}
		exclusiveStart = output.LastEvaluatedKey
	}
	s.observe(catalog.ReadType, start, nil)
	return nil
}

func (s *DynamoStore) FindPrincipalConfig(ctx context.Context, principal model.PrincipalRef) (model.PrincipalConfig, error) {
	var config model.PrincipalConfig
	err := s.getOne(ctx, partition(principal, kindConfig), "profile", "principal config", &config)
	return config, err
}

func (s *DynamoStore) UpsertPrincipalConfig(ctx context.Context, config model.PrincipalConfig) error {
	return s.putOne(ctx, partition(config.Principal, kindConfig), "profile", config)
}

func (s *DynamoStore) FindCertificateRecord(ctx context.Context, principal model.PrincipalRef) (model.CertificateRecord, error) {
	var record model.CertificateRecord
	err := s.getOne(ctx, partition(principal, kindCertificate), "live", "certificate record", &record)
	return record, err
}

func (s *DynamoStore) UpsertCertificateRecord(ctx context.Context, record model.CertificateRecord) error {
	record.UpdatedAt = s.now()
	return s.putOne(ctx, partition(record.Principal, kindCertificate), "live", record)
}

func (s *DynamoStore) DeleteCertificateRecord(ctx context.Context, principal model.PrincipalRef) error {
	// Read first so a delete of nothing surfaces as not found, matching the
	// other backends.
	if _, err := s.FindCertificateRecord(ctx, principal); err != nil {
		return err
	}
	start := s.now()
	_, err := s.client.DeleteItem(ctx, &awsdynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: partition(principal, kindCertificate)},
			"sk": &types.AttributeValueMemberS{Value: "live"},
		},
	})
	s.observe(catalog.DeleteType, start, err)
	if err != nil {
		return fmt.Errorf("dynamodb delete failed: %w", err)
	}
	return nil
}

func (s *DynamoStore) FindProviders(ctx context.Context, filter catalog.ProviderFilter) ([]model.Provider, error) {
	if filter.Principal == "" {
		return nil, errors.New("provider queries require a principal")
	}
	var out []model.Provider
	err := s.queryPartition(ctx, partition(filter.Principal, kindProvider), func(data []byte) error {
		var p model.Provider
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("corrupt provider row: %w", err)
		}
		if catalog.MatchProvider(p, filter) {
			out = append(out, p)
		}
		return nil
	})
	return out, err
}

func (s *DynamoStore) UpsertProvider(ctx context.Context, provider model.Provider) (model.Provider, error) {
	if provider.ID == "" {
		provider.ID = uuid.NewString()
	}
	provider.UpdatedAt = s.now()
	err := s.putOne(ctx, partition(provider.Principal, kindProvider), provider.ID, provider)
	return provider, err
}

func (s *DynamoStore) FindServices(ctx context.Context, filter catalog.ServiceFilter) ([]model.Service, error) {
	if filter.Principal == "" {
		return nil, errors.New("service queries require a principal")
	}
	var out []model.Service
	err := s.queryPartition(ctx, partition(filter.Principal, kindService), func(data []byte) error {
		var svc model.Service
		if err := json.Unmarshal(data, &svc); err != nil {
			return fmt.Errorf("corrupt service row: %w", err)
		}
		if catalog.MatchService(svc, filter) {
			out = append(out, svc)
		}
		return nil
	})
	return out, err
}

func (s *DynamoStore) UpsertService(ctx context.Context, service model.Service) (model.Service, error) {
	if service.ID == "" {
		service.ID = uuid.NewString()
	}
	service.UpdatedAt = s.now()
	err := s.putOne(ctx, partition(service.Principal, kindService), service.ID, service)
	return service, err
}

func (s *DynamoStore) FindEndpoints(ctx context.Context, filter catalog.EndpointFilter) ([]model.Endpoint, error) {
	if filter.Principal == "" {
		return nil, errors.New("endpoint queries require a principal")
	}
	var out []model.Endpoint
	err := s.queryPartition(ctx, partition(filter.Principal, kindEndpoint), func(data []byte) error {
		var e model.Endpoint
		if err := json.Unmarshal(data, &e); err != nil {
			return fmt.Errorf("corrupt endpoint row: %w", err)
		}
		if catalog.MatchEndpoint(e, filter) {
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

func (s *DynamoStore) UpsertEndpoint(ctx context.Context, endpoint model.Endpoint) (model.Endpoint, error) {
	if endpoint.ID == "" {
		endpoint.ID = uuid.NewString()
	}
	endpoint.UpdatedAt = s.now()
	err := s.putOne(ctx, partition(endpoint.Principal, kindEndpoint), endpoint.ID, endpoint)
	return endpoint, err
}

func (s *DynamoStore) DeleteCatalog(ctx context.Context, principal model.PrincipalRef) error {
	for _, kind := range []string{kindEndpoint, kindService, kindProvider} {
		if err := s.deletePartition(ctx, partition(principal, kind)); err != nil {
			return err
		}
	}
	return nil
}

func grantKey(grant model.ServiceGrant) string {
	return grant.ProviderID + "#" + grant.ServiceID
}

func (s *DynamoStore) FindServiceGrants(ctx context.Context, filter catalog.GrantFilter) ([]model.ServiceGrant, error) {
	if filter.Grantee == "" {
		return nil, errors.New("grant queries require a grantee")
	}
	var out []model.ServiceGrant
	err := s.queryPartition(ctx, partition(filter.Grantee, kindGrant), func(data []byte) error {
		var g model.ServiceGrant
		if err := json.Unmarshal(data, &g); err != nil {
			return fmt.Errorf("corrupt grant row: %w", err)
		}
		if catalog.MatchGrant(g, filter) {
			out = append(out, g)
		}
		return nil
	})
	return out, err
}

func (s *DynamoStore) UpsertServiceGrant(ctx context.Context, grant model.ServiceGrant) error {
	return s.putOne(ctx, partition(grant.Grantee, kindGrant), grantKey(grant), grant)
}

func (s *DynamoStore) FindFileRules(ctx context.Context, grantee model.PrincipalRef, serviceID string) ([]model.FileRule, error) {
	var out []model.FileRule
	err := s.queryPartition(ctx, partition(grantee, kindFileRule), func(data []byte) error {
		var r model.FileRule
		if err := json.Unmarshal(data, &r); err != nil {
			return fmt.Errorf("corrupt file rule row: %w", err)
		}
		if r.ServiceID == serviceID {
			out = append(out, r)
		}
		return nil
	})
	return out, err
}

func (s *DynamoStore) UpsertFileRule(ctx context.Context, rule model.FileRule) error {
	return s.putOne(ctx, partition(rule.Grantee, kindFileRule), rule.ServiceID+"#"+rule.Filename, rule)
}
