// SPDX-FileCopyrightText: 2025 Exedra Development, S.L.
// SPDX-License-Identifier: Apache-2.0

// Package cassandra persists the catalog in Cassandra or Yugabyte, one table
// keyed by (bucket, id) where bucket is principal#kind and the row payload is
// the record as JSON.
package cassandra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"emperror.dev/emperror"
	"github.com/exedra-dev/xrgate/catalog"
	"github.com/exedra-dev/xrgate/catalog/db/metric"
	"github.com/exedra-dev/xrgate/model"
	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"github.com/xmidt-org/sallust"
	"go.uber.org/zap"
)

const (
	defaultOpTimeout             = time.Duration(10) * time.Second
	defaultDatabase              = "xrgate"
	defaultTable                 = "xrgate"
	defaultNumRetries            = 0
	defaultWaitTimeMult          = 1
	defaultMaxNumberConnsPerHost = 2
)

// Record kinds, the second half of the bucket name.
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
	// Hosts to connect to. Must have at least one.
	Hosts []string

	// Database aka Keyspace for cassandra.
	Database string

	// Table holding all catalog rows.
	Table string

	// OpTimeout per query.
	OpTimeout time.Duration

	// SSLRootCert, SSLKey and SSLCert enable tls to the cluster; all three
	// must be set together.
	SSLRootCert string
	SSLKey      string
	SSLCert     string

	// EnableHostVerification turns on hostname and server cert checks, the
	// inverse of InsecureSkipVerify.
	EnableHostVerification bool

	// Username and Password authenticate into the cluster; both or neither.
	Username string
	Password string

	// NumRetries for connecting to the db.
	NumRetries int

	// WaitTimeMult multiplies the wait before each connect retry.
	WaitTimeMult time.Duration

	MaxConnsPerHost int
}

// CassandraStore implements the catalog store on a cassandra session.
type CassandraStore struct {
	client   rowStore
	config   Config
	logger   *zap.Logger
	measures metric.Measures
	now      func() time.Time
}

var _ catalog.Store = (*CassandraStore)(nil)

func validateConfig(config *Config) {
	if config.OpTimeout == 0 {
		config.OpTimeout = defaultOpTimeout
	}
	if config.Database == "" {
		config.Database = defaultDatabase
	}
	if config.Table == "" {
		config.Table = defaultTable
	}
	if config.NumRetries < 0 {
		config.NumRetries = defaultNumRetries
	}
	if config.WaitTimeMult < 1 {
		config.WaitTimeMult = defaultWaitTimeMult
	}
	if config.MaxConnsPerHost <= 0 {
		config.MaxConnsPerHost = defaultMaxNumberConnsPerHost
	}
}

func NewCassandraStore(config Config, measures metric.Measures, logger *zap.Logger) (*CassandraStore, error) {
	if len(config.Hosts) == 0 {
		return nil, errors.New("number of hosts must be > 0")
	}
	validateConfig(&config)
	if logger == nil {
		logger = sallust.Default()
	}

	clusterConfig := gocql.NewCluster(config.Hosts...)
	clusterConfig.Consistency = gocql.LocalQuorum
	clusterConfig.Keyspace = config.Database
	clusterConfig.Timeout = config.OpTimeout
	// let the outer loop handle retries
	clusterConfig.RetryPolicy = &gocql.SimpleRetryPolicy{NumRetries: 1}
	if config.SSLRootCert != "" && config.SSLCert != "" && config.SSLKey != "" {
		clusterConfig.SslOpts = &gocql.SslOptions{
			CertPath:               config.SSLCert,
			KeyPath:                config.SSLKey,
			CaPath:                 config.SSLRootCert,
			EnableHostVerification: config.EnableHostVerification,
		}
	}
	if config.Username != "" && config.Password != "" {
		clusterConfig.Authenticator = gocql.PasswordAuthenticator{
			Username: config.Username,
			Password: config.Password,
		}
	}

	client, err := connect(clusterConfig, config.Table, logger)

	waitTime := 1 * time.Second
	for attempt := 0; attempt < config.NumRetries && err != nil; attempt++ {
		time.Sleep(waitTime)
		client, err = connect(clusterConfig, config.Table, logger)
		waitTime = waitTime * config.WaitTimeMult
	}
	if err != nil {
		return nil, emperror.WrapWith(err, "Connecting to database failed", "hosts", config.Hosts)
	}

	return &CassandraStore{
		client:   client,
		config:   config,
		logger:   logger,
		measures: measures,
		now:      time.Now,
	}, nil
}

func (s *CassandraStore) Close() {
	s.client.Close()
}

// Ping verifies that the session is still usable.
func (s *CassandraStore) Ping() error {
	if err := s.client.Ping(); err != nil {
		s.measures.QueryFailureCount.WithLabelValues(catalog.ReadType).Add(1.0)
		return emperror.Wrap(err, "Pinging connection failed")
	}
	return nil
}

func bucket(owner model.PrincipalRef, kind string) string {
	return string(owner) + "#" + kind
}

func (s *CassandraStore) observe(queryType string, start time.Time, err error) {
	s.measures.QueryDurations.WithLabelValues(queryType).Observe(time.Since(start).Seconds())
	if err != nil && !errors.Is(err, errNoDataResponse) {
		s.measures.QueryFailureCount.WithLabelValues(queryType).Add(1.0)
		return
	}
	s.measures.QuerySuccessCount.WithLabelValues(queryType).Add(1.0)
}

func (s *CassandraStore) getOne(bucketName, id, kind string, out interface{}) error {
	start := s.now()
	data, err := s.client.Get(bucketName, id)
	s.observe(catalog.ReadType, start, err)
	if errors.Is(err, errNoDataResponse) {
		return catalog.RecordNotFoundError{Kind: kind, Key: bucketName + "/" + id}
	}
	if err != nil {
		return emperror.WrapWith(err, "cassandra get failed", "bucket", bucketName, "id", id)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("corrupt %s row %s/%s: %w", kind, bucketName, id, err)
	}
	return nil
}

func (s *CassandraStore) putOne(bucketName, id string, record interface{}) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed encoding record: %w", err)
	}
	start := s.now()
	err = s.client.Push(bucketName, id, data)
	s.observe(catalog.InsertType, start, err)
	if err != nil {
		return emperror.WrapWith(err, "cassandra insert failed", "bucket", bucketName, "id", id)
	}
	return nil
}

// getAll loads every row of a bucket and hands each payload to collect.
func (s *CassandraStore) getAll(bucketName string, collect func(data []byte) error) error {
	start := s.now()
	rows, err := s.client.GetAll(bucketName)
	s.observe(catalog.ReadType, start, err)
	if err != nil {
		return emperror.WrapWith(err, "cassandra range read failed", "bucket", bucketName)
	}
	for id, data := range rows {
		if err := collect(data); err != nil {
			s.logger.Error("skipping corrupt row", zap.String("bucket", bucketName), zap.String("id", id), zap.Error(err))
		}
	}
	return nil
}

func (s *CassandraStore) FindPrincipalConfig(_ context.Context, principal model.PrincipalRef) (model.PrincipalConfig, error) {
	var config model.PrincipalConfig
	err := s.getOne(bucket(principal, kindConfig), "profile", "principal config", &config)
	return config, err
}

func (s *CassandraStore) UpsertPrincipalConfig(_ context.Context, config model.PrincipalConfig) error {
	return s.putOne(bucket(config.Principal, kindConfig), "profile", config)
}

func (s *CassandraStore) FindCertificateRecord(_ context.Context, principal model.PrincipalRef) (model.CertificateRecord, error) {
	var record model.CertificateRecord
	err := s.getOne(bucket(principal, kindCertificate), "live", "certificate record", &record)
	return record, err
}

func (s *CassandraStore) UpsertCertificateRecord(_ context.Context, record model.CertificateRecord) error {
	record.UpdatedAt = s.now()
	return s.putOne(bucket(record.Principal, kindCertificate), "live", record)
}

func (s *CassandraStore) DeleteCertificateRecord(_ context.Context, principal model.PrincipalRef) error {
	start := s.now()
	err := s.client.Delete(bucket(principal, kindCertificate), "live")
	s.observe(catalog.DeleteType, start, err)
	if errors.Is(err, errNoDataResponse) {
		return catalog.RecordNotFoundError{Kind: "certificate record", Key: string(principal)}
	}
	return err
}

func (s *CassandraStore) FindProviders(_ context.Context, filter catalog.ProviderFilter) ([]model.Provider, error) {
	if filter.Principal == "" {
		return nil, errors.New("provider queries require a principal")
	}
	var out []model.Provider
	err := s.getAll(bucket(filter.Principal, kindProvider), func(data []byte) error {
		var p model.Provider
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		if catalog.MatchProvider(p, filter) {
			out = append(out, p)
		}
		return nil
	})
	return out, err
}

func (s *CassandraStore) UpsertProvider(_ context.Context, provider model.Provider) (model.Provider, error) {
	if provider.ID == "" {
		provider.ID = uuid.NewString()
	}
	provider.UpdatedAt = s.now()
	err := s.putOne(bucket(provider.Principal, kindProvider), provider.ID, provider)
	return provider, err
}

func (s *CassandraStore) FindServices(_ context.Context, filter catalog.ServiceFilter) ([]model.Service, error) {
	if filter.Principal == "" {
		return nil, errors.New("service queries require a principal")
	}
	var out []model.Service
	err := s.getAll(bucket(filter.Principal, kindService), func(data []byte) error {
		var svc model.Service
		if err := json.Unmarshal(data, &svc); err != nil {
			return err
		}
		if catalog.MatchService(svc, filter) {
			out = append(out, svc)
		}
		return nil
	})
	return out, err
}

func (s *CassandraStore) UpsertService(_ context.Context, service model.Service) (model.Service, error) {
	if service.ID == "" {
		service.ID = uuid.NewString()
	}
	service.UpdatedAt = s.now()
	err := s.putOne(bucket(service.Principal, kindService), service.ID, service)
	return service, err
}

func (s *CassandraStore) FindEndpoints(_ context.Context, filter catalog.EndpointFilter) ([]model.Endpoint, error) {
	if filter.Principal == "" {
		return nil, errors.New("endpoint queries require a principal")
	}
	var out []model.Endpoint
	err := s.getAll(bucket(filter.Principal, kindEndpoint), func(data []byte) error {
		var e model.Endpoint
		if err := json.Unmarshal(data, &e); err != nil {
			return err
		}
		if catalog.MatchEndpoint(e, filter) {
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

func (s *CassandraStore) UpsertEndpoint(_ context.Context, endpoint model.Endpoint) (model.Endpoint, error) {
	if endpoint.ID == "" {
		endpoint.ID = uuid.NewString()
	}
	endpoint.UpdatedAt = s.now()
	err := s.putOne(bucket(endpoint.Principal, kindEndpoint), endpoint.ID, endpoint)
	return endpoint, err
}

func (s *CassandraStore) DeleteCatalog(_ context.Context, principal model.PrincipalRef) error {
	for _, kind := range []string{kindEndpoint, kindService, kindProvider} {
		start := s.now()
		err := s.client.DeleteAll(bucket(principal, kind))
		s.observe(catalog.DeleteType, start, err)
		if err != nil {
			return emperror.WrapWith(err, "cassandra bucket delete failed", "principal", principal, "kind", kind)
		}
	}
	return nil
}

func (s *CassandraStore) FindServiceGrants(_ context.Context, filter catalog.GrantFilter) ([]model.ServiceGrant, error) {
	if filter.Grantee == "" {
		return nil, errors.New("grant queries require a grantee")
	}
	var out []model.ServiceGrant
	err := s.getAll(bucket(filter.Grantee, kindGrant), func(data []byte) error {
		var g model.ServiceGrant
		if err := json.Unmarshal(data, &g); err != nil {
			return err
		}
		if catalog.MatchGrant(g, filter) {
			out = append(out, g)
		}
		return nil
	})
	return out, err
}

func (s *CassandraStore) UpsertServiceGrant(_ context.Context, grant model.ServiceGrant) error {
	return s.putOne(bucket(grant.Grantee, kindGrant), grant.ProviderID+"#"+grant.ServiceID, grant)
}

func (s *CassandraStore) FindFileRules(_ context.Context, grantee model.PrincipalRef, serviceID string) ([]model.FileRule, error) {
	var out []model.FileRule
	err := s.getAll(bucket(grantee, kindFileRule), func(data []byte) error {
		var r model.FileRule
		if err := json.Unmarshal(data, &r); err != nil {
			return err
		}
		if r.ServiceID == serviceID {
			out = append(out, r)
		}
		return nil
	})
	return out, err
}

func (s *CassandraStore) UpsertFileRule(_ context.Context, rule model.FileRule) error {
	return s.putOne(bucket(rule.Grantee, kindFileRule), rule.ServiceID+"#"+rule.Filename, rule)
}
