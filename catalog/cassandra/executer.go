// SPDX-FileCopyrightText: 2025 Exedra Development, S.L.
// SPDX-License-Identifier: Apache-2.0

package cassandra

import (
	"errors"

	"github.com/gocql/gocql"
	"github.com/hailocab/go-hostpool"
	"go.uber.org/zap"
)

// rowStore is the thin query layer over one table:
//
//	CREATE TABLE xrgate (bucket text, id text, data blob, PRIMARY KEY (bucket, id));
//
// bucket is principal#kind, data is the record as JSON.
type rowStore interface {
	Push(bucket, id string, data []byte) error
	Get(bucket, id string) ([]byte, error)
	GetAll(bucket string) (map[string][]byte, error)
	Delete(bucket, id string) error
	DeleteAll(bucket string) error
	Close()
	Ping() error
}

var (
	errNoDataResponse = errors.New("no data from query")
	errServerClosed   = errors.New("server is closed")
)

type cassandraExecutor struct {
	session *gocql.Session
	table   string
	logger  *zap.Logger
}

func connect(clusterConfig *gocql.ClusterConfig, table string, logger *zap.Logger) (rowStore, error) {
	clusterConfig.PoolConfig.HostSelectionPolicy = gocql.HostPoolHostPolicy(hostpool.New(nil))
	session, err := clusterConfig.CreateSession()
	if err != nil {
		return nil, err
	}
	return &cassandraExecutor{session: session, table: table, logger: logger}, nil
}

func (s *cassandraExecutor) Push(bucket, id string, data []byte) error {
	return s.session.Query("INSERT INTO "+s.table+" (bucket, id, data) VALUES (?,?,?)", bucket, id, data).Exec()
}

func (s *cassandraExecutor) Get(bucket, id string) ([]byte, error) {
	var data []byte
	iter := s.session.Query("SELECT data FROM "+s.table+" WHERE bucket = ? AND id = ?", bucket, id).Iter()
	defer func() {
		if err := iter.Close(); err != nil {
			s.logger.Error("failed to close iter", zap.String("bucket", bucket), zap.String("id", id), zap.Error(err))
		}
	}()
	for iter.Scan(&data) {
		return data, nil
	}
	return nil, errNoDataResponse
}

func (s *cassandraExecutor) GetAll(bucket string) (map[string][]byte, error) {
	result := map[string][]byte{}
	var (
		id   string
		data []byte
	)
	iter := s.session.Query("SELECT id, data FROM "+s.table+" WHERE bucket = ?", bucket).Iter()
	for iter.Scan(&id, &data) {
		row := make([]byte, len(data))
		copy(row, data)
		result[id] = row
	}
	return result, iter.Close()
}

func (s *cassandraExecutor) Delete(bucket, id string) error {
	if _, err := s.Get(bucket, id); err != nil {
		return err
	}
	return s.session.Query("DELETE FROM "+s.table+" WHERE bucket = ? AND id = ?", bucket, id).Exec()
}

func (s *cassandraExecutor) DeleteAll(bucket string) error {
	return s.session.Query("DELETE FROM "+s.table+" WHERE bucket = ?", bucket).Exec()
}

func (s *cassandraExecutor) Close() {
	s.session.Close()
}

func (s *cassandraExecutor) Ping() error {
	if s.session.Closed() {
		return errServerClosed
	}
	return nil
}
