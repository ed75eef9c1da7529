package repository

import (
	"context"
	"encoding/json"

	"recoverflow/internal/model"

	clientv3 "go.etcd.io/etcd/client/v3"
)

type EtcdInterface interface {
	clientv3.KV
	Close() error
}

// EtcdHistoryStore keeps the retry history as one JSON document and uses the
// key's ModRevision as its version.
type EtcdHistoryStore struct {
	client EtcdInterface
	key    string
}

func NewEtcdHistoryStore(client EtcdInterface, key string) *EtcdHistoryStore {
	return &EtcdHistoryStore{
		client: client,
		key:    key,
	}
}

func (r *EtcdHistoryStore) LoadHistory(ctx context.Context) (*model.RetryHistory, int64, error) {
	resp, err := r.client.Get(ctx, r.key)
	if err != nil {
		return nil, 0, err
	}
	if len(resp.Kvs) == 0 {
		return &model.RetryHistory{}, 0, nil
	}
	kv := resp.Kvs[0]
	var h model.RetryHistory
	if err := json.Unmarshal(kv.Value, &h); err != nil {
		return nil, 0, err
	}
	return &h, kv.ModRevision, nil
}

// SaveHistory writes h only if the key is still at expectedRevision (CAS).
func (r *EtcdHistoryStore) SaveHistory(ctx context.Context, h *model.RetryHistory, expectedRevision int64) error {
	val, err := json.Marshal(h)
	if err != nil {
		return err
	}

	cmp := clientv3.Compare(clientv3.ModRevision(r.key), "=", expectedRevision)
	if expectedRevision == 0 {
		cmp = clientv3.Compare(clientv3.CreateRevision(r.key), "=", 0)
	}

	tResp, err := r.client.Txn(ctx).
		If(cmp).
		Then(clientv3.OpPut(r.key, string(val))).
		Commit()
	if err != nil {
		return err
	}
	if !tResp.Succeeded {
		return ErrConcurrencyConflict
	}
	return nil
}

func (r *EtcdHistoryStore) Health(ctx context.Context) error {
	_, err := r.client.Get(ctx, r.key, clientv3.WithCountOnly())
	return err
}
