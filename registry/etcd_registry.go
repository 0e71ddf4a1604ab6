package registry

// etcd is used as a distributed phone book for nodes:
//
//	Key:   /gridclient/{cluster}/{addr}
//	Value: JSON-encoded NodeInstance
//
// Registration uses TTL leases: if a node crashes its lease expires and the entry is
// removed, so clients never see ghost nodes for long.

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const keyPrefix = "/gridclient/"

// EtcdRegistry implements Registry on etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client
	logger *zap.Logger

	mu     sync.Mutex
	leases map[string]clientv3.LeaseID // cluster key -> lease, revoked on Deregister
}

// NewEtcdRegistry connects to the given etcd endpoints. The etcd client logs through
// logger; nil disables logging.
func NewEtcdRegistry(endpoints []string, dialTimeout time.Duration, logger *zap.Logger) (*EtcdRegistry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
		Logger:      logger.Named("etcd"),
	})
	if err != nil {
		return nil, err
	}
	return &EtcdRegistry{client: c, logger: logger, leases: make(map[string]clientv3.LeaseID)}, nil
}

func clusterPrefix(cluster string) string {
	return keyPrefix + cluster + "/"
}

// Register grants a lease of ttl seconds, stores the instance under it and keeps the
// lease alive in the background.
func (r *EtcdRegistry) Register(ctx context.Context, cluster string, instance NodeInstance, ttl int64) error {
	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return err
	}
	val, err := json.Marshal(instance)
	if err != nil {
		return err
	}
	key := clusterPrefix(cluster) + instance.Addr
	if _, err := r.client.Put(ctx, key, string(val), clientv3.WithLease(lease.ID)); err != nil {
		return err
	}

	// The keepalive outlives the registering call, so it must not inherit ctx.
	ch, err := r.client.KeepAlive(context.Background(), lease.ID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.leases[key] = lease.ID
	r.mu.Unlock()

	go func() {
		for range ch {
		}
		r.logger.Debug("lease keepalive stopped", zap.String("key", key))
	}()
	return nil
}

// Deregister removes the instance and revokes its lease, which also stops the keepalive.
func (r *EtcdRegistry) Deregister(ctx context.Context, cluster string, addr string) error {
	key := clusterPrefix(cluster) + addr
	if _, err := r.client.Delete(ctx, key); err != nil {
		return err
	}
	r.mu.Lock()
	id, ok := r.leases[key]
	delete(r.leases, key)
	r.mu.Unlock()
	if ok {
		if _, err := r.client.Revoke(ctx, id); err != nil {
			r.logger.Warn("revoke lease", zap.String("key", key), zap.Error(err))
		}
	}
	return nil
}

// Discover lists every instance under the cluster prefix.
func (r *EtcdRegistry) Discover(ctx context.Context, cluster string) ([]NodeInstance, error) {
	resp, err := r.client.Get(ctx, clusterPrefix(cluster), clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}
	instances := make([]NodeInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance NodeInstance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			r.logger.Warn("skipping malformed instance", zap.ByteString("key", kv.Key), zap.Error(err))
			continue
		}
		instances = append(instances, instance)
	}
	return instances, nil
}

// Watch re-reads the cluster after every change under its prefix (registrations,
// deregistrations, lease expiries). Re-reading is simpler than applying events.
func (r *EtcdRegistry) Watch(ctx context.Context, cluster string) <-chan []NodeInstance {
	ch := make(chan []NodeInstance, 1)
	go func() {
		defer close(ch)
		for range r.client.Watch(ctx, clusterPrefix(cluster), clientv3.WithPrefix()) {
			instances, err := r.Discover(ctx, cluster)
			if err != nil {
				r.logger.Warn("rediscover after watch event", zap.String("cluster", cluster), zap.Error(err))
				continue
			}
			select {
			case ch <- instances:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

func (r *EtcdRegistry) Close() error {
	return r.client.Close()
}
