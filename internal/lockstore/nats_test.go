package lockstore_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helpdesk-labs/ticket-assignment/internal/domain"
	"github.com/helpdesk-labs/ticket-assignment/internal/lockstore"
	"github.com/helpdesk-labs/ticket-assignment/internal/lockstore/lockstoretest"
)

func startEmbeddedNATS(t *testing.T) jetstream.JetStream {
	t.Helper()

	ns, err := server.NewServer(&server.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
		NoLog:     true,
	})
	require.NoError(t, err)
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		t.Fatal("embedded nats not ready")
	}

	nc, err := nats.Connect(ns.ClientURL(), nats.Timeout(2*time.Second))
	require.NoError(t, err)
	t.Cleanup(func() {
		nc.Close()
		ns.Shutdown()
		ns.WaitForShutdown()
	})

	js, err := jetstream.New(nc)
	require.NoError(t, err)
	return js
}

var bucketSeq atomic.Int64

func newNATSStore(t *testing.T, js jetstream.JetStream) lockstore.Store {
	t.Helper()
	bucket := fmt.Sprintf("locks-%d", bucketSeq.Add(1))
	kv, err := js.CreateKeyValue(context.Background(), lockstore.BucketConfig(bucket, 30*time.Minute))
	require.NoError(t, err)
	return lockstore.NewNATSStore(kv)
}

func TestNATSStore(t *testing.T) {
	js := startEmbeddedNATS(t)
	lockstoretest.Run(t, func(t *testing.T) lockstore.Store {
		return newNATSStore(t, js)
	})
}

func TestNATSStoreReapCounts(t *testing.T) {
	ctx := context.Background()
	store := newNATSStore(t, startEmbeddedNATS(t))
	now := time.Now().Truncate(time.Millisecond)

	for _, id := range []string{"a", "b"} {
		_, err := store.Acquire(ctx, lockstore.AcquireParams{Lock: domain.AssignmentLock{
			ID: "l-" + id, TicketID: id, HolderID: "u", AcquiredAt: now, ExpiresAt: now.Add(time.Minute),
		}})
		require.NoError(t, err)
	}

	n, err := store.Reap(ctx, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = store.Reap(ctx, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestNATSStoreRejectsInvalidKey(t *testing.T) {
	store := newNATSStore(t, startEmbeddedNATS(t))
	_, err := store.Get(context.Background(), "bad key*", time.Now())
	require.ErrorIs(t, err, lockstore.ErrInvalidKey)
}
