package repository

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/pairing-relay-go/internal/database"
	"github.com/openclaw/pairing-relay-go/internal/model"
	redisclient "github.com/openclaw/pairing-relay-go/internal/redis"
)

func newSession(code string, createdAt time.Time, ttl time.Duration) *model.PairingSession {
	ref := "initiator-" + code
	return model.CreatePairingSessionParams{
		Code:         code,
		InitiatorRef: &ref,
		CreatedAt:    createdAt,
		ExpiresAt:    createdAt.Add(ttl),
	}.Session()
}

func strPtr(s string) *string { return &s }

// testPairingSessionRepository exercises the behaviour every backend must share.
func testPairingSessionRepository(t *testing.T, newRepo func(t *testing.T) PairingSessionRepository) {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)

	t.Run("insert then get round trips", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.Insert(ctx, newSession("AAAAA1", base, 2*time.Minute)))

		got, err := repo.Get(ctx, "AAAAA1")
		require.NoError(t, err)
		assert.Equal(t, "AAAAA1", got.Code)
		assert.Equal(t, model.PairingStatusPending, got.Status)
		assert.True(t, base.Equal(got.CreatedAt))
		assert.True(t, base.Add(2*time.Minute).Equal(got.ExpiresAt))
		assert.Nil(t, got.ClaimedAt)
		assert.Nil(t, got.ResponderRef)
		require.NotNil(t, got.InitiatorRef)
		assert.Equal(t, "initiator-AAAAA1", *got.InitiatorRef)
	})

	t.Run("duplicate insert is a collision", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.Insert(ctx, newSession("AAAAA2", base, time.Minute)))

		err := repo.Insert(ctx, newSession("AAAAA2", base.Add(time.Second), time.Minute))
		assert.ErrorIs(t, err, ErrCodeCollision)

		got, err := repo.Get(ctx, "AAAAA2")
		require.NoError(t, err)
		assert.True(t, base.Equal(got.CreatedAt), "original row must survive")
	})

	t.Run("get unknown code", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.Get(ctx, "ZZZZZZ")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("claim pending session", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.Insert(ctx, newSession("AAAAA3", base, time.Minute)))

		claimAt := base.Add(10 * time.Second)
		require.NoError(t, repo.CompareAndSetClaimed(ctx, "AAAAA3", claimAt, strPtr("phone")))

		got, err := repo.Get(ctx, "AAAAA3")
		require.NoError(t, err)
		assert.Equal(t, model.PairingStatusClaimed, got.Status)
		require.NotNil(t, got.ClaimedAt)
		assert.True(t, claimAt.Equal(*got.ClaimedAt))
		require.NotNil(t, got.ResponderRef)
		assert.Equal(t, "phone", *got.ResponderRef)
	})

	t.Run("second claim fails and keeps first claim", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.Insert(ctx, newSession("AAAAA4", base, time.Minute)))

		first := base.Add(time.Second)
		require.NoError(t, repo.CompareAndSetClaimed(ctx, "AAAAA4", first, strPtr("first")))
		err := repo.CompareAndSetClaimed(ctx, "AAAAA4", base.Add(2*time.Second), strPtr("second"))
		assert.ErrorIs(t, err, ErrPreconditionFailed)

		got, err := repo.Get(ctx, "AAAAA4")
		require.NoError(t, err)
		assert.True(t, first.Equal(*got.ClaimedAt))
		assert.Equal(t, "first", *got.ResponderRef)
	})

	t.Run("claim after expiry fails without modifying row", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.Insert(ctx, newSession("AAAAA5", base, time.Minute)))

		err := repo.CompareAndSetClaimed(ctx, "AAAAA5", base.Add(2*time.Minute), strPtr("late"))
		assert.ErrorIs(t, err, ErrPreconditionFailed)

		got, err := repo.Get(ctx, "AAAAA5")
		require.NoError(t, err)
		assert.Equal(t, model.PairingStatusPending, got.Status)
		assert.Nil(t, got.ClaimedAt)
		assert.Nil(t, got.ResponderRef)
	})

	t.Run("claim at the expiry instant fails", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.Insert(ctx, newSession("AAAAA6", base, time.Minute)))

		err := repo.CompareAndSetClaimed(ctx, "AAAAA6", base.Add(time.Minute), nil)
		assert.ErrorIs(t, err, ErrPreconditionFailed)
	})

	t.Run("claim unknown code fails", func(t *testing.T) {
		repo := newRepo(t)
		err := repo.CompareAndSetClaimed(ctx, "ZZZZZ9", base, nil)
		assert.ErrorIs(t, err, ErrPreconditionFailed)
	})

	t.Run("exactly one concurrent claim wins", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.Insert(ctx, newSession("AAAAA7", base, time.Minute)))

		const claimers = 10
		var (
			wg     sync.WaitGroup
			mu     sync.Mutex
			wins   int
			losses int
		)
		start := make(chan struct{})
		for i := 0; i < claimers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				err := repo.CompareAndSetClaimed(ctx, "AAAAA7", base.Add(time.Second), nil)
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					wins++
				} else if assert.ErrorIs(t, err, ErrPreconditionFailed) {
					losses++
				}
			}()
		}
		close(start)
		wg.Wait()

		assert.Equal(t, 1, wins)
		assert.Equal(t, claimers-1, losses)
	})
}

func testDeleteExpired(t *testing.T, repo PairingSessionRepository) {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)

	require.NoError(t, repo.Insert(ctx, newSession("OLD001", base.Add(-2*time.Hour), time.Minute)))
	require.NoError(t, repo.Insert(ctx, newSession("OLD002", base.Add(-2*time.Hour), time.Minute)))
	require.NoError(t, repo.CompareAndSetClaimed(ctx, "OLD002", base.Add(-2*time.Hour+time.Second), nil))
	require.NoError(t, repo.Insert(ctx, newSession("NEW001", base, time.Minute)))

	count, err := repo.DeleteExpired(ctx, base.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	_, err = repo.Get(ctx, "OLD001")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = repo.Get(ctx, "OLD002")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = repo.Get(ctx, "NEW001")
	assert.NoError(t, err)
}

func TestMemoryPairingSessionRepository(t *testing.T) {
	testPairingSessionRepository(t, func(t *testing.T) PairingSessionRepository {
		return NewMemoryPairingSessionRepository()
	})

	t.Run("delete expired", func(t *testing.T) {
		testDeleteExpired(t, NewMemoryPairingSessionRepository())
	})
}

func newSQLiteRepo(t *testing.T) PairingSessionRepository {
	t.Helper()
	db, err := database.Connect(database.DriverSQLite, filepath.Join(t.TempDir(), "pairing.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(context.Background()))
	return NewPairingSessionRepository(db.DB)
}

func TestSQLPairingSessionRepository_SQLite(t *testing.T) {
	testPairingSessionRepository(t, newSQLiteRepo)

	t.Run("delete expired", func(t *testing.T) {
		testDeleteExpired(t, newSQLiteRepo(t))
	})
}

func newMiniRedisClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisPairingSessionRepository(t *testing.T) {
	testPairingSessionRepository(t, func(t *testing.T) PairingSessionRepository {
		_, client := newMiniRedisClient(t)
		return NewRedisPairingSessionRepository(client, time.Hour)
	})

	t.Run("delete expired relies on key ttl", func(t *testing.T) {
		_, client := newMiniRedisClient(t)
		repo := NewRedisPairingSessionRepository(client, time.Hour)
		count, err := repo.DeleteExpired(context.Background(), time.Now())
		assert.NoError(t, err)
		assert.Zero(t, count)
	})
}

func TestRedisPairingSessionRepository_KeyTTL(t *testing.T) {
	ctx := context.Background()
	mr, client := newMiniRedisClient(t)
	repo := NewRedisPairingSessionRepository(client, time.Hour)
	base := time.Now().UTC().Truncate(time.Millisecond)

	require.NoError(t, repo.Insert(ctx, newSession("TTL001", base, time.Minute)))
	assert.Equal(t, time.Hour+time.Minute, mr.TTL(redisclient.PairingSessionKey("TTL001")))

	// Past the session TTL but inside the grace window the row still reads.
	mr.FastForward(30 * time.Minute)
	got, err := repo.Get(ctx, "TTL001")
	require.NoError(t, err)
	assert.Equal(t, model.PairingStatusExpired, got.StatusAt(base.Add(30*time.Minute)))

	mr.FastForward(31 * time.Minute)
	_, err = repo.Get(ctx, "TTL001")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisPairingSessionRepository_ClaimIsConditional(t *testing.T) {
	ctx := context.Background()
	mr, client := newMiniRedisClient(t)
	repo := NewRedisPairingSessionRepository(client, time.Hour)
	base := time.Now().UTC().Truncate(time.Millisecond)
	key := redisclient.PairingSessionKey("LUA001")

	require.NoError(t, repo.Insert(ctx, newSession("LUA001", base, time.Minute)))
	assert.Equal(t, "pending", mr.HGet(key, "status"))

	err := repo.CompareAndSetClaimed(ctx, "LUA001", base.Add(time.Minute), strPtr("late"))
	assert.ErrorIs(t, err, ErrPreconditionFailed)
	assert.Equal(t, "pending", mr.HGet(key, "status"))
	assert.Empty(t, mr.HGet(key, "claimed_at"))

	require.NoError(t, repo.CompareAndSetClaimed(ctx, "LUA001", base.Add(time.Second), strPtr("phone")))
	assert.Equal(t, "claimed", mr.HGet(key, "status"))
	assert.Equal(t, "phone", mr.HGet(key, "responder_ref"))
}

func TestIsUniqueViolation(t *testing.T) {
	assert.False(t, isUniqueViolation(nil))
	assert.False(t, isUniqueViolation(assert.AnError))
}

func TestIsUniqueViolation_SQLite(t *testing.T) {
	ctx := context.Background()
	db, err := database.Connect(database.DriverSQLite, filepath.Join(t.TempDir(), "pairing.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(ctx))

	insert := `INSERT INTO pairing_sessions (code, status, created_at, expires_at, claimed_at) VALUES (?, ?, ?, ?, ?)`
	_, err = db.ExecContext(ctx, insert, "UNIQ01", "pending", 1, 2, nil)
	require.NoError(t, err)

	t.Run("duplicate primary key", func(t *testing.T) {
		_, err := db.ExecContext(ctx, insert, "UNIQ01", "pending", 1, 2, nil)
		require.Error(t, err)
		assert.True(t, isUniqueViolation(err))
	})

	t.Run("check constraint is not a collision", func(t *testing.T) {
		_, err := db.ExecContext(ctx, insert, "CHECK1", "bogus", 1, 2, nil)
		require.Error(t, err)
		assert.False(t, isUniqueViolation(err))
	})

	t.Run("claimed without claimed_at is not a collision", func(t *testing.T) {
		_, err := db.ExecContext(ctx, insert, "CHECK2", "claimed", 1, 2, nil)
		require.Error(t, err)
		assert.False(t, isUniqueViolation(err))
	})

	t.Run("not null is not a collision", func(t *testing.T) {
		_, err := db.ExecContext(ctx, insert, "NULL01", "pending", nil, 2, nil)
		require.Error(t, err)
		assert.False(t, isUniqueViolation(err))
	})
}
