package users

import (
	"context"
	"errors"
	"testing"

	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testUsersKey = "lxcgate-users"

func TestRedisStore_Load(t *testing.T) {
	db, mock := redismock.NewClientMock()
	defer db.Close()

	store := NewRedisStore(db, testUsersKey)
	ctx := context.Background()

	mock.ExpectGet(testUsersKey).RedisNil()
	records := store.Load(ctx)
	require.NotNil(t, records)
	assert.Empty(t, records)

	mock.ExpectGet(testUsersKey).SetVal(`[{"username":"alice","password":"h1"}]`)
	records = store.Load(ctx)
	assert.Equal(t, []Credential{{Username: "alice", PasswordHash: "h1"}}, records)

	mock.ExpectGet(testUsersKey).SetVal(`not-json`)
	records = store.Load(ctx)
	assert.Empty(t, records)

	mock.ExpectGet(testUsersKey).SetErr(errors.New("connection refused"))
	records = store.Load(ctx)
	assert.Empty(t, records)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_Save(t *testing.T) {
	db, mock := redismock.NewClientMock()
	defer db.Close()

	store := NewRedisStore(db, testUsersKey)
	ctx := context.Background()

	records := []Credential{{Username: "alice", PasswordHash: "h1"}}
	data, err := marshalRecords(records)
	require.NoError(t, err)

	mock.ExpectSet(testUsersKey, data, 0).SetVal("OK")
	require.NoError(t, store.Save(ctx, records))

	mock.ExpectSet(testUsersKey, data, 0).SetErr(errors.New("oom"))
	err = store.Save(ctx, records)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oom")

	require.NoError(t, mock.ExpectationsWereMet())
}

func expectUpdateAttempt(mock redismock.ClientMock, current string, data []byte, execErr error) {
	mock.ExpectWatch(testUsersKey)
	mock.ExpectGet(testUsersKey).SetVal(current)
	mock.ExpectTxPipeline()
	mock.ExpectSet(testUsersKey, data, 0).SetVal("OK")
	exec := mock.ExpectTxPipelineExec()
	if execErr != nil {
		exec.SetErr(execErr)
	}
}

func addBob(records []Credential) ([]Credential, error) {
	return append(records, Credential{Username: "bob", PasswordHash: "h2"}), nil
}

func TestRedisStore_Update_RetriesOnConcurrentWrite(t *testing.T) {
	db, mock := redismock.NewClientMock()
	defer db.Close()

	store := NewRedisStore(db, testUsersKey)
	ctx := context.Background()

	current := `[{"username":"alice","password":"h1"}]`
	data, err := marshalRecords([]Credential{
		{Username: "alice", PasswordHash: "h1"},
		{Username: "bob", PasswordHash: "h2"},
	})
	require.NoError(t, err)

	// another writer touched the key between WATCH and EXEC
	expectUpdateAttempt(mock, current, data, redis.TxFailedErr)
	expectUpdateAttempt(mock, current, data, nil)

	require.NoError(t, store.Update(ctx, addBob))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_Update_GivesUp(t *testing.T) {
	db, mock := redismock.NewClientMock()
	defer db.Close()

	store := NewRedisStore(db, testUsersKey)
	ctx := context.Background()

	data, err := marshalRecords([]Credential{{Username: "bob", PasswordHash: "h2"}})
	require.NoError(t, err)
	for i := 0; i < maxUpdateAttempts; i++ {
		expectUpdateAttempt(mock, `[]`, data, redis.TxFailedErr)
	}

	err = store.Update(ctx, addBob)
	require.Error(t, err)
	assert.ErrorIs(t, err, redis.TxFailedErr)
	assert.Contains(t, err.Error(), "gave up after 5 attempts")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_Update_AbortAndCorrupt(t *testing.T) {
	db, mock := redismock.NewClientMock()
	defer db.Close()

	store := NewRedisStore(db, testUsersKey)
	ctx := context.Background()

	mock.ExpectWatch(testUsersKey)
	mock.ExpectGet(testUsersKey).SetVal(`[{"username":"bob","password":"h2"}]`)
	err := store.Update(ctx, func(records []Credential) ([]Credential, error) {
		if _, found := Find(records, "bob"); found {
			return nil, ErrUsernameTaken
		}
		return records, nil
	})
	assert.ErrorIs(t, err, ErrUsernameTaken)

	mock.ExpectWatch(testUsersKey)
	mock.ExpectGet(testUsersKey).SetVal(`not-json`)
	err = store.Update(ctx, addBob)
	assert.ErrorIs(t, err, ErrStoreCorrupt)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarshalRecords_Nil(t *testing.T) {
	data, err := marshalRecords(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}
