package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lasso/internal/store"
)

func TestMemoryDeduper_Window(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryDeduper(time.Hour, 10)

	ok, err := d.Claim(ctx, "a", testNow)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = d.Claim(ctx, "a", testNow.Add(30*time.Minute))
	assert.False(t, ok)

	ok, _ = d.Claim(ctx, "a", testNow.Add(2*time.Hour))
	assert.True(t, ok, "claim expired after the window")
}

func TestMemoryDeduper_Release(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryDeduper(time.Hour, 10)

	ok, err := d.Claim(ctx, "a", testNow)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, d.Release(ctx, "a"))
	assert.Equal(t, 0, d.Len())
	require.NoError(t, d.Release(ctx, "never-claimed"))

	ok, _ = d.Claim(ctx, "a", testNow.Add(time.Minute))
	assert.True(t, ok)
}

func TestMemoryDeduper_CapacityEvictsOldest(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryDeduper(time.Hour, 2)

	for _, k := range []string{"a", "b", "c"} {
		ok, err := d.Claim(ctx, k, testNow)
		require.NoError(t, err)
		require.True(t, ok)
	}
	assert.Equal(t, 2, d.Len())

	ok, _ := d.Claim(ctx, "a", testNow)
	assert.True(t, ok, "oldest key was evicted")
	ok, _ = d.Claim(ctx, "c", testNow)
	assert.False(t, ok)
}

func TestStoreDeduper(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	d := NewStoreDeduper(s, time.Hour)
	ctx := context.Background()

	ok, err := d.Claim(ctx, "k", testNow)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.Claim(ctx, "k", testNow.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, d.Release(ctx, "k"))
	ok, err = d.Claim(ctx, "k", testNow.Add(2*time.Minute))
	require.NoError(t, err)
	assert.True(t, ok, "released claim can be taken again")
}

func TestRedisDeduper(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	d := NewRedisDeduper(client, "lasso:", time.Hour)
	ctx := context.Background()

	ok, err := d.Claim(ctx, "k", testNow)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, mr.Exists("lasso:seen:k"))

	ok, err = d.Claim(ctx, "k", testNow)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, d.Release(ctx, "k"))
	assert.False(t, mr.Exists("lasso:seen:k"))
	ok, err = d.Claim(ctx, "k", testNow)
	require.NoError(t, err)
	assert.True(t, ok)

	mr.FastForward(2 * time.Hour)

	ok, err = d.Claim(ctx, "k", testNow.Add(2*time.Hour))
	require.NoError(t, err)
	assert.True(t, ok, "redis expired the claim")
}

func TestRedisDeduper_BackendDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	mr.Close()

	d := NewRedisDeduper(client, "", time.Hour)
	_, err := d.Claim(context.Background(), "k", testNow)
	assert.Error(t, err)
}

type fakeDynamo struct {
	putErr          error
	deleteErr       error
	lastPutInput    *dynamodb.PutItemInput
	lastDeleteInput *dynamodb.DeleteItemInput
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.lastPutInput = in
	return &dynamodb.PutItemOutput{}, f.putErr
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.lastDeleteInput = in
	return &dynamodb.DeleteItemOutput{}, f.deleteErr
}

func TestNewDynamoDeduper_Validation(t *testing.T) {
	_, err := NewDynamoDeduper(nil, "t", time.Hour)
	assert.Error(t, err)

	_, err = NewDynamoDeduper(&fakeDynamo{}, " ", time.Hour)
	assert.Error(t, err)
}

func TestDynamoDeduper_FirstClaim(t *testing.T) {
	db := &fakeDynamo{}
	d, err := NewDynamoDeduper(db, "lasso-events", time.Hour)
	require.NoError(t, err)

	ok, err := d.Claim(context.Background(), "k", testNow)
	require.NoError(t, err)
	assert.True(t, ok)

	in := db.lastPutInput
	require.NotNil(t, in)
	assert.Equal(t, "lasso-events", *in.TableName)
	assert.Equal(t, "attribute_not_exists(PK) OR expires_at < :now", *in.ConditionExpression)
	assert.Equal(t, &types.AttributeValueMemberS{Value: "EVENT#k"}, in.Item["PK"])
	assert.Equal(t, &types.AttributeValueMemberN{Value: "1772370000"}, in.Item["expires_at"])
	assert.Equal(t, &types.AttributeValueMemberN{Value: "1772366400"}, in.ExpressionAttributeValues[":now"])
}

func TestDynamoDeduper_ConditionFailedIsDuplicate(t *testing.T) {
	db := &fakeDynamo{putErr: &types.ConditionalCheckFailedException{Message: strPtr("exists")}}
	d, err := NewDynamoDeduper(db, "lasso-events", time.Hour)
	require.NoError(t, err)

	ok, err := d.Claim(context.Background(), "k", testNow)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDynamoDeduper_OtherErrorsSurface(t *testing.T) {
	db := &fakeDynamo{putErr: errors.New("throttled")}
	d, err := NewDynamoDeduper(db, "lasso-events", time.Hour)
	require.NoError(t, err)

	_, err = d.Claim(context.Background(), "k", testNow)
	assert.ErrorContains(t, err, "throttled")
}

func strPtr(s string) *string { return &s }

func TestDynamoDeduper_Release(t *testing.T) {
	db := &fakeDynamo{}
	d, err := NewDynamoDeduper(db, "lasso-events", time.Hour)
	require.NoError(t, err)

	require.NoError(t, d.Release(context.Background(), "k"))
	in := db.lastDeleteInput
	require.NotNil(t, in)
	assert.Equal(t, "lasso-events", *in.TableName)
	assert.Equal(t, &types.AttributeValueMemberS{Value: "EVENT#k"}, in.Key["PK"])

	db.deleteErr = errors.New("throttled")
	err = d.Release(context.Background(), "k")
	assert.ErrorContains(t, err, "dynamo dedup: release k")
}
