package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
)

func TestRedisGetHitAndMiss(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewRedis(db, time.Minute)
	ctx := context.Background()

	mock.ExpectGet("k1").SetVal(`{"code":"0"}`)
	val, found, err := c.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !found || string(val) != `{"code":"0"}` {
		t.Fatalf("Get() = %q, %v", val, found)
	}

	mock.ExpectGet("k2").RedisNil()
	val, found, err = c.Get(ctx, "k2")
	if err != nil {
		t.Fatalf("Get(miss) error = %v", err)
	}
	if found || val != nil {
		t.Fatalf("Get(miss) = %q, %v", val, found)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("redis expectations: %v", err)
	}
}

func TestRedisGetError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewRedis(db, time.Minute)

	mock.ExpectGet("k").SetErr(errors.New("connection reset"))
	if _, _, err := c.Get(context.Background(), "k"); err == nil {
		t.Fatalf("Get() error = nil, want error")
	}
}

func TestRedisSetUsesTTL(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewRedis(db, 30*time.Second)

	mock.ExpectSet("k", []byte("v"), 30*time.Second).SetVal("OK")
	if err := c.Set(context.Background(), "k", []byte("v")); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("redis expectations: %v", err)
	}
}

func TestKey(t *testing.T) {
	if got := Key("blofin", "/api/v1/market/books?instId=BTC-USDT"); got != "exdash:public:blofin:/api/v1/market/books?instId=BTC-USDT" {
		t.Fatalf("Key() = %q", got)
	}
}

func TestNoopAlwaysMisses(t *testing.T) {
	var c Cache = Noop{}
	if err := c.Set(context.Background(), "k", []byte("v")); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if _, found, _ := c.Get(context.Background(), "k"); found {
		t.Fatalf("Noop Get() found = true")
	}
}
