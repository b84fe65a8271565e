package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"realtime-chat/internal/cache"
)

type StoreMock struct {
	mock.Mock
}

func (m *StoreMock) Get(ctx context.Context, key string) (string, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Error(1)
}

func (m *StoreMock) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	args := m.Called(ctx, key, value, ttl)
	return args.Error(0)
}

func (m *StoreMock) Del(ctx context.Context, keys ...string) (int64, error) {
	callArgs := make([]interface{}, 0, len(keys)+1)
	callArgs = append(callArgs, ctx)
	for _, key := range keys {
		callArgs = append(callArgs, key)
	}
	args := m.Called(callArgs...)
	return args.Get(0).(int64), args.Error(1)
}

func (m *StoreMock) Append(ctx context.Context, key string, values ...string) error {
	args := m.Called(ctx, key, values)
	return args.Error(0)
}

func (m *StoreMock) GetList(ctx context.Context, key string) ([]string, error) {
	args := m.Called(ctx, key)
	var list []string
	if val := args.Get(0); val != nil {
		list = val.([]string)
	}
	return list, args.Error(1)
}

func (m *StoreMock) Expire(ctx context.Context, key string, ttl time.Duration) error {
	args := m.Called(ctx, key, ttl)
	return args.Error(0)
}

func (m *StoreMock) AddSetMember(ctx context.Context, key string, member string) error {
	args := m.Called(ctx, key, member)
	return args.Error(0)
}

func (m *StoreMock) RemoveSetMember(ctx context.Context, key string, member string) error {
	args := m.Called(ctx, key, member)
	return args.Error(0)
}

func (m *StoreMock) SetMembers(ctx context.Context, key string) ([]string, error) {
	args := m.Called(ctx, key)
	var members []string
	if val := args.Get(0); val != nil {
		members = val.([]string)
	}
	return members, args.Error(1)
}

func (m *StoreMock) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *StoreMock) Close() error {
	args := m.Called()
	return args.Error(0)
}

var _ cache.Store = (*StoreMock)(nil)
