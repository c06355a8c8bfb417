package utils

import (
	"reflect"
	"time"

	"github.com/paddyledger/paddy_backend/config"
)

/* generic functions */

func GetTypeName[T any]() string {
	var v T
	return reflect.TypeOf(v).Name()
}

/* Redis */

// list key, TypeList or TypeList:$scope
func listKey[T any](scope string) string {
	if scope == "" {
		return GetTypeName[T]() + "List"
	}
	return GetTypeName[T]() + "List:" + scope
}

// store list; ttl 0 skips caching
func StoreRedisList[T any](list []T, scope string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return config.SetRedisObject(listKey[T](scope), list, ttl)
}

// retrieve a list.
// returns nil, false if not cached
func RetrieveRedisList[T any](scope string) ([]T, bool, error) {
	var result []T
	exists, err := config.GetRedisObject(listKey[T](scope), &result)
	if err != nil || !exists {
		return nil, false, err
	}
	return result, true, nil
}

// clear lists for the given scopes
func RemoveRedisList[T any](scopes ...string) error {
	keys := make([]string, 0, len(scopes))
	for _, s := range scopes {
		keys = append(keys, listKey[T](s))
	}
	return config.RemoveRedisKey(keys...)
}
