/*
Copyright 2024 Recurra Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"

	"github.com/recurrahq/recurra/config"
)

func TestNewCache_SetGetDelete(t *testing.T) {
	mr := miniredis.RunT(t)
	config.MockConfig(&config.Configuration{
		Redis: config.RedisConfig{Dns: mr.Addr()},
	})

	ca, err := NewCache()
	assert.NoError(t, err)

	ctx := context.Background()
	err = ca.Set(ctx, "customer:external:cus_1", "cust_local_1", time.Minute)
	assert.NoError(t, err)

	var got string
	err = ca.Get(ctx, "customer:external:cus_1", &got)
	assert.NoError(t, err)
	assert.Equal(t, "cust_local_1", got)

	err = ca.Delete(ctx, "customer:external:cus_1")
	assert.NoError(t, err)
}

func TestCacheGet_MissIsNotAnError(t *testing.T) {
	mr := miniredis.RunT(t)
	config.MockConfig(&config.Configuration{
		Redis: config.RedisConfig{Dns: mr.Addr()},
	})

	ca, err := NewCache()
	assert.NoError(t, err)

	var got string
	err = ca.Get(context.Background(), "customer:external:missing", &got)
	assert.NoError(t, err)
	assert.Empty(t, got)
}
