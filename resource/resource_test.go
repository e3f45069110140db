// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package resource_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/s3db/behavior"
	"storj.io/s3db/internal/testcontext"
	"storj.io/s3db/pkg/eventbus"
	"storj.io/s3db/resource"
	"storj.io/s3db/schema"
	"storj.io/s3db/storage"
	"storj.io/s3db/storage/memstore"
)

type fixture struct {
	store *memstore.Client
	bus   *eventbus.Bus
	res   *resource.Resource
}

func newFixture(t *testing.T, config resource.Config, definition map[string]any) *fixture {
	t.Helper()

	s, err := schema.Compile(definition)
	require.NoError(t, err)

	store := memstore.New()
	bus := eventbus.New()
	res, err := resource.New(resource.Params{
		Log:        zaptest.NewLogger(t),
		Store:      store,
		Bus:        bus,
		Config:     config,
		Schemas:    []*schema.Schema{s},
		Registry:   resource.NewRegistry(),
		Passphrase: "test-passphrase",
	})
	require.NoError(t, err)
	return &fixture{store: store, bus: bus, res: res}
}

func TestInsertGetRoundTrip(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	f := newFixture(t, resource.Config{
		Name:     "users",
		Behavior: behavior.EnforceLimits,
	}, map[string]any{
		"name":  "string|required",
		"email": "email|required|lowercase",
		"age":   "integer|optional",
	})

	inserted, err := f.res.Insert(ctx, map[string]any{
		"name":  "Ada",
		"email": "Ada@Ex.com",
		"age":   36,
	})
	require.NoError(t, err)
	require.NotEmpty(t, inserted["id"])

	got, err := f.res.Get(ctx, inserted["id"].(string))
	require.NoError(t, err)
	assert.Equal(t, "Ada", got["name"])
	assert.Equal(t, "ada@ex.com", got["email"], "lowercase normalizer applied")
	assert.Equal(t, int64(36), got["age"])

	// metadata-resident behavior reads with Head only
	assert.Equal(t, 0, f.store.CallCount.Get)

	// exactly the three short keys plus the version header
	info, err := f.store.Head(ctx, ownerKey("users", inserted["id"].(string)))
	require.NoError(t, err)
	require.Len(t, info.Metadata, 4)
}

func ownerKey(name, id string) string {
	return "resource=" + name + "/id=" + id
}

func TestInsertValidation(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	f := newFixture(t, resource.Config{Name: "users"}, map[string]any{
		"name": "string|required|min:2",
	})

	_, err := f.res.Insert(ctx, map[string]any{"name": "A"})
	require.True(t, schema.ErrValidation.Has(err))

	_, err = f.res.Insert(ctx, map[string]any{"name": "Ada", "bio": "undeclared"})
	require.True(t, schema.ErrValidation.Has(err), "undeclared attribute must fail")
}

func TestEnforceLimitsRejectsOverflow(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	f := newFixture(t, resource.Config{
		Name:     "users",
		Behavior: behavior.EnforceLimits,
	}, map[string]any{
		"name": "string",
		"bio":  "string",
	})

	_, err := f.res.Insert(ctx, map[string]any{
		"name": "A",
		"bio":  strings.Repeat("x", 4000),
	})
	require.True(t, behavior.ErrMetadataLimit.Has(err))
}

func TestBodyOverflowRoundTrip(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	f := newFixture(t, resource.Config{
		Name:     "docs",
		Behavior: behavior.BodyOverflow,
	}, map[string]any{
		"title": "string",
		"body":  "string",
	})

	big := strings.Repeat("X", 5000)
	inserted, err := f.res.Insert(ctx, map[string]any{"title": "T", "body": big})
	require.NoError(t, err)

	info, err := f.store.Head(ctx, ownerKey("docs", inserted["id"].(string)))
	require.NoError(t, err)
	require.Equal(t, "1", info.Metadata["_of"])

	got, err := f.res.Get(ctx, inserted["id"].(string))
	require.NoError(t, err)
	require.Equal(t, "T", got["title"])
	require.Equal(t, big, got["body"])
}

func TestBodyOnly(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	f := newFixture(t, resource.Config{
		Name:     "blobs",
		Behavior: behavior.BodyOnly,
	}, map[string]any{
		"payload": "string",
	})

	inserted, err := f.res.Insert(ctx, map[string]any{"payload": strings.Repeat("z", 10_000)})
	require.NoError(t, err)

	got, err := f.res.Get(ctx, inserted["id"].(string))
	require.NoError(t, err)
	require.Equal(t, inserted["payload"], got["payload"])
}

func TestUpdatePatchReplace(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	f := newFixture(t, resource.Config{Name: "users"}, map[string]any{
		"name": "string|required",
		"profile": map[string]any{
			"city": "string",
			"zip":  "string",
		},
		"tags": map[string]any{"type": "array", "items": "string"},
	})

	inserted, err := f.res.Insert(ctx, map[string]any{
		"name":    "Ada",
		"profile": map[string]any{"city": "London", "zip": "N1"},
		"tags":    []string{"a", "b"},
	})
	require.NoError(t, err)
	id := inserted["id"].(string)

	// update deep-merges objects and replaces arrays
	updated, err := f.res.Update(ctx, id, map[string]any{
		"profile": map[string]any{"zip": "N2"},
		"tags":    []string{"c"},
	})
	require.NoError(t, err)
	profile := updated["profile"].(map[string]any)
	assert.Equal(t, "London", profile["city"])
	assert.Equal(t, "N2", profile["zip"])
	assert.Equal(t, []any{"c"}, toAny(updated["tags"]))

	// update with no changes is a no-op read-modify-write
	same, err := f.res.Update(ctx, id, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "Ada", same["name"])

	// patch replaces top-level fields wholesale
	patched, err := f.res.Patch(ctx, id, map[string]any{
		"profile": map[string]any{"city": "Paris"},
	})
	require.NoError(t, err)
	profile = patched["profile"].(map[string]any)
	assert.Equal(t, "Paris", profile["city"])
	assert.NotContains(t, profile, "zip")

	// patch is idempotent
	again, err := f.res.Patch(ctx, id, map[string]any{
		"profile": map[string]any{"city": "Paris"},
	})
	require.NoError(t, err)
	assert.Equal(t, patched["profile"], again["profile"])

	// replace keeps nothing of the old record
	replaced, err := f.res.Replace(ctx, id, map[string]any{"name": "Grace"})
	require.NoError(t, err)
	assert.Equal(t, "Grace", replaced["name"])
	assert.NotContains(t, replaced, "profile")
}

func toAny(v any) []any {
	switch items := v.(type) {
	case []any:
		return items
	case []string:
		out := make([]any, len(items))
		for i, s := range items {
			out[i] = s
		}
		return out
	}
	return nil
}

func TestHardDelete(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	f := newFixture(t, resource.Config{Name: "users"}, map[string]any{"name": "string"})

	inserted, err := f.res.Insert(ctx, map[string]any{"name": "Ada"})
	require.NoError(t, err)
	id := inserted["id"].(string)

	require.NoError(t, f.res.Delete(ctx, id))

	_, err = f.res.Get(ctx, id)
	require.True(t, storage.ErrNoSuchKey.Has(err))

	// second hard delete fails with not-found
	err = f.res.Delete(ctx, id)
	require.True(t, storage.ErrNoSuchKey.Has(err))
}

func TestParanoidSoftDelete(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	f := newFixture(t, resource.Config{
		Name:       "users",
		Timestamps: true,
		Paranoid:   true,
	}, map[string]any{"name": "string"})

	inserted, err := f.res.Insert(ctx, map[string]any{"name": "Ada"})
	require.NoError(t, err)
	id := inserted["id"].(string)
	require.NotEmpty(t, inserted["createdAt"])
	require.NotEmpty(t, inserted["updatedAt"])

	require.NoError(t, f.res.Delete(ctx, id))

	// reads filter soft-deleted records by default
	_, err = f.res.Get(ctx, id)
	require.True(t, storage.ErrNoSuchKey.Has(err))

	exists, err := f.res.Exists(ctx, id)
	require.NoError(t, err)
	require.False(t, exists)

	records, err := f.res.List(ctx, resource.ListOptions{})
	require.NoError(t, err)
	require.Empty(t, records)

	records, err = f.res.List(ctx, resource.ListOptions{IncludeDeleted: true})
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.NotEmpty(t, records[0]["deletedAt"])

	// soft delete of a soft-deleted record is a no-op
	require.NoError(t, f.res.Delete(ctx, id))
	// and so is deleting a record that never existed
	require.NoError(t, f.res.Delete(ctx, "missing"))
}

func TestSecretEncryption(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	f := newFixture(t, resource.Config{Name: "accounts"}, map[string]any{
		"name":   "string",
		"apiKey": "secret",
	})

	first, err := f.res.Insert(ctx, map[string]any{"name": "a", "apiKey": "hunter2"})
	require.NoError(t, err)
	second, err := f.res.Insert(ctx, map[string]any{"name": "b", "apiKey": "hunter2"})
	require.NoError(t, err)

	// stored values are opaque and differ between records with the
	// same plaintext
	firstInfo, err := f.store.Head(ctx, ownerKey("accounts", first["id"].(string)))
	require.NoError(t, err)
	secondInfo, err := f.store.Head(ctx, ownerKey("accounts", second["id"].(string)))
	require.NoError(t, err)

	var firstSealed, secondSealed string
	for key, value := range firstInfo.Metadata {
		if strings.HasPrefix(value, "x") && !strings.HasPrefix(key, "_") {
			firstSealed = value
		}
	}
	for key, value := range secondInfo.Metadata {
		if strings.HasPrefix(value, "x") && !strings.HasPrefix(key, "_") {
			secondSealed = value
		}
	}
	require.NotEmpty(t, firstSealed)
	require.NotContains(t, firstSealed, "hunter2")
	require.NotEqual(t, firstSealed, secondSealed)

	// reads decrypt transparently
	got, err := f.res.Get(ctx, first["id"].(string))
	require.NoError(t, err)
	require.Equal(t, "hunter2", got["apiKey"])
}

func TestPasswordHashing(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	f := newFixture(t, resource.Config{Name: "logins"}, map[string]any{
		"user":     "string",
		"password": "password",
	})

	inserted, err := f.res.Insert(ctx, map[string]any{"user": "ada", "password": "s3cret"})
	require.NoError(t, err)

	got, err := f.res.Get(ctx, inserted["id"].(string))
	require.NoError(t, err)
	hash := got["password"].(string)
	require.True(t, strings.HasPrefix(hash, "$2"), "bcrypt hash, got %q", hash)
	require.NotContains(t, hash, "s3cret")
}

func TestBatchOperations(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	f := newFixture(t, resource.Config{Name: "users"}, map[string]any{
		"name": "string|required",
	})

	results, err := f.res.InsertMany(ctx, []map[string]any{
		{"name": "a"},
		{}, // fails validation
		{"name": "c"},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.True(t, results[0].OK)
	assert.False(t, results[1].OK)
	require.True(t, schema.ErrValidation.Has(results[1].Err))
	assert.True(t, results[2].OK)

	ids := []string{
		results[0].Data["id"].(string),
		results[2].Data["id"].(string),
		"missing",
	}
	fetched, err := f.res.GetMany(ctx, ids)
	require.NoError(t, err)
	assert.True(t, fetched[0].OK)
	assert.True(t, fetched[1].OK)
	assert.False(t, fetched[2].OK)

	deleted, err := f.res.DeleteMany(ctx, ids[:2])
	require.NoError(t, err)
	assert.True(t, deleted[0].OK && deleted[1].OK)

	count, err := f.res.Count(ctx, resource.ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestHooksPipeline(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	s, err := schema.Compile(map[string]any{"name": "string", "slug": "string"})
	require.NoError(t, err)

	registry := resource.NewRegistry()
	require.NoError(t, registry.Register("slugify", func(params map[string]any) (resource.HookFunc, error) {
		field, _ := params["field"].(string)
		return func(_ context.Context, data map[string]any) (map[string]any, error) {
			if name, ok := data[field].(string); ok {
				data["slug"] = strings.ToLower(strings.ReplaceAll(name, " ", "-"))
			}
			return data, nil
		}, nil
	}))

	res, err := resource.New(resource.Params{
		Store:    memstore.New(),
		Config:   resource.Config{Name: "posts"},
		Schemas:  []*schema.Schema{s},
		Registry: registry,
		Hooks: []resource.Registration{
			{Event: resource.BeforeInsert, Name: "slugify", Params: map[string]any{"field": "name"}},
		},
	})
	require.NoError(t, err)

	inserted, err := res.Insert(ctx, map[string]any{"name": "Hello World"})
	require.NoError(t, err)
	require.Equal(t, "hello-world", inserted["slug"])

	got, err := res.Get(ctx, inserted["id"].(string))
	require.NoError(t, err)
	require.Equal(t, "hello-world", got["slug"])
}

func TestUnresolvableHookFails(t *testing.T) {
	s, err := schema.Compile(map[string]any{"name": "string"})
	require.NoError(t, err)

	_, err = resource.New(resource.Params{
		Store:    memstore.New(),
		Config:   resource.Config{Name: "posts"},
		Schemas:  []*schema.Schema{s},
		Registry: resource.NewRegistry(),
		Hooks: []resource.Registration{
			{Event: resource.BeforeInsert, Name: "ghost"},
		},
	})
	require.Error(t, err)
}

func TestEventsEmitted(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	f := newFixture(t, resource.Config{Name: "users"}, map[string]any{"name": "string"})

	var names []string
	f.bus.OnAll(func(event eventbus.Event) {
		names = append(names, event.Name)
	})
	// a panicking listener must not affect the operation
	f.bus.On("insert", func(eventbus.Event) { panic("listener bug") })

	inserted, err := f.res.Insert(ctx, map[string]any{"name": "Ada"})
	require.NoError(t, err)
	_, err = f.res.Get(ctx, inserted["id"].(string))
	require.NoError(t, err)
	require.NoError(t, f.res.Delete(ctx, inserted["id"].(string)))

	require.Equal(t, []string{"insert", "get", "delete"}, names)
}
