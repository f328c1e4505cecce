// internal/model/record_test.go
package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRecord_NormalizesNumbersAndObjects(t *testing.T) {
	rec, err := DecodeRecord([]byte(`{
		"id": 9007199254740993,
		"score": 1.5,
		"owner": {"login": "octo", "id": 1},
		"labels": [{"id": 2}, "stray"],
		"draft": false,
		"body": null
	}`))
	require.NoError(t, err)

	id, ok := rec.Int("id")
	assert.True(t, ok)
	assert.Equal(t, int64(9007199254740993), id)
	assert.Equal(t, 1.5, rec["score"])
	assert.Equal(t, "octo", rec.Object("owner").String("login"))
	assert.Len(t, rec.Objects("labels"), 1)
	assert.Equal(t, false, rec["draft"])
	assert.Contains(t, rec, "body")
	assert.Nil(t, rec["body"])
}

func TestDecodeRecord_RejectsArrays(t *testing.T) {
	_, err := DecodeRecord([]byte(`[1, 2]`))
	assert.Error(t, err)
}

func TestNormalize_YAMLValues(t *testing.T) {
	v := Normalize(map[any]any{
		true:  "push",
		"jobs": map[string]any{"build": map[string]any{"timeout-minutes": 10}},
	})
	rec, ok := v.(Record)
	require.True(t, ok)
	assert.Equal(t, "push", rec["true"])
	assert.Equal(t, int64(10), rec.Object("jobs").Object("build")["timeout-minutes"])
}

func TestRecord_WithoutURLs(t *testing.T) {
	rec := Record{
		"id":         int64(1),
		"url":        "https://api.github.com/repos/a/b",
		"html_url":   "https://github.com/a/b",
		"avatar_url": "https://avatars/1",
		"issues_url": "https://api.github.com/repos/a/b/issues{/number}",
		"urlish":     "kept",
	}

	got := rec.WithoutURLs("html_url")
	assert.Equal(t, Record{"id": int64(1), "html_url": "https://github.com/a/b", "urlish": "kept"}, got)
	assert.Len(t, rec, 6, "source record must not be modified")

	got = rec.WithoutURLs("html_url", "avatar_url")
	assert.Contains(t, got, "avatar_url")
}

func TestRecord_Pop(t *testing.T) {
	rec := Record{"labels": []any{"x"}}
	v := rec.Pop("labels")
	assert.Equal(t, []any{"x"}, v)
	assert.NotContains(t, rec, "labels")
	assert.Nil(t, rec.Pop("missing"))
}
