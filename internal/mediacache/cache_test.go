// ABOUTME: Tests for the per-device media cache.
// ABOUTME: Covers chunk merging, reset-before-fetch isolation, and eviction.

package mediacache

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func thumb(t *testing.T, fields string) Thumbnail {
	t.Helper()
	var th Thumbnail
	require.NoError(t, json.Unmarshal([]byte(fields), &th))
	return th
}

func TestAppendChunk(t *testing.T) {
	t.Run("merges chunks by filename", func(t *testing.T) {
		c := New(0)
		defer c.Close()

		n := c.AppendChunk("dev1", []Thumbnail{
			thumb(t, `{"filename":"a.jpg","thumb_b64":"AAA"}`),
			thumb(t, `{"filename":"b.jpg","thumb_b64":"BBB"}`),
		}, false)
		assert.Equal(t, 2, n)

		c.AppendChunk("dev1", []Thumbnail{
			thumb(t, `{"filename":"c.jpg","thumb_b64":"CCC"}`),
		}, false)

		list := c.List("dev1")
		require.Len(t, list, 3)
		assert.Equal(t, "a.jpg", list[0].Filename())
		assert.Equal(t, "c.jpg", list[2].Filename())
	})

	t.Run("re-submitted filename overwrites in place", func(t *testing.T) {
		c := New(0)
		defer c.Close()

		c.AppendChunk("dev1", []Thumbnail{thumb(t, `{"filename":"a.jpg","v":1}`)}, false)
		c.AppendChunk("dev1", []Thumbnail{thumb(t, `{"filename":"a.jpg","v":2}`)}, false)

		list := c.List("dev1")
		require.Len(t, list, 1)
		assert.JSONEq(t, `2`, string(list[0]["v"]))
	})

	t.Run("skips records without a filename", func(t *testing.T) {
		c := New(0)
		defer c.Close()

		n := c.AppendChunk("dev1", []Thumbnail{
			thumb(t, `{"thumb_b64":"AAA"}`),
			thumb(t, `{"filename":42}`),
			thumb(t, `{"filename":"ok.jpg"}`),
		}, false)
		assert.Equal(t, 1, n)
		assert.Len(t, c.List("dev1"), 1)
	})

	t.Run("final chunk completes the fetch", func(t *testing.T) {
		c := New(0)
		defer c.Close()

		c.AppendChunk("dev1", []Thumbnail{thumb(t, `{"filename":"a.jpg"}`)}, false)
		assert.Equal(t, StatusPending, c.Status("dev1"))

		c.AppendChunk("dev1", []Thumbnail{thumb(t, `{"filename":"b.jpg"}`)}, true)
		assert.Equal(t, StatusComplete, c.Status("dev1"))
	})
}

func TestReset(t *testing.T) {
	t.Run("discards prior listing", func(t *testing.T) {
		c := New(0)
		defer c.Close()

		c.AppendChunk("dev1", []Thumbnail{thumb(t, `{"filename":"old.jpg"}`)}, true)
		c.Reset("dev1")

		assert.Empty(t, c.List("dev1"))
		assert.Equal(t, StatusPending, c.Status("dev1"))
	})

	t.Run("chunk from the new fetch is the only content after reset", func(t *testing.T) {
		c := New(0)
		defer c.Close()

		// First fetch delivers a chunk, then a second fetch starts
		// (reset), and only then does the new chunk arrive.
		c.AppendChunk("dev1", []Thumbnail{thumb(t, `{"filename":"stale.jpg"}`)}, false)
		c.Reset("dev1")
		c.AppendChunk("dev1", []Thumbnail{thumb(t, `{"filename":"fresh.jpg"}`)}, true)

		list := c.List("dev1")
		require.Len(t, list, 1)
		assert.Equal(t, "fresh.jpg", list[0].Filename())
	})
}

func TestListUnknownDevice(t *testing.T) {
	c := New(0)
	defer c.Close()

	list := c.List("ghost")
	assert.NotNil(t, list)
	assert.Empty(t, list)
	assert.Equal(t, StatusNone, c.Status("ghost"))
}

func TestEvictDevice(t *testing.T) {
	c := New(0)
	defer c.Close()

	c.AppendChunk("dev1", []Thumbnail{thumb(t, `{"filename":"a.jpg"}`)}, true)
	c.EvictDevice("dev1")

	assert.Empty(t, c.List("dev1"))
	assert.Equal(t, StatusNone, c.Status("dev1"))

	// Evicting again is a no-op.
	c.EvictDevice("dev1")
}

func TestConcurrentAppends(t *testing.T) {
	c := New(0)
	defer c.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		record := Thumbnail{"filename": json.RawMessage(fmt.Sprintf("%q", fmt.Sprintf("f%d.jpg", i)))}
		wg.Add(1)
		go func(th Thumbnail) {
			defer wg.Done()
			c.AppendChunk("dev1", []Thumbnail{th}, false)
		}(record)
	}
	wg.Wait()

	assert.Len(t, c.List("dev1"), 10)
}
