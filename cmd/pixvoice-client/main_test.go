package main

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixvoice/pixvoice/editflow"
)

func TestConvoState_HandlesBeforeWire(t *testing.T) {
	state := &convoState{}
	sess, flow, img := state.handles()
	assert.Nil(t, sess)
	assert.Nil(t, flow)
	assert.Empty(t, img.Base64)
}

func TestConvoState_ConcurrentEditUpdates(t *testing.T) {
	state := &convoState{}
	state.setImage(editflow.Image{Base64: "b3JpZw==", MimeType: "image/png"})

	// Edits land from the callback goroutine while the stdin side reads the
	// current image. Every edit must get a distinct sequence number.
	const edits = 50
	counts := make(chan int, edits)
	var wg sync.WaitGroup
	for i := 0; i < edits; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			img := editflow.Image{Base64: fmt.Sprintf("djEyMw%02d", i), MimeType: "image/png"}
			counts <- state.recordEdit(img)
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < edits; i++ {
			state.currentImage()
			state.handles()
		}
	}()
	wg.Wait()
	close(counts)

	seen := make(map[int]bool)
	for n := range counts {
		require.False(t, seen[n], "edit count %d handed out twice", n)
		seen[n] = true
	}
	require.Len(t, seen, edits)
	assert.Equal(t, edits+1, state.recordEdit(editflow.Image{}))
}

func TestMimeFromPath(t *testing.T) {
	assert.Equal(t, "image/png", mimeFromPath("photo.PNG"))
	assert.Equal(t, "image/webp", mimeFromPath("photo.webp"))
	assert.Equal(t, "image/jpeg", mimeFromPath("photo.jpg"))
	assert.Equal(t, "image/jpeg", mimeFromPath("photo"))
}
