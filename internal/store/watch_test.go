package store

import (
	"context"
	"testing"
	"time"
)

func TestFileStore_WatchContext_NotifiesOnWrite(t *testing.T) {
	fs, err := NewFileStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := fs.WatchContext(ctx, "fp1")
	if err != nil {
		t.Fatalf("WatchContext: %v", err)
	}

	if err := fs.Write("fp1", KindContext, "", map[string]string{"k": "v"}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	select {
	case _, ok := <-ch:
		if !ok {
			t.Fatal("watch channel closed before notification")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no notification after write")
	}
}

func TestFileStore_WatchContext_IgnoresOtherRecords(t *testing.T) {
	fs, err := NewFileStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := fs.WatchContext(ctx, "fp1")
	if err != nil {
		t.Fatalf("WatchContext: %v", err)
	}

	// A different task's context and this task's stack must not notify.
	if err := fs.Write("fp2", KindContext, "", map[string]string{"k": "v"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := fs.Write("fp1", KindStack, "", []string{}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	select {
	case <-ch:
		t.Fatal("unexpected notification for unrelated record")
	case <-time.After(300 * time.Millisecond):
	}
}
