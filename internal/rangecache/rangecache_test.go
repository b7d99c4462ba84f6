package rangecache

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"
)

type fakeDownloader struct {
	mu      sync.Mutex
	data    map[string][]byte
	delay   time.Duration
	failKey string
}

func (f *fakeDownloader) Download(ctx context.Context, fileID string, start uint64, length int) ([]byte, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if fileID == f.failKey {
		return nil, fmt.Errorf("simulated download failure")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	b := f.data[fileID]
	return b[start : start+uint64(length)], nil
}

func TestRangeCacheHappyPath(t *testing.T) {
	c := New(2)
	defer c.Close()

	payload := []byte("hello world, this is a test file")
	c.RegisterDownloader("s3", &fakeDownloader{data: map[string][]byte{"f1": payload}})

	c.Schedule("s3", "f1", 0, 5)
	read, err := c.Get("s3", "f1", 0, 5)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, read); err != nil {
		t.Fatalf("copy: %v", err)
	}
	if buf.String() != "hello" {
		t.Fatalf("expected %q, got %q", "hello", buf.String())
	}
}

func TestRangeCacheGetWithoutScheduleFails(t *testing.T) {
	c := New(2)
	defer c.Close()
	c.RegisterDownloader("s3", &fakeDownloader{data: map[string][]byte{}})

	_, err := c.Get("s3", "nope", 0, 10)
	if err == nil {
		t.Fatal("expected download-not-scheduled error")
	}
}

func TestRangeCachePropagatesDownloadError(t *testing.T) {
	c := New(2)
	defer c.Close()
	c.RegisterDownloader("s3", &fakeDownloader{data: map[string][]byte{"bad": []byte("x")}, failKey: "bad"})

	c.Schedule("s3", "bad", 0, 1)
	_, err := c.Get("s3", "bad", 0, 1)
	if err == nil {
		t.Fatal("expected propagated download error")
	}
}

func TestRangeCacheBlocksUntilDone(t *testing.T) {
	c := New(2)
	defer c.Close()
	payload := []byte("0123456789")
	c.RegisterDownloader("s3", &fakeDownloader{data: map[string][]byte{"slow": payload}, delay: 50 * time.Millisecond})

	c.Schedule("s3", "slow", 0, 10)

	start := time.Now()
	read, err := c.Get("s3", "slow", 2, 4)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if time.Since(start) < 40*time.Millisecond {
		t.Fatal("expected Get to block until download completed")
	}
	var buf bytes.Buffer
	io.Copy(&buf, read)
	if buf.String() != "2345" {
		t.Fatalf("expected %q, got %q", "2345", buf.String())
	}
}

func TestRegisterDownloaderIdempotent(t *testing.T) {
	c := New(1)
	defer c.Close()
	first := &fakeDownloader{data: map[string][]byte{"f": []byte("first")}}
	second := &fakeDownloader{data: map[string][]byte{"f": []byte("second")}}
	c.RegisterDownloader("d", first)
	c.RegisterDownloader("d", second)

	c.Schedule("d", "f", 0, 5)
	read, err := c.Get("d", "f", 0, 5)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	var buf bytes.Buffer
	io.Copy(&buf, read)
	if buf.String() != "first" {
		t.Fatalf("expected first downloader to win, got %q", buf.String())
	}
}
