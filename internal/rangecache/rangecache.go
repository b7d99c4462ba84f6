// Package rangecache implements the byte-range cache (spec §4.6): the
// bridge between an asynchronous object-store downloader and the
// synchronous, blocking reads a columnar scan needs. Grounded on
// original_source/src/range_cache.rs's Pending/Done/Error state
// machine and its "insert Pending synchronously, download
// asynchronously" scheduling discipline.
package rangecache

import (
	"context"
	"fmt"
	"sort"
	"sync"

	buzzerrors "github.com/cloudfuse-io/buzz-go/internal/errors"
)

// Downloader fetches one byte range of one file. Implementations
// (e.g. internal/cloud.S3Downloader) do not need to be safe for
// concurrent use beyond what the dispatcher's semaphore already
// bounds.
type Downloader interface {
	Download(ctx context.Context, fileID string, start uint64, length int) ([]byte, error)
}

type entryState int

const (
	statePending entryState = iota
	stateDone
	stateError
)

type cacheEntry struct {
	start  uint64
	state  entryState
	bytes  []byte
	reason error
}

type cacheKey struct {
	downloaderID string
	fileID       string
}

type downloadRequest struct {
	downloaderID string
	fileID       string
	start        uint64
	length       int
}

// RangeCache mediates between scheduled downloads and blocking reads
// over them. One RangeCache is shared by every scan within a single
// HBee process.
type RangeCache struct {
	mu   sync.Mutex
	cond *sync.Cond

	downloaders map[string]Downloader
	entries     map[cacheKey][]*cacheEntry

	queue      chan downloadRequest
	permits    chan struct{}
	ctx        context.Context
	cancel     context.CancelFunc
	dispatchWG sync.WaitGroup
}

// DefaultConcurrency is the default download semaphore width P (spec §4.6.1).
const DefaultConcurrency = 8

// New starts a RangeCache with a dispatcher bounded to concurrency
// simultaneous downloads.
func New(concurrency int) *RangeCache {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &RangeCache{
		downloaders: make(map[string]Downloader),
		entries:     make(map[cacheKey][]*cacheEntry),
		queue:       make(chan downloadRequest, 256),
		permits:     make(chan struct{}, concurrency),
		ctx:         ctx,
		cancel:      cancel,
	}
	c.cond = sync.NewCond(&c.mu)
	c.dispatchWG.Add(1)
	go c.dispatch()
	return c
}

// Close stops the dispatcher. Pending reads already in flight are
// left to complete naturally.
func (c *RangeCache) Close() {
	c.cancel()
	close(c.queue)
	c.dispatchWG.Wait()
}

// RegisterDownloader is idempotent: the first registration for id wins.
func (c *RangeCache) RegisterDownloader(id string, d Downloader) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.downloaders[id]; ok {
		return
	}
	c.downloaders[id] = d
}

// Schedule enqueues a download and immediately records a Pending
// entry at start (spec §4.6: "immediately records a Pending entry").
// No deduplication is performed across overlapping ranges.
func (c *RangeCache) Schedule(downloaderID, fileID string, start uint64, length int) {
	key := cacheKey{downloaderID, fileID}

	c.mu.Lock()
	c.entries[key] = append(c.entries[key], &cacheEntry{start: start, state: statePending})
	c.mu.Unlock()

	c.queue <- downloadRequest{downloaderID: downloaderID, fileID: fileID, start: start, length: length}
}

func (c *RangeCache) dispatch() {
	defer c.dispatchWG.Done()
	var wg sync.WaitGroup
	for req := range c.queue {
		select {
		case c.permits <- struct{}{}:
		case <-c.ctx.Done():
			wg.Wait()
			return
		}
		wg.Add(1)
		go func(req downloadRequest) {
			defer wg.Done()
			defer func() { <-c.permits }()
			c.runDownload(req)
		}(req)
	}
	wg.Wait()
}

func (c *RangeCache) runDownload(req downloadRequest) {
	c.mu.Lock()
	downloader, ok := c.downloaders[req.downloaderID]
	c.mu.Unlock()

	var (
		data []byte
		err  error
	)
	if !ok {
		err = fmt.Errorf("no downloader registered for id %q", req.downloaderID)
	} else {
		data, err = downloader.Download(c.ctx, req.fileID, req.start, req.length)
	}

	c.mu.Lock()
	entry := c.findEntry(cacheKey{req.downloaderID, req.fileID}, req.start)
	if entry != nil {
		if err != nil {
			entry.state = stateError
			entry.reason = err
		} else {
			entry.state = stateDone
			entry.bytes = data
		}
	}
	c.mu.Unlock()
	c.cond.Broadcast()
}

// findEntry returns the entry at exactly start for key, assuming mu held.
func (c *RangeCache) findEntry(key cacheKey, start uint64) *cacheEntry {
	for _, e := range c.entries[key] {
		if e.start == start {
			return e
		}
	}
	return nil
}

// greatestAtOrBelow returns the entry with the largest start <= target
// for key, assuming mu held (spec §4.6.2 step 1).
func (c *RangeCache) greatestAtOrBelow(key cacheKey, target uint64) *cacheEntry {
	entries := c.entries[key]
	var best *cacheEntry
	for _, e := range entries {
		if e.start <= target && (best == nil || e.start > best.start) {
			best = e
		}
	}
	return best
}

// Get blocks until the range [start, start+length) is available and
// returns a CachedRead over it, following spec §4.6.2's five steps.
func (c *RangeCache) Get(downloaderID, fileID string, start uint64, length int) (*CachedRead, error) {
	key := cacheKey{downloaderID, fileID}

	c.mu.Lock()
	defer c.mu.Unlock()

	for {
		entry := c.greatestAtOrBelow(key, start)
		if entry == nil {
			return nil, buzzerrors.NewInternal("download not scheduled")
		}
		if entry.state == statePending {
			c.cond.Wait()
			continue
		}
		if entry.state == stateError {
			return nil, buzzerrors.NewDownload(entry.reason.Error(), entry.reason)
		}
		offset := start - entry.start
		need := offset + uint64(length)
		if uint64(len(entry.bytes)) < need {
			return nil, buzzerrors.NewInternal("download not scheduled")
		}
		return newCachedRead(entry.bytes[offset : offset+uint64(length)]), nil
	}
}

// sortedOffsets is exposed for tests that want deterministic iteration.
func (c *RangeCache) sortedOffsets(downloaderID, fileID string) []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries := c.entries[cacheKey{downloaderID, fileID}]
	offsets := make([]uint64, len(entries))
	for i, e := range entries {
		offsets[i] = e.start
	}
	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })
	return offsets
}
