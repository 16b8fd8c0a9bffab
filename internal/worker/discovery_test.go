package worker

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oriys/embedstar/internal/store"
)

var errInjected = errors.New("injected scan failure")

func repoRow(id, fullName string) map[string]any {
	return map[string]any{
		"id":         id,
		"full_name":  fullName,
		"stars":      1,
		"owner":      map[string]any{"login": "octo"},
		"updated_at": "2026-08-20T10:00:00Z",
	}
}

func fastDiscovery(h *harness, buffer int) *Discovery {
	d := NewDiscovery(h.store, h.ctrl, buffer)
	d.idleSleep = time.Millisecond
	d.errorSleep = time.Millisecond
	d.pollInterval = 10 * time.Millisecond
	return d
}

func TestBacklogDrainsThenStops(t *testing.T) {
	h := newHarness(t)

	var scans atomic.Int32
	h.fake.respond = func(sql string, vars map[string]any) (any, error) {
		if !strings.Contains(sql, "embedding IS NONE") {
			return nil, nil
		}
		switch scans.Add(1) {
		case 1:
			return []map[string]any{
				repoRow("repo:1", "octo/one"),
				repoRow("repo:2", "octo/two"),
			}, nil
		case 2:
			return []map[string]any{repoRow("repo:3", "octo/three")}, nil
		default:
			return []map[string]any{}, nil
		}
	}

	d := NewDiscovery(h.store, h.ctrl, 8)
	d.idleSleep = time.Millisecond
	d.errorSleep = time.Millisecond

	done := make(chan struct{})
	go func() {
		d.runBacklog(context.Background())
		close(done)
	}()

	var got []store.Repo
	for i := 0; i < 3; i++ {
		select {
		case r := <-d.ch:
			got = append(got, r)
		case <-time.After(2 * time.Second):
			t.Fatalf("received only %d records", len(got))
		}
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("backlog scanner did not exit after the empty scan")
	}

	if got[0].ID != "repo:1" || got[2].FullName != "octo/three" {
		t.Fatalf("records out of order: %+v", got)
	}
}

func TestBacklogRecoversFromScanErrors(t *testing.T) {
	h := newHarness(t)

	var scans atomic.Int32
	h.fake.respond = func(sql string, vars map[string]any) (any, error) {
		if !strings.Contains(sql, "embedding IS NONE") {
			return nil, nil
		}
		switch scans.Add(1) {
		case 1:
			return nil, errInjected
		case 2:
			return []map[string]any{repoRow("repo:1", "octo/one")}, nil
		default:
			return []map[string]any{}, nil
		}
	}

	d := fastDiscovery(h, 8)
	done := make(chan struct{})
	go func() {
		d.runBacklog(context.Background())
		close(done)
	}()

	select {
	case r := <-d.ch:
		if r.ID != "repo:1" {
			t.Fatalf("got %s", r.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("scanner never recovered from the failed scan")
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scanner did not exit")
	}
}

func TestPollerDeduplicatesRecords(t *testing.T) {
	h := newHarness(t)

	h.fake.respond = func(sql string, vars map[string]any) (any, error) {
		if !strings.Contains(sql, "embedding IS NONE") {
			return nil, nil
		}
		// Every poll reports the same record.
		return []map[string]any{repoRow("repo:1", "octo/one")}, nil
	}

	d := fastDiscovery(h, 8)
	go d.runPoller(context.Background())

	select {
	case r := <-d.ch:
		if r.ID != "repo:1" {
			t.Fatalf("got %s", r.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("poller never surfaced the record")
	}

	// The seen set must suppress re-enqueues on subsequent polls.
	select {
	case r := <-d.ch:
		t.Fatalf("duplicate enqueue of %s", r.ID)
	case <-time.After(100 * time.Millisecond):
	}

	h.ctrl.Shutdown()
}

func TestChannelClosesAfterProducersExit(t *testing.T) {
	h := newHarness(t)
	h.fake.respond = func(sql string, vars map[string]any) (any, error) {
		return []map[string]any{}, nil
	}

	d := fastDiscovery(h, 8)
	d.Start(context.Background())

	h.ctrl.Shutdown()

	select {
	case _, ok := <-d.Channel():
		if ok {
			t.Fatal("expected closed channel, got a record")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel never closed after shutdown")
	}

	if !h.ctrl.Wait(2 * time.Second) {
		t.Fatal("producers did not announce exit")
	}
}

func TestEnqueueYieldsToShutdown(t *testing.T) {
	h := newHarness(t)
	d := fastDiscovery(h, 1)

	if !d.enqueue(testRepo(1)) {
		t.Fatal("enqueue into free buffer should succeed")
	}

	// Buffer full; a shutdown must unblock the pending send.
	result := make(chan bool, 1)
	go func() { result <- d.enqueue(testRepo(2)) }()

	time.Sleep(20 * time.Millisecond)
	h.ctrl.Shutdown()

	select {
	case ok := <-result:
		if ok {
			t.Fatal("enqueue should report shutdown, not success")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("enqueue stayed blocked through shutdown")
	}
}
